// Package query implements cursor-paged reads over items, decisions, and
// export jobs. Like internal/ingest, it defines the Store interface it
// needs and leaves implementation to internal/storage.
package query

import (
	"context"

	"github.com/rossant/triagedeck/internal/storage"
)

// Store is the read-side persistence contract. All methods exclude
// soft-deleted entities (spec I7) and never take a shortcut around that
// predicate.
type Store interface {
	ListProjects(ctx context.Context, visibleTo func(projectID string) bool) ([]storage.Project, error)
	GetProject(ctx context.Context, projectID string) (storage.Project, bool, error)

	ListItems(ctx context.Context, projectID string, after *Cursor, limit int) ([]storage.Item, string, error)
	GetItem(ctx context.Context, projectID, itemID string) (storage.Item, bool, error)

	ListLatestDecisions(ctx context.Context, projectID, userID string, after *Cursor, limit int) ([]storage.DecisionLatest, string, error)

	ListExportJobs(ctx context.Context, projectID string, visibleTo func(requester string) bool, after *Cursor, limit int) ([]storage.ExportJob, string, error)
	GetExportJob(ctx context.Context, projectID, exportID string) (storage.ExportJob, bool, error)
}

// Cursor is a decoded pagination position, produced by internal/cursor
// and reinterpreted per view by the store implementation. The type itself
// is defined in internal/storage (storage.Cursor) so that storage's own
// ListItems/ListLatestDecisions/ListExportJobs signatures don't have to
// import this package back; Cursor is an alias onto that definition so
// every existing reference in this package keeps working unchanged.
type Cursor = storage.Cursor
