// Package ingest implements the per-event idempotent ingestion pipeline:
// schema and scope validation, skew clamping, atomic event append plus
// latest-decision recomputation.
//
// This package defines the Store interface it needs for persistence,
// without depending on a concrete implementation — the Dependency
// Inversion pattern also used by internal/query and internal/export.
// Concrete implementations live in internal/storage.
package ingest

import (
	"context"

	"github.com/rossant/triagedeck/internal/storage"
)

// Store is the persistence contract the ingest engine depends on.
type Store interface {
	// ItemExists reports whether itemID belongs to projectID and is not
	// soft-deleted (spec §4.4 step 2, invariant I8).
	ItemExists(ctx context.Context, projectID, itemID string) (bool, error)

	// ActiveDecisionSchema returns the project's current decision schema,
	// used to validate decision_id and the allow_notes gate.
	ActiveDecisionSchema(ctx context.Context, projectID string) (storage.DecisionSchema, error)

	// ApplyEvent is the single atomic unit from spec §4.2: it checks
	// idempotency on (project_id, user_id, event_id); if new, appends the
	// event and recomputes decision_latest for (project_id, user_id,
	// item_id) in the same transaction using DecisionEvent.Outranks.
	ApplyEvent(ctx context.Context, event storage.DecisionEvent) (storage.ApplyOutcome, error)
}
