package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rossant/triagedeck/internal/cursor"
	"github.com/rossant/triagedeck/internal/resolver"
	"github.com/rossant/triagedeck/internal/storage"
)

const (
	itemsDefaultLimit     = 100
	itemsMaxLimit         = 200
	decisionsDefaultLimit = 500
	decisionsMaxLimit     = 2000
	exportsDefaultLimit   = 50
	exportsMaxLimit       = 100
)

// ErrVariantNotFound is returned by ItemURL when variant_key does not
// name an existing variant on the item.
var ErrVariantNotFound = errors.New("query: variant not found")

// Engine serves cursor-paged reads and URL refreshes.
type Engine struct {
	store    Store
	cursors  *cursor.Codec
	resolver resolver.Resolver
}

// New returns an Engine backed by store, using codec to encode/decode
// pagination cursors and res to refresh media URLs.
func New(store Store, codec *cursor.Codec, res resolver.Resolver) *Engine {
	return &Engine{store: store, cursors: codec, resolver: res}
}

// clampLimit returns requested clamped to (0, max], substituting
// defaultLimit when requested is zero or negative.
func clampLimit(requested, defaultLimit, max int) int {
	if requested <= 0 {
		return defaultLimit
	}

	if requested > max {
		return max
	}

	return requested
}

// ListProjects returns the projects visibleTo reports true for.
func (e *Engine) ListProjects(ctx context.Context, visibleTo func(string) bool) ([]storage.Project, error) {
	return e.store.ListProjects(ctx, visibleTo)
}

// GetProject returns a single project, or ok=false if missing/soft-deleted.
func (e *Engine) GetProject(ctx context.Context, projectID string) (storage.Project, bool, error) {
	return e.store.GetProject(ctx, projectID)
}

// ListItems returns a page of items ordered (sort_key, item_id).
func (e *Engine) ListItems(ctx context.Context, projectID, rawCursor string, limit int) ([]storage.Item, string, error) {
	limit = clampLimit(limit, itemsDefaultLimit, itemsMaxLimit)

	after, err := e.decodeCursor(cursor.ViewItems, rawCursor)
	if err != nil {
		return nil, "", err
	}

	items, nextKey, err := e.store.ListItems(ctx, projectID, after, limit)
	if err != nil {
		return nil, "", fmt.Errorf("query: list items: %w", err)
	}

	return items, nextKey, nil
}

// GetItem hydrates a single item by ID.
func (e *Engine) GetItem(ctx context.Context, projectID, itemID string) (storage.Item, bool, error) {
	return e.store.GetItem(ctx, projectID, itemID)
}

// ItemURL refreshes the browser-usable URL for an item, or for one of
// its variants when variantKey is non-empty.
func (e *Engine) ItemURL(ctx context.Context, projectID, itemID, variantKey string, ttl time.Duration) (string, *time.Time, error) {
	item, ok, err := e.store.GetItem(ctx, projectID, itemID)
	if err != nil {
		return "", nil, err
	}

	if !ok {
		return "", nil, ErrVariantNotFound
	}

	logicalURI := item.LogicalURI

	if variantKey != "" {
		found := false

		for _, v := range item.Variants {
			if v.VariantKey == variantKey {
				logicalURI = v.LogicalURI
				found = true

				break
			}
		}

		if !found {
			return "", nil, ErrVariantNotFound
		}
	}

	return e.resolver.Resolve(ctx, logicalURI, ttl)
}

// ListLatestDecisions returns a page of the caller's latest decisions,
// ordered (ts_server, item_id).
func (e *Engine) ListLatestDecisions(ctx context.Context, projectID, userID, rawCursor string, limit int) ([]storage.DecisionLatest, string, error) {
	limit = clampLimit(limit, decisionsDefaultLimit, decisionsMaxLimit)

	after, err := e.decodeCursor(cursor.ViewDecisions, rawCursor)
	if err != nil {
		return nil, "", err
	}

	decisions, nextKey, err := e.store.ListLatestDecisions(ctx, projectID, userID, after, limit)
	if err != nil {
		return nil, "", fmt.Errorf("query: list decisions: %w", err)
	}

	return decisions, nextKey, nil
}

// ListExportJobs returns a page of export jobs visibleTo reports true
// for, ordered (created_at DESC, id DESC).
func (e *Engine) ListExportJobs(ctx context.Context, projectID, rawCursor string, limit int, visibleTo func(string) bool) ([]storage.ExportJob, string, error) {
	limit = clampLimit(limit, exportsDefaultLimit, exportsMaxLimit)

	after, err := e.decodeCursor(cursor.ViewExports, rawCursor)
	if err != nil {
		return nil, "", err
	}

	jobs, nextKey, err := e.store.ListExportJobs(ctx, projectID, visibleTo, after, limit)
	if err != nil {
		return nil, "", fmt.Errorf("query: list export jobs: %w", err)
	}

	return jobs, nextKey, nil
}

// GetExportJob returns a single export job.
func (e *Engine) GetExportJob(ctx context.Context, projectID, exportID string) (storage.ExportJob, bool, error) {
	return e.store.GetExportJob(ctx, projectID, exportID)
}

func (e *Engine) decodeCursor(view cursor.View, raw string) (*Cursor, error) {
	if raw == "" {
		return nil, nil
	}

	key, err := e.cursors.Decode(view, raw)
	if err != nil {
		return nil, err
	}

	return &Cursor{
		SortKey:     key.SortKey,
		ItemID:      key.ItemID,
		TSServer:    key.TSServer,
		CreatedAtMS: key.CreatedAtMS,
		ID:          key.ID,
	}, nil
}

// EncodeItemsCursor encodes the next-page position for the items view.
func (e *Engine) EncodeItemsCursor(sortKey, itemID string) (string, error) {
	return e.cursors.Encode(cursor.ViewItems, cursor.Key{SortKey: sortKey, ItemID: itemID})
}

// EncodeDecisionsCursor encodes the next-page position for the decisions view.
func (e *Engine) EncodeDecisionsCursor(tsServer int64, itemID string) (string, error) {
	return e.cursors.Encode(cursor.ViewDecisions, cursor.Key{TSServer: tsServer, ItemID: itemID})
}

// EncodeExportsCursor encodes the next-page position for the exports view.
func (e *Engine) EncodeExportsCursor(createdAtMS int64, id string) (string, error) {
	return e.cursors.Encode(cursor.ViewExports, cursor.Key{CreatedAtMS: createdAtMS, ID: id})
}
