package storage

import (
	"context"
	"encoding/json"
	"fmt"
)

// ItemExists reports whether itemID belongs to projectID and is not
// soft-deleted (spec §4.4 step 2, invariant I8).
func (s *PostgresStore) ItemExists(ctx context.Context, projectID, itemID string) (bool, error) {
	const q = `
		SELECT EXISTS(
			SELECT 1 FROM items
			WHERE id = $1 AND project_id = $2 AND deleted_at IS NULL
		)
	`

	var exists bool
	if err := s.conn.QueryRowContext(ctx, q, itemID, projectID).Scan(&exists); err != nil {
		return false, fmt.Errorf("storage: check item exists: %w", err)
	}

	return exists, nil
}

// ListItems returns a page of items ordered (sort_key ASC, item_id ASC),
// with each item's variants eager-loaded in the same order the teacher
// loads a job run's lineage edges: one follow-up query per parent page,
// not one per row.
func (s *PostgresStore) ListItems(ctx context.Context, projectID string, after *Cursor, limit int) ([]Item, string, error) {
	q := `
		SELECT id, project_id, external_id, media_type, logical_uri, sort_key, metadata, deleted_at
		FROM items
		WHERE project_id = $1 AND deleted_at IS NULL
	`
	args := []any{projectID}

	if after != nil {
		q += ` AND (sort_key, id) > ($2, $3)`
		args = append(args, after.SortKey, after.ItemID)
	}

	q += ` ORDER BY sort_key ASC, id ASC LIMIT ` + limitPlaceholder(len(args)+1)
	args = append(args, limit)

	rows, err := s.conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, "", fmt.Errorf("storage: list items: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var items []Item

	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, "", fmt.Errorf("storage: scan item: %w", err)
		}

		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, "", fmt.Errorf("storage: iterate items: %w", err)
	}

	if err := s.hydrateVariants(ctx, items); err != nil {
		return nil, "", err
	}

	return items, "", nil
}

// GetItem returns a single non-deleted item with its variants hydrated.
func (s *PostgresStore) GetItem(ctx context.Context, projectID, itemID string) (Item, bool, error) {
	const q = `
		SELECT id, project_id, external_id, media_type, logical_uri, sort_key, metadata, deleted_at
		FROM items
		WHERE id = $1 AND project_id = $2 AND deleted_at IS NULL
	`

	item, err := scanItem(s.conn.QueryRowContext(ctx, q, itemID, projectID))
	if err != nil {
		if isNoRows(err) {
			return Item{}, false, nil
		}

		return Item{}, false, fmt.Errorf("storage: get item: %w", err)
	}

	items := []Item{item}
	if err := s.hydrateVariants(ctx, items); err != nil {
		return Item{}, false, err
	}

	return items[0], true, nil
}

func (s *PostgresStore) hydrateVariants(ctx context.Context, items []Item) error {
	if len(items) == 0 {
		return nil
	}

	ids := make([]string, len(items))
	byID := make(map[string]int, len(items))

	for i, item := range items {
		ids[i] = item.ID
		byID[item.ID] = i
	}

	const q = `
		SELECT item_id, variant_key, label, logical_uri, sort_order, metadata
		FROM item_variants
		WHERE item_id = ANY($1)
		ORDER BY sort_order ASC, variant_key ASC
	`

	rows, err := s.conn.QueryContext(ctx, q, pqStringArray(ids))
	if err != nil {
		return fmt.Errorf("storage: list item variants: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			variant      ItemVariant
			metadataJSON []byte
		)

		if err := rows.Scan(
			&variant.ItemID,
			&variant.VariantKey,
			&variant.Label,
			&variant.LogicalURI,
			&variant.SortOrder,
			&metadataJSON,
		); err != nil {
			return fmt.Errorf("storage: scan item variant: %w", err)
		}

		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &variant.Metadata); err != nil {
				return fmt.Errorf("storage: decode variant metadata: %w", err)
			}
		}

		idx, ok := byID[variant.ItemID]
		if !ok {
			continue
		}

		items[idx].Variants = append(items[idx].Variants, variant)
	}

	return rows.Err()
}

func scanItem(row rowScanner) (Item, error) {
	var (
		item         Item
		metadataJSON []byte
	)

	if err := row.Scan(
		&item.ID,
		&item.ProjectID,
		&item.ExternalID,
		&item.MediaType,
		&item.LogicalURI,
		&item.SortKey,
		&metadataJSON,
		&item.DeletedAt,
	); err != nil {
		return Item{}, err
	}

	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &item.Metadata); err != nil {
			return Item{}, fmt.Errorf("decode metadata: %w", err)
		}
	}

	return item, nil
}
