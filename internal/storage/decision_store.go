package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// ApplyEvent is the single atomic unit of spec §4.4: idempotent append
// plus total-order recomputation of decision_latest, both inside one
// transaction. Grounded on the teacher's StoreEvent/upsertJobRun
// shape — idempotency check, row-locked read of the incumbent,
// conditional upsert, commit.
func (s *PostgresStore) ApplyEvent(ctx context.Context, event DecisionEvent) (ApplyOutcome, error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("storage: begin apply_event tx: %w", err)
	}

	defer func() {
		_ = tx.Rollback() // safe to call even after commit
	}()

	const insertEvent = `
		INSERT INTO decision_events (
			id, project_id, user_id, event_id, item_id, decision_id, note,
			ts_client, ts_client_effective, ts_server
		) VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (project_id, user_id, event_id) DO NOTHING
	`

	result, err := tx.ExecContext(ctx, insertEvent,
		event.ProjectID, event.UserID, event.EventID, event.ItemID,
		event.DecisionID, event.Note, event.TSClient, event.TSClientEffective, event.TSServer,
	)
	if err != nil {
		return "", fmt.Errorf("storage: insert decision event: %w", err)
	}

	inserted, err := result.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("storage: rows affected: %w", err)
	}

	if inserted == 0 {
		// Idempotent replay: the (project_id, user_id, event_id) triple
		// was already recorded. No recomputation needed.
		return OutcomeDuplicate, nil
	}

	incumbent, err := lockLatest(ctx, tx, event.ProjectID, event.UserID, event.ItemID)
	if err != nil {
		return "", fmt.Errorf("storage: lock decision_latest: %w", err)
	}

	if event.Outranks(incumbent) {
		const upsertLatest = `
			INSERT INTO decision_latest (
				project_id, user_id, item_id, event_id, decision_id, note,
				ts_client, ts_client_effective, ts_server
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (project_id, user_id, item_id) DO UPDATE SET
				event_id = EXCLUDED.event_id,
				decision_id = EXCLUDED.decision_id,
				note = EXCLUDED.note,
				ts_client = EXCLUDED.ts_client,
				ts_client_effective = EXCLUDED.ts_client_effective,
				ts_server = EXCLUDED.ts_server
		`

		if _, err := tx.ExecContext(ctx, upsertLatest,
			event.ProjectID, event.UserID, event.ItemID, event.EventID,
			event.DecisionID, event.Note, event.TSClient, event.TSClientEffective, event.TSServer,
		); err != nil {
			return "", fmt.Errorf("storage: upsert decision_latest: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("storage: commit apply_event: %w", err)
	}

	return OutcomeAccepted, nil
}

// lockLatest reads the current decision_latest winner for (project, user,
// item) with FOR UPDATE, so two concurrent ApplyEvent calls racing on the
// same item serialize instead of both reading a stale incumbent.
func lockLatest(ctx context.Context, tx *sql.Tx, projectID, userID, itemID string) (*DecisionLatest, error) {
	const q = `
		SELECT project_id, user_id, item_id, event_id, decision_id, note,
		       ts_client, ts_client_effective, ts_server
		FROM decision_latest
		WHERE project_id = $1 AND user_id = $2 AND item_id = $3
		FOR UPDATE
	`

	var latest DecisionLatest

	err := tx.QueryRowContext(ctx, q, projectID, userID, itemID).Scan(
		&latest.ProjectID, &latest.UserID, &latest.ItemID, &latest.EventID, &latest.DecisionID,
		&latest.Note, &latest.TSClient, &latest.TSClientEffective, &latest.TSServer,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}

		return nil, err
	}

	return &latest, nil
}

// ListLatestDecisions returns a page of userID's latest decisions within
// projectID, ordered (ts_server ASC, item_id ASC).
func (s *PostgresStore) ListLatestDecisions(
	ctx context.Context,
	projectID, userID string,
	after *Cursor,
	limit int,
) ([]DecisionLatest, string, error) {
	q := `
		SELECT project_id, user_id, item_id, event_id, decision_id, note,
		       ts_client, ts_client_effective, ts_server
		FROM decision_latest
		WHERE project_id = $1 AND user_id = $2
		  AND item_id IN (SELECT id FROM items WHERE deleted_at IS NULL)
	`
	args := []any{projectID, userID}

	if after != nil {
		q += ` AND (ts_server, item_id) > ($3, $4)`
		args = append(args, after.TSServer, after.ItemID)
	}

	q += ` ORDER BY ts_server ASC, item_id ASC LIMIT ` + limitPlaceholder(len(args)+1)
	args = append(args, limit)

	rows, err := s.conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, "", fmt.Errorf("storage: list latest decisions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var decisions []DecisionLatest

	for rows.Next() {
		var d DecisionLatest

		if err := rows.Scan(
			&d.ProjectID, &d.UserID, &d.ItemID, &d.EventID, &d.DecisionID,
			&d.Note, &d.TSClient, &d.TSClientEffective, &d.TSServer,
		); err != nil {
			return nil, "", fmt.Errorf("storage: scan decision_latest: %w", err)
		}

		decisions = append(decisions, d)
	}

	if err := rows.Err(); err != nil {
		return nil, "", fmt.Errorf("storage: iterate decision_latest: %w", err)
	}

	return decisions, "", nil
}
