package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// ExportRow is one row selected for an export dataset: the decision
// schema's current winner for an item, or an unlabeled item when the job's
// mode is labels_plus_unlabeled. Defined here (rather than in
// internal/export, which is the package that actually consumes it) so
// SnapshotRows's return type doesn't force storage to import export;
// export.ExportRow is a type alias onto this definition.
type ExportRow struct {
	ItemID     string
	UserID     string
	DecisionID string
	Note       string
	TSClient   int64
	TSServer   int64
	LogicalURI string
	ExternalID string
	Metadata   map[string]any
	HasLabel   bool
}

// RowIterator yields ExportRows one at a time. Next returns ok=false once
// the stream is exhausted; Close releases the underlying cursor and must
// be called even after Next returns an error.
type RowIterator interface {
	Next(ctx context.Context) (row ExportRow, ok bool, err error)
	Close() error
}

// ManifestJSON renders m with alphabetically sorted keys (spec §4.7 step
// 6: "Manifest JSON keys are sorted alphabetically so it too hashes
// stably"). encoding/json sorts map[string]any keys automatically, so
// the manifest is round-tripped through a map rather than marshaled
// directly off the struct (which would preserve Go declaration order).
func ManifestJSON(m ExportManifest) ([]byte, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}

	var asMap map[string]any
	if err := json.Unmarshal(raw, &asMap); err != nil {
		return nil, err
	}

	return json.Marshal(asMap)
}

// CountActiveJobsByRequester counts requester's queued+running jobs in
// projectID, backing the per-user concurrency cap (spec §4.6 step 4).
func (s *PostgresStore) CountActiveJobsByRequester(ctx context.Context, projectID, requester string) (int, error) {
	const q = `
		SELECT COUNT(*) FROM export_jobs
		WHERE project_id = $1 AND requester = $2 AND status IN ('queued', 'running')
	`

	var count int
	if err := s.conn.QueryRowContext(ctx, q, projectID, requester).Scan(&count); err != nil {
		return 0, fmt.Errorf("storage: count active export jobs: %w", err)
	}

	return count, nil
}

// CreateExportJob persists a queued job and returns it with its assigned
// ID and created_at.
func (s *PostgresStore) CreateExportJob(ctx context.Context, job ExportJob) (ExportJob, error) {
	filtersJSON, err := json.Marshal(job.Filters)
	if err != nil {
		return ExportJob{}, fmt.Errorf("storage: marshal filters: %w", err)
	}

	fieldsJSON, err := json.Marshal(job.IncludeFields)
	if err != nil {
		return ExportJob{}, fmt.Errorf("storage: marshal include_fields: %w", err)
	}

	const q = `
		INSERT INTO export_jobs (
			id, project_id, requester, status, mode, label_policy, format,
			filters, include_fields, created_at
		) VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6, $7, $8, NOW())
		RETURNING id, created_at
	`

	if err := s.conn.QueryRowContext(ctx, q,
		job.ProjectID, job.Requester, ExportQueued, job.Mode, job.LabelPolicy, job.Format,
		filtersJSON, fieldsJSON,
	).Scan(&job.ID, &job.CreatedAt); err != nil {
		return ExportJob{}, fmt.Errorf("storage: insert export job: %w", err)
	}

	job.Status = ExportQueued

	return job, nil
}

// GetExportJob returns a single job by ID, scoped to projectID.
func (s *PostgresStore) GetExportJob(ctx context.Context, projectID, exportID string) (ExportJob, bool, error) {
	job, err := scanExportJob(s.conn.QueryRowContext(ctx, selectExportJob+` AND project_id = $2`, exportID, projectID))
	if err != nil {
		if isNoRows(err) {
			return ExportJob{}, false, nil
		}

		return ExportJob{}, false, fmt.Errorf("storage: get export job: %w", err)
	}

	return job, true, nil
}

// CancelExportJob transitions a queued or running job to
// failed(export_cancelled). Returns ok=false if the job is no longer in
// a cancellable state, letting the controller distinguish a lost race
// from a genuine not-found.
func (s *PostgresStore) CancelExportJob(ctx context.Context, projectID, exportID string) (ExportJob, bool, error) {
	const q = `
		UPDATE export_jobs
		SET status = 'failed', error_code = 'export_cancelled', completed_at = NOW()
		WHERE id = $1 AND project_id = $2 AND status IN ('queued', 'running')
	`

	result, err := s.conn.ExecContext(ctx, q, exportID, projectID)
	if err != nil {
		return ExportJob{}, false, fmt.Errorf("storage: cancel export job: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return ExportJob{}, false, fmt.Errorf("storage: rows affected: %w", err)
	}

	if affected == 0 {
		return ExportJob{}, false, nil
	}

	job, ok, err := s.GetExportJob(ctx, projectID, exportID)
	if err != nil || !ok {
		return ExportJob{}, false, err
	}

	return job, true, nil
}

// ClaimNextExportJob atomically takes one queued job and marks it
// running, using SKIP LOCKED so multiple worker processes never claim
// the same row.
func (s *PostgresStore) ClaimNextExportJob(ctx context.Context) (ExportJob, bool, error) {
	const q = `
		UPDATE export_jobs
		SET status = 'running'
		WHERE id = (
			SELECT id FROM export_jobs
			WHERE status = 'queued'
			ORDER BY created_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING ` + exportJobColumns

	job, err := scanExportJob(s.conn.QueryRowContext(ctx, q))
	if err != nil {
		if isNoRows(err) {
			return ExportJob{}, false, nil
		}

		return ExportJob{}, false, fmt.Errorf("storage: claim export job: %w", err)
	}

	return job, true, nil
}

// MarkExportRunning records snapshot_at for a claimed job. ClaimNextExportJob
// already moved status to running; this only timestamps the snapshot.
func (s *PostgresStore) MarkExportRunning(ctx context.Context, exportID string, snapshotAt time.Time) error {
	const q = `UPDATE export_jobs SET snapshot_at = $1 WHERE id = $2`

	if _, err := s.conn.ExecContext(ctx, q, snapshotAt, exportID); err != nil {
		return fmt.Errorf("storage: mark export running: %w", err)
	}

	return nil
}

// MarkExportReady publishes the manifest and file URI and transitions the
// job to ready.
func (s *PostgresStore) MarkExportReady(
	ctx context.Context,
	exportID string,
	manifest ExportManifest,
	fileURI string,
	expiresAt time.Time,
) error {
	manifestJSON, err := ManifestJSON(manifest)
	if err != nil {
		return fmt.Errorf("storage: marshal manifest: %w", err)
	}

	const q = `
		UPDATE export_jobs
		SET status = 'ready', manifest = $1, file_uri = $2, expires_at = $3, completed_at = NOW()
		WHERE id = $4
	`

	if _, err := s.conn.ExecContext(ctx, q, manifestJSON, fileURI, expiresAt, exportID); err != nil {
		return fmt.Errorf("storage: mark export ready: %w", err)
	}

	return nil
}

// MarkExportFailed transitions a job to failed with errorCode. It is a
// no-op, not an error, if the job already left running — the worker
// calls it unconditionally after detecting a cancellation race.
func (s *PostgresStore) MarkExportFailed(ctx context.Context, exportID, errorCode string) error {
	const q = `
		UPDATE export_jobs
		SET status = 'failed', error_code = $1, completed_at = NOW()
		WHERE id = $2 AND status = 'running'
	`

	if _, err := s.conn.ExecContext(ctx, q, errorCode, exportID); err != nil {
		return fmt.Errorf("storage: mark export failed: %w", err)
	}

	return nil
}

// JobStatus re-reads a job's status, used by the worker to detect a
// cancellation race at chunk boundaries without loading the whole row.
func (s *PostgresStore) JobStatus(ctx context.Context, exportID string) (ExportStatus, error) {
	const q = `SELECT status FROM export_jobs WHERE id = $1`

	var status ExportStatus
	if err := s.conn.QueryRowContext(ctx, q, exportID).Scan(&status); err != nil {
		if isNoRows(err) {
			return "", ErrNotFound
		}

		return "", fmt.Errorf("storage: load export job status: %w", err)
	}

	return status, nil
}

// ExpireReadyJobs marks ready jobs whose expires_at has passed as
// expired, returning how many were updated. This is the only
// transition the sweeper performs.
func (s *PostgresStore) ExpireReadyJobs(ctx context.Context, now time.Time) (int, error) {
	const q = `
		UPDATE export_jobs
		SET status = 'expired'
		WHERE status = 'ready' AND expires_at < $1
	`

	result, err := s.conn.ExecContext(ctx, q, now)
	if err != nil {
		return 0, fmt.Errorf("storage: expire ready export jobs: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("storage: rows affected: %w", err)
	}

	return int(affected), nil
}

// ListExportJobs returns a page of jobs visibleTo reports true for,
// ordered (created_at DESC, id DESC).
func (s *PostgresStore) ListExportJobs(
	ctx context.Context,
	projectID string,
	visibleTo func(requester string) bool,
	after *Cursor,
	limit int,
) ([]ExportJob, string, error) {
	q := `SELECT ` + exportJobColumns + ` FROM export_jobs WHERE project_id = $1`
	args := []any{projectID}

	if after != nil {
		q += ` AND (created_at, id) < ($2, $3)`
		args = append(args, time.UnixMilli(after.CreatedAtMS), after.ID)
	}

	q += ` ORDER BY created_at DESC, id DESC LIMIT ` + limitPlaceholder(len(args)+1)
	args = append(args, limit)

	rows, err := s.conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, "", fmt.Errorf("storage: list export jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var jobs []ExportJob

	for rows.Next() {
		job, err := scanExportJob(rows)
		if err != nil {
			return nil, "", fmt.Errorf("storage: scan export job: %w", err)
		}

		if visibleTo != nil && !visibleTo(job.Requester) {
			continue
		}

		jobs = append(jobs, job)
	}

	if err := rows.Err(); err != nil {
		return nil, "", fmt.Errorf("storage: iterate export jobs: %w", err)
	}

	return jobs, "", nil
}

const exportJobColumns = `
	id, project_id, requester, status, mode, label_policy, format,
	filters, include_fields, manifest, file_uri, error_code, expires_at,
	created_at, completed_at
`

const selectExportJob = `SELECT ` + exportJobColumns + ` FROM export_jobs WHERE id = $1`

func scanExportJob(row rowScanner) (ExportJob, error) {
	var (
		job          ExportJob
		filtersJSON  []byte
		fieldsJSON   []byte
		manifestJSON sql.NullString
		fileURI      sql.NullString
		errorCode    sql.NullString
		expiresAt    sql.NullTime
		completedAt  sql.NullTime
	)

	if err := row.Scan(
		&job.ID, &job.ProjectID, &job.Requester, &job.Status, &job.Mode, &job.LabelPolicy, &job.Format,
		&filtersJSON, &fieldsJSON, &manifestJSON, &fileURI, &errorCode, &expiresAt,
		&job.CreatedAt, &completedAt,
	); err != nil {
		return ExportJob{}, err
	}

	if len(filtersJSON) > 0 {
		if err := json.Unmarshal(filtersJSON, &job.Filters); err != nil {
			return ExportJob{}, fmt.Errorf("decode filters: %w", err)
		}
	}

	if len(fieldsJSON) > 0 {
		if err := json.Unmarshal(fieldsJSON, &job.IncludeFields); err != nil {
			return ExportJob{}, fmt.Errorf("decode include_fields: %w", err)
		}
	}

	if manifestJSON.Valid {
		var m ExportManifest
		if err := json.Unmarshal([]byte(manifestJSON.String), &m); err != nil {
			return ExportJob{}, fmt.Errorf("decode manifest: %w", err)
		}

		job.Manifest = &m
	}

	job.FileURI = fileURI.String
	job.ErrorCode = errorCode.String

	if expiresAt.Valid {
		job.ExpiresAt = &expiresAt.Time
	}

	if completedAt.Valid {
		job.CompletedAt = &completedAt.Time
	}

	return job, nil
}

// exportRowIterator streams SnapshotRows results from a *sql.Rows,
// decoding each row's metadata JSONB lazily as it is consumed.
type exportRowIterator struct {
	rows *sql.Rows
}

func (it *exportRowIterator) Next(_ context.Context) (ExportRow, bool, error) {
	if !it.rows.Next() {
		return ExportRow{}, false, it.rows.Err()
	}

	var (
		row          ExportRow
		metadataJSON []byte
		decisionID   sql.NullString
		note         sql.NullString
		userID       sql.NullString
		tsClient     sql.NullInt64
		tsServer     sql.NullInt64
	)

	if err := it.rows.Scan(
		&row.ItemID, &row.LogicalURI, &row.ExternalID, &metadataJSON,
		&userID, &decisionID, &note, &tsClient, &tsServer,
	); err != nil {
		return ExportRow{}, false, fmt.Errorf("storage: scan export row: %w", err)
	}

	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &row.Metadata); err != nil {
			return ExportRow{}, false, fmt.Errorf("storage: decode export row metadata: %w", err)
		}
	}

	row.UserID = userID.String
	row.DecisionID = decisionID.String
	row.Note = note.String
	row.TSClient = tsClient.Int64
	row.TSServer = tsServer.Int64
	row.HasLabel = decisionID.Valid

	return row, true, nil
}

func (it *exportRowIterator) Close() error {
	return it.rows.Close()
}

// SnapshotRows streams the rows backing an export at snapshotAt, joining
// items to their decision_latest winner. labels_only inner-joins (items
// without a decision are excluded); labels_plus_unlabeled left-joins so
// every non-deleted item appears, with HasLabel=false for the rest.
func (s *PostgresStore) SnapshotRows(ctx context.Context, job ExportJob, snapshotAt time.Time) (RowIterator, error) {
	join := "LEFT JOIN"
	if job.Mode == ExportLabelsOnly {
		join = "INNER JOIN"
	}

	q := fmt.Sprintf(`
		SELECT i.id, i.logical_uri, i.external_id, i.metadata,
		       d.user_id, d.decision_id, d.note, d.ts_client, d.ts_server
		FROM items i
		%s decision_latest d
			ON d.project_id = i.project_id AND d.item_id = i.id AND d.ts_server <= $2
		WHERE i.project_id = $1 AND i.deleted_at IS NULL
	`, join)

	args := []any{job.ProjectID, snapshotAt.UnixMilli()}
	args = appendExportFilters(&q, args, job.Filters)

	q += ` ORDER BY d.ts_server ASC, i.id ASC, d.user_id ASC`

	rows, err := s.conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: snapshot export rows: %w", err)
	}

	return &exportRowIterator{rows: rows}, nil
}

// appendExportFilters extends q's WHERE clause with the export's
// filters (spec §9(c): metadata filters are equality-only) and returns
// the updated argument list.
func appendExportFilters(q *string, args []any, filters ExportFilters) []any {
	if len(filters.DecisionIDs) > 0 {
		args = append(args, pq.StringArray(filters.DecisionIDs))
		*q += fmt.Sprintf(" AND d.decision_id = ANY($%d)", len(args))
	}

	if filters.FromTS != nil {
		args = append(args, *filters.FromTS)
		*q += fmt.Sprintf(" AND d.ts_server >= $%d", len(args))
	}

	if filters.ToTS != nil {
		args = append(args, *filters.ToTS)
		*q += fmt.Sprintf(" AND d.ts_server <= $%d", len(args))
	}

	if len(filters.UserIDs) > 0 {
		args = append(args, pq.StringArray(filters.UserIDs))
		*q += fmt.Sprintf(" AND d.user_id = ANY($%d)", len(args))
	}

	for key, value := range filters.Metadata {
		args = append(args, key, value)
		*q += fmt.Sprintf(" AND i.metadata->>$%d = $%d", len(args)-1, len(args))
	}

	return args
}
