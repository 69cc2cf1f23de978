// Package export implements export-job admission (Controller) and the
// background pipeline that snapshots, serializes, hashes, and publishes
// dataset artifacts (Worker).
package export

import (
	"context"
	"time"

	"github.com/rossant/triagedeck/internal/storage"
)

// Store is the persistence contract the controller and worker depend on.
type Store interface {
	// CountActiveJobsByRequester counts queued+running jobs by requester
	// in projectID, for the per-user concurrency cap.
	CountActiveJobsByRequester(ctx context.Context, projectID, requester string) (int, error)

	CreateExportJob(ctx context.Context, job storage.ExportJob) (storage.ExportJob, error)
	GetExportJob(ctx context.Context, projectID, exportID string) (storage.ExportJob, bool, error)

	// CancelExportJob transitions a queued or running job to failed with
	// error_code=export_cancelled. Returns ok=false if the job is not in
	// a cancellable state (the caller distinguishes ready vs already
	// terminal to pick the right HTTP response).
	CancelExportJob(ctx context.Context, projectID, exportID string) (storage.ExportJob, bool, error)

	// ClaimNextExportJob atomically transitions one queued job to
	// running and returns it, or ok=false if none are queued.
	ClaimNextExportJob(ctx context.Context) (storage.ExportJob, bool, error)

	// SnapshotRows streams the rows backing an export at snapshotAt,
	// already filtered and ordered (ts_server ASC, item_id ASC, user_id
	// ASC). The returned iterator yields rows one at a time and reports
	// ok=false when exhausted.
	SnapshotRows(ctx context.Context, job storage.ExportJob, snapshotAt time.Time) (RowIterator, error)

	// MarkExportRunning records snapshot_at for a claimed job.
	MarkExportRunning(ctx context.Context, exportID string, snapshotAt time.Time) error

	// MarkExportReady publishes manifest/file_uri and transitions to ready.
	MarkExportReady(ctx context.Context, exportID string, manifest storage.ExportManifest, fileURI string, expiresAt time.Time) error

	// MarkExportFailed transitions a job to failed with errorCode. It is
	// a no-op (not an error) if the job has already left running, so the
	// worker can call it unconditionally after detecting a cancellation
	// race.
	MarkExportFailed(ctx context.Context, exportID, errorCode string) error

	// JobStatus re-reads a job's status, used by the worker to detect a
	// cancellation race at chunk boundaries without loading the whole row.
	JobStatus(ctx context.Context, exportID string) (storage.ExportStatus, error)

	// ExpireReadyJobs marks ready jobs whose expires_at is before now as
	// expired, returning how many were updated.
	ExpireReadyJobs(ctx context.Context, now time.Time) (int, error)

	// ActiveDecisionSchemaVersion returns the project's current schema
	// version, recorded in the export manifest (spec §4.7 step 6).
	ActiveDecisionSchemaVersion(ctx context.Context, projectID string) (int, error)
}

// ExportRow is one row selected for an export dataset: the decision
// fields (zero value if the item has no decision yet, under
// labels_plus_unlabeled) plus the item's own fields, all addressable by
// include_fields paths. Defined in internal/storage (storage.ExportRow)
// rather than here, so SnapshotRows's return type doesn't force storage
// to import this package back; ExportRow is an alias onto that
// definition, so every reference below keeps working unchanged.
type ExportRow = storage.ExportRow

// RowIterator yields ExportRows one at a time. Next returns ok=false once
// exhausted; callers must still check err after the final Next call. Also
// an alias onto the storage-native definition, for the same reason as
// ExportRow.
type RowIterator = storage.RowIterator
