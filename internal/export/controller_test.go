package export_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rossant/triagedeck/internal/authz"
	"github.com/rossant/triagedeck/internal/export"
	"github.com/rossant/triagedeck/internal/storage"
)

type fakeStore struct {
	activeCount int
	jobs        map[string]storage.ExportJob
	nextID      int

	// queue, rows, and rowsErr support the worker/sweeper tests in
	// worker_test.go and sweeper_test.go; the controller tests never
	// populate them.
	queue   []string // export IDs, in claim order
	rows    []export.ExportRow
	rowsErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{jobs: map[string]storage.ExportJob{}}
}

func (f *fakeStore) CountActiveJobsByRequester(_ context.Context, _, _ string) (int, error) {
	return f.activeCount, nil
}

func (f *fakeStore) CreateExportJob(_ context.Context, job storage.ExportJob) (storage.ExportJob, error) {
	f.nextID++
	job.ID = "job-" + string(rune('0'+f.nextID))
	job.CreatedAt = time.Now()
	f.jobs[job.ID] = job

	return job, nil
}

func (f *fakeStore) GetExportJob(_ context.Context, _, exportID string) (storage.ExportJob, bool, error) {
	job, ok := f.jobs[exportID]

	return job, ok, nil
}

func (f *fakeStore) CancelExportJob(_ context.Context, _, exportID string) (storage.ExportJob, bool, error) {
	job, ok := f.jobs[exportID]
	if !ok {
		return storage.ExportJob{}, false, nil
	}

	if job.Status != storage.ExportQueued && job.Status != storage.ExportRunning {
		return storage.ExportJob{}, false, nil
	}

	job.Status = storage.ExportFailed
	job.ErrorCode = "export_cancelled"
	f.jobs[exportID] = job

	return job, true, nil
}

func (f *fakeStore) ClaimNextExportJob(_ context.Context) (storage.ExportJob, bool, error) {
	if len(f.queue) == 0 {
		return storage.ExportJob{}, false, nil
	}

	id := f.queue[0]
	f.queue = f.queue[1:]

	job := f.jobs[id]
	job.Status = storage.ExportRunning
	f.jobs[id] = job

	return job, true, nil
}

func (f *fakeStore) SnapshotRows(_ context.Context, _ storage.ExportJob, _ time.Time) (export.RowIterator, error) {
	if f.rowsErr != nil {
		return nil, f.rowsErr
	}

	return &fakeRowIterator{rows: f.rows}, nil
}

func (f *fakeStore) MarkExportRunning(_ context.Context, exportID string, _ time.Time) error {
	job := f.jobs[exportID]
	job.Status = storage.ExportRunning
	f.jobs[exportID] = job

	return nil
}

func (f *fakeStore) MarkExportReady(_ context.Context, exportID string, manifest storage.ExportManifest, fileURI string, expiresAt time.Time) error {
	job := f.jobs[exportID]
	job.Status = storage.ExportReady
	job.Manifest = &manifest
	job.FileURI = fileURI
	job.ExpiresAt = &expiresAt
	f.jobs[exportID] = job

	return nil
}

func (f *fakeStore) MarkExportFailed(_ context.Context, exportID, errorCode string) error {
	job := f.jobs[exportID]
	if job.Status != storage.ExportQueued && job.Status != storage.ExportRunning {
		return nil
	}

	job.Status = storage.ExportFailed
	job.ErrorCode = errorCode
	f.jobs[exportID] = job

	return nil
}

func (f *fakeStore) JobStatus(_ context.Context, exportID string) (storage.ExportStatus, error) {
	return f.jobs[exportID].Status, nil
}

func (f *fakeStore) ExpireReadyJobs(_ context.Context, now time.Time) (int, error) {
	count := 0

	for id, job := range f.jobs {
		if job.Status == storage.ExportReady && job.ExpiresAt != nil && job.ExpiresAt.Before(now) {
			job.Status = storage.ExportExpired
			f.jobs[id] = job
			count++
		}
	}

	return count, nil
}

type fakeRowIterator struct {
	rows []export.ExportRow
	pos  int
}

func (it *fakeRowIterator) Next(_ context.Context) (export.ExportRow, bool, error) {
	if it.pos >= len(it.rows) {
		return export.ExportRow{}, false, nil
	}

	row := it.rows[it.pos]
	it.pos++

	return row, true, nil
}

func (it *fakeRowIterator) Close() error { return nil }

func (f *fakeStore) ActiveDecisionSchemaVersion(_ context.Context, _ string) (int, error) {
	return 1, nil
}

func TestCreateRejectsUnknownFormat(t *testing.T) {
	store := newFakeStore()
	c := export.NewController(store, authz.NewEvaluator())

	_, err := c.Create(context.Background(), export.CreateRequest{
		ProjectID: "p1", Requester: "u1", Format: "xml", Mode: storage.ExportLabelsOnly,
	}, nil)
	require.Error(t, err)
}

func TestCreateRejectsNonAllowlistedField(t *testing.T) {
	store := newFakeStore()
	c := export.NewController(store, authz.NewEvaluator())

	_, err := c.Create(context.Background(), export.CreateRequest{
		ProjectID:     "p1",
		Requester:     "u1",
		Format:        storage.FormatJSONL,
		Mode:          storage.ExportLabelsOnly,
		IncludeFields: []string{"metadata.subject_id", "ssn"},
	}, []string{"metadata.subject_id"})

	var verr *export.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, export.ErrCodeFieldNotAllowlisted, verr.Code)
}

func TestCreateEnforcesConcurrencyCap(t *testing.T) {
	store := newFakeStore()
	store.activeCount = export.MaxActiveJobsPerRequester
	c := export.NewController(store, authz.NewEvaluator())

	_, err := c.Create(context.Background(), export.CreateRequest{
		ProjectID: "p1", Requester: "u1", Format: storage.FormatJSONL, Mode: storage.ExportLabelsOnly,
	}, nil)
	require.ErrorIs(t, err, export.ErrConcurrencyLimitExceeded)
}

func TestCreateSucceeds(t *testing.T) {
	store := newFakeStore()
	c := export.NewController(store, authz.NewEvaluator())

	job, err := c.Create(context.Background(), export.CreateRequest{
		ProjectID:     "p1",
		Requester:     "u1",
		Format:        storage.FormatJSONL,
		Mode:          storage.ExportLabelsOnly,
		IncludeFields: []string{"item_id"},
	}, []string{"item_id"})
	require.NoError(t, err)
	require.Equal(t, storage.ExportQueued, job.Status)
}

func TestCancelIsIdempotentOnTerminalStates(t *testing.T) {
	store := newFakeStore()
	c := export.NewController(store, authz.NewEvaluator())

	store.jobs["job-done"] = storage.ExportJob{ID: "job-done", Status: storage.ExportFailed}

	job, err := c.Cancel(context.Background(), "p1", "job-done")
	require.NoError(t, err)
	require.Equal(t, storage.ExportFailed, job.Status)
}

func TestCancelRejectsReadyJob(t *testing.T) {
	store := newFakeStore()
	c := export.NewController(store, authz.NewEvaluator())

	store.jobs["job-ready"] = storage.ExportJob{ID: "job-ready", Status: storage.ExportReady}

	_, err := c.Cancel(context.Background(), "p1", "job-ready")
	require.ErrorIs(t, err, export.ErrJobReady)
}

func TestCancelTransitionsQueuedToFailed(t *testing.T) {
	store := newFakeStore()
	c := export.NewController(store, authz.NewEvaluator())

	store.jobs["job-q"] = storage.ExportJob{ID: "job-q", Status: storage.ExportQueued}

	job, err := c.Cancel(context.Background(), "p1", "job-q")
	require.NoError(t, err)
	require.Equal(t, storage.ExportFailed, job.Status)
	require.Equal(t, "export_cancelled", job.ErrorCode)
}
