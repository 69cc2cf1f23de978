package export_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rossant/triagedeck/internal/export"
	"github.com/rossant/triagedeck/internal/storage"
)

type fakeArtifacts struct {
	publishErr error
	published  bool
}

func (f *fakeArtifacts) Publish(_ context.Context, _, _ string, _, _ []byte) (string, error) {
	if f.publishErr != nil {
		return "", f.publishErr
	}

	f.published = true

	return "file://export.jsonl", nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWorkerProcessesQueuedJobToReady(t *testing.T) {
	store := newFakeStore()
	store.jobs["job-1"] = storage.ExportJob{
		ID:        "job-1",
		ProjectID: "proj-1",
		Requester: "user-1",
		Status:    storage.ExportQueued,
		Format:    storage.FormatJSONL,
	}
	store.queue = []string{"job-1"}
	store.rows = []export.ExportRow{
		{ItemID: "item-1", UserID: "user-1", DecisionID: "keep", HasLabel: true},
	}

	artifacts := &fakeArtifacts{}
	worker := export.NewWorker(store, artifacts, testLogger(), 1)

	go worker.Run()
	t.Cleanup(worker.Stop)

	require.Eventually(t, func() bool {
		return store.jobs["job-1"].Status == storage.ExportReady
	}, 2*time.Second, 10*time.Millisecond)

	job := store.jobs["job-1"]
	require.True(t, artifacts.published)
	require.Equal(t, "file://export.jsonl", job.FileURI)
	require.NotNil(t, job.Manifest)
	require.Equal(t, int64(1), job.Manifest.RowCount)
}

func TestWorkerMarksJobFailedOnPublishError(t *testing.T) {
	store := newFakeStore()
	store.jobs["job-1"] = storage.ExportJob{
		ID:        "job-1",
		ProjectID: "proj-1",
		Requester: "user-1",
		Status:    storage.ExportQueued,
		Format:    storage.FormatJSONL,
	}
	store.queue = []string{"job-1"}

	artifacts := &fakeArtifacts{publishErr: errors.New("object store unavailable")}
	worker := export.NewWorker(store, artifacts, testLogger(), 1)

	go worker.Run()
	t.Cleanup(worker.Stop)

	require.Eventually(t, func() bool {
		return store.jobs["job-1"].Status == storage.ExportFailed
	}, 2*time.Second, 10*time.Millisecond)

	require.Equal(t, "internal_error", store.jobs["job-1"].ErrorCode)
}

func TestWorkerIdlesWithoutQueuedJobs(t *testing.T) {
	store := newFakeStore()
	artifacts := &fakeArtifacts{}
	worker := export.NewWorker(store, artifacts, testLogger(), 1)

	go worker.Run()

	// Give the loop a couple of ticks to confirm it doesn't panic or spin
	// on an empty queue, then a clean Stop should return promptly.
	time.Sleep(50 * time.Millisecond)
	worker.Stop()

	require.False(t, artifacts.published)
}

func TestNewWorkerClampsPoolSizeToOne(t *testing.T) {
	store := newFakeStore()
	worker := export.NewWorker(store, &fakeArtifacts{}, testLogger(), 0)

	go worker.Run()
	worker.Stop()
}
