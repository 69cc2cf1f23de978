package export

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/rossant/triagedeck/internal/storage"
)

const (
	// MaxRowCount and MaxSerializedBytes are the export size limits from
	// spec §4.7 step 9.
	MaxRowCount        = 1_000_000
	MaxSerializedBytes = 5 * 1024 * 1024 * 1024

	// cancellationCheckInterval bounds how many rows the worker streams
	// before re-checking whether the controller cancelled the job
	// (spec §4.7 "cancellation races").
	cancellationCheckInterval = 1000

	// artifactTTL is how long a ready export stays downloadable.
	artifactTTL = 7 * 24 * time.Hour

	errCodeExportLimitExceeded = "export_limit_exceeded"
	errCodeInternal            = "internal_error"
)

// Artifacts is where the worker publishes completed export bytes. A
// production deployment backs this with an object store; Publish
// receives the packaged artifact name and its two constituent byte
// buffers (dataset, manifest) and must return the logical URI the
// storage resolver can later turn into a download URL.
type Artifacts interface {
	Publish(ctx context.Context, projectID, packageName string, dataset, manifest []byte) (logicalURI string, err error)
}

// Worker drains queued export jobs from ticker-driven loops that all
// shut down when its stop channel is closed.
type Worker struct {
	store     Store
	artifacts Artifacts
	logger    *slog.Logger
	poolSize  int

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewWorker returns a Worker that runs poolSize concurrent job loops.
func NewWorker(store Store, artifacts Artifacts, logger *slog.Logger, poolSize int) *Worker {
	if poolSize < 1 {
		poolSize = 1
	}

	return &Worker{
		store:     store,
		artifacts: artifacts,
		logger:    logger,
		poolSize:  poolSize,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Run starts poolSize job loops and blocks until Stop is called.
func (w *Worker) Run() {
	var wg sync.WaitGroup

	for i := 0; i < w.poolSize; i++ {
		wg.Add(1)

		go func(id int) {
			defer wg.Done()
			w.loop(id)
		}(i)
	}

	wg.Wait()
	close(w.done)
}

// Stop signals every job loop to exit after its current job and blocks
// until they do. Safe to call more than once.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stop)
	})

	<-w.done
}

func (w *Worker) loop(id int) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			w.drainOne(id)
		}
	}
}

func (w *Worker) drainOne(workerID int) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	job, ok, err := w.store.ClaimNextExportJob(ctx)
	if err != nil {
		w.logger.Error("claim export job failed", slog.Int("worker_id", workerID), slog.String("error", err.Error()))

		return
	}

	if !ok {
		return
	}

	w.process(ctx, job, workerID)
}

func (w *Worker) process(ctx context.Context, job storage.ExportJob, workerID int) {
	snapshotAt := time.Now()
	if err := w.store.MarkExportRunning(ctx, job.ID, snapshotAt); err != nil {
		w.logger.Error("mark export running failed", slog.String("export_id", job.ID), slog.String("error", err.Error()))

		return
	}

	manifest, datasetBytes, err := w.buildDataset(ctx, job, snapshotAt)
	if err != nil {
		if cancelled, ok := err.(cancellationError); ok && cancelled.cancelled {
			w.logger.Info("export cancelled mid-stream", slog.String("export_id", job.ID))

			return
		}

		code := errCodeInternal
		if le, ok := err.(limitError); ok {
			code = le.code
		}

		if markErr := w.store.MarkExportFailed(ctx, job.ID, code); markErr != nil {
			w.logger.Error("mark export failed failed", slog.String("export_id", job.ID), slog.String("error", markErr.Error()))
		}

		w.logger.Warn("export failed", slog.String("export_id", job.ID), slog.String("error", err.Error()))

		return
	}

	manifestBytes, err := ManifestJSON(manifest)
	if err != nil {
		_ = w.store.MarkExportFailed(ctx, job.ID, errCodeInternal)

		return
	}

	packageName := fmt.Sprintf("triagedeck_export_%s_%d.%s", job.ProjectID, snapshotAt.Unix(), job.Format)

	logicalURI, err := w.artifacts.Publish(ctx, job.ProjectID, packageName, datasetBytes, manifestBytes)
	if err != nil {
		_ = w.store.MarkExportFailed(ctx, job.ID, errCodeInternal)

		w.logger.Error("publish export artifact failed", slog.String("export_id", job.ID), slog.String("error", err.Error()))

		return
	}

	expiresAt := time.Now().Add(artifactTTL)
	if err := w.store.MarkExportReady(ctx, job.ID, manifest, logicalURI, expiresAt); err != nil {
		w.logger.Error("mark export ready failed", slog.String("export_id", job.ID), slog.String("error", err.Error()))

		return
	}

	w.logger.Info("export ready",
		slog.String("project_id", job.ProjectID),
		slog.String("export_id", job.ID),
		slog.String("requester", job.Requester),
		slog.String("action", "export_ready"),
	)
}

// boundedBuffer wraps bytes.Buffer and fails writes once the accumulated
// size would exceed MaxSerializedBytes (spec §4.7 step 9).
type boundedBuffer struct {
	bytes.Buffer
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	if b.Buffer.Len()+len(p) > MaxSerializedBytes {
		return 0, limitError{code: errCodeExportLimitExceeded}
	}

	return b.Buffer.Write(p)
}

type cancellationError struct{ cancelled bool }

func (cancellationError) Error() string { return "export cancelled" }

type limitError struct{ code string }

func (l limitError) Error() string { return l.code }

func (w *Worker) buildDataset(ctx context.Context, job storage.ExportJob, snapshotAt time.Time) (storage.ExportManifest, []byte, error) {
	rows, err := w.store.SnapshotRows(ctx, job, snapshotAt)
	if err != nil {
		return storage.ExportManifest{}, nil, fmt.Errorf("export: snapshot rows: %w", err)
	}
	defer rows.Close()

	var buf boundedBuffer

	hasher := sha256.New()
	dest := io.MultiWriter(&buf, hasher)

	rowCount, err := w.stream(ctx, job, rows, dest)
	if err != nil {
		return storage.ExportManifest{}, nil, err
	}

	schemaVersion, err := w.store.ActiveDecisionSchemaVersion(ctx, job.ProjectID)
	if err != nil {
		return storage.ExportManifest{}, nil, fmt.Errorf("export: load schema version: %w", err)
	}

	manifest := storage.ExportManifest{
		SnapshotAt:            snapshotAt,
		ProjectID:             job.ProjectID,
		DecisionSchemaVersion: schemaVersion,
		LabelPolicy:           job.LabelPolicy,
		Filters:               job.Filters,
		RowCount:              rowCount,
		SHA256:                hex.EncodeToString(hasher.Sum(nil)),
		Format:                job.Format,
		IncludeFields:         job.IncludeFields,
	}

	return manifest, buf.Bytes(), nil
}

func (w *Worker) stream(ctx context.Context, job storage.ExportJob, rows RowIterator, dest io.Writer) (int64, error) {
	var (
		rowCount  int64
		jsonlw    *JSONLWriter
		csvw      *CSVWriter
		parquetw  *ParquetWriter
		closeParq func() error
	)

	switch job.Format {
	case storage.FormatJSONL:
		jsonlw = NewJSONLWriter(dest, job.IncludeFields)
	case storage.FormatCSV:
		csvw = NewCSVWriter(dest, job.IncludeFields)
	case storage.FormatParquet:
		pw, err := NewParquetWriter(dest, job.IncludeFields)
		if err != nil {
			return 0, fmt.Errorf("export: init parquet writer: %w", err)
		}

		parquetw = pw
		closeParq = pw.Close
	}

	for {
		if rowCount > 0 && rowCount%cancellationCheckInterval == 0 {
			status, err := w.store.JobStatus(ctx, job.ID)
			if err == nil && status == storage.ExportFailed {
				return 0, cancellationError{cancelled: true}
			}
		}

		row, ok, err := rows.Next(ctx)
		if err != nil {
			return 0, fmt.Errorf("export: read row: %w", err)
		}

		if !ok {
			break
		}

		rowCount++

		if rowCount > MaxRowCount {
			return 0, limitError{code: errCodeExportLimitExceeded}
		}

		switch job.Format {
		case storage.FormatJSONL:
			if err := jsonlw.WriteRow(row); err != nil {
				return 0, err
			}
		case storage.FormatCSV:
			if err := csvw.WriteRow(row); err != nil {
				return 0, err
			}
		case storage.FormatParquet:
			if err := parquetw.WriteRow(row); err != nil {
				return 0, err
			}
		}
	}

	if csvw != nil {
		if err := csvw.Flush(); err != nil {
			return 0, err
		}
	}

	if closeParq != nil {
		if err := closeParq(); err != nil {
			return 0, err
		}
	}

	return rowCount, nil
}
