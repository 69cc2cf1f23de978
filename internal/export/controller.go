package export

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/rossant/triagedeck/internal/authz"
	"github.com/rossant/triagedeck/internal/storage"
)

// MaxActiveJobsPerRequester is the per-user concurrency cap from spec
// §4.6 step 4.
const MaxActiveJobsPerRequester = 2

// Error codes the controller surfaces; the HTTP layer maps these to
// status codes per spec §6/§7.
const (
	ErrCodeFieldNotAllowlisted = "field_not_allowlisted"
	ErrCodeValidation          = "validation_error"
)

// ValidationError is returned by CreateRequest when the request fails
// admission before a job is persisted.
type ValidationError struct {
	Code    string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// ErrConcurrencyLimitExceeded is returned when the requester already has
// MaxActiveJobsPerRequester active jobs in the project.
var ErrConcurrencyLimitExceeded = errors.New("export: concurrency limit exceeded")

// ErrJobReady is returned by Cancel when the job has already completed;
// cancellation of a ready export is a conflict, not an idempotent no-op.
var ErrJobReady = errors.New("export: job is ready, cannot cancel")

var fieldPathPattern = regexp.MustCompile(`^[a-zA-Z0-9_]+(\.[a-zA-Z0-9_]+)*$`)

// CreateRequest is the admission input for POST /exports.
type CreateRequest struct {
	ProjectID     string
	Requester     string
	LabelPolicy   string
	Format        storage.ExportFormat
	Mode          storage.ExportMode
	IncludeFields []string
	Filters       storage.ExportFilters
}

// Controller validates and admits export job requests.
type Controller struct {
	store     Store
	evaluator *authz.Evaluator
}

// NewController returns a Controller backed by store.
func NewController(store Store, evaluator *authz.Evaluator) *Controller {
	return &Controller{store: store, evaluator: evaluator}
}

// Create validates req against the project's effective allowlist and
// admission rules, then persists a queued job. allowlist is the
// project's export_allowlist if set, otherwise the server global.
func (c *Controller) Create(ctx context.Context, req CreateRequest, allowlist []string) (storage.ExportJob, error) {
	if req.LabelPolicy == "" {
		req.LabelPolicy = "latest_per_user"
	}

	if req.LabelPolicy != "latest_per_user" {
		return storage.ExportJob{}, &ValidationError{Code: ErrCodeValidation, Message: "label_policy must be latest_per_user"}
	}

	if req.Format == "" {
		req.Format = storage.FormatJSONL
	}

	switch req.Format {
	case storage.FormatJSONL, storage.FormatCSV, storage.FormatParquet:
	default:
		return storage.ExportJob{}, &ValidationError{Code: ErrCodeValidation, Message: "unsupported format"}
	}

	switch req.Mode {
	case storage.ExportLabelsOnly, storage.ExportLabelsPlusUnlabeled:
	default:
		return storage.ExportJob{}, &ValidationError{Code: ErrCodeValidation, Message: "mode must be labels_only or labels_plus_unlabeled"}
	}

	if err := validateIncludeFields(req.IncludeFields, allowlist); err != nil {
		return storage.ExportJob{}, err
	}

	active, err := c.store.CountActiveJobsByRequester(ctx, req.ProjectID, req.Requester)
	if err != nil {
		return storage.ExportJob{}, fmt.Errorf("export: count active jobs: %w", err)
	}

	if active >= MaxActiveJobsPerRequester {
		return storage.ExportJob{}, ErrConcurrencyLimitExceeded
	}

	return c.store.CreateExportJob(ctx, storage.ExportJob{
		ProjectID:     req.ProjectID,
		Requester:     req.Requester,
		Status:        storage.ExportQueued,
		Mode:          req.Mode,
		LabelPolicy:   req.LabelPolicy,
		Format:        req.Format,
		Filters:       req.Filters,
		IncludeFields: req.IncludeFields,
		CreatedAt:     time.Now(),
	})
}

// Cancel implements the idempotent DELETE semantics of spec §4.6: queued
// or running jobs transition to failed(export_cancelled) and return the
// updated job; an already-terminal failed/expired job returns
// successfully without mutation; a ready job returns ErrJobReady (409).
func (c *Controller) Cancel(ctx context.Context, projectID, exportID string) (storage.ExportJob, error) {
	job, ok, err := c.store.GetExportJob(ctx, projectID, exportID)
	if err != nil {
		return storage.ExportJob{}, err
	}

	if !ok {
		return storage.ExportJob{}, storage.ErrNotFound
	}

	switch job.Status {
	case storage.ExportReady:
		return storage.ExportJob{}, ErrJobReady
	case storage.ExportFailed, storage.ExportExpired:
		return job, nil
	}

	cancelled, ok, err := c.store.CancelExportJob(ctx, projectID, exportID)
	if err != nil {
		return storage.ExportJob{}, err
	}

	if !ok {
		// Lost a race with the worker completing the job between our
		// read and the cancel attempt; re-read to report the true state.
		return c.store.GetExportJob(ctx, projectID, exportID)
	}

	return cancelled, nil
}

func validateIncludeFields(fields, allowlist []string) error {
	allowed := make(map[string]bool, len(allowlist))
	for _, f := range allowlist {
		allowed[f] = true
	}

	for _, f := range fields {
		if !fieldPathPattern.MatchString(f) {
			return &ValidationError{Code: ErrCodeFieldNotAllowlisted, Message: "malformed field path: " + f}
		}

		if !allowed[f] {
			return &ValidationError{Code: ErrCodeFieldNotAllowlisted, Message: "field not allowlisted: " + f}
		}
	}

	return nil
}
