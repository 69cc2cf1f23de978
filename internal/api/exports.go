// Package api provides the HTTP API server implementation for triagedeck.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/rossant/triagedeck/internal/authz"
	"github.com/rossant/triagedeck/internal/export"
	"github.com/rossant/triagedeck/internal/storage"
)

const (
	exportsDefaultLimit  = 50
	exportsMaxLimit      = 100
	maxExportsRequestSize = 1 << 20 // 1 MiB
)

// handleCreateExport serves POST /projects/{pid}/exports (spec §4.6).
func (s *Server) handleCreateExport(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("pid")

	project, identity, ok := s.authorizeProject(w, r, projectID, authz.ActionCreateExport)
	if !ok {
		return
	}

	var req createExportRequest

	decoder := json.NewDecoder(io.LimitReader(r.Body, maxExportsRequestSize))
	if err := decoder.Decode(&req); err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest("invalid JSON: "+err.Error()))

		return
	}

	allowlist := project.Config.ExportAllowlist
	if len(allowlist) == 0 {
		allowlist = s.config.DefaultExportAllowlist
	}

	job, err := s.exportCtrl.Create(r.Context(), export.CreateRequest{
		ProjectID:     projectID,
		Requester:     identity.ID(),
		LabelPolicy:   req.LabelPolicy,
		Format:        req.Format,
		Mode:          req.Mode,
		IncludeFields: req.IncludeFields,
		Filters:       req.Filters,
	}, allowlist)
	if err != nil {
		s.writeExportCreateError(w, r, err)

		return
	}

	writeJSON(w, r, s.logger, http.StatusCreated, newExportJobResponse(job))
}

func (s *Server) writeExportCreateError(w http.ResponseWriter, r *http.Request, err error) {
	var validationErr *export.ValidationError
	if errors.As(err, &validationErr) {
		switch validationErr.Code {
		case export.ErrCodeFieldNotAllowlisted:
			WriteErrorResponse(w, r, s.logger, FieldNotAllowlisted(validationErr.Message))
		default:
			WriteErrorResponse(w, r, s.logger, ValidationError(validationErr.Message))
		}

		return
	}

	if errors.Is(err, export.ErrConcurrencyLimitExceeded) {
		WriteErrorResponse(w, r, s.logger, ExportLimitExceeded("too many active export jobs for this requester"))

		return
	}

	s.logAndFail(w, r, "failed to create export job", err)
}

// handleGetExport serves GET /projects/{pid}/exports/{eid}.
func (s *Server) handleGetExport(w http.ResponseWriter, r *http.Request) {
	projectID, exportID := r.PathValue("pid"), r.PathValue("eid")

	project, identity, ok := s.authorizeProject(w, r, projectID, authz.ActionReadProject)
	if !ok {
		return
	}

	job, found, err := s.queryEngine.GetExportJob(r.Context(), projectID, exportID)
	if err != nil {
		s.logAndFail(w, r, "failed to load export job", err)

		return
	}

	if !found {
		WriteErrorResponse(w, r, s.logger, NotFound("export job not found"))

		return
	}

	if !s.canSeeExport(r, project, identity, job) {
		WriteErrorResponse(w, r, s.logger, Forbidden("caller's role does not permit viewing this export"))

		return
	}

	if job.Status == storage.ExportExpired {
		WriteErrorResponse(w, r, s.logger, ExportExpired("export artifact has expired"))

		return
	}

	writeJSON(w, r, s.logger, http.StatusOK, newExportJobResponse(job))
}

// handleListExports serves GET /projects/{pid}/exports?cursor&limit: jobs
// visible to the caller, own jobs only unless their role grants
// read_others_export.
func (s *Server) handleListExports(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("pid")

	project, identity, ok := s.authorizeProject(w, r, projectID, authz.ActionReadProject)
	if !ok {
		return
	}

	seesOthers := s.evaluator.Allow(roleOf(r, identity, projectID), authz.ActionReadOthersExport, projectPolicy(project))

	visibleTo := func(requester string) bool {
		return seesOthers || requester == identity.ID()
	}

	limit := parseLimitParam(r, exportsDefaultLimit, exportsMaxLimit)
	rawCursor := r.URL.Query().Get("cursor")

	jobs, _, err := s.queryEngine.ListExportJobs(r.Context(), projectID, rawCursor, limit, visibleTo)
	if err != nil {
		s.writeCursorOrFail(w, r, err)

		return
	}

	resp := ExportListResponse{Exports: make([]ExportJobResponse, len(jobs))}
	for i, job := range jobs {
		resp.Exports[i] = newExportJobResponse(job)
	}

	if len(jobs) > 0 && len(jobs) >= limit {
		last := jobs[len(jobs)-1]

		next, err := s.queryEngine.EncodeExportsCursor(last.CreatedAt.UnixMilli(), last.ID)
		if err != nil {
			s.logAndFail(w, r, "failed to encode next cursor", err)

			return
		}

		resp.NextCursor = next
	}

	writeJSON(w, r, s.logger, http.StatusOK, resp)
}

// handleCancelExport serves DELETE /projects/{pid}/exports/{eid}: idempotent
// cancellation of an export job the caller owns (spec §4.6).
func (s *Server) handleCancelExport(w http.ResponseWriter, r *http.Request) {
	projectID, exportID := r.PathValue("pid"), r.PathValue("eid")

	project, identity, ok := s.authorizeProject(w, r, projectID, authz.ActionCancelExport)
	if !ok {
		return
	}

	existing, found, err := s.queryEngine.GetExportJob(r.Context(), projectID, exportID)
	if err != nil {
		s.logAndFail(w, r, "failed to load export job", err)

		return
	}

	if !found {
		WriteErrorResponse(w, r, s.logger, NotFound("export job not found"))

		return
	}

	if !s.canSeeExport(r, project, identity, existing) {
		WriteErrorResponse(w, r, s.logger, Forbidden("caller's role does not permit cancelling this export"))

		return
	}

	if existing.Requester != identity.ID() && roleOf(r, identity, projectID) != authz.RoleAdmin {
		WriteErrorResponse(w, r, s.logger, Forbidden("only the requester or an admin may cancel this export"))

		return
	}

	job, err := s.exportCtrl.Cancel(r.Context(), projectID, exportID)
	if err != nil {
		switch {
		case errors.Is(err, export.ErrJobReady):
			WriteErrorResponse(w, r, s.logger, Conflict("export is already ready, cannot cancel"))
		case errors.Is(err, storage.ErrNotFound):
			WriteErrorResponse(w, r, s.logger, NotFound("export job not found"))
		default:
			s.logAndFail(w, r, "failed to cancel export job", err)
		}

		return
	}

	writeJSON(w, r, s.logger, http.StatusOK, newExportJobResponse(job))
}

// canSeeExport reports whether identity may view job: owners always can;
// non-owners need read_others_export for their role under the project's
// policy.
func (s *Server) canSeeExport(r *http.Request, project storage.Project, identity authz.Identity, job storage.ExportJob) bool {
	if job.Requester == identity.ID() {
		return true
	}

	return s.evaluator.Allow(roleOf(r, identity, project.ID), authz.ActionReadOthersExport, projectPolicy(project))
}

// roleOf re-resolves identity's role for projectID. Membership was
// already confirmed by authorizeProject; the error path here can only
// mean the membership disappeared between calls, treated as no role.
func roleOf(r *http.Request, identity authz.Identity, projectID string) authz.Role {
	role, ok, err := identity.RoleIn(r.Context(), projectID)
	if err != nil || !ok {
		return ""
	}

	return role
}
