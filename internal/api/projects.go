// Package api provides the HTTP API server implementation for triagedeck.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/rossant/triagedeck/internal/api/middleware"
	"github.com/rossant/triagedeck/internal/authz"
)

// handleListProjects serves GET /projects: every project the caller is a
// member of, regardless of role.
func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	callerCtx, ok := middleware.GetCallerContext(r.Context())
	if !ok {
		WriteErrorResponse(w, r, s.logger, Unauthorized("authentication required"))

		return
	}

	visibleTo := func(projectID string) bool {
		_, isMember, err := callerCtx.Identity.RoleIn(r.Context(), projectID)

		return err == nil && isMember
	}

	projects, err := s.queryEngine.ListProjects(r.Context(), visibleTo)
	if err != nil {
		s.logAndFail(w, r, "failed to list projects", err)

		return
	}

	resp := ProjectListResponse{Projects: make([]ProjectSummary, len(projects))}
	for i, p := range projects {
		resp.Projects[i] = ProjectSummary{ProjectID: p.ID, OrgID: p.OrgID, Slug: p.Slug}
	}

	writeJSON(w, r, s.logger, http.StatusOK, resp)
}

// handleGetProjectConfig serves GET /projects/{pid}/config.
func (s *Server) handleGetProjectConfig(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("pid")

	project, _, ok := s.authorizeProject(w, r, projectID, authz.ActionReadProject)
	if !ok {
		return
	}

	writeJSON(w, r, s.logger, http.StatusOK, newProjectConfigResponse(project))
}

// writeJSON marshals body and writes it with status, logging (but not
// failing the response a second time) on a write error.
func writeJSON(w http.ResponseWriter, r *http.Request, logger *slog.Logger, status int, body any) {
	data, err := json.Marshal(body)
	if err != nil {
		logger.Error("failed to marshal response", "path", r.URL.Path, "error", err.Error())
		WriteErrorResponse(w, r, logger, InternalServerError("failed to encode response"))

		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if _, err := w.Write(data); err != nil {
		logger.Error("failed to write response", "path", r.URL.Path, "error", err.Error())
	}
}
