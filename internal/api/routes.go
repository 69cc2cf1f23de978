// Package api provides the HTTP API server implementation for triagedeck.
package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/rossant/triagedeck/internal/api/middleware"
	"github.com/rossant/triagedeck/internal/authz"
	"github.com/rossant/triagedeck/internal/storage"
)

const (
	apiPrefix          = "/api/v1"
	healthCheckTimeout = 2 * time.Second
	expectedURLParts   = 2
)

// Route pairs a mux pattern with its handler, for declarative
// registration with public-endpoint bypass support.
type Route struct {
	Path    string
	Handler http.HandlerFunc
}

// setupRoutes registers every HTTP route on mux.
func (s *Server) setupRoutes(mux *http.ServeMux) {
	s.registerPublicRoutes(
		mux,
		Route{"GET /ping", s.handlePing},
		Route{"GET /ready", s.handleReady},
		Route{"/", s.handleNotFound},
	)

	mux.HandleFunc("GET "+apiPrefix+"/projects", s.handleListProjects)
	mux.HandleFunc("GET "+apiPrefix+"/projects/{pid}/config", s.handleGetProjectConfig)

	mux.HandleFunc("GET "+apiPrefix+"/projects/{pid}/items", s.handleListItems)
	mux.HandleFunc("GET "+apiPrefix+"/projects/{pid}/items/{iid}", s.handleGetItem)
	mux.HandleFunc("GET "+apiPrefix+"/projects/{pid}/items/{iid}/url", s.handleGetItemURL)

	mux.HandleFunc("POST "+apiPrefix+"/projects/{pid}/events", s.handlePostEvents)

	mux.HandleFunc("GET "+apiPrefix+"/projects/{pid}/decisions", s.handleListDecisions)

	mux.HandleFunc("POST "+apiPrefix+"/projects/{pid}/exports", s.handleCreateExport)
	mux.HandleFunc("GET "+apiPrefix+"/projects/{pid}/exports/{eid}", s.handleGetExport)
	mux.HandleFunc("GET "+apiPrefix+"/projects/{pid}/exports", s.handleListExports)
	mux.HandleFunc("DELETE "+apiPrefix+"/projects/{pid}/exports/{eid}", s.handleCancelExport)
}

// registerPublicRoutes registers routes that bypass authentication and
// rate limiting, reserved for health checks and the catch-all 404
// handler. Never register business logic endpoints this way.
func (s *Server) registerPublicRoutes(mux *http.ServeMux, routes ...Route) {
	validHTTPMethods := map[string]bool{
		"GET": true, "POST": true, "PUT": true, "PATCH": true, "DELETE": true,
	}

	for _, route := range routes {
		mux.Handle(route.Path, route.Handler)

		path := route.Path

		parts := strings.Fields(path)
		if len(parts) == expectedURLParts && validHTTPMethods[parts[0]] {
			path = strings.TrimSpace(parts[1])
		}

		if path == "" {
			continue
		}

		middleware.RegisterPublicEndpoint(path)
	}
}

func (s *Server) handlePing(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("pong"))
}

// handleReady reports 503 when the store is unreachable, so Kubernetes
// stops routing traffic to a pod that cannot serve requests.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	if err := s.store.HealthCheck(ctx); err != nil {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("storage unavailable"))

		return
	}

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	WriteErrorResponse(w, r, s.logger, NotFound("the requested resource was not found"))
}

// projectPolicy builds the OrgPolicy the authz evaluator needs from a
// project's own config, per spec §9(a): viewer-may-create-export is
// configuration, never a hardcoded branch.
func projectPolicy(project storage.Project) authz.OrgPolicy {
	return authz.OrgPolicy{
		ViewerMayCreateExport:       project.Config.ViewerMayCreateExport,
		ReviewerMaySeeOthersExports: project.Config.ReviewerMaySeeOthersExports,
	}
}

// authorizeProject loads the named project and resolves whether the
// authenticated caller may perform action against it. Non-membership and
// a missing project both surface as 404 (never leaking existence of a
// project the caller cannot see); a resolved but denied action surfaces
// as 403. On any non-ok return, the response has already been written.
func (s *Server) authorizeProject(
	w http.ResponseWriter,
	r *http.Request,
	projectID string,
	action authz.Action,
) (storage.Project, authz.Identity, bool) {
	callerCtx, ok := middleware.GetCallerContext(r.Context())
	if !ok {
		WriteErrorResponse(w, r, s.logger, Unauthorized("authentication required"))

		return storage.Project{}, nil, false
	}

	project, found, err := s.queryEngine.GetProject(r.Context(), projectID)
	if err != nil {
		s.logAndFail(w, r, "failed to load project", err)

		return storage.Project{}, nil, false
	}

	if !found {
		WriteErrorResponse(w, r, s.logger, NotFound("project not found"))

		return storage.Project{}, nil, false
	}

	allowed, isMember, err := authz.Resolve(r.Context(), s.evaluator, callerCtx.Identity, projectID, action, projectPolicy(project))
	if err != nil {
		s.logAndFail(w, r, "authorization check failed", err)

		return storage.Project{}, nil, false
	}

	if !isMember {
		WriteErrorResponse(w, r, s.logger, NotFound("project not found"))

		return storage.Project{}, nil, false
	}

	if !allowed {
		WriteErrorResponse(w, r, s.logger, Forbidden("caller's role does not permit this action"))

		return storage.Project{}, nil, false
	}

	return project, callerCtx.Identity, true
}

// logAndFail logs err with the request's correlation ID and writes a
// generic 500, never leaking internal error detail to the client.
func (s *Server) logAndFail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	correlationID := middleware.GetCorrelationID(r.Context())
	s.logger.Error(msg, "correlation_id", correlationID, "error", err.Error())
	WriteErrorResponse(w, r, s.logger, InternalServerError(msg))
}
