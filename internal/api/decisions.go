// Package api provides the HTTP API server implementation for triagedeck.
package api

import (
	"net/http"

	"github.com/rossant/triagedeck/internal/authz"
)

const (
	decisionsDefaultLimit = 500
	decisionsMaxLimit     = 2000
)

// handleListDecisions serves GET /projects/{pid}/decisions?cursor&limit:
// the caller's own latest decisions, per spec (caller-scoped).
func (s *Server) handleListDecisions(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("pid")

	_, identity, ok := s.authorizeProject(w, r, projectID, authz.ActionReadProject)
	if !ok {
		return
	}

	limit := parseLimitParam(r, decisionsDefaultLimit, decisionsMaxLimit)
	rawCursor := r.URL.Query().Get("cursor")

	decisions, _, err := s.queryEngine.ListLatestDecisions(r.Context(), projectID, identity.ID(), rawCursor, limit)
	if err != nil {
		s.writeCursorOrFail(w, r, err)

		return
	}

	resp := DecisionListResponse{Decisions: make([]DecisionResponse, len(decisions))}
	for i, d := range decisions {
		resp.Decisions[i] = newDecisionResponse(d)
	}

	if len(decisions) > 0 && len(decisions) >= limit {
		last := decisions[len(decisions)-1]

		next, err := s.queryEngine.EncodeDecisionsCursor(last.TSServer, last.ItemID)
		if err != nil {
			s.logAndFail(w, r, "failed to encode next cursor", err)

			return
		}

		resp.NextCursor = next
	}

	writeJSON(w, r, s.logger, http.StatusOK, resp)
}
