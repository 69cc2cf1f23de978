// Package api provides the HTTP API server implementation for triagedeck.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/rossant/triagedeck/internal/authz"
	"github.com/rossant/triagedeck/internal/ingest"
)

const maxEventsRequestSize = 5 << 20 // 5 MiB

// handlePostEvents serves POST /projects/{pid}/events: idempotent batch
// decision ingestion (spec §4.4). Response status reflects how the batch
// as a whole fared: 200 when every event was acked (accepted or
// duplicate), 207 on partial success, 422 when every event was rejected.
func (s *Server) handlePostEvents(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("pid")

	_, identity, ok := s.authorizeProject(w, r, projectID, authz.ActionWriteDecision)
	if !ok {
		return
	}

	var req postEventsRequest

	decoder := json.NewDecoder(io.LimitReader(r.Body, maxEventsRequestSize))
	if err := decoder.Decode(&req); err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest("invalid JSON: "+err.Error()))

		return
	}

	if len(req.Events) == 0 {
		WriteErrorResponse(w, r, s.logger, BadRequest("events array cannot be empty"))

		return
	}

	batch := ingest.Batch{
		ProjectID: projectID,
		UserID:    identity.ID(),
		ClientID:  req.ClientID,
		SessionID: req.SessionID,
		Events:    make([]ingest.Event, len(req.Events)),
	}

	for i, ev := range req.Events {
		batch.Events[i] = ingest.Event{
			EventID:    ev.EventID,
			ItemID:     ev.ItemID,
			DecisionID: ev.DecisionID,
			Note:       ev.Note,
			TSClient:   ev.TSClient,
		}
	}

	resp, err := s.ingestEngine.Apply(r.Context(), batch)
	if err != nil {
		var tooLarge ingest.ErrBatchTooLarge
		if errors.As(err, &tooLarge) {
			WriteErrorResponse(w, r, s.logger, BadRequest(err.Error()))

			return
		}

		s.logAndFail(w, r, "failed to apply event batch", err)

		return
	}

	writeJSON(w, r, s.logger, determineIngestStatusCode(resp), resp)
}

// determineIngestStatusCode maps an ingest.Response's aggregate counts to
// the HTTP status spec §6 implies: all-acked is 200, a mix is 207, and
// total rejection is 422.
func determineIngestStatusCode(resp *ingest.Response) int {
	if resp.Rejected == 0 {
		return http.StatusOK
	}

	if resp.Accepted > 0 || resp.Duplicate > 0 {
		return http.StatusMultiStatus
	}

	return http.StatusUnprocessableEntity
}
