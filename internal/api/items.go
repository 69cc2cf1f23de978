// Package api provides the HTTP API server implementation for triagedeck.
package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/rossant/triagedeck/internal/authz"
	"github.com/rossant/triagedeck/internal/cursor"
	"github.com/rossant/triagedeck/internal/query"
)

const (
	itemsDefaultLimit = 100
	itemsMaxLimit     = 200
)

// handleListItems serves GET /projects/{pid}/items?cursor&limit.
func (s *Server) handleListItems(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("pid")

	if _, _, ok := s.authorizeProject(w, r, projectID, authz.ActionReadProject); !ok {
		return
	}

	limit := parseLimitParam(r, itemsDefaultLimit, itemsMaxLimit)
	rawCursor := r.URL.Query().Get("cursor")

	items, _, err := s.queryEngine.ListItems(r.Context(), projectID, rawCursor, limit)
	if err != nil {
		s.writeCursorOrFail(w, r, err)

		return
	}

	resp := ItemListResponse{Items: make([]ItemResponse, len(items))}
	for i, item := range items {
		resp.Items[i] = newItemResponse(item)
	}

	if len(items) > 0 && len(items) >= limit {
		last := items[len(items)-1]

		next, err := s.queryEngine.EncodeItemsCursor(last.SortKey, last.ID)
		if err != nil {
			s.logAndFail(w, r, "failed to encode next cursor", err)

			return
		}

		resp.NextCursor = next
	}

	writeJSON(w, r, s.logger, http.StatusOK, resp)
}

// handleGetItem serves GET /projects/{pid}/items/{iid}.
func (s *Server) handleGetItem(w http.ResponseWriter, r *http.Request) {
	projectID, itemID := r.PathValue("pid"), r.PathValue("iid")

	if _, _, ok := s.authorizeProject(w, r, projectID, authz.ActionReadProject); !ok {
		return
	}

	item, found, err := s.queryEngine.GetItem(r.Context(), projectID, itemID)
	if err != nil {
		s.logAndFail(w, r, "failed to load item", err)

		return
	}

	if !found {
		WriteErrorResponse(w, r, s.logger, NotFound("item not found"))

		return
	}

	writeJSON(w, r, s.logger, http.StatusOK, newItemResponse(item))
}

// handleGetItemURL serves GET /projects/{pid}/items/{iid}/url?variant_key=&ttl=.
func (s *Server) handleGetItemURL(w http.ResponseWriter, r *http.Request) {
	projectID, itemID := r.PathValue("pid"), r.PathValue("iid")

	if _, _, ok := s.authorizeProject(w, r, projectID, authz.ActionReadProject); !ok {
		return
	}

	variantKey := r.URL.Query().Get("variant_key")
	ttl := parseTTLParam(r)

	url, expiresAt, err := s.queryEngine.ItemURL(r.Context(), projectID, itemID, variantKey, ttl)
	if err != nil {
		if errors.Is(err, query.ErrVariantNotFound) {
			WriteErrorResponse(w, r, s.logger, NotFound("item or variant not found"))

			return
		}

		s.logAndFail(w, r, "failed to resolve item url", err)

		return
	}

	writeJSON(w, r, s.logger, http.StatusOK, ItemURLResponse{URL: url, ExpiresAt: expiresAt})
}

// parseLimitParam reads the "limit" query parameter, falling back to
// defaultLimit when it is absent, malformed, or not positive, and capping
// it at maxLimit. Callers also compare the result with the page length to
// decide whether the page is full.
func parseLimitParam(r *http.Request, defaultLimit, maxLimit int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultLimit
	}

	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return defaultLimit
	}

	if n > maxLimit {
		return maxLimit
	}

	return n
}

// parseTTLParam reads an optional "ttl" query parameter as a duration in
// seconds, clamped by internal/resolver.
func parseTTLParam(r *http.Request) time.Duration {
	raw := r.URL.Query().Get("ttl")
	if raw == "" {
		return 0
	}

	seconds, err := strconv.Atoi(raw)
	if err != nil || seconds <= 0 {
		return 0
	}

	return time.Duration(seconds) * time.Second
}

// writeCursorOrFail maps a cursor decode failure to 400 invalid_cursor,
// or logs and fails with 500 for anything else.
func (s *Server) writeCursorOrFail(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, cursor.ErrInvalidCursor) || errors.Is(err, cursor.ErrExpiredCursor) {
		WriteErrorResponse(w, r, s.logger, InvalidCursor("cursor is invalid or expired"))

		return
	}

	s.logAndFail(w, r, "failed to list page", err)
}
