// Package api provides the HTTP API server implementation for triagedeck.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/rossant/triagedeck/internal/api/middleware"
)

// APIError is the {"error": {...}} envelope every non-2xx response uses.
// Code is a stable machine-readable string from spec §6/§7 (e.g.
// "invalid_cursor", "export_expired"); Message is human-readable; Details
// carries optional structured context (correlation ID, field-level
// validation info).
type APIError struct {
	Status  int            `json:"-"`
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// NewAPIError constructs an APIError with the given HTTP status, code, and
// message.
func NewAPIError(status int, code, message string) *APIError {
	return &APIError{Status: status, Code: code, Message: message}
}

// WithDetail adds a single key/value pair to the error's details object.
func (e *APIError) WithDetail(key string, value any) *APIError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}

	e.Details[key] = value

	return e
}

// envelope is the wire shape: {"error": {"code", "message", "details"}}.
type envelope struct {
	Error *APIError `json:"error"`
}

// WriteErrorResponse writes apiErr as the standard error envelope,
// stamping the correlation ID into its details so every error response
// can be traced back to a single request.
func WriteErrorResponse(w http.ResponseWriter, r *http.Request, logger *slog.Logger, apiErr *APIError) {
	correlationID := middleware.GetCorrelationID(r.Context())
	apiErr.WithDetail("correlation_id", correlationID)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apiErr.Status)

	if err := json.NewEncoder(w).Encode(envelope{Error: apiErr}); err != nil {
		logger.Error("failed to encode error response",
			slog.String("correlation_id", correlationID),
			slog.String("path", r.URL.Path),
			slog.String("method", r.Method),
			slog.Any("encode_error", err),
			slog.Int("status", apiErr.Status),
		)

		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}

// Common error constructors for the standard codes in spec §6/§7.

func InternalServerError(detail string) *APIError {
	return NewAPIError(http.StatusInternalServerError, "internal_error", detail)
}

func BadRequest(detail string) *APIError {
	return NewAPIError(http.StatusBadRequest, "bad_request", detail)
}

func Unauthorized(detail string) *APIError {
	return NewAPIError(http.StatusUnauthorized, "unauthorized", detail)
}

func Forbidden(detail string) *APIError {
	return NewAPIError(http.StatusForbidden, "forbidden", detail)
}

func NotFound(detail string) *APIError {
	return NewAPIError(http.StatusNotFound, "not_found", detail)
}

func Conflict(detail string) *APIError {
	return NewAPIError(http.StatusConflict, "conflict", detail)
}

func ValidationError(detail string) *APIError {
	return NewAPIError(http.StatusUnprocessableEntity, "validation_error", detail)
}

func RateLimited(detail string) *APIError {
	return NewAPIError(http.StatusTooManyRequests, "rate_limited", detail)
}

// Specific-code constructors named in spec §6/§7, each mapped to the
// status their failure mode implies.

func InvalidCursor(detail string) *APIError {
	return NewAPIError(http.StatusBadRequest, "invalid_cursor", detail)
}

func InvalidDecisionID(detail string) *APIError {
	return NewAPIError(http.StatusUnprocessableEntity, "invalid_decision_id", detail)
}

func InvalidNote(detail string) *APIError {
	return NewAPIError(http.StatusUnprocessableEntity, "invalid_note", detail)
}

func UnknownItem(detail string) *APIError {
	return NewAPIError(http.StatusUnprocessableEntity, "unknown_item", detail)
}

func FieldNotAllowlisted(detail string) *APIError {
	return NewAPIError(http.StatusUnprocessableEntity, "field_not_allowlisted", detail)
}

func ExportExpired(detail string) *APIError {
	return NewAPIError(http.StatusGone, "export_expired", detail)
}

func ExportCancelled(detail string) *APIError {
	return NewAPIError(http.StatusGone, "export_cancelled", detail)
}

func ExportLimitExceeded(detail string) *APIError {
	return NewAPIError(http.StatusConflict, "export_limit_exceeded", detail)
}
