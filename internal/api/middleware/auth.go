// Package middleware provides HTTP middleware components for the triagedeck API.
package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/rossant/triagedeck/internal/authz"
)

// publicEndpoints holds paths that bypass authentication (health checks).
// Populated via RegisterPublicEndpoint before routes are registered.
var publicEndpoints = make(map[string]bool) //nolint:gochecknoglobals

// RegisterPublicEndpoint marks endpoint as exempt from authentication.
// Must be called before the authentication middleware is applied.
func RegisterPublicEndpoint(endpoint string) {
	publicEndpoints[endpoint] = true
}

// AuthError wraps an authentication failure with the sentinel that
// classifies it, so writeAuthError can map it to the right status code.
type AuthError struct {
	Type    error
	Message string
}

func (e *AuthError) Error() string { return e.Message }
func (e *AuthError) Unwrap() error { return e.Type }

// Sentinel authentication failure classifications.
var (
	ErrMissingAPIKey = errors.New("missing api key")
	ErrInvalidAPIKey = errors.New("invalid api key")
)

// extractAPIKey pulls the caller's API key from either the X-Api-Key
// header or an Authorization: Bearer header, in that order.
func extractAPIKey(r *http.Request) (string, bool) {
	if key := r.Header.Get("X-Api-Key"); key != "" {
		return key, true
	}

	if auth := r.Header.Get("Authorization"); auth != "" {
		const prefix = "Bearer "
		if strings.HasPrefix(auth, prefix) {
			return strings.TrimPrefix(auth, prefix), true
		}
	}

	return "", false
}

// validateAPIKey rejects malformed key material before it ever reaches the
// identity store: an embedded CR or LF character, or an empty value after
// trimming whitespace.
func validateAPIKey(key string) (string, bool) {
	if strings.ContainsAny(key, "\r\n") {
		return "", false
	}

	trimmed := strings.TrimSpace(key)

	return trimmed, trimmed != ""
}

// authenticateRequest resolves apiKey to an authz.Identity, logging the
// failure mode (missing, malformed, unknown) with structured fields for
// operators without ever logging the key itself.
func authenticateRequest(
	ctx context.Context,
	store authz.IdentityStore,
	apiKey string,
	logger *slog.Logger,
	correlationID string,
) (authz.Identity, error) {
	key, ok := validateAPIKey(apiKey)
	if !ok {
		logger.Warn("authentication failed",
			slog.String("correlation_id", correlationID),
			slog.String("failure_type", "malformed_key"),
		)

		return nil, &AuthError{Type: ErrInvalidAPIKey, Message: "malformed API key"}
	}

	identity, err := store.Authenticate(ctx, key)
	if err != nil {
		logger.Warn("authentication failed",
			slog.String("correlation_id", correlationID),
			slog.String("failure_type", "unknown_key"),
		)

		return nil, &AuthError{Type: ErrInvalidAPIKey, Message: "invalid API key"}
	}

	return identity, nil
}

// Authenticate returns middleware that resolves the caller's API key
// against store and attaches a CallerContext, short-circuiting with 401 on
// failure. Requests to paths registered via RegisterPublicEndpoint bypass
// authentication entirely.
func Authenticate(store authz.IdentityStore, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if publicEndpoints[r.URL.Path] {
				next.ServeHTTP(w, r)

				return
			}

			correlationID := GetCorrelationID(r.Context())

			apiKey, found := extractAPIKey(r)
			if !found {
				writeAuthError(w, r, logger, &AuthError{Type: ErrMissingAPIKey, Message: "missing API key"})

				return
			}

			authTime := time.Now()

			identity, err := authenticateRequest(r.Context(), store, apiKey, logger, correlationID)
			if err != nil {
				var authErr *AuthError
				if errors.As(err, &authErr) {
					writeAuthError(w, r, logger, authErr)

					return
				}

				writeAuthError(w, r, logger, &AuthError{Type: ErrInvalidAPIKey, Message: err.Error()})

				return
			}

			logger.Info("authenticated request",
				slog.String("correlation_id", correlationID),
				slog.String("caller_id", identity.ID()),
			)

			callerCtx := CallerContext{Identity: identity, KeyID: identity.ID(), AuthTime: authTime}
			ctx := SetCallerContext(r.Context(), callerCtx)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// writeAuthError maps an AuthError to its HTTP status and writes the
// standard error envelope.
func writeAuthError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, authErr *AuthError) {
	correlationID := GetCorrelationID(r.Context())

	status, code := http.StatusUnauthorized, "unauthorized"

	switch {
	case errors.Is(authErr.Type, ErrMissingAPIKey):
		status, code = http.StatusUnauthorized, "unauthorized"
	case errors.Is(authErr.Type, ErrInvalidAPIKey):
		status, code = http.StatusUnauthorized, "unauthorized"
	}

	if err := writeEnvelopeError(w, r, status, code, authErr.Message, correlationID); err != nil {
		logger.Error("failed to write auth error response",
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)
		http.Error(w, authErr.Message, status)
	}
}

// writeEnvelopeError writes the {"error":{"code","message","details"}}
// shape directly, duplicating internal/api's WriteErrorResponse rather
// than importing the api package from middleware (which would cycle,
// since api imports middleware to build its handler chain).
func writeEnvelopeError(w http.ResponseWriter, r *http.Request, status int, code, message, correlationID string) error {
	body := map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": message,
			"details": map[string]any{
				"correlation_id": correlationID,
				"instance":       r.URL.Path,
			},
		},
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	return json.NewEncoder(w).Encode(body)
}
