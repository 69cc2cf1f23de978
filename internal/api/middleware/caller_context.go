// Package middleware provides HTTP middleware components for the triagedeck API.
package middleware

import (
	"context"
	"time"

	"github.com/rossant/triagedeck/internal/authz"
)

// callerContextKey is the context key for the authenticated caller.
// Using a struct type ensures type safety and prevents collisions with other context keys.
type callerContextKey struct{}

// CallerContext carries the authenticated caller's identity, enriched into
// the request context by the authentication middleware after a successful
// API key lookup. Handlers use Identity.RoleIn to authorize against
// internal/authz for the project named in the path.
type CallerContext struct {
	// Identity is the authenticated caller, resolved against
	// internal/authz.IdentityStore.
	Identity authz.Identity

	// KeyID is a caller-stable identifier for the API key used, for audit
	// logging. It is the caller's ID() rather than the raw key.
	KeyID string

	// AuthTime is when authentication occurred, for latency tracking.
	AuthTime time.Time
}

// GetCallerContext extracts the caller context from ctx.
// Returns (context, true) if authenticated, (zero value, false) if not found.
func GetCallerContext(ctx context.Context) (CallerContext, bool) {
	callerCtx, ok := ctx.Value(callerContextKey{}).(CallerContext)

	return callerCtx, ok
}

// SetCallerContext returns a new context with cc attached. Used by the
// authentication middleware to enrich the request context after a
// successful API key lookup.
func SetCallerContext(ctx context.Context, cc CallerContext) context.Context {
	return context.WithValue(ctx, callerContextKey{}, cc)
}
