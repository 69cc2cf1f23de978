package middleware_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rossant/triagedeck/internal/api/middleware"
	"github.com/rossant/triagedeck/internal/authz"
)

type fakeIdentity struct{ id string }

func (f fakeIdentity) ID() string    { return f.id }
func (f fakeIdentity) Email() string { return f.id + "@example.com" }
func (f fakeIdentity) RoleIn(_ context.Context, _ string) (authz.Role, bool, error) {
	return authz.RoleViewer, true, nil
}

type fakeIdentityStore struct{ keys map[string]fakeIdentity }

func (f fakeIdentityStore) Authenticate(_ context.Context, apiKey string) (authz.Identity, error) {
	identity, ok := f.keys[apiKey]
	if !ok {
		return nil, authz.ErrIdentityNotFound
	}

	return identity, nil
}

func newTestAuthHandler(store authz.IdentityStore) http.Handler {
	var seenCaller string

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if cc, ok := middleware.GetCallerContext(r.Context()); ok {
			seenCaller = cc.KeyID
		}

		w.Header().Set("X-Seen-Caller", seenCaller)
		w.WriteHeader(http.StatusOK)
	})

	return middleware.Authenticate(store, slog.New(slog.NewTextHandler(io.Discard, nil)))(next)
}

func TestAuthenticateAcceptsValidAPIKeyViaHeader(t *testing.T) {
	store := fakeIdentityStore{keys: map[string]fakeIdentity{"good-key": {id: "user-1"}}}
	handler := newTestAuthHandler(store)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/projects", nil)
	req.Header.Set("X-Api-Key", "good-key")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "user-1", rec.Header().Get("X-Seen-Caller"))
}

func TestAuthenticateAcceptsValidAPIKeyViaBearer(t *testing.T) {
	store := fakeIdentityStore{keys: map[string]fakeIdentity{"good-key": {id: "user-1"}}}
	handler := newTestAuthHandler(store)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/projects", nil)
	req.Header.Set("Authorization", "Bearer good-key")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthenticateRejectsMissingKey(t *testing.T) {
	store := fakeIdentityStore{keys: map[string]fakeIdentity{}}
	handler := newTestAuthHandler(store)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/projects", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Contains(t, rec.Body.String(), "unauthorized")
}

func TestAuthenticateRejectsUnknownKey(t *testing.T) {
	store := fakeIdentityStore{keys: map[string]fakeIdentity{}}
	handler := newTestAuthHandler(store)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/projects", nil)
	req.Header.Set("X-Api-Key", "bogus")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthenticateRejectsKeyWithControlCharacters(t *testing.T) {
	store := fakeIdentityStore{keys: map[string]fakeIdentity{}}
	handler := newTestAuthHandler(store)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/projects", nil)
	req.Header.Set("X-Api-Key", "bad\r\nkey")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthenticateBypassesPublicEndpoints(t *testing.T) {
	middleware.RegisterPublicEndpoint("/healthz")

	store := fakeIdentityStore{keys: map[string]fakeIdentity{}}
	handler := newTestAuthHandler(store)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}
