package middleware_test

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rossant/triagedeck/internal/api/middleware"
)

func newTestLimiter(t *testing.T, eventsPerMinute, readsPerMinute int) *middleware.InMemoryRateLimiter {
	t.Helper()

	rl := middleware.NewInMemoryRateLimiter(&middleware.Config{
		EventsPerMinute: eventsPerMinute,
		ReadsPerMinute:  readsPerMinute,
		EventsBurst:     1,
		ReadsBurst:      1,
		CleanupInterval: time.Hour,
		IdleTimeout:     time.Hour,
		MaxCallers:      100,
	})
	t.Cleanup(func() { _ = rl.Close() })

	return rl
}

func TestInMemoryRateLimiterPerCallerIsolation(t *testing.T) {
	rl := newTestLimiter(t, 60, 600)

	require.True(t, rl.Allow(middleware.TierReads, "caller-a"))
	require.False(t, rl.Allow(middleware.TierReads, "caller-a"), "burst of 1 should be exhausted")

	// A different caller gets its own bucket.
	require.True(t, rl.Allow(middleware.TierReads, "caller-b"))
}

func TestInMemoryRateLimiterPerTierIsolation(t *testing.T) {
	rl := newTestLimiter(t, 60, 600)

	require.True(t, rl.Allow(middleware.TierEvents, "caller-a"))
	require.False(t, rl.Allow(middleware.TierEvents, "caller-a"))

	// Reads tier has its own bucket for the same caller.
	require.True(t, rl.Allow(middleware.TierReads, "caller-a"))
}

func TestRateLimitMiddlewareRejectsWithEnvelope(t *testing.T) {
	rl := newTestLimiter(t, 60, 600)
	rl.Allow(middleware.TierReads, "") // exhaust the single burst token

	handler := middleware.RateLimit(rl, slog.New(slog.NewTextHandler(io.Discard, nil)))(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			t.Fatal("next handler should not be called when rate limited")
		}),
	)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/projects", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Contains(t, rec.Body.String(), "rate_limited")
}

func TestRateLimitMiddlewareAllowsUnderLimit(t *testing.T) {
	rl := newTestLimiter(t, 60, 600)

	called := false
	handler := middleware.RateLimit(rl, slog.New(slog.NewTextHandler(io.Discard, nil)))(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			called = true
			w.WriteHeader(http.StatusOK)
		}),
	)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/projects", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	require.True(t, called)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimitMiddlewareClassifiesEventsPath(t *testing.T) {
	rl := newTestLimiter(t, 60, 600)
	rl.Allow(middleware.TierEvents, "") // exhaust only the events bucket

	handler := middleware.RateLimit(rl, slog.New(slog.NewTextHandler(io.Discard, nil)))(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		}),
	)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/projects/proj-1/events", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusTooManyRequests, rec.Code)
}
