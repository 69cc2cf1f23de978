// Package middleware provides HTTP middleware components for the triagedeck API.
package middleware

import (
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	burstCapacityMultiplier    int     = 2
	maxCallers                 int     = 10000
	defaultEventsPerMinute     int     = 60
	defaultReadsPerMinute      int     = 600
	thresholdMultiplier        float64 = 0.8
	thresholdPercentage        int     = 80
	rateLimiterCleanupInterval         = 5 * time.Minute
	rateLimiterIdleTimeout             = 1 * time.Hour
)

// Tier classifies a request for rate limiting purposes. Spec §7 sets two
// tiers: the event-ingestion endpoint, rate-limited tighter than every
// other (read-shaped) endpoint.
type Tier string

const (
	TierEvents Tier = "events"
	TierReads  Tier = "reads"
)

// classify assigns a Tier to a request by path/method shape: POST to a
// path ending in "/events" is the ingestion endpoint; everything else
// (including export creation/cancellation) shares the looser reads tier,
// since spec §7 names only the two tiers above.
func classify(r *http.Request) Tier {
	if r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/events") {
		return TierEvents
	}

	return TierReads
}

type (
	// RateLimiter decides whether a request in the given tier, from the
	// given caller, should be allowed. callerID is empty for
	// unauthenticated requests (health checks only; every other route
	// requires authentication before RateLimit runs).
	RateLimiter interface {
		Allow(tier Tier, callerID string) bool
	}

	// InMemoryRateLimiter implements RateLimiter with one token bucket per
	// (tier, caller) pair using golang.org/x/time/rate, the same library
	// the teacher uses for its three-tier limiter. Idle buckets are swept
	// periodically to bound memory.
	InMemoryRateLimiter struct {
		mu      sync.RWMutex
		buckets map[Tier]map[string]*callerLimiter

		eventsRPS   int
		eventsBurst int
		readsRPS    int
		readsBurst  int

		cleanupTicker *time.Ticker
		done          chan struct{}

		cleanupInterval time.Duration
		idleTimeout     time.Duration
		maxCallers      int
	}

	callerLimiter struct {
		limiter    *rate.Limiter
		lastAccess time.Time
		mu         sync.Mutex
	}
)

// NewInMemoryRateLimiter returns a rate limiter enforcing config's two
// tiers. Burst capacity defaults to 2x the per-second rate unless
// overridden.
func NewInMemoryRateLimiter(config *Config) *InMemoryRateLimiter {
	eventsRPS := perSecond(config.EventsPerMinute)
	readsRPS := perSecond(config.ReadsPerMinute)

	rl := &InMemoryRateLimiter{
		buckets: map[Tier]map[string]*callerLimiter{
			TierEvents: make(map[string]*callerLimiter),
			TierReads:  make(map[string]*callerLimiter),
		},
		eventsRPS:       eventsRPS,
		eventsBurst:     computeBurstCapacity(eventsRPS, config.EventsBurst),
		readsRPS:        readsRPS,
		readsBurst:      computeBurstCapacity(readsRPS, config.ReadsBurst),
		done:            make(chan struct{}),
		cleanupInterval: config.CleanupInterval,
		idleTimeout:     config.IdleTimeout,
		maxCallers:      config.MaxCallers,
	}

	rl.startCleanup()

	return rl
}

// perSecond converts a requests-per-minute budget to the requests-per-
// second rate golang.org/x/time/rate expects, rounding down to at least 1.
func perSecond(perMinute int) int {
	rps := perMinute / 60
	if rps < 1 {
		rps = 1
	}

	return rps
}

func computeBurstCapacity(ratePerSec, burstOverride int) int {
	if burstOverride > 0 {
		return burstOverride
	}

	return ratePerSec * burstCapacityMultiplier
}

// Allow implements RateLimiter: it looks up (or lazily creates) the token
// bucket for (tier, callerID) and draws one token from it.
func (rl *InMemoryRateLimiter) Allow(tier Tier, callerID string) bool {
	rps, burst := rl.readsRPS, rl.readsBurst
	if tier == TierEvents {
		rps, burst = rl.eventsRPS, rl.eventsBurst
	}

	rl.mu.RLock()
	cl, ok := rl.buckets[tier][callerID]
	rl.mu.RUnlock()

	if !ok {
		rl.mu.Lock()
		if cl, ok = rl.buckets[tier][callerID]; !ok {
			cl = &callerLimiter{limiter: rate.NewLimiter(rate.Limit(rps), burst), lastAccess: time.Now()}
			rl.buckets[tier][callerID] = cl

			currentCount := len(rl.buckets[TierEvents]) + len(rl.buckets[TierReads])
			threshold := int(float64(rl.maxCallers) * thresholdMultiplier)

			if currentCount >= threshold {
				slog.Warn("rate limiter approaching max callers limit",
					"current_callers", currentCount,
					"max_callers", rl.maxCallers,
					"threshold_percent", thresholdPercentage,
				)
			}
		}
		rl.mu.Unlock()
	}

	cl.mu.Lock()
	cl.lastAccess = time.Now()
	cl.mu.Unlock()

	return cl.limiter.Allow()
}

// Close stops the cleanup goroutine. Implements io.Closer so Server's
// best-effort dependency shutdown can close it via type assertion.
func (rl *InMemoryRateLimiter) Close() error {
	if rl.cleanupTicker != nil {
		rl.cleanupTicker.Stop()
	}

	close(rl.done)

	return nil
}

func (rl *InMemoryRateLimiter) startCleanup() {
	interval := rl.cleanupInterval
	if interval == 0 {
		interval = rateLimiterCleanupInterval
	}

	rl.cleanupTicker = time.NewTicker(interval)

	go func() {
		for {
			select {
			case <-rl.cleanupTicker.C:
				rl.cleanup()
			case <-rl.done:
				return
			}
		}
	}()
}

func (rl *InMemoryRateLimiter) cleanup() {
	idleTimeout := rl.idleTimeout
	if idleTimeout == 0 {
		idleTimeout = rateLimiterIdleTimeout
	}

	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	for _, bucket := range rl.buckets {
		for callerID, cl := range bucket {
			cl.mu.Lock()
			lastAccess := cl.lastAccess
			cl.mu.Unlock()

			if now.Sub(lastAccess) > idleTimeout {
				delete(bucket, callerID)
			}
		}
	}
}

// RateLimit returns middleware enforcing limiter's tiers, keyed by the
// authenticated caller (from CallerContext) or the empty string for the
// rare unauthenticated (public) route. Must run after Authenticate so
// CallerContext is populated.
func RateLimit(limiter RateLimiter, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			callerID := ""
			if callerCtx, ok := GetCallerContext(r.Context()); ok {
				callerID = callerCtx.KeyID
			}

			if !limiter.Allow(classify(r), callerID) {
				correlationID := GetCorrelationID(r.Context())
				detail := "rate limit exceeded, retry later"

				if err := writeEnvelopeError(w, r, http.StatusTooManyRequests, "rate_limited", detail, correlationID); err != nil {
					logger.Error("failed to write rate limit response",
						slog.String("correlation_id", correlationID),
						slog.String("error", err.Error()),
					)
					http.Error(w, detail, http.StatusTooManyRequests)
				}

				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
