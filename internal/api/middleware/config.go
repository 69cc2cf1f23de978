// Package middleware provides HTTP middleware components for the triagedeck API.
package middleware

import (
	"time"

	"github.com/rossant/triagedeck/internal/config"
)

// Config holds rate limiter configuration: a requests-per-minute budget
// for each of the two tiers spec §7 names, plus the memory-cleanup knobs
// for idle per-caller buckets.
//
// If burst fields are 0, they are computed automatically as 2x the
// per-second equivalent of the per-minute rate.
type Config struct {
	EventsPerMinute int // Default: 60
	ReadsPerMinute  int // Default: 600

	EventsBurst int // Default: 0 (auto-computed)
	ReadsBurst  int // Default: 0 (auto-computed)

	CleanupInterval time.Duration // Default: 5 minutes
	IdleTimeout     time.Duration // Default: 1 hour
	MaxCallers      int           // Default: 10,000
}

// LoadConfig loads middleware config from environment variables with
// fallback to spec §7's defaults.
func LoadConfig() *Config {
	return &Config{
		EventsPerMinute: config.GetEnvInt("TRIAGEDECK_RATE_LIMIT_EVENTS_PER_MINUTE", defaultEventsPerMinute),
		ReadsPerMinute:  config.GetEnvInt("TRIAGEDECK_RATE_LIMIT_READS_PER_MINUTE", defaultReadsPerMinute),

		EventsBurst: config.GetEnvInt("TRIAGEDECK_RATE_LIMIT_EVENTS_BURST", 0),
		ReadsBurst:  config.GetEnvInt("TRIAGEDECK_RATE_LIMIT_READS_BURST", 0),

		CleanupInterval: config.GetEnvDuration("TRIAGEDECK_RATE_LIMIT_CLEANUP_INTERVAL", rateLimiterCleanupInterval),
		IdleTimeout:     config.GetEnvDuration("TRIAGEDECK_RATE_LIMIT_IDLE_TIMEOUT", rateLimiterIdleTimeout),
		MaxCallers:      config.GetEnvInt("TRIAGEDECK_RATE_LIMIT_MAX_CALLERS", maxCallers),
	}
}
