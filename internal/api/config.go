// Package api provides the HTTP API server implementation for triagedeck.
package api

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rossant/triagedeck/internal/config"
)

const (
	// DefaultPort is the default HTTP server port.
	DefaultPort = 8080
	// MaxPort is the maximum valid port number.
	MaxPort = 65535
	// DefaultHost is the default server host.
	DefaultHost = "0.0.0.0"
	// DefaultTimeout is the default timeout for HTTP operations.
	DefaultTimeout = 30 * time.Second
	// DefaultLogLevel is the default log level.
	DefaultLogLevel = slog.LevelInfo
	// DefaultCORSMaxAge is the default CORS max age (24 hours).
	DefaultCORSMaxAge = 86400
	// DefaultSkewWindow bounds how far a client's ts_client may drift from
	// server time before being clamped (spec §4.4 step 3).
	DefaultSkewWindow = 5 * time.Minute
	// DefaultWorkerPoolSize is the number of concurrent export workers
	// started by the export subsystem.
	DefaultWorkerPoolSize = 2
	// DefaultArtifactTTL is the default for ServerConfig.ArtifactTTL; it
	// equals the export worker's fixed 7-day artifact lifetime (spec §4.6).
	DefaultArtifactTTL = 7 * 24 * time.Hour
)

// Static validation errors.
var (
	ErrInvalidPort            = errors.New("invalid port")
	ErrEmptyHost              = errors.New("host cannot be empty")
	ErrInvalidReadTimeout     = errors.New("read timeout must be positive")
	ErrInvalidWriteTimeout    = errors.New("write timeout must be positive")
	ErrInvalidShutdownTimeout = errors.New("shutdown timeout must be positive")
	ErrEmptyCursorSecret      = errors.New("cursor secret must not be empty")
)

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port               int
	Host               string
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	ShutdownTimeout    time.Duration
	LogLevel           slog.Level
	CORSAllowedOrigins []string
	CORSAllowedMethods []string
	CORSAllowedHeaders []string
	CORSMaxAge         int

	// CursorSecret keys the HMAC signature on pagination cursors
	// (internal/cursor.Codec). Must be stable across restarts.
	CursorSecret []byte

	// SkewWindow bounds client/server clock drift for ingest (spec §4.4).
	SkewWindow time.Duration

	// DefaultExportAllowlist is the export field allowlist used for
	// projects that don't set their own (storage.ProjectConfig.ExportAllowlist).
	DefaultExportAllowlist []string

	// ArtifactBaseDir roots the local export artifact store.
	ArtifactBaseDir string

	// WorkerPoolSize is the number of concurrent export workers.
	WorkerPoolSize int

	// ArtifactTTL is loaded from TRIAGEDECK_EXPORT_ARTIFACT_TTL but is not
	// passed to the export worker, which always sets a ready export's
	// expiry 7 days after completion.
	ArtifactTTL time.Duration

	// ResolverSecret keys internal/resolver.HMACResolver. When empty, the
	// server falls back to resolver.PassthroughResolver.
	ResolverSecret []byte

	// ResolverBaseURL roots signed media URLs when ResolverSecret is set.
	ResolverBaseURL string
}

// LoadServerConfig loads server configuration from environment variables with sensible defaults.
func LoadServerConfig() ServerConfig {
	cfg := ServerConfig{
		Port:                   config.GetEnvInt("TRIAGEDECK_PORT", DefaultPort),
		Host:                   config.GetEnvStr("TRIAGEDECK_HOST", DefaultHost),
		ReadTimeout:            config.GetEnvDuration("TRIAGEDECK_READ_TIMEOUT", DefaultTimeout),
		WriteTimeout:           config.GetEnvDuration("TRIAGEDECK_WRITE_TIMEOUT", DefaultTimeout),
		ShutdownTimeout:        config.GetEnvDuration("TRIAGEDECK_SHUTDOWN_TIMEOUT", DefaultTimeout),
		LogLevel:               config.GetEnvLogLevel("TRIAGEDECK_LOG_LEVEL", DefaultLogLevel),
		CORSAllowedOrigins:     []string{"*"}, // Development default - should be restricted in production
		CORSAllowedMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		CORSAllowedHeaders:     []string{"Content-Type", "Authorization", "X-Correlation-ID", "X-Api-Key"},
		CORSMaxAge:             config.GetEnvInt("TRIAGEDECK_CORS_MAX_AGE", DefaultCORSMaxAge),
		CursorSecret:           []byte(config.GetEnvStr("TRIAGEDECK_CURSOR_SECRET", "")),
		SkewWindow:             config.GetEnvDuration("TRIAGEDECK_SKEW_WINDOW", DefaultSkewWindow),
		DefaultExportAllowlist: config.ParseCommaSeparatedList(config.GetEnvStr("TRIAGEDECK_EXPORT_ALLOWLIST", "")),
		ArtifactBaseDir:        config.GetEnvStr("TRIAGEDECK_ARTIFACT_BASE_DIR", "./data/exports"),
		WorkerPoolSize:         config.GetEnvInt("TRIAGEDECK_EXPORT_WORKER_POOL_SIZE", DefaultWorkerPoolSize),
		ArtifactTTL:            config.GetEnvDuration("TRIAGEDECK_EXPORT_ARTIFACT_TTL", DefaultArtifactTTL),
		ResolverSecret:         []byte(config.GetEnvStr("TRIAGEDECK_RESOLVER_SECRET", "")),
		ResolverBaseURL:        config.GetEnvStr("TRIAGEDECK_RESOLVER_BASE_URL", ""),
	}

	if originsStr := config.GetEnvStr("TRIAGEDECK_CORS_ALLOWED_ORIGINS", ""); originsStr != "" {
		cfg.CORSAllowedOrigins = config.ParseCommaSeparatedList(originsStr)
	}

	if methodsStr := config.GetEnvStr("TRIAGEDECK_CORS_ALLOWED_METHODS", ""); methodsStr != "" {
		cfg.CORSAllowedMethods = config.ParseCommaSeparatedList(methodsStr)
	}

	if headersStr := config.GetEnvStr("TRIAGEDECK_CORS_ALLOWED_HEADERS", ""); headersStr != "" {
		cfg.CORSAllowedHeaders = config.ParseCommaSeparatedList(headersStr)
	}

	return cfg
}

// Address returns the server address in host:port format.
func (c ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ToCORSConfig converts ServerConfig's CORS fields to the
// middleware.CORSConfigProvider shape.
func (c ServerConfig) ToCORSConfig() CORSConfig {
	return CORSConfig{
		AllowedOrigins: c.CORSAllowedOrigins,
		AllowedMethods: c.CORSAllowedMethods,
		AllowedHeaders: c.CORSAllowedHeaders,
		MaxAge:         c.CORSMaxAge,
	}
}

// CORSConfig holds CORS configuration options, kept here (rather than in
// middleware) to centralize configuration in one package.
type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
	MaxAge         int
}

func (c CORSConfig) GetAllowedOrigins() []string { return c.AllowedOrigins }
func (c CORSConfig) GetAllowedMethods() []string { return c.AllowedMethods }
func (c CORSConfig) GetAllowedHeaders() []string { return c.AllowedHeaders }
func (c CORSConfig) GetMaxAge() int              { return c.MaxAge }

// Validate validates the server configuration.
func (c ServerConfig) Validate() error {
	if c.Port <= 0 || c.Port > MaxPort {
		return fmt.Errorf("%w: %d, must be between 1 and %d", ErrInvalidPort, c.Port, MaxPort)
	}

	if c.Host == "" {
		return ErrEmptyHost
	}

	if c.ReadTimeout <= 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidReadTimeout, c.ReadTimeout)
	}

	if c.WriteTimeout <= 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidWriteTimeout, c.WriteTimeout)
	}

	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidShutdownTimeout, c.ShutdownTimeout)
	}

	if len(c.CursorSecret) == 0 {
		return ErrEmptyCursorSecret
	}

	return nil
}
