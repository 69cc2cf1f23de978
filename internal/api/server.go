// Package api provides the HTTP API server implementation for triagedeck.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rossant/triagedeck/internal/api/middleware"
	"github.com/rossant/triagedeck/internal/authz"
	"github.com/rossant/triagedeck/internal/clock"
	"github.com/rossant/triagedeck/internal/cursor"
	"github.com/rossant/triagedeck/internal/export"
	"github.com/rossant/triagedeck/internal/ingest"
	"github.com/rossant/triagedeck/internal/query"
	"github.com/rossant/triagedeck/internal/resolver"
	"github.com/rossant/triagedeck/internal/storage"
)

// Interface assertions. These cannot live in internal/storage itself:
// ingest, query, and export each import storage for their domain types
// (storage.Item, storage.DecisionEvent, ...), so storage importing them
// back would cycle. This package already imports everything being wired
// together, so the assertions live here instead.
var (
	_ ingest.Store  = (*storage.PostgresStore)(nil)
	_ query.Store   = (*storage.PostgresStore)(nil)
	_ export.Store  = (*storage.PostgresStore)(nil)
)

// Server represents the HTTP API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	config     *ServerConfig
	startTime  time.Time

	store           *storage.PostgresStore
	identityStore   authz.IdentityStore
	evaluator       *authz.Evaluator
	rateLimiter     middleware.RateLimiter
	ingestEngine    *ingest.Engine
	queryEngine     *query.Engine
	exportCtrl      *export.Controller
	exportWorker    *export.Worker
	exportSweeper   *export.Sweeper
}

// NewServer wires the HTTP API over the given dependencies. Dependencies
// are injected explicitly rather than buried inside ServerConfig, so
// configuration (what) stays separate from wiring (how).
//
// store and identityStore are required (the server panics if either is
// nil); a nil rateLimiter disables rate limiting. The authorization
// evaluator is built here rather than injected.
func NewServer(
	cfg *ServerConfig,
	store *storage.PostgresStore,
	identityStore authz.IdentityStore,
	rateLimiter middleware.RateLimiter,
) *Server {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))

	if store == nil || identityStore == nil {
		logger.Error("store and identityStore are required - cannot start server without them")
		panic("api: store and identityStore must not be nil - this indicates a configuration error")
	}

	evaluator := authz.NewEvaluator()

	cursorCodec, err := cursor.NewCodec(cfg.CursorSecret)
	if err != nil {
		panic(fmt.Errorf("api: create cursor codec: %w", err))
	}

	mediaResolver := buildResolver(cfg)

	ingestEngine := ingest.New(store, clock.System{}, cfg.SkewWindow)
	queryEngine := query.New(store, cursorCodec, mediaResolver)
	exportCtrl := export.NewController(store, evaluator)

	artifacts, err := storage.NewLocalArtifactStore(cfg.ArtifactBaseDir)
	if err != nil {
		panic(fmt.Errorf("api: create artifact store: %w", err))
	}

	exportWorker := export.NewWorker(store, artifacts, logger, cfg.WorkerPoolSize)
	exportSweeper := export.NewSweeper(store, logger, time.Hour)

	mux := http.NewServeMux()

	server := &Server{
		logger:        logger,
		config:        cfg,
		store:         store,
		identityStore: identityStore,
		evaluator:     evaluator,
		rateLimiter:   rateLimiter,
		ingestEngine:  ingestEngine,
		queryEngine:   queryEngine,
		exportCtrl:    exportCtrl,
		exportWorker:  exportWorker,
		exportSweeper: exportSweeper,
	}

	server.setupRoutes(mux)

	if rateLimiter != nil {
		logger.Info("rate limiting middleware enabled")
	} else {
		logger.Warn("rate limiter not configured - rate limiting middleware disabled")
	}

	// Middleware executes in the order listed (top-to-bottom):
	//   1. CorrelationID - generate correlation ID for all responses
	//   2. Recovery - catch panics in all downstream middleware
	//   3. Auth - resolve the caller's identity, skip for public routes
	//   4. RateLimit - block requests before expensive operations (optional)
	//   5. RequestLogger - log only legitimate requests (not rate-limited spam)
	//   6. CORS - lightweight header manipulation
	handler := middleware.Apply(mux,
		middleware.WithCorrelationID(),
		middleware.WithRecovery(logger),
		middleware.WithAuth(identityStore, logger),
		middleware.WithRateLimit(rateLimiter, logger),
		middleware.WithRequestLogger(logger),
		middleware.WithCORS(cfg.ToCORSConfig()),
	)

	server.httpServer = &http.Server{
		Addr:         cfg.Address(),
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return server
}

// buildResolver selects an HMACResolver when cfg names a signing secret,
// falling back to PassthroughResolver for deployments that serve media
// from an already-public location.
func buildResolver(cfg *ServerConfig) resolver.Resolver {
	if len(cfg.ResolverSecret) == 0 {
		return resolver.PassthroughResolver{}
	}

	res, err := resolver.NewHMACResolver(cfg.ResolverSecret, cfg.ResolverBaseURL)
	if err != nil {
		panic(fmt.Errorf("api: create media resolver: %w", err))
	}

	return res
}

// Start starts the HTTP server, the export worker pool, and the export
// expiry sweeper, then blocks until shutdown.
func (s *Server) Start() error {
	if err := s.config.Validate(); err != nil {
		return fmt.Errorf("invalid server configuration: %w", err)
	}

	s.startTime = time.Now()

	go s.exportWorker.Run()
	go s.exportSweeper.Run()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("starting triagedeck API server",
			slog.String("address", s.config.Address()),
			slog.Duration("read_timeout", s.config.ReadTimeout),
			slog.Duration("write_timeout", s.config.WriteTimeout),
			slog.Duration("shutdown_timeout", s.config.ShutdownTimeout),
		)

		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("server failed to start",
				slog.String("address", s.config.Address()),
				slog.String("error", err.Error()),
			)

			serverErrors <- fmt.Errorf("server failed to start: %w", err)
		}
	}()

	select {
	case err := <-serverErrors:
		return err
	case sig := <-stop:
		s.logger.Info("received shutdown signal", slog.String("signal", sig.String()))

		return s.shutdown()
	}
}

// shutdown gracefully shuts down the HTTP server and every background
// worker, then closes dependencies best-effort.
func (s *Server) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	s.logger.Info("initiating server shutdown", slog.Duration("shutdown_timeout", s.config.ShutdownTimeout))

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("server shutdown failed", slog.String("error", err.Error()))

		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.exportWorker.Stop()
	s.exportSweeper.Stop()

	s.closeDependency("rate limiter", s.rateLimiter)
	s.closeDependency("store", s.store)

	s.logger.Info("server shutdown completed successfully")

	return nil
}

// closeDependency attempts to close a server dependency that implements
// io.Closer. Logs the operation and its result; errors are logged but
// don't stop shutdown (best-effort).
func (s *Server) closeDependency(name string, dep any) {
	if dep == nil {
		return
	}

	closer, ok := dep.(io.Closer)
	if !ok {
		return
	}

	s.logger.Info("closing " + name)

	if err := closer.Close(); err != nil {
		s.logger.Error("failed to close "+name, slog.String("error", err.Error()))

		return
	}

	s.logger.Info(name + " closed successfully")
}
