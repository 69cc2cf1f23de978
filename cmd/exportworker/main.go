// Command exportworker runs the export job pool and expiry sweeper as a
// standalone process, separate from the HTTP API, so export throughput
// can scale independently of request handling. The API server embeds
// its own copy of both for single-process deployments (spec §4.7); a
// deployment running this binary should lower
// TRIAGEDECK_EXPORT_WORKER_POOL_SIZE on the API process to avoid paying
// for idle capacity twice (a size below 1 still starts one worker loop). Running both concurrently is safe either
// way: ClaimNextExportJob claims each queued job exactly once.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rossant/triagedeck/internal/config"
	"github.com/rossant/triagedeck/internal/export"
	"github.com/rossant/triagedeck/internal/storage"
)

const (
	version = "0.1.0-dev"
	name    = "exportworker"

	defaultPoolSize      = 2
	defaultSweepInterval = time.Hour
	defaultArtifactDir   = "./data/exports"
)

func main() {
	versionFlag := flag.Bool("version", false, "show version information")
	flag.Parse()

	if *versionFlag {
		log.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	logLevel := config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))

	logger.Info("starting export worker", slog.String("service", name), slog.String("version", version))

	dbConfig := storage.LoadConfig()
	if err := dbConfig.Validate(); err != nil {
		logger.Error("invalid database configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	conn, err := storage.NewConnection(dbConfig)
	if err != nil {
		logger.Error("failed to connect to database", slog.String("error", err.Error()))
		os.Exit(1)
	}

	store := storage.NewPostgresStore(conn)
	defer store.Close()

	artifactDir := config.GetEnvStr("TRIAGEDECK_ARTIFACT_BASE_DIR", defaultArtifactDir)

	artifacts, err := storage.NewLocalArtifactStore(artifactDir)
	if err != nil {
		logger.Error("failed to create artifact store",
			slog.String("base_dir", artifactDir),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	poolSize := config.GetEnvInt("TRIAGEDECK_EXPORT_WORKER_POOL_SIZE", defaultPoolSize)
	sweepInterval := config.GetEnvDuration("TRIAGEDECK_EXPORT_SWEEP_INTERVAL", defaultSweepInterval)

	worker := export.NewWorker(store, artifacts, logger, poolSize)
	sweeper := export.NewSweeper(store, logger, sweepInterval)

	go worker.Run()
	go sweeper.Run()

	logger.Info("export worker running",
		slog.Int("pool_size", poolSize),
		slog.Duration("sweep_interval", sweepInterval),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()

	logger.Info("shutting down export worker")

	worker.Stop()
	sweeper.Stop()

	logger.Info("export worker stopped")
}
