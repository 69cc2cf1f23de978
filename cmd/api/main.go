// Command api runs the triagedeck HTTP API server: project catalogs,
// decision ingestion, and dataset exports over a PostgreSQL store.
package main

import (
	"flag"
	"log"
	"log/slog"
	"os"

	"github.com/rossant/triagedeck/internal/api"
	"github.com/rossant/triagedeck/internal/api/middleware"
	"github.com/rossant/triagedeck/internal/authz"
	"github.com/rossant/triagedeck/internal/config"
	"github.com/rossant/triagedeck/internal/storage"
)

const (
	version = "0.1.0-dev"
	name    = "triagedeck-api"
)

func main() {
	versionFlag := flag.Bool("version", false, "show version information")
	flag.Parse()

	if *versionFlag {
		log.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	serverConfig := api.LoadServerConfig()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: serverConfig.LogLevel,
	}))

	logger.Info("starting triagedeck API service",
		slog.String("service", name),
		slog.String("version", version),
	)

	dbConfig := storage.LoadConfig()
	if err := dbConfig.Validate(); err != nil {
		logger.Error("invalid database configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	conn, err := storage.NewConnection(dbConfig)
	if err != nil {
		logger.Error("failed to connect to database",
			slog.String("database_url", dbConfig.MaskDatabaseURL()),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	store := storage.NewPostgresStore(conn)

	identityStore := authz.NewStaticIdentityStore()

	if seedPath := config.GetEnvStr("TRIAGEDECK_IDENTITY_SEED_FILE", ""); seedPath != "" {
		if err := authz.LoadSeedFile(identityStore, seedPath); err != nil {
			logger.Error("failed to load identity seed file",
				slog.String("path", seedPath),
				slog.String("error", err.Error()),
			)
			os.Exit(1)
		}

		logger.Info("loaded identity seed file", slog.String("path", seedPath))
	} else {
		logger.Warn("no TRIAGEDECK_IDENTITY_SEED_FILE configured - no callers will be able to authenticate")
	}

	rateLimiter := middleware.NewInMemoryRateLimiter(middleware.LoadConfig())

	server := api.NewServer(&serverConfig, store, identityStore, rateLimiter)

	if err := server.Start(); err != nil {
		logger.Error("server failed to start", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("triagedeck API service stopped")
}
