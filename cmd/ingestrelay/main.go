// Command ingestrelay consumes decision events from Kafka and applies
// them through the same ingest engine the HTTP API's POST /events path
// uses, for offline and bulk-sync clients that batch their reviews
// instead of calling the API directly.
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

	"github.com/segmentio/kafka-go"

	"github.com/rossant/triagedeck/internal/clock"
	"github.com/rossant/triagedeck/internal/config"
	"github.com/rossant/triagedeck/internal/ingest"
	"github.com/rossant/triagedeck/internal/storage"
)

const (
	version = "0.1.0-dev"
	name    = "ingestrelay"

	defaultSkewWindow = 5 * time.Minute
	defaultGroupID    = "triagedeck-ingestrelay"
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

	logger.Info("starting decision event relay", slog.String("service", name), slog.String("version", version))

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

	skewWindow := config.GetEnvDuration("TRIAGEDECK_SKEW_WINDOW", defaultSkewWindow)
	engine := ingest.New(store, clock.System{}, skewWindow)

	brokers := config.ParseCommaSeparatedList(config.GetEnvStr("TRIAGEDECK_KAFKA_BROKERS", "localhost:9092"))
	topic := config.GetEnvStr("TRIAGEDECK_KAFKA_TOPIC", "triagedeck.decision-events")
	groupID := config.GetEnvStr("TRIAGEDECK_KAFKA_GROUP_ID", defaultGroupID)

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: brokers,
		Topic:   topic,
		GroupID: groupID,
	})
	defer reader.Close()

	relay := ingest.NewKafkaRelay(engine, reader, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("consuming decision event batches",
		slog.Any("brokers", brokers),
		slog.String("topic", topic),
		slog.String("group_id", groupID),
	)

	if err := relay.Run(ctx); err != nil {
		logger.Error("relay stopped with error", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("decision event relay stopped")
}
