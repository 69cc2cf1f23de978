package storage

import (
	"context"
	"log/slog"
	"os"
)

// PostgresStore implements ingest.Store, query.Store, and export.Store
// against a single PostgreSQL connection pool. Following the same
// Dependency Inversion shape as the domain packages themselves, it is
// the one concrete type that knows about all three.
//
// PostgresStore cannot assert those interfaces here: ingest, query, and
// export each import storage for its domain types (Item, DecisionEvent,
// ExportJob, ...), so storage importing them back would cycle. The
// compile-time assertions instead live in internal/api/server.go, which
// already imports every package that needs wiring together.
type PostgresStore struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPostgresStore wraps an already-opened Connection.
func NewPostgresStore(conn *Connection) *PostgresStore {
	return &PostgresStore{
		conn: conn,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: getEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		})),
	}
}

// Close closes the underlying connection pool. Safe to call more than once.
func (s *PostgresStore) Close() error {
	return s.conn.Close()
}

// HealthCheck verifies the underlying connection is still reachable, for
// readiness probes.
func (s *PostgresStore) HealthCheck(ctx context.Context) error {
	return s.conn.HealthCheck(ctx)
}
