package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/segmentio/kafka-go"
)

// KafkaMessage is the wire shape of one relayed message: a single
// caller's batch, identical to the POST /events request body, routed by
// project and user so every consumer instance can share one topic.
type KafkaMessage struct {
	ProjectID string  `json:"project_id"`
	UserID    string  `json:"user_id"`
	ClientID  string  `json:"client_id,omitempty"`
	SessionID string  `json:"session_id,omitempty"`
	Events    []Event `json:"events"`
}

// KafkaReader is the subset of *kafka.Reader the relay depends on, so
// tests can substitute a fake without a running broker.
type KafkaReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaRelay consumes batches of decision events from a Kafka topic and
// applies each through the same Engine.Apply used by the synchronous
// POST /events path — the offline/bulk-sync ingestion route spec §4.4
// alludes to without naming a transport. A message is committed only
// after Apply returns successfully, so a crash before commit redelivers
// the batch; Apply's idempotent ApplyEvent makes redelivery safe.
type KafkaRelay struct {
	engine *Engine
	source KafkaReader
	logger *slog.Logger
}

// NewKafkaRelay returns a relay that applies batches read from source
// through engine.
func NewKafkaRelay(engine *Engine, source KafkaReader, logger *slog.Logger) *KafkaRelay {
	return &KafkaRelay{engine: engine, source: source, logger: logger}
}

// Run consumes messages until ctx is cancelled or the reader returns a
// non-recoverable error. A malformed message is logged and committed
// (skipped) rather than retried forever.
func (r *KafkaRelay) Run(ctx context.Context) error {
	for {
		msg, err := r.source.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}

			return err
		}

		r.handle(ctx, msg)
	}
}

func (r *KafkaRelay) handle(ctx context.Context, msg kafka.Message) {
	var relayed KafkaMessage

	if err := json.Unmarshal(msg.Value, &relayed); err != nil {
		r.logger.Error("discarding malformed kafka relay message",
			slog.String("error", err.Error()),
			slog.Int64("offset", msg.Offset),
		)
		r.commit(ctx, msg)

		return
	}

	batch := Batch{
		ProjectID: relayed.ProjectID,
		UserID:    relayed.UserID,
		ClientID:  relayed.ClientID,
		SessionID: relayed.SessionID,
		Events:    relayed.Events,
	}

	resp, err := r.engine.Apply(ctx, batch)
	if err != nil {
		r.logger.Error("relayed batch application failed, will redeliver",
			slog.String("project_id", relayed.ProjectID),
			slog.String("user_id", relayed.UserID),
			slog.String("error", err.Error()),
		)

		return
	}

	r.logger.Info("applied relayed batch",
		slog.String("project_id", relayed.ProjectID),
		slog.String("user_id", relayed.UserID),
		slog.Int("accepted", resp.Accepted),
		slog.Int("duplicate", resp.Duplicate),
		slog.Int("rejected", resp.Rejected),
	)

	r.commit(ctx, msg)
}

func (r *KafkaRelay) commit(ctx context.Context, msg kafka.Message) {
	if err := r.source.CommitMessages(ctx, msg); err != nil {
		r.logger.Error("failed to commit kafka offset",
			slog.Int64("offset", msg.Offset),
			slog.String("error", err.Error()),
		)
	}
}
