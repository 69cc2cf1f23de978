package ingest_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"github.com/rossant/triagedeck/internal/clock"
	"github.com/rossant/triagedeck/internal/ingest"
)

// fakeKafkaReader replays a fixed queue of messages, then blocks until ctx
// is cancelled, so Run's main loop can be exercised without a broker.
type fakeKafkaReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	committed []kafka.Message
}

func (f *fakeKafkaReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	f.mu.Lock()
	if len(f.queue) > 0 {
		msg := f.queue[0]
		f.queue = f.queue[1:]
		f.mu.Unlock()

		return msg, nil
	}
	f.mu.Unlock()

	<-ctx.Done()

	return kafka.Message{}, ctx.Err()
}

func (f *fakeKafkaReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.committed = append(f.committed, msgs...)

	return nil
}

func (f *fakeKafkaReader) Close() error { return nil }

func TestKafkaRelayAppliesAndCommitsValidBatch(t *testing.T) {
	store := newFakeStore()
	itemID := uuid.NewString()
	store.items[itemID] = true

	engine := ingest.New(store, clock.Fixed(1_000_000_000_000), 24*time.Hour)

	payload, err := json.Marshal(ingest.KafkaMessage{
		ProjectID: "proj-1",
		UserID:    "user-1",
		Events: []ingest.Event{
			{EventID: uuid.NewString(), ItemID: itemID, DecisionID: "keep", TSClient: 100},
		},
	})
	require.NoError(t, err)

	reader := &fakeKafkaReader{queue: []kafka.Message{{Offset: 1, Value: payload}}}
	relay := ingest.NewKafkaRelay(engine, reader, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() { done <- relay.Run(ctx) }()

	require.Eventually(t, func() bool {
		reader.mu.Lock()
		defer reader.mu.Unlock()

		return len(reader.committed) == 1
	}, time.Second, time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	require.Len(t, store.latest, 1)
}

func TestKafkaRelaySkipsAndCommitsMalformedMessage(t *testing.T) {
	store := newFakeStore()
	engine := ingest.New(store, clock.Fixed(1_000_000_000_000), 24*time.Hour)

	reader := &fakeKafkaReader{queue: []kafka.Message{{Offset: 7, Value: []byte("not json")}}}
	relay := ingest.NewKafkaRelay(engine, reader, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() { done <- relay.Run(ctx) }()

	require.Eventually(t, func() bool {
		reader.mu.Lock()
		defer reader.mu.Unlock()

		return len(reader.committed) == 1
	}, time.Second, time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	require.Empty(t, store.latest)
}

func TestKafkaRelayReturnsNilOnContextCanceled(t *testing.T) {
	store := newFakeStore()
	engine := ingest.New(store, clock.Fixed(1_000_000_000_000), 24*time.Hour)

	reader := &fakeKafkaReader{}
	relay := ingest.NewKafkaRelay(engine, reader, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := relay.Run(ctx)
	require.True(t, err == nil || errors.Is(err, context.Canceled))
}
