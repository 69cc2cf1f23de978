package ingest_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/rossant/triagedeck/internal/clock"
	"github.com/rossant/triagedeck/internal/ingest"
	"github.com/rossant/triagedeck/internal/storage"
)

type fakeStore struct {
	items  map[string]bool
	schema storage.DecisionSchema
	events map[string]storage.DecisionEvent // keyed by project/user/event_id
	latest map[string]storage.DecisionLatest
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		items: map[string]bool{},
		schema: storage.DecisionSchema{
			Version:    1,
			Choices:    []storage.SchemaChoice{{ID: "keep"}, {ID: "discard"}},
			AllowNotes: true,
		},
		events: map[string]storage.DecisionEvent{},
		latest: map[string]storage.DecisionLatest{},
	}
}

func (f *fakeStore) ItemExists(_ context.Context, _, itemID string) (bool, error) {
	return f.items[itemID], nil
}

func (f *fakeStore) ActiveDecisionSchema(_ context.Context, _ string) (storage.DecisionSchema, error) {
	return f.schema, nil
}

func (f *fakeStore) ApplyEvent(_ context.Context, event storage.DecisionEvent) (storage.ApplyOutcome, error) {
	idemKey := event.ProjectID + "/" + event.UserID + "/" + event.EventID
	if _, ok := f.events[idemKey]; ok {
		return storage.OutcomeDuplicate, nil
	}

	f.events[idemKey] = event

	latestKey := event.ProjectID + "/" + event.UserID + "/" + event.ItemID

	incumbent, ok := f.latest[latestKey]

	var incumbentPtr *storage.DecisionLatest
	if ok {
		incumbentPtr = &incumbent
	}

	if event.Outranks(incumbentPtr) {
		f.latest[latestKey] = storage.DecisionLatest{
			ProjectID:         event.ProjectID,
			UserID:            event.UserID,
			ItemID:            event.ItemID,
			EventID:           event.EventID,
			DecisionID:        event.DecisionID,
			Note:              event.Note,
			TSClient:          event.TSClient,
			TSClientEffective: event.TSClientEffective,
			TSServer:          event.TSServer,
		}
	}

	return storage.OutcomeAccepted, nil
}

func TestApplyDuplicateAbsorption(t *testing.T) {
	store := newFakeStore()
	itemID := uuid.NewString()
	store.items[itemID] = true

	eventID := uuid.NewString()
	engine := ingest.New(store, clock.Fixed(1_000_000_000_000), 24*time.Hour)

	batch := ingest.Batch{
		ProjectID: "proj-1",
		UserID:    "user-1",
		Events: []ingest.Event{
			{EventID: eventID, ItemID: itemID, DecisionID: "keep", TSClient: 100},
			{EventID: eventID, ItemID: itemID, DecisionID: "keep", TSClient: 100},
		},
	}

	resp, err := engine.Apply(context.Background(), batch)
	require.NoError(t, err)
	require.Equal(t, 2, resp.Acked)
	require.Equal(t, 1, resp.Accepted)
	require.Equal(t, 1, resp.Duplicate)
	require.Equal(t, 0, resp.Rejected)
	require.Len(t, store.events, 1)
}

func TestApplyOutOfOrderConvergence(t *testing.T) {
	itemID := uuid.NewString()
	eventA := uuid.NewString()
	eventB := uuid.NewString()

	run := func(order []ingest.Event) string {
		store := newFakeStore()
		store.items[itemID] = true
		engine := ingest.New(store, clock.Fixed(1_000_000_000_000), 24*time.Hour)

		_, err := engine.Apply(context.Background(), ingest.Batch{
			ProjectID: "proj-1",
			UserID:    "user-1",
			Events:    order,
		})
		require.NoError(t, err)

		return store.latest["proj-1/user-1/"+itemID].EventID
	}

	a := ingest.Event{EventID: eventA, ItemID: itemID, DecisionID: "keep", TSClient: 100}
	b := ingest.Event{EventID: eventB, ItemID: itemID, DecisionID: "discard", TSClient: 90}

	require.Equal(t, eventA, run([]ingest.Event{a, b}))
	require.Equal(t, eventA, run([]ingest.Event{b, a}))
}

func TestApplyRejectsUnknownItem(t *testing.T) {
	store := newFakeStore()
	engine := ingest.New(store, clock.Fixed(1_000_000_000_000), 24*time.Hour)

	resp, err := engine.Apply(context.Background(), ingest.Batch{
		ProjectID: "proj-1",
		UserID:    "user-1",
		Events: []ingest.Event{
			{EventID: uuid.NewString(), ItemID: uuid.NewString(), DecisionID: "keep", TSClient: 1},
		},
	})
	require.NoError(t, err)
	require.Equal(t, 1, resp.Rejected)
	require.Equal(t, ingest.ErrCodeUnknownItem, resp.Results[0].ErrorCode)
}

func TestApplyRejectsInvalidDecisionID(t *testing.T) {
	store := newFakeStore()
	itemID := uuid.NewString()
	store.items[itemID] = true

	engine := ingest.New(store, clock.Fixed(1_000_000_000_000), 24*time.Hour)

	resp, err := engine.Apply(context.Background(), ingest.Batch{
		ProjectID: "proj-1",
		UserID:    "user-1",
		Events: []ingest.Event{
			{EventID: uuid.NewString(), ItemID: itemID, DecisionID: "not-a-choice", TSClient: 1},
		},
	})
	require.NoError(t, err)
	require.Equal(t, 1, resp.Rejected)
	require.Equal(t, ingest.ErrCodeInvalidDecisionID, resp.Results[0].ErrorCode)
}

func TestApplyRejectsNoteWhenSchemaDisallows(t *testing.T) {
	store := newFakeStore()
	store.schema.AllowNotes = false
	itemID := uuid.NewString()
	store.items[itemID] = true

	engine := ingest.New(store, clock.Fixed(1_000_000_000_000), 24*time.Hour)

	resp, err := engine.Apply(context.Background(), ingest.Batch{
		ProjectID: "proj-1",
		UserID:    "user-1",
		Events: []ingest.Event{
			{EventID: uuid.NewString(), ItemID: itemID, DecisionID: "keep", Note: "hello", TSClient: 1},
		},
	})
	require.NoError(t, err)
	require.Equal(t, 1, resp.Rejected)
	require.Equal(t, ingest.ErrCodeInvalidNote, resp.Results[0].ErrorCode)
}

func TestApplyClampsSkew(t *testing.T) {
	store := newFakeStore()
	itemID := uuid.NewString()
	store.items[itemID] = true

	const now = 1_000_000_000_000

	engine := ingest.New(store, clock.Fixed(now), 24*time.Hour)

	eventID := uuid.NewString()

	_, err := engine.Apply(context.Background(), ingest.Batch{
		ProjectID: "proj-1",
		UserID:    "user-1",
		Events: []ingest.Event{
			{EventID: eventID, ItemID: itemID, DecisionID: "keep", TSClient: 0},
		},
	})
	require.NoError(t, err)

	latest := store.latest["proj-1/user-1/"+itemID]
	require.Equal(t, int64(now-24*60*60*1000), latest.TSClientEffective)
}

func TestApplyRejectsBatchTooLarge(t *testing.T) {
	store := newFakeStore()
	engine := ingest.New(store, clock.Fixed(1), 1)

	events := make([]ingest.Event, ingest.MaxBatchSize+1)
	_, err := engine.Apply(context.Background(), ingest.Batch{ProjectID: "p", UserID: "u", Events: events})
	require.Error(t, err)
}
