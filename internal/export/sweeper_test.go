package export_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rossant/triagedeck/internal/export"
	"github.com/rossant/triagedeck/internal/storage"
)

func TestSweeperExpiresPastTTLJobs(t *testing.T) {
	store := newFakeStore()

	past := time.Now().Add(-time.Minute)
	future := time.Now().Add(time.Hour)

	store.jobs["expired"] = storage.ExportJob{ID: "expired", Status: storage.ExportReady, ExpiresAt: &past}
	store.jobs["fresh"] = storage.ExportJob{ID: "fresh", Status: storage.ExportReady, ExpiresAt: &future}

	sweeper := export.NewSweeper(store, testLogger(), 10*time.Millisecond)

	go sweeper.Run()
	t.Cleanup(sweeper.Stop)

	require.Eventually(t, func() bool {
		return store.jobs["expired"].Status == storage.ExportExpired
	}, time.Second, 5*time.Millisecond)

	require.Equal(t, storage.ExportReady, store.jobs["fresh"].Status)
}

func TestSweeperStopIsIdempotent(t *testing.T) {
	store := newFakeStore()
	sweeper := export.NewSweeper(store, testLogger(), time.Hour)

	go sweeper.Run()

	sweeper.Stop()
	sweeper.Stop()
}
