package query_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rossant/triagedeck/internal/cursor"
	"github.com/rossant/triagedeck/internal/query"
	"github.com/rossant/triagedeck/internal/resolver"
	"github.com/rossant/triagedeck/internal/storage"
)

type fakeStore struct {
	items     []storage.Item
	lastLimit int
	lastAfter *query.Cursor
}

func (f *fakeStore) ListProjects(_ context.Context, _ func(string) bool) ([]storage.Project, error) {
	return nil, nil
}

func (f *fakeStore) GetProject(_ context.Context, _ string) (storage.Project, bool, error) {
	return storage.Project{}, false, nil
}

func (f *fakeStore) ListItems(_ context.Context, _ string, after *query.Cursor, limit int) ([]storage.Item, string, error) {
	f.lastAfter = after
	f.lastLimit = limit

	return f.items, "", nil
}

func (f *fakeStore) GetItem(_ context.Context, _, itemID string) (storage.Item, bool, error) {
	for _, item := range f.items {
		if item.ID == itemID {
			return item, true, nil
		}
	}

	return storage.Item{}, false, nil
}

func (f *fakeStore) ListLatestDecisions(_ context.Context, _, _ string, _ *query.Cursor, _ int) ([]storage.DecisionLatest, string, error) {
	return nil, "", nil
}

func (f *fakeStore) ListExportJobs(_ context.Context, _ string, _ func(string) bool, _ *query.Cursor, _ int) ([]storage.ExportJob, string, error) {
	return nil, "", nil
}

func (f *fakeStore) GetExportJob(_ context.Context, _, _ string) (storage.ExportJob, bool, error) {
	return storage.ExportJob{}, false, nil
}

func newCodec(t *testing.T) *cursor.Codec {
	t.Helper()

	c, err := cursor.NewCodec([]byte("test-secret-key-material"))
	require.NoError(t, err)

	return c
}

func TestListItemsClampsLimit(t *testing.T) {
	store := &fakeStore{}
	engine := query.New(store, newCodec(t), resolver.PassthroughResolver{})

	_, _, err := engine.ListItems(context.Background(), "proj-1", "", 10_000)
	require.NoError(t, err)
	require.Equal(t, 200, store.lastLimit)

	_, _, err = engine.ListItems(context.Background(), "proj-1", "", 0)
	require.NoError(t, err)
	require.Equal(t, 100, store.lastLimit)

	_, _, err = engine.ListItems(context.Background(), "proj-1", "", 42)
	require.NoError(t, err)
	require.Equal(t, 42, store.lastLimit)
}

func TestListItemsRejectsInvalidCursor(t *testing.T) {
	store := &fakeStore{}
	engine := query.New(store, newCodec(t), resolver.PassthroughResolver{})

	_, _, err := engine.ListItems(context.Background(), "proj-1", "garbage", 10)
	require.ErrorIs(t, err, cursor.ErrInvalidCursor)
}

func TestListItemsDecodesCursorIntoAfter(t *testing.T) {
	store := &fakeStore{}
	codec := newCodec(t)
	engine := query.New(store, codec, resolver.PassthroughResolver{})

	token, err := engine.EncodeItemsCursor("00042", "item-7")
	require.NoError(t, err)

	_, _, err = engine.ListItems(context.Background(), "proj-1", token, 10)
	require.NoError(t, err)
	require.NotNil(t, store.lastAfter)
	require.Equal(t, "00042", store.lastAfter.SortKey)
	require.Equal(t, "item-7", store.lastAfter.ItemID)
}

func TestItemURLResolvesVariant(t *testing.T) {
	store := &fakeStore{items: []storage.Item{
		{
			ID:         "item-1",
			LogicalURI: "s3://bucket/item-1.jpg",
			Variants: []storage.ItemVariant{
				{VariantKey: "crop", LogicalURI: "s3://bucket/item-1-crop.jpg"},
			},
		},
	}}
	engine := query.New(store, newCodec(t), resolver.PassthroughResolver{})

	url, _, err := engine.ItemURL(context.Background(), "proj-1", "item-1", "crop", time.Minute)
	require.NoError(t, err)
	require.Equal(t, "s3://bucket/item-1-crop.jpg", url)

	url, _, err = engine.ItemURL(context.Background(), "proj-1", "item-1", "", time.Minute)
	require.NoError(t, err)
	require.Equal(t, "s3://bucket/item-1.jpg", url)

	_, _, err = engine.ItemURL(context.Background(), "proj-1", "item-1", "missing", time.Minute)
	require.ErrorIs(t, err, query.ErrVariantNotFound)
}
