package catalog_test

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonno85/warc-ingest/internal/catalog"
	"github.com/jonno85/warc-ingest/internal/domain"
)

func newCatalog(t *testing.T, quota int64) *catalog.Store {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return catalog.NewStore(rdb, quota)
}

func TestSanitizeTitle(t *testing.T) {
	assert.Equal(t, "my-great-collection", catalog.SanitizeTitle("  My Great   Collection! "))
	assert.Equal(t, "collection", catalog.SanitizeTitle("???"))
	assert.Equal(t, "a1-b2", catalog.SanitizeTitle("A1_B2"))
}

func TestUser_RemainingSpace(t *testing.T) {
	store := newCatalog(t, 1000)
	ctx := context.Background()
	user := store.User("alice")

	space, err := user.RemainingSpace(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), space)

	require.NoError(t, store.AddUsage(ctx, "alice", 300))
	space, err = user.RemainingSpace(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(700), space)

	require.NoError(t, store.SetQuota(ctx, "alice", 5000))
	space, err = user.RemainingSpace(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4700), space)
}

func TestUser_CreateCollectionDupes(t *testing.T) {
	store := newCatalog(t, 0)
	ctx := context.Background()
	user := store.User("bob")

	first, err := user.CreateCollection(ctx, catalog.CollectionSpec{Title: "My Coll", AllowDupe: true})
	require.NoError(t, err)
	assert.Equal(t, "my-coll", first.Name())

	second, err := user.CreateCollection(ctx, catalog.CollectionSpec{Title: "My Coll", AllowDupe: true})
	require.NoError(t, err)
	assert.Equal(t, "my-coll-2", second.Name())
	assert.NotEqual(t, first.ID(), second.ID())

	_, err = user.CreateCollection(ctx, catalog.CollectionSpec{Name: "my-coll"})
	assert.ErrorIs(t, err, catalog.ErrCollectionExists)

	has, err := user.HasCollection(ctx, "my-coll-2")
	require.NoError(t, err)
	assert.True(t, has)

	found, err := user.CollectionByName(ctx, "my-coll-2")
	require.NoError(t, err)
	assert.Equal(t, second.ID(), found.ID())
	title, err := found.Property(ctx, "title")
	require.NoError(t, err)
	assert.Equal(t, "My Coll", title)

	_, err = user.CollectionByName(ctx, "nope")
	assert.ErrorIs(t, err, domain.ErrCollectionNotFound)
}

func TestCollection_CreateRecordingAndPages(t *testing.T) {
	store := newCatalog(t, 0)
	ctx := context.Background()
	coll, err := store.User("carol").CreateCollection(ctx, catalog.CollectionSpec{Name: "c"})
	require.NoError(t, err)

	rec, err := coll.CreateRecording(ctx, catalog.RecordingSpec{
		Title:          "Rec",
		Description:    "desc",
		RecType:        "patch",
		RemoteArchives: []string{"ia"},
	})
	require.NoError(t, err)

	rc := rec.(*catalog.RedisRecording)
	recType, err := rc.Property(ctx, "rec_type")
	require.NoError(t, err)
	assert.Equal(t, "patch", recType)

	ra, err := rc.RemoteArchives(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"ia"}, ra)

	recs, err := coll.(*catalog.RedisCollection).Recordings(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{rec.ID()}, recs)

	page := domain.PageEntry{URL: "http://example.com/", Title: "Home", Timestamp: "20200101000000"}
	require.NoError(t, rec.ImportPages(ctx, []domain.PageEntry{page, page}))
	require.NoError(t, rec.ImportPages(ctx, nil))

	stored, err := rc.Pages(ctx)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, page, stored[catalog.PageID(page)])
	assert.Len(t, catalog.PageID(page), 10)
}
