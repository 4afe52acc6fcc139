package service_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonno85/warc-ingest/internal/adapter"
	"github.com/jonno85/warc-ingest/internal/importer"
	"github.com/jonno85/warc-ingest/internal/service"
)

type fakeIngester struct {
	mu    sync.Mutex
	calls [][]string
	got   chan struct{}
}

func (f *fakeIngester) IngestMany(_ context.Context, user string, paths []string) (importer.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, paths)
	f.mu.Unlock()
	f.got <- struct{}{}
	return importer.Result{UploadID: "X", User: user}, nil
}

func newRegistry(t *testing.T) *adapter.PathRegistry {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return adapter.NewPathRegistry(rdb)
}

func TestIsArchiveFile(t *testing.T) {
	assert.True(t, service.IsArchiveFile("/drop/a.warc"))
	assert.True(t, service.IsArchiveFile("/drop/a.WARC.GZ"))
	assert.True(t, service.IsArchiveFile("/drop/a.har"))
	assert.False(t, service.IsArchiveFile("/drop/a.mp4"))
	assert.False(t, service.IsArchiveFile("/drop/a.warc.tmp"))
}

func TestPathWatcher_IngestsDroppedFilesAsOneBatch(t *testing.T) {
	dir := t.TempDir()
	ing := &fakeIngester{got: make(chan struct{}, 4)}
	admin := service.NewPathWatcherAdmin(newRegistry(t), ing, "watcher", 100*time.Millisecond)
	defer admin.Close()
	ctx := context.Background()

	require.NoError(t, admin.AddAndWatchPath(ctx, dir))

	a := filepath.Join(dir, "a.warc")
	b := filepath.Join(dir, "b.har")
	require.NoError(t, os.WriteFile(a, []byte("a"), 0o600))
	require.NoError(t, os.WriteFile(b, []byte("b"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ignored.txt"), []byte("x"), 0o600))

	select {
	case <-ing.got:
	case <-time.After(5 * time.Second):
		t.Fatal("dropped files were not ingested")
	}

	ing.mu.Lock()
	defer ing.mu.Unlock()
	require.Len(t, ing.calls, 1)
	assert.Equal(t, []string{a, b}, ing.calls[0])
}

func TestPathWatcher_AddRemove(t *testing.T) {
	dir := t.TempDir()
	reg := newRegistry(t)
	admin := service.NewPathWatcherAdmin(reg, &fakeIngester{got: make(chan struct{}, 1)}, "watcher", time.Second)
	defer admin.Close()
	ctx := context.Background()

	require.NoError(t, admin.AddAndWatchPath(ctx, dir))
	assert.ErrorIs(t, admin.AddAndWatchPath(ctx, dir), service.ErrPathAlreadyWatched)

	has, err := reg.Has(ctx, dir)
	require.NoError(t, err)
	assert.True(t, has)

	require.NoError(t, admin.DeleteWatchPath(ctx, dir))
	assert.ErrorIs(t, admin.DeleteWatchPath(ctx, dir), service.ErrPathNotFound)

	has, err = reg.Has(ctx, dir)
	require.NoError(t, err)
	assert.False(t, has)

	assert.Error(t, admin.AddAndWatchPath(ctx, filepath.Join(dir, "missing")))
}

func TestPathWatcher_Restore(t *testing.T) {
	dir := t.TempDir()
	reg := newRegistry(t)
	ctx := context.Background()
	require.NoError(t, reg.Add(ctx, dir))
	require.NoError(t, reg.Add(ctx, filepath.Join(dir, "gone")))

	admin := service.NewPathWatcherAdmin(reg, &fakeIngester{got: make(chan struct{}, 1)}, "watcher", time.Second)
	defer admin.Close()
	require.NoError(t, admin.Restore(ctx))

	assert.ErrorIs(t, admin.AddAndWatchPath(ctx, dir), service.ErrPathAlreadyWatched)
}
