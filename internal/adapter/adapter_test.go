package adapter_test

import (
	"context"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonno85/warc-ingest/internal/adapter"
)

func TestPathRegistry(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	rdb, err := adapter.NewRedisClient(ctx, adapter.RedisOptions{Addr: mr.Addr()})
	require.NoError(t, err)
	defer rdb.Close()

	reg := adapter.NewPathRegistry(rdb)
	require.NoError(t, reg.Add(ctx, "/data/drop"))
	require.NoError(t, reg.Add(ctx, "/data/other"))

	has, err := reg.Has(ctx, "/data/drop")
	require.NoError(t, err)
	assert.True(t, has)

	require.NoError(t, reg.Remove(ctx, "/data/drop"))
	paths, err := reg.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"/data/other"}, paths)
}

func TestNewRedisClient_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := adapter.NewRedisClient(context.Background(), adapter.RedisOptions{Addr: addr})
	assert.Error(t, err)
}

func TestMinioClient_Segments(t *testing.T) {
	endpoint := os.Getenv("MINIO_ENDPOINT")
	if testing.Short() || endpoint == "" {
		t.Skip("needs a running MinIO at MINIO_ENDPOINT")
	}
	ctx := context.Background()
	client, err := adapter.NewMinioClient(adapter.MinioOptions{
		Endpoint:  endpoint,
		AccessKey: os.Getenv("MINIO_ACCESS_KEY"),
		SecretKey: os.Getenv("MINIO_SECRET_KEY"),
		Bucket:    "warc-ingest-test",
	})
	require.NoError(t, err)
	require.NoError(t, client.EnsureBucket(ctx))

	key := "test/" + strconv.FormatInt(time.Now().UnixNano(), 10) + ".warc"
	exists, err := client.SegmentExists(ctx, key, 5)
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, client.PutSegment(ctx, key, strings.NewReader("hello"), 5, map[string]string{"User": "test"}))
	exists, err = client.SegmentExists(ctx, key, 5)
	require.NoError(t, err)
	assert.True(t, exists)
}
