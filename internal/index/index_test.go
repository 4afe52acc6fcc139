package index_test

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonno85/warc-ingest/internal/domain"
	"github.com/jonno85/warc-ingest/internal/index"
	"github.com/jonno85/warc-ingest/internal/pages"
	"github.com/jonno85/warc-ingest/internal/warc"
)

func newRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestURLKey(t *testing.T) {
	assert.Equal(t, "com,example)/a/b?x=1", index.URLKey("http://www.Example.com/a/b?x=1"))
	assert.Equal(t, "com,example)/", index.URLKey("https://example.com"))
	assert.Equal(t, "com,example:8080)/", index.URLKey("http://example.com:8080/"))
}

func TestFormatParseLine(t *testing.T) {
	entry := domain.IndexEntry{
		Timestamp: "20200101000000",
		URL:       "http://example.com/",
		MIME:      "text/html",
		Status:    "200",
		Digest:    "ABC",
		Length:    120,
		Offset:    40,
		Filename:  "a.warc",
	}

	line, err := index.FormatLine(entry)
	require.NoError(t, err)
	assert.Contains(t, line, "com,example)/ 20200101000000 {")

	parsed, err := index.ParseLine(line)
	require.NoError(t, err)
	entry.URLKey = "com,example)/"
	assert.Equal(t, entry, parsed)

	_, err = index.ParseLine("nospaces")
	assert.Error(t, err)
}

func TestRedisIndex_AddAndEntries(t *testing.T) {
	rdb := newRedis(t)
	idx := index.NewRedisIndex(rdb, "c:{coll}:r:{rec}:cdxj")
	ctx := context.Background()

	assert.Equal(t, "c:coll1:r:rec1:cdxj", idx.Key("coll1", "rec1"))
	require.NoError(t, idx.Add(ctx, "coll1", "rec1", []domain.IndexEntry{
		{URL: "http://example.com/b", Timestamp: "20200101000000", MIME: "text/html"},
		{URL: "http://example.com/a", Timestamp: "20200101000000", MIME: "text/html"},
	}))
	require.NoError(t, rdb.ZAdd(ctx, "c:coll1:r:rec1:cdxj", redis.Z{Member: "broken"}).Err())

	entries, err := idx.Entries(ctx, "coll1", "rec1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "http://example.com/a", entries[0].URL)
	assert.Equal(t, "http://example.com/b", entries[1].URL)
}

func writeArchive(t *testing.T) ([]byte, int64, int64) {
	t.Helper()
	var buf bytes.Buffer
	w := warc.NewWriter(&buf, false)
	info, err := w.WriteRecord(warc.NewHeader(warc.TypeWarcinfo, "", time.Unix(0, 0)), []byte("json-metadata: {}\r\n"))
	require.NoError(t, err)

	date := time.Date(2021, 5, 6, 7, 8, 9, 0, time.UTC)
	_, err = w.WriteRecord(warc.NewHeader(warc.TypeRequest, "http://example.com/", date), []byte("GET / HTTP/1.1\r\nHost: example.com\r\n\r\n"))
	require.NoError(t, err)
	_, err = w.WriteRecord(warc.NewHeader(warc.TypeResponse, "http://example.com/", date),
		[]byte("HTTP/1.1 200 OK\r\nContent-Type: text/html; charset=utf-8\r\nContent-Length: 5\r\n\r\nhello"))
	require.NoError(t, err)
	_, err = w.WriteRecord(warc.NewHeader(warc.TypeResponse, "http://example.com/empty.js", date),
		[]byte("HTTP/1.1 200 OK\r\nContent-Type: application/javascript\r\nContent-Length: 0\r\n\r\n"))
	require.NoError(t, err)
	return buf.Bytes(), info, int64(buf.Len()) - info
}

func TestIndexer_AddRange(t *testing.T) {
	rdb := newRedis(t)
	idx := index.NewRedisIndex(rdb, "")
	ix := index.NewIndexer(rdb, idx)
	ctx := context.Background()

	data, offset, length := writeArchive(t)
	path := filepath.Join(t.TempDir(), "upload.warc")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	params := index.Params{User: "alice", Collection: "coll", Recording: "rec", UploadKey: "u:alice:upl:1"}
	require.NoError(t, ix.AddArchiveFile(ctx, path, params))
	_, err = f.Seek(offset, io.SeekStart)
	require.NoError(t, err)

	n, err := ix.AddRange(ctx, f, params, path, length)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	files, err := ix.ArchiveFiles(ctx, "coll")
	require.NoError(t, err)
	assert.Equal(t, path, files["upload.warc"])

	entries, err := idx.Entries(ctx, "coll", "rec")
	require.NoError(t, err)
	require.Len(t, entries, 2)

	byURL := map[string]domain.IndexEntry{}
	for _, e := range entries {
		byURL[e.URL] = e
	}
	home := byURL["http://example.com/"]
	assert.Equal(t, "text/html", home.MIME)
	assert.Equal(t, "200", home.Status)
	assert.Equal(t, "20210506070809", home.Timestamp)
	assert.Equal(t, "upload.warc", home.Filename)
	assert.Greater(t, home.Offset, offset)
	assert.Positive(t, home.Length)
	assert.True(t, pages.IsPage(home))

	script := byURL["http://example.com/empty.js"]
	assert.Equal(t, pages.EmptyDigest, script.Digest)

	detected, err := pages.NewDetector(idx).Detect(ctx, "coll", "rec", 0)
	require.NoError(t, err)
	require.Len(t, detected, 1)
	assert.Equal(t, "http://example.com/", detected[0].URL)
}
