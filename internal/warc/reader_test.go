package warc_test

import (
	"bytes"
	"errors"
	"io"
	"testing"
	"testing/iotest"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonno85/warc-ingest/internal/warc"
)

func writeRecords(t *testing.T, gzipped bool, bodies ...string) ([]byte, []int64) {
	t.Helper()
	var buf bytes.Buffer
	w := warc.NewWriter(&buf, gzipped)
	sizes := make([]int64, 0, len(bodies))
	for _, body := range bodies {
		h := warc.NewHeader(warc.TypeResource, "http://example.com/"+body, time.Unix(0, 0))
		n, err := w.WriteRecord(h, []byte(body))
		require.NoError(t, err)
		sizes = append(sizes, n)
	}
	assert.Equal(t, int64(buf.Len()), w.Written())
	return buf.Bytes(), sizes
}

func readAll(t *testing.T, data []byte) ([]*warc.Record, []string, *warc.Reader) {
	t.Helper()
	rd := warc.NewReader(bytes.NewReader(data))
	var recs []*warc.Record
	var bodies []string
	for {
		rec, err := rd.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		body, err := io.ReadAll(rec.Body)
		require.NoError(t, err)
		recs = append(recs, rec)
		bodies = append(bodies, string(body))
	}
	return recs, bodies, rd
}

func TestReader_PlainOffsets(t *testing.T) {
	data, sizes := writeRecords(t, false, "alpha", "beta", "gamma")

	recs, bodies, rd := readAll(t, data)

	require.Len(t, recs, 3)
	assert.Equal(t, []string{"alpha", "beta", "gamma"}, bodies)
	var offset int64
	for i, rec := range recs {
		assert.Equal(t, offset, rec.Offset, "record %d offset", i)
		assert.Equal(t, sizes[i], rec.Length, "record %d length", i)
		assert.Equal(t, warc.TypeResource, rec.Type)
		offset += sizes[i]
	}
	assert.Equal(t, int64(len(data)), rd.Offset())
}

func TestReader_GzipMembers(t *testing.T) {
	data, sizes := writeRecords(t, true, "one", "two")

	recs, bodies, rd := readAll(t, data)

	require.Len(t, recs, 2)
	assert.Equal(t, []string{"one", "two"}, bodies)
	assert.Equal(t, int64(0), recs[0].Offset)
	assert.Equal(t, sizes[0], recs[1].Offset)
	assert.Equal(t, sizes[1], recs[1].Length)
	assert.Equal(t, int64(len(data)), rd.Offset())
}

func TestReader_UnreadBodyIsSkipped(t *testing.T) {
	data, sizes := writeRecords(t, false, "first-body", "second")

	rd := warc.NewReader(bytes.NewReader(data))
	first, err := rd.Next()
	require.NoError(t, err)
	second, err := rd.Next()
	require.NoError(t, err)

	assert.Equal(t, sizes[0], second.Offset)
	assert.Equal(t, sizes[0], first.Length)
	body, err := io.ReadAll(second.Body)
	require.NoError(t, err)
	assert.Equal(t, "second", string(body))
}

func TestReader_GarbageStopsIteration(t *testing.T) {
	data, sizes := writeRecords(t, false, "ok")
	data = append(data, []byte("this is not a warc record\n")...)

	rd := warc.NewReader(bytes.NewReader(data))
	_, err := rd.Next()
	require.NoError(t, err)
	_, err = rd.Next()
	require.ErrorIs(t, err, warc.ErrInvalidRecord)
	assert.Equal(t, sizes[0], rd.Offset())

	_, err = rd.Drain()
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), rd.Consumed())
}

func TestReader_TruncatedBody(t *testing.T) {
	data, _ := writeRecords(t, false, "a fairly long body")
	data = data[:len(data)-10]

	rd := warc.NewReader(bytes.NewReader(data))
	_, err := rd.Next()
	require.NoError(t, err)
	_, err = rd.Next()
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.Equal(t, int64(0), rd.Offset())
}

func TestHeader_GetIsCaseInsensitive(t *testing.T) {
	h := warc.Header{{Name: "WARC-Source-URI", Value: "https://web.archive.org/web/1/x"}}

	assert.Equal(t, "https://web.archive.org/web/1/x", h.Get("warc-source-uri"))
	h.Set("warc-source-uri", "other")
	assert.Equal(t, "other", h.Get(warc.HeaderSourceURI))
	h.Del(warc.HeaderSourceURI)
	assert.Empty(t, h.Get(warc.HeaderSourceURI))
}

func TestReader_SingleGzipMemberIsRejected(t *testing.T) {
	plain, _ := writeRecords(t, false, "first", "second")
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write(plain)
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	rd := warc.NewReader(bytes.NewReader(buf.Bytes()))
	first, err := rd.Next()
	require.NoError(t, err)
	assert.Equal(t, int64(0), first.Offset)
	_, err = rd.Next()
	require.ErrorIs(t, err, warc.ErrNonChunkedGzip)
}

// Offsets must hold over a forward-only stream that hands out one byte per read.
func TestReader_GzipOffsetsOverForwardOnlyStream(t *testing.T) {
	data, sizes := writeRecords(t, true, "one", "two", "three")

	rd := warc.NewReader(iotest.OneByteReader(bytes.NewReader(data)))
	var offset int64
	for i := range sizes {
		rec, err := rd.Next()
		require.NoError(t, err)
		assert.Equal(t, offset, rec.Offset, "record %d", i)
		offset += sizes[i]
	}
	_, err := rd.Next()
	require.ErrorIs(t, err, io.EOF)
	assert.Equal(t, int64(len(data)), rd.Offset())
}
