package transcode_test

import (
	"bytes"
	"errors"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonno85/warc-ingest/internal/domain"
	"github.com/jonno85/warc-ingest/internal/parser"
	"github.com/jonno85/warc-ingest/internal/transcode"
	"github.com/jonno85/warc-ingest/internal/warc"
)

const sampleHAR = `{
  "log": {
    "version": "1.2",
    "creator": {"name": "Browser", "version": "1.0"},
    "pages": [{"id": "page_1", "title": "Example", "startedDateTime": "2021-03-04T05:06:07.123Z"}],
    "entries": [
      {
        "pageref": "page_1",
        "startedDateTime": "2021-03-04T05:06:07.123Z",
        "request": {"method": "GET", "url": "http://example.com/?q=1", "httpVersion": "h2",
          "headers": [{"name": ":authority", "value": "example.com"}, {"name": "Accept", "value": "*/*"}]},
        "response": {"status": 200, "statusText": "", "httpVersion": "http/2.0",
          "headers": [{"name": "Content-Type", "value": "text/html"}, {"name": "Content-Encoding", "value": "gzip"}],
          "content": {"mimeType": "text/html", "text": "<html>hi</html>"}}
      },
      {
        "pageref": "page_1",
        "startedDateTime": "2021-03-04T05:06:08Z",
        "request": {"method": "POST", "url": "http://example.com/api", "httpVersion": "HTTP/1.1",
          "headers": [], "postData": {"mimeType": "application/json", "text": "{}"}},
        "response": {"status": 204, "statusText": "No Content", "httpVersion": "HTTP/1.1",
          "headers": [], "content": {"mimeType": "", "text": "AAEC", "encoding": "base64"}}
      }
    ]
  }
}`

func TestIsHAR(t *testing.T) {
	assert.True(t, transcode.IsHAR("dir/session.HAR"))
	assert.False(t, transcode.IsHAR("session.warc.gz"))
	assert.False(t, transcode.IsHAR("har"))
}

func TestConvert_RecordsAndMetadata(t *testing.T) {
	var out bytes.Buffer
	n, err := transcode.Convert(strings.NewReader(sampleHAR), &out, "/tmp/uploads/session.har")
	require.NoError(t, err)
	assert.Equal(t, int64(out.Len()), n)

	rd := warc.NewReader(bytes.NewReader(out.Bytes()))
	assert.Equal(t, []byte{0x1f, 0x8b}, out.Bytes()[:2])

	var types []string
	var responses []*warc.Record
	for {
		rec, err := rd.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		types = append(types, rec.Type)
		if rec.Type == warc.TypeResponse {
			body, err := io.ReadAll(rec.Body)
			require.NoError(t, err)
			assert.NotContains(t, string(body), "Content-Encoding")
			assert.True(t, strings.HasPrefix(string(body), "HTTP/1.1 "))
			assert.NotEmpty(t, rec.Header.Get(warc.HeaderPayloadDigest))
			responses = append(responses, rec)
		}
	}
	assert.Equal(t, []string{"warcinfo", "response", "request", "response", "request"}, types)
	require.Len(t, responses, 2)
	assert.Equal(t, "http://example.com/?q=1", responses[0].Header.Get(warc.HeaderTargetURI))
	assert.Equal(t, "2021-03-04T05:06:07Z", responses[0].Header.Get(warc.HeaderDate))
	assert.Equal(t, int64(out.Len()), rd.Offset())
}

func TestConvert_ParsesAsOneRecording(t *testing.T) {
	var out bytes.Buffer
	_, err := transcode.Convert(strings.NewReader(sampleHAR), &out, "session.har")
	require.NoError(t, err)

	segs, err := parser.New(nil).Parse(bytes.NewReader(out.Bytes()), int64(out.Len()))
	require.NoError(t, err)
	require.Len(t, segs, 1)
	assert.Equal(t, domain.KindRecording, segs[0].Kind)
	assert.Equal(t, "session.har", segs[0].Title)
	assert.Equal(t, int64(out.Len()), segs[0].End())
	require.Len(t, segs[0].Pages, 1)
	assert.Equal(t, domain.PageEntry{URL: "http://example.com/?q=1", Title: "Example", Timestamp: "20210304050607"}, segs[0].Pages[0])
}

func TestConvert_InvalidJSON(t *testing.T) {
	_, err := transcode.Convert(strings.NewReader("{not json"), io.Discard, "bad.har")
	assert.Error(t, err)
}

func TestConvert_MissingLog(t *testing.T) {
	_, err := transcode.Convert(strings.NewReader(`{"version":"1.2"}`), io.Discard, "empty.har")
	assert.ErrorContains(t, err, "missing log")
}

func TestConvert_EntryWithoutResponse(t *testing.T) {
	const doc = `{"log":{"version":"1.2","creator":{"name":"x","version":"1"},"entries":[
{"startedDateTime":"2021-01-01T00:00:00Z","request":{"method":"GET","url":"http://example.com/pending","httpVersion":"HTTP/1.1","headers":[]}},
{"startedDateTime":"2021-01-01T00:00:01Z"}]}}`
	var out bytes.Buffer
	_, err := transcode.Convert(strings.NewReader(doc), &out, "pending.har")
	require.NoError(t, err)

	rd := warc.NewReader(bytes.NewReader(out.Bytes()))
	var types []string
	for {
		rec, err := rd.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		types = append(types, rec.Type)
		if rec.Type == warc.TypeResponse {
			body, err := io.ReadAll(rec.Body)
			require.NoError(t, err)
			assert.True(t, strings.HasPrefix(string(body), "HTTP/1.1 0 0\r\n"))
		}
	}
	assert.Equal(t, []string{warc.TypeWarcinfo, warc.TypeResponse, warc.TypeRequest}, types)
}

func TestConvertToFile(t *testing.T) {
	dir := t.TempDir()
	f, size, err := transcode.ConvertToFile(dir, strings.NewReader(sampleHAR), "session.har")
	require.NoError(t, err)
	defer os.Remove(f.Name())
	defer f.Close()

	info, err := f.Stat()
	require.NoError(t, err)
	assert.Equal(t, info.Size(), size)
	pos, err := f.Seek(0, io.SeekCurrent)
	require.NoError(t, err)
	assert.Zero(t, pos)

	_, _, err = transcode.ConvertToFile(dir, strings.NewReader("[]"), "bad.har")
	assert.Error(t, err)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
