// Package transcode converts HTTP archive (HAR) logs into WARC streams the
// segment parser can consume.
package transcode

import (
	"bytes"
	"crypto/sha1"
	"encoding/base32"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/chromedp/cdproto/har"

	"github.com/jonno85/warc-ingest/internal/domain"
	"github.com/jonno85/warc-ingest/internal/warc"
)

// Headers dropped from converted responses because the HAR content is
// already decoded and re-framed with its own Content-Length.
var skippedResponseHeaders = map[string]bool{
	"content-encoding":  true,
	"content-length":    true,
	"transfer-encoding": true,
}

// IsHAR reports whether filename names a HAR log.
func IsHAR(filename string) bool {
	return strings.EqualFold(filepath.Ext(filename), ".har")
}

// Convert reads a HAR document from r and writes it to w as a gzipped WARC:
// a warcinfo record carrying recording metadata titled after the file, then a
// request/response pair per entry. It returns the number of bytes written.
func Convert(r io.Reader, w io.Writer, filename string) (int64, error) {
	var doc har.HAR
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return 0, fmt.Errorf("decode har %s: %w", filename, err)
	}
	if doc.Log == nil {
		return 0, fmt.Errorf("decode har %s: missing log", filename)
	}

	ww := warc.NewWriter(w, true)
	if err := writeInfo(ww, doc.Log, filename); err != nil {
		return ww.Written(), err
	}
	for i, e := range doc.Log.Entries {
		if e == nil || e.Request == nil {
			continue
		}
		if err := writeEntry(ww, e); err != nil {
			return ww.Written(), fmt.Errorf("convert entry %d of %s: %w", i, filename, err)
		}
	}
	return ww.Written(), nil
}

// ConvertToFile converts a HAR stream into a new temp file in dir. The file is
// rewound and ready to read; the caller owns and removes it.
func ConvertToFile(dir string, r io.Reader, filename string) (*os.File, int64, error) {
	out, err := os.CreateTemp(dir, "har2warc-*.warc.gz")
	if err != nil {
		return nil, 0, fmt.Errorf("create conversion file: %w", err)
	}
	size, err := Convert(r, out, filename)
	if err == nil {
		_, err = out.Seek(0, io.SeekStart)
	}
	if err != nil {
		out.Close()
		os.Remove(out.Name())
		return nil, 0, err
	}
	return out, size, nil
}

func writeInfo(ww *warc.Writer, log *har.Log, filename string) error {
	title := filepath.Base(filename)
	meta := struct {
		Type  domain.SegmentKind `json:"type"`
		Title string             `json:"title"`
		Pages []domain.PageEntry `json:"pages,omitempty"`
	}{Type: domain.KindRecording, Title: title, Pages: harPages(log)}
	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}

	software := "har2warc"
	if c := log.Creator; c != nil && c.Name != "" {
		software += " (from " + strings.TrimSpace(c.Name+" "+c.Version) + ")"
	}
	var block bytes.Buffer
	fmt.Fprintf(&block, "software: %s\r\n", software)
	fmt.Fprintf(&block, "format: WARC File Format 1.0\r\n")
	fmt.Fprintf(&block, "json-metadata: %s\r\n", data)

	h := warc.NewHeader(warc.TypeWarcinfo, "", time.Now())
	h.Set(warc.HeaderFilename, title+".warc.gz")
	h.Set(warc.HeaderContentType, "application/warc-fields")
	_, err = ww.WriteRecord(h, block.Bytes())
	return err
}

// harPages maps each HAR page to the URL of its first entry.
func harPages(log *har.Log) []domain.PageEntry {
	if len(log.Pages) == 0 {
		return nil
	}
	firstURL := map[string]*har.Entry{}
	for _, e := range log.Entries {
		if e == nil || e.Request == nil || e.Pageref == "" {
			continue
		}
		if _, ok := firstURL[e.Pageref]; !ok {
			firstURL[e.Pageref] = e
		}
	}
	var pages []domain.PageEntry
	for _, p := range log.Pages {
		if p == nil {
			continue
		}
		e, ok := firstURL[p.ID]
		if !ok {
			continue
		}
		ts := ""
		if t, err := parseHARTime(p.StartedDateTime); err == nil {
			ts = t.UTC().Format("20060102150405")
		}
		pages = append(pages, domain.PageEntry{URL: e.Request.URL, Title: p.Title, Timestamp: ts})
	}
	return pages
}

func writeEntry(ww *warc.Writer, e *har.Entry) error {
	date, err := parseHARTime(e.StartedDateTime)
	if err != nil {
		date = time.Now()
	}
	res := e.Response
	if res == nil {
		res = &har.Response{}
	}

	payload, err := responsePayload(e.Request.URL, res.Content)
	if err != nil {
		return err
	}
	var resp bytes.Buffer
	fmt.Fprintf(&resp, "%s %d %s\r\n", httpVersion(res.HTTPVersion), res.Status, statusText(res))
	for _, hdr := range res.Headers {
		if hdr == nil || skippedResponseHeaders[strings.ToLower(hdr.Name)] {
			continue
		}
		fmt.Fprintf(&resp, "%s: %s\r\n", hdr.Name, hdr.Value)
	}
	fmt.Fprintf(&resp, "Content-Length: %d\r\n\r\n", len(payload))
	resp.Write(payload)

	respHeader := warc.NewHeader(warc.TypeResponse, e.Request.URL, date)
	respHeader.Set(warc.HeaderContentType, "application/http; msgtype=response")
	respHeader.Set(warc.HeaderPayloadDigest, payloadDigest(payload))
	if _, err := ww.WriteRecord(respHeader, resp.Bytes()); err != nil {
		return err
	}

	var req bytes.Buffer
	fmt.Fprintf(&req, "%s %s %s\r\n", e.Request.Method, requestTarget(e.Request.URL), httpVersion(e.Request.HTTPVersion))
	var body []byte
	if e.Request.PostData != nil {
		body = []byte(e.Request.PostData.Text)
	}
	for _, hdr := range e.Request.Headers {
		if hdr == nil || strings.HasPrefix(hdr.Name, ":") || strings.EqualFold(hdr.Name, "content-length") {
			continue
		}
		fmt.Fprintf(&req, "%s: %s\r\n", hdr.Name, hdr.Value)
	}
	if len(body) > 0 {
		fmt.Fprintf(&req, "Content-Length: %d\r\n", len(body))
	}
	req.WriteString("\r\n")
	req.Write(body)

	reqHeader := warc.NewHeader(warc.TypeRequest, e.Request.URL, date)
	reqHeader.Set(warc.HeaderContentType, "application/http; msgtype=request")
	reqHeader = append(reqHeader, warc.Field{Name: "WARC-Concurrent-To", Value: respHeader.Get(warc.HeaderRecordID)})
	_, err = ww.WriteRecord(reqHeader, req.Bytes())
	return err
}

func responsePayload(target string, c *har.Content) ([]byte, error) {
	if c == nil {
		return nil, nil
	}
	if c.Encoding == "base64" {
		data, err := base64.StdEncoding.DecodeString(c.Text)
		if err != nil {
			return nil, fmt.Errorf("decode base64 content of %s: %w", target, err)
		}
		return data, nil
	}
	return []byte(c.Text), nil
}

func payloadDigest(payload []byte) string {
	sum := sha1.Sum(payload)
	return "sha1:" + base32.StdEncoding.EncodeToString(sum[:])
}

func parseHARTime(v string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, v)
}

// httpVersion maps HAR protocol names (h2, http/2.0, empty) to a status-line
// version WARC readers understand.
func httpVersion(v string) string {
	upper := strings.ToUpper(v)
	if upper == "HTTP/1.0" || upper == "HTTP/1.1" {
		return upper
	}
	return "HTTP/1.1"
}

func statusText(r *har.Response) string {
	if r.StatusText != "" {
		return r.StatusText
	}
	if text := http.StatusText(int(r.Status)); text != "" {
		return text
	}
	return strconv.FormatInt(r.Status, 10)
}

func requestTarget(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.RequestURI() == "" {
		return "/"
	}
	return u.RequestURI()
}
