// Package index stores and reads per-recording CDXJ capture indexes kept in
// Redis sorted sets, and builds them from WARC ranges for local imports.
package index

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/jonno85/warc-ingest/internal/domain"
)

const timestampLayout = "20060102150405"

// FormatLine encodes an entry as "urlkey timestamp {json}".
func FormatLine(e domain.IndexEntry) (string, error) {
	if e.URLKey == "" {
		e.URLKey = URLKey(e.URL)
	}
	body, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("marshal cdxj entry: %w", err)
	}
	return e.URLKey + " " + e.Timestamp + " " + string(body), nil
}

// ParseLine decodes a CDXJ line produced by FormatLine or by a recorder.
func ParseLine(line string) (domain.IndexEntry, error) {
	var e domain.IndexEntry
	key, rest, ok := strings.Cut(strings.TrimSpace(line), " ")
	if !ok {
		return e, fmt.Errorf("cdxj line has no timestamp: %q", line)
	}
	ts, body, ok := strings.Cut(rest, " ")
	if !ok {
		return e, fmt.Errorf("cdxj line has no json block: %q", line)
	}
	if err := json.Unmarshal([]byte(body), &e); err != nil {
		return e, fmt.Errorf("decode cdxj json: %w", err)
	}
	e.URLKey = key
	e.Timestamp = ts
	return e, nil
}

// URLKey returns a SURT-style sort key: reversed host labels, then the path.
func URLKey(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return strings.ToLower(raw)
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	labels := strings.Split(host, ".")
	for i, j := 0, len(labels)-1; i < j; i, j = i+1, j-1 {
		labels[i], labels[j] = labels[j], labels[i]
	}
	key := strings.Join(labels, ",")
	if port := u.Port(); port != "" && port != "80" && port != "443" {
		key += ":" + port
	}
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	key += ")" + strings.ToLower(path)
	if u.RawQuery != "" {
		key += "?" + u.RawQuery
	}
	return key
}

// Timestamp renders t in the 14-digit form used by CDXJ.
func Timestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}
