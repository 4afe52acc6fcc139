// Package pages infers navigable pages from a recording's capture index.
package pages

import (
	"context"
	"fmt"
	"strings"

	"github.com/jonno85/warc-ingest/internal/domain"
	"github.com/jonno85/warc-ingest/internal/metrics"
)

// EmptyDigest is the base32 sha1 of an empty payload.
const EmptyDigest = "3I42H3S6NNFQ2MSVX7XZKYAYSCX5QBYJ"

// IndexSource lists the index entries of one recording.
type IndexSource interface {
	Entries(ctx context.Context, coll, rec string) ([]domain.IndexEntry, error)
}

// Detector picks page-like captures out of an index.
type Detector struct {
	index IndexSource
}

// NewDetector returns a Detector reading from index.
func NewDetector(index IndexSource) *Detector {
	return &Detector{index: index}
}

// Detect returns the pages of (coll, rec) in index order, at most limit of
// them when limit > 0.
func (d *Detector) Detect(ctx context.Context, coll, rec string, limit int) ([]domain.PageEntry, error) {
	entries, err := d.index.Entries(ctx, coll, rec)
	if err != nil {
		return nil, fmt.Errorf("read index: %w", err)
	}
	var pages []domain.PageEntry
	for _, e := range entries {
		if limit > 0 && len(pages) >= limit {
			break
		}
		if !IsPage(e) {
			continue
		}
		pages = append(pages, domain.PageEntry{
			URL:       e.URL,
			Title:     e.URL,
			Timestamp: e.Timestamp,
		})
	}
	metrics.PagesDetected.Add(float64(len(pages)))
	return pages, nil
}

// IsPage reports whether an index entry looks like a top-level page rather
// than an embedded resource or an API call.
func IsPage(e domain.IndexEntry) bool {
	if strings.HasSuffix(e.URL, "/robots.txt") {
		return false
	}
	if !strings.HasPrefix(e.URL, "http://") && !strings.HasPrefix(e.URL, "https://") {
		return false
	}
	if e.MIME != "text/html" && e.MIME != "text/plain" {
		return false
	}
	status := e.Status
	if status != "200" && status != "-" && status != "" {
		return false
	}
	if strings.TrimPrefix(e.Digest, "sha1:") == EmptyDigest {
		return false
	}
	if status == "200" {
		// a query longer than the rest of the url is usually an api call
		base, query, ok := strings.Cut(e.URL, "?")
		if ok && len(query) > len(base) {
			return false
		}
	}
	return true
}
