// Package parser splits an uploaded archive stream into recording segments
// using the json-metadata carried by warcinfo records.
package parser

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jonno85/warc-ingest/internal/domain"
	"github.com/jonno85/warc-ingest/internal/metrics"
	"github.com/jonno85/warc-ingest/internal/warc"
)

const metadataKey = "json-metadata"

// ArchiveResolver maps a WARC-Source-URI to the id of the remote web archive
// that holds the original capture.
type ArchiveResolver interface {
	FindArchiveForURL(uri string) (string, bool)
}

// Parser turns an archive byte stream into ordered segment descriptors.
type Parser struct {
	resolver ArchiveResolver
}

// New returns a Parser. resolver may be nil.
func New(resolver ArchiveResolver) *Parser {
	return &Parser{resolver: resolver}
}

type openSegment struct {
	desc     *domain.SegmentDescriptor
	resolved bool
}

// Parse reads r once, front to back. A segment's offset is the end of the
// metadata record that introduced it; its length runs to the start of the
// next metadata record or to the end of the last readable record. Bytes left
// over after the last readable record are drained but belong to no segment.
func (p *Parser) Parse(r io.Reader, expectedSize int64) ([]domain.SegmentDescriptor, error) {
	rd := warc.NewReader(r)

	var (
		segments  []domain.SegmentDescriptor
		open      *openSegment
		pending   *openSegment
		collector *domain.SegmentDescriptor
		first     = true
	)

	closeOpen := func(end int64) {
		if open == nil || !open.resolved {
			return
		}
		open.desc.Length = end - open.desc.Offset
		segments = append(segments, *open.desc)
	}

	for {
		rec, err := rd.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if errors.Is(err, warc.ErrNonChunkedGzip) {
			return nil, fmt.Errorf("%w: %w", domain.ErrNoArchiveData, err)
		}
		if err != nil {
			slog.Warn("Stopped reading archive records", "offset", rd.Offset(), "err", err)
			break
		}

		var meta *domain.SegmentDescriptor
		if rec.Type == warc.TypeWarcinfo {
			meta, err = decodeMetadata(rec)
			if err != nil {
				slog.Error("Skipping metadata record", "offset", rec.Offset, "err", err)
				metrics.MalformedMetadataRecords.Inc()
				meta = nil
			}
		} else if collector != nil {
			p.collectReference(collector, rec)
		}

		if pending != nil {
			pending.desc.Offset = rec.Offset
			pending.resolved = true
			pending = nil
		}

		if meta != nil {
			closeOpen(rec.Offset)
			open = &openSegment{desc: meta}
			pending = open
			collector = meta
		} else if first {
			open = &openSegment{
				desc: &domain.SegmentDescriptor{
					Kind:  domain.KindRecording,
					Title: domain.DefaultRecordingTitle,
				},
				resolved: true,
			}
			collector = open.desc
		}
		first = false
	}

	closeOpen(rd.Offset())

	if rd.Consumed() < expectedSize {
		n, err := rd.Drain()
		if err != nil {
			return segments, fmt.Errorf("drain remainder: %w", err)
		}
		if n > 0 {
			slog.Warn("Discarded bytes after last readable record", "bytes", n, "offset", rd.Offset())
		}
	}
	return segments, nil
}

func (p *Parser) collectReference(collector *domain.SegmentDescriptor, rec *warc.Record) {
	if p.resolver == nil {
		return
	}
	uri := rec.Header.Get(warc.HeaderSourceURI)
	if uri == "" {
		return
	}
	if id, ok := p.resolver.FindArchiveForURL(uri); ok {
		collector.AddRemoteReference(id)
	}
}

type metadataFields struct {
	Type          string             `json:"type"`
	Title         *string            `json:"title"`
	Desc          string             `json:"desc"`
	RecType       string             `json:"rec_type"`
	Public        bool               `json:"public"`
	Pages         []domain.PageEntry `json:"pages"`
	CreatedAt     *float64           `json:"created_at"`
	UpdatedAt     *float64           `json:"updated_at"`
	CreatedAtDate string             `json:"created_at_date"`
	UpdatedAtDate string             `json:"updated_at_date"`
}

// decodeMetadata returns nil, nil for a warcinfo record without json-metadata.
func decodeMetadata(rec *warc.Record) (*domain.SegmentDescriptor, error) {
	block, err := io.ReadAll(rec.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrMalformedMetadata, err)
	}
	if !utf8.Valid(block) {
		return nil, fmt.Errorf("%w: block is not utf-8", domain.ErrMalformedMetadata)
	}

	var raw string
	found := false
	for _, line := range strings.Split(strings.TrimRight(string(block), " \t\r\n"), "\n") {
		key, value, _ := strings.Cut(line, ":")
		if key == metadataKey {
			raw = value
			found = true
		}
	}
	if !found {
		return nil, nil
	}

	var fields metadataFields
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrMalformedMetadata, err)
	}

	desc := &domain.SegmentDescriptor{
		Kind:        domain.KindRecording,
		Title:       domain.DefaultRecordingTitle,
		Description: fields.Desc,
		RecType:     fields.RecType,
		Public:      fields.Public,
		Pages:       fields.Pages,
		CreatedAt:   resolveTime(fields.CreatedAtDate, fields.CreatedAt),
		UpdatedAt:   resolveTime(fields.UpdatedAtDate, fields.UpdatedAt),
	}
	if fields.Type != "" {
		desc.Kind = domain.SegmentKind(fields.Type)
	}
	if fields.Title != nil {
		desc.Title = *fields.Title
	}
	return desc, nil
}

var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// resolveTime prefers the ISO date and falls back to epoch seconds.
func resolveTime(iso string, epoch *float64) *int64 {
	if iso != "" {
		for _, layout := range isoLayouts {
			if t, err := time.Parse(layout, iso); err == nil {
				v := t.Unix()
				return &v
			}
		}
		slog.Warn("Ignoring unparsable date", "value", iso)
	}
	if epoch != nil {
		v := int64(*epoch)
		return &v
	}
	return nil
}
