// Package warc reads and writes WARC records, tracking the byte offset of
// every record in the underlying stream. Gzipped archives are expected to hold
// one gzip member per record, as crawlers and recorders write them.
package warc

import (
	"strconv"
	"strings"
)

// Record types used by the importer.
const (
	TypeWarcinfo = "warcinfo"
	TypeResponse = "response"
	TypeRequest  = "request"
	TypeResource = "resource"
	TypeRevisit  = "revisit"
	TypeMetadata = "metadata"
)

// Well-known header names.
const (
	HeaderType          = "WARC-Type"
	HeaderRecordID      = "WARC-Record-ID"
	HeaderDate          = "WARC-Date"
	HeaderTargetURI     = "WARC-Target-URI"
	HeaderSourceURI     = "WARC-Source-URI"
	HeaderPayloadDigest = "WARC-Payload-Digest"
	HeaderFilename      = "WARC-Filename"
	HeaderContentType   = "Content-Type"
	HeaderContentLength = "Content-Length"
)

const version = "WARC/1.0"

// Field is a single header line.
type Field struct {
	Name  string
	Value string
}

// Header keeps fields in wire order; lookups are case-insensitive.
type Header []Field

// Get returns the first value for name, or "".
func (h Header) Get(name string) string {
	for _, f := range h {
		if strings.EqualFold(f.Name, name) {
			return f.Value
		}
	}
	return ""
}

// Set replaces the first value for name or appends a new field.
func (h *Header) Set(name, value string) {
	for i, f := range *h {
		if strings.EqualFold(f.Name, name) {
			(*h)[i].Value = value
			return
		}
	}
	*h = append(*h, Field{Name: name, Value: value})
}

// Del removes every field named name.
func (h *Header) Del(name string) {
	kept := (*h)[:0]
	for _, f := range *h {
		if !strings.EqualFold(f.Name, name) {
			kept = append(kept, f)
		}
	}
	*h = kept
}

func (h Header) contentLength() (int64, error) {
	raw := strings.TrimSpace(h.Get(HeaderContentLength))
	if raw == "" {
		return 0, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}
