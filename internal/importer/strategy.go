// Package importer drives archive uploads from raw bytes to stored
// recordings: it parses segments, resolves collections and recordings, hands
// each segment to a transfer strategy and keeps the progress record exact.
package importer

import (
	"context"
	"os"

	"github.com/jonno85/warc-ingest/internal/catalog"
	"github.com/jonno85/warc-ingest/internal/domain"
)

// SegmentTransfer is one segment of a source file addressed to its recording.
type SegmentTransfer struct {
	UploadKey  string
	Filename   string
	Source     *os.File
	User       string
	Collection catalog.Collection
	Recording  catalog.Recording
	Offset     int64
	Length     int64
}

// TransferStrategy moves segments to where they are stored and defines how
// the job is accounted.
type TransferStrategy interface {
	// Name labels metrics and logs.
	Name() string
	// TransferSegment stores exactly Length bytes starting at Offset.
	TransferSegment(ctx context.Context, t SegmentTransfer) error
	// UploadID returns the id of a new job.
	UploadID() string
	// PaddingWeight is the number of progress units credited per byte.
	PaddingWeight() int64
	// MakeCollection returns the collection a collection-kind segment, or the
	// default upload collection, maps to.
	MakeCollection(ctx context.Context, user catalog.User, filename string, info domain.SegmentDescriptor) (catalog.Collection, error)
	// CheckCapacity fails with domain.ErrCapacity when user cannot store size bytes.
	CheckCapacity(ctx context.Context, user catalog.User, size int64) error
	// Background reports whether files are transferred off the caller's goroutine.
	Background() bool
}
