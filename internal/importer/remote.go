package importer

import (
	"context"
	"crypto/rand"
	"encoding/base32"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/jonno85/warc-ingest/internal/catalog"
	"github.com/jonno85/warc-ingest/internal/domain"
	"github.com/jonno85/warc-ingest/internal/service/utils"
)

const (
	remoteWeight       = 2
	defaultPutAttempts = 3
	defaultPutBackoff  = 200 * time.Millisecond
)

// RemoteStrategy streams segments to a Sink from background goroutines.
// Every byte is accounted twice, once read from the client and once written
// to the sink.
type RemoteStrategy struct {
	sink     Sink
	usage    UsageRecorder
	attempts int
	backoff  time.Duration
}

// UsageRecorder charges stored bytes against a user's quota.
type UsageRecorder interface {
	AddUsage(ctx context.Context, user string, n int64) error
}

// NewRemoteStrategy returns a RemoteStrategy writing through sink.
func NewRemoteStrategy(sink Sink) *RemoteStrategy {
	return &RemoteStrategy{sink: sink, attempts: defaultPutAttempts, backoff: defaultPutBackoff}
}

// WithRetry sets how many times a segment is attempted and the initial backoff.
func (r *RemoteStrategy) WithRetry(attempts int, backoff time.Duration) *RemoteStrategy {
	r.attempts = attempts
	r.backoff = backoff
	return r
}

// WithUsage charges every transferred segment to the user through u.
func (r *RemoteStrategy) WithUsage(u UsageRecorder) *RemoteStrategy {
	r.usage = u
	return r
}

func (r *RemoteStrategy) Name() string         { return "remote" }
func (r *RemoteStrategy) PaddingWeight() int64 { return remoteWeight }
func (r *RemoteStrategy) Background() bool     { return true }

func (r *RemoteStrategy) UploadID() string {
	b := make([]byte, 5)
	_, _ = rand.Read(b)
	return base32.StdEncoding.EncodeToString(b)
}

func (r *RemoteStrategy) TransferSegment(ctx context.Context, t SegmentTransfer) error {
	dest := Destination{
		User:       t.User,
		Collection: t.Collection.ID(),
		Recording:  t.Recording.ID(),
		UploadKey:  t.UploadKey,
		Filename:   t.Filename,
		Offset:     t.Offset,
		Length:     t.Length,
	}
	_, err := utils.Retry(ctx, r.attempts, r.backoff, func() (struct{}, error) {
		return struct{}{}, r.sink.Put(ctx, dest, io.NewSectionReader(t.Source, t.Offset, t.Length))
	})
	if err != nil {
		return err
	}
	if r.usage != nil {
		if err := r.usage.AddUsage(ctx, t.User, t.Length); err != nil {
			slog.Warn("Failed to record storage usage", "user", t.User, "bytes", t.Length, "err", err)
		}
	}
	return nil
}

func (r *RemoteStrategy) CheckCapacity(ctx context.Context, user catalog.User, size int64) error {
	remaining, err := user.RemainingSpace(ctx)
	if err != nil {
		return err
	}
	if remaining < size {
		return fmt.Errorf("%w: %d bytes left, %d needed", domain.ErrCapacity, remaining, size)
	}
	return nil
}

// MakeCollection creates a new collection named after the segment title.
func (r *RemoteStrategy) MakeCollection(ctx context.Context, user catalog.User, filename string, info domain.SegmentDescriptor) (catalog.Collection, error) {
	coll, err := user.CreateCollection(ctx, catalog.CollectionSpec{
		Name:        catalog.SanitizeTitle(info.Title),
		Title:       info.Title,
		Description: strings.ReplaceAll(info.Description, "{filename}", filename),
		Public:      info.Public,
		AllowDupe:   true,
	})
	if err != nil {
		return nil, err
	}
	if err := setDateProps(ctx, coll, info); err != nil {
		return nil, err
	}
	return coll, nil
}
