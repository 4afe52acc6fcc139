package importer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
)

// Destination addresses one segment at a remote sink.
type Destination struct {
	User       string
	Collection string
	Recording  string
	UploadKey  string
	Filename   string
	Offset     int64
	Length     int64
}

func (d Destination) replacer(recordHost string) *strings.Replacer {
	return strings.NewReplacer(
		"{record_host}", recordHost,
		"{user}", d.User,
		"{coll}", d.Collection,
		"{rec}", d.Recording,
		"{upid}", d.UploadKey,
		"{offset}", strconv.FormatInt(d.Offset, 10),
		"{filename}", d.Filename,
	)
}

// Sink stores segment bytes remotely.
type Sink interface {
	Put(ctx context.Context, dest Destination, body io.Reader) error
}

// HTTPSink PUTs each segment to a templated recorder URL.
type HTTPSink struct {
	client       *http.Client
	recordHost   string
	pathTemplate string
}

// NewHTTPSink returns an HTTPSink. A nil client selects http.DefaultClient.
func NewHTTPSink(client *http.Client, recordHost, pathTemplate string) *HTTPSink {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPSink{client: client, recordHost: recordHost, pathTemplate: pathTemplate}
}

// URL expands the path template for dest.
func (s *HTTPSink) URL(dest Destination) string {
	return dest.replacer(s.recordHost).Replace(s.pathTemplate)
}

func (s *HTTPSink) Put(ctx context.Context, dest Destination, body io.Reader) error {
	url := s.URL(dest)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, body)
	if err != nil {
		return fmt.Errorf("build upload request: %w", err)
	}
	req.ContentLength = dest.Length
	req.Header.Set("Content-Length", strconv.FormatInt(dest.Length, 10))

	slog.Debug("Uploading segment", "url", url, "offset", dest.Offset, "length", dest.Length)
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("upload to %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusMultipleChoices {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("upload to %s: status %d: %s", url, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// ObjectStore is the subset of an S3-compatible client the object sink needs.
type ObjectStore interface {
	SegmentExists(ctx context.Context, key string, size int64) (bool, error)
	PutSegment(ctx context.Context, key string, body io.Reader, size int64, metadata map[string]string) error
}

// DefaultObjectKeyTemplate lays segments out per user, collection and recording.
const DefaultObjectKeyTemplate = "{user}/{coll}/{rec}/{offset}.warc"

// ObjectSink writes each segment as one object. A segment already stored
// with the same size is not written again.
type ObjectSink struct {
	store       ObjectStore
	keyTemplate string
}

// NewObjectSink returns an ObjectSink. An empty template selects DefaultObjectKeyTemplate.
func NewObjectSink(store ObjectStore, keyTemplate string) *ObjectSink {
	if keyTemplate == "" {
		keyTemplate = DefaultObjectKeyTemplate
	}
	return &ObjectSink{store: store, keyTemplate: keyTemplate}
}

// ObjectKey expands the key template for dest.
func (s *ObjectSink) ObjectKey(dest Destination) string {
	return dest.replacer("").Replace(s.keyTemplate)
}

func (s *ObjectSink) Put(ctx context.Context, dest Destination, body io.Reader) error {
	key := s.ObjectKey(dest)
	exists, err := s.store.SegmentExists(ctx, key, dest.Length)
	if err != nil {
		return err
	}
	if exists {
		slog.Info("Segment already stored", "key", key)
		return nil
	}
	return s.store.PutSegment(ctx, key, body, dest.Length, map[string]string{
		"User":      dest.User,
		"Coll":      dest.Collection,
		"Rec":       dest.Recording,
		"Upload":    dest.UploadKey,
		"Source":    dest.Filename,
		"Source-At": strconv.FormatInt(dest.Offset, 10),
	})
}
