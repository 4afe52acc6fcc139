package index

import (
	"bufio"
	"context"
	"crypto/sha1"
	"encoding/base32"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/jonno85/warc-ingest/internal/domain"
	"github.com/jonno85/warc-ingest/internal/warc"
)

// Params identifies where indexed captures belong.
type Params struct {
	User       string
	Collection string
	Recording  string
	UploadKey  string
}

// Indexer indexes archive files that stay on local disk.
type Indexer struct {
	rdb   redis.Cmdable
	index *RedisIndex
}

// NewIndexer returns an Indexer writing through idx.
func NewIndexer(rdb redis.Cmdable, idx *RedisIndex) *Indexer {
	return &Indexer{rdb: rdb, index: idx}
}

func archiveFilesKey(coll string) string {
	return "c:" + coll + ":warc"
}

// AddArchiveFile registers path as an archive file of the collection so
// replay can resolve index entries that name it.
func (ix *Indexer) AddArchiveFile(ctx context.Context, path string, params Params) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve archive path: %w", err)
	}
	if err := ix.rdb.HSet(ctx, archiveFilesKey(params.Collection), filepath.Base(abs), abs).Err(); err != nil {
		return fmt.Errorf("register archive file: %w", err)
	}
	return nil
}

// ArchiveFiles returns the registered archive files of a collection.
func (ix *Indexer) ArchiveFiles(ctx context.Context, coll string) (map[string]string, error) {
	return ix.rdb.HGetAll(ctx, archiveFilesKey(coll)).Result()
}

// AddRange indexes the records in the next length bytes of r, which must be
// positioned at the start of a record.
func (ix *Indexer) AddRange(ctx context.Context, r io.ReadSeeker, params Params, filename string, length int64) (int, error) {
	base, err := r.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, fmt.Errorf("locate range start: %w", err)
	}

	rd := warc.NewReader(io.LimitReader(r, length))
	type pendingEntry struct {
		rec   *warc.Record
		entry domain.IndexEntry
	}
	var pending []pendingEntry
	for {
		rec, err := rd.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			slog.Warn("Stopped indexing range", "file", filename, "offset", base+rd.Offset(), "err", err)
			break
		}
		entry, ok := entryForRecord(rec)
		if !ok {
			continue
		}
		entry.Offset = base + rec.Offset
		entry.Filename = filepath.Base(filename)
		pending = append(pending, pendingEntry{rec: rec, entry: entry})
	}

	entries := make([]domain.IndexEntry, 0, len(pending))
	for _, p := range pending {
		p.entry.Length = p.rec.Length
		entries = append(entries, p.entry)
	}
	if err := ix.index.Add(ctx, params.Collection, params.Recording, entries); err != nil {
		return 0, err
	}
	slog.Debug("Indexed range", "file", filename, "offset", base, "length", length, "entries", len(entries), "rec", params.Recording)
	return len(entries), nil
}

func entryForRecord(rec *warc.Record) (domain.IndexEntry, bool) {
	var e domain.IndexEntry
	switch rec.Type {
	case warc.TypeResponse, warc.TypeRevisit, warc.TypeResource:
	default:
		return e, false
	}
	e.URL = rec.Header.Get(warc.HeaderTargetURI)
	if e.URL == "" {
		return e, false
	}
	e.URLKey = URLKey(e.URL)
	if t, err := time.Parse(time.RFC3339, rec.Header.Get(warc.HeaderDate)); err == nil {
		e.Timestamp = Timestamp(t)
	}
	e.Digest = strings.TrimPrefix(rec.Header.Get(warc.HeaderPayloadDigest), "sha1:")

	var payload io.Reader = rec.Body
	if rec.Type == warc.TypeResource {
		e.MIME = mimeType(rec.Header.Get(warc.HeaderContentType))
	} else {
		resp, err := http.ReadResponse(bufio.NewReader(rec.Body), nil)
		if err != nil {
			return e, true
		}
		defer resp.Body.Close()
		e.Status = strconv.Itoa(resp.StatusCode)
		e.MIME = mimeType(resp.Header.Get("Content-Type"))
		payload = resp.Body
	}
	if e.Digest == "" && rec.Type != warc.TypeRevisit {
		h := sha1.New()
		if _, err := io.Copy(h, payload); err == nil {
			e.Digest = base32.StdEncoding.EncodeToString(h.Sum(nil))
		}
	}
	return e, true
}

func mimeType(contentType string) string {
	mime, _, _ := strings.Cut(contentType, ";")
	return strings.ToLower(strings.TrimSpace(mime))
}
