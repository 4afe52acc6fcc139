// Package progress keeps the poll-able state of ingestion jobs in Redis
// hashes. Multi-field updates go through MULTI/EXEC so pollers never observe
// a half-written record.
package progress

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/jonno85/warc-ingest/internal/domain"
)

const (
	keyTemplate = "u:%s:upl:%s"

	// DefaultReadExpire is the TTL a status read grants the record.
	DefaultReadExpire = 120 * time.Second

	fieldSize       = "size"
	fieldTotalSize  = "total_size"
	fieldFiles      = "files"
	fieldTotalFiles = "total_files"
	fieldDone       = "done"
	fieldColl       = "coll"
	fieldCollTitle  = "coll_title"
	fieldFilename   = "filename"
)

// ErrNotFound is returned when no record exists for an upload.
var ErrNotFound = errors.New("upload not found")

// Store reads and writes progress records.
type Store struct {
	rdb        redis.Cmdable
	readExpire time.Duration
}

// NewStore returns a Store. readExpire <= 0 selects DefaultReadExpire.
func NewStore(rdb redis.Cmdable, readExpire time.Duration) *Store {
	if readExpire <= 0 {
		readExpire = DefaultReadExpire
	}
	return &Store{rdb: rdb, readExpire: readExpire}
}

// Key returns the hash key of an upload.
func Key(user, uploadID string) string {
	return fmt.Sprintf(keyTemplate, user, uploadID)
}

// Begin creates the record of a job expecting totalSize units over files files.
func (s *Store) Begin(ctx context.Context, key string, totalSize int64, files int, filename string, ttl time.Duration) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			fieldSize, 0,
			fieldTotalSize, totalSize,
			fieldTotalFiles, files,
			fieldFiles, files,
		)
		if filename != "" {
			pipe.HSet(ctx, key, fieldFilename, filename)
		}
		if ttl > 0 {
			pipe.Expire(ctx, key, ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("begin upload %s: %w", key, err)
	}
	slog.Debug("Upload status created", "key", key, "totalSize", totalSize, "files", files)
	return nil
}

// Credit adds n units to the consumed size. n may be negative.
func (s *Store) Credit(ctx context.Context, key string, n int64) error {
	if n == 0 {
		return nil
	}
	if err := s.rdb.HIncrBy(ctx, key, fieldSize, n).Err(); err != nil {
		return fmt.Errorf("credit %s: %w", key, err)
	}
	return nil
}

// SetFilename records the file currently being processed.
func (s *Store) SetFilename(ctx context.Context, key, filename string) error {
	return s.rdb.HSet(ctx, key, fieldFilename, filename).Err()
}

// SetCollection records which collection received the upload.
func (s *Store) SetCollection(ctx context.Context, key, coll, title, filename string, ttl time.Duration) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			fieldColl, coll,
			fieldCollTitle, title,
			fieldFilename, filename,
		)
		if ttl > 0 {
			pipe.Expire(ctx, key, ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("set collection on %s: %w", key, err)
	}
	return nil
}

// finishFileScript credits ARGV[1] units, counts one file as done and sets
// done once no files remain, all in one step so pollers never see files=0
// without done.
var finishFileScript = redis.NewScript(`
if tonumber(ARGV[1]) ~= 0 then
	redis.call('HINCRBY', KEYS[1], 'size', ARGV[1])
end
local left = redis.call('HINCRBY', KEYS[1], 'files', -1)
if left <= 0 then
	redis.call('HSET', KEYS[1], 'done', 1)
end
return left
`)

// FinishFile credits padUnits and counts one file as done, marking the job
// done once no files remain. It returns the number of files still outstanding.
func (s *Store) FinishFile(ctx context.Context, key string, padUnits int64) (int64, error) {
	left, err := finishFileScript.Run(ctx, s.rdb, []string{key}, padUnits).Int64()
	if err != nil {
		return 0, fmt.Errorf("finish file on %s: %w", key, err)
	}
	if left <= 0 {
		slog.Info("Upload done", "key", key)
	}
	return left, nil
}

// Status returns the progress of an upload and refreshes its TTL. Once no
// files remain, size is reported as total_size.
func (s *Store) Status(ctx context.Context, user, uploadID string) (domain.UploadProgress, error) {
	key := Key(user, uploadID)
	props, err := s.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return domain.UploadProgress{}, fmt.Errorf("read %s: %w", key, err)
	}
	if len(props) == 0 {
		return domain.UploadProgress{}, ErrNotFound
	}

	p := domain.UploadProgress{
		User:            user,
		UploadID:        uploadID,
		Collection:      props[fieldColl],
		CollectionTitle: props[fieldCollTitle],
		Filename:        props[fieldFilename],
		Done:            props[fieldDone] == "1",
	}
	if props[fieldTotalSize] == "" {
		return p, nil
	}

	if err := s.rdb.Expire(ctx, key, s.readExpire).Err(); err != nil {
		slog.Warn("Failed to refresh upload status expiry", "key", key, "err", err)
	}
	p.TotalSize = parseInt(props[fieldTotalSize])
	p.Size = parseInt(props[fieldSize])
	p.Files = parseInt(props[fieldFiles])
	p.TotalFiles = parseInt(props[fieldTotalFiles])
	if p.Files == 0 {
		p.Size = p.TotalSize
	}
	return p, nil
}

func parseInt(v string) int64 {
	n, _ := strconv.ParseInt(v, 10, 64)
	return n
}
