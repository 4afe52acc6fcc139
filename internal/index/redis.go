package index

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	redis "github.com/redis/go-redis/v9"

	"github.com/jonno85/warc-ingest/internal/domain"
)

// DefaultKeyTemplate names the sorted set holding a recording's index.
const DefaultKeyTemplate = "r:{rec}:cdxj"

// RedisIndex reads and writes CDXJ lines held in one sorted set per
// (collection, recording). All members share score 0 so they sort by line.
type RedisIndex struct {
	rdb         redis.Cmdable
	keyTemplate string
}

// NewRedisIndex returns an index over rdb. keyTemplate may use {coll} and {rec}.
func NewRedisIndex(rdb redis.Cmdable, keyTemplate string) *RedisIndex {
	if keyTemplate == "" {
		keyTemplate = DefaultKeyTemplate
	}
	return &RedisIndex{rdb: rdb, keyTemplate: keyTemplate}
}

// Key returns the sorted-set key of a recording.
func (i *RedisIndex) Key(coll, rec string) string {
	return strings.NewReplacer("{coll}", coll, "{rec}", rec).Replace(i.keyTemplate)
}

// Entries returns every decodable entry of a recording, in key order.
func (i *RedisIndex) Entries(ctx context.Context, coll, rec string) ([]domain.IndexEntry, error) {
	key := i.Key(coll, rec)
	members, err := i.rdb.ZRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("zrange %s: %w", key, err)
	}
	entries := make([]domain.IndexEntry, 0, len(members))
	for _, member := range members {
		e, err := ParseLine(member)
		if err != nil {
			slog.Warn("Skipping undecodable index entry", "key", key, "err", err)
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Add writes entries to a recording's index in one round trip.
func (i *RedisIndex) Add(ctx context.Context, coll, rec string, entries []domain.IndexEntry) error {
	if len(entries) == 0 {
		return nil
	}
	key := i.Key(coll, rec)
	members := make([]redis.Z, 0, len(entries))
	for _, e := range entries {
		line, err := FormatLine(e)
		if err != nil {
			return err
		}
		members = append(members, redis.Z{Score: 0, Member: line})
	}
	if err := i.rdb.ZAdd(ctx, key, members...).Err(); err != nil {
		return fmt.Errorf("zadd %s: %w", key, err)
	}
	return nil
}
