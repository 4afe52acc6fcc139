package config

import (
	"context"
	"fmt"

	redis "github.com/redis/go-redis/v9"

	"github.com/jonno85/warc-ingest/internal/adapter"
)

type AppClients struct {
	Redis *redis.Client
	// S3 is nil unless SINK_KIND is s3.
	S3 *adapter.S3ClientImpl
}

func NewAppClients(ctx context.Context, cfg *Config) (*AppClients, error) {
	rdb, err := adapter.NewRedisClient(ctx, cfg.RedisOptions())
	if err != nil {
		return nil, err
	}
	clients := &AppClients{Redis: rdb}
	if cfg.SinkKind == SinkS3 {
		s3, err := adapter.NewMinioClient(cfg.MinioOptions())
		if err != nil {
			rdb.Close()
			return nil, err
		}
		if err := s3.EnsureBucket(ctx); err != nil {
			rdb.Close()
			return nil, fmt.Errorf("prepare segment bucket: %w", err)
		}
		clients.S3 = s3
	}
	return clients, nil
}

func (c *AppClients) Close() error {
	return c.Redis.Close()
}
