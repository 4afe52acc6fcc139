package adapter

import (
	"context"
	"fmt"
	"log/slog"

	redis "github.com/redis/go-redis/v9"
)

const watchedPathsKey = "watch:paths"

// RedisOptions configures the Redis connection.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisClient connects to Redis and pings it once.
func NewRedisClient(ctx context.Context, opts RedisOptions) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", opts.Addr, err)
	}
	return client, nil
}

// PathRegistry remembers which drop directories are watched, so they survive
// restarts.
type PathRegistry struct {
	rdb redis.Cmdable
}

func NewPathRegistry(rdb redis.Cmdable) *PathRegistry {
	return &PathRegistry{rdb: rdb}
}

func (r *PathRegistry) Add(ctx context.Context, path string) error {
	return r.rdb.SAdd(ctx, watchedPathsKey, path).Err()
}

// Has reports whether path is registered.
func (r *PathRegistry) Has(ctx context.Context, path string) (bool, error) {
	return r.rdb.SIsMember(ctx, watchedPathsKey, path).Result()
}

func (r *PathRegistry) Remove(ctx context.Context, path string) error {
	return r.rdb.SRem(ctx, watchedPathsKey, path).Err()
}

// List returns every registered path.
func (r *PathRegistry) List(ctx context.Context) ([]string, error) {
	paths, err := r.rdb.SMembers(ctx, watchedPathsKey).Result()
	if err != nil {
		return nil, err
	}
	slog.Debug("Loaded watched paths", "count", len(paths))
	return paths, nil
}
