package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"

	"github.com/jonno85/warc-ingest/internal/domain"
	"github.com/jonno85/warc-ingest/internal/service/utils"
)

// ErrCollectionExists is returned when a collection name is taken and
// duplicates are not allowed.
var ErrCollectionExists = errors.New("collection already exists")

const maxDupeSuffix = 1000

// Store hands out Redis-backed users.
type Store struct {
	rdb          redis.Cmdable
	defaultQuota int64
}

// NewStore returns a Store. Users without an explicit max_size get defaultQuota.
func NewStore(rdb redis.Cmdable, defaultQuota int64) *Store {
	return &Store{rdb: rdb, defaultQuota: defaultQuota}
}

// User returns the named user. Users are created implicitly on first write.
func (s *Store) User(name string) User {
	return &RedisUser{store: s, name: name}
}

// SetQuota sets the user's maximum storage in bytes.
func (s *Store) SetQuota(ctx context.Context, user string, maxSize int64) error {
	return s.rdb.HSet(ctx, userInfoKey(user), "max_size", maxSize).Err()
}

// AddUsage records n more bytes stored by the user.
func (s *Store) AddUsage(ctx context.Context, user string, n int64) error {
	return s.rdb.HIncrBy(ctx, userInfoKey(user), "size", n).Err()
}

func userInfoKey(user string) string  { return "u:" + user + ":info" }
func userCollsKey(user string) string { return "u:" + user + ":colls" }
func collInfoKey(id string) string    { return "c:" + id + ":info" }
func collRecsKey(id string) string    { return "c:" + id + ":recs" }
func recInfoKey(id string) string     { return "r:" + id + ":info" }
func recArchivesKey(id string) string { return "r:" + id + ":ra" }
func recPagesKey(id string) string    { return "r:" + id + ":_ps" }

// RedisUser implements User.
type RedisUser struct {
	store *Store
	name  string
}

func (u *RedisUser) Name() string { return u.name }

func (u *RedisUser) RemainingSpace(ctx context.Context) (int64, error) {
	vals, err := u.store.rdb.HMGet(ctx, userInfoKey(u.name), "max_size", "size").Result()
	if err != nil {
		return 0, fmt.Errorf("read quota of %s: %w", u.name, err)
	}
	maxSize := u.store.defaultQuota
	if v, ok := vals[0].(string); ok {
		maxSize, _ = strconv.ParseInt(v, 10, 64)
	}
	var used int64
	if v, ok := vals[1].(string); ok {
		used, _ = strconv.ParseInt(v, 10, 64)
	}
	return maxSize - used, nil
}

func (u *RedisUser) HasCollection(ctx context.Context, name string) (bool, error) {
	return u.store.rdb.HExists(ctx, userCollsKey(u.name), name).Result()
}

func (u *RedisUser) CollectionByName(ctx context.Context, name string) (Collection, error) {
	id, err := u.store.rdb.HGet(ctx, userCollsKey(u.name), name).Result()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", domain.ErrCollectionNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("lookup collection %s: %w", name, err)
	}
	return &RedisCollection{rdb: u.store.rdb, id: id, name: name}, nil
}

func (u *RedisUser) CreateCollection(ctx context.Context, spec CollectionSpec) (Collection, error) {
	base := spec.Name
	if base == "" {
		base = SanitizeTitle(spec.Title)
	}
	id := uuid.NewString()

	name := base
	for i := 2; ; i++ {
		ok, err := u.store.rdb.HSetNX(ctx, userCollsKey(u.name), name, id).Result()
		if err != nil {
			return nil, fmt.Errorf("reserve collection name %s: %w", name, err)
		}
		if ok {
			break
		}
		if !spec.AllowDupe || i > maxDupeSuffix {
			return nil, fmt.Errorf("%w: %s", ErrCollectionExists, base)
		}
		name = base + "-" + strconv.Itoa(i)
	}

	_, err := u.store.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, collInfoKey(id),
			"name", name,
			"owner", u.name,
			"title", spec.Title,
			"desc", spec.Description,
			"public", boolString(spec.Public),
			"created_at", time.Now().Unix(),
		)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("create collection %s: %w", name, err)
	}
	slog.Info("Collection created", "user", u.name, "coll", name, "id", id)
	return &RedisCollection{rdb: u.store.rdb, id: id, name: name}, nil
}

// RedisCollection implements Collection.
type RedisCollection struct {
	rdb  redis.Cmdable
	id   string
	name string
}

func (c *RedisCollection) ID() string   { return c.id }
func (c *RedisCollection) Name() string { return c.name }

func (c *RedisCollection) Property(ctx context.Context, key string) (string, error) {
	v, err := c.rdb.HGet(ctx, collInfoKey(c.id), key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return v, err
}

func (c *RedisCollection) SetProperty(ctx context.Context, key, value string) error {
	return c.rdb.HSet(ctx, collInfoKey(c.id), key, value).Err()
}

// Recordings returns the ids of the collection's recordings.
func (c *RedisCollection) Recordings(ctx context.Context) ([]string, error) {
	return c.rdb.SMembers(ctx, collRecsKey(c.id)).Result()
}

func (c *RedisCollection) CreateRecording(ctx context.Context, spec RecordingSpec) (Recording, error) {
	id := uuid.NewString()
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, recInfoKey(id),
			"coll", c.id,
			"title", spec.Title,
			"desc", spec.Description,
			"rec_type", spec.RecType,
			"created_at", time.Now().Unix(),
		)
		if len(spec.RemoteArchives) > 0 {
			members := make([]interface{}, len(spec.RemoteArchives))
			for i, ra := range spec.RemoteArchives {
				members[i] = ra
			}
			pipe.SAdd(ctx, recArchivesKey(id), members...)
		}
		pipe.SAdd(ctx, collRecsKey(c.id), id)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("create recording in %s: %w", c.name, err)
	}
	return &RedisRecording{rdb: c.rdb, id: id}, nil
}

// RedisRecording implements Recording.
type RedisRecording struct {
	rdb redis.Cmdable
	id  string
}

func (r *RedisRecording) ID() string { return r.id }

func (r *RedisRecording) SetProperty(ctx context.Context, key, value string) error {
	return r.rdb.HSet(ctx, recInfoKey(r.id), key, value).Err()
}

// Property returns a recording property, empty when unset.
func (r *RedisRecording) Property(ctx context.Context, key string) (string, error) {
	v, err := r.rdb.HGet(ctx, recInfoKey(r.id), key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return v, err
}

// RemoteArchives returns the archive ids referenced by the recording.
func (r *RedisRecording) RemoteArchives(ctx context.Context) ([]string, error) {
	return r.rdb.SMembers(ctx, recArchivesKey(r.id)).Result()
}

// ImportPages stores pages keyed by a short hash of url and timestamp, so a
// page imported twice is stored once.
func (r *RedisRecording) ImportPages(ctx context.Context, pages []domain.PageEntry) error {
	if len(pages) == 0 {
		return nil
	}
	values := make([]interface{}, 0, len(pages)*2)
	for _, p := range pages {
		data, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("encode page %s: %w", p.URL, err)
		}
		values = append(values, PageID(p), string(data))
	}
	if err := r.rdb.HSet(ctx, recPagesKey(r.id), values...).Err(); err != nil {
		return fmt.Errorf("import pages into %s: %w", r.id, err)
	}
	return nil
}

// Pages returns the stored pages of the recording, keyed by page id.
func (r *RedisRecording) Pages(ctx context.Context) (map[string]domain.PageEntry, error) {
	raw, err := r.rdb.HGetAll(ctx, recPagesKey(r.id)).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]domain.PageEntry, len(raw))
	for id, v := range raw {
		var p domain.PageEntry
		if err := json.Unmarshal([]byte(v), &p); err != nil {
			slog.Warn("Skipping unreadable page", "rec", r.id, "page", id, "err", err)
			continue
		}
		out[id] = p
	}
	return out, nil
}

// PageID returns the stable id of a page.
func PageID(p domain.PageEntry) string {
	return utils.ComputeHash([]byte(p.URL + " " + p.Timestamp))[:10]
}

func boolString(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
