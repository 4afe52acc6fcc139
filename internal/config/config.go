package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/jonno85/warc-ingest/internal/adapter"
	"github.com/jonno85/warc-ingest/internal/domain"
)

var ErrMissingRequired = errors.New("missing required configuration")

const (
	SinkHTTP = "http"
	SinkS3   = "s3"
)

type Config struct {
	RedisAddr     string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	MinioEndpoint  string `envconfig:"MINIO_ENDPOINT" default:"localhost:9000"`
	MinioAccessKey string `envconfig:"MINIO_ACCESS_KEY"`
	MinioSecretKey string `envconfig:"MINIO_SECRET_KEY"`
	MinioUseSSL    bool   `envconfig:"MINIO_USE_SSL" default:"false"`
	S3Bucket       string `envconfig:"S3_BUCKET" default:"warc-segments"`

	// Remote sink
	SinkKind           string `envconfig:"SINK_KIND" default:"http"`
	RecordHost         string `envconfig:"RECORD_HOST" default:"localhost:8010"`
	UploadPathTemplate string `envconfig:"UPLOAD_PATH_TEMPLATE" default:"http://{record_host}/record/{user}/{coll}/{rec}?upid={upid}"`
	ObjectKeyTemplate  string `envconfig:"OBJECT_KEY_TEMPLATE" default:"{user}/{coll}/{rec}/{offset}.warc"`
	PutAttempts        int    `envconfig:"PUT_ATTEMPTS" default:"3"`

	CDXJKeyTemplate    string        `envconfig:"CDXJ_KEY_TEMPLATE" default:"r:{rec}:cdxj"`
	UploadStatusExpire time.Duration `envconfig:"UPLOAD_STATUS_EXPIRE" default:"24h"`
	StatusReadExpire   time.Duration `envconfig:"STATUS_READ_EXPIRE" default:"120s"`
	MaxDetectPages     int           `envconfig:"MAX_DETECT_PAGES" default:"0"`

	// Collection created for recordings that arrive without one
	UploadCollID     string `envconfig:"UPLOAD_COLL_ID" default:"uploads"`
	UploadCollTitle  string `envconfig:"UPLOAD_COLL_TITLE" default:"Temporary Collection"`
	UploadCollDesc   string `envconfig:"UPLOAD_COLL_DESC" default:"Uploaded from {filename}"`
	UploadCollPublic bool   `envconfig:"UPLOAD_COLL_PUBLIC" default:"false"`

	DefaultUserQuota   int64  `envconfig:"DEFAULT_USER_QUOTA" default:"5000000000"`
	SpoolDir           string `envconfig:"SPOOL_DIR"`
	RemoteArchivesFile string `envconfig:"REMOTE_ARCHIVES_FILE"`
	NumWorkers         int    `envconfig:"NUM_WORKERS" default:"4"`

	// Drop-directory watcher
	WatchPath     string        `envconfig:"WATCH_PATH"`
	WatchUser     string        `envconfig:"WATCH_USER"`
	StreamTimeout time.Duration `envconfig:"STREAM_TIMEOUT" default:"30s"`

	ServerPort  int    `envconfig:"SERVER_PORT" default:"8080"`
	MetricsPort int    `envconfig:"METRICS_PORT" default:"2112"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
}

func (c *Config) Validate() error {
	if c.RedisAddr == "" {
		return fmt.Errorf("%w: REDIS_ADDR", ErrMissingRequired)
	}
	switch c.SinkKind {
	case SinkHTTP:
		if c.RecordHost == "" {
			return fmt.Errorf("%w: RECORD_HOST", ErrMissingRequired)
		}
		if c.UploadPathTemplate == "" {
			return fmt.Errorf("%w: UPLOAD_PATH_TEMPLATE", ErrMissingRequired)
		}
	case SinkS3:
		if c.MinioAccessKey == "" {
			return fmt.Errorf("%w: MINIO_ACCESS_KEY", ErrMissingRequired)
		}
		if c.MinioSecretKey == "" {
			return fmt.Errorf("%w: MINIO_SECRET_KEY", ErrMissingRequired)
		}
		if c.S3Bucket == "" {
			return fmt.Errorf("%w: S3_BUCKET", ErrMissingRequired)
		}
	default:
		return fmt.Errorf("unknown SINK_KIND %q", c.SinkKind)
	}
	if c.WatchPath != "" && c.WatchUser == "" {
		return fmt.Errorf("%w: WATCH_USER is needed with WATCH_PATH", ErrMissingRequired)
	}
	return nil
}

// UploadCollection describes the collection recordings land in when the
// upload does not name one.
func (c *Config) UploadCollection() domain.SegmentDescriptor {
	return domain.SegmentDescriptor{
		Kind:        domain.KindCollection,
		Title:       c.UploadCollTitle,
		Description: c.UploadCollDesc,
		Public:      c.UploadCollPublic,
	}
}

func (c *Config) RedisOptions() adapter.RedisOptions {
	return adapter.RedisOptions{Addr: c.RedisAddr, Password: c.RedisPassword, DB: c.RedisDB}
}

func (c *Config) MinioOptions() adapter.MinioOptions {
	return adapter.MinioOptions{
		Endpoint:  c.MinioEndpoint,
		AccessKey: c.MinioAccessKey,
		SecretKey: c.MinioSecretKey,
		UseSSL:    c.MinioUseSSL,
		Bucket:    c.S3Bucket,
	}
}

// ParseLogLevel maps LOG_LEVEL to a slog level, defaulting to info.
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetupLogging installs the default text logger at the configured level.
func SetupLogging(level string) {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: ParseLogLevel(level)})
	slog.SetDefault(slog.New(handler))
}
