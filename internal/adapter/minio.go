package adapter

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/jonno85/warc-ingest/internal/service/utils"
)

const (
	maxStatAttempts = 5
	initialBackoff  = 1 * time.Millisecond
)

// MinioOptions configures the MinIO client.
type MinioOptions struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
}

type S3ClientImpl struct {
	s3Client *minio.Client
	bucket   string
}

func NewMinioClient(opts MinioOptions) (*S3ClientImpl, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return &S3ClientImpl{s3Client: client, bucket: opts.Bucket}, nil
}

// EnsureBucket creates the segment bucket if it does not exist yet.
func (s *S3ClientImpl) EnsureBucket(ctx context.Context) error {
	exists, err := s.s3Client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.s3Client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("make bucket %s: %w", s.bucket, err)
	}
	slog.Info("Bucket created", "bucket", s.bucket)
	return nil
}

// SegmentExists reports whether key is already stored with the given size.
func (s *S3ClientImpl) SegmentExists(ctx context.Context, key string, size int64) (bool, error) {
	info, err := utils.Retry(ctx, maxStatAttempts, initialBackoff, func() (minio.ObjectInfo, error) {
		info, err := s.s3Client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return info, nil
		}
		return info, err
	})
	if err != nil {
		return false, err
	}
	if info.Key == "" {
		return false, nil
	}
	if info.Size != size {
		slog.Info("Segment exists with different size", "key", key, "remoteSize", info.Size, "size", size)
		return false, nil
	}
	return true, nil
}

// PutSegment uploads body as key. It is not retried here since body can only
// be read once; callers retry with a fresh reader.
func (s *S3ClientImpl) PutSegment(ctx context.Context, key string, body io.Reader, size int64, metadata map[string]string) error {
	slog.Debug("Uploading segment", "key", key, "size", size)
	_, err := s.s3Client.PutObject(ctx, s.bucket, key, body, size, minio.PutObjectOptions{
		ContentType:  "application/warc",
		UserMetadata: metadata,
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}
