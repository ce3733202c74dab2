package blob

import (
	"context"
	"fmt"
	"io"

	"deptdocs/core/internal/domain"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// MinioStore keeps attachments in one S3-compatible bucket.
type MinioStore struct {
	client *minio.Client
	bucket string
}

func NewMinioStore(cfg MinioConfig) (*MinioStore, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("minio endpoint and bucket are required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return &MinioStore{client: client, bucket: cfg.Bucket}, nil
}

// EnsureBucket creates the bucket when it does not exist yet.
func (s *MinioStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return domain.RemoteUnavailable("check bucket", err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return domain.RemoteUnavailable("create bucket", err)
	}
	return nil
}

// Upload stores r under a generated object name and returns that name.
func (s *MinioStore) Upload(ctx context.Context, name, mediaType string, size int64, r io.Reader) (string, error) {
	object := ObjectName(name)
	_, err := s.client.PutObject(ctx, s.bucket, object, r, size, minio.PutObjectOptions{
		ContentType:        mediaType,
		ContentDisposition: fmt.Sprintf("attachment; filename=%q", name),
	})
	if err != nil {
		return "", domain.RemoteUnavailable("upload "+name, err)
	}
	return object, nil
}

// Download opens the object. A missing object is NotFound.
func (s *MinioStore) Download(ctx context.Context, name string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, name, minio.GetObjectOptions{})
	if err != nil {
		return nil, domain.RemoteUnavailable("download "+name, err)
	}
	// GetObject is lazy; Stat surfaces a missing key before any bytes are read.
	if _, err := obj.Stat(); err != nil {
		_ = obj.Close()
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, &domain.Error{Kind: domain.KindNotFound, Message: "attachment " + name + " not found"}
		}
		return nil, domain.RemoteUnavailable("download "+name, err)
	}
	return obj, nil
}

// Remove deletes the object. Removing a missing object is not an error.
func (s *MinioStore) Remove(ctx context.Context, name string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, name, minio.RemoveObjectOptions{}); err != nil {
		return domain.RemoteUnavailable("remove "+name, err)
	}
	return nil
}
