package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const contentTypeJSON = "application/json"

// ErrObjectNotFound is returned by ReadJSON for a missing key.
var ErrObjectNotFound = errors.New("archived object not found")

// MinIOService implements ArchiveService on a MinIO (or any S3) endpoint.
type MinIOService struct {
	client *minio.Client
}

func NewMinIOService(cfg Config) (*MinIOService, error) {
	if !cfg.IsMinIOEnabled() {
		return nil, errors.New("object storage is not configured")
	}

	client, err := minio.New(cfg.GetMinIOEndpoint(), &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.GetMinIOAccessKey(), cfg.GetMinIOSecretKey(), ""),
		Secure: cfg.GetMinIOUseSSL(),
	})
	if err != nil {
		return nil, fmt.Errorf("minio client for %s: %w", cfg.GetMinIOEndpoint(), err)
	}
	return &MinIOService{client: client}, nil
}

func (s *MinIOService) EnsureBucketExists(ctx context.Context, bucket string) error {
	exists, err := s.client.BucketExists(ctx, bucket)
	switch {
	case err != nil:
		return fmt.Errorf("check bucket %s: %w", bucket, err)
	case exists:
		return nil
	}
	if err := s.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", bucket, err)
	}
	return nil
}

// PutJSON stores v as indented JSON under key.
func (s *MinIOService) PutJSON(ctx context.Context, bucket, key string, v any) error {
	if err := ValidateObjectKey(key); err != nil {
		return err
	}
	body, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}

	_, err = s.client.PutObject(ctx, bucket, key, bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType: contentTypeJSON,
	})
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", bucket, key, err)
	}
	return nil
}

func (s *MinIOService) ReadJSON(ctx context.Context, bucket, key string, v any) error {
	if err := ValidateObjectKey(key); err != nil {
		return err
	}
	obj, err := s.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return fmt.Errorf("get %s/%s: %w", bucket, key, err)
	}
	defer obj.Close()

	// GetObject is lazy; a missing key only surfaces on the first read.
	if err := json.NewDecoder(obj).Decode(v); err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return fmt.Errorf("%s: %w", key, ErrObjectNotFound)
		}
		return fmt.Errorf("decode %s/%s: %w", bucket, key, err)
	}
	return nil
}

func (s *MinIOService) ListObjects(ctx context.Context, bucket, prefix string, limit int) ([]ObjectInfo, error) {
	var out []ObjectInfo
	for obj := range s.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list %s/%s: %w", bucket, prefix, obj.Err)
		}
		out = append(out, ObjectInfo{Key: obj.Key, Size: obj.Size, LastModified: obj.LastModified})
	}
	return newestFirst(out, limit), nil
}

func newestFirst(objs []ObjectInfo, limit int) []ObjectInfo {
	slices.SortFunc(objs, func(a, b ObjectInfo) int {
		if c := b.LastModified.Compare(a.LastModified); c != 0 {
			return c
		}
		return strings.Compare(b.Key, a.Key)
	})
	if limit > 0 && len(objs) > limit {
		objs = objs[:limit]
	}
	return objs
}

var _ ArchiveService = (*MinIOService)(nil)
