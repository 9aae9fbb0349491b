// Package storage archives maintenance job summaries in S3-compatible object
// storage.
package storage

import (
	"context"
	"time"
)

// ObjectInfo describes one archived object.
type ObjectInfo struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"lastModified"`
}

// ArchiveService is the object storage surface used for job summaries.
type ArchiveService interface {
	EnsureBucketExists(ctx context.Context, bucket string) error
	PutJSON(ctx context.Context, bucket, key string, v any) error
	// ReadJSON decodes the object at key into v.
	ReadJSON(ctx context.Context, bucket, key string, v any) error
	// ListObjects returns objects under prefix, newest first, at most limit
	// when limit > 0.
	ListObjects(ctx context.Context, bucket, prefix string, limit int) ([]ObjectInfo, error)
}

type Config interface {
	GetMinIOEndpoint() string
	GetMinIOAccessKey() string
	GetMinIOSecretKey() string
	GetMinIOUseSSL() bool
	IsMinIOEnabled() bool
}
