package storage

import (
	"context"
	"strings"
)

// Defaults for the transfer settings of Config.
const (
	DefaultChunkSizeMB    = 8
	DefaultMaxConcurrency = 4
	DefaultMaxAttempts    = 5
)

// ObjectStore is a single bucket of an object storage service.
type ObjectStore interface {
	BucketExists(ctx context.Context) (bool, error)
	CreateBucket(ctx context.Context) error
	// ListObjects returns every key below the folder prefix.
	ListObjects(ctx context.Context, prefix string) ([]string, error)
	ObjectExists(ctx context.Context, key string) (bool, error)
	// UploadFile transfers a local file and returns its size in bytes.
	UploadFile(ctx context.Context, path, key string) (int64, error)
	CopyObject(ctx context.Context, srcKey, dstKey string) error
	DeleteObject(ctx context.Context, key string) error
	GetObjectTags(ctx context.Context, key string) (map[string]string, error)
	SetObjectTags(ctx context.Context, key string, tags map[string]string) error
}

// Factory opens the store described by cfg.
type Factory func(ctx context.Context, cfg Config) (ObjectStore, error)

// Config describes the bucket and the transfer settings.
type Config struct {
	Bucket          string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	// EndpointURL selects an S3 compatible service; path-style addressing is used with it.
	EndpointURL    string
	ChunkSizeMB    int
	MaxConcurrency int
	MaxAttempts    int
}

// WithDefaults fills the unset transfer settings.
func (c Config) WithDefaults() Config {
	if c.ChunkSizeMB <= 0 {
		c.ChunkSizeMB = DefaultChunkSizeMB
	}
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = DefaultMaxConcurrency
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	return c
}

// FolderPrefix turns prefix into a folder prefix ending with "/", so that
// "daily" does not match "daily-old/x". The empty prefix is left alone.
func FolderPrefix(prefix string) string {
	if prefix == "" || strings.HasSuffix(prefix, "/") {
		return prefix
	}
	return prefix + "/"
}
