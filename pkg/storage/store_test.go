package storage

import (
	"errors"
	"testing"

	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
)

func TestFolderPrefix(t *testing.T) {
	assert.Equal(t, "", FolderPrefix(""))
	assert.Equal(t, "db/daily/", FolderPrefix("db/daily"))
	assert.Equal(t, "db/daily/", FolderPrefix("db/daily/"))
}

func TestConfigWithDefaults(t *testing.T) {
	cfg := Config{Bucket: "b", ChunkSizeMB: 16}.WithDefaults()
	assert.Equal(t, 16, cfg.ChunkSizeMB)
	assert.Equal(t, DefaultMaxConcurrency, cfg.MaxConcurrency)
	assert.Equal(t, DefaultMaxAttempts, cfg.MaxAttempts)
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, isNotFound(&smithy.GenericAPIError{Code: "NotFound"}))
	assert.True(t, isNotFound(&smithy.GenericAPIError{Code: "NoSuchBucket"}))
	assert.False(t, isNotFound(&smithy.GenericAPIError{Code: "AccessDenied"}))
	assert.False(t, isNotFound(errors.New("boom")))
}

func TestCopySource(t *testing.T) {
	assert.Equal(t, "bucket/db/daily/Mon/a%20b.7z", copySource("bucket", "db/daily/Mon/a b.7z"))
}
