// Package storagetest provides an in-memory storage.ObjectStore.
package storagetest

import (
	"context"
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"
	"sync"

	"github.com/systemstart/backupflow/pkg/storage"
)

// Object is a stored object.
type Object struct {
	Data []byte
	Tags map[string]string
}

// MemoryStore keeps objects in memory and counts every mutating call.
type MemoryStore struct {
	mu sync.Mutex

	Config  storage.Config
	Exists  bool
	Objects map[string]*Object

	Uploads     int
	Copies      int
	Deletes     int
	TagWrites   int
	BucketWrite int
	// Opened counts the stores handed out by Factory.
	Opened int
}

// NewMemoryStore returns an empty store whose bucket exists.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{Exists: true, Objects: make(map[string]*Object)}
}

// Factory hands out m for every configuration and records the last one.
func (m *MemoryStore) Factory() storage.Factory {
	return func(_ context.Context, cfg storage.Config) (storage.ObjectStore, error) {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.Config = cfg
		m.Opened++
		return m, nil
	}
}

// Put seeds an object.
func (m *MemoryStore) Put(key string, data []byte, tags map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Objects[key] = &Object{Data: data, Tags: maps.Clone(tags)}
}

// Keys returns the stored keys in order.
func (m *MemoryStore) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Sorted(maps.Keys(m.Objects))
}

// Writes is the number of mutating calls so far.
func (m *MemoryStore) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Uploads + m.Copies + m.Deletes + m.TagWrites + m.BucketWrite
}

// ResetCounters zeroes the call counters, keeping the objects.
func (m *MemoryStore) ResetCounters() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Uploads, m.Copies, m.Deletes, m.TagWrites, m.BucketWrite = 0, 0, 0, 0, 0
}

func (m *MemoryStore) BucketExists(context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Exists, nil
}

func (m *MemoryStore) CreateBucket(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Exists = true
	m.BucketWrite++
	return nil
}

func (m *MemoryStore) ListObjects(_ context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkBucket(); err != nil {
		return nil, err
	}

	prefix = storage.FolderPrefix(prefix)
	var keys []string
	for key := range m.Objects {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	slices.Sort(keys)
	return keys, nil
}

func (m *MemoryStore) ObjectExists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkBucket(); err != nil {
		return false, err
	}
	_, ok := m.Objects[key]
	return ok, nil
}

func (m *MemoryStore) UploadFile(_ context.Context, path, key string) (int64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("reading %s: %w", path, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkBucket(); err != nil {
		return 0, err
	}
	m.Objects[key] = &Object{Data: data}
	m.Uploads++
	return int64(len(data)), nil
}

func (m *MemoryStore) CopyObject(_ context.Context, srcKey, dstKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	src, ok := m.Objects[srcKey]
	if !ok {
		return fmt.Errorf("copy source %q not found", srcKey)
	}
	// S3 copies the tag set unless told otherwise.
	m.Objects[dstKey] = &Object{Data: slices.Clone(src.Data), Tags: maps.Clone(src.Tags)}
	m.Copies++
	return nil
}

func (m *MemoryStore) DeleteObject(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.Objects, key)
	m.Deletes++
	return nil
}

func (m *MemoryStore) GetObjectTags(_ context.Context, key string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.Objects[key]
	if !ok {
		return nil, fmt.Errorf("object %q not found", key)
	}
	return maps.Clone(obj.Tags), nil
}

func (m *MemoryStore) SetObjectTags(_ context.Context, key string, tags map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.Objects[key]
	if !ok {
		return fmt.Errorf("object %q not found", key)
	}
	obj.Tags = maps.Clone(tags)
	m.TagWrites++
	return nil
}

func (m *MemoryStore) checkBucket() error {
	if !m.Exists {
		return fmt.Errorf("bucket %q does not exist", m.Config.Bucket)
	}
	return nil
}
