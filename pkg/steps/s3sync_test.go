package steps

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systemstart/backupflow/pkg/api"
	"github.com/systemstart/backupflow/pkg/stat"
)

const rotationConfig = `
name: s3_multipart_upload_with_rotation
prefix_in_bucket: "{{ .main_target_name }}"
target_prefix_in_bucket: "{{ .prefix_in_bucket }}/{{ .flow_name }}"
multipart_chunk_size_mb: 16
source_files:
  - source_file: "{{ .archive_file }}"
    add_dedup_tag: true
  - source_file: "{{ .archive_hash_file }}"
upload_rules:
  - name: daily
    destination_prefix: "{{ .target_prefix_in_bucket }}/daily"
    dedup_tag_name: daily
    dedup_tag_value: "{{ .current_date }}"
  - name: weekly
    destination_prefix: "{{ .target_prefix_in_bucket }}/weekly/{{ .week_number }}"
    dedup_tag_name: weekly
    dedup_tag_value: "{{ .week_number }}"
generates:
  uploaded_to: "{{ .target_prefix_in_bucket }}"
`

func rotationFixture(t *testing.T) *stepFixture {
	t.Helper()
	f := newFixture()
	dir := t.TempDir()
	f.basic["archive_file"] = writeTestFile(t, dir, "db.7z", "archive-content")
	f.basic["archive_hash_file"] = writeTestFile(t, dir, "db.7z.sha256", "hash-content")
	return f
}

func metricValue(t *testing.T, entry *stat.Entry, name string) any {
	t.Helper()
	m, ok := entry.Metrics.Lookup(name)
	require.True(t, ok, "metric %q missing", name)
	return m.Value
}

func TestRotationUploadsOncePerFile(t *testing.T) {
	f := rotationFixture(t)

	out, entry, err := f.run(t, stepConfig(t, rotationConfig), false)
	require.NoError(t, err)
	assert.Equal(t, "db/nightly", out["uploaded_to"])

	assert.Equal(t, 2, f.store.Uploads, "each local file is transferred once")
	assert.Equal(t, 2, f.store.Copies, "the second rule is served by server-side copies")
	assert.Equal(t, []string{
		"db/nightly/daily/db.7z",
		"db/nightly/daily/db.7z.sha256",
		"db/nightly/weekly/09/db.7z",
		"db/nightly/weekly/09/db.7z.sha256",
	}, f.store.Keys())

	assert.Equal(t, map[string]string{"daily": "2024-03-07"}, f.store.Objects["db/nightly/daily/db.7z"].Tags)
	assert.Equal(t, map[string]string{"weekly": "09"}, f.store.Objects["db/nightly/weekly/09/db.7z"].Tags)
	assert.Empty(t, f.store.Objects["db/nightly/daily/db.7z.sha256"].Tags)

	assert.Equal(t, 2.0, metricValue(t, entry, "Uploaded Objects"))
	assert.Equal(t, 2.0, metricValue(t, entry, "Copied Objects Count"))
	_, hasSpeed := entry.Metrics.Lookup("Transmission Speed")
	assert.True(t, hasSpeed)

	assert.Equal(t, "backups", f.store.Config.Bucket)
	assert.Equal(t, 16, f.store.Config.ChunkSizeMB)
	assert.Equal(t, 4, f.store.Config.MaxConcurrency)
}

func TestRotationIsIdempotent(t *testing.T) {
	f := rotationFixture(t)
	cfg := stepConfig(t, rotationConfig)

	_, _, err := f.run(t, cfg, false)
	require.NoError(t, err)
	f.store.ResetCounters()

	vote, err := f.create(t, cfg).VoteForSkip(context.Background())
	require.NoError(t, err)
	assert.Equal(t, VoteSkip, vote)

	_, entry, err := f.run(t, cfg, false)
	require.NoError(t, err)
	assert.Equal(t, 0, f.store.Writes(), "a completed iteration performs no writes")
	assert.True(t, entry.Metrics.Empty())
}

func TestRotationDeletesStaleObjects(t *testing.T) {
	f := rotationFixture(t)
	f.store.Put("db/nightly/daily/db-old.7z", []byte("old"), map[string]string{"daily": "2024-03-06"})
	f.store.Put("db/nightly/daily/db.7z", []byte("old"), map[string]string{"daily": "2024-03-06"})
	f.store.Put("db/nightly/daily-archive/keep.7z", []byte("other"), nil)

	_, entry, err := f.run(t, stepConfig(t, rotationConfig), false)
	require.NoError(t, err)

	keys := f.store.Keys()
	assert.NotContains(t, keys, "db/nightly/daily/db-old.7z")
	assert.Contains(t, keys, "db/nightly/daily/db.7z")
	assert.Contains(t, keys, "db/nightly/daily-archive/keep.7z", "sibling prefixes are not rotated")
	assert.Equal(t, []byte("archive-content"), f.store.Objects["db/nightly/daily/db.7z"].Data)
	assert.Equal(t, 1.0, metricValue(t, entry, "Deleted Objects Count"))
}

func TestRotationSkipsOnlyCompletedRules(t *testing.T) {
	f := rotationFixture(t)
	f.store.Put("db/nightly/daily/db.7z", []byte("done"), map[string]string{"daily": "2024-03-07"})

	vote, err := f.create(t, stepConfig(t, rotationConfig)).VoteForSkip(context.Background())
	require.NoError(t, err)
	assert.Equal(t, VoteRun, vote, "weekly rule still has work")

	_, _, err = f.run(t, stepConfig(t, rotationConfig), false)
	require.NoError(t, err)
	assert.Equal(t, []byte("done"), f.store.Objects["db/nightly/daily/db.7z"].Data, "completed rule untouched")
	assert.Equal(t, 2, f.store.Uploads, "weekly rule uploads fresh since daily was skipped")
	assert.Equal(t, 0, f.store.Copies)
}

func TestRotationVoteBucketMissing(t *testing.T) {
	f := rotationFixture(t)
	f.store.Exists = false

	vote, err := f.create(t, stepConfig(t, rotationConfig)).VoteForSkip(context.Background())
	require.NoError(t, err)
	assert.Equal(t, VoteRun, vote)
}

func TestRotationDryRunDoesNotWrite(t *testing.T) {
	f := newFixture()
	f.store.Exists = false
	f.basic["archive_file"] = "/not/created/yet.7z"
	f.basic["archive_hash_file"] = "/not/created/yet.7z.sha256"

	_, entry, err := f.run(t, stepConfig(t, rotationConfig), true)
	require.NoError(t, err, "sources are only resolved on commit")
	assert.Equal(t, 0, f.store.Writes())
	assert.False(t, f.store.Exists)
	assert.True(t, entry.Metrics.Empty())
}

func TestRotationDryRunRendersRules(t *testing.T) {
	f := rotationFixture(t)
	cfg := stepConfig(t, strings.Replace(rotationConfig,
		`"{{ .target_prefix_in_bucket }}/daily"`, `"{{ .no_such_var }}/daily"`, 1))

	_, _, err := f.run(t, cfg, true)
	require.Error(t, err)
	assert.True(t, errors.Is(err, api.ErrUndefinedVariable), "got %v", err)
	assert.Contains(t, err.Error(), `rule "daily"`)
	assert.Equal(t, 0, f.store.Writes())
}

func TestRotationRejectsCollidingNames(t *testing.T) {
	f := newFixture()
	dir := t.TempDir()
	for _, sub := range []string{"a", "b"} {
		require.NoError(t, os.MkdirAll(filepath.Join(dir, sub), 0o750))
		writeTestFile(t, filepath.Join(dir, sub), "dump.7z", "content-"+sub)
	}
	f.basic["archive_file"] = filepath.Join(dir, "**", "*.7z")
	f.basic["archive_hash_file"] = writeTestFile(t, dir, "dump.7z.sha256", "hash")
	f.store.Exists = false

	_, _, err := f.run(t, stepConfig(t, rotationConfig), false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, api.ErrConfigurationValidation), "got %v", err)
	assert.Contains(t, err.Error(), "dump.7z")
	assert.Equal(t, 0, f.store.Writes(), "nothing is written, not even the bucket")
	assert.Empty(t, f.store.Keys())
}

func TestRotationSameFileListedTwiceAndRuleName(t *testing.T) {
	f := rotationFixture(t)
	cfg := stepConfig(t, `
name: s3_multipart_upload_with_rotation
prefix_in_bucket: db
target_prefix_in_bucket: db
source_files:
  - source_file: "{{ .archive_file }}"
  - source_file: "{{ .archive_file }}"
    add_dedup_tag: true
upload_rules:
  - name: daily
    destination_prefix: "db/{{ .rule_name }}"
    dedup_tag_name: "{{ .rule_name }}"
    dedup_tag_value: "{{ .current_date }}"
`)

	_, _, err := f.run(t, cfg, false)
	require.NoError(t, err)
	assert.Equal(t, 1, f.store.Uploads)
	assert.Equal(t, []string{"db/daily/db.7z"}, f.store.Keys())
	assert.Equal(t, map[string]string{"daily": "2024-03-07"}, f.store.Objects["db/daily/db.7z"].Tags)
}

func TestRotationCreatesBucket(t *testing.T) {
	f := rotationFixture(t)
	f.store.Exists = false

	_, _, err := f.run(t, stepConfig(t, rotationConfig), false)
	require.NoError(t, err)
	assert.True(t, f.store.Exists)
	assert.Equal(t, 1, f.store.BucketWrite)
}

func TestRotationValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(f *stepFixture)
		dryRun  bool
		wantErr error
	}{
		{
			name:    "invalid bucket name",
			mutate:  func(f *stepFixture) { f.secrets["bucket_name"] = "bad/bucket" },
			dryRun:  true,
			wantErr: api.ErrDryRunValidation,
		},
		{
			name:    "missing credentials",
			mutate:  func(f *stepFixture) { delete(f.secrets, "aws_secret_access_key") },
			dryRun:  true,
			wantErr: api.ErrConfigurationValidation,
		},
		{
			name:    "missing source file",
			mutate:  func(f *stepFixture) { f.basic["archive_file"] = "/nonexistent/db.7z" },
			wantErr: api.ErrTransmission,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := rotationFixture(t)
			tt.mutate(f)

			_, _, err := f.run(t, stepConfig(t, rotationConfig), tt.dryRun)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
		})
	}
}

func TestRotationInvalidRules(t *testing.T) {
	f := rotationFixture(t)
	cfg := stepConfig(t, `
name: s3_multipart_upload_with_rotation
prefix_in_bucket: db
target_prefix_in_bucket: db
source_files: []
upload_rules:
  - name: daily
`)
	_, _, err := f.run(t, cfg, true)
	assert.True(t, errors.Is(err, api.ErrConfigurationValidation), "got %v", err)

	cfg = stepConfig(t, `
name: s3_multipart_upload_with_rotation
prefix_in_bucket: db
target_prefix_in_bucket: db
source_files: not-a-list
upload_rules: []
`)
	_, _, err = f.run(t, cfg, true)
	assert.True(t, errors.Is(err, api.ErrUnsupportedValueType), "got %v", err)
}

const strictConfig = `
name: s3_strict_upload
prefix_in_bucket: "{{ .main_target_name }}"
target_prefix_in_bucket: "{{ .prefix_in_bucket }}/{{ .current_date }}{{ .execution_suffix }}"
uploads:
  - source_file: "{{ .source_folder }}/**/*.tar.gz"
`

func TestStrictUpload(t *testing.T) {
	f := newFixture()
	f.suffix = "run1"
	dir := t.TempDir()
	f.basic["source_folder"] = dir
	writeTestFile(t, dir, "a.tar.gz", "a")
	writeTestFile(t, dir, "b.tar.gz", "b")
	writeTestFile(t, dir, "ignored.txt", "c")

	vote, err := f.create(t, stepConfig(t, strictConfig)).VoteForSkip(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Abstain, vote)

	_, entry, err := f.run(t, stepConfig(t, strictConfig), false)
	require.NoError(t, err)
	assert.Equal(t, []string{"db/2024-03-07-run1/a.tar.gz", "db/2024-03-07-run1/b.tar.gz"}, f.store.Keys())
	assert.Equal(t, 2.0, metricValue(t, entry, "Uploaded Objects"))

	_, _, err = f.run(t, stepConfig(t, strictConfig), false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, api.ErrTransmission), "strict uploads never overwrite")
	assert.Equal(t, 2, f.store.Uploads)
}

func TestStrictUploadNoMatches(t *testing.T) {
	f := newFixture()
	f.basic["source_folder"] = t.TempDir()

	_, _, err := f.run(t, stepConfig(t, strictConfig), false)
	assert.True(t, errors.Is(err, api.ErrTransmission), "got %v", err)
}

func TestNormalizeSuffix(t *testing.T) {
	assert.Equal(t, "", normalizeSuffix("  "))
	assert.Equal(t, "-v2", normalizeSuffix("v2"))
	assert.Equal(t, "-v2", normalizeSuffix("-v2"))
}
