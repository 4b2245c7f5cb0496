package steps

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/systemstart/backupflow/pkg/api"
	"github.com/systemstart/backupflow/pkg/rendering"
	"github.com/systemstart/backupflow/pkg/stat"
	"github.com/systemstart/backupflow/pkg/storage/storagetest"
)

// writeTestFile writes content to a file in dir, failing the test on error.
func writeTestFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

// stepConfig parses a single step declaration.
func stepConfig(t *testing.T, doc string) api.StepConfig {
	t.Helper()
	var cfg api.StepConfig
	require.NoError(t, yaml.Unmarshal([]byte(doc), &cfg))
	return cfg
}

type stepFixture struct {
	store    *storagetest.MemoryStore
	registry *Registry
	basic    map[string]any
	secrets  map[string]any
	suffix   string
}

func newFixture() *stepFixture {
	store := storagetest.NewMemoryStore()
	return &stepFixture{
		store:    store,
		registry: NewRegistry(WithStoreFactory(store.Factory())),
		basic: map[string]any{
			"main_target_name": "db",
			"flow_name":        "nightly",
			"current_date":     "2024-03-07",
			"week_number":      "09",
		},
		secrets: map[string]any{
			"bucket_name":           "backups",
			"region":                "eu-west-1",
			"aws_access_key_id":     "key",
			"aws_secret_access_key": "secret",
		},
	}
}

func (f *stepFixture) create(t *testing.T, cfg api.StepConfig) Step {
	t.Helper()
	step, err := f.registry.Create(Params{
		Config:       cfg,
		Secrets:      f.secrets,
		Rendering:    rendering.NewContext(f.basic),
		UploadSuffix: f.suffix,
	})
	require.NoError(t, err)
	return step
}

func (f *stepFixture) run(t *testing.T, cfg api.StepConfig, dryRun bool) (map[string]any, *stat.Entry, error) {
	t.Helper()
	entry := stat.NewEntry(cfg.Name, cfg.DisplayName())
	out, err := f.create(t, cfg).Run(context.Background(), entry, dryRun)
	return out, entry, err
}
