package steps

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMkdirStep(t *testing.T) {
	f := newFixture()
	f.basic["exec_folder"] = t.TempDir()
	cfg := stepConfig(t, `
name: mkdir_for_backup
generation_mask: "{{ .exec_folder }}/{{ .main_target_name }}"
generates:
  backup_folder: "{{ .result }}"
`)
	want := filepath.Join(f.basic["exec_folder"].(string), "db")

	out, _, err := f.run(t, cfg, true)
	require.NoError(t, err)
	assert.Equal(t, want, out["backup_folder"])
	_, statErr := os.Stat(want)
	assert.True(t, os.IsNotExist(statErr), "dry run must not create the folder")

	out, _, err = f.run(t, cfg, false)
	require.NoError(t, err)
	assert.Equal(t, want, out["backup_folder"])
	info, err := os.Stat(want)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestMkdirStepMissingMask(t *testing.T) {
	f := newFixture()
	_, _, err := f.run(t, stepConfig(t, "name: mkdir_for_backup\n"), true)
	assert.ErrorContains(t, err, `parameter "generation_mask" is required`)
}
