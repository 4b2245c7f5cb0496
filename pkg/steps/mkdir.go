package steps

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/systemstart/backupflow/pkg/stat"
)

type mkdirStep struct {
	base
}

func newMkdirStep(p Params) (Step, error) {
	return &mkdirStep{base: newBase(p)}, nil
}

func (s *mkdirStep) Run(_ context.Context, _ *stat.Entry, dryRun bool) (map[string]any, error) {
	mask, err := s.param("generation_mask")
	if err != nil {
		return nil, err
	}

	dir, err := filepath.Abs(mask)
	if err != nil {
		return nil, fmt.Errorf("resolving %q: %w", mask, err)
	}

	if !dryRun {
		slog.Info("creating backup folder", "step", s.name, "path", dir)
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("creating directory %s: %w", dir, err)
		}
	}

	return s.outputs(map[string]any{"result": dir})
}
