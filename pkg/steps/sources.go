package steps

import (
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/systemstart/backupflow/pkg/api"
)

// resolveSource expands a rendered source_file into existing files. Patterns
// with glob metacharacters (including "**") must match at least one file.
func resolveSource(pattern string) ([]string, error) {
	if !strings.ContainsAny(pattern, "*?[{") {
		info, err := os.Stat(pattern)
		if err != nil || info.IsDir() {
			return nil, fmt.Errorf("%w: can't find source file %q", api.ErrTransmission, pattern)
		}
		return []string{pattern}, nil
	}

	matches, err := doublestar.FilepathGlob(pattern, doublestar.WithFilesOnly())
	if err != nil {
		return nil, fmt.Errorf("%w: glob %q: %w", api.ErrConfigurationValidation, pattern, err)
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("%w: no source files match %q", api.ErrTransmission, pattern)
	}
	slices.Sort(matches)
	return slices.Compact(matches), nil
}
