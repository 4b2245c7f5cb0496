package api

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

//go:embed default_config.yaml
var defaultPipelineConfig []byte

// LoadPipelineConfig reads a pipeline definition file, sets FilePath, and validates it.
func LoadPipelineConfig(filename string) (*PipelineConfig, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("%w: reading pipeline file: %w", ErrConfigurationValidation, err)
	}

	absPath, err := filepath.Abs(filename)
	if err != nil {
		return nil, fmt.Errorf("resolving absolute path: %w", err)
	}

	return parsePipelineConfig(data, absPath)
}

// LoadDefaultPipelineConfig returns the pipeline definition embedded in the binary.
func LoadDefaultPipelineConfig() (*PipelineConfig, error) {
	return parsePipelineConfig(defaultPipelineConfig, "<embedded>")
}

func parsePipelineConfig(data []byte, path string) (*PipelineConfig, error) {
	var cfg PipelineConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: parsing pipeline file: %w", ErrConfigurationValidation, err)
	}
	cfg.FilePath = path

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating pipeline %s: %w", path, err)
	}

	return &cfg, nil
}
