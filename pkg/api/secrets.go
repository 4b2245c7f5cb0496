package api

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// LoadSecrets reads a secrets file, unmarshals it, and validates.
func LoadSecrets(filename string) (*SecretsConfig, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("%w: reading secrets file: %w", ErrConfigurationValidation, err)
	}

	var cfg SecretsConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: parsing secrets file: %w", ErrConfigurationValidation, err)
	}

	absPath, err := filepath.Abs(filename)
	if err != nil {
		return nil, fmt.Errorf("resolving absolute path: %w", err)
	}
	cfg.FilePath = absPath

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating secrets file: %w", err)
	}

	return &cfg, nil
}

// Validate checks the secrets configuration for errors.
func (c *SecretsConfig) Validate() error {
	if len(c.Targets) == 0 {
		return invalidf("targets list is empty")
	}

	if c.Defaults.Target != "" {
		if _, ok := c.Targets[c.Defaults.Target]; !ok {
			return invalidf("default target %q is not defined", c.Defaults.Target)
		}
	}

	for name, target := range c.Targets {
		if target == nil {
			return invalidf("target %q: definition is empty", name)
		}
		if target.ConfigPatch == nil {
			continue
		}
		for i, patch := range target.ConfigPatch.Steps {
			if stepName, _ := patch["name"].(string); stepName == "" {
				return invalidf("target %q: config_patch step %d: name is required", name, i)
			}
		}
	}

	return nil
}

// Target returns the named target.
func (c *SecretsConfig) Target(name string) (*Target, error) {
	target, ok := c.Targets[name]
	if !ok {
		return nil, invalidf("unknown target %q", name)
	}
	return target, nil
}
