package api

import (
	"maps"
)

const (
	NotificationTypeEmail = "email"

	DefaultTemporaryFolderName = "backupflow"
)

// PipelineConfig is the pipeline definition tree (config.yaml).
type PipelineConfig struct {
	Parameters Parameters       `yaml:"parameters"`
	Defaults   PipelineDefaults `yaml:"defaults"`
	Flows      map[string]*Flow `yaml:"flows"`

	// Set by the loader, not from YAML.
	FilePath string `yaml:"-"`
}

// Parameters are run-wide switches. Unset values fall back to their defaults.
type Parameters struct {
	RemoveTemporaryFolder *bool `yaml:"remove_temporary_folder,omitempty"`
	PerformDryRun         *bool `yaml:"perform_dry_run,omitempty"`
}

// Override returns p with every value set in o replacing the one in p.
func (p Parameters) Override(o Parameters) Parameters {
	if o.RemoveTemporaryFolder != nil {
		p.RemoveTemporaryFolder = o.RemoveTemporaryFolder
	}
	if o.PerformDryRun != nil {
		p.PerformDryRun = o.PerformDryRun
	}
	return p
}

// ShouldRemoveTemporaryFolder defaults to true.
func (p Parameters) ShouldRemoveTemporaryFolder() bool {
	return p.RemoveTemporaryFolder == nil || *p.RemoveTemporaryFolder
}

// ShouldPerformDryRun defaults to true.
func (p Parameters) ShouldPerformDryRun() bool {
	return p.PerformDryRun == nil || *p.PerformDryRun
}

// PipelineDefaults holds fallbacks used when neither the CLI nor the secrets tree sets a value.
type PipelineDefaults struct {
	TemporaryFolder string `yaml:"temporary_folder"`
}

// Flow is a named, ordered list of steps.
type Flow struct {
	Description string       `yaml:"description"`
	Steps       []StepConfig `yaml:"steps"`
}

// StepConfig declares one step of a flow. Name is the registry key; every
// key not matched by a field lands in Params and is treated as a templated
// step parameter.
type StepConfig struct {
	Name              string            `yaml:"name"`
	HumanReadableName string            `yaml:"human_readable_name,omitempty"`
	Description       string            `yaml:"description,omitempty"`
	RelativeSecrets   []string          `yaml:"relative_secrets,omitempty"`
	Generates         map[string]string `yaml:"generates,omitempty"`
	Params            map[string]any    `yaml:",inline"`
}

// DisplayName is the human readable name, falling back to Name.
func (s StepConfig) DisplayName() string {
	if s.HumanReadableName != "" {
		return s.HumanReadableName
	}
	return s.Name
}

// SecretKeys lists the steps_configuration keys merged into the step's
// secret context, lowest precedence first.
func (s StepConfig) SecretKeys() []string {
	keys := make([]string, 0, len(s.RelativeSecrets)+1)
	keys = append(keys, s.Name)
	return append(keys, s.RelativeSecrets...)
}

// Values returns a fresh copy of the step-declared values.
func (s StepConfig) Values() map[string]any {
	values := make(map[string]any, len(s.Params)+2)
	maps.Copy(values, s.Params)
	values["name"] = s.Name
	if s.Description != "" {
		values["description"] = s.Description
	}
	return values
}

// SecretsConfig is the secrets/targets tree (secrets.yaml).
type SecretsConfig struct {
	Defaults   SecretDefaults     `yaml:"defaults"`
	Parameters Parameters         `yaml:"parameters"`
	Targets    map[string]*Target `yaml:"targets"`

	// Set by the loader, not from YAML.
	FilePath string `yaml:"-"`
}

// SecretDefaults selects the target and temporary folder when the CLI does not.
type SecretDefaults struct {
	Target          string `yaml:"target"`
	TemporaryFolder string `yaml:"temporary_folder"`
}

// Target is a backup destination with its own secrets, patches and notifications.
type Target struct {
	FlowType            string                    `yaml:"flow_type"`
	StepsConfiguration  map[string]map[string]any `yaml:"steps_configuration"`
	ConfigPatch         *ConfigPatch              `yaml:"config_patch,omitempty"`
	Notifications       map[string]map[string]any `yaml:"notifications"`
	AdditionalVariables map[string]any            `yaml:"additional_variables"`
}

// SecretContext merges the steps_configuration entries for keys in order;
// later keys override earlier ones. Missing keys are ignored.
func (t *Target) SecretContext(keys []string) map[string]any {
	res := make(map[string]any)
	for _, key := range keys {
		maps.Copy(res, t.StepsConfiguration[key])
	}
	return res
}

// ConfigPatch overrides declared step parameters for one target.
type ConfigPatch struct {
	Steps []map[string]any `yaml:"steps"`
}
