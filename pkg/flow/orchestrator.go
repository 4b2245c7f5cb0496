package flow

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/systemstart/backupflow/pkg/api"
	"github.com/systemstart/backupflow/pkg/rendering"
	"github.com/systemstart/backupflow/pkg/stat"
	"github.com/systemstart/backupflow/pkg/steps"
)

// State is the lifecycle position of an Orchestrator.
type State int

const (
	Uninitialized State = iota
	Initialized
	DryRunComplete
	CommitComplete
	Aborted
)

func (s State) String() string {
	switch s {
	case Initialized:
		return "initialized"
	case DryRunComplete:
		return "dry-run-complete"
	case CommitComplete:
		return "commit-complete"
	case Aborted:
		return "aborted"
	default:
		return "uninitialized"
	}
}

// Vote is the flow-wide outcome of the skip voting.
type Vote int

const (
	Undecided Vote = iota
	// ForceRun is set as soon as one step votes against skipping.
	ForceRun
	// Skip means every voting step agreed there is nothing to do.
	Skip
)

func (v Vote) String() string {
	switch v {
	case ForceRun:
		return "force-run"
	case Skip:
		return "skip"
	default:
		return "undecided"
	}
}

// Options select what an Orchestrator runs. Empty values fall back to the
// defaults declared in the secrets and pipeline trees.
type Options struct {
	SecretsFile     string
	ConfigFile      string
	Target          string
	Flow            string
	TemporaryFolder string
	// DryRunOnly forces the dry run even when the configuration disables it.
	DryRunOnly    bool
	DisableVoting bool
	UploadSuffix  string

	Registry *steps.Registry
	Now      func() time.Time
}

// Orchestrator drives one flow of one target through the dry run and the
// commit pass.
type Orchestrator struct {
	opts Options

	state   State
	vote    Vote
	skipped bool

	pipeline *api.PipelineConfig
	secrets  *api.SecretsConfig

	targetName string
	target     *api.Target
	flowName   string
	flow       *api.Flow
	params     api.Parameters

	rootFolder string
	workDir    string
	startedAt  time.Time

	registry  *steps.Registry
	renderer  *rendering.Renderer
	rendering *rendering.Context

	dryRunStat    []*stat.Entry
	activeRunStat []*stat.Entry
}

// New returns an uninitialized Orchestrator.
func New(opts Options) *Orchestrator {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Registry == nil {
		opts.Registry = steps.NewRegistry()
	}
	return &Orchestrator{
		opts:     opts,
		registry: opts.Registry,
		renderer: rendering.NewRenderer(),
	}
}

// Initialize loads both configuration trees and prepares the run.
func (o *Orchestrator) Initialize() error {
	if o.opts.SecretsFile == "" {
		return fmt.Errorf("%w: secrets file is required", api.ErrConfigurationValidation)
	}
	secrets, err := api.LoadSecrets(o.opts.SecretsFile)
	if err != nil {
		return fmt.Errorf("loading secrets: %w", err)
	}

	var pipeline *api.PipelineConfig
	if o.opts.ConfigFile != "" {
		pipeline, err = api.LoadPipelineConfig(o.opts.ConfigFile)
	} else {
		slog.Debug("using embedded pipeline configuration")
		pipeline, err = api.LoadDefaultPipelineConfig()
	}
	if err != nil {
		return fmt.Errorf("loading pipeline configuration: %w", err)
	}

	return o.InitializeWith(pipeline, secrets)
}

// InitializeWith prepares the run from already loaded configuration trees.
func (o *Orchestrator) InitializeWith(pipeline *api.PipelineConfig, secrets *api.SecretsConfig) error {
	if o.state != Uninitialized {
		return fmt.Errorf("orchestrator already %s", o.state)
	}
	o.pipeline = pipeline
	o.secrets = secrets
	o.startedAt = o.opts.Now().UTC()

	if err := o.resolveFlow(); err != nil {
		return err
	}

	o.params = pipeline.Parameters.Override(secrets.Parameters)
	if err := o.applyPatches(); err != nil {
		return err
	}
	if err := o.validateSteps(); err != nil {
		return err
	}

	if err := o.prepareWorkDir(); err != nil {
		return err
	}

	basic, err := o.basicValues()
	if err != nil {
		return err
	}
	o.rendering = rendering.NewContext(basic)

	o.state = Initialized
	slog.Info("flow initialized",
		"target", o.targetName,
		"flow", o.flowName,
		"steps", len(o.flow.Steps),
		"work_dir", o.workDir)
	return nil
}

func (o *Orchestrator) resolveFlow() error {
	o.targetName = o.opts.Target
	if o.targetName == "" {
		o.targetName = o.secrets.Defaults.Target
	}
	if o.targetName == "" {
		return fmt.Errorf("%w: no target selected and no default target defined", api.ErrConfigurationValidation)
	}
	target, err := o.secrets.Target(o.targetName)
	if err != nil {
		return err
	}
	o.target = target

	o.flowName = o.opts.Flow
	if o.flowName == "" {
		o.flowName = target.FlowType
	}
	if o.flowName == "" {
		return fmt.Errorf("%w: target %q has no flow_type", api.ErrConfigurationValidation, o.targetName)
	}
	flow, err := o.pipeline.Flow(o.flowName)
	if err != nil {
		return err
	}

	// Patches must not leak into the shared pipeline tree.
	o.flow = &api.Flow{
		Description: flow.Description,
		Steps:       make([]api.StepConfig, len(flow.Steps)),
	}
	copy(o.flow.Steps, flow.Steps)
	return nil
}

func (o *Orchestrator) applyPatches() error {
	if o.target.ConfigPatch == nil {
		return nil
	}
	for _, patch := range o.target.ConfigPatch.Steps {
		n, err := o.flow.ApplyPatch(patch)
		if err != nil {
			return fmt.Errorf("applying config patch of target %q: %w", o.targetName, err)
		}
		if n == 0 {
			slog.Warn("config patch matched no step", "target", o.targetName, "flow", o.flowName, "step", patch["name"])
			continue
		}
		slog.Debug("config patch applied", "step", patch["name"], "count", n)
	}
	return nil
}

func (o *Orchestrator) validateSteps() error {
	var errs []error
	for _, step := range o.flow.Steps {
		if !o.registry.Known(step.Name) {
			errs = append(errs, fmt.Errorf("%w: flow %q: unknown step %q", api.ErrConfigurationValidation, o.flowName, step.Name))
		}
	}
	return errors.Join(errs...)
}

func (o *Orchestrator) prepareWorkDir() error {
	o.rootFolder = o.opts.TemporaryFolder
	if o.rootFolder == "" {
		o.rootFolder = o.secrets.Defaults.TemporaryFolder
	}
	if o.rootFolder == "" {
		o.rootFolder = o.pipeline.Defaults.TemporaryFolder
	}
	if o.rootFolder == "" {
		o.rootFolder = filepath.Join(os.TempDir(), api.DefaultTemporaryFolderName)
	}

	root, err := filepath.Abs(o.rootFolder)
	if err != nil {
		return fmt.Errorf("resolving temporary folder %s: %w", o.rootFolder, err)
	}
	o.rootFolder = root
	o.workDir = filepath.Join(root, executionFolderName(o.startedAt, uuid.NewString()))

	if err := os.MkdirAll(o.workDir, 0o750); err != nil {
		return fmt.Errorf("creating work directory %s: %w", o.workDir, err)
	}
	return nil
}

// executionFolderName is "<timestamp>_<uuid>" without ':' and '-'.
func executionFolderName(started time.Time, id string) string {
	name := started.Format("2006-01-02T15:04:05.000000") + "_" + id
	return strings.NewReplacer(":", "", "-", "").Replace(name)
}

func (o *Orchestrator) basicValues() (map[string]any, error) {
	host, err := os.Hostname()
	if err != nil {
		return nil, fmt.Errorf("resolving host name: %w", err)
	}
	t := o.startedAt

	computed := map[string]any{
		"main_target_name":       o.targetName,
		"flow_name":              o.flowName,
		"exec_folder":            o.workDir,
		"backup_start_timestamp": t,
		"week_day_short_name":    t.Format("Mon"),
		"week_number":            fmt.Sprintf("%02d", weekNumber(t)),
		"month_short_name":       t.Format("Jan"),
		"month_two_digit_number": t.Format("01"),
		"current_year":           t.Format("2006"),
		"current_month":          t.Format("01"),
		"current_day_of_month":   t.Format("02"),
		"current_date":           t.Format("2006-01-02"),
		"current_time":           t.Format("150405"),
		"host_name":              host,
		"upload_suffix":          o.opts.UploadSuffix,
	}

	res := maps.Clone(o.target.AdditionalVariables)
	if res == nil {
		res = make(map[string]any, len(computed))
	}
	maps.Copy(res, computed)
	return res, nil
}

// weekNumber counts weeks starting on Sunday; days before the first Sunday
// of the year are in week 0.
func weekNumber(t time.Time) int {
	yday := t.YearDay() - 1
	return (yday + 7 - int(t.Weekday())) / 7
}

// State is the lifecycle state.
func (o *Orchestrator) State() State { return o.state }

// Vote is the outcome of the last dry run's voting.
func (o *Orchestrator) Vote() Vote { return o.vote }

// Skipped reports whether the commit pass was skipped by the vote.
func (o *Orchestrator) Skipped() bool { return o.skipped }

func (o *Orchestrator) WorkDir() string    { return o.workDir }
func (o *Orchestrator) RootFolder() string { return o.rootFolder }
func (o *Orchestrator) FlowName() string   { return o.flowName }
func (o *Orchestrator) TargetName() string { return o.targetName }

// Target is the selected secrets target, or nil before initialization.
func (o *Orchestrator) Target() *api.Target { return o.target }

func (o *Orchestrator) StartedAt() time.Time { return o.startedAt }

// Parameters are the pipeline parameters overridden by the secrets tree.
func (o *Orchestrator) Parameters() api.Parameters { return o.params }

// Steps returns the flow steps after config patching.
func (o *Orchestrator) Steps() []api.StepConfig {
	if o.flow == nil {
		return nil
	}
	return o.flow.Steps
}

func (o *Orchestrator) DryRunStatistics() []*stat.Entry    { return o.dryRunStat }
func (o *Orchestrator) ActiveRunStatistics() []*stat.Entry { return o.activeRunStat }
