package steps

import (
	"fmt"
	"maps"
	"slices"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/systemstart/backupflow/pkg/api"
	"github.com/systemstart/backupflow/pkg/rendering"
	"github.com/systemstart/backupflow/pkg/storage"
)

// Registry keys of the built-in steps.
const (
	TypeMkdir               = "mkdir_for_backup"
	TypeFirebirdBackup      = "firebird_backup"
	TypeLinuxFirebirdBackup = "linux_firebird_backup"
	TypePgBackup            = "pg_backup"
	TypePgWinBackup         = "pg_win_backup"
	Type7zCompress          = "7z_compress"
	TypeValidate7zArchive   = "validate_7z_archive"
	TypeFileHash            = "calculate_file_hash_and_save_in_file"
	TypeHealthchecksPing    = "healthchecks_ping"
	TypeS3Rotation          = "s3_multipart_upload_with_rotation"
	TypeS3Strict            = "s3_strict_upload"
)

// Params is everything a step constructor receives.
type Params struct {
	Config    api.StepConfig
	Secrets   map[string]any
	Rendering *rendering.Context
	Renderer  *rendering.Renderer
	// UploadSuffix is the raw --upload-suffix value.
	UploadSuffix string

	stores storage.Factory
	http   *retryablehttp.Client
}

// Constructor builds a step.
type Constructor func(p Params) (Step, error)

// Registry maps step names to constructors.
type Registry struct {
	constructors map[string]Constructor
	stores       storage.Factory
	http         *retryablehttp.Client
}

// Option configures a Registry.
type Option func(*Registry)

// WithStoreFactory replaces the object storage used by the sync steps.
func WithStoreFactory(f storage.Factory) Option {
	return func(r *Registry) { r.stores = f }
}

// WithHTTPClient replaces the client used by the ping step.
func WithHTTPClient(c *retryablehttp.Client) Option {
	return func(r *Registry) { r.http = c }
}

// NewRegistry returns a Registry with every built-in step registered.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		constructors: make(map[string]Constructor),
		stores:       storage.OpenS3,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.http == nil {
		r.http = newHTTPClient()
	}

	r.Register(TypeMkdir, newMkdirStep)
	r.Register(TypeFirebirdBackup, newDatabaseBackupStep)
	r.Register(TypeLinuxFirebirdBackup, newDatabaseBackupStep)
	r.Register(TypePgBackup, newPgBackupStep)
	r.Register(TypePgWinBackup, newPgBackupStep)
	r.Register(Type7zCompress, newCompressStep)
	r.Register(TypeValidate7zArchive, newValidateArchiveStep)
	r.Register(TypeFileHash, newFileHashStep)
	r.Register(TypeHealthchecksPing, newHealthchecksStep)
	r.Register(TypeS3Rotation, newRotationUploadStep)
	r.Register(TypeS3Strict, newStrictUploadStep)
	return r
}

// Register adds or replaces a step.
func (r *Registry) Register(name string, c Constructor) {
	r.constructors[name] = c
}

// Known reports whether name is registered.
func (r *Registry) Known(name string) bool {
	_, ok := r.constructors[name]
	return ok
}

// Names lists the registered steps in order.
func (r *Registry) Names() []string {
	return slices.Sorted(maps.Keys(r.constructors))
}

// Create builds the step named by p.Config.Name.
func (r *Registry) Create(p Params) (Step, error) {
	c, ok := r.constructors[p.Config.Name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown step %q", api.ErrConfigurationValidation, p.Config.Name)
	}
	if p.Renderer == nil {
		p.Renderer = rendering.NewRenderer()
	}
	if p.Rendering == nil {
		p.Rendering = rendering.NewContext(nil)
	}
	p.stores = r.stores
	p.http = r.http

	step, err := c(p)
	if err != nil {
		return nil, fmt.Errorf("creating step %q: %w", p.Config.Name, err)
	}
	return step, nil
}
