package steps

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"

	"github.com/kballard/go-shellquote"

	"github.com/systemstart/backupflow/pkg/api"
	"github.com/systemstart/backupflow/pkg/stat"
)

// commandStep runs an external tool: command_template on commit,
// dry_run_command during the dry run.
type commandStep struct {
	base
	// prepare lists parameters rendered before the commands, in order.
	prepare []string
	// passwordEnv, when set, receives the rendered db_password in the child environment.
	passwordEnv string
	// stderrLog, when set, names the parameter holding the file stderr is saved to.
	stderrLog string
}

func newDatabaseBackupStep(p Params) (Step, error) {
	return &commandStep{
		base:    newBase(p),
		prepare: []string{"backup_log_name", "backup_file_name"},
	}, nil
}

func newPgBackupStep(p Params) (Step, error) {
	return &commandStep{
		base:        newBase(p),
		prepare:     []string{"backup_log_name", "backup_file_name"},
		passwordEnv: "PGPASSWORD",
		stderrLog:   "backup_log_name",
	}, nil
}

func newCompressStep(p Params) (Step, error) {
	return &commandStep{
		base:    newBase(p),
		prepare: []string{"output_archive_name"},
	}, nil
}

func newValidateArchiveStep(p Params) (Step, error) {
	return &commandStep{base: newBase(p)}, nil
}

func (s *commandStep) Run(ctx context.Context, _ *stat.Entry, dryRun bool) (map[string]any, error) {
	for _, key := range s.prepare {
		if _, err := s.param(key); err != nil {
			return nil, err
		}
	}

	command, err := s.param("command_template")
	if err != nil {
		return nil, err
	}
	s.values["command"] = command

	dryRunCommand, err := s.param("dry_run_command")
	if err != nil {
		return nil, err
	}

	var env []string
	if s.passwordEnv != "" {
		password, err := s.param("db_password")
		if err != nil {
			return nil, err
		}
		env = append(os.Environ(), s.passwordEnv+"="+password)
	}

	if dryRun {
		if err := s.dryRun(ctx, dryRunCommand, env); err != nil {
			return nil, err
		}
		return s.outputs(nil)
	}

	stdout, stderr, err := s.execute(ctx, command, env)
	slog.Debug("command finished", "step", s.name, "stdout", stdout, "stderr", stderr)

	if s.stderrLog != "" {
		logName, _, lookupErr := s.optionalParam(s.stderrLog)
		if lookupErr != nil {
			return nil, lookupErr
		}
		if logName != "" {
			slog.Debug("saving tool output", "step", s.name, "path", logName)
			if writeErr := os.WriteFile(logName, []byte(stderr), 0o600); writeErr != nil {
				return nil, fmt.Errorf("saving backup log %s: %w", logName, writeErr)
			}
		}
	}

	if err != nil {
		return nil, fmt.Errorf("step %q: command failed: %w\nstderr: %s", s.name, err, stderr)
	}
	return s.outputs(nil)
}

// dryRun checks that the tool can be started. Its exit status is only logged.
func (s *commandStep) dryRun(ctx context.Context, command string, env []string) error {
	_, _, err := s.execute(ctx, command, env)
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &exitErr):
		slog.Info("dry run command returned non-zero exit code", "step", s.name, "command", command, "exitCode", exitErr.ExitCode())
		return nil
	default:
		return fmt.Errorf("%w: step %q: %w", api.ErrDryRunValidation, s.name, err)
	}
}

func (s *commandStep) execute(ctx context.Context, command string, env []string) (string, string, error) {
	args, err := shellquote.Split(command)
	if err != nil {
		return "", "", fmt.Errorf("%w: parsing command %q: %w", api.ErrConfigurationValidation, command, err)
	}
	if len(args) == 0 {
		return "", "", fmt.Errorf("%w: empty command", api.ErrConfigurationValidation)
	}

	if _, err := exec.LookPath(args[0]); err != nil {
		return "", "", fmt.Errorf("%s binary not found in PATH: %w", args[0], err)
	}

	slog.Info("running command", "step", s.name, "binary", args[0])

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Env = env

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err = cmd.Run()
	return stdout.String(), stderr.String(), err
}
