package flow

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/systemstart/backupflow/pkg/api"
	"github.com/systemstart/backupflow/pkg/stat"
	"github.com/systemstart/backupflow/pkg/steps"
)

// DryRun validates every step without side effects and collects the skip
// votes. It is a no-op when the configuration disables the dry run and the
// caller did not ask for it.
func (o *Orchestrator) DryRun(ctx context.Context) error {
	if o.state != Initialized {
		return fmt.Errorf("dry run: orchestrator is %s", o.state)
	}

	o.vote = Undecided
	o.dryRunStat = nil

	if !o.params.ShouldPerformDryRun() && !o.opts.DryRunOnly {
		slog.Info("dry run disabled by configuration", "flow", o.flowName)
		o.state = DryRunComplete
		return nil
	}

	slog.Info("starting dry run", "target", o.targetName, "flow", o.flowName)
	if err := o.execute(ctx, true); err != nil {
		o.state = Aborted
		return fmt.Errorf("dry run of flow %q: %w", o.flowName, err)
	}
	o.state = DryRunComplete
	slog.Info("dry run finished", "flow", o.flowName, "vote", o.vote)
	return nil
}

// Run executes every step for real, unless the dry run voted to skip the
// flow and voting is enabled.
func (o *Orchestrator) Run(ctx context.Context) error {
	if o.state != Initialized && o.state != DryRunComplete {
		return fmt.Errorf("run: orchestrator is %s", o.state)
	}

	o.activeRunStat = nil

	if o.vote == Skip {
		if !o.opts.DisableVoting {
			slog.Info("all voting steps agreed, skipping flow execution", "flow", o.flowName)
			o.skipped = true
			o.state = CommitComplete
			return nil
		}
		slog.Info("skip vote ignored, voting is disabled", "flow", o.flowName)
	}

	slog.Info("starting flow execution", "target", o.targetName, "flow", o.flowName)
	if err := o.execute(ctx, false); err != nil {
		o.state = Aborted
		return fmt.Errorf("execution of flow %q: %w", o.flowName, err)
	}
	o.state = CommitComplete
	slog.Info("flow execution finished", "flow", o.flowName)
	return nil
}

func (o *Orchestrator) execute(ctx context.Context, dryRun bool) error {
	o.rendering.Reset()
	positive := 0

	for i, cfg := range o.flow.Steps {
		if err := ctx.Err(); err != nil {
			return err
		}

		entry, step, err := o.runStep(ctx, i, cfg, dryRun)
		if err != nil {
			return err
		}
		if dryRun {
			o.dryRunStat = append(o.dryRunStat, entry)
		} else {
			o.activeRunStat = append(o.activeRunStat, entry)
		}

		if dryRun && o.vote == Undecided {
			skip, err := o.askVote(ctx, step)
			if err != nil {
				return fmt.Errorf("step %q failed to vote: %w", cfg.Name, err)
			}
			if skip {
				positive++
			}
		}
	}

	if dryRun && o.vote == Undecided && positive > 0 {
		o.vote = Skip
		slog.Info("flow execution can be skipped", "flow", o.flowName, "votes", positive)
	}
	return nil
}

func (o *Orchestrator) runStep(ctx context.Context, index int, cfg api.StepConfig, dryRun bool) (*stat.Entry, steps.Step, error) {
	step, err := o.registry.Create(steps.Params{
		Config:       cfg,
		Secrets:      o.target.SecretContext(cfg.SecretKeys()),
		Rendering:    o.rendering,
		Renderer:     o.renderer,
		UploadSuffix: o.opts.UploadSuffix,
	})
	if err != nil {
		return nil, nil, err
	}

	slog.Info("running step", "flow", o.flowName, "step", cfg.Name, "index", index, "dry_run", dryRun)

	entry := stat.NewEntry(cfg.Name, cfg.DisplayName())
	entry.Start = o.opts.Now()
	outputs, err := step.Run(ctx, entry, dryRun)
	entry.End = o.opts.Now()
	if err != nil {
		return nil, nil, fmt.Errorf("step %q failed: %w", cfg.Name, err)
	}

	o.rendering.Append(outputs)
	return entry, step, nil
}

// askVote reports whether step voted to skip. A run vote freezes the flow
// vote at ForceRun.
func (o *Orchestrator) askVote(ctx context.Context, step steps.Step) (bool, error) {
	vote, err := step.VoteForSkip(ctx)
	if err != nil {
		return false, err
	}

	slog.Debug("step voted", "step", step.Name(), "vote", vote)
	switch vote {
	case steps.VoteRun:
		slog.Info("step voted against skipping", "step", step.Name())
		o.vote = ForceRun
	case steps.VoteSkip:
		return true, nil
	}
	return false, nil
}
