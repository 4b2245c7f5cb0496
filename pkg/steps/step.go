package steps

import (
	"context"

	"github.com/systemstart/backupflow/pkg/stat"
)

// SkipVote is a step's answer to whether the whole run can be skipped.
type SkipVote int

const (
	// Abstain leaves the flow vote unchanged.
	Abstain SkipVote = iota
	// VoteRun forces the run to happen.
	VoteRun
	// VoteSkip agrees that the step has nothing to do.
	VoteSkip
)

func (v SkipVote) String() string {
	switch v {
	case VoteRun:
		return "run"
	case VoteSkip:
		return "skip"
	default:
		return "abstain"
	}
}

// Step is the interface all flow steps implement.
type Step interface {
	Name() string
	// Run performs the step's effect, or only validates it when dryRun is set,
	// and returns the values declared in the step's generates block.
	Run(ctx context.Context, entry *stat.Entry, dryRun bool) (map[string]any, error)
	// VoteForSkip is asked during the dry run only.
	VoteForSkip(ctx context.Context) (SkipVote, error)
}
