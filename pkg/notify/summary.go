// Package notify reports the outcome of a flow run.
package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/systemstart/backupflow/pkg/stat"
)

// RunSummary is what a notifier knows about a finished run.
type RunSummary struct {
	StartedAt  time.Time
	FlowName   string
	HostName   string
	Succeeded  bool
	Elapsed    time.Duration
	Err        error
	DryRunOnly bool

	DryRunStat    []*stat.Entry
	ActiveRunStat []*stat.Entry
}

// Context is the template data for notification subjects and bodies.
func (s RunSummary) Context() map[string]any {
	status := "failed"
	if s.Succeeded {
		status = "succeeded"
	}
	errText := ""
	if s.Err != nil {
		errText = s.Err.Error()
	}

	return map[string]any{
		"backup_start_timestamp":    s.StartedAt,
		"flow_name":                 s.FlowName,
		"host_name":                 s.HostName,
		"flow_execution_succeeded":  s.Succeeded,
		"str_flow_execution_status": status,
		"time_spent":                stat.PrettyTimeDelta(s.Elapsed),
		"flow_exception":            errText,
		"dry_run_stat":              executionTable(s.DryRunStat),
		"active_run_stat":           executionTable(s.ActiveRunStat),
		"only_dry_run":              s.DryRunOnly,
		"dry_run_metrics":           metricsText(s.DryRunStat),
		"active_run_metrics":        metricsText(s.ActiveRunStat),
	}
}

func executionTable(entries []*stat.Entry) string {
	if len(entries) == 0 {
		return ""
	}
	return stat.ExecutionReport(entries)
}

func metricsText(entries []*stat.Entry) string {
	reports := stat.MetricsReports(entries)
	parts := make([]string, 0, len(reports))
	for _, r := range reports {
		parts = append(parts, fmt.Sprintf("Metrics for '%s':\n%s", r.Title, r.Table))
	}
	return strings.TrimSpace(strings.Join(parts, "\n"))
}
