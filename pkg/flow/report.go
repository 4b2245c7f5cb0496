package flow

import (
	"log/slog"
	"os"

	"github.com/systemstart/backupflow/pkg/stat"
)

// PrintStat logs the execution tables of both passes and the metrics of
// every step that recorded some.
func (o *Orchestrator) PrintStat() {
	if len(o.dryRunStat) == 0 && len(o.activeRunStat) == 0 {
		slog.Info("no execution statistics")
		return
	}

	printPass("dry run", o.dryRunStat)
	printPass("active run", o.activeRunStat)
}

func printPass(title string, entries []*stat.Entry) {
	if len(entries) == 0 {
		return
	}
	slog.Info("execution statistics", "pass", title, "table", "\n"+stat.ExecutionReport(entries))
	for _, report := range stat.MetricsReports(entries) {
		slog.Info("step metrics", "pass", title, "step", report.Title, "table", "\n"+report.Table)
	}
}

// Cleanup removes the work directory unless the configuration keeps it.
func (o *Orchestrator) Cleanup() {
	if o.workDir == "" {
		return
	}
	if !o.params.ShouldRemoveTemporaryFolder() {
		slog.Info("keeping work directory", "path", o.workDir)
		return
	}

	slog.Info("removing work directory", "path", o.workDir)
	if err := os.RemoveAll(o.workDir); err != nil {
		slog.Warn("failed to remove work directory", "path", o.workDir, "error", err)
	}
}
