package stat

import (
	"fmt"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
)

const timestampFormat = "2006-01-02 15:04:05"

// ExecutionReport renders the per-step timing table with a totals row.
func ExecutionReport(entries []*Entry) string {
	var buf strings.Builder
	table := newTable(&buf)
	table.SetHeader([]string{"Step Name", "Execution start", "Execution end", "Time elapsed"})

	var total time.Duration
	for _, e := range entries {
		table.Append([]string{
			e.StepName,
			e.Start.Format(timestampFormat),
			e.End.Format(timestampFormat),
			PrettyTimeDelta(e.Elapsed()),
		})
		total += e.Elapsed()
	}
	table.SetFooter([]string{"", "", "Total", PrettyTimeDelta(total)})
	table.Render()
	return buf.String()
}

// MetricsReport is the metrics table of one step.
type MetricsReport struct {
	Title string
	Table string
}

// MetricsReports renders one table per entry that recorded metrics.
func MetricsReports(entries []*Entry) []MetricsReport {
	var res []MetricsReport
	for _, e := range entries {
		if e.Metrics.Empty() {
			continue
		}

		var buf strings.Builder
		table := newTable(&buf)
		table.SetHeader([]string{"Name", "Value"})
		for _, m := range e.Metrics.All() {
			table.Append([]string{m.Name, m.String()})
		}
		table.Render()

		res = append(res, MetricsReport{
			Title: fmt.Sprintf("%s (%s)", e.DisplayName, e.StepName),
			Table: buf.String(),
		})
	}
	return res
}

func newTable(buf *strings.Builder) *tablewriter.Table {
	table := tablewriter.NewWriter(buf)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	return table
}
