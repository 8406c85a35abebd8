// Package render prints scheduling results for terminals.
package render

import (
	"fmt"
	"io"
	"math"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/hochfrequenz/wfsync/internal/runner"
)

// DefaultGanttWidth is the bar area width used when none is given
const DefaultGanttWidth = 60

// Number formats a simulated time or percentage with at most two decimals
func Number(v float64) string {
	return humanize.FtoaWithDigits(v, 2)
}

// Table writes one row per scheduled task in start order
func Table(w io.Writer, res *runner.Result) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TASK\tNAME\tSTART\tEND\tDURATION\tRESOURCES\tSTATUS")
	for _, e := range res.Schedule.Entries {
		task, _ := res.Task(e.TaskID)
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			e.TaskID,
			task.Label(),
			Number(e.StartTime),
			Number(e.EndTime),
			Number(e.Duration()),
			Number(task.ResourceCost),
			e.Status,
		)
	}
	return tw.Flush()
}

// Gantt draws each task as a bar on a shared time axis of the given width.
// Tasks on the critical path are highlighted.
func Gantt(w io.Writer, res *runner.Result, width int) error {
	if width <= 0 {
		width = DefaultGanttWidth
	}
	makespan := res.Metrics.Makespan
	if len(res.Schedule.Entries) == 0 || makespan <= 0 {
		_, err := fmt.Fprintln(w, dimmedStyle.Render("(empty schedule)"))
		return err
	}

	critical := make(map[string]bool, len(res.CriticalPath))
	for _, id := range res.CriticalPath {
		critical[id] = true
	}

	labelWidth := 0
	for _, e := range res.Schedule.Entries {
		if n := lipgloss.Width(e.TaskID); n > labelWidth {
			labelWidth = n
		}
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("%s · %s · %d slots", res.Workflow, res.Policy, res.MaxParallel)))
	b.WriteString("\n")

	for _, e := range res.Schedule.Entries {
		start := scale(e.StartTime, makespan, width)
		end := scale(e.EndTime, makespan, width)
		if end <= start {
			end = start + 1
		}
		if end > width {
			end = width
			if start >= end {
				start = end - 1
			}
		}

		style := barStyle
		if critical[e.TaskID] {
			style = criticalStyle
		}

		b.WriteString(e.TaskID)
		b.WriteString(strings.Repeat(" ", labelWidth-lipgloss.Width(e.TaskID)))
		b.WriteString(" │")
		b.WriteString(dimmedStyle.Render(strings.Repeat("·", start)))
		b.WriteString(style.Render(strings.Repeat("█", end-start)))
		b.WriteString(dimmedStyle.Render(strings.Repeat("·", width-end)))
		b.WriteString("│ ")
		b.WriteString(fmt.Sprintf("%s–%s", Number(e.StartTime), Number(e.EndTime)))
		b.WriteString("\n")
	}

	// Axis
	left := "0"
	right := Number(makespan)
	gap := width - len(left) - len(right)
	if gap < 1 {
		gap = 1
	}
	b.WriteString(strings.Repeat(" ", labelWidth+2))
	b.WriteString(dimmedStyle.Render(left + strings.Repeat(" ", gap) + right))
	b.WriteString("\n")

	_, err := io.WriteString(w, b.String())
	return err
}

func scale(t, makespan float64, width int) int {
	return int(math.Round(t / makespan * float64(width)))
}

// Summary writes the metrics block and any dropped-edge warnings
func Summary(w io.Writer, res *runner.Result) error {
	m := res.Metrics

	var b strings.Builder
	b.WriteString(headerStyle.Render("Summary"))
	b.WriteString("\n")

	tw := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Workflow:\t%s\n", res.Workflow)
	fmt.Fprintf(tw, "Policy:\t%s (max %d parallel)\n", res.Policy, res.MaxParallel)
	if res.ResourceCapacity > 0 {
		fmt.Fprintf(tw, "Resource capacity:\t%s\n", Number(res.ResourceCapacity))
	}
	fmt.Fprintf(tw, "Tasks:\t%s of %s completed\n", humanize.Comma(int64(m.CompletedTasks)), humanize.Comma(int64(m.TotalTasks)))
	fmt.Fprintf(tw, "Makespan:\t%s\n", Number(m.Makespan))
	fmt.Fprintf(tw, "Total work:\t%s\n", Number(m.TotalWork))
	fmt.Fprintf(tw, "Efficiency:\t%s%%\n", Number(m.Efficiency))
	fmt.Fprintf(tw, "Utilization:\t%s%%\n", Number(m.Utilization))
	fmt.Fprintf(tw, "Peak parallel:\t%d\n", m.PeakParallel)
	if m.CriticalPath > 0 {
		fmt.Fprintf(tw, "Critical path:\t%s (%s)\n", Number(m.CriticalPath), strings.Join(res.CriticalPath, " → "))
		fmt.Fprintf(tw, "Lower bound:\t%s\n", Number(m.LowerBound))
	}
	fmt.Fprintf(tw, "Run ID:\t%s\n", dimmedStyle.Render(res.RunID))
	if err := tw.Flush(); err != nil {
		return err
	}

	for _, warn := range res.Warnings {
		b.WriteString(warningStyle.Render("warning: " + warn))
		b.WriteString("\n")
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// Comparison ranks results by makespan, then efficiency, and marks the best
func Comparison(w io.Writer, results []*runner.Result) error {
	ranked := make([]*runner.Result, len(results))
	copy(ranked, results)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Metrics.Makespan != ranked[j].Metrics.Makespan {
			return ranked[i].Metrics.Makespan < ranked[j].Metrics.Makespan
		}
		return ranked[i].Metrics.Efficiency > ranked[j].Metrics.Efficiency
	})

	var b strings.Builder
	tw := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RANK\tPOLICY\tMAKESPAN\tEFFICIENCY\tUTILIZATION\tPEAK")
	for i, res := range ranked {
		m := res.Metrics
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s%%\t%s%%\t%d\n",
			humanize.Ordinal(i+1),
			res.Policy,
			Number(m.Makespan),
			Number(m.Efficiency),
			Number(m.Utilization),
			m.PeakParallel,
		)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(ranked) > 0 {
		best := ranked[0]
		b.WriteString(bestStyle.Render(fmt.Sprintf("best: %s (makespan %s, lower bound %s)",
			best.Policy, Number(best.Metrics.Makespan), Number(best.Metrics.LowerBound))))
		b.WriteString("\n")
	}

	_, err := io.WriteString(w, b.String())
	return err
}
