// Package metrics derives makespan, efficiency and utilization from a
// completed schedule. The numbers are descriptive only and never feed back
// into scheduling.
package metrics

import (
	"fmt"
	"sort"

	"github.com/hochfrequenz/wfsync/internal/domain"
	"github.com/hochfrequenz/wfsync/internal/graph"
)

// Compute summarizes a schedule produced for tasks under maxParallel.
func Compute(schedule *domain.Schedule, tasks []domain.Task, maxParallel int) (domain.Metrics, error) {
	if schedule == nil || len(schedule.Entries) == 0 {
		return domain.Metrics{}, domain.ErrEmptySchedule
	}
	if maxParallel < 1 {
		return domain.Metrics{}, &domain.ConfigError{Field: "max_parallel", Message: fmt.Sprintf("must be at least 1, got %d", maxParallel)}
	}

	m := domain.Metrics{TotalTasks: len(tasks)}
	for _, e := range schedule.Entries {
		if e.EndTime > m.Makespan {
			m.Makespan = e.EndTime
		}
		if e.Status == domain.StatusCompleted {
			m.CompletedTasks++
		}
	}
	for _, t := range tasks {
		m.TotalWork += t.Duration
	}

	if m.Makespan > 0 {
		m.Efficiency = clamp(m.TotalWork / (m.Makespan * float64(maxParallel)) * 100)
		m.Utilization = clamp(m.TotalWork / m.Makespan * 100)
	}
	m.PeakParallel = PeakParallel(schedule)

	return m, nil
}

// WithGraph is Compute plus the graph-derived critical path and lower bound.
// It also returns the task IDs along the critical path.
func WithGraph(schedule *domain.Schedule, g *graph.Graph, maxParallel int) (domain.Metrics, []string, error) {
	m, err := Compute(schedule, g.Tasks(), maxParallel)
	if err != nil {
		return m, nil, err
	}

	critical, path, err := g.CriticalPath()
	if err != nil {
		return m, nil, err
	}
	m.CriticalPath = critical
	m.LowerBound = LowerBound(g.Tasks(), critical, maxParallel)
	return m, path, nil
}

// LowerBound is the best makespan any schedule could reach: no shorter than
// the critical path, the longest task, or the work spread over every slot.
func LowerBound(tasks []domain.Task, criticalPath float64, maxParallel int) float64 {
	bound := criticalPath
	work := 0.0
	for _, t := range tasks {
		work += t.Duration
		if t.Duration > bound {
			bound = t.Duration
		}
	}
	if maxParallel > 0 && work/float64(maxParallel) > bound {
		bound = work / float64(maxParallel)
	}
	return bound
}

// PeakParallel returns the largest number of tasks running at one instant.
func PeakParallel(schedule *domain.Schedule) int {
	type event struct {
		at    float64
		delta int
	}
	events := make([]event, 0, 2*len(schedule.Entries))
	for _, e := range schedule.Entries {
		events = append(events, event{e.StartTime, 1}, event{e.EndTime, -1})
	}
	// ends before starts at the same instant: intervals are half-open
	sort.Slice(events, func(i, j int) bool {
		if events[i].at != events[j].at {
			return events[i].at < events[j].at
		}
		return events[i].delta < events[j].delta
	})

	peak, cur := 0, 0
	for _, ev := range events {
		cur += ev.delta
		if cur > peak {
			peak = cur
		}
	}
	return peak
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	default:
		return v
	}
}
