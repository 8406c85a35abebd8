package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/hochfrequenz/wfsync/internal/domain"
	"github.com/hochfrequenz/wfsync/internal/graph"
)

// Options configures a scheduler
type Options struct {
	// MaxParallel caps how many tasks may run at the same simulated instant.
	MaxParallel int
	// Policy picks the admission order among ready tasks.
	Policy Policy
	// ResourceCapacity, when positive, additionally caps the summed
	// ResourceCost of running tasks. Zero leaves ResourceCost unenforced.
	ResourceCapacity float64
}

// Scheduler simulates list scheduling of a dependency graph on a logical
// clock. It keeps no state between runs, so one Scheduler (and its graph)
// can be run repeatedly or from several goroutines.
type Scheduler struct {
	graph *graph.Graph
	opts  Options
	rank  []string // task IDs in admission preference order
}

// New validates the options and prepares a scheduler for g
func New(g *graph.Graph, opts Options) (*Scheduler, error) {
	if g == nil {
		return nil, errors.New("scheduler: nil graph")
	}
	if opts.MaxParallel < 1 {
		return nil, &domain.ConfigError{Field: "max_parallel", Message: fmt.Sprintf("must be at least 1, got %d", opts.MaxParallel)}
	}
	if opts.Policy == "" {
		opts.Policy = DefaultPolicy
	}
	policy, err := ParsePolicy(string(opts.Policy))
	if err != nil {
		return nil, err
	}
	opts.Policy = policy

	if math.IsNaN(opts.ResourceCapacity) || opts.ResourceCapacity < 0 {
		return nil, &domain.ConfigError{Field: "resource_capacity", Message: fmt.Sprintf("must not be negative, got %v", opts.ResourceCapacity)}
	}
	if opts.ResourceCapacity > 0 {
		for _, t := range g.Tasks() {
			if t.ResourceCost > opts.ResourceCapacity {
				return nil, &domain.ConfigError{
					Field:   "resource_capacity",
					Message: fmt.Sprintf("task %q needs %v resources, capacity is %v", t.ID, t.ResourceCost, opts.ResourceCapacity),
				}
			}
		}
	}

	return &Scheduler{
		graph: g,
		opts:  opts,
		rank:  policy.rank(g),
	}, nil
}

// Schedule runs the default policy over g with the given parallelism cap
func Schedule(g *graph.Graph, maxParallel int) (*domain.Schedule, error) {
	s, err := New(g, Options{MaxParallel: maxParallel})
	if err != nil {
		return nil, err
	}
	return s.Run()
}

// Options returns the resolved options
func (s *Scheduler) Options() Options {
	return s.opts
}

// Run simulates the whole workflow. It fails with a *domain.DeadlockError
// instead of returning a partial schedule.
func (s *Scheduler) Run() (*domain.Schedule, error) {
	return s.RunContext(context.Background())
}

// run is the working set of a single simulation
type run struct {
	entries   []domain.Entry
	steps     []domain.Step
	completed map[string]bool
	started   map[string]bool
	running   []int // indices into entries, in admission order
	now       float64
}

// RunContext is Run with cancellation checked between completion events
func (s *Scheduler) RunContext(ctx context.Context) (*domain.Schedule, error) {
	n := s.graph.Len()
	if n == 0 {
		return &domain.Schedule{}, nil
	}

	r := &run{
		entries:   make([]domain.Entry, 0, n),
		completed: make(map[string]bool, n),
		started:   make(map[string]bool, n),
	}

	var finished []string
	// Every pass completes at least one task, so n passes are enough.
	for pass := 0; len(r.completed) < n; pass++ {
		if pass >= n {
			return nil, s.deadlock(r)
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		started := s.admit(r)
		r.steps = append(r.steps, domain.Step{
			Time:      r.now,
			Completed: finished,
			Started:   started,
			Running:   r.runningIDs(),
		})

		if len(r.running) == 0 {
			return nil, s.deadlock(r)
		}

		r.now = r.nextCompletion()
		finished = r.complete()
	}

	r.steps = append(r.steps, domain.Step{Time: r.now, Completed: finished, Running: []string{}})
	return &domain.Schedule{Entries: r.entries, Steps: r.steps}, nil
}

// ready reports whether a task has not started and all its dependencies completed
func (s *Scheduler) ready(r *run, id string) bool {
	if r.started[id] {
		return false
	}
	for _, dep := range s.graph.Dependencies(id) {
		if !r.completed[dep] {
			return false
		}
	}
	return true
}

// admit fills free slots from the ready set in policy order
func (s *Scheduler) admit(r *run) []string {
	var ready []string
	for _, id := range s.rank {
		if s.ready(r, id) {
			ready = append(ready, id)
		}
	}

	var admitted []string
	for _, id := range ready {
		if len(r.running) >= s.opts.MaxParallel {
			break
		}
		t, _ := s.graph.Task(id)
		if s.opts.ResourceCapacity > 0 && s.load(r)+t.ResourceCost > s.opts.ResourceCapacity {
			continue
		}
		r.entries = append(r.entries, domain.Entry{
			TaskID:    id,
			StartTime: r.now,
			EndTime:   r.now + t.Duration,
			Status:    domain.StatusRunning,
		})
		r.running = append(r.running, len(r.entries)-1)
		r.started[id] = true
		admitted = append(admitted, id)
	}
	return admitted
}

// load sums the resource cost of running tasks; an idle run has load 0 exactly
func (s *Scheduler) load(r *run) float64 {
	total := 0.0
	for _, idx := range r.running {
		t, _ := s.graph.Task(r.entries[idx].TaskID)
		total += t.ResourceCost
	}
	return total
}

// nextCompletion returns the earliest end time among running tasks
func (r *run) nextCompletion() float64 {
	next := math.Inf(1)
	for _, idx := range r.running {
		if end := r.entries[idx].EndTime; end < next {
			next = end
		}
	}
	return next
}

// complete moves every running task ending at the current time to completed
func (r *run) complete() []string {
	var done []string
	still := r.running[:0]
	for _, idx := range r.running {
		e := &r.entries[idx]
		if e.EndTime > r.now {
			still = append(still, idx)
			continue
		}
		e.Status = domain.StatusCompleted
		r.completed[e.TaskID] = true
		done = append(done, e.TaskID)
	}
	r.running = still
	return done
}

func (r *run) runningIDs() []string {
	ids := make([]string, len(r.running))
	for i, idx := range r.running {
		ids[i] = r.entries[idx].TaskID
	}
	return ids
}

func (s *Scheduler) deadlock(r *run) error {
	err := &domain.DeadlockError{Time: r.now}
	for _, id := range s.graph.IDs() {
		if r.completed[id] {
			err.Completed = append(err.Completed, id)
		} else {
			err.Blocked = append(err.Blocked, id)
		}
	}
	return err
}
