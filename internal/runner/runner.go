// Package runner ties the pure scheduling core to its callers: it resolves
// run parameters, builds the graph, schedules, computes metrics and logs.
package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/hochfrequenz/wfsync/internal/config"
	"github.com/hochfrequenz/wfsync/internal/ctxlog"
	"github.com/hochfrequenz/wfsync/internal/domain"
	"github.com/hochfrequenz/wfsync/internal/graph"
	"github.com/hochfrequenz/wfsync/internal/metrics"
	"github.com/hochfrequenz/wfsync/internal/scheduler"
)

// runNamespace seeds RunIDs so identical inputs always hash to the same id
var runNamespace = uuid.MustParse("3f2b8c4e-6a1d-5e0f-9b7a-2c4d6e8f0a1b")

// Params are the knobs of a single run. Zero values mean "not set" and are
// filled from the workflow document, then from the runner defaults.
type Params struct {
	Method           string  `json:"method,omitempty"`
	MaxParallel      int     `json:"max_parallel,omitempty"`
	Strict           bool    `json:"strict,omitempty"`
	ResourceCapacity float64 `json:"resource_capacity,omitempty"`
}

// ParamsFromConfig returns the configured defaults
func ParamsFromConfig(cfg *config.Config) Params {
	return Params{
		Method:           cfg.Scheduler.Method,
		MaxParallel:      cfg.Scheduler.MaxParallel,
		Strict:           cfg.Scheduler.StrictEdges,
		ResourceCapacity: cfg.Scheduler.ResourceCapacity,
	}
}

// Result is one scheduled run with its metrics
type Result struct {
	RunID            string           `json:"run_id"`
	Workflow         string           `json:"workflow"`
	Policy           scheduler.Policy `json:"policy"`
	MaxParallel      int              `json:"max_parallel"`
	ResourceCapacity float64          `json:"resource_capacity,omitempty"`
	Tasks            []domain.Task    `json:"tasks"`
	Schedule         *domain.Schedule `json:"schedule"`
	Metrics          domain.Metrics   `json:"metrics"`
	CriticalPath     []string         `json:"critical_path,omitempty"`
	Warnings         []string         `json:"warnings,omitempty"`
}

// Task returns the task with the given ID from the run's input
func (r *Result) Task(id string) (domain.Task, bool) {
	for _, t := range r.Tasks {
		if t.ID == id {
			return t, true
		}
	}
	return domain.Task{}, false
}

// Runner executes scheduling runs against a set of defaults
type Runner struct {
	defaults Params
}

// New creates a runner. Unset defaults fall back to fifo with two slots.
func New(defaults Params) *Runner {
	if defaults.Method == "" {
		defaults.Method = string(scheduler.DefaultPolicy)
	}
	if defaults.MaxParallel == 0 {
		defaults.MaxParallel = 2
	}
	return &Runner{defaults: defaults}
}

// Run schedules wf with the package defaults
func Run(ctx context.Context, wf *domain.Workflow, p Params) (*Result, error) {
	return New(Params{}).Run(ctx, wf, p)
}

// Resolve applies explicit > document > default precedence
func (r *Runner) Resolve(wf *domain.Workflow, p Params) Params {
	if p.Method == "" {
		p.Method = wf.Method
	}
	if p.Method == "" {
		p.Method = r.defaults.Method
	}
	if p.MaxParallel == 0 {
		p.MaxParallel = wf.MaxParallel
	}
	if p.MaxParallel == 0 {
		p.MaxParallel = r.defaults.MaxParallel
	}
	if p.ResourceCapacity == 0 {
		p.ResourceCapacity = r.defaults.ResourceCapacity
	}
	p.Strict = p.Strict || r.defaults.Strict
	return p
}

// Run builds, schedules and measures one workflow. Errors from the core
// packages are returned unchanged so callers can match them with errors.Is/As.
func (r *Runner) Run(ctx context.Context, wf *domain.Workflow, p Params) (*Result, error) {
	if wf == nil {
		return nil, &domain.ConfigError{Field: "workflows", Message: "no workflow given"}
	}
	p = r.Resolve(wf, p)

	policy, err := scheduler.ParsePolicy(p.Method)
	if err != nil {
		return nil, err
	}

	g, warnings, err := r.build(ctx, wf, p.Strict)
	if err != nil {
		return nil, err
	}
	return r.schedule(ctx, wf, g, warnings, policy, p)
}

// Compare runs every policy over one shared graph concurrently. Results
// come back in the order the policies were given.
func (r *Runner) Compare(ctx context.Context, wf *domain.Workflow, policies []scheduler.Policy, p Params) ([]*Result, error) {
	if wf == nil {
		return nil, &domain.ConfigError{Field: "workflows", Message: "no workflow given"}
	}
	if len(policies) == 0 {
		policies = scheduler.Policies()
	}
	p = r.Resolve(wf, p)

	resolved := make([]scheduler.Policy, len(policies))
	for i, pol := range policies {
		parsed, err := scheduler.ParsePolicy(string(pol))
		if err != nil {
			return nil, err
		}
		resolved[i] = parsed
	}

	g, warnings, err := r.build(ctx, wf, p.Strict)
	if err != nil {
		return nil, err
	}

	results := make([]*Result, len(resolved))
	eg, egCtx := errgroup.WithContext(ctx)
	for i, pol := range resolved {
		eg.Go(func() error {
			res, err := r.schedule(egCtx, wf, g, warnings, pol, p)
			if err != nil {
				return fmt.Errorf("policy %s: %w", pol, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// build constructs the graph and logs each dropped edge once
func (r *Runner) build(ctx context.Context, wf *domain.Workflow, strict bool) (*graph.Graph, []string, error) {
	g, dangling, err := graph.Build(wf.Tasks, wf.Edges, graph.Options{Strict: strict})
	if err != nil {
		return nil, nil, err
	}
	logger := ctxlog.FromContext(ctx)
	var warnings []string
	for _, d := range dangling {
		logger.WarnContext(ctx, "dropping dependency edge",
			"workflow", wf.Name,
			"edge", d.Edge.String(),
			"index", d.Index,
			"missing", d.Missing)
		warnings = append(warnings, d.String())
	}
	return g, warnings, nil
}

func (r *Runner) schedule(ctx context.Context, wf *domain.Workflow, g *graph.Graph, warnings []string, policy scheduler.Policy, p Params) (*Result, error) {
	logger := ctxlog.FromContext(ctx).With("workflow", wf.Name, "policy", string(policy))

	s, err := scheduler.New(g, scheduler.Options{
		MaxParallel:      p.MaxParallel,
		Policy:           policy,
		ResourceCapacity: p.ResourceCapacity,
	})
	if err != nil {
		return nil, err
	}

	start := time.Now()
	sched, err := s.RunContext(ctx)
	if err != nil {
		logger.DebugContext(ctx, "schedule failed", "error", err)
		return nil, err
	}

	// An empty workflow schedules to an empty timeline with zero metrics.
	m, path, err := metrics.WithGraph(sched, g, p.MaxParallel)
	if err != nil && !errors.Is(err, domain.ErrEmptySchedule) {
		return nil, err
	}

	runID, err := RunID(wf, policy, p)
	if err != nil {
		return nil, err
	}

	res := &Result{
		RunID:            runID,
		Workflow:         wf.Name,
		Policy:           policy,
		MaxParallel:      p.MaxParallel,
		ResourceCapacity: p.ResourceCapacity,
		Tasks:            g.Tasks(),
		Schedule:         sched,
		Metrics:          m,
		CriticalPath:     path,
		Warnings:         warnings,
	}

	logger.InfoContext(ctx, "workflow scheduled",
		"run_id", runID,
		"tasks", m.TotalTasks,
		"makespan", m.Makespan,
		"efficiency", m.Efficiency,
		"elapsed", time.Since(start))
	return res, nil
}

// RunID derives a stable identifier from the canonical run input
func RunID(wf *domain.Workflow, policy scheduler.Policy, p Params) (string, error) {
	canonical, err := json.Marshal(struct {
		Name             string        `json:"name"`
		Tasks            []domain.Task `json:"tasks"`
		Edges            []domain.Edge `json:"edges"`
		Policy           string        `json:"policy"`
		MaxParallel      int           `json:"max_parallel"`
		Strict           bool          `json:"strict"`
		ResourceCapacity float64       `json:"resource_capacity"`
	}{wf.Name, wf.Tasks, wf.Edges, string(policy), p.MaxParallel, p.Strict, p.ResourceCapacity})
	if err != nil {
		return "", fmt.Errorf("encoding run input: %w", err)
	}
	return uuid.NewSHA1(runNamespace, canonical).String(), nil
}
