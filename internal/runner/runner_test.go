package runner

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/hochfrequenz/wfsync/internal/ctxlog"
	"github.com/hochfrequenz/wfsync/internal/domain"
	"github.com/hochfrequenz/wfsync/internal/scheduler"
	"github.com/hochfrequenz/wfsync/internal/workflow"
)

func quietContext() context.Context {
	return ctxlog.WithLogger(context.Background(), ctxlog.New("error", "text", &bytes.Buffer{}))
}

func TestRun_Sample(t *testing.T) {
	res, err := Run(quietContext(), workflow.Sample(), Params{})
	if err != nil {
		t.Fatal(err)
	}

	if res.Policy != scheduler.PolicyFIFO {
		t.Errorf("Policy = %q, want fifo (mapped from dependency-aware)", res.Policy)
	}
	if res.MaxParallel != 2 {
		t.Errorf("MaxParallel = %d, want 2 from the document", res.MaxParallel)
	}
	if res.Metrics.Makespan != 33 {
		t.Errorf("Makespan = %v, want 33", res.Metrics.Makespan)
	}
	if res.Metrics.CriticalPath != 33 {
		t.Errorf("CriticalPath = %v, want 33", res.Metrics.CriticalPath)
	}
	wantPath := []string{"ingest", "process", "train", "deploy"}
	if strings.Join(res.CriticalPath, ",") != strings.Join(wantPath, ",") {
		t.Errorf("CriticalPath = %v, want %v", res.CriticalPath, wantPath)
	}
	if len(res.Tasks) != 5 {
		t.Errorf("len(Tasks) = %d, want 5", len(res.Tasks))
	}
	if res.RunID == "" {
		t.Error("RunID should be set")
	}
}

func TestRun_ExplicitParamsWin(t *testing.T) {
	res, err := Run(quietContext(), workflow.Sample(), Params{MaxParallel: 1, Method: "longest-first"})
	if err != nil {
		t.Fatal(err)
	}
	if res.MaxParallel != 1 {
		t.Errorf("MaxParallel = %d, want 1", res.MaxParallel)
	}
	if res.Policy != scheduler.PolicyLongestFirst {
		t.Errorf("Policy = %q, want longest-first", res.Policy)
	}
	// One slot serializes all work.
	if res.Metrics.Makespan != 40 {
		t.Errorf("Makespan = %v, want 40", res.Metrics.Makespan)
	}
}

func TestRunner_Resolve(t *testing.T) {
	r := New(Params{Method: "critical-path", MaxParallel: 4, Strict: true, ResourceCapacity: 10})

	tests := []struct {
		name string
		wf   domain.Workflow
		in   Params
		want Params
	}{
		{
			name: "defaults only",
			want: Params{Method: "critical-path", MaxParallel: 4, Strict: true, ResourceCapacity: 10},
		},
		{
			name: "document over defaults",
			wf:   domain.Workflow{Method: "fifo", MaxParallel: 3},
			want: Params{Method: "fifo", MaxParallel: 3, Strict: true, ResourceCapacity: 10},
		},
		{
			name: "explicit over document",
			wf:   domain.Workflow{Method: "fifo", MaxParallel: 3},
			in:   Params{Method: "shortest-first", MaxParallel: 8, ResourceCapacity: 2},
			want: Params{Method: "shortest-first", MaxParallel: 8, Strict: true, ResourceCapacity: 2},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := r.Resolve(&tt.wf, tt.in)
			if got != tt.want {
				t.Errorf("Resolve() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestRun_DanglingEdgeWarns(t *testing.T) {
	var buf bytes.Buffer
	ctx := ctxlog.WithLogger(context.Background(), ctxlog.New("warn", "text", &buf))

	wf := &domain.Workflow{
		Name: "dangling",
		Tasks: []domain.Task{
			{ID: "a", Duration: 2, ResourceCost: 1},
			{ID: "b", Duration: 3, ResourceCost: 1},
		},
		Edges: []domain.Edge{{From: "a", To: "b"}, {From: "ghost", To: "b"}},
	}

	res, err := Run(ctx, wf, Params{})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Warnings) != 1 {
		t.Fatalf("len(Warnings) = %d, want 1", len(res.Warnings))
	}
	if !strings.Contains(res.Warnings[0], "ghost") {
		t.Errorf("warning %q should name the missing task", res.Warnings[0])
	}
	if !strings.Contains(buf.String(), "dropping dependency edge") {
		t.Errorf("expected WARN log line, got %q", buf.String())
	}
	if res.Metrics.Makespan != 5 {
		t.Errorf("Makespan = %v, want 5", res.Metrics.Makespan)
	}

	_, err = Run(quietContext(), wf, Params{Strict: true})
	if !errors.Is(err, domain.ErrDanglingEdge) {
		t.Errorf("strict run error = %v, want ErrDanglingEdge", err)
	}
}

func TestRun_Errors(t *testing.T) {
	cyclic := &domain.Workflow{
		Tasks: []domain.Task{
			{ID: "a", Duration: 1, ResourceCost: 1},
			{ID: "b", Duration: 1, ResourceCost: 1},
		},
		Edges: []domain.Edge{{From: "a", To: "b"}, {From: "b", To: "a"}},
	}

	_, err := Run(quietContext(), cyclic, Params{})
	var dl *domain.DeadlockError
	if !errors.As(err, &dl) {
		t.Fatalf("error = %v, want *DeadlockError", err)
	}

	_, err = Run(quietContext(), workflow.Sample(), Params{Method: "adaptive-learning"})
	if !errors.Is(err, domain.ErrInvalidConfig) {
		t.Errorf("adaptive-learning error = %v, want ErrInvalidConfig", err)
	}

	_, err = Run(quietContext(), workflow.Sample(), Params{MaxParallel: -1})
	if !errors.Is(err, domain.ErrInvalidConfig) {
		t.Errorf("negative max_parallel error = %v, want ErrInvalidConfig", err)
	}

	_, err = Run(quietContext(), nil, Params{})
	if !errors.Is(err, domain.ErrInvalidConfig) {
		t.Errorf("nil workflow error = %v, want ErrInvalidConfig", err)
	}
}

func TestRun_EmptyWorkflow(t *testing.T) {
	res, err := Run(quietContext(), &domain.Workflow{Name: "empty"}, Params{})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Schedule.Entries) != 0 {
		t.Errorf("len(Entries) = %d, want 0", len(res.Schedule.Entries))
	}
	if res.Metrics.Makespan != 0 {
		t.Errorf("Makespan = %v, want 0", res.Metrics.Makespan)
	}
}

func TestRunID_Deterministic(t *testing.T) {
	wf := workflow.Sample()
	p := Params{MaxParallel: 2}

	first, err := RunID(wf, scheduler.PolicyFIFO, p)
	if err != nil {
		t.Fatal(err)
	}
	second, _ := RunID(workflow.Sample(), scheduler.PolicyFIFO, p)
	if first != second {
		t.Errorf("RunID not stable: %s != %s", first, second)
	}

	other, _ := RunID(wf, scheduler.PolicyFIFO, Params{MaxParallel: 3})
	if other == first {
		t.Error("different max_parallel should give a different RunID")
	}
	otherPolicy, _ := RunID(wf, scheduler.PolicyShortestFirst, p)
	if otherPolicy == first {
		t.Error("different policy should give a different RunID")
	}
}

func TestCompare(t *testing.T) {
	r := New(Params{})
	policies := []scheduler.Policy{
		scheduler.PolicyCriticalPath,
		scheduler.PolicyFIFO,
		scheduler.PolicyShortestFirst,
	}

	results, err := r.Compare(quietContext(), workflow.Sample(), policies, Params{})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != len(policies) {
		t.Fatalf("len(results) = %d, want %d", len(results), len(policies))
	}
	for i, res := range results {
		if res.Policy != policies[i] {
			t.Errorf("results[%d].Policy = %q, want %q", i, res.Policy, policies[i])
		}
		if res.Metrics.Makespan < res.Metrics.LowerBound {
			t.Errorf("%s: makespan %v below lower bound %v", res.Policy, res.Metrics.Makespan, res.Metrics.LowerBound)
		}
	}
	if results[0].RunID == results[1].RunID {
		t.Error("policies should produce distinct RunIDs")
	}
}

func TestCompare_AllPoliciesByDefault(t *testing.T) {
	results, err := New(Params{}).Compare(quietContext(), workflow.Sample(), nil, Params{})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != len(scheduler.Policies()) {
		t.Errorf("len(results) = %d, want %d", len(results), len(scheduler.Policies()))
	}
}

func TestCompare_BadPolicy(t *testing.T) {
	_, err := New(Params{}).Compare(quietContext(), workflow.Sample(), []scheduler.Policy{"fastest"}, Params{})
	if !errors.Is(err, domain.ErrInvalidConfig) {
		t.Errorf("error = %v, want ErrInvalidConfig", err)
	}
}
