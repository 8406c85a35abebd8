package domain

import (
	"errors"
	"math"
	"strings"
	"testing"
)

func TestWorkflow_Validate(t *testing.T) {
	tests := []struct {
		name      string
		wf        Workflow
		wantField string
	}{
		{
			name: "valid",
			wf: Workflow{
				Tasks: []Task{{ID: "a", Duration: 5, ResourceCost: 1}, {ID: "b", Duration: 3}},
				Edges: []Edge{{From: "a", To: "b"}},
			},
		},
		{name: "no tasks", wf: Workflow{}, wantField: "workflows"},
		{
			name:      "empty id",
			wf:        Workflow{Tasks: []Task{{ID: "", Duration: 1}}},
			wantField: "workflows[0].id",
		},
		{
			name:      "duplicate id",
			wf:        Workflow{Tasks: []Task{{ID: "a", Duration: 1}, {ID: "a", Duration: 2}}},
			wantField: "workflows[1].id",
		},
		{
			name:      "zero duration",
			wf:        Workflow{Tasks: []Task{{ID: "a", Duration: 0}}},
			wantField: "workflows[0].duration",
		},
		{
			name:      "nan duration",
			wf:        Workflow{Tasks: []Task{{ID: "a", Duration: math.NaN()}}},
			wantField: "workflows[0].duration",
		},
		{
			name:      "negative resources",
			wf:        Workflow{Tasks: []Task{{ID: "a", Duration: 1, ResourceCost: -2}}},
			wantField: "workflows[0].resources",
		},
		{
			name: "self edge",
			wf: Workflow{
				Tasks: []Task{{ID: "a", Duration: 1}},
				Edges: []Edge{{From: "a", To: "a"}},
			},
			wantField: "dependencies[0]",
		},
		{
			name: "empty edge endpoint",
			wf: Workflow{
				Tasks: []Task{{ID: "a", Duration: 1}},
				Edges: []Edge{{From: "a"}},
			},
			wantField: "dependencies[0].to",
		},
		{
			name:      "negative max parallel",
			wf:        Workflow{Tasks: []Task{{ID: "a", Duration: 1}}, MaxParallel: -1},
			wantField: "max_parallel",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.wf.Validate()
			if tt.wantField == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v, want nil", err)
				}
				return
			}
			var cfgErr *ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("Validate() error = %v, want *ConfigError", err)
			}
			if cfgErr.Field != tt.wantField {
				t.Errorf("Field = %q, want %q", cfgErr.Field, tt.wantField)
			}
			if !errors.Is(err, ErrInvalidConfig) {
				t.Error("expected error to wrap ErrInvalidConfig")
			}
		})
	}
}

func TestWorkflow_Normalize(t *testing.T) {
	wf := Workflow{Tasks: []Task{{ID: "a", Duration: 1}, {ID: "b", Duration: 1, ResourceCost: 4}}}
	wf.Normalize()

	if wf.Tasks[0].ResourceCost != DefaultResourceCost {
		t.Errorf("a.ResourceCost = %v, want %v", wf.Tasks[0].ResourceCost, DefaultResourceCost)
	}
	if wf.Tasks[1].ResourceCost != 4 {
		t.Errorf("b.ResourceCost = %v, want 4", wf.Tasks[1].ResourceCost)
	}
}

func TestTask_Label(t *testing.T) {
	if got := (Task{ID: "ingest", Name: "Data Ingestion"}).Label(); got != "Data Ingestion" {
		t.Errorf("Label() = %q, want Data Ingestion", got)
	}
	if got := (Task{ID: "ingest"}).Label(); got != "ingest" {
		t.Errorf("Label() = %q, want ingest", got)
	}
}

func TestDeadlockError(t *testing.T) {
	err := &DeadlockError{Time: 5, Completed: []string{"a"}, Blocked: []string{"b", "c"}}

	if !errors.Is(err, ErrDeadlock) {
		t.Error("expected DeadlockError to wrap ErrDeadlock")
	}
	if !strings.Contains(err.Error(), "1 of 3 tasks completed") {
		t.Errorf("Error() = %q, want completion counts", err.Error())
	}
}

func TestDanglingEdge_Err(t *testing.T) {
	d := DanglingEdge{Index: 2, Edge: Edge{From: "a", To: "zz"}, Missing: []string{"zz"}}
	err := d.Err()

	if !errors.Is(err, ErrDanglingEdge) {
		t.Error("expected ErrDanglingEdge")
	}
	if !errors.Is(err, ErrInvalidConfig) {
		t.Error("expected ErrInvalidConfig")
	}
	if !strings.Contains(err.Error(), "dependencies[2]") {
		t.Errorf("Error() = %q, want edge index", err.Error())
	}
}

func TestSchedule_RunningAt(t *testing.T) {
	s := Schedule{Entries: []Entry{
		{TaskID: "a", StartTime: 0, EndTime: 5},
		{TaskID: "b", StartTime: 5, EndTime: 15},
		{TaskID: "c", StartTime: 5, EndTime: 12},
	}}

	if got := s.RunningAt(0); len(got) != 1 || got[0] != "a" {
		t.Errorf("RunningAt(0) = %v, want [a]", got)
	}
	if got := s.RunningAt(5); len(got) != 2 {
		t.Errorf("RunningAt(5) = %v, want [b c]", got)
	}
	if got := s.RunningAt(15); len(got) != 0 {
		t.Errorf("RunningAt(15) = %v, want []", got)
	}
}
