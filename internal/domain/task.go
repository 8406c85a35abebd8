package domain

import (
	"fmt"
	"math"
)

// Task represents a unit of work in a workflow
type Task struct {
	ID           string  `json:"id" yaml:"id" toml:"id"`
	Name         string  `json:"name" yaml:"name" toml:"name"`
	Duration     float64 `json:"duration" yaml:"duration" toml:"duration"`
	ResourceCost float64 `json:"resources" yaml:"resources" toml:"resources"`
}

// Label returns the display name, falling back to the ID
func (t Task) Label() string {
	if t.Name != "" {
		return t.Name
	}
	return t.ID
}

// Validate checks the task's own fields. field is the document path used in errors.
func (t Task) Validate(field string) error {
	if t.ID == "" {
		return &ConfigError{Field: field + ".id", Message: "must not be empty"}
	}
	if math.IsNaN(t.Duration) || math.IsInf(t.Duration, 0) || t.Duration <= 0 {
		return &ConfigError{Field: field + ".duration", Message: fmt.Sprintf("must be a positive number, got %v", t.Duration)}
	}
	if math.IsNaN(t.ResourceCost) || math.IsInf(t.ResourceCost, 0) || t.ResourceCost < 0 {
		return &ConfigError{Field: field + ".resources", Message: fmt.Sprintf("must not be negative, got %v", t.ResourceCost)}
	}
	return nil
}

// Edge is a dependency: To may not start before From completes
type Edge struct {
	From string `json:"from" yaml:"from" toml:"from"`
	To   string `json:"to" yaml:"to" toml:"to"`
}

func (e Edge) String() string {
	return e.From + " -> " + e.To
}

// Workflow is a parsed configuration document plus its optional run parameters
type Workflow struct {
	Name        string `json:"name,omitempty"`
	Tasks       []Task `json:"workflows"`
	Edges       []Edge `json:"dependencies"`
	Method      string `json:"method,omitempty"`
	MaxParallel int    `json:"max_parallel,omitempty"`
}

// TaskIndex returns the tasks keyed by ID
func (w *Workflow) TaskIndex() map[string]Task {
	idx := make(map[string]Task, len(w.Tasks))
	for _, t := range w.Tasks {
		idx[t.ID] = t
	}
	return idx
}

// Validate rejects malformed workflows before any scheduling attempt
func (w *Workflow) Validate() error {
	if len(w.Tasks) == 0 {
		return &ConfigError{Field: "workflows", Message: "at least one task is required"}
	}
	seen := make(map[string]int, len(w.Tasks))
	for i, t := range w.Tasks {
		field := fmt.Sprintf("workflows[%d]", i)
		if err := t.Validate(field); err != nil {
			return err
		}
		if prev, ok := seen[t.ID]; ok {
			return &ConfigError{Field: field + ".id", Message: fmt.Sprintf("duplicate task id %q (first defined at workflows[%d])", t.ID, prev)}
		}
		seen[t.ID] = i
	}
	for i, e := range w.Edges {
		field := fmt.Sprintf("dependencies[%d]", i)
		if e.From == "" {
			return &ConfigError{Field: field + ".from", Message: "must not be empty"}
		}
		if e.To == "" {
			return &ConfigError{Field: field + ".to", Message: "must not be empty"}
		}
		if e.From == e.To {
			return &ConfigError{Field: field, Message: fmt.Sprintf("task %q cannot depend on itself", e.From)}
		}
	}
	if w.MaxParallel < 0 {
		return &ConfigError{Field: "max_parallel", Message: fmt.Sprintf("must be positive, got %d", w.MaxParallel)}
	}
	return nil
}

// Normalize fills defaults that the baseline form applies implicitly
func (w *Workflow) Normalize() {
	for i := range w.Tasks {
		if w.Tasks[i].ResourceCost == 0 {
			w.Tasks[i].ResourceCost = DefaultResourceCost
		}
	}
}
