package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidConfig marks input rejected before scheduling
	ErrInvalidConfig = errors.New("invalid configuration")
	// ErrDeadlock marks a simulation that could not make progress
	ErrDeadlock = errors.New("scheduling deadlock")
	// ErrDanglingEdge marks an edge that references an unknown task
	ErrDanglingEdge = errors.New("dangling dependency edge")
	// ErrEmptySchedule is returned when metrics are requested for no entries
	ErrEmptySchedule = errors.New("empty schedule")
)

// ConfigError identifies the offending field of a rejected configuration
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Message)
}

func (e *ConfigError) Unwrap() error {
	return ErrInvalidConfig
}

// DeadlockError reports the simulation state at the moment no task could start
type DeadlockError struct {
	Time      float64
	Completed []string
	Blocked   []string
}

func (e *DeadlockError) Error() string {
	return fmt.Sprintf("scheduling deadlock at t=%g: %d of %d tasks completed, blocked: [%s] (cyclic or unsatisfiable dependencies)",
		e.Time, len(e.Completed), len(e.Completed)+len(e.Blocked), strings.Join(e.Blocked, ", "))
}

func (e *DeadlockError) Unwrap() error {
	return ErrDeadlock
}

// DanglingEdge is a dependency edge dropped during graph construction
type DanglingEdge struct {
	Index   int
	Edge    Edge
	Missing []string
}

func (d DanglingEdge) String() string {
	return fmt.Sprintf("dependencies[%d] (%s) references unknown task(s) %s", d.Index, d.Edge, strings.Join(d.Missing, ", "))
}

// Err converts the warning into an error for strict mode
func (d DanglingEdge) Err() error {
	return fmt.Errorf("%w: %w: %s", ErrInvalidConfig, ErrDanglingEdge, d.String())
}
