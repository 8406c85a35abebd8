package graph

import "github.com/hochfrequenz/wfsync/internal/domain"

// Options controls graph construction
type Options struct {
	// Strict turns dangling edges into a construction error instead of a warning
	Strict bool
}

// Node is one task plus its direct predecessors and successors
type Node struct {
	Task         domain.Task
	Dependencies []string // tasks that must complete first
	Dependents   []string // tasks waiting on this one
}

// Graph is an immutable dependency graph. Once built it is only read, so a
// single Graph may back any number of concurrent scheduling runs.
type Graph struct {
	order []string // task enumeration order, as given to Build
	nodes map[string]*Node
}
