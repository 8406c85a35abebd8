package scheduler

import (
	"fmt"
	"sort"
	"strings"

	"github.com/hochfrequenz/wfsync/internal/domain"
	"github.com/hochfrequenz/wfsync/internal/graph"
)

// Policy decides the admission order among ready tasks when there are more
// ready tasks than free slots. Every policy runs the same list scheduler;
// only the tie-break differs.
type Policy string

const (
	// PolicyFIFO admits ready tasks in the order the workflow lists them
	PolicyFIFO Policy = "fifo"
	// PolicyShortestFirst admits shorter tasks first
	PolicyShortestFirst Policy = "shortest-first"
	// PolicyLongestFirst admits longer tasks first
	PolicyLongestFirst Policy = "longest-first"
	// PolicyCriticalPath admits tasks heading the longest remaining chain first
	PolicyCriticalPath Policy = "critical-path"
	// PolicyResourceCost admits cheaper tasks first
	PolicyResourceCost Policy = "resource-cost"
)

// DefaultPolicy matches plain admission order
const DefaultPolicy = PolicyFIFO

// legacyMethods maps method names used by older workflow documents onto the
// policy that actually implements them.
var legacyMethods = map[string]Policy{
	"dependency-aware":   PolicyFIFO,
	"priority-based":     PolicyCriticalPath,
	"time-critical":      PolicyLongestFirst,
	"resource-optimized": PolicyResourceCost,
}

// unsupportedMethods are accepted names with no distinct algorithm behind them
var unsupportedMethods = map[string]bool{
	"adaptive-learning": true,
}

// Policies returns every supported policy in a stable order.
func Policies() []Policy {
	return []Policy{PolicyFIFO, PolicyShortestFirst, PolicyLongestFirst, PolicyCriticalPath, PolicyResourceCost}
}

// ParsePolicy resolves a method name. The empty string selects DefaultPolicy.
func ParsePolicy(name string) (Policy, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return DefaultPolicy, nil
	}
	for _, p := range Policies() {
		if string(p) == name {
			return p, nil
		}
	}
	if p, ok := legacyMethods[name]; ok {
		return p, nil
	}
	if unsupportedMethods[name] {
		return "", &domain.ConfigError{Field: "method", Message: fmt.Sprintf("%q is not implemented", name)}
	}
	return "", &domain.ConfigError{Field: "method", Message: fmt.Sprintf("unknown scheduling method %q", name)}
}

// rank returns every task ID ordered by the policy's admission preference.
// Ties keep enumeration order.
func (p Policy) rank(g *graph.Graph) []string {
	ids := g.IDs()
	task := func(i int) domain.Task {
		t, _ := g.Task(ids[i])
		return t
	}

	switch p {
	case PolicyShortestFirst:
		sort.SliceStable(ids, func(i, j int) bool {
			return task(i).Duration < task(j).Duration
		})
	case PolicyLongestFirst:
		sort.SliceStable(ids, func(i, j int) bool {
			return task(i).Duration > task(j).Duration
		})
	case PolicyResourceCost:
		sort.SliceStable(ids, func(i, j int) bool {
			return task(i).ResourceCost < task(j).ResourceCost
		})
	case PolicyCriticalPath:
		// A cyclic graph has no tails; the run reports the deadlock itself.
		tails, err := g.Tails()
		if err != nil {
			return ids
		}
		depth := make(map[string]int, len(ids))
		for _, id := range ids {
			depth[id] = g.DescendantCount(id)
		}
		sort.SliceStable(ids, func(i, j int) bool {
			// 1. Longest remaining chain
			ti, tj := tails[ids[i]], tails[ids[j]]
			if ti != tj {
				return ti > tj
			}
			// 2. Dependency depth (unblocks more work)
			return depth[ids[i]] > depth[ids[j]]
		})
	}
	return ids
}
