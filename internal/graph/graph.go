package graph

import (
	"fmt"

	"github.com/gammazero/toposort"

	"github.com/hochfrequenz/wfsync/internal/domain"
)

// Build constructs a Graph from a flat task list and edge list.
//
// Edges whose endpoints are not both known are skipped and returned as
// warnings; with opts.Strict the first such edge fails the build instead.
// Duplicate edges are collapsed.
func Build(tasks []domain.Task, edges []domain.Edge, opts Options) (*Graph, []domain.DanglingEdge, error) {
	g := &Graph{
		order: make([]string, 0, len(tasks)),
		nodes: make(map[string]*Node, len(tasks)),
	}

	for i, t := range tasks {
		field := fmt.Sprintf("workflows[%d]", i)
		if err := t.Validate(field); err != nil {
			return nil, nil, err
		}
		if _, dup := g.nodes[t.ID]; dup {
			return nil, nil, &domain.ConfigError{Field: field + ".id", Message: fmt.Sprintf("duplicate task id %q", t.ID)}
		}
		g.nodes[t.ID] = &Node{Task: t}
		g.order = append(g.order, t.ID)
	}

	var dangling []domain.DanglingEdge
	seen := make(map[domain.Edge]bool, len(edges))
	for i, e := range edges {
		var missing []string
		if _, ok := g.nodes[e.From]; !ok {
			missing = append(missing, e.From)
		}
		if _, ok := g.nodes[e.To]; !ok {
			missing = append(missing, e.To)
		}
		if len(missing) > 0 {
			d := domain.DanglingEdge{Index: i, Edge: e, Missing: missing}
			if opts.Strict {
				return nil, nil, d.Err()
			}
			dangling = append(dangling, d)
			continue
		}
		if seen[e] {
			continue
		}
		seen[e] = true
		g.nodes[e.From].Dependents = append(g.nodes[e.From].Dependents, e.To)
		g.nodes[e.To].Dependencies = append(g.nodes[e.To].Dependencies, e.From)
	}

	return g, dangling, nil
}

// Len returns the number of tasks in the graph.
func (g *Graph) Len() int {
	return len(g.order)
}

// IDs returns task IDs in enumeration order.
func (g *Graph) IDs() []string {
	return append([]string(nil), g.order...)
}

// Tasks returns the tasks in enumeration order.
func (g *Graph) Tasks() []domain.Task {
	tasks := make([]domain.Task, len(g.order))
	for i, id := range g.order {
		tasks[i] = g.nodes[id].Task
	}
	return tasks
}

// Task looks up a task by ID.
func (g *Graph) Task(id string) (domain.Task, bool) {
	n, ok := g.nodes[id]
	if !ok {
		return domain.Task{}, false
	}
	return n.Task, true
}

// Dependencies returns the direct predecessors of a task.
func (g *Graph) Dependencies(id string) []string {
	n, ok := g.nodes[id]
	if !ok {
		return nil
	}
	return append([]string(nil), n.Dependencies...)
}

// Dependents returns the direct successors of a task.
func (g *Graph) Dependents(id string) []string {
	n, ok := g.nodes[id]
	if !ok {
		return nil
	}
	return append([]string(nil), n.Dependents...)
}

// Roots returns tasks with no dependencies, in enumeration order.
func (g *Graph) Roots() []string {
	var roots []string
	for _, id := range g.order {
		if len(g.nodes[id].Dependencies) == 0 {
			roots = append(roots, id)
		}
	}
	return roots
}

// Leaves returns tasks nothing depends on, in enumeration order.
func (g *Graph) Leaves() []string {
	var leaves []string
	for _, id := range g.order {
		if len(g.nodes[id].Dependents) == 0 {
			leaves = append(leaves, id)
		}
	}
	return leaves
}

// DetectCycle returns the cycle path if one exists, or nil if the graph is acyclic.
// Uses DFS with coloring: white (unvisited), gray (in progress), black (done).
func (g *Graph) DetectCycle() []string {
	const (
		white = 0
		gray  = 1
		black = 2
	)

	color := make(map[string]int, len(g.order))
	parent := make(map[string]string)

	var dfs func(id string) []string
	dfs = func(id string) []string {
		color[id] = gray
		for _, next := range g.nodes[id].Dependents {
			if color[next] == gray {
				cycle := []string{next, id}
				for cur := id; cur != next; {
					cur = parent[cur]
					cycle = append(cycle, cur)
				}
				for i, j := 0, len(cycle)-1; i < j; i, j = i+1, j-1 {
					cycle[i], cycle[j] = cycle[j], cycle[i]
				}
				return cycle
			}
			if color[next] == white {
				parent[next] = id
				if cycle := dfs(next); cycle != nil {
					return cycle
				}
			}
		}
		color[id] = black
		return nil
	}

	for _, id := range g.order {
		if color[id] == white {
			if cycle := dfs(id); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

// TopoOrder returns the task IDs in a dependency-respecting order.
// Tasks without any edges come first, in enumeration order.
func (g *Graph) TopoOrder() ([]string, error) {
	var edges []toposort.Edge
	for _, id := range g.order {
		for _, dep := range g.nodes[id].Dependents {
			edges = append(edges, toposort.Edge{id, dep})
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return nil, fmt.Errorf("dependency cycle detected %v: %w", g.DetectCycle(), err)
	}

	order := make([]string, 0, len(g.order))
	for _, id := range g.order {
		n := g.nodes[id]
		if len(n.Dependencies) == 0 && len(n.Dependents) == 0 {
			order = append(order, id)
		}
	}
	for _, v := range sorted {
		order = append(order, v.(string))
	}
	return order, nil
}

// Tails returns, for every task, the length of the longest dependency chain
// starting at that task (its own duration included).
func (g *Graph) Tails() (map[string]float64, error) {
	order, err := g.TopoOrder()
	if err != nil {
		return nil, err
	}

	tails := make(map[string]float64, len(order))
	for i := len(order) - 1; i >= 0; i-- {
		n := g.nodes[order[i]]
		longest := 0.0
		for _, succ := range n.Dependents {
			if tails[succ] > longest {
				longest = tails[succ]
			}
		}
		tails[order[i]] = n.Task.Duration + longest
	}
	return tails, nil
}

// CriticalPath returns the summed duration of the longest dependency chain
// and the task IDs along it.
func (g *Graph) CriticalPath() (float64, []string, error) {
	tails, err := g.Tails()
	if err != nil {
		return 0, nil, err
	}

	var start string
	for _, id := range g.order {
		if start == "" || tails[id] > tails[start] {
			start = id
		}
	}
	if start == "" {
		return 0, nil, nil
	}

	length := tails[start]
	path := []string{start}
	for cur := start; ; {
		n := g.nodes[cur]
		next := ""
		for _, succ := range n.Dependents {
			if next == "" || tails[succ] > tails[next] {
				next = succ
			}
		}
		if next == "" {
			break
		}
		path = append(path, next)
		cur = next
	}
	return length, path, nil
}

// DescendantCount returns how many tasks depend (transitively) on this task.
func (g *Graph) DescendantCount(id string) int {
	visited := make(map[string]bool)
	return g.countDependents(id, visited)
}

func (g *Graph) countDependents(id string, visited map[string]bool) int {
	n, ok := g.nodes[id]
	if !ok {
		return 0
	}
	count := 0
	for _, dep := range n.Dependents {
		if visited[dep] {
			continue
		}
		visited[dep] = true
		count += 1 + g.countDependents(dep, visited)
	}
	return count
}
