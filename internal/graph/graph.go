// Package graph builds the immutable task dependency graph and derives its
// execution order.
package graph

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/hupe1980/assetflow/internal/task"
)

// Sentinel configuration errors. Every error returned by New wraps one of
// them.
var (
	ErrInvalidTask       = errors.New("invalid task")
	ErrDuplicateTask     = errors.New("duplicate task")
	ErrUnknownDependency = errors.New("unknown dependency")
	ErrCycle             = errors.New("dependency cycle")
	ErrUnknownTask       = errors.New("unknown task")

	errNoTasks = errors.New("no task names given")
)

// CycleError reports a dependency cycle. Cycle starts and ends with the
// same task name.
type CycleError struct {
	Cycle []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle detected: %s", strings.Join(e.Cycle, " → "))
}

// Unwrap lets errors.Is match ErrCycle.
func (e *CycleError) Unwrap() error { return ErrCycle }

// Graph is the validated, immutable task graph.
type Graph struct {
	tasks      map[string]*task.Task
	deps       map[string][]string // task -> tasks it depends on
	dependents map[string][]string // task -> tasks depending on it
	order      []string
}

// New validates tasks and builds the graph. Duplicate names, unknown
// dependencies and cycles are rejected here, before anything runs.
func New(tasks []*task.Task) (*Graph, error) {
	g := &Graph{
		tasks:      make(map[string]*task.Task, len(tasks)),
		deps:       make(map[string][]string, len(tasks)),
		dependents: make(map[string][]string, len(tasks)),
	}

	for _, t := range tasks {
		if t == nil {
			return nil, fmt.Errorf("%w: nil task", ErrInvalidTask)
		}

		if err := t.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidTask, err)
		}

		if _, dup := g.tasks[t.Name]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateTask, t.Name)
		}

		g.tasks[t.Name] = t
	}

	for _, t := range tasks {
		seen := make(map[string]bool, len(t.DependsOn))

		for _, dep := range t.DependsOn {
			if _, ok := g.tasks[dep]; !ok {
				return nil, fmt.Errorf("%w: task %q depends on %q", ErrUnknownDependency, t.Name, dep)
			}

			if seen[dep] {
				continue
			}

			seen[dep] = true
			g.deps[t.Name] = append(g.deps[t.Name], dep)
			g.dependents[dep] = append(g.dependents[dep], t.Name)
		}
	}

	for name := range g.tasks {
		sort.Strings(g.deps[name])
		sort.Strings(g.dependents[name])
	}

	order, err := g.topologicalSort()
	if err != nil {
		return nil, err
	}

	g.order = order

	return g, nil
}

// Len returns the number of tasks.
func (g *Graph) Len() int { return len(g.tasks) }

// Names returns all task names, sorted.
func (g *Graph) Names() []string {
	names := make([]string, 0, len(g.tasks))
	for n := range g.tasks {
		names = append(names, n)
	}

	sort.Strings(names)

	return names
}

// Task returns the named task.
func (g *Graph) Task(name string) (*task.Task, bool) {
	t, ok := g.tasks[name]
	return t, ok
}

// Order returns every task in topological order, ties broken
// alphabetically.
func (g *Graph) Order() []string {
	return append([]string(nil), g.order...)
}

// DependenciesOf returns the direct dependencies of name.
func (g *Graph) DependenciesOf(name string) []string {
	return append([]string(nil), g.deps[name]...)
}

// DependentsOf returns the tasks that directly depend on name.
func (g *Graph) DependentsOf(name string) []string {
	return append([]string(nil), g.dependents[name]...)
}

// WithDependencies returns names plus everything they transitively depend
// on, in topological order.
func (g *Graph) WithDependencies(names []string) ([]string, error) {
	return g.closure(names, g.deps)
}

// WithDependents returns names plus everything that transitively depends on
// them, in topological order.
func (g *Graph) WithDependents(names []string) ([]string, error) {
	return g.closure(names, g.dependents)
}

func (g *Graph) closure(names []string, edges map[string][]string) ([]string, error) {
	if err := g.check(names); err != nil {
		return nil, err
	}

	in := make(map[string]bool)
	stack := append([]string(nil), names...)

	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if in[n] {
			continue
		}

		in[n] = true
		stack = append(stack, edges[n]...)
	}

	return g.filterOrder(in), nil
}

// Waves groups the given tasks into sets that can run concurrently. A task
// lands in the first wave after all of its dependencies that are part of
// the subset. Dependencies outside the subset are treated as satisfied.
// Each wave is sorted by name.
func (g *Graph) Waves(names []string) ([][]string, error) {
	if err := g.check(names); err != nil {
		return nil, err
	}

	in := make(map[string]bool, len(names))
	for _, n := range names {
		in[n] = true
	}

	level := make(map[string]int, len(in))

	var waves [][]string

	for _, n := range g.order {
		if !in[n] {
			continue
		}

		lvl := 0

		for _, dep := range g.deps[n] {
			if in[dep] && level[dep]+1 > lvl {
				lvl = level[dep] + 1
			}
		}

		level[n] = lvl

		for len(waves) <= lvl {
			waves = append(waves, nil)
		}

		waves[lvl] = append(waves[lvl], n)
	}

	for _, w := range waves {
		sort.Strings(w)
	}

	return waves, nil
}

func (g *Graph) check(names []string) error {
	if len(names) == 0 {
		return errNoTasks
	}

	var unknown []string

	for _, n := range names {
		if _, ok := g.tasks[n]; !ok {
			unknown = append(unknown, n)
		}
	}

	if len(unknown) > 0 {
		return fmt.Errorf("%w: %s (known: %s)", ErrUnknownTask, strings.Join(unknown, ", "), strings.Join(g.Names(), ", "))
	}

	return nil
}

func (g *Graph) filterOrder(in map[string]bool) []string {
	out := make([]string, 0, len(in))

	for _, n := range g.order {
		if in[n] {
			out = append(out, n)
		}
	}

	return out
}

// topologicalSort orders tasks with Kahn's algorithm, breaking ties
// alphabetically.
func (g *Graph) topologicalSort() ([]string, error) {
	inDegree := make(map[string]int, len(g.tasks))

	var queue []string

	for name := range g.tasks {
		inDegree[name] = len(g.deps[name])
		if inDegree[name] == 0 {
			queue = append(queue, name)
		}
	}

	sort.Strings(queue)

	result := make([]string, 0, len(g.tasks))

	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		result = append(result, node)

		for _, dep := range g.dependents[node] {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				i := sort.SearchStrings(queue, dep)
				queue = append(queue, "")
				copy(queue[i+1:], queue[i:])
				queue[i] = dep
			}
		}
	}

	if len(result) != len(g.tasks) {
		if cycle := g.findCycle(); cycle != nil {
			return nil, &CycleError{Cycle: cycle}
		}

		return nil, fmt.Errorf("%w detected in graph", ErrCycle)
	}

	return result, nil
}

// findCycle returns one cycle, rotated so its lexicographically smallest
// task comes first, or nil.
func (g *Graph) findCycle() []string {
	const (
		unvisited = iota
		active
		done
	)

	state := make(map[string]int, len(g.tasks))

	var (
		path  []string
		found []string
	)

	var dfs func(n string) bool
	dfs = func(n string) bool {
		state[n] = active
		path = append(path, n)

		for _, dep := range g.deps[n] {
			switch state[dep] {
			case active:
				for i := len(path) - 1; i >= 0; i-- {
					if path[i] == dep {
						found = append([]string(nil), path[i:]...)
						break
					}
				}

				return true
			case unvisited:
				if dfs(dep) {
					return true
				}
			}
		}

		path = path[:len(path)-1]
		state[n] = done

		return false
	}

	for _, n := range g.Names() {
		if state[n] == unvisited && dfs(n) {
			break
		}
	}

	if found == nil {
		return nil
	}

	minIdx := 0
	for i := range found {
		if found[i] < found[minIdx] {
			minIdx = i
		}
	}

	cycle := append(append([]string(nil), found[minIdx:]...), found[:minIdx]...)

	return append(cycle, cycle[0])
}
