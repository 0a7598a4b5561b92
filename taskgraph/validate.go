package taskgraph

import (
	"fmt"
	"slices"
	"strings"
)

// Validate rejects batches that cannot be executed: empty or duplicate IDs,
// missing bodies, dependencies outside the batch, and cycles.
func Validate[T any](tasks []Task[T]) error {
	ids := make(map[string]struct{}, len(tasks))
	for i, task := range tasks {
		if task.ID == "" {
			return fmt.Errorf("%w: index=%d", ErrEmptyTaskID, i)
		}
		if _, exists := ids[task.ID]; exists {
			return fmt.Errorf("%w: id=%q", ErrDuplicateTask, task.ID)
		}
		if task.Run == nil {
			return fmt.Errorf("%w: id=%q", ErrNilRun, task.ID)
		}
		ids[task.ID] = struct{}{}
	}
	for _, task := range tasks {
		for _, dep := range task.Deps {
			if _, ok := ids[dep]; !ok {
				return fmt.Errorf("%w: task=%q dependency=%q", ErrUnknownDependency, task.ID, dep)
			}
		}
	}

	g := newGraph(tasks)
	indegree := make(map[string]int, len(tasks))
	for id, deps := range g.deps {
		indegree[id] = len(deps)
	}
	queue := make([]string, 0, len(tasks))
	for _, id := range g.order {
		if indegree[id] == 0 {
			queue = append(queue, id)
		}
	}
	visited := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++
		for _, dependent := range g.dependents[id] {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}
	if visited == len(tasks) {
		return nil
	}

	var cyclic []string
	for id, n := range indegree {
		if n > 0 {
			cyclic = append(cyclic, id)
		}
	}
	slices.Sort(cyclic)
	return fmt.Errorf("%w: tasks=[%s]", ErrCycle, strings.Join(cyclic, ", "))
}

type graph struct {
	order      []string
	deps       map[string][]string
	dependents map[string][]string
}

// newGraph indexes tasks, collapsing repeated dependency entries.
func newGraph[T any](tasks []Task[T]) graph {
	g := graph{
		order:      make([]string, 0, len(tasks)),
		deps:       make(map[string][]string, len(tasks)),
		dependents: make(map[string][]string, len(tasks)),
	}
	for _, task := range tasks {
		g.order = append(g.order, task.ID)
		seen := make(map[string]struct{}, len(task.Deps))
		deps := make([]string, 0, len(task.Deps))
		for _, dep := range task.Deps {
			if _, dup := seen[dep]; dup {
				continue
			}
			seen[dep] = struct{}{}
			deps = append(deps, dep)
			g.dependents[dep] = append(g.dependents[dep], task.ID)
		}
		g.deps[task.ID] = deps
	}
	return g
}
