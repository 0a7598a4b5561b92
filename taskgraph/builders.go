package taskgraph

import (
	"context"
	"slices"
)

// Chain makes each task depend on the task before it, producing a strictly
// sequential batch. Existing dependencies are kept.
func Chain[T any](tasks ...Task[T]) []Task[T] {
	out := make([]Task[T], len(tasks))
	for i, task := range tasks {
		task.Deps = slices.Clone(task.Deps)
		if i > 0 {
			task.Deps = append(task.Deps, tasks[i-1].ID)
		}
		out[i] = task
	}
	return out
}

// Aggregate appends a task that depends on every task in the batch and
// combines their values.
func Aggregate[T any](tasks []Task[T], id string, combine func(ctx context.Context, inputs Inputs[T]) (T, error)) []Task[T] {
	deps := make([]string, len(tasks))
	for i, task := range tasks {
		deps[i] = task.ID
	}
	out := slices.Clone(tasks)
	return append(out, Task[T]{
		ID:          id,
		Description: "aggregate results",
		Deps:        deps,
		Run:         combine,
	})
}

// Values returns the values of the succeeded results.
func Values[T any](results map[string]Result[T]) map[string]T {
	out := make(map[string]T, len(results))
	for id, result := range results {
		if result.OK() {
			out[id] = result.Value
		}
	}
	return out
}

// Errors returns the error of every result that did not succeed.
func Errors[T any](results map[string]Result[T]) map[string]error {
	out := map[string]error{}
	for id, result := range results {
		if !result.OK() {
			out[id] = result.Err
		}
	}
	return out
}
