// Package taskgraph executes batches of identified tasks in dependency order,
// running every ready task concurrently and recording failures as data.
package taskgraph

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrEmptyTaskID is returned by Validate for a task without an identifier.
	ErrEmptyTaskID = errors.New("task id is empty")
	// ErrDuplicateTask is returned by Validate when two tasks share an identifier.
	ErrDuplicateTask = errors.New("task id is duplicated")
	// ErrUnknownDependency is returned by Validate when a dependency is not in the batch.
	ErrUnknownDependency = errors.New("task dependency is unknown")
	// ErrCycle is returned by Validate when the dependency graph is cyclic.
	ErrCycle = errors.New("task graph has a cycle")
	// ErrNilRun is returned by Validate for a task without a body.
	ErrNilRun = errors.New("task run function is nil")
	// ErrUpstreamFailed matches every SkippedError.
	ErrUpstreamFailed = errors.New("skipped due to upstream failure")
	// ErrTaskPanicked wraps a panic recovered from a task body.
	ErrTaskPanicked = errors.New("task panicked")
)

// Status is the terminal state of one task.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
	StatusCancelled Status = "cancelled"
)

// Task is one graph node. Run receives the results of its declared
// dependencies, all of which succeeded.
type Task[T any] struct {
	ID          string
	Description string
	Deps        []string
	Run         func(ctx context.Context, inputs Inputs[T]) (T, error)
}

// Inputs maps dependency IDs to their results.
type Inputs[T any] map[string]Result[T]

// Value returns the value produced by dependency id.
func (in Inputs[T]) Value(id string) (T, bool) {
	result, ok := in[id]
	if !ok || result.Status != StatusSucceeded {
		var zero T
		return zero, false
	}
	return result.Value, true
}

// Result is the outcome of one task. Err is nil exactly when Status is
// StatusSucceeded.
type Result[T any] struct {
	TaskID   string        `json:"task_id"`
	Status   Status        `json:"status"`
	Value    T             `json:"value,omitempty"`
	Err      error         `json:"-"`
	Started  time.Time     `json:"started,omitzero"`
	Duration time.Duration `json:"duration"`
}

func (r Result[T]) OK() bool {
	return r.Status == StatusSucceeded
}

// Skipped reports whether the task never ran because a dependency did not succeed.
func (r Result[T]) Skipped() bool {
	return r.Status == StatusSkipped
}

// SkippedError explains why a task body was never invoked.
type SkippedError struct {
	TaskID   string
	Upstream string
}

func (e *SkippedError) Error() string {
	return fmt.Sprintf("task %q skipped due to upstream failure of %q", e.TaskID, e.Upstream)
}

func (e *SkippedError) Unwrap() error {
	return ErrUpstreamFailed
}
