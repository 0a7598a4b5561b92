package taskgraph

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

// Options tunes one Execute call.
type Options struct {
	// MaxParallel bounds concurrently running task bodies. Zero means unbounded.
	MaxParallel int
	// Monitor observes task lifecycle transitions. Nil means NoopMonitor.
	Monitor Monitor
}

type completion[T any] struct {
	result Result[T]
}

// Execute runs every task once its dependencies have resolved, returning one
// result per input task. The error return is reserved for invalid batches;
// task failures, skips, and cancellations are reported in the result map.
//
// A task whose dependency failed or was skipped resolves as skipped the moment
// that dependency resolves, and the skip cascades to its own dependents. Once
// ctx is done no new task is started; unstarted tasks resolve as cancelled.
func Execute[T any](ctx context.Context, tasks []Task[T], opts Options) (map[string]Result[T], error) {
	if err := Validate(tasks); err != nil {
		return nil, err
	}
	monitor := opts.Monitor
	if monitor == nil {
		monitor = NoopMonitor{}
	}

	g := newGraph(tasks)
	byID := make(map[string]Task[T], len(tasks))
	remaining := make(map[string]int, len(tasks))
	for _, task := range tasks {
		byID[task.ID] = task
		remaining[task.ID] = len(g.deps[task.ID])
	}

	results := make(map[string]Result[T], len(tasks))
	completions := make(chan completion[T], len(tasks))
	inFlight := 0

	var group errgroup.Group
	if opts.MaxParallel > 0 {
		group.SetLimit(opts.MaxParallel)
	}

	var resolve func(result Result[T])
	launch := func(task Task[T]) {
		if ctxErr := ctx.Err(); ctxErr != nil {
			resolve(Result[T]{TaskID: task.ID, Status: StatusCancelled, Err: ctxErr})
			return
		}
		inputs := make(Inputs[T], len(g.deps[task.ID]))
		for _, dep := range g.deps[task.ID] {
			inputs[dep] = results[dep]
		}
		inFlight++
		// Go blocks while MaxParallel bodies are running; completions is
		// buffered for the whole batch so running bodies never block on send.
		group.Go(func() error {
			completions <- completion[T]{result: runTask(ctx, task, inputs, monitor)}
			return nil
		})
	}

	resolve = func(result Result[T]) {
		queue := []Result[T]{result}
		for len(queue) > 0 {
			current := queue[0]
			queue = queue[1:]
			if _, done := results[current.TaskID]; done {
				continue
			}
			results[current.TaskID] = current
			if current.Status == StatusSkipped {
				monitor.TaskSkipped(ctx, current.TaskID, current.Err)
			}

			for _, dependent := range g.dependents[current.TaskID] {
				if _, done := results[dependent]; done {
					continue
				}
				switch current.Status {
				case StatusSucceeded:
					remaining[dependent]--
					if remaining[dependent] == 0 {
						launch(byID[dependent])
					}
				case StatusCancelled:
					queue = append(queue, Result[T]{TaskID: dependent, Status: StatusCancelled, Err: current.Err})
				default:
					queue = append(queue, Result[T]{
						TaskID: dependent,
						Status: StatusSkipped,
						Err:    &SkippedError{TaskID: dependent, Upstream: current.TaskID},
					})
				}
			}
		}
	}

	for _, id := range g.order {
		if remaining[id] == 0 {
			if _, done := results[id]; !done {
				launch(byID[id])
			}
		}
	}
	for inFlight > 0 {
		done := <-completions
		inFlight--
		resolve(done.result)
	}
	_ = group.Wait()

	return results, nil
}

func runTask[T any](ctx context.Context, task Task[T], inputs Inputs[T], monitor Monitor) (result Result[T]) {
	result = Result[T]{TaskID: task.ID, Started: time.Now()}
	monitor.TaskStarted(ctx, task.ID)
	defer func() {
		if recovered := recover(); recovered != nil {
			var zero T
			result.Value = zero
			result.Status = StatusFailed
			result.Err = fmt.Errorf("%w: task=%q: %v", ErrTaskPanicked, task.ID, recovered)
		}
		result.Duration = time.Since(result.Started)
		if result.Status == StatusSucceeded {
			monitor.TaskCompleted(ctx, task.ID, result.Duration)
		} else {
			monitor.TaskFailed(ctx, task.ID, result.Err)
		}
	}()

	value, err := task.Run(ctx, inputs)
	if err != nil {
		result.Status = StatusFailed
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			result.Status = StatusCancelled
		}
		result.Err = err
		return result
	}
	result.Status = StatusSucceeded
	result.Value = value
	return result
}
