// Package retry wraps single units of work with bounded, opt-in retries.
package retry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/Gurpartap/promptgraph/agent"
	"github.com/Gurpartap/promptgraph/executable"
	"github.com/Gurpartap/promptgraph/internal/ctxlog"
	"github.com/Gurpartap/promptgraph/taskgraph"
	"github.com/Gurpartap/promptgraph/workflow"
)

const (
	DefaultMaxAttempts  = 3
	DefaultInitialDelay = time.Second
	DefaultBackoff      = 1.5
)

// Config controls retry behavior for one call site.
type Config struct {
	MaxAttempts int
	// InitialDelay is the pause before the second attempt. Zero retries immediately.
	InitialDelay time.Duration
	// Backoff multiplies the delay after every failed attempt. Values below 1 keep it constant.
	Backoff float64
	// MaxDelay caps the computed delay. Zero means uncapped.
	MaxDelay    time.Duration
	ShouldRetry func(error) bool
}

// Default returns three attempts with a one second delay growing by half each time.
func Default() Config {
	return Config{
		MaxAttempts:  DefaultMaxAttempts,
		InitialDelay: DefaultInitialDelay,
		Backoff:      DefaultBackoff,
	}
}

// Outcome reports the value or final error of a retried operation together
// with its timing.
type Outcome[T any] struct {
	Value    T
	Err      error
	Attempts int
	// FirstAttempt is the latency of the first attempt alone.
	FirstAttempt time.Duration
	// Total spans every attempt and every delay between them.
	Total time.Duration
}

// AttemptsError is the final failure of a retried operation.
type AttemptsError struct {
	Attempts int
	Err      error
}

func (e *AttemptsError) Error() string {
	return fmt.Sprintf("after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *AttemptsError) Unwrap() error {
	return e.Err
}

// Do runs op until it succeeds, attempts are exhausted, ShouldRetry declines,
// or ctx is done. op receives the 1-based attempt number.
func Do[T any](ctx context.Context, cfg Config, op func(ctx context.Context, attempt int) (T, error)) Outcome[T] {
	var out Outcome[T]
	if ctx == nil {
		out.Err = agent.ErrContextNil
		return out
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		out.Err = ctxErr
		return out
	}

	logger := ctxlog.FromContext(ctx)
	attempts := normalizedAttempts(cfg.MaxAttempts)
	start := time.Now()
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		attemptStart := time.Now()
		value, err := op(ctx, attempt)
		if attempt == 1 {
			out.FirstAttempt = time.Since(attemptStart)
		}
		out.Attempts = attempt
		if err == nil {
			out.Value = value
			out.Total = time.Since(start)
			return out
		}
		lastErr = err
		if attempt == attempts || !shouldRetry(ctx, cfg, err) {
			break
		}
		delay := delayBefore(cfg, attempt+1)
		logger.Debug("Retrying after failure.", "attempt", attempt, "delay", delay, slog.Any("error", err))
		if !sleep(ctx, delay) {
			break
		}
	}
	out.Total = time.Since(start)
	out.Err = &AttemptsError{Attempts: out.Attempts, Err: lastErr}
	return out
}

func normalizedAttempts(maxAttempts int) int {
	if maxAttempts < 1 {
		return 1
	}
	return maxAttempts
}

func shouldRetry(ctx context.Context, cfg Config, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if cfg.ShouldRetry == nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return false
		}
		return true
	}
	return cfg.ShouldRetry(err)
}

// delayBefore returns the pause preceding the given attempt (2 or later).
func delayBefore(cfg Config, attempt int) time.Duration {
	if cfg.InitialDelay <= 0 {
		return 0
	}
	factor := cfg.Backoff
	if factor < 1 {
		factor = 1
	}
	delay := float64(cfg.InitialDelay) * math.Pow(factor, float64(attempt-2))
	if cfg.MaxDelay > 0 && delay > float64(cfg.MaxDelay) {
		return cfg.MaxDelay
	}
	return time.Duration(delay)
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// WrapModel wraps a model with error-only retries.
func WrapModel(model agent.Model, cfg Config) agent.Model {
	if model == nil {
		return nil
	}
	return agent.ModelFunc(func(ctx context.Context, request agent.ModelRequest) (agent.Message, error) {
		outcome := Do(ctx, cfg, func(ctx context.Context, _ int) (agent.Message, error) {
			return model.Generate(ctx, request)
		})
		return outcome.Value, outcome.Err
	})
}

// WrapExecutable returns an executable that retries e. Only wrap executables
// that are safe to run more than once.
func WrapExecutable(e executable.Executable, cfg Config) executable.Executable {
	if e == nil {
		return nil
	}
	return &retryingExecutable{Executable: e, cfg: cfg}
}

type retryingExecutable struct {
	executable.Executable
	cfg Config
}

func (r *retryingExecutable) Execute(ctx context.Context, input json.RawMessage, ec *executable.ExecContext) (json.RawMessage, error) {
	outcome := Do(ctx, r.cfg, func(ctx context.Context, _ int) (json.RawMessage, error) {
		return executable.Run(ctx, r.Executable, input, ec)
	})
	return outcome.Value, outcome.Err
}

// Task returns a copy of task whose body is retried.
func Task[T any](task taskgraph.Task[T], cfg Config) taskgraph.Task[T] {
	run := task.Run
	if run == nil {
		return task
	}
	task.Run = func(ctx context.Context, inputs taskgraph.Inputs[T]) (T, error) {
		outcome := Do(ctx, cfg, func(ctx context.Context, _ int) (T, error) {
			return run(ctx, inputs)
		})
		return outcome.Value, outcome.Err
	}
	return task
}

// WrapPlanner retries planner failures before the loop records a planning error.
func WrapPlanner(planner workflow.Planner, cfg Config) workflow.Planner {
	if planner == nil {
		return nil
	}
	return workflow.PlannerFunc(func(ctx context.Context, request workflow.PlanRequest) (workflow.Decision, error) {
		outcome := Do(ctx, cfg, func(ctx context.Context, _ int) (workflow.Decision, error) {
			return planner.Next(ctx, request)
		})
		return outcome.Value, outcome.Err
	})
}

// WrapSolver retries one solver. The step elapsed time covers every attempt.
func WrapSolver(solver workflow.Solver, cfg Config) workflow.Solver {
	if solver == nil {
		return nil
	}
	return &retryingSolver{Solver: solver, cfg: cfg}
}

type retryingSolver struct {
	workflow.Solver
	cfg Config
}

func (r *retryingSolver) Solve(ctx context.Context, state *workflow.State, task workflow.Task) (workflow.Step, error) {
	outcome := Do(ctx, r.cfg, func(ctx context.Context, _ int) (workflow.Step, error) {
		return r.Solver.Solve(ctx, state, task)
	})
	if outcome.Err != nil {
		return workflow.Step{}, outcome.Err
	}
	step := outcome.Value
	step.Elapsed = outcome.Total
	return step, nil
}
