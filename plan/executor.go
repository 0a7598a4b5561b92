package plan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/Gurpartap/promptgraph/agent"
	"github.com/Gurpartap/promptgraph/executable"
	"github.com/Gurpartap/promptgraph/internal/ctxlog"
	"github.com/Gurpartap/promptgraph/policy/retry"
	"github.com/Gurpartap/promptgraph/taskgraph"
)

// ErrNilRegistry is returned by NewExecutor without a registry.
var ErrNilRegistry = errors.New("plan registry is nil")

// Options tunes plan execution.
type Options struct {
	// MaxParallel bounds concurrently running steps. Zero means unbounded.
	MaxParallel int
	// Monitor observes step lifecycle transitions in addition to Events.
	Monitor taskgraph.Monitor
	// Events receives task events on a stream named after the plan.
	Events agent.EventSink
	// Retry is the policy for steps that declare Retry above one; the step's
	// Retry replaces MaxAttempts.
	Retry retry.Config
}

// StepResult is the outcome of one plan step, in plan order.
type StepResult struct {
	Index    int              `json:"index"`
	TaskID   string           `json:"task_id"`
	Tool     string           `json:"tool"`
	SaveAs   string           `json:"save_as,omitempty"`
	Status   taskgraph.Status `json:"status"`
	Output   json.RawMessage  `json:"output,omitempty"`
	Err      error            `json:"-"`
	Error    string           `json:"error,omitempty"`
	Duration time.Duration    `json:"duration"`
}

// Result holds every step outcome and the variables after the run.
type Result struct {
	PlanID string                     `json:"plan_id"`
	Steps  []StepResult               `json:"steps"`
	Vars   map[string]json.RawMessage `json:"vars"`
}

// Failed reports whether any step did not succeed.
func (r Result) Failed() bool {
	for _, step := range r.Steps {
		if step.Status != taskgraph.StatusSucceeded {
			return true
		}
	}
	return false
}

type Executor struct {
	registry *executable.Registry
	opts     Options
}

func NewExecutor(registry *executable.Registry, opts Options) (*Executor, error) {
	if registry == nil {
		return nil, ErrNilRegistry
	}
	return &Executor{registry: registry, opts: opts}, nil
}

// Execute validates p, runs it, and reports one result per step. The error
// return is reserved for plans that cannot run; step failures are data.
func (e *Executor) Execute(ctx context.Context, p Plan, ec *executable.ExecContext) (Result, error) {
	if ctx == nil {
		return Result{}, agent.ErrContextNil
	}
	if ec == nil {
		ec = executable.NewContext()
	}
	if err := Validate(p, e.registry, ec.VarNames()); err != nil {
		return Result{}, fmt.Errorf("validate plan: %w", err)
	}
	tasks, err := Compile(p, e.registry, ec, e.opts.Retry)
	if err != nil {
		return Result{}, err
	}

	streamID := p.ID
	if streamID == "" {
		streamID = ec.TraceID()
	}
	ctx = ctxlog.With(ctx, "plan_id", streamID)
	monitor := taskgraph.Monitors{
		taskgraph.LogMonitor{},
		taskgraph.EventMonitor{StreamID: streamID, Sink: e.opts.Events},
		e.opts.Monitor,
	}
	results, err := taskgraph.Execute(ctx, tasks, taskgraph.Options{
		MaxParallel: e.opts.MaxParallel,
		Monitor:     monitor,
	})
	if err != nil {
		return Result{}, fmt.Errorf("execute plan: %w", err)
	}

	for i, step := range p.Steps {
		if result := results[StepTaskID(i)]; step.SaveAs != "" && result.Status == taskgraph.StatusSucceeded {
			ec.Put(step.SaveAs, result.Value)
		}
	}
	out := Result{PlanID: streamID, Steps: make([]StepResult, len(p.Steps)), Vars: ec.Vars()}
	for i, step := range p.Steps {
		taskID := StepTaskID(i)
		result := results[taskID]
		stepResult := StepResult{
			Index:    i,
			TaskID:   taskID,
			Tool:     step.Tool,
			SaveAs:   step.SaveAs,
			Status:   result.Status,
			Output:   result.Value,
			Err:      result.Err,
			Duration: result.Duration,
		}
		if result.Err != nil {
			stepResult.Error = result.Err.Error()
		}
		out.Steps[i] = stepResult
	}
	ctxlog.FromContext(ctx).Info("Plan finished.", "steps", len(out.Steps), "failed", out.Failed())
	return out, nil
}

// StepTaskID names the task compiled from the step at index.
func StepTaskID(index int) string {
	return fmt.Sprintf("step-%d", index+1)
}

// Compile turns a plan into task graph tasks. A step depends on the earlier
// steps whose saveAs names it references; steps without such references have
// no dependencies and start immediately. Steps never write to ec while the
// graph runs: each step resolves its input from the variables ec held at
// compile time plus the outputs of its dependencies, and executes on a Fork.
// Execute merges saved outputs back into ec in plan order.
func Compile(p Plan, registry *executable.Registry, ec *executable.ExecContext, retryCfg retry.Config) ([]taskgraph.Task[json.RawMessage], error) {
	initial := ec.Vars()
	savedBy := make(map[string]int, len(p.Steps))
	tasks := make([]taskgraph.Task[json.RawMessage], 0, len(p.Steps))
	for i, step := range p.Steps {
		exec, ok := registry.Get(step.Tool)
		if !ok {
			return nil, fmt.Errorf("step=%d: %w: %q", i, ErrUnknownTool, step.Tool)
		}
		refs, err := References(step.Input)
		if err != nil {
			return nil, fmt.Errorf("step=%d: %w", i, err)
		}
		var deps []string
		upstream := make(map[string]string)
		for _, ref := range refs {
			j, ok := savedBy[ref]
			if !ok {
				continue
			}
			if _, seen := upstream[ref]; !seen {
				deps = append(deps, StepTaskID(j))
			}
			upstream[ref] = StepTaskID(j)
		}
		tasks = append(tasks, taskgraph.Task[json.RawMessage]{
			ID:          StepTaskID(i),
			Description: step.Tool,
			Deps:        deps,
			Run: stepRunner(stepEnv{
				step:     step,
				exec:     exec,
				ec:       ec,
				initial:  initial,
				upstream: upstream,
				retryCfg: retryCfg,
			}),
		})
		if step.SaveAs != "" {
			savedBy[step.SaveAs] = i
		}
	}
	return tasks, nil
}

type stepEnv struct {
	step    Step
	exec    executable.Executable
	ec      *executable.ExecContext
	initial map[string]json.RawMessage
	// upstream maps a referenced name to the task that saves it.
	upstream map[string]string
	retryCfg retry.Config
}

func stepRunner(env stepEnv) func(context.Context, taskgraph.Inputs[json.RawMessage]) (json.RawMessage, error) {
	step := env.step
	return func(ctx context.Context, inputs taskgraph.Inputs[json.RawMessage]) (json.RawMessage, error) {
		if step.TimeoutMs > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, time.Duration(step.TimeoutMs)*time.Millisecond)
			defer cancel()
		}
		branch := env.ec.Fork()
		vars := maps.Clone(env.initial)
		for name, taskID := range env.upstream {
			if value, ok := inputs.Value(taskID); ok {
				vars[name] = value
				branch.Put(name, value)
			}
		}
		input, err := ResolveRefs(step.Input, vars)
		if err != nil {
			return nil, fmt.Errorf("resolve input for %q: %w", step.Tool, err)
		}

		var output json.RawMessage
		if step.Retry > 1 {
			cfg := env.retryCfg
			cfg.MaxAttempts = step.Retry
			outcome := retry.Do(ctx, cfg, func(ctx context.Context, _ int) (json.RawMessage, error) {
				return executable.Run(ctx, env.exec, input, branch)
			})
			output, err = outcome.Value, outcome.Err
		} else {
			output, err = executable.Run(ctx, env.exec, input, branch)
		}
		if err != nil {
			if step.OnError != OnErrorContinue || errors.Is(err, context.Canceled) {
				return nil, err
			}
			ctxlog.FromContext(ctx).Warn("Plan step failed; continuing.", "tool", step.Tool, slog.Any("error", err))
			output, err = json.Marshal(map[string]string{"error": err.Error()})
			if err != nil {
				return nil, err
			}
		}
		return output, nil
	}
}
