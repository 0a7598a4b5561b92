package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Gurpartap/promptgraph/executable"
)

// Solver performs one round of work toward the request.
type Solver interface {
	Name() string
	// Description tells the planner when to use the solver.
	Description() string
	InputDescription() string
	OutputDescription() string
	Solve(ctx context.Context, state *State, task Task) (Step, error)
}

// SolverInfo is the catalog entry a planner sees for one solver.
type SolverInfo struct {
	Name              string `json:"name"`
	Description       string `json:"description"`
	InputDescription  string `json:"input_description,omitempty"`
	OutputDescription string `json:"output_description,omitempty"`
}

func describeSolver(s Solver) SolverInfo {
	return SolverInfo{
		Name:              s.Name(),
		Description:       s.Description(),
		InputDescription:  s.InputDescription(),
		OutputDescription: s.OutputDescription(),
	}
}

// ExecutableSolver adapts a registry executable to the Solver contract. The
// executable receives {"request", "task", "previous"} and its output becomes
// the step output; JSON strings are unquoted.
type ExecutableSolver struct {
	exec executable.Executable
	ec   *executable.ExecContext
}

var _ Solver = (*ExecutableSolver)(nil)

// NewExecutableSolver wraps e. Every solve runs with a fork of ec so rounds
// cannot leak variables into each other.
func NewExecutableSolver(e executable.Executable, ec *executable.ExecContext) (*ExecutableSolver, error) {
	if e == nil {
		return nil, executable.ErrNilExecutable
	}
	if ec == nil {
		ec = executable.NewContext()
	}
	return &ExecutableSolver{exec: e, ec: ec}, nil
}

// SolversFromRegistry adapts every executable in registry.
func SolversFromRegistry(registry *executable.Registry, ec *executable.ExecContext) []Solver {
	execs := registry.List()
	out := make([]Solver, 0, len(execs))
	for _, e := range execs {
		solver, err := NewExecutableSolver(e, ec)
		if err != nil {
			continue
		}
		out = append(out, solver)
	}
	return out
}

func (s *ExecutableSolver) Name() string        { return s.exec.Name() }
func (s *ExecutableSolver) Description() string { return s.exec.Description() }

func (s *ExecutableSolver) InputDescription() string {
	return string(s.exec.InputSchema())
}

func (s *ExecutableSolver) OutputDescription() string {
	return string(s.exec.OutputSchema())
}

type executableSolverInput struct {
	Request  string   `json:"request"`
	Task     string   `json:"task"`
	Previous []string `json:"previous,omitempty"`
}

func (s *ExecutableSolver) Solve(ctx context.Context, state *State, task Task) (Step, error) {
	start := time.Now()
	input, err := json.Marshal(executableSolverInput{
		Request:  state.Request(),
		Task:     task.Description,
		Previous: state.Outputs(),
	})
	if err != nil {
		return Step{}, fmt.Errorf("encode solver input: %w", err)
	}
	output, err := executable.Run(ctx, s.exec, input, s.ec.Fork())
	if err != nil {
		return Step{}, err
	}
	return Step{
		Input:   string(input),
		Output:  outputText(output),
		Elapsed: time.Since(start),
	}, nil
}

func outputText(raw json.RawMessage) string {
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text
	}
	return strings.TrimSpace(string(raw))
}

// SolverFunc builds a Solver from a description and a body.
func SolverFunc(info SolverInfo, solve func(ctx context.Context, state *State, task Task) (Step, error)) Solver {
	return &funcSolver{info: info, solve: solve}
}

type funcSolver struct {
	info  SolverInfo
	solve func(ctx context.Context, state *State, task Task) (Step, error)
}

func (f *funcSolver) Name() string              { return f.info.Name }
func (f *funcSolver) Description() string       { return f.info.Description }
func (f *funcSolver) InputDescription() string  { return f.info.InputDescription }
func (f *funcSolver) OutputDescription() string { return f.info.OutputDescription }

func (f *funcSolver) Solve(ctx context.Context, state *State, task Task) (Step, error) {
	if f.solve == nil {
		return Step{}, errors.New("solver has no body")
	}
	return f.solve(ctx, state, task)
}
