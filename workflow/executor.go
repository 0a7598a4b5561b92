package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Gurpartap/promptgraph/agent"
	"github.com/Gurpartap/promptgraph/internal/ctxlog"
)

const DefaultMaxRounds = 8

var (
	ErrNilPlanner      = errors.New("planner is required")
	ErrNilAggregator   = errors.New("aggregator is required")
	ErrNoSolvers       = errors.New("at least one solver is required")
	ErrDuplicateSolver = errors.New("duplicate solver name")
	ErrUnknownSolver   = errors.New("unknown solver")
	ErrEmptyRequest    = errors.New("request is empty")
	ErrAggregation     = errors.New("aggregation failed")
)

// StopReason says why the loop stopped choosing solvers.
type StopReason string

const (
	StopFinalized    StopReason = "finalized"
	StopTerminalStep StopReason = "terminal_step"
	StopMaxRounds    StopReason = "max_rounds"
)

// ErrorKind classifies a recovered round failure.
type ErrorKind string

const (
	ErrorKindPlanning ErrorKind = "planning"
	ErrorKindSolver   ErrorKind = "solver"
)

// RoundError is a failure the loop recovered from. The round still counts
// toward the cap.
type RoundError struct {
	Round  int       `json:"round"`
	Kind   ErrorKind `json:"kind"`
	Solver string    `json:"solver,omitempty"`
	Err    error     `json:"-"`
}

func (e RoundError) Error() string {
	if e.Solver != "" {
		return fmt.Sprintf("round %d %s error (solver=%s): %v", e.Round, e.Kind, e.Solver, e.Err)
	}
	return fmt.Sprintf("round %d %s error: %v", e.Round, e.Kind, e.Err)
}

func (e RoundError) Unwrap() error {
	return e.Err
}

// Result is the outcome of one Solve call.
type Result struct {
	RunID     string
	Answer    string
	RawAnswer string
	State     *State
	Rounds    int
	Stop      StopReason
	Errors    []RoundError
	Elapsed   time.Duration
}

type Options struct {
	// MaxRounds bounds solver selections; zero means DefaultMaxRounds.
	MaxRounds int
	Events    agent.EventSink
}

// Executor owns a solver roster and drives the plan, solve, record loop.
type Executor struct {
	planner    Planner
	aggregator Aggregator
	solvers    map[string]Solver
	roster     []SolverInfo
	maxRounds  int
	events     agent.EventSink
}

func New(planner Planner, aggregator Aggregator, solvers []Solver, opts Options) (*Executor, error) {
	if planner == nil {
		return nil, ErrNilPlanner
	}
	if aggregator == nil {
		return nil, ErrNilAggregator
	}
	if len(solvers) == 0 {
		return nil, ErrNoSolvers
	}
	index := make(map[string]Solver, len(solvers))
	roster := make([]SolverInfo, 0, len(solvers))
	for _, solver := range solvers {
		if solver == nil {
			return nil, errors.New("solver is nil")
		}
		name := solver.Name()
		if _, exists := index[name]; exists {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateSolver, name)
		}
		index[name] = solver
		roster = append(roster, describeSolver(solver))
	}
	maxRounds := opts.MaxRounds
	if maxRounds <= 0 {
		maxRounds = DefaultMaxRounds
	}
	events := opts.Events
	if events == nil {
		events = agent.NoopEventSink{}
	}
	return &Executor{
		planner:    planner,
		aggregator: aggregator,
		solvers:    index,
		roster:     roster,
		maxRounds:  maxRounds,
		events:     events,
	}, nil
}

// Roster returns the solvers the planner may choose from.
func (e *Executor) Roster() []SolverInfo {
	out := make([]SolverInfo, len(e.roster))
	copy(out, e.roster)
	return out
}

func (e *Executor) MaxRounds() int {
	return e.maxRounds
}

// Solve runs rounds until the planner finalizes, a solver reports a terminal
// step, or MaxRounds is reached, then aggregates. Planning and solver failures
// are recorded in Result.Errors and consume their round. Cancellation and
// aggregation failures are returned as errors together with the partial result.
func (e *Executor) Solve(ctx context.Context, runID string, request string) (Result, error) {
	if ctx == nil {
		return Result{}, agent.ErrContextNil
	}
	if request == "" {
		return Result{}, ErrEmptyRequest
	}
	ctx = ctxlog.With(ctx, "run_id", runID)
	logger := ctxlog.FromContext(ctx)
	start := time.Now()
	state := NewState(request)
	result := Result{RunID: runID, State: state}
	e.publish(ctx, agent.Event{StreamID: runID, Type: agent.EventTypeWorkflowStarted, Description: request})

	for round := 1; ; round++ {
		if round > e.maxRounds {
			result.Stop = StopMaxRounds
			e.publish(ctx, agent.Event{StreamID: runID, Round: round - 1, Type: agent.EventTypeMaxRoundsReached})
			logger.Info("Workflow reached round cap.", "max_rounds", e.maxRounds)
			break
		}
		if err := ctx.Err(); err != nil {
			return e.cancelled(ctx, result, start, round, err)
		}
		result.Rounds = round

		decision, err := e.nextDecision(ctx, PlanRequest{
			Request: request,
			Round:   round,
			Solvers: e.Roster(),
			History: state.Records(),
		})
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return e.cancelled(ctx, result, start, round, ctxErr)
			}
			e.planningError(ctx, &result, round, err)
			continue
		}
		if err := ctx.Err(); err != nil {
			return e.cancelled(ctx, result, start, round, err)
		}
		if decision.Finalize {
			result.Rounds = round - 1
			result.Stop = StopFinalized
			break
		}
		solver, ok := e.solvers[decision.Solver]
		if !ok {
			e.planningError(ctx, &result, round, fmt.Errorf("%w: %q", ErrUnknownSolver, decision.Solver))
			continue
		}

		task := Task{ID: fmt.Sprintf("%s-%d", runID, round), Description: decision.SubTask}
		e.publish(ctx, agent.Event{
			StreamID:    runID,
			Round:       round,
			Type:        agent.EventTypeSolverSelected,
			Solver:      decision.Solver,
			SubTask:     decision.SubTask,
			Description: decision.Reason,
		})
		logger.Debug("Solver selected.", "round", round, "solver", decision.Solver)

		step, err := solveRound(ctx, solver, state, task)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return e.cancelled(ctx, result, start, round, ctxErr)
			}
			roundErr := RoundError{Round: round, Kind: ErrorKindSolver, Solver: decision.Solver, Err: err}
			result.Errors = append(result.Errors, roundErr)
			e.publish(ctx, agent.Event{
				StreamID:    runID,
				Round:       round,
				Type:        agent.EventTypeSolverError,
				Solver:      decision.Solver,
				Description: err.Error(),
			})
			logger.Warn("Solver failed.", "round", round, "solver", decision.Solver, "error", err)
			continue
		}

		state.append(Record{Round: round, Solver: decision.Solver, Task: task, Step: step})
		e.publish(ctx, agent.Event{
			StreamID: runID,
			Round:    round,
			Type:     agent.EventTypeSolverOutput,
			Solver:   decision.Solver,
			Output:   step.Output,
		})
		if step.Terminal {
			result.Stop = StopTerminalStep
			break
		}
	}

	if err := ctx.Err(); err != nil {
		return e.cancelled(ctx, result, start, result.Rounds, err)
	}
	raw, err := e.aggregate(ctx, request, state.Outputs())
	if err != nil {
		result.Elapsed = time.Since(start)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return e.cancelled(ctx, result, start, result.Rounds, ctxErr)
		}
		e.publish(ctx, agent.Event{StreamID: runID, Round: result.Rounds, Type: agent.EventTypeWorkflowFailed, Description: err.Error()})
		return result, fmt.Errorf("%w: %w", ErrAggregation, err)
	}
	result.RawAnswer = raw
	result.Answer = ExtractFinalAnswer(raw)
	result.Elapsed = time.Since(start)
	e.publish(ctx, agent.Event{StreamID: runID, Round: result.Rounds, Type: agent.EventTypeFinalAnswer, Output: result.Answer})
	logger.Info("Workflow finished.",
		"rounds", result.Rounds,
		"stop", result.Stop,
		"errors", len(result.Errors),
		"elapsed", result.Elapsed,
	)
	return result, nil
}

var ErrPanicked = errors.New("panicked")

func (e *Executor) nextDecision(ctx context.Context, req PlanRequest) (decision Decision, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			decision = Decision{}
			err = fmt.Errorf("planner %w: %v", ErrPanicked, recovered)
		}
	}()
	return e.planner.Next(ctx, req)
}

func solveRound(ctx context.Context, solver Solver, state *State, task Task) (step Step, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			step = Step{}
			err = fmt.Errorf("solver %q %w: %v", solver.Name(), ErrPanicked, recovered)
		}
	}()
	return solver.Solve(ctx, state, task)
}

func (e *Executor) aggregate(ctx context.Context, request string, outputs []string) (answer string, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			answer = ""
			err = fmt.Errorf("aggregator %w: %v", ErrPanicked, recovered)
		}
	}()
	return e.aggregator.Aggregate(ctx, request, outputs)
}

func (e *Executor) planningError(ctx context.Context, result *Result, round int, err error) {
	result.Errors = append(result.Errors, RoundError{Round: round, Kind: ErrorKindPlanning, Err: err})
	e.publish(ctx, agent.Event{
		StreamID:    result.RunID,
		Round:       round,
		Type:        agent.EventTypePlanningError,
		Description: err.Error(),
	})
	ctxlog.FromContext(ctx).Warn("Planning failed.", "round", round, "error", err)
}

func (e *Executor) cancelled(ctx context.Context, result Result, start time.Time, round int, err error) (Result, error) {
	result.Elapsed = time.Since(start)
	e.publish(context.WithoutCancel(ctx), agent.Event{
		StreamID:    result.RunID,
		Round:       max(round, 0),
		Type:        agent.EventTypeWorkflowCancelled,
		Description: err.Error(),
	})
	return result, err
}

func (e *Executor) publish(ctx context.Context, event agent.Event) {
	if err := e.events.Publish(ctx, event); err != nil {
		ctxlog.FromContext(ctx).Debug("Dropped workflow event.", "type", event.Type, "error", err)
	}
}
