package workflow_test

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/Gurpartap/promptgraph/adapters/modeltest"
	"github.com/Gurpartap/promptgraph/agent"
	eventinginmem "github.com/Gurpartap/promptgraph/eventing/inmem"
	"github.com/Gurpartap/promptgraph/workflow"
)

type countingSolver struct {
	name string
	mu   sync.Mutex
	n    int
	err  error
	term bool
}

func (s *countingSolver) Name() string              { return s.name }
func (s *countingSolver) Description() string       { return "solver " + s.name }
func (s *countingSolver) InputDescription() string  { return "" }
func (s *countingSolver) OutputDescription() string { return "" }

func (s *countingSolver) Solve(_ context.Context, _ *workflow.State, task workflow.Task) (workflow.Step, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	if s.err != nil {
		return workflow.Step{}, s.err
	}
	return workflow.Step{
		Input:    task.Description,
		Output:   fmt.Sprintf("%s#%d:%s", s.name, s.n, task.Description),
		Terminal: s.term,
	}, nil
}

func (s *countingSolver) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.n
}

type recordingAggregator struct {
	mu     sync.Mutex
	calls  int
	inputs [][]string
	reply  string
	err    error
}

func (a *recordingAggregator) Aggregate(_ context.Context, _ string, outputs []string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	a.inputs = append(a.inputs, slices.Clone(outputs))
	if a.err != nil {
		return "", a.err
	}
	if a.reply != "" {
		return a.reply, nil
	}
	return "```\n" + strings.Join(outputs, "|") + "\n```", nil
}

func newExecutor(t *testing.T, planner workflow.Planner, aggregator workflow.Aggregator, opts workflow.Options, solvers ...workflow.Solver) *workflow.Executor {
	t.Helper()
	executor, err := workflow.New(planner, aggregator, solvers, opts)
	if err != nil {
		t.Fatalf("new executor: %v", err)
	}
	return executor
}

func TestSolve_FinalizeAfterFirstRound(t *testing.T) {
	t.Parallel()

	research := &countingSolver{name: "research"}
	aggregator := &recordingAggregator{}
	planner := modeltest.NewScriptedPlanner(modeltest.Pick("research", "find facts"), modeltest.Finalize())
	executor := newExecutor(t, planner, aggregator, workflow.Options{}, research)

	result, err := executor.Solve(context.Background(), "run-1", "what is go?")
	if err != nil {
		t.Fatalf("solve: %v", err)
	}
	if result.State.Len() != 1 || research.calls() != 1 {
		t.Fatalf("unexpected records=%d calls=%d", result.State.Len(), research.calls())
	}
	if aggregator.calls != 1 {
		t.Fatalf("aggregator called %d times", aggregator.calls)
	}
	if result.Stop != workflow.StopFinalized || result.Rounds != 1 {
		t.Fatalf("unexpected stop=%s rounds=%d", result.Stop, result.Rounds)
	}
	if result.Answer != "research#1:find facts" {
		t.Fatalf("unexpected answer: %q", result.Answer)
	}
}

func TestSolve_RoundCapBoundsNeverFinalizingPlanner(t *testing.T) {
	t.Parallel()

	loop := &countingSolver{name: "loop"}
	aggregator := &recordingAggregator{}
	planner := workflow.PlannerFunc(func(context.Context, workflow.PlanRequest) (workflow.Decision, error) {
		return workflow.Decision{Solver: "loop", SubTask: "again"}, nil
	})
	sink := eventinginmem.New()
	executor := newExecutor(t, planner, aggregator, workflow.Options{MaxRounds: 10, Events: sink}, loop)

	result, err := executor.Solve(context.Background(), "run-cap", "never done")
	if err != nil {
		t.Fatalf("solve: %v", err)
	}
	if loop.calls() != 10 {
		t.Fatalf("expected 10 solver invocations, got %d", loop.calls())
	}
	if aggregator.calls != 1 || len(aggregator.inputs[0]) != 10 {
		t.Fatalf("unexpected aggregator calls=%d inputs=%v", aggregator.calls, aggregator.inputs)
	}
	if result.Stop != workflow.StopMaxRounds || result.Rounds != 10 {
		t.Fatalf("unexpected stop=%s rounds=%d", result.Stop, result.Rounds)
	}
	if !slices.Contains(sink.Types(), agent.EventTypeMaxRoundsReached) {
		t.Fatalf("missing max rounds event: %v", sink.Types())
	}
}

func TestSolve_DefaultRoundCap(t *testing.T) {
	t.Parallel()

	loop := &countingSolver{name: "loop"}
	planner := workflow.PlannerFunc(func(context.Context, workflow.PlanRequest) (workflow.Decision, error) {
		return workflow.Decision{Solver: "loop"}, nil
	})
	executor := newExecutor(t, planner, workflow.LastOutputAggregator{}, workflow.Options{}, loop)

	if _, err := executor.Solve(context.Background(), "run-default", "q"); err != nil {
		t.Fatalf("solve: %v", err)
	}
	if loop.calls() != workflow.DefaultMaxRounds {
		t.Fatalf("expected %d invocations, got %d", workflow.DefaultMaxRounds, loop.calls())
	}
}

func TestSolve_UnknownSolverIsRecoverablePlanningError(t *testing.T) {
	t.Parallel()

	known := &countingSolver{name: "known"}
	aggregator := &recordingAggregator{}
	planner := modeltest.NewScriptedPlanner(
		modeltest.Pick("ghost", "haunt"),
		modeltest.Pick("known", "work"),
		modeltest.Finalize(),
	)
	sink := eventinginmem.New()
	executor := newExecutor(t, planner, aggregator, workflow.Options{Events: sink}, known)

	result, err := executor.Solve(context.Background(), "run-2", "q")
	if err != nil {
		t.Fatalf("solve: %v", err)
	}
	if len(result.Errors) != 1 {
		t.Fatalf("expected one round error, got %v", result.Errors)
	}
	if result.Errors[0].Kind != workflow.ErrorKindPlanning || !errors.Is(result.Errors[0], workflow.ErrUnknownSolver) {
		t.Fatalf("unexpected round error: %v", result.Errors[0])
	}
	if known.calls() != 1 || result.State.Len() != 1 || result.State.Records()[0].Round != 2 {
		t.Fatalf("unexpected records: %+v", result.State.Records())
	}
	if !slices.Contains(sink.Types(), agent.EventTypePlanningError) {
		t.Fatalf("missing planning error event: %v", sink.Types())
	}
}

func TestSolve_PlannerAndSolverErrorsConsumeRounds(t *testing.T) {
	t.Parallel()

	broken := &countingSolver{name: "broken", err: errors.New("tool exploded")}
	aggregator := &recordingAggregator{}
	planner := modeltest.NewScriptedPlanner(
		modeltest.PlannerStep{Err: errors.New("unparseable")},
		modeltest.Pick("broken", "try"),
		modeltest.Pick("broken", "try again"),
	)
	executor := newExecutor(t, planner, aggregator, workflow.Options{MaxRounds: 3}, broken)

	result, err := executor.Solve(context.Background(), "run-3", "q")
	if err != nil {
		t.Fatalf("solve: %v", err)
	}
	kinds := make([]workflow.ErrorKind, 0, len(result.Errors))
	for _, roundErr := range result.Errors {
		kinds = append(kinds, roundErr.Kind)
	}
	want := []workflow.ErrorKind{workflow.ErrorKindPlanning, workflow.ErrorKindSolver, workflow.ErrorKindSolver}
	if diff := cmp.Diff(want, kinds); diff != "" {
		t.Fatalf("unexpected error kinds (-want +got):\n%s", diff)
	}
	if result.Stop != workflow.StopMaxRounds || result.State.Len() != 0 {
		t.Fatalf("unexpected stop=%s records=%d", result.Stop, result.State.Len())
	}
	if aggregator.calls != 1 || len(aggregator.inputs[0]) != 0 {
		t.Fatalf("aggregator must run once with no outputs: %+v", aggregator.inputs)
	}
}

func TestSolve_TerminalStepStopsLoop(t *testing.T) {
	t.Parallel()

	first := &countingSolver{name: "first"}
	checker := &countingSolver{name: "checker", term: true}
	planner := workflow.PlannerFunc(func(_ context.Context, request workflow.PlanRequest) (workflow.Decision, error) {
		if request.Round == 1 {
			return workflow.Decision{Solver: "first", SubTask: "draft"}, nil
		}
		return workflow.Decision{Solver: "checker", SubTask: "check"}, nil
	})
	executor := newExecutor(t, planner, workflow.LastOutputAggregator{}, workflow.Options{MaxRounds: 5}, first, checker)

	result, err := executor.Solve(context.Background(), "run-4", "q")
	if err != nil {
		t.Fatalf("solve: %v", err)
	}
	if result.Stop != workflow.StopTerminalStep || result.Rounds != 2 {
		t.Fatalf("unexpected stop=%s rounds=%d", result.Stop, result.Rounds)
	}
	if result.Answer != "checker#1:check" {
		t.Fatalf("unexpected answer: %q", result.Answer)
	}
}

func TestSolve_PlannerSeesHistoryAndRoster(t *testing.T) {
	t.Parallel()

	a := &countingSolver{name: "a"}
	b := &countingSolver{name: "b"}
	var seen []workflow.PlanRequest
	planner := workflow.PlannerFunc(func(_ context.Context, request workflow.PlanRequest) (workflow.Decision, error) {
		seen = append(seen, request)
		switch request.Round {
		case 1:
			return workflow.Decision{Solver: "a", SubTask: "one"}, nil
		case 2:
			return workflow.Decision{Solver: "b", SubTask: "two"}, nil
		case 3:
			return workflow.Decision{Solver: "a", SubTask: "three"}, nil
		}
		return workflow.Decision{Finalize: true}, nil
	})
	executor := newExecutor(t, planner, workflow.LastOutputAggregator{}, workflow.Options{}, a, b)

	result, err := executor.Solve(context.Background(), "run-5", "q")
	if err != nil {
		t.Fatalf("solve: %v", err)
	}
	if len(seen) != 4 || len(seen[3].History) != 3 || len(seen[0].Solvers) != 2 {
		t.Fatalf("unexpected planner view: %+v", seen)
	}
	history := result.State.History("a")
	if len(history) != 2 || history[0].Task.Description != "one" || history[1].Task.Description != "three" {
		t.Fatalf("unexpected history for a: %+v", history)
	}
	if diff := cmp.Diff([]string{"a", "b"}, result.State.Solvers()); diff != "" {
		t.Fatalf("unexpected solver order (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"a#1:one", "b#1:two", "a#2:three"}, result.State.Outputs()); diff != "" {
		t.Fatalf("unexpected outputs (-want +got):\n%s", diff)
	}
}

func TestSolve_AggregatorFailureIsReturned(t *testing.T) {
	t.Parallel()

	solver := &countingSolver{name: "s"}
	aggregator := &recordingAggregator{err: errors.New("model down")}
	planner := modeltest.NewScriptedPlanner(modeltest.Pick("s", "x"))
	executor := newExecutor(t, planner, aggregator, workflow.Options{}, solver)

	result, err := executor.Solve(context.Background(), "run-6", "q")
	if !errors.Is(err, workflow.ErrAggregation) {
		t.Fatalf("expected ErrAggregation, got %v", err)
	}
	if result.State == nil || result.State.Len() != 1 {
		t.Fatalf("partial state must be returned: %+v", result)
	}
}

func TestSolve_CancellationStopsBeforeNextRound(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	solver := &countingSolver{name: "s"}
	aggregator := &recordingAggregator{}
	planner := workflow.PlannerFunc(func(_ context.Context, request workflow.PlanRequest) (workflow.Decision, error) {
		if request.Round == 2 {
			cancel()
		}
		return workflow.Decision{Solver: "s"}, nil
	})
	sink := eventinginmem.New()
	executor := newExecutor(t, planner, aggregator, workflow.Options{Events: sink}, solver)

	_, err := executor.Solve(ctx, "run-7", "q")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if solver.calls() > 2 {
		t.Fatalf("solver kept running after cancellation: %d", solver.calls())
	}
	if aggregator.calls != 0 {
		t.Fatalf("aggregator must not run after cancellation")
	}
	types := sink.Types()
	if types[len(types)-1] != agent.EventTypeWorkflowCancelled {
		t.Fatalf("expected trailing cancellation event: %v", types)
	}
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	solver := &countingSolver{name: "s"}
	planner := modeltest.NewScriptedPlanner()
	tests := []struct {
		name       string
		planner    workflow.Planner
		aggregator workflow.Aggregator
		solvers    []workflow.Solver
		want       error
	}{
		{name: "nil planner", aggregator: workflow.LastOutputAggregator{}, solvers: []workflow.Solver{solver}, want: workflow.ErrNilPlanner},
		{name: "nil aggregator", planner: planner, solvers: []workflow.Solver{solver}, want: workflow.ErrNilAggregator},
		{name: "no solvers", planner: planner, aggregator: workflow.LastOutputAggregator{}, want: workflow.ErrNoSolvers},
		{name: "duplicate", planner: planner, aggregator: workflow.LastOutputAggregator{}, solvers: []workflow.Solver{solver, solver}, want: workflow.ErrDuplicateSolver},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := workflow.New(tc.planner, tc.aggregator, tc.solvers, workflow.Options{})
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestSolve_RejectsEmptyRequest(t *testing.T) {
	t.Parallel()

	executor := newExecutor(t, modeltest.NewScriptedPlanner(), workflow.LastOutputAggregator{}, workflow.Options{}, &countingSolver{name: "s"})
	if _, err := executor.Solve(context.Background(), "run-8", ""); !errors.Is(err, workflow.ErrEmptyRequest) {
		t.Fatalf("expected ErrEmptyRequest, got %v", err)
	}
}

func TestSequentialPlanner_RunsEachSolverOnceInRosterOrder(t *testing.T) {
	t.Parallel()

	first := &countingSolver{name: "first"}
	second := &countingSolver{name: "second"}
	executor, err := workflow.New(workflow.SequentialPlanner{}, workflow.LastOutputAggregator{}, []workflow.Solver{first, second}, workflow.Options{})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	result, err := executor.Solve(context.Background(), "run-seq", "compute")
	if err != nil {
		t.Fatalf("Solve returned error: %v", err)
	}
	if result.Stop != workflow.StopFinalized {
		t.Fatalf("stop = %q, want %q", result.Stop, workflow.StopFinalized)
	}
	if got := result.State.Solvers(); !slices.Equal(got, []string{"first", "second"}) {
		t.Fatalf("solver order = %v", got)
	}
	if result.Answer != "second#1:compute" {
		t.Fatalf("answer = %q", result.Answer)
	}
	if first.calls() != 1 || second.calls() != 1 {
		t.Fatalf("calls = %d/%d, want 1/1", first.calls(), second.calls())
	}
}

func TestSolve_RecoversSolverPanics(t *testing.T) {
	t.Parallel()

	exploding := workflow.SolverFunc(workflow.SolverInfo{Name: "boom"}, func(context.Context, *workflow.State, workflow.Task) (workflow.Step, error) {
		panic("solver exploded")
	})
	executor := newExecutor(t, workflow.SequentialPlanner{}, workflow.LastOutputAggregator{}, workflow.Options{MaxRounds: 2}, exploding)

	result, err := executor.Solve(context.Background(), "run-panic", "q")
	if err != nil {
		t.Fatalf("solve: %v", err)
	}
	if result.Stop != workflow.StopMaxRounds || len(result.Errors) != 2 {
		t.Fatalf("unexpected result: stop=%s errors=%v", result.Stop, result.Errors)
	}
	for _, roundErr := range result.Errors {
		if roundErr.Kind != workflow.ErrorKindSolver || !errors.Is(roundErr, workflow.ErrPanicked) {
			t.Fatalf("expected recovered solver panic, got %v", roundErr)
		}
		if !strings.Contains(roundErr.Error(), "solver exploded") {
			t.Fatalf("panic value missing from %q", roundErr.Error())
		}
	}
}

func TestSolve_ChatSolverWithoutModelIsRoundError(t *testing.T) {
	t.Parallel()

	solver := &workflow.ChatSolver{Info: workflow.SolverInfo{Name: "chat"}}
	executor := newExecutor(t, workflow.SequentialPlanner{}, workflow.LastOutputAggregator{}, workflow.Options{MaxRounds: 1}, solver)

	result, err := executor.Solve(context.Background(), "run-nil-model", "q")
	if err != nil {
		t.Fatalf("solve: %v", err)
	}
	if len(result.Errors) != 1 || !errors.Is(result.Errors[0], agent.ErrModelNil) {
		t.Fatalf("expected ErrModelNil round error, got %v", result.Errors)
	}
}

func TestSolve_RecoversPlannerAndAggregatorPanics(t *testing.T) {
	t.Parallel()

	solver := &countingSolver{name: "s"}
	planner := workflow.PlannerFunc(func(_ context.Context, request workflow.PlanRequest) (workflow.Decision, error) {
		if request.Round == 1 {
			panic("planner exploded")
		}
		return workflow.Decision{Finalize: true}, nil
	})
	aggregator := workflow.AggregatorFunc(func(context.Context, string, []string) (string, error) {
		panic("aggregator exploded")
	})
	executor := newExecutor(t, planner, aggregator, workflow.Options{MaxRounds: 3}, solver)

	result, err := executor.Solve(context.Background(), "run-planner-panic", "q")
	if !errors.Is(err, workflow.ErrAggregation) || !errors.Is(err, workflow.ErrPanicked) {
		t.Fatalf("expected recovered aggregator panic, got %v", err)
	}
	if len(result.Errors) != 1 || result.Errors[0].Kind != workflow.ErrorKindPlanning || !errors.Is(result.Errors[0], workflow.ErrPanicked) {
		t.Fatalf("expected recovered planning panic, got %v", result.Errors)
	}
	if solver.calls() != 0 {
		t.Fatalf("solver should not run, calls=%d", solver.calls())
	}
}
