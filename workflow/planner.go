package workflow

import "context"

// Decision is the planner's choice for one round: either a solver and the
// sub-task to give it, or Finalize.
type Decision struct {
	Finalize bool   `json:"finalize"`
	Solver   string `json:"solver,omitempty"`
	SubTask  string `json:"subtask,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// PlanRequest is everything a planner sees when choosing the next round.
type PlanRequest struct {
	Request string
	Round   int
	Solvers []SolverInfo
	History []Record
}

// Planner chooses the next solver or declares that enough is known.
type Planner interface {
	Next(ctx context.Context, request PlanRequest) (Decision, error)
}

// PlannerFunc adapts a function to Planner.
type PlannerFunc func(ctx context.Context, request PlanRequest) (Decision, error)

func (f PlannerFunc) Next(ctx context.Context, request PlanRequest) (Decision, error) {
	return f(ctx, request)
}

// Aggregator synthesizes the final answer from the request and every recorded
// output, ordered oldest first.
type Aggregator interface {
	Aggregate(ctx context.Context, request string, outputs []string) (string, error)
}

// AggregatorFunc adapts a function to Aggregator.
type AggregatorFunc func(ctx context.Context, request string, outputs []string) (string, error)

func (f AggregatorFunc) Aggregate(ctx context.Context, request string, outputs []string) (string, error) {
	return f(ctx, request, outputs)
}

// LastOutputAggregator answers with the most recent output.
type LastOutputAggregator struct{}

func (LastOutputAggregator) Aggregate(_ context.Context, _ string, outputs []string) (string, error) {
	if len(outputs) == 0 {
		return "", nil
	}
	return outputs[len(outputs)-1], nil
}

// SequentialPlanner runs every solver in roster order once, handing each the
// original request, then finalizes. It needs no model.
type SequentialPlanner struct{}

func (SequentialPlanner) Next(_ context.Context, request PlanRequest) (Decision, error) {
	used := make(map[string]bool, len(request.History))
	for _, record := range request.History {
		used[record.Solver] = true
	}
	for _, solver := range request.Solvers {
		if !used[solver.Name] {
			return Decision{Solver: solver.Name, SubTask: request.Request, Reason: "next in roster"}, nil
		}
	}
	return Decision{Finalize: true, Reason: "every solver has run"}, nil
}
