package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Gurpartap/promptgraph/agent"
)

var ErrUnparseableDecision = errors.New("planner reply is not a decision")

const plannerInstructions = `You coordinate a team of solvers to answer a user request.
Pick the one solver that should act next and the sub-task it should perform,
or finalize when the collected outputs already answer the request.
Reply with a single fenced JSON object:
` + "```json" + `
{"finalize": false, "solver": "<solver name>", "subtask": "<what the solver should do>", "reason": "<short reason>"}
` + "```"

const aggregatorInstructions = `You write the final answer to a user request from the outputs of several solvers.
Outputs are listed oldest first; later outputs are usually more complete.
Put the final answer inside a fenced block:
` + "```" + `
<final answer>
` + "```"

// ChatPlanner asks a chat model for the next Decision.
type ChatPlanner struct {
	Model       agent.Model
	ModelID     string
	Temperature float64
}

var _ Planner = (*ChatPlanner)(nil)

func (p *ChatPlanner) Next(ctx context.Context, request PlanRequest) (Decision, error) {
	if p == nil || p.Model == nil {
		return Decision{}, errors.New("chat planner model is required")
	}
	reply, err := p.Model.Generate(ctx, agent.ModelRequest{
		ModelID:     p.ModelID,
		Temperature: p.Temperature,
		Messages: []agent.Message{
			{Role: agent.RoleSystem, Content: plannerInstructions},
			{Role: agent.RoleUser, Content: renderPlanPrompt(request)},
		},
	})
	if err != nil {
		return Decision{}, err
	}
	return ParseDecision(reply.Content)
}

// ParseDecision reads a Decision from a model reply, fenced or bare.
func ParseDecision(reply string) (Decision, error) {
	body := ExtractFinalAnswer(reply)
	if start := strings.IndexByte(body, '{'); start >= 0 {
		if end := strings.LastIndexByte(body, '}'); end > start {
			body = body[start : end+1]
		}
	}
	var decision Decision
	if err := json.Unmarshal([]byte(body), &decision); err != nil {
		return Decision{}, fmt.Errorf("%w: %w", ErrUnparseableDecision, err)
	}
	if !decision.Finalize && decision.Solver == "" {
		return Decision{}, fmt.Errorf("%w: solver is empty", ErrUnparseableDecision)
	}
	return decision, nil
}

func renderPlanPrompt(request PlanRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Request:\n%s\n\nSolvers:\n", request.Request)
	for _, solver := range request.Solvers {
		fmt.Fprintf(&b, "- %s: %s\n", solver.Name, solver.Description)
		if solver.InputDescription != "" {
			fmt.Fprintf(&b, "  input: %s\n", solver.InputDescription)
		}
		if solver.OutputDescription != "" {
			fmt.Fprintf(&b, "  output: %s\n", solver.OutputDescription)
		}
	}
	if len(request.History) == 0 {
		b.WriteString("\nNo solver has run yet.\n")
	} else {
		b.WriteString("\nCompleted rounds:\n")
		for _, record := range request.History {
			fmt.Fprintf(&b, "%d. %s (%s): %s\n", record.Round, record.Solver, record.Task.Description, record.Output)
		}
	}
	fmt.Fprintf(&b, "\nThis is round %d.", request.Round)
	return b.String()
}

// ChatAggregator asks a chat model to synthesize the final answer.
type ChatAggregator struct {
	Model       agent.Model
	ModelID     string
	Temperature float64
}

var _ Aggregator = (*ChatAggregator)(nil)

func (a *ChatAggregator) Aggregate(ctx context.Context, request string, outputs []string) (string, error) {
	if a == nil || a.Model == nil {
		return "", errors.New("chat aggregator model is required")
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Request:\n%s\n\nSolver outputs:\n", request)
	if len(outputs) == 0 {
		b.WriteString("(none)\n")
	}
	for i, output := range outputs {
		fmt.Fprintf(&b, "[%d]\n%s\n\n", i+1, output)
	}
	reply, err := a.Model.Generate(ctx, agent.ModelRequest{
		ModelID:     a.ModelID,
		Temperature: a.Temperature,
		Messages: []agent.Message{
			{Role: agent.RoleSystem, Content: aggregatorInstructions},
			{Role: agent.RoleUser, Content: b.String()},
		},
	})
	if err != nil {
		return "", err
	}
	return reply.Content, nil
}

// ChatSolver is a solver backed by a chat model and a fixed system prompt.
type ChatSolver struct {
	Info         SolverInfo
	SystemPrompt string
	Model        agent.Model
	ModelID      string
	Temperature  float64
}

var _ Solver = (*ChatSolver)(nil)

func (s *ChatSolver) Name() string              { return s.Info.Name }
func (s *ChatSolver) Description() string       { return s.Info.Description }
func (s *ChatSolver) InputDescription() string  { return s.Info.InputDescription }
func (s *ChatSolver) OutputDescription() string { return s.Info.OutputDescription }

func (s *ChatSolver) Solve(ctx context.Context, state *State, task Task) (Step, error) {
	if s.Model == nil {
		return Step{}, fmt.Errorf("solver %q: %w", s.Info.Name, agent.ErrModelNil)
	}
	start := time.Now()
	var b strings.Builder
	fmt.Fprintf(&b, "Request:\n%s\n\nYour task:\n%s\n", state.Request(), task.Description)
	if previous := state.History(s.Info.Name); len(previous) > 0 {
		b.WriteString("\nYour previous outputs:\n")
		for _, record := range previous {
			fmt.Fprintf(&b, "- %s\n", record.Output)
		}
	}
	input := b.String()
	reply, err := s.Model.Generate(ctx, agent.ModelRequest{
		ModelID:     s.ModelID,
		Temperature: s.Temperature,
		Messages: []agent.Message{
			{Role: agent.RoleSystem, Content: s.SystemPrompt},
			{Role: agent.RoleUser, Content: input},
		},
	})
	if err != nil {
		return Step{}, err
	}
	return Step{Input: input, Output: reply.Content, Elapsed: time.Since(start)}, nil
}

// ValidityCheck is the verdict of a ChatValidator.
type ValidityCheck struct {
	Answered  bool   `json:"is_request_answered"`
	Rationale string `json:"rationale"`
}

// ChatValidator is a terminal-capable solver: it asks a model whether the
// outputs so far answer the request and marks its step terminal when they do.
type ChatValidator struct {
	Model   agent.Model
	ModelID string
}

var _ Solver = (*ChatValidator)(nil)

func (v *ChatValidator) Name() string { return "final_validity" }

func (v *ChatValidator) Description() string {
	return "Checks whether the outputs collected so far fully answer the request."
}

func (v *ChatValidator) InputDescription() string { return "the request and all solver outputs" }

func (v *ChatValidator) OutputDescription() string {
	return `{"is_request_answered": bool, "rationale": string}`
}

func (v *ChatValidator) Solve(ctx context.Context, state *State, _ Task) (Step, error) {
	if v.Model == nil {
		return Step{}, fmt.Errorf("solver %q: %w", v.Name(), agent.ErrModelNil)
	}
	start := time.Now()
	var b strings.Builder
	fmt.Fprintf(&b, "Request:\n%s\n\nOutputs so far:\n", state.Request())
	for _, output := range state.Outputs() {
		fmt.Fprintf(&b, "- %s\n", output)
	}
	b.WriteString("\nReply with a fenced JSON object " + v.OutputDescription() + ".")
	input := b.String()
	reply, err := v.Model.Generate(ctx, agent.ModelRequest{
		ModelID:  v.ModelID,
		Messages: []agent.Message{{Role: agent.RoleUser, Content: input}},
	})
	if err != nil {
		return Step{}, err
	}
	var check ValidityCheck
	if err := json.Unmarshal([]byte(ExtractFinalAnswer(reply.Content)), &check); err != nil {
		return Step{}, fmt.Errorf("decode validity check: %w", err)
	}
	return Step{
		Input:    input,
		Output:   check.Rationale,
		Elapsed:  time.Since(start),
		Terminal: check.Answered,
	}, nil
}
