// Package modeltest provides deterministic model and planner doubles.
package modeltest

import (
	"context"
	"fmt"
	"sync"

	"github.com/Gurpartap/promptgraph/agent"
	"github.com/Gurpartap/promptgraph/workflow"
)

// Response configures one model turn in a scripted sequence.
type Response struct {
	Message agent.Message
	Err     error
}

// Text is shorthand for an assistant reply with content.
func Text(content string) Response {
	return Response{Message: agent.Message{Role: agent.RoleAssistant, Content: content}}
}

// Calls is shorthand for an assistant reply requesting tool calls.
func Calls(calls ...agent.ToolCall) Response {
	return Response{Message: agent.Message{Role: agent.RoleAssistant, ToolCalls: calls}}
}

// ScriptedModel is a deterministic model adapter for runtime tests.
type ScriptedModel struct {
	mu        sync.Mutex
	index     int
	responses []Response
	requests  []agent.ModelRequest
}

func NewScriptedModel(responses ...Response) *ScriptedModel {
	cloned := make([]Response, len(responses))
	copy(cloned, responses)
	return &ScriptedModel{
		responses: cloned,
	}
}

var _ agent.Model = (*ScriptedModel)(nil)

func (m *ScriptedModel) Generate(ctx context.Context, request agent.ModelRequest) (agent.Message, error) {
	if err := ctx.Err(); err != nil {
		return agent.Message{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	request.Messages = agent.CloneMessages(request.Messages)
	m.requests = append(m.requests, request)
	if m.index >= len(m.responses) {
		return agent.Message{}, fmt.Errorf("script exhausted at step %d", m.index+1)
	}
	current := m.responses[m.index]
	m.index++
	if current.Err != nil {
		return agent.Message{}, current.Err
	}
	msg := agent.CloneMessage(current.Message)
	if msg.Role == "" {
		msg.Role = agent.RoleAssistant
	}
	return msg, nil
}

// Requests returns every request the model received.
func (m *ScriptedModel) Requests() []agent.ModelRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]agent.ModelRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

func (m *ScriptedModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// ScriptedPlanner replays decisions in order and finalizes once the script
// runs out.
type ScriptedPlanner struct {
	mu        sync.Mutex
	decisions []PlannerStep
	calls     int
}

// PlannerStep configures one planner round.
type PlannerStep struct {
	Decision workflow.Decision
	Err      error
}

func Pick(solver, subtask string) PlannerStep {
	return PlannerStep{Decision: workflow.Decision{Solver: solver, SubTask: subtask}}
}

func Finalize() PlannerStep {
	return PlannerStep{Decision: workflow.Decision{Finalize: true}}
}

func NewScriptedPlanner(steps ...PlannerStep) *ScriptedPlanner {
	cloned := make([]PlannerStep, len(steps))
	copy(cloned, steps)
	return &ScriptedPlanner{decisions: cloned}
}

var _ workflow.Planner = (*ScriptedPlanner)(nil)

func (p *ScriptedPlanner) Next(ctx context.Context, _ workflow.PlanRequest) (workflow.Decision, error) {
	if err := ctx.Err(); err != nil {
		return workflow.Decision{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if len(p.decisions) == 0 {
		return workflow.Decision{Finalize: true}, nil
	}
	current := p.decisions[0]
	p.decisions = p.decisions[1:]
	return current.Decision, current.Err
}

func (p *ScriptedPlanner) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}
