// Package mocks provides the deterministic model used when the server runs
// without a provider.
package mocks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Gurpartap/promptgraph/agent"
)

// ErrMockFailure is returned for prompts containing the [fail] marker.
var ErrMockFailure = errors.New("mock model failure")

// Model is a deterministic mock model implementation. Markers in the latest
// user message select scripted behaviors:
//
//	[fail]          return ErrMockFailure
//	[sleep]         wait 150ms (honoring ctx) before answering
//	[loop]          call the first offered tool on every request
//	[tool]          call the first offered tool once, then report its result
//	[unknown-tool]  call a tool that does not exist, then report the error
type Model struct{}

var _ agent.Model = (*Model)(nil)

func NewModel() *Model {
	return &Model{}
}

func (m *Model) Generate(ctx context.Context, request agent.ModelRequest) (agent.Message, error) {
	if err := ctx.Err(); err != nil {
		return agent.Message{}, err
	}
	latestUser := latestUserMessage(request.Messages)
	latestUserLower := strings.ToLower(latestUser)

	if strings.Contains(latestUserLower, "[fail]") {
		return agent.Message{}, ErrMockFailure
	}
	if strings.Contains(latestUserLower, "[sleep]") {
		timer := time.NewTimer(150 * time.Millisecond)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return agent.Message{}, ctx.Err()
		case <-timer.C:
		}
	}
	if strings.Contains(latestUserLower, "[loop]") && len(request.Tools) > 0 {
		return toolCallMessage(fmt.Sprintf("call-loop-%d", len(request.Messages)), request.Tools[0].Name, "loop"), nil
	}
	if strings.Contains(latestUserLower, "[tool]") && len(request.Tools) > 0 {
		if result, ok := toolResultSinceLatestUser(request.Messages); ok {
			return agent.Message{Role: agent.RoleAssistant, Content: "tool result: " + result.Content}, nil
		}
		argument := strings.TrimSpace(strings.ReplaceAll(latestUser, "[tool]", ""))
		return toolCallMessage("call-tool-1", request.Tools[0].Name, argument), nil
	}
	if strings.Contains(latestUserLower, "[unknown-tool]") {
		if result, ok := toolResultSinceLatestUser(request.Messages); ok {
			return agent.Message{Role: agent.RoleAssistant, Content: "recovered from: " + result.Content}, nil
		}
		return toolCallMessage("call-unknown-1", "mock_missing_tool", "x"), nil
	}

	return agent.Message{
		Role:    agent.RoleAssistant,
		Content: deterministicContent(request),
	}, nil
}

// toolCallMessage fills the single string argument most starter tools take.
func toolCallMessage(callID, toolName, argument string) agent.Message {
	return agent.Message{
		Role: agent.RoleAssistant,
		ToolCalls: []agent.ToolCall{
			{
				ID:   callID,
				Name: toolName,
				Arguments: map[string]any{
					"message": argument,
				},
			},
		},
	}
}

func deterministicContent(request agent.ModelRequest) string {
	return fmt.Sprintf(
		"mock_response messages=%d tools=%d latest_user=%q",
		len(request.Messages),
		len(request.Tools),
		latestUserMessage(request.Messages),
	)
}

func latestUserMessage(messages []agent.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == agent.RoleUser {
			return messages[i].Content
		}
	}
	return ""
}

func toolResultSinceLatestUser(messages []agent.Message) (agent.Message, bool) {
	for i := len(messages) - 1; i >= 0; i-- {
		switch messages[i].Role {
		case agent.RoleUser:
			return agent.Message{}, false
		case agent.RoleTool:
			return messages[i], true
		}
	}
	return agent.Message{}, false
}
