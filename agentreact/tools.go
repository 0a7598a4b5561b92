package agentreact

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/Gurpartap/promptgraph/agent"
	"github.com/Gurpartap/promptgraph/executable"
)

// ToolDefinitions describes every executable in registry as a model tool.
func ToolDefinitions(registry *executable.Registry) []agent.ToolDefinition {
	execs := registry.List()
	out := make([]agent.ToolDefinition, 0, len(execs))
	for _, e := range execs {
		out = append(out, agent.ToolDefinition{
			Name:        e.Name(),
			Description: e.Description(),
			InputSchema: append(json.RawMessage(nil), e.InputSchema()...),
		})
	}
	return out
}

func toolInput(call agent.ToolCall) (json.RawMessage, error) {
	if call.RawArguments != "" && call.Arguments == nil {
		return nil, fmt.Errorf("arguments are not a JSON object: %s", call.RawArguments)
	}
	if call.Arguments == nil {
		return json.RawMessage(`{}`), nil
	}
	return json.Marshal(call.Arguments)
}

func toolOutputText(raw json.RawMessage) string {
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text
	}
	return strings.TrimSpace(string(raw))
}

func (l *Loop) executeTool(ctx context.Context, call agent.ToolCall) (agent.ToolResult, error) {
	tool, ok := l.tools.Get(call.Name)
	if !ok {
		return toolErrorResult(call, agent.ToolFailureReasonUnknownTool, fmt.Errorf("tool %q is not defined", call.Name)), nil
	}
	input, err := toolInput(call)
	if err != nil {
		return toolErrorResult(call, agent.ToolFailureReasonInvalidArguments, err), nil
	}
	if l.validator != nil {
		if err := l.validator.ValidateArguments(tool.InputSchema(), call.Arguments); err != nil {
			return toolErrorResult(call, agent.ToolFailureReasonInvalidArguments, err), nil
		}
	}
	output, err := executable.Run(ctx, tool, input, l.ec.Fork())
	if err != nil {
		if cancellationErr := contextCancellationError(ctx, err); cancellationErr != nil {
			return agent.ToolResult{}, cancellationErr
		}
		return toolErrorResult(call, agent.ToolFailureReasonExecutorError, err), nil
	}
	return agent.ToolResult{
		CallID:  call.ID,
		Name:    call.Name,
		Content: toolOutputText(output),
	}, nil
}

func toolErrorResult(call agent.ToolCall, reason agent.ToolFailureReason, err error) agent.ToolResult {
	message := string(reason)
	if err != nil {
		message = fmt.Sprintf("%s: %s", reason, err.Error())
	}
	return agent.ToolResult{
		CallID:        call.ID,
		Name:          call.Name,
		Content:       message,
		IsError:       true,
		FailureReason: reason,
	}
}

func contextCancellationError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	switch {
	case errors.Is(err, context.Canceled):
		return context.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		return context.DeadlineExceeded
	default:
		return nil
	}
}

// normalizeToolCalls assigns ids to calls that lack one or reuse one, so every
// tool message can be matched to its call.
func normalizeToolCalls(round int, calls []agent.ToolCall) []agent.ToolCall {
	out := make([]agent.ToolCall, len(calls))
	seen := make(map[string]struct{}, len(calls))
	for i, call := range calls {
		call = agent.CloneToolCall(call)
		if _, dup := seen[call.ID]; call.ID == "" || dup {
			call.ID = fmt.Sprintf("call-%d-%d", round, i+1)
		}
		seen[call.ID] = struct{}{}
		out[i] = call
	}
	return out
}
