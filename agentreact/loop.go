// Package agentreact runs tool-calling turns over a chat session: the model
// either answers or calls executables from a registry, whose results are folded
// back into the transcript before the next model call.
package agentreact

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Gurpartap/promptgraph/agent"
	"github.com/Gurpartap/promptgraph/executable"
	"github.com/Gurpartap/promptgraph/internal/ctxlog"
)

const (
	DefaultMaxToolCalls = 5
	// IncompleteAnswer is returned when the tool-call cap ends a turn before the
	// model produced any answer text.
	IncompleteAnswer = "I was unable to determine a final answer."
)

type Options struct {
	// MaxToolCalls caps tool invocations per turn; zero means DefaultMaxToolCalls.
	MaxToolCalls int
	Events       agent.EventSink
	// ExecContext carries resources for tools. Each call runs on a fork.
	ExecContext *executable.ExecContext
	// Validator checks tool arguments before execution. Nil passes arguments
	// through unchecked.
	Validator SchemaValidator
}

// SchemaValidator checks tool call arguments against a tool's input schema.
type SchemaValidator interface {
	ValidateArguments(schema json.RawMessage, arguments map[string]any) error
}

// Loop executes ReAct turns:
// model -> tool calls -> tool observations -> model -> ...
type Loop struct {
	model        agent.Model
	tools        *executable.Registry
	ec           *executable.ExecContext
	events       agent.EventSink
	validator    SchemaValidator
	maxToolCalls int
}

func New(model agent.Model, tools *executable.Registry, opts Options) (*Loop, error) {
	if model == nil {
		return nil, fmt.Errorf("new react loop: %w", ErrMissingModel)
	}
	if tools == nil {
		return nil, fmt.Errorf("new react loop: %w", ErrMissingTools)
	}
	events := opts.Events
	if events == nil {
		events = agent.NoopEventSink{}
	}
	ec := opts.ExecContext
	if ec == nil {
		ec = executable.NewContext()
	}
	maxToolCalls := opts.MaxToolCalls
	if maxToolCalls <= 0 {
		maxToolCalls = DefaultMaxToolCalls
	}
	return &Loop{
		model:        model,
		tools:        tools,
		ec:           ec,
		events:       events,
		validator:    opts.Validator,
		maxToolCalls: maxToolCalls,
	}, nil
}

// TurnResult is the outcome of one user turn.
type TurnResult struct {
	// Done is set once the turn produced an answer, complete or not. Errors
	// returned alongside a done turn come from event publishing only.
	Done   bool
	Answer string
	// Incomplete is set when the tool-call cap ended the turn.
	Incomplete bool
	ToolCalls  int
	Rounds     int
}

// Turn appends userMessage to session, runs the loop and returns the extended
// session. On error the returned session holds whatever the turn appended so
// far; callers decide whether to keep it.
func (l *Loop) Turn(ctx context.Context, session agent.Session, userMessage string) (agent.Session, TurnResult, error) {
	if ctx == nil {
		return session, TurnResult{}, agent.ErrContextNil
	}
	if userMessage == "" {
		return session, TurnResult{}, ErrEmptyUserMessage
	}
	session = agent.CloneSession(session)
	session.Config = session.Config.WithDefaults()
	streamID := string(session.ID)
	ctx = ctxlog.With(ctx, "session_id", streamID)
	logger := ctxlog.FromContext(ctx)

	var (
		result   TurnResult
		eventErr error
		partial  string
	)
	session.Messages = append(session.Messages, agent.Message{Role: agent.RoleUser, Content: userMessage})
	eventErr = errors.Join(eventErr, publishEvent(ctx, l.events, agent.Event{
		StreamID:    streamID,
		Type:        agent.EventTypeTurnStarted,
		Description: userMessage,
	}))

	var tools []agent.ToolDefinition
	if session.Config.EnableTools {
		tools = ToolDefinitions(l.tools)
	}

	for {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return session, result, l.cancelTurn(ctx, streamID, result.Rounds, ctxErr, eventErr)
		}
		result.Rounds++

		assistant, err := l.model.Generate(ctx, agent.ModelRequest{
			ModelID:     session.Config.ModelID,
			Messages:    session.ContextMessages(),
			Tools:       agent.CloneToolDefinitions(tools),
			MaxTokens:   session.Config.MaxTokens,
			Temperature: session.Config.Temperature,
		})
		if err != nil {
			if cancellationErr := contextCancellationError(ctx, err); cancellationErr != nil {
				return session, result, l.cancelTurn(ctx, streamID, result.Rounds, cancellationErr, eventErr)
			}
			return session, result, l.failTurn(ctx, streamID, result.Rounds, err, eventErr)
		}
		assistant.Role = agent.RoleAssistant
		assistant.ToolCalls = normalizeToolCalls(result.Rounds, assistant.ToolCalls)
		session.Messages = append(session.Messages, agent.CloneMessage(assistant))
		eventErr = errors.Join(eventErr, publishEvent(ctx, l.events, agent.Event{
			StreamID: streamID,
			Round:    result.Rounds,
			Type:     agent.EventTypeAssistantMessage,
			Message:  &assistant,
		}))
		if assistant.Content != "" {
			partial = assistant.Content
		}

		if len(assistant.ToolCalls) == 0 {
			result.Done = true
			result.Answer = assistant.Content
			eventErr = errors.Join(eventErr, publishEvent(ctx, l.events, agent.Event{
				StreamID:    streamID,
				Round:       result.Rounds,
				Type:        agent.EventTypeTurnCompleted,
				Description: "assistant returned a final answer",
			}))
			return session, result, eventErr
		}

		for i, toolCall := range assistant.ToolCalls {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return session, result, l.cancelTurn(ctx, streamID, result.Rounds, ctxErr, eventErr)
			}
			if result.ToolCalls >= l.maxToolCalls {
				// Answer the remaining calls so the transcript stays well formed.
				for _, skipped := range assistant.ToolCalls[i:] {
					session.Messages = append(session.Messages, agent.ToolResultMessage(toolErrorResult(
						skipped,
						agent.ToolFailureReasonCallLimit,
						fmt.Errorf("tool call limit of %d reached", l.maxToolCalls),
					)))
				}
				return l.incompleteTurn(ctx, &session, &result, streamID, partial, eventErr)
			}

			callCopy := agent.CloneToolCall(toolCall)
			eventErr = errors.Join(eventErr, publishEvent(ctx, l.events, agent.Event{
				StreamID: streamID,
				Round:    result.Rounds,
				Type:     agent.EventTypeToolCalled,
				ToolCall: &callCopy,
			}))
			result.ToolCalls++
			toolResult, err := l.executeTool(ctx, toolCall)
			if err != nil {
				return session, result, l.cancelTurn(ctx, streamID, result.Rounds, err, eventErr)
			}
			if toolResult.IsError {
				logger.Debug("Tool call failed.", "tool", toolCall.Name, "reason", toolResult.FailureReason)
			}
			session.Messages = append(session.Messages, agent.ToolResultMessage(toolResult))
			resultCopy := toolResult
			eventErr = errors.Join(eventErr, publishEvent(ctx, l.events, agent.Event{
				StreamID:   streamID,
				Round:      result.Rounds,
				Type:       agent.EventTypeToolResult,
				ToolResult: &resultCopy,
			}))
		}
	}
}

func (l *Loop) incompleteTurn(
	ctx context.Context,
	session *agent.Session,
	result *TurnResult,
	streamID string,
	partial string,
	eventErr error,
) (agent.Session, TurnResult, error) {
	answer := partial
	if answer == "" {
		answer = IncompleteAnswer
	}
	result.Done = true
	result.Answer = answer
	result.Incomplete = true
	session.Messages = append(session.Messages, agent.Message{Role: agent.RoleAssistant, Content: answer})
	ctxlog.FromContext(ctx).Warn("Tool call limit reached.", "max_tool_calls", l.maxToolCalls)
	eventErr = errors.Join(eventErr, publishEvent(ctx, l.events, agent.Event{
		StreamID:    streamID,
		Round:       result.Rounds,
		Type:        agent.EventTypeTurnIncomplete,
		Description: fmt.Sprintf("tool call limit of %d reached", l.maxToolCalls),
	}))
	return *session, *result, eventErr
}

func (l *Loop) failTurn(ctx context.Context, streamID string, round int, turnErr error, eventErr error) error {
	eventErr = errors.Join(eventErr, publishEvent(ctx, l.events, agent.Event{
		StreamID:    streamID,
		Round:       round,
		Type:        agent.EventTypeTurnFailed,
		Description: fmt.Sprintf("model error: %v", turnErr),
	}))
	return errors.Join(turnErr, eventErr)
}

func (l *Loop) cancelTurn(ctx context.Context, streamID string, round int, turnErr error, eventErr error) error {
	eventErr = errors.Join(eventErr, publishEvent(context.WithoutCancel(ctx), l.events, agent.Event{
		StreamID:    streamID,
		Round:       round,
		Type:        agent.EventTypeTurnCancelled,
		Description: turnErr.Error(),
	}))
	return errors.Join(turnErr, eventErr)
}

func publishEvent(ctx context.Context, sink agent.EventSink, event agent.Event) error {
	if err := agent.ValidateEvent(event); err != nil {
		return err
	}
	if err := sink.Publish(ctx, event); err != nil {
		return errors.Join(
			agent.ErrEventPublish,
			fmt.Errorf(
				"type=%s stream_id=%s round=%d: %w",
				event.Type,
				event.StreamID,
				event.Round,
				err,
			),
		)
	}
	return nil
}
