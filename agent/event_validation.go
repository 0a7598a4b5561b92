package agent

import "fmt"

// ValidateEvent checks event payload invariants before publish boundaries.
func ValidateEvent(event Event) error {
	if event.Type == "" {
		return fmt.Errorf("%w: field=type reason=empty", ErrEventInvalid)
	}
	if event.StreamID == "" {
		return fmt.Errorf("%w: field=stream_id reason=empty type=%s", ErrEventInvalid, event.Type)
	}
	if event.Round < 0 {
		return fmt.Errorf(
			"%w: field=round reason=negative value=%d type=%s stream_id=%q",
			ErrEventInvalid,
			event.Round,
			event.Type,
			event.StreamID,
		)
	}

	missing := func(field string) error {
		return fmt.Errorf(
			"%w: field=%s reason=empty type=%s stream_id=%q round=%d",
			ErrEventInvalid,
			field,
			event.Type,
			event.StreamID,
			event.Round,
		)
	}

	switch event.Type {
	case EventTypeAssistantMessage:
		if event.Message == nil {
			return missing("message")
		}
	case EventTypeToolCalled:
		if event.ToolCall == nil {
			return missing("tool_call")
		}
		if event.ToolCall.Name == "" {
			return missing("tool_call.name")
		}
	case EventTypeToolResult:
		if event.ToolResult == nil {
			return missing("tool_result")
		}
		if event.ToolResult.CallID == "" {
			return missing("tool_result.call_id")
		}
		if event.ToolResult.Name == "" {
			return missing("tool_result.name")
		}
	case EventTypeSolverSelected, EventTypeSolverOutput, EventTypeSolverError:
		if event.Solver == "" {
			return missing("solver")
		}
	case EventTypeTaskStarted, EventTypeTaskCompleted, EventTypeTaskFailed, EventTypeTaskSkipped:
		if event.TaskID == "" {
			return missing("task_id")
		}
	}

	return nil
}
