package agent

// EventType is emitted by the loops and executors for observability and streaming.
type EventType string

const (
	EventTypeTurnStarted      EventType = "turn_started"
	EventTypeAssistantMessage EventType = "assistant_message"
	EventTypeToolCalled       EventType = "tool_called"
	EventTypeToolResult       EventType = "tool_result"
	EventTypeTurnCompleted    EventType = "turn_completed"
	EventTypeTurnIncomplete   EventType = "turn_incomplete"
	EventTypeTurnFailed       EventType = "turn_failed"
	EventTypeTurnCancelled    EventType = "turn_cancelled"

	EventTypeWorkflowStarted   EventType = "workflow_started"
	EventTypeSolverSelected    EventType = "solver_selected"
	EventTypeSolverOutput      EventType = "solver_output"
	EventTypeSolverError       EventType = "solver_error"
	EventTypePlanningError     EventType = "planning_error"
	EventTypeMaxRoundsReached  EventType = "max_rounds_reached"
	EventTypeFinalAnswer       EventType = "final_answer"
	EventTypeWorkflowFailed    EventType = "workflow_failed"
	EventTypeWorkflowCancelled EventType = "workflow_cancelled"

	EventTypeTaskStarted   EventType = "task_started"
	EventTypeTaskCompleted EventType = "task_completed"
	EventTypeTaskFailed    EventType = "task_failed"
	EventTypeTaskSkipped   EventType = "task_skipped"
)

// Event is intentionally compact so adapters can map it to logs, metrics, or streams.
// StreamID names the session, workflow run, or plan the event belongs to.
type Event struct {
	StreamID    string      `json:"stream_id"`
	Round       int         `json:"round"`
	Type        EventType   `json:"type"`
	Message     *Message    `json:"message,omitempty"`
	ToolCall    *ToolCall   `json:"tool_call,omitempty"`
	ToolResult  *ToolResult `json:"tool_result,omitempty"`
	Solver      string      `json:"solver,omitempty"`
	SubTask     string      `json:"sub_task,omitempty"`
	TaskID      string      `json:"task_id,omitempty"`
	Output      string      `json:"output,omitempty"`
	Description string      `json:"description,omitempty"`
}

// CloneEvent returns a deep copy of an event.
func CloneEvent(in Event) Event {
	out := in
	if in.Message != nil {
		message := CloneMessage(*in.Message)
		out.Message = &message
	}
	if in.ToolCall != nil {
		call := CloneToolCall(*in.ToolCall)
		out.ToolCall = &call
	}
	if in.ToolResult != nil {
		result := *in.ToolResult
		out.ToolResult = &result
	}
	return out
}
