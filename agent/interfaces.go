package agent

import "context"

// ModelRequest is the chat input contract shared by every model-backed component.
type ModelRequest struct {
	ModelID     string
	Messages    []Message
	Tools       []ToolDefinition
	MaxTokens   int
	Temperature float64
}

// Model produces assistant messages that may include tool calls.
type Model interface {
	Generate(ctx context.Context, request ModelRequest) (Message, error)
}

// ModelFunc adapts a function to Model.
type ModelFunc func(ctx context.Context, request ModelRequest) (Message, error)

func (f ModelFunc) Generate(ctx context.Context, request ModelRequest) (Message, error) {
	return f(ctx, request)
}

// SessionStore persists chat sessions. Save is an upsert keyed by Session.ID;
// concurrent saves to one ID leave exactly one of the written states.
type SessionStore interface {
	Save(ctx context.Context, session Session) error
	Load(ctx context.Context, id SessionID) (Session, error)
	List(ctx context.Context) ([]SessionInfo, error)
	Delete(ctx context.Context, id SessionID) (bool, error)
}

// EventSink receives normalized progress events.
type EventSink interface {
	Publish(ctx context.Context, event Event) error
}

// IDGenerator creates identifiers at the runtime boundary.
type IDGenerator interface {
	NewID(ctx context.Context) (string, error)
}
