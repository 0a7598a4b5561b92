package agentreact

import "errors"

var (
	// ErrMissingModel is returned when New is called without a model dependency.
	ErrMissingModel = errors.New("missing model")
	// ErrMissingTools is returned when New is called without a tool registry.
	ErrMissingTools = errors.New("missing tool registry")
	// ErrEmptyUserMessage is returned when a turn is started without user content.
	ErrEmptyUserMessage = errors.New("user message is empty")
)
