package agent

import "errors"

var (
	// ErrSessionNotFound is returned by session stores when a session ID is unknown.
	ErrSessionNotFound = errors.New("session not found")
	// ErrInvalidSessionID is returned when a session ID is empty or malformed.
	ErrInvalidSessionID = errors.New("invalid session id")
	// ErrContextNil is returned when a nil context reaches a public boundary.
	ErrContextNil = errors.New("context is nil")
	// ErrEventInvalid is returned when an event fails validation before publish.
	ErrEventInvalid = errors.New("event is invalid")
	// ErrEventPublish wraps sink failures so callers can tell them apart from loop failures.
	ErrEventPublish = errors.New("event publish failed")
	// ErrSessionConfigInvalid is returned when a session configuration is out of range.
	ErrSessionConfigInvalid = errors.New("session config is invalid")
	// ErrModelNil is returned when a component that calls a model has none.
	ErrModelNil = errors.New("model is nil")
)
