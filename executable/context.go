package executable

import (
	"encoding/json"
	"maps"
	"slices"
	"sync"

	"github.com/google/uuid"
)

// ExecContext carries per-invocation state: a synchronized variable bag,
// immutable injected resources, and a trace identifier fixed at creation.
// Concurrent branches that need isolation should each take a Fork.
type ExecContext struct {
	traceID       string
	parentTraceID string
	resources     map[string]any

	mu   sync.RWMutex
	vars map[string]json.RawMessage
}

// ContextOption configures NewContext.
type ContextOption func(*ExecContext)

// WithResource injects a shared collaborator such as a model client.
func WithResource(key string, value any) ContextOption {
	return func(ec *ExecContext) {
		ec.resources[key] = value
	}
}

// WithVar seeds a variable.
func WithVar(key string, value json.RawMessage) ContextOption {
	return func(ec *ExecContext) {
		ec.vars[key] = cloneRaw(value)
	}
}

// WithTraceID overrides the generated trace identifier.
func WithTraceID(traceID string) ContextOption {
	return func(ec *ExecContext) {
		if traceID != "" {
			ec.traceID = traceID
		}
	}
}

// NewContext creates a context with a fresh random trace identifier.
func NewContext(opts ...ContextOption) *ExecContext {
	ec := &ExecContext{
		traceID:   uuid.NewString(),
		resources: map[string]any{},
		vars:      map[string]json.RawMessage{},
	}
	for _, opt := range opts {
		opt(ec)
	}
	return ec
}

func (ec *ExecContext) TraceID() string {
	return ec.traceID
}

// ParentTraceID is the trace identifier of the context this one was forked from.
func (ec *ExecContext) ParentTraceID() string {
	return ec.parentTraceID
}

// Resource returns an injected collaborator.
func (ec *ExecContext) Resource(key string) (any, bool) {
	if ec == nil {
		return nil, false
	}
	value, ok := ec.resources[key]
	return value, ok
}

// ResourceAs returns the resource stored under key if it has type T.
func ResourceAs[T any](ec *ExecContext, key string) (T, bool) {
	var zero T
	value, ok := ec.Resource(key)
	if !ok {
		return zero, false
	}
	typed, ok := value.(T)
	return typed, ok
}

func (ec *ExecContext) Put(key string, value json.RawMessage) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.vars[key] = cloneRaw(value)
}

func (ec *ExecContext) Get(key string) (json.RawMessage, bool) {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	value, ok := ec.vars[key]
	if !ok {
		return nil, false
	}
	return cloneRaw(value), true
}

// Vars returns a snapshot of every variable.
func (ec *ExecContext) Vars() map[string]json.RawMessage {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	out := make(map[string]json.RawMessage, len(ec.vars))
	for key, value := range ec.vars {
		out[key] = cloneRaw(value)
	}
	return out
}

// VarNames returns the variable keys in sorted order.
func (ec *ExecContext) VarNames() []string {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	return slices.Sorted(maps.Keys(ec.vars))
}

// Fork returns an isolated child: variables are copied, resources are shared,
// and the child gets its own trace identifier linked to this one.
func (ec *ExecContext) Fork() *ExecContext {
	child := &ExecContext{
		traceID:       uuid.NewString(),
		parentTraceID: ec.traceID,
		resources:     ec.resources,
		vars:          ec.Vars(),
	}
	return child
}

func cloneRaw(in json.RawMessage) json.RawMessage {
	if in == nil {
		return nil
	}
	return append(json.RawMessage(nil), in...)
}
