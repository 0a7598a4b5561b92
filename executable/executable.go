// Package executable defines the named unit of work shared by every
// orchestration layer, the per-invocation context it runs with, and the
// registry that resolves executables by name.
package executable

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrNilExecutable is returned when a registry source contains a nil executable.
	ErrNilExecutable = errors.New("executable is nil")
	// ErrNameEmpty is returned when an executable reports an empty name.
	ErrNameEmpty = errors.New("executable name is empty")
	// ErrDuplicateName is returned when one registry source declares a name twice.
	ErrDuplicateName = errors.New("executable name is duplicated")
	// ErrNotFound is returned by callers that treat a missing executable as fatal.
	ErrNotFound = errors.New("executable not found")
)

// Executable is a named, versioned unit of work with a structured input and
// output contract. Schemas are carried opaquely; validation belongs to callers.
type Executable interface {
	Name() string
	Description() string
	Version() string
	InputSchema() json.RawMessage
	OutputSchema() json.RawMessage
	Execute(ctx context.Context, input json.RawMessage, ec *ExecContext) (json.RawMessage, error)
}

// Info is the presentation view of an executable.
type Info struct {
	Name         string          `json:"name"`
	Description  string          `json:"description,omitempty"`
	Version      string          `json:"version,omitempty"`
	InputSchema  json.RawMessage `json:"input_schema,omitempty"`
	OutputSchema json.RawMessage `json:"output_schema,omitempty"`
}

// Describe returns the presentation view of e.
func Describe(e Executable) Info {
	return Info{
		Name:         e.Name(),
		Description:  e.Description(),
		Version:      e.Version(),
		InputSchema:  e.InputSchema(),
		OutputSchema: e.OutputSchema(),
	}
}

// ExecuteFunc is the body of a function-backed executable.
type ExecuteFunc func(ctx context.Context, input json.RawMessage, ec *ExecContext) (json.RawMessage, error)

// New builds an Executable from its description and body.
func New(info Info, fn ExecuteFunc) Executable {
	return &funcExecutable{info: info, fn: fn}
}

type funcExecutable struct {
	info Info
	fn   ExecuteFunc
}

func (f *funcExecutable) Name() string                  { return f.info.Name }
func (f *funcExecutable) Description() string           { return f.info.Description }
func (f *funcExecutable) Version() string               { return f.info.Version }
func (f *funcExecutable) InputSchema() json.RawMessage  { return f.info.InputSchema }
func (f *funcExecutable) OutputSchema() json.RawMessage { return f.info.OutputSchema }

func (f *funcExecutable) Execute(ctx context.Context, input json.RawMessage, ec *ExecContext) (json.RawMessage, error) {
	if f.fn == nil {
		return nil, fmt.Errorf("executable %q has no body", f.info.Name)
	}
	return f.fn(ctx, input, ec)
}

// Run executes e, converting a panic in its body into an error so one failing
// executable cannot take down its caller.
func Run(ctx context.Context, e Executable, input json.RawMessage, ec *ExecContext) (output json.RawMessage, err error) {
	if e == nil {
		return nil, ErrNilExecutable
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	defer func() {
		if recovered := recover(); recovered != nil {
			output = nil
			err = fmt.Errorf("executable %q panicked: %v", e.Name(), recovered)
		}
	}()
	return e.Execute(ctx, input, ec)
}
