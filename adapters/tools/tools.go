// Package tools builds executables from plain Go handlers and ships a small
// starter library used when no external tool server is configured.
package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Gurpartap/promptgraph/executable"
)

// Handler executes business logic for one tool call.
type Handler func(ctx context.Context, arguments map[string]any) (string, error)

// Spec describes a handler-backed tool.
type Spec struct {
	Name         string
	Description  string
	Version      string
	InputSchema  json.RawMessage
	OutputSchema json.RawMessage
}

// Func adapts handler to an executable. The input must be a JSON object; the
// handler's text becomes a JSON string output.
func Func(spec Spec, handler Handler) executable.Executable {
	if spec.Version == "" {
		spec.Version = "1.0.0"
	}
	return executable.New(executable.Info{
		Name:         spec.Name,
		Description:  spec.Description,
		Version:      spec.Version,
		InputSchema:  spec.InputSchema,
		OutputSchema: spec.OutputSchema,
	}, func(ctx context.Context, input json.RawMessage, _ *executable.ExecContext) (json.RawMessage, error) {
		arguments := map[string]any{}
		if len(input) > 0 {
			if err := json.Unmarshal(input, &arguments); err != nil {
				return nil, fmt.Errorf("tool %q: input is not a JSON object: %w", spec.Name, err)
			}
		}
		text, err := handler(ctx, arguments)
		if err != nil {
			return nil, err
		}
		return json.Marshal(text)
	})
}

// Stub returns a tool that always answers with output.
func Stub(spec Spec, output json.RawMessage) executable.Executable {
	if spec.Version == "" {
		spec.Version = "1.0.0"
	}
	fixed := append(json.RawMessage(nil), output...)
	return executable.New(executable.Info{
		Name:         spec.Name,
		Description:  spec.Description,
		Version:      spec.Version,
		InputSchema:  spec.InputSchema,
		OutputSchema: spec.OutputSchema,
	}, func(context.Context, json.RawMessage, *executable.ExecContext) (json.RawMessage, error) {
		return append(json.RawMessage(nil), fixed...), nil
	})
}

// SingleParamSchema is an object schema with one string property.
func SingleParamSchema(name, description string, required bool) json.RawMessage {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			name: map[string]any{"type": "string", "description": description},
		},
	}
	if required {
		schema["required"] = []string{name}
	}
	out, _ := json.Marshal(schema)
	return out
}
