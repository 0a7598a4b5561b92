// Package schemacheck validates tool call arguments against the JSON schema a
// tool declares, using go-openai's schema definitions.
package schemacheck

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/sashabaranov/go-openai/jsonschema"
)

var (
	// ErrSchema is returned when the declared schema cannot be decoded.
	ErrSchema = errors.New("tool input schema is malformed")
	// ErrArguments is returned when arguments do not satisfy the schema.
	ErrArguments = errors.New("arguments do not match schema")
)

// Validator checks arguments for required fields, declared types, enums and
// closed objects. An empty schema or a property without a type accepts
// anything.
type Validator struct{}

func (Validator) ValidateArguments(schema json.RawMessage, arguments map[string]any) error {
	if len(bytes.TrimSpace(schema)) == 0 {
		return nil
	}
	var definition jsonschema.Definition
	if err := json.Unmarshal(schema, &definition); err != nil {
		return fmt.Errorf("%w: %w", ErrSchema, err)
	}
	if definition.Type == "" && (len(definition.Properties) > 0 || len(definition.Required) > 0) {
		definition.Type = jsonschema.Object
	}
	if arguments == nil {
		arguments = map[string]any{}
	}
	return check("", definition, arguments)
}

func check(path string, definition jsonschema.Definition, value any) error {
	if number, ok := value.(json.Number); ok {
		f, err := number.Float64()
		if err != nil {
			return fmt.Errorf("%w: argument %q is not a number", ErrArguments, path)
		}
		value = f
	}

	switch definition.Type {
	case "":
		return nil
	case jsonschema.Object:
		object, ok := value.(map[string]any)
		if !ok {
			return typeMismatch(path, definition.Type)
		}
		for _, name := range definition.Required {
			if _, ok := object[name]; !ok {
				return fmt.Errorf("%w: missing required argument %q", ErrArguments, join(path, name))
			}
		}
		closed := definition.AdditionalProperties == false
		for _, name := range slices.Sorted(maps.Keys(object)) {
			property, declared := definition.Properties[name]
			if !declared {
				if closed {
					return fmt.Errorf("%w: unknown argument %q", ErrArguments, join(path, name))
				}
				continue
			}
			if err := check(join(path, name), property, object[name]); err != nil {
				return err
			}
		}
	case jsonschema.Array:
		items, ok := value.([]any)
		if !ok {
			return typeMismatch(path, definition.Type)
		}
		if definition.Items != nil {
			for i, item := range items {
				if err := check(fmt.Sprintf("%s[%d]", path, i), *definition.Items, item); err != nil {
					return err
				}
			}
		}
	default:
		if !jsonschema.Validate(definition, value) {
			return typeMismatch(path, definition.Type)
		}
	}

	if len(definition.Enum) > 0 {
		text, _ := value.(string)
		if !slices.Contains(definition.Enum, text) {
			return fmt.Errorf("%w: argument %q must be one of %v", ErrArguments, path, definition.Enum)
		}
	}
	return nil
}

func typeMismatch(path string, want jsonschema.DataType) error {
	if path == "" {
		return fmt.Errorf("%w: arguments must be %q", ErrArguments, want)
	}
	return fmt.Errorf("%w: argument %q must be %q", ErrArguments, path, want)
}

func join(path, name string) string {
	if path == "" {
		return name
	}
	return path + "." + name
}
