package plan

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/tidwall/gjson"
)

const (
	varKey     = "$var"
	pointerKey = "$ptr"
)

var (
	// ErrUnknownVar is returned when a reference names a variable that does not exist.
	ErrUnknownVar = errors.New("unknown $var")
	// ErrForwardReference is returned when a step references a later step's saveAs.
	ErrForwardReference = errors.New("$var references a later step")
	// ErrCyclicVar is returned when resolving a variable leads back to itself.
	ErrCyclicVar = errors.New("cyclic $var")
	// ErrPointerNotFound is returned when a $ptr selects nothing.
	ErrPointerNotFound = errors.New("$ptr selects nothing")
	// ErrInvalidPointer is returned for a $ptr that is not a JSON pointer.
	ErrInvalidPointer = errors.New("$ptr is not a JSON pointer")
)

// References returns the variable names referenced anywhere in input, sorted
// and without duplicates. A reference is an object whose "$var" member is a
// string, optionally with a "$ptr" JSON pointer into the variable's value.
func References(input json.RawMessage) ([]string, error) {
	if len(bytes.TrimSpace(input)) == 0 {
		return nil, nil
	}
	tree, err := decode(input)
	if err != nil {
		return nil, err
	}
	names := map[string]struct{}{}
	var walk func(node any)
	walk = func(node any) {
		switch v := node.(type) {
		case map[string]any:
			if name, ok := v[varKey].(string); ok {
				names[name] = struct{}{}
				return
			}
			for _, child := range v {
				walk(child)
			}
		case []any:
			for _, child := range v {
				walk(child)
			}
		}
	}
	walk(tree)
	return slices.Sorted(maps.Keys(names)), nil
}

// ResolveRefs replaces every reference in input with a copy of the value it
// selects from vars. References found inside a selected value are resolved
// too.
func ResolveRefs(input json.RawMessage, vars map[string]json.RawMessage) (json.RawMessage, error) {
	if len(bytes.TrimSpace(input)) == 0 {
		return json.RawMessage(`{}`), nil
	}
	tree, err := decode(input)
	if err != nil {
		return nil, err
	}
	r := resolver{vars: vars, stack: map[string]bool{}}
	resolved, err := r.resolve(tree)
	if err != nil {
		return nil, err
	}
	return encode(resolved)
}

type resolver struct {
	vars  map[string]json.RawMessage
	stack map[string]bool
}

func (r resolver) resolve(node any) (any, error) {
	switch v := node.(type) {
	case map[string]any:
		if name, ok := v[varKey].(string); ok {
			pointer, _ := v[pointerKey].(string)
			return r.reference(name, pointer)
		}
		out := make(map[string]any, len(v))
		for key, child := range v {
			resolved, err := r.resolve(child)
			if err != nil {
				return nil, err
			}
			out[key] = resolved
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, child := range v {
			resolved, err := r.resolve(child)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return v, nil
	}
}

func (r resolver) reference(name, pointer string) (any, error) {
	target, ok := r.vars[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownVar, name)
	}
	if r.stack[name] {
		return nil, fmt.Errorf("%w: %q", ErrCyclicVar, name)
	}
	selected, err := selectPointer(target, pointer)
	if err != nil {
		return nil, fmt.Errorf("$var %q: %w", name, err)
	}
	tree, err := decode(selected)
	if err != nil {
		return nil, fmt.Errorf("$var %q: %w", name, err)
	}
	r.stack[name] = true
	defer delete(r.stack, name)
	return r.resolve(tree)
}

// selectPointer applies an RFC 6901 pointer by translating it to a gjson path.
func selectPointer(doc json.RawMessage, pointer string) (json.RawMessage, error) {
	if pointer == "" {
		return doc, nil
	}
	path, err := gjsonPath(pointer)
	if err != nil {
		return nil, err
	}
	result := gjson.GetBytes(doc, path)
	if !result.Exists() {
		return nil, fmt.Errorf("%w: %q", ErrPointerNotFound, pointer)
	}
	return json.RawMessage(result.Raw), nil
}

func gjsonPath(pointer string) (string, error) {
	if !strings.HasPrefix(pointer, "/") {
		return "", fmt.Errorf("%w: %q", ErrInvalidPointer, pointer)
	}
	tokens := strings.Split(pointer[1:], "/")
	parts := make([]string, len(tokens))
	for i, token := range tokens {
		token = strings.ReplaceAll(token, "~1", "/")
		token = strings.ReplaceAll(token, "~0", "~")
		if token == "" {
			return "", fmt.Errorf("%w: %q has an empty segment", ErrInvalidPointer, pointer)
		}
		parts[i] = escapePathComponent(token)
	}
	return strings.Join(parts, "."), nil
}

// escapePathComponent backslash-escapes every character gjson could read as
// path syntax.
func escapePathComponent(token string) string {
	var b strings.Builder
	for _, r := range token {
		isWord := r == '_' || r == '-' || r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r > 127
		if !isWord {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

func decode(raw json.RawMessage) (any, error) {
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	var tree any
	if err := decoder.Decode(&tree); err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}
	return tree, nil
}

func encode(tree any) (json.RawMessage, error) {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(tree); err != nil {
		return nil, fmt.Errorf("encode json: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
