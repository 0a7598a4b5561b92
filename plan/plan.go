// Package plan runs static, pre-declared executable plans. A plan is a list
// of tool steps whose inputs may reference the saved outputs of earlier steps;
// steps run through the task graph, so independent steps run concurrently.
package plan

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/Gurpartap/promptgraph/executable"
)

var (
	// ErrNoSteps is returned by Validate for a plan without steps.
	ErrNoSteps = errors.New("plan has no steps")
	// ErrMissingTool is returned when a step names no tool.
	ErrMissingTool = errors.New("plan step has no tool")
	// ErrUnknownTool is returned when a step names a tool the registry lacks.
	ErrUnknownTool = errors.New("plan step names an unknown tool")
	// ErrDuplicateSaveAs is returned when two steps save under the same name.
	ErrDuplicateSaveAs = errors.New("plan saveAs name is duplicated")
	// ErrInvalidOnError is returned for an onError value other than fail or continue.
	ErrInvalidOnError = errors.New("plan step onError is invalid")
)

// OnError controls what a failed step means for the rest of the plan.
type OnError string

const (
	// OnErrorFail records the failure; steps that reference it are skipped.
	OnErrorFail OnError = "fail"
	// OnErrorContinue saves an error object in place of the output so
	// dependent steps still run.
	OnErrorContinue OnError = "continue"
)

// Plan is an ordered list of steps. Order matters only for references: a step
// may reference the saveAs name of an earlier step or a variable already
// present in the ExecContext.
type Plan struct {
	ID    string `json:"id,omitempty"`
	Steps []Step `json:"steps"`
}

type Step struct {
	Tool      string          `json:"tool"`
	Input     json.RawMessage `json:"input,omitempty"`
	SaveAs    string          `json:"saveAs,omitempty"`
	OnError   OnError         `json:"onError,omitempty"`
	TimeoutMs int64           `json:"timeoutMs,omitempty"`
	// Retry is the number of attempts for this step. Zero or one means no retry.
	Retry int `json:"retry,omitempty"`
}

// Parse decodes a plan, applying defaults. Unknown fields are rejected.
func Parse(data []byte) (Plan, error) {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()
	var p Plan
	if err := decoder.Decode(&p); err != nil {
		return Plan{}, fmt.Errorf("parse plan: %w", err)
	}
	for i := range p.Steps {
		step := &p.Steps[i]
		if strings.TrimSpace(step.Tool) == "" {
			return Plan{}, fmt.Errorf("parse plan: step=%d: %w", i, ErrMissingTool)
		}
		onError, err := parseOnError(step.OnError)
		if err != nil {
			return Plan{}, fmt.Errorf("parse plan: step=%d: %w", i, err)
		}
		step.OnError = onError
		if len(step.Input) == 0 {
			step.Input = json.RawMessage(`{}`)
		}
	}
	return p, nil
}

func parseOnError(in OnError) (OnError, error) {
	switch strings.ToLower(string(in)) {
	case "", string(OnErrorFail):
		return OnErrorFail, nil
	case string(OnErrorContinue):
		return OnErrorContinue, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidOnError, in)
	}
}

// Validate checks a plan against a registry and the variables that will be
// available when it runs. It reports every problem found.
func Validate(p Plan, registry *executable.Registry, vars []string) error {
	if len(p.Steps) == 0 {
		return ErrNoSteps
	}
	known := make(map[string]bool, len(vars)+len(p.Steps))
	for _, name := range vars {
		known[name] = true
	}
	saved := make(map[string]int, len(p.Steps))

	var errs []error
	for i, step := range p.Steps {
		if step.Tool == "" {
			errs = append(errs, fmt.Errorf("step=%d: %w", i, ErrMissingTool))
		} else if _, ok := registry.Get(step.Tool); !ok {
			errs = append(errs, fmt.Errorf("step=%d: %w: %q (valid tools: %s)",
				i, ErrUnknownTool, step.Tool, strings.Join(registry.Names(), ", ")))
		}
		if _, err := parseOnError(step.OnError); err != nil {
			errs = append(errs, fmt.Errorf("step=%d: %w", i, err))
		}
		refs, err := References(step.Input)
		if err != nil {
			errs = append(errs, fmt.Errorf("step=%d: %w", i, err))
		}
		for _, ref := range refs {
			if _, earlier := saved[ref]; earlier || known[ref] {
				continue
			}
			if later := indexOfSaveAs(p.Steps[i:], ref); later >= 0 {
				errs = append(errs, fmt.Errorf("step=%d: %w: %q is saved by step %d", i, ErrForwardReference, ref, i+later))
				continue
			}
			errs = append(errs, fmt.Errorf("step=%d: %w: %q", i, ErrUnknownVar, ref))
		}
		if step.SaveAs != "" {
			if first, dup := saved[step.SaveAs]; dup {
				errs = append(errs, fmt.Errorf("step=%d: %w: %q also saved by step %d", i, ErrDuplicateSaveAs, step.SaveAs, first))
			} else {
				saved[step.SaveAs] = i
			}
		}
	}
	return errors.Join(errs...)
}

func indexOfSaveAs(steps []Step, name string) int {
	for i, step := range steps {
		if step.SaveAs == name {
			return i
		}
	}
	return -1
}
