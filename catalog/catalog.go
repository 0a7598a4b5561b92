// Package catalog loads prompt-template executables from HCL files.
//
//	executable "summarize" {
//	  description = "Summarize text for an audience."
//	  inputs      = ["text", "audience"]
//	  template    = "Summarize for ${input.audience}: ${input.text}"
//	}
//
// The template is kept as an expression and evaluated on every run with the
// JSON input bound to "input". The rendered prompt is sent to a chat model.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"
	ctyjson "github.com/zclconf/go-cty/cty/json"

	"github.com/Gurpartap/promptgraph/agent"
	"github.com/Gurpartap/promptgraph/executable"
	"github.com/Gurpartap/promptgraph/internal/ctxlog"
)

// ChatModelResource is the ExecContext resource key holding the agent.Model
// templates are sent to. It takes precedence over the model given to Load.
const ChatModelResource = "catalog.chat_model"

const defaultVersion = "1.0.0"

var (
	// ErrNoModel is returned when neither the context nor the catalog supplies a model.
	ErrNoModel = errors.New("no chat model available")
	// ErrTemplate is returned when a template does not render to a string.
	ErrTemplate = errors.New("template did not render")
	// ErrMissingTemplate is returned when an executable block has no template.
	ErrMissingTemplate = errors.New("template is required")
)

type fileRoot struct {
	Executables []*executableBlock `hcl:"executable,block"`
}

type executableBlock struct {
	Name        string         `hcl:"name,label"`
	Description string         `hcl:"description,optional"`
	Version     string         `hcl:"version,optional"`
	Model       string         `hcl:"model,optional"`
	System      string         `hcl:"system,optional"`
	Temperature *float64       `hcl:"temperature,optional"`
	MaxTokens   int            `hcl:"max_tokens,optional"`
	Inputs      []string       `hcl:"inputs,optional"`
	Template    hcl.Expression `hcl:"template"`
}

// Load parses the catalog file at path.
func Load(ctx context.Context, path string, model agent.Model) (*executable.Registry, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(ctx, src, path, model)
}

// Parse decodes catalog source. Duplicate names are a configuration error.
func Parse(ctx context.Context, src []byte, filename string, model agent.Model) (*executable.Registry, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL file %s: %w", filename, diags)
	}
	var root fileRoot
	if diags := gohcl.DecodeBody(file.Body, nil, &root); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode HCL file %s: %w", filename, diags)
	}

	execs := make([]executable.Executable, 0, len(root.Executables))
	for _, block := range root.Executables {
		if missingExpression(block.Template) {
			return nil, fmt.Errorf("executable %q: %w", block.Name, ErrMissingTemplate)
		}
		schema, err := inputSchema(block.Inputs)
		if err != nil {
			return nil, fmt.Errorf("executable %q: %w", block.Name, err)
		}
		version := block.Version
		if version == "" {
			version = defaultVersion
		}
		execs = append(execs, &TemplateExecutable{
			name:         block.Name,
			description:  block.Description,
			version:      version,
			modelID:      block.Model,
			system:       block.System,
			temperature:  block.Temperature,
			maxTokens:    block.MaxTokens,
			template:     block.Template,
			inputSchema:  schema,
			defaultModel: model,
		})
	}
	ctxlog.FromContext(ctx).Debug("Catalog loaded.", "file", filename, "executables", len(execs))
	return executable.NewRegistry(execs...)
}

// missingExpression reports whether expr is absent or a literal null. gohcl
// fills an absent expression attribute with a static null.
func missingExpression(expr hcl.Expression) bool {
	if expr == nil {
		return true
	}
	if len(expr.Variables()) > 0 {
		return false
	}
	value, diags := expr.Value(nil)
	return !diags.HasErrors() && value.IsNull()
}

func inputSchema(inputs []string) (json.RawMessage, error) {
	if len(inputs) == 0 {
		return nil, nil
	}
	properties := make(map[string]any, len(inputs))
	for _, name := range inputs {
		properties[name] = map[string]any{"type": "string"}
	}
	return json.Marshal(map[string]any{
		"type":       "object",
		"properties": properties,
		"required":   inputs,
	})
}

var outputSchema = json.RawMessage(`{"type":"object","properties":{` +
	`"prompt":{"type":"string"},"message":{"type":"string"}},"required":["prompt","message"]}`)

// TemplateExecutable renders its template against the input and asks a chat
// model to answer the result. Its output is {"prompt": ..., "message": ...}.
type TemplateExecutable struct {
	name         string
	description  string
	version      string
	modelID      string
	system       string
	temperature  *float64
	maxTokens    int
	template     hcl.Expression
	inputSchema  json.RawMessage
	defaultModel agent.Model
}

var _ executable.Executable = (*TemplateExecutable)(nil)

func (t *TemplateExecutable) Name() string                  { return t.name }
func (t *TemplateExecutable) Description() string           { return t.description }
func (t *TemplateExecutable) Version() string               { return t.version }
func (t *TemplateExecutable) InputSchema() json.RawMessage  { return t.inputSchema }
func (t *TemplateExecutable) OutputSchema() json.RawMessage { return outputSchema }

// Render evaluates the template against input.
func (t *TemplateExecutable) Render(input json.RawMessage) (string, error) {
	value, err := inputValue(input)
	if err != nil {
		return "", err
	}
	evalCtx := &hcl.EvalContext{
		Variables: map[string]cty.Value{"input": value},
		Functions: functions,
	}
	rendered, diags := t.template.Value(evalCtx)
	if diags.HasErrors() {
		return "", fmt.Errorf("%w: %s: %w", ErrTemplate, t.name, diags)
	}
	rendered, err = convert.Convert(rendered, cty.String)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrTemplate, t.name, err)
	}
	if rendered.IsNull() || !rendered.IsKnown() {
		return "", fmt.Errorf("%w: %s: result is null", ErrTemplate, t.name)
	}
	return rendered.AsString(), nil
}

func (t *TemplateExecutable) Execute(ctx context.Context, input json.RawMessage, ec *executable.ExecContext) (json.RawMessage, error) {
	prompt, err := t.Render(input)
	if err != nil {
		return nil, err
	}
	model, ok := executable.ResourceAs[agent.Model](ec, ChatModelResource)
	if !ok || model == nil {
		model = t.defaultModel
	}
	if model == nil {
		return nil, fmt.Errorf("%s: %w", t.name, ErrNoModel)
	}

	request := agent.ModelRequest{
		ModelID:   t.modelID,
		MaxTokens: t.maxTokens,
		Messages:  []agent.Message{{Role: agent.RoleUser, Content: prompt}},
	}
	if t.system != "" {
		request.Messages = append([]agent.Message{{Role: agent.RoleSystem, Content: t.system}}, request.Messages...)
	}
	if t.temperature != nil {
		request.Temperature = *t.temperature
	}
	reply, err := model.Generate(ctx, request)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", t.name, err)
	}
	return json.Marshal(map[string]string{"prompt": prompt, "message": reply.Content})
}

// inputValue converts a JSON input to a cty value. Empty input is an empty object.
func inputValue(input json.RawMessage) (cty.Value, error) {
	if len(input) == 0 {
		return cty.EmptyObjectVal, nil
	}
	ty, err := ctyjson.ImpliedType(input)
	if err != nil {
		return cty.NilVal, fmt.Errorf("decode template input: %w", err)
	}
	value, err := ctyjson.Unmarshal(input, ty)
	if err != nil {
		return cty.NilVal, fmt.Errorf("decode template input: %w", err)
	}
	return value, nil
}

var functions = map[string]function.Function{
	"upper":      stdlib.UpperFunc,
	"lower":      stdlib.LowerFunc,
	"trimspace":  stdlib.TrimSpaceFunc,
	"join":       stdlib.JoinFunc,
	"jsonencode": stdlib.JSONEncodeFunc,
	"length":     stdlib.LengthFunc,
}
