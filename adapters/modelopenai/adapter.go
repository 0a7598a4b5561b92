// Package modelopenai adapts OpenAI-compatible chat completion endpoints to
// agent.Model.
package modelopenai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/Gurpartap/promptgraph/agent"
)

var (
	// ErrAPIKeyRequired is returned by New when no API key is configured.
	ErrAPIKeyRequired = errors.New("api key is required")
	// ErrModelRequired is returned by New when no default model is configured.
	ErrModelRequired = errors.New("model is required")
	// ErrNoChoices is returned when the provider answers without a choice.
	ErrNoChoices = errors.New("provider response has no choices")
)

// ChatClient is the subset of the go-openai client the adapter calls.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

type Config struct {
	APIKey  string
	Model   string
	BaseURL string
}

type Adapter struct {
	client ChatClient
	model  string
}

var _ agent.Model = (*Adapter)(nil)

// New builds an adapter backed by the go-openai HTTP client.
func New(cfg Config) (*Adapter, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, fmt.Errorf("new model adapter: %w", ErrAPIKeyRequired)
	}
	clientConfig := openai.DefaultConfig(apiKey)
	if baseURL := strings.TrimSpace(cfg.BaseURL); baseURL != "" {
		clientConfig.BaseURL = strings.TrimRight(baseURL, "/")
	}
	return NewWithClient(openai.NewClientWithConfig(clientConfig), cfg.Model)
}

// NewWithClient builds an adapter over an existing client. model is used when a
// request carries no model identifier.
func NewWithClient(client ChatClient, model string) (*Adapter, error) {
	if client == nil {
		return nil, errors.New("new model adapter: client is nil")
	}
	model = strings.TrimSpace(model)
	if model == "" {
		return nil, fmt.Errorf("new model adapter: %w", ErrModelRequired)
	}
	return &Adapter{client: client, model: model}, nil
}

func (a *Adapter) Generate(ctx context.Context, request agent.ModelRequest) (agent.Message, error) {
	providerRequest, err := buildRequest(a.model, request)
	if err != nil {
		return agent.Message{}, fmt.Errorf("provider request: %w", err)
	}

	response, err := a.client.CreateChatCompletion(ctx, providerRequest)
	if err != nil {
		return agent.Message{}, fmt.Errorf("provider request execute: %w", err)
	}
	if len(response.Choices) == 0 {
		return agent.Message{}, fmt.Errorf("provider response decode: %w", ErrNoChoices)
	}

	message, err := toAgentMessage(response.Choices[0].Message)
	if err != nil {
		return agent.Message{}, fmt.Errorf("provider response decode: %w", err)
	}
	return message, nil
}

func buildRequest(defaultModel string, request agent.ModelRequest) (openai.ChatCompletionRequest, error) {
	normalizedMessages, err := normalizeProviderMessages(request.Messages)
	if err != nil {
		return openai.ChatCompletionRequest{}, err
	}

	messages := make([]openai.ChatCompletionMessage, len(normalizedMessages))
	for i := range normalizedMessages {
		converted, err := toChatMessage(normalizedMessages[i])
		if err != nil {
			return openai.ChatCompletionRequest{}, err
		}
		messages[i] = converted
	}

	var tools []openai.Tool
	for i := range request.Tools {
		tools = append(tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        request.Tools[i].Name,
				Description: request.Tools[i].Description,
				Parameters:  toolParameters(request.Tools[i].InputSchema),
			},
		})
	}

	model := request.ModelID
	if model == "" {
		model = defaultModel
	}
	return openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		Tools:       tools,
		MaxTokens:   request.MaxTokens,
		Temperature: float32(request.Temperature),
	}, nil
}

// toolParameters passes a declared schema through untouched. Function tools
// must declare an object schema, so a tool without one gets an empty object.
func toolParameters(schema json.RawMessage) json.RawMessage {
	if len(strings.TrimSpace(string(schema))) == 0 {
		return json.RawMessage(`{"type":"object","properties":{}}`)
	}
	return schema
}

func normalizeProviderMessages(messages []agent.Message) ([]agent.Message, error) {
	normalized := make([]agent.Message, 0, len(messages))
	assistantToolCalls := make(map[string]struct{}, len(messages))
	toolMessageIndexByCallID := make(map[string]int, len(messages))

	for i := range messages {
		message := agent.CloneMessage(messages[i])
		switch message.Role {
		case agent.RoleAssistant:
			normalized = append(normalized, message)
			for _, call := range message.ToolCalls {
				if call.ID == "" {
					continue
				}
				assistantToolCalls[call.ID] = struct{}{}
			}
		case agent.RoleTool:
			toolCallID := strings.TrimSpace(message.ToolCallID)
			if toolCallID == "" {
				return nil, fmt.Errorf("decode messages: tool message at index %d missing tool_call_id", i)
			}
			if _, ok := assistantToolCalls[toolCallID]; !ok {
				return nil, fmt.Errorf(
					"decode messages: tool message at index %d references unknown tool_call_id %q",
					i,
					toolCallID,
				)
			}
			if existingIndex, exists := toolMessageIndexByCallID[toolCallID]; exists {
				// Keep only the latest tool observation for a call in provider payloads.
				normalized[existingIndex] = message
			} else {
				normalized = append(normalized, message)
				toolMessageIndexByCallID[toolCallID] = len(normalized) - 1
			}
		default:
			normalized = append(normalized, message)
		}
	}
	return normalized, nil
}

func toChatMessage(message agent.Message) (openai.ChatCompletionMessage, error) {
	role, err := toProviderRole(message.Role)
	if err != nil {
		return openai.ChatCompletionMessage{}, err
	}

	var toolCalls []openai.ToolCall
	for _, call := range message.ToolCalls {
		arguments, err := encodeArguments(call)
		if err != nil {
			return openai.ChatCompletionMessage{}, err
		}
		toolCalls = append(toolCalls, openai.ToolCall{
			ID:   call.ID,
			Type: openai.ToolTypeFunction,
			Function: openai.FunctionCall{
				Name:      call.Name,
				Arguments: arguments,
			},
		})
	}

	return openai.ChatCompletionMessage{
		Role:       role,
		Content:    message.Content,
		Name:       message.Name,
		ToolCallID: message.ToolCallID,
		ToolCalls:  toolCalls,
	}, nil
}

// encodeArguments replays undecodable provider text verbatim so the transcript
// matches what the model produced.
func encodeArguments(call agent.ToolCall) (string, error) {
	if len(call.Arguments) == 0 {
		if call.RawArguments != "" {
			return call.RawArguments, nil
		}
		return "{}", nil
	}
	encoded, err := json.Marshal(call.Arguments)
	if err != nil {
		return "", fmt.Errorf("encode tool call arguments: %w", err)
	}
	return string(encoded), nil
}

func toProviderRole(role agent.Role) (string, error) {
	switch role {
	case agent.RoleSystem:
		return openai.ChatMessageRoleSystem, nil
	case agent.RoleUser:
		return openai.ChatMessageRoleUser, nil
	case agent.RoleAssistant:
		return openai.ChatMessageRoleAssistant, nil
	case agent.RoleTool:
		return openai.ChatMessageRoleTool, nil
	default:
		return "", fmt.Errorf("unsupported message role %q", role)
	}
}

// toAgentMessage keeps argument text that is not a JSON object in
// RawArguments; the tool loop reports it back to the model as invalid input.
func toAgentMessage(message openai.ChatCompletionMessage) (agent.Message, error) {
	if message.Role != openai.ChatMessageRoleAssistant {
		return agent.Message{}, fmt.Errorf("expected assistant message role, got %q", message.Role)
	}

	var toolCalls []agent.ToolCall
	for _, providerCall := range message.ToolCalls {
		call := agent.ToolCall{
			ID:   providerCall.ID,
			Name: providerCall.Function.Name,
		}
		rawArguments := strings.TrimSpace(providerCall.Function.Arguments)
		arguments := map[string]any{}
		if rawArguments != "" {
			if err := json.Unmarshal([]byte(rawArguments), &arguments); err != nil {
				call.RawArguments = providerCall.Function.Arguments
				arguments = nil
			}
		}
		call.Arguments = arguments
		toolCalls = append(toolCalls, call)
	}

	return agent.Message{
		Role:      agent.RoleAssistant,
		Content:   message.Content,
		ToolCalls: toolCalls,
	}, nil
}
