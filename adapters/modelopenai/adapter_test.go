package modelopenai

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/sashabaranov/go-openai"

	"github.com/Gurpartap/promptgraph/agent"
)

type fakeClient struct {
	requests []openai.ChatCompletionRequest
	response openai.ChatCompletionResponse
	err      error
}

func (f *fakeClient) CreateChatCompletion(_ context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.requests = append(f.requests, request)
	return f.response, f.err
}

func assistantReply(message openai.ChatCompletionMessage) openai.ChatCompletionResponse {
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{Message: message}},
	}
}

func TestBuildRequest_DedupesRepeatedToolObservationByCallID(t *testing.T) {
	t.Parallel()

	request, err := buildRequest(
		"gpt-4o-mini",
		agent.ModelRequest{
			Messages: []agent.Message{
				{Role: agent.RoleUser, Content: "echo hi"},
				{
					Role: agent.RoleAssistant,
					ToolCalls: []agent.ToolCall{
						{ID: "call-1", Name: "test_echo", Arguments: map[string]any{"message": "hi"}},
					},
				},
				{Role: agent.RoleTool, ToolCallID: "call-1", Name: "test_echo", Content: "stale"},
				{Role: agent.RoleUser, Content: "again"},
				{Role: agent.RoleTool, ToolCallID: "call-1", Name: "test_echo", Content: "hi"},
			},
			Tools: []agent.ToolDefinition{
				{Name: "test_echo", Description: "echo", InputSchema: json.RawMessage(`{"type":"object"}`)},
			},
		},
	)
	if err != nil {
		t.Fatalf("buildRequest returned error: %v", err)
	}

	if len(request.Messages) != 4 {
		t.Fatalf("provider messages length mismatch: got=%d want=%d", len(request.Messages), 4)
	}
	if request.Messages[2].Role != openai.ChatMessageRoleTool {
		t.Fatalf("tool role mismatch: got=%q", request.Messages[2].Role)
	}
	if request.Messages[2].Content != "hi" {
		t.Fatalf("tool content mismatch: got=%q want=%q", request.Messages[2].Content, "hi")
	}
	if got := request.Messages[1].ToolCalls[0].Function.Arguments; got != `{"message":"hi"}` {
		t.Fatalf("arguments mismatch: got=%s", got)
	}
	if request.Messages[3].Role != openai.ChatMessageRoleUser {
		t.Fatalf("user role mismatch: got=%q", request.Messages[3].Role)
	}
	if request.Model != "gpt-4o-mini" {
		t.Fatalf("model mismatch: got=%q", request.Model)
	}
}

func TestBuildRequest_RejectsToolObservationWithoutAssistantToolCall(t *testing.T) {
	t.Parallel()

	_, err := buildRequest("gpt-4o-mini", agent.ModelRequest{
		Messages: []agent.Message{
			{Role: agent.RoleUser, Content: "hello"},
			{Role: agent.RoleTool, ToolCallID: "call-unknown", Name: "test_echo", Content: "result"},
		},
	})
	if err == nil {
		t.Fatalf("expected buildRequest to fail when tool observation has no assistant tool call")
	}
}

func TestBuildRequest_ToolWithoutSchemaGetsEmptyObject(t *testing.T) {
	t.Parallel()

	request, err := buildRequest("m", agent.ModelRequest{
		ModelID:     "gpt-4o",
		MaxTokens:   128,
		Temperature: 0.5,
		Messages:    []agent.Message{{Role: agent.RoleUser, Content: "hi"}},
		Tools:       []agent.ToolDefinition{{Name: "noop"}},
	})
	if err != nil {
		t.Fatalf("buildRequest returned error: %v", err)
	}
	if request.Model != "gpt-4o" || request.MaxTokens != 128 || request.Temperature != 0.5 {
		t.Fatalf("request settings mismatch: %+v", request)
	}
	params, ok := request.Tools[0].Function.Parameters.(json.RawMessage)
	if !ok {
		t.Fatalf("parameters type = %T", request.Tools[0].Function.Parameters)
	}
	if string(params) != `{"type":"object","properties":{}}` {
		t.Fatalf("parameters mismatch: %s", params)
	}
}

func TestBuildRequest_ReplaysRawArguments(t *testing.T) {
	t.Parallel()

	request, err := buildRequest("m", agent.ModelRequest{
		Messages: []agent.Message{
			{Role: agent.RoleAssistant, ToolCalls: []agent.ToolCall{{ID: "c1", Name: "t", RawArguments: "{not json"}}},
			{Role: agent.RoleTool, ToolCallID: "c1", Name: "t", Content: "invalid"},
		},
	})
	if err != nil {
		t.Fatalf("buildRequest returned error: %v", err)
	}
	if got := request.Messages[0].ToolCalls[0].Function.Arguments; got != "{not json" {
		t.Fatalf("raw arguments mismatch: got=%q", got)
	}
}

func TestGenerate_DecodesToolCalls(t *testing.T) {
	t.Parallel()

	client := &fakeClient{response: assistantReply(openai.ChatCompletionMessage{
		Role: openai.ChatMessageRoleAssistant,
		ToolCalls: []openai.ToolCall{
			{ID: "c1", Type: openai.ToolTypeFunction, Function: openai.FunctionCall{Name: "test_echo", Arguments: `{"message":"hi"}`}},
			{ID: "c2", Type: openai.ToolTypeFunction, Function: openai.FunctionCall{Name: "test_echo", Arguments: `[1,2`}},
		},
	})}
	adapter, err := NewWithClient(client, "gpt-4o-mini")
	if err != nil {
		t.Fatalf("NewWithClient returned error: %v", err)
	}

	message, err := adapter.Generate(context.Background(), agent.ModelRequest{
		Messages: []agent.Message{{Role: agent.RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}

	want := agent.Message{
		Role: agent.RoleAssistant,
		ToolCalls: []agent.ToolCall{
			{ID: "c1", Name: "test_echo", Arguments: map[string]any{"message": "hi"}},
			{ID: "c2", Name: "test_echo", RawArguments: "[1,2"},
		},
	}
	if diff := cmp.Diff(want, message); diff != "" {
		t.Fatalf("message mismatch (-want +got):\n%s", diff)
	}
	if len(client.requests) != 1 || client.requests[0].Model != "gpt-4o-mini" {
		t.Fatalf("unexpected provider requests: %+v", client.requests)
	}
}

func TestGenerate_Errors(t *testing.T) {
	t.Parallel()

	providerErr := errors.New("rate limited")
	tests := []struct {
		name    string
		client  *fakeClient
		wantErr error
	}{
		{name: "transport", client: &fakeClient{err: providerErr}, wantErr: providerErr},
		{name: "no choices", client: &fakeClient{}, wantErr: ErrNoChoices},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			adapter, err := NewWithClient(tt.client, "m")
			if err != nil {
				t.Fatalf("NewWithClient returned error: %v", err)
			}
			_, err = adapter.Generate(context.Background(), agent.ModelRequest{
				Messages: []agent.Message{{Role: agent.RoleUser, Content: "hi"}},
			})
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestGenerate_RejectsNonAssistantReply(t *testing.T) {
	t.Parallel()

	adapter, err := NewWithClient(&fakeClient{response: assistantReply(openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: "echo",
	})}, "m")
	if err != nil {
		t.Fatalf("NewWithClient returned error: %v", err)
	}
	if _, err := adapter.Generate(context.Background(), agent.ModelRequest{}); err == nil {
		t.Fatalf("expected error for non-assistant reply")
	}
}

func TestNew_RequiresKeyAndModel(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{Model: "m"}); !errors.Is(err, ErrAPIKeyRequired) {
		t.Fatalf("missing key error = %v", err)
	}
	if _, err := New(Config{APIKey: "k"}); !errors.Is(err, ErrModelRequired) {
		t.Fatalf("missing model error = %v", err)
	}
	if _, err := New(Config{APIKey: "k", Model: "m", BaseURL: "http://localhost:8080/v1/"}); err != nil {
		t.Fatalf("New returned error: %v", err)
	}
}
