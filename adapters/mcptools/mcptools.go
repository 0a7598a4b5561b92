// Package mcptools exposes the tools of a Model Context Protocol server as
// executables.
package mcptools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/Gurpartap/promptgraph/executable"
	"github.com/Gurpartap/promptgraph/internal/ctxlog"
)

const toolVersion = "mcp"

var (
	// ErrNilClient is returned when no MCP client is supplied.
	ErrNilClient = errors.New("mcp client is nil")
	// ErrToolReported is returned when a tool ran and flagged its own result as an error.
	ErrToolReported = errors.New("mcp tool reported an error")
)

// Client is the subset of the mcp-go client used here.
type Client interface {
	ListTools(ctx context.Context, request mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)
}

// StdioServer launches command as a stdio MCP server and completes the
// initialize handshake. The caller owns the returned client and must Close it.
func StdioServer(ctx context.Context, command string, env []string, args ...string) (mcpclient.MCPClient, error) {
	client, err := mcpclient.NewStdioMCPClient(command, env, args...)
	if err != nil {
		return nil, fmt.Errorf("start mcp server %q: %w", command, err)
	}
	initRequest := mcp.InitializeRequest{}
	initRequest.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initRequest.Params.ClientInfo = mcp.Implementation{Name: "promptgraph", Version: "1.0.0"}
	if _, err := client.Initialize(ctx, initRequest); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("initialize mcp server %q: %w", command, err)
	}
	return client, nil
}

// Registry lists the server's tools once and wraps each one as an executable.
func Registry(ctx context.Context, client Client) (*executable.Registry, error) {
	if client == nil {
		return nil, ErrNilClient
	}
	listed, err := client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("list mcp tools: %w", err)
	}
	if listed == nil {
		return executable.NewRegistry()
	}

	execs := make([]executable.Executable, 0, len(listed.Tools))
	for _, tool := range listed.Tools {
		schema, err := inputSchema(tool.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("mcp tool %q: %w", tool.Name, err)
		}
		execs = append(execs, &Tool{
			client:      client,
			name:        tool.Name,
			description: tool.Description,
			schema:      schema,
		})
	}
	ctxlog.FromContext(ctx).Debug("Loaded MCP tools.", "count", len(execs))
	return executable.NewRegistry(execs...)
}

// inputSchema renders the declared schema as an object schema, which is what
// chat models expect for function parameters.
func inputSchema(in mcp.ToolInputSchema) (json.RawMessage, error) {
	schema := map[string]any{"type": "object"}
	if in.Properties == nil {
		schema["properties"] = map[string]any{}
	} else {
		schema["properties"] = in.Properties
	}
	if len(in.Required) > 0 {
		schema["required"] = in.Required
	}
	encoded, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("encode input schema: %w", err)
	}
	return encoded, nil
}

// Tool is one remote MCP tool. Its output is the tool's text content encoded
// as a JSON string.
type Tool struct {
	client      Client
	name        string
	description string
	schema      json.RawMessage
}

var _ executable.Executable = (*Tool)(nil)

func (t *Tool) Name() string                  { return t.name }
func (t *Tool) Description() string           { return t.description }
func (t *Tool) Version() string               { return toolVersion }
func (t *Tool) InputSchema() json.RawMessage  { return t.schema }
func (t *Tool) OutputSchema() json.RawMessage { return nil }

func (t *Tool) Execute(ctx context.Context, input json.RawMessage, _ *executable.ExecContext) (json.RawMessage, error) {
	var arguments map[string]interface{}
	if len(strings.TrimSpace(string(input))) > 0 {
		if err := json.Unmarshal(input, &arguments); err != nil {
			return nil, fmt.Errorf("decode arguments for mcp tool %q: %w", t.name, err)
		}
	}

	request := mcp.CallToolRequest{}
	request.Params.Name = t.name
	request.Params.Arguments = arguments

	result, err := t.client.CallTool(ctx, request)
	if err != nil {
		return nil, fmt.Errorf("call mcp tool %q: %w", t.name, err)
	}
	text := contentText(result)
	if result != nil && result.IsError {
		return nil, fmt.Errorf("%w: tool=%s: %s", ErrToolReported, t.name, text)
	}
	return json.Marshal(text)
}

// contentText joins text parts; other content kinds are embedded as JSON.
func contentText(result *mcp.CallToolResult) string {
	if result == nil {
		return ""
	}
	parts := make([]string, 0, len(result.Content))
	for _, item := range result.Content {
		switch v := item.(type) {
		case mcp.TextContent:
			parts = append(parts, v.Text)
		case *mcp.TextContent:
			parts = append(parts, v.Text)
		default:
			encoded, err := json.Marshal(v)
			if err != nil {
				parts = append(parts, fmt.Sprintf("[unsupported content %T]", v))
				continue
			}
			parts = append(parts, string(encoded))
		}
	}
	return strings.Join(parts, "\n")
}
