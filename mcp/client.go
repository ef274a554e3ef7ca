// Package mcp executes tool calls against external MCP servers.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	mcpprotocol "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/fwojciec/relay"
)

// Transport selects how a Client reaches its server.
type Transport string

const (
	TransportStdio          Transport = "stdio"
	TransportSSE            Transport = "sse"
	TransportStreamableHTTP Transport = "http"
)

// Endpoint describes one MCP server.
type Endpoint struct {
	Name      string            `yaml:"name"`
	Transport Transport         `yaml:"transport"`
	Command   string            `yaml:"command"`
	Args      []string          `yaml:"args"`
	Env       map[string]string `yaml:"env"`
	URL       string            `yaml:"url"`
	Headers   map[string]string `yaml:"headers"`
}

// ErrToolFailed marks a call the server reported as failed.
var ErrToolFailed = errors.New("mcp: tool failed")

// Client is an initialized connection to one MCP server.
type Client struct {
	name string
	c    *mcpclient.Client
}

// Connect starts the transport for ep and performs the MCP handshake.
func Connect(ctx context.Context, ep Endpoint) (*Client, error) {
	c, err := newTransportClient(ep)
	if err != nil {
		return nil, fmt.Errorf("mcp: %s: %w", ep.Name, err)
	}
	return start(ctx, ep.Name, c)
}

// ConnectInProcess connects to a server running in the same process.
func ConnectInProcess(ctx context.Context, name string, srv *server.MCPServer) (*Client, error) {
	c, err := mcpclient.NewInProcessClient(srv)
	if err != nil {
		return nil, fmt.Errorf("mcp: %s: %w", name, err)
	}
	return start(ctx, name, c)
}

func newTransportClient(ep Endpoint) (*mcpclient.Client, error) {
	switch ep.Transport {
	case TransportStdio:
		env := make([]string, 0, len(ep.Env))
		for k, v := range ep.Env {
			env = append(env, k+"="+v)
		}
		return mcpclient.NewStdioMCPClient(ep.Command, env, ep.Args...)
	case TransportSSE:
		var opts []transport.ClientOption
		if len(ep.Headers) > 0 {
			opts = append(opts, transport.WithHeaders(ep.Headers))
		}
		return mcpclient.NewSSEMCPClient(ep.URL, opts...)
	case TransportStreamableHTTP:
		var opts []transport.StreamableHTTPCOption
		if len(ep.Headers) > 0 {
			opts = append(opts, transport.WithHTTPHeaders(ep.Headers))
		}
		return mcpclient.NewStreamableHttpClient(ep.URL, opts...)
	default:
		return nil, fmt.Errorf("unsupported transport %q", ep.Transport)
	}
}

func start(ctx context.Context, name string, c *mcpclient.Client) (*Client, error) {
	if err := c.Start(ctx); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("mcp: %s: start: %w", name, err)
	}
	req := mcpprotocol.InitializeRequest{}
	req.Params.ProtocolVersion = mcpprotocol.LATEST_PROTOCOL_VERSION
	req.Params.ClientInfo = mcpprotocol.Implementation{Name: "relay", Version: "1.0.0"}
	if _, err := c.Initialize(ctx, req); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("mcp: %s: initialize: %w", name, err)
	}
	return &Client{name: name, c: c}, nil
}

// Name returns the endpoint name.
func (c *Client) Name() string { return c.name }

// ListTools returns the server's tools with their input schemas.
func (c *Client) ListTools(ctx context.Context) ([]relay.Tool, error) {
	res, err := c.c.ListTools(ctx, mcpprotocol.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("mcp: %s: list tools: %w", c.name, err)
	}
	tools := make([]relay.Tool, 0, len(res.Tools))
	for _, t := range res.Tools {
		schema := t.RawInputSchema
		if schema == nil {
			if schema, err = json.Marshal(t.InputSchema); err != nil {
				return nil, fmt.Errorf("mcp: %s: tool %s schema: %w", c.name, t.Name, err)
			}
		}
		tools = append(tools, relay.Tool{Name: t.Name, Description: t.Description, Parameters: schema})
	}
	return tools, nil
}

// CallTool invokes name with args. Structured results are returned as is;
// text results are wrapped as {"content": text}. A result flagged as an
// error returns ErrToolFailed carrying the text.
func (c *Client) CallTool(ctx context.Context, name string, args json.RawMessage) (json.RawMessage, error) {
	req := mcpprotocol.CallToolRequest{}
	req.Params.Name = name
	if len(args) > 0 {
		req.Params.Arguments = args
	}
	res, err := c.c.CallTool(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("mcp: %s: call %s: %w", c.name, name, err)
	}

	text := resultText(res)
	if res.IsError {
		return nil, fmt.Errorf("%w: %s", ErrToolFailed, text)
	}
	if res.StructuredContent != nil {
		out, err := json.Marshal(res.StructuredContent)
		if err != nil {
			return nil, fmt.Errorf("mcp: %s: call %s: %w", c.name, name, err)
		}
		return out, nil
	}
	return json.Marshal(struct {
		Content string `json:"content"`
	}{text})
}

// Close shuts down the transport.
func (c *Client) Close() error {
	return c.c.Close()
}

func resultText(res *mcpprotocol.CallToolResult) string {
	var parts []string
	for _, content := range res.Content {
		if t, ok := mcpprotocol.AsTextContent(content); ok {
			parts = append(parts, t.Text)
		}
	}
	return strings.Join(parts, "\n")
}
