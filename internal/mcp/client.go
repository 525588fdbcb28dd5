// ABOUTME: Tool-provider client speaking MCP over SSE or streamable HTTP.
// ABOUTME: Wraps mark3labs/mcp-go with connect, tool discovery, and call helpers.

package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/2389/coven-runtime/internal/config"
)

// ErrUnknownTransport is returned for a transport other than sse or streamable_http.
var ErrUnknownTransport = errors.New("unknown mcp transport")

// ErrNotConnected is returned when a call is made before Connect succeeds.
var ErrNotConnected = errors.New("mcp client not connected")

// ClientName is reported to servers during the initialize handshake.
const ClientName = "coven-runtime"

// Tool is a tool advertised by a provider.
type Tool struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// Result is the outcome of a tool call.
type Result struct {
	Text    string
	IsError bool
}

// Client is one configured tool provider.
type Client struct {
	slot   string
	cfg    config.MCPServerConfig
	logger *slog.Logger

	mu     sync.RWMutex
	conn   *mcpclient.Client
	cancel context.CancelFunc
	tools  []Tool
}

// New validates the slot and prepares a client. No network traffic happens
// until Connect.
func New(slot string, cfg config.MCPServerConfig, logger *slog.Logger) (*Client, error) {
	switch cfg.Transport {
	case config.TransportSSE, config.TransportStreamableHTTP:
	default:
		return nil, fmt.Errorf("%w %q for %q", ErrUnknownTransport, cfg.Transport, slot)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		slot:   slot,
		cfg:    cfg,
		logger: logger.With("component", "mcp", "slot", slot, "transport", cfg.Transport),
	}, nil
}

// Name returns the slot name.
func (c *Client) Name() string {
	return c.slot
}

func (c *Client) newTransportClient() (*mcpclient.Client, error) {
	if c.cfg.Transport == config.TransportSSE {
		return mcpclient.NewSSEMCPClient(c.cfg.URL, transport.WithHeaders(c.cfg.Headers))
	}
	opts := []transport.StreamableHTTPCOption{transport.WithHTTPHeaders(c.cfg.Headers)}
	if c.cfg.Timeout > 0 {
		opts = append(opts, transport.WithHTTPTimeout(c.cfg.Timeout.Std()))
	}
	return mcpclient.NewStreamableHttpClient(c.cfg.URL, opts...)
}

// Connect opens the transport, performs the initialize handshake, and caches
// the advertised tools. The SSE stream stays open until Close.
func (c *Client) Connect(ctx context.Context, version string) error {
	conn, err := c.newTransportClient()
	if err != nil {
		return fmt.Errorf("creating %s client for %q: %w", c.cfg.Transport, c.slot, err)
	}

	// The stream outlives ctx, so it gets its own lifetime context.
	life, cancel := context.WithCancel(context.Background())
	if err := c.start(ctx, life, conn); err != nil {
		cancel()
		conn.Close()
		return err
	}

	callCtx, callCancel := c.callContext(ctx)
	defer callCancel()

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: ClientName, Version: version}
	info, err := conn.Initialize(callCtx, initReq)
	if err != nil {
		cancel()
		conn.Close()
		return fmt.Errorf("initializing %q: %w", c.slot, err)
	}

	listed, err := conn.ListTools(callCtx, mcp.ListToolsRequest{})
	if err != nil {
		cancel()
		conn.Close()
		return fmt.Errorf("listing tools for %q: %w", c.slot, err)
	}

	tools := make([]Tool, 0, len(listed.Tools))
	for _, t := range listed.Tools {
		tools = append(tools, convertTool(t))
	}

	c.mu.Lock()
	c.conn, c.cancel, c.tools = conn, cancel, tools
	c.mu.Unlock()

	c.logger.Info("tool provider connected",
		"url", c.cfg.URL,
		"server", info.ServerInfo.Name,
		"tools", len(tools),
	)
	return nil
}

// start runs the transport's Start, bounded by sse_read_timeout for SSE
// (the call blocks until the server announces its message endpoint).
func (c *Client) start(ctx, life context.Context, conn *mcpclient.Client) error {
	wait := c.cfg.SSEReadTimeout.Std()
	if c.cfg.Transport != config.TransportSSE || wait <= 0 {
		if err := conn.Start(life); err != nil {
			return fmt.Errorf("starting %q: %w", c.slot, err)
		}
		return nil
	}

	done := make(chan error, 1)
	go func() { done <- conn.Start(life) }()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("starting %q: %w", c.slot, err)
		}
		return nil
	case <-time.After(wait):
		return fmt.Errorf("starting %q: no endpoint event within %s", c.slot, wait)
	case <-ctx.Done():
		return fmt.Errorf("starting %q: %w", c.slot, ctx.Err())
	}
}

func (c *Client) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.cfg.Timeout > 0 {
		return context.WithTimeout(ctx, c.cfg.Timeout.Std())
	}
	return context.WithCancel(ctx)
}

// Tools returns the tools advertised at connect time.
func (c *Client) Tools() []Tool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Tool, len(c.tools))
	copy(out, c.tools)
	return out
}

// CallTool invokes a tool by the name the provider advertised.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (*Result, error) {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotConnected, c.slot)
	}

	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	res, err := conn.CallTool(callCtx, req)
	if err != nil {
		return nil, fmt.Errorf("calling %s/%s: %w", c.slot, name, err)
	}

	var parts []string
	for _, content := range res.Content {
		if text, ok := mcp.AsTextContent(content); ok {
			parts = append(parts, text.Text)
		}
	}
	return &Result{Text: strings.Join(parts, "\n"), IsError: res.IsError}, nil
}

// Close ends the session. Calling it on an unconnected client is a no-op.
func (c *Client) Close() error {
	c.mu.Lock()
	conn, cancel := c.conn, c.cancel
	c.conn, c.cancel, c.tools = nil, nil, nil
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	err := conn.Close()
	cancel()
	c.logger.Debug("tool provider closed")
	return err
}

func convertTool(t mcp.Tool) Tool {
	out := Tool{Name: t.Name, Description: t.Description}
	raw, err := json.Marshal(t)
	if err != nil {
		return out
	}
	var decoded struct {
		InputSchema map[string]any `json:"inputSchema"`
	}
	if json.Unmarshal(raw, &decoded) == nil {
		out.InputSchema = decoded.InputSchema
	}
	return out
}
