// Package mcp is a thin client over the official MCP Go SDK for calling tools on a
// remote server through the streamable HTTP transport.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/sweetpotato0/ai-research/pkg/logging"
)

var (
	// ErrClientClosed is returned when the MCP client has been closed.
	ErrClientClosed = errors.New("mcp client closed")

	// ErrToolFailed is returned when the server reports a tool error.
	ErrToolFailed = errors.New("mcp tool failed")
)

// Option configures optional MCP client behaviour.
type Option func(*clientConfig)

type clientConfig struct {
	implementation    sdkmcp.Implementation
	logger            *slog.Logger
	keepAlive         time.Duration
	httpClient        *http.Client
	streamableRetries *int
}

// WithClientInfo sets the client metadata advertised to the MCP server.
func WithClientInfo(info ClientInfo) Option {
	return func(cfg *clientConfig) {
		if info.Name != "" {
			cfg.implementation.Name = info.Name
		}
		if info.Title != "" {
			cfg.implementation.Title = info.Title
		}
		if info.Version != "" {
			cfg.implementation.Version = info.Version
		}
	}
}

// WithLogger configures logging for the MCP client.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *clientConfig) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}

// WithKeepAlive sets the ping interval used to detect dead sessions.
func WithKeepAlive(interval time.Duration) Option {
	return func(cfg *clientConfig) {
		cfg.keepAlive = interval
	}
}

// WithHTTPClient sets the HTTP client used by the streamable transport.
func WithHTTPClient(client *http.Client) Option {
	return func(cfg *clientConfig) {
		cfg.httpClient = client
	}
}

// WithStreamableMaxRetries overrides the retry count for reconnect attempts when using
// the streamable HTTP transport.
func WithStreamableMaxRetries(retries int) Option {
	return func(cfg *clientConfig) {
		cfg.streamableRetries = &retries
	}
}

// ClientInfo describes the client metadata sent to the MCP server.
type ClientInfo struct {
	Name    string `json:"name"`
	Title   string `json:"title,omitempty"`
	Version string `json:"version"`
}

// ServerInfo contains information about the connected MCP server.
type ServerInfo struct {
	Name    string `json:"name"`
	Title   string `json:"title,omitempty"`
	Version string `json:"version"`
}

// ToolResult is the outcome of a successful tool call.
type ToolResult struct {
	// Text joins the text content blocks.
	Text string
	// Structured is the structured content re-encoded as JSON, nil when absent.
	Structured json.RawMessage
}

// Decode unmarshals the structured content into v, falling back to the text content
// when the server sent no structured content.
func (r *ToolResult) Decode(v any) error {
	raw := r.Structured
	if len(raw) == 0 {
		raw = json.RawMessage(r.Text)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("mcp: decode tool result: %w", err)
	}
	return nil
}

// Client wraps the official MCP Go SDK client and session.
type Client struct {
	sdkClient *sdkmcp.Client
	session   *sdkmcp.ClientSession
	server    ServerInfo

	logger *slog.Logger

	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// NewStreamableClient connects to an MCP server over the streamable HTTP transport
// and performs the initialization handshake.
func NewStreamableClient(ctx context.Context, endpoint string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(endpoint) == "" {
		return nil, errors.New("mcp: endpoint cannot be empty")
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	client := &Client{
		logger: cfg.logger,
		done:   make(chan struct{}),
	}

	clientOpts := &sdkmcp.ClientOptions{
		LoggingMessageHandler: func(_ context.Context, req *sdkmcp.LoggingMessageRequest) {
			if req != nil && req.Params != nil {
				client.logger.Debug("mcp server log", "level", req.Params.Level, "data", req.Params.Data)
			}
		},
		KeepAlive: cfg.keepAlive,
	}
	client.sdkClient = sdkmcp.NewClient(&cfg.implementation, clientOpts)

	transport := &sdkmcp.StreamableClientTransport{
		Endpoint: endpoint,
	}
	if cfg.httpClient != nil {
		transport.HTTPClient = cfg.httpClient
	}
	if cfg.streamableRetries != nil {
		transport.MaxRetries = *cfg.streamableRetries
	}

	session, err := client.sdkClient.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("mcp: connect failed: %w", err)
	}
	client.session = session
	if res := session.InitializeResult(); res != nil && res.ServerInfo != nil {
		client.server = ServerInfo{
			Name:    res.ServerInfo.Name,
			Title:   res.ServerInfo.Title,
			Version: res.ServerInfo.Version,
		}
	}

	go client.monitorSession()

	return client, nil
}

// Server returns the server metadata from the handshake.
func (c *Client) Server() ServerInfo {
	return c.server
}

// ToolNames lists the tools the server advertises.
func (c *Client) ToolNames(ctx context.Context) ([]string, error) {
	if c.closed() {
		return nil, ErrClientClosed
	}
	var names []string
	for tool, err := range c.session.Tools(ctx, nil) {
		if err != nil {
			return nil, fmt.Errorf("mcp: list tools: %w", err)
		}
		names = append(names, tool.Name)
	}
	return names, nil
}

// CallTool invokes name with args. A tool-level failure is reported as ErrToolFailed
// carrying the server's message.
func (c *Client) CallTool(ctx context.Context, name string, args any) (*ToolResult, error) {
	if c.closed() {
		return nil, ErrClientClosed
	}
	res, err := c.session.CallTool(ctx, &sdkmcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		return nil, fmt.Errorf("mcp: call %s: %w", name, err)
	}

	var texts []string
	for _, content := range res.Content {
		if tc, ok := content.(*sdkmcp.TextContent); ok {
			texts = append(texts, tc.Text)
		}
	}
	out := &ToolResult{Text: strings.Join(texts, "\n")}
	if res.IsError {
		return nil, fmt.Errorf("%w: %s: %s", ErrToolFailed, name, out.Text)
	}
	if res.StructuredContent != nil {
		raw, err := json.Marshal(res.StructuredContent)
		if err != nil {
			return nil, fmt.Errorf("mcp: encode structured content: %w", err)
		}
		out.Structured = raw
	}
	return out, nil
}

// Close terminates the MCP client and underlying transport.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		if c.session != nil {
			c.closeErr = c.session.Close()
		}
		close(c.done)
	})
	return c.closeErr
}

// Done returns a channel that is closed when the client shuts down.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *Client) monitorSession() {
	if err := c.session.Wait(); err != nil && !errors.Is(err, sdkmcp.ErrConnectionClosed) {
		c.logger.Warn("mcp session ended with error", "error", err)
	}
	_ = c.Close()
}

func defaultConfig() clientConfig {
	return clientConfig{
		implementation: sdkmcp.Implementation{
			Name:    "ai-research",
			Version: "0.1.0",
		},
		logger: logging.WithComponent("mcp"),
	}
}
