package search

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/time/rate"

	"github.com/sweetpotato0/ai-research/gateway"
	"github.com/sweetpotato0/ai-research/mcp"
	"github.com/sweetpotato0/ai-research/pkg/metrics"
	"github.com/sweetpotato0/ai-research/retry"
)

// MCPToolName is the tool a websearch MCP server must expose.
const MCPToolName = "websearch"

// MCPConfig configures a client for a websearch tool served over MCP.
type MCPConfig struct {
	Endpoint string // streamable HTTP endpoint, e.g. http://search:8000/mcp
	RPS      float64
}

// MCP runs searches through the websearch tool of a remote MCP server.
type MCP struct {
	client  *mcp.Client
	policy  retry.Policy
	limiter *rate.Limiter
}

var _ Searcher = (*MCP)(nil)

type mcpArgs struct {
	Query string `json:"query"`
	Count int    `json:"count"`
}

// NewMCP connects to the server and checks that it offers the websearch tool.
func NewMCP(ctx context.Context, cfg MCPConfig, opts ...mcp.Option) (*MCP, error) {
	client, err := mcp.NewStreamableClient(ctx, cfg.Endpoint, opts...)
	if err != nil {
		return nil, err
	}
	names, err := client.ToolNames(ctx)
	if err != nil {
		client.Close()
		return nil, err
	}
	found := false
	for _, name := range names {
		if name == MCPToolName {
			found = true
			break
		}
	}
	if !found {
		client.Close()
		return nil, fmt.Errorf("mcp server %q does not expose the %s tool", client.Server().Name, MCPToolName)
	}
	return &MCP{
		client:  client,
		policy:  gateway.HTTPPolicy("search"),
		limiter: newLimiter(cfg.RPS, 1),
	}, nil
}

// Search implements Searcher.
func (m *MCP) Search(ctx context.Context, query string, count int) ([]Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("search query cannot be empty")
	}
	count = clampCount(count)

	out, err := retry.DoValue(ctx, m.policy, func(ctx context.Context) (*remoteResponse, error) {
		if err := wait(ctx, m.limiter); err != nil {
			return nil, err
		}
		res, err := m.client.CallTool(ctx, MCPToolName, mcpArgs{Query: query, Count: count})
		if err != nil {
			return nil, err
		}
		var decoded remoteResponse
		if err := res.Decode(&decoded); err != nil {
			return nil, err
		}
		return &decoded, nil
	})
	if err != nil {
		metrics.GatewayRequests.WithLabelValues("search", "error").Inc()
		return nil, fmt.Errorf("mcp websearch: %w", err)
	}
	metrics.GatewayRequests.WithLabelValues("search", "ok").Inc()

	results := out.Results
	if len(results) > count {
		results = results[:count]
	}
	return results, nil
}

// Close ends the MCP session.
func (m *MCP) Close() error {
	return m.client.Close()
}
