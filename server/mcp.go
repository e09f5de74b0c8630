package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type researchArgs struct {
	Query     string `json:"query" jsonschema:"The research question to answer"`
	EndUserID string `json:"end_user_id,omitempty" jsonschema:"Optional end user identifier forwarded to the document store"`
}

type websearchArgs struct {
	Query string `json:"query" jsonschema:"Search query"`
	Count int    `json:"count,omitempty" jsonschema:"Number of results, 1 to 10"`
}

// newMCPServer builds the MCP server exposing the research tool, plus websearch when
// a searcher is configured.
func (s *Server) newMCPServer() *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "ai-research",
		Title:   "Iterative research assistant",
		Version: s.version,
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "research",
		Description: "Answer a question with cited web and document evidence, re-planning until the answer passes evaluation",
	}, s.researchTool)

	if s.search != nil {
		mcp.AddTool(server, &mcp.Tool{
			Name:        "websearch",
			Description: "Run one web search and return title, link and snippet per result",
		}, s.websearchTool)
	}
	return server
}

func (s *Server) researchTool(ctx context.Context, _ *mcp.CallToolRequest, a researchArgs) (*mcp.CallToolResult, any, error) {
	resp, err := s.Research(ctx, Request{Query: a.Query, EndUserID: a.EndUserID})
	if err != nil {
		return nil, nil, err
	}
	return &mcp.CallToolResult{
		Content:           []mcp.Content{&mcp.TextContent{Text: resp.FinalAnswer}},
		StructuredContent: resp,
	}, nil, nil
}

func (s *Server) websearchTool(ctx context.Context, _ *mcp.CallToolRequest, a websearchArgs) (*mcp.CallToolResult, any, error) {
	resp, err := s.Websearch(ctx, WebsearchRequest{Query: a.Query, Count: a.Count})
	if err != nil {
		return nil, nil, err
	}
	text, err := json.Marshal(resp)
	if err != nil {
		return nil, nil, err
	}
	return &mcp.CallToolResult{
		Content:           []mcp.Content{&mcp.TextContent{Text: string(text)}},
		StructuredContent: resp,
	}, nil, nil
}

func mcpHandler(server *mcp.Server) http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return server
	}, nil)
}
