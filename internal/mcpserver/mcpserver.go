// Package mcpserver exposes research sessions as an MCP tool so that other
// agents can delegate deep research to this process.
package mcpserver

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/TobiSchelling/AIResearch/internal/pipeline"
)

// ToolName is the name under which research sessions are offered.
const ToolName = "deep_research"

// Runner runs one research session.
type Runner interface {
	Run(ctx context.Context, query string, opts pipeline.Options) (*pipeline.Result, error)
}

// ResearchInput is the tool's argument object.
type ResearchInput struct {
	Query         string `json:"query" jsonschema:"the research question to investigate"`
	MaxIterations int    `json:"max_iterations,omitempty" jsonschema:"upper bound on draft and review cycles, defaults to the configured value"`
}

// ResearchOutput is the structured part of the tool result. The markdown
// report is returned as text content.
type ResearchOutput struct {
	SessionID        string `json:"session_id"`
	Status           string `json:"status"`
	IterationLimited bool   `json:"iteration_limited"`
	Iterations       int    `json:"iterations"`
	ReportPath       string `json:"report_path,omitempty"`
}

// NewServer builds an MCP server with the deep_research tool.
func NewServer(runner Runner, version string, logger *slog.Logger) *mcp.Server {
	if logger == nil {
		logger = slog.Default()
	}
	server := mcp.NewServer(&mcp.Implementation{Name: "airesearch", Version: version}, nil)

	mcp.AddTool(
		server,
		&mcp.Tool{
			Name: ToolName,
			Description: "Research a question with a planner, web search, summarizers, a report writer and a " +
				"reviewer that loop until the report is approved or the iteration limit is reached. " +
				"Returns the final markdown report with numbered references.",
		},
		func(ctx context.Context, _ *mcp.CallToolRequest, in ResearchInput) (*mcp.CallToolResult, ResearchOutput, error) {
			query := strings.TrimSpace(in.Query)
			if query == "" {
				return nil, ResearchOutput{}, errors.New("query is required")
			}
			if in.MaxIterations < 0 {
				return nil, ResearchOutput{}, errors.New("max_iterations must not be negative")
			}

			logger.Info("mcp research request", "query", query, "max_iterations", in.MaxIterations)
			res, err := runner.Run(ctx, query, pipeline.Options{MaxIterations: in.MaxIterations})
			if err != nil && res == nil {
				return nil, ResearchOutput{}, err
			}
			if err != nil {
				logger.Warn("research session finished with a storage error", "error", err)
			}

			out := ResearchOutput{
				SessionID:        res.Session.ID,
				Status:           string(res.Session.Status),
				IterationLimited: res.Session.IterationLimited,
				Iterations:       res.Session.Iterations,
				ReportPath:       res.ReportPath,
			}
			return &mcp.CallToolResult{
				Content: []mcp.Content{&mcp.TextContent{Text: res.Markdown}},
				IsError: res.Aborted(),
			}, out, nil
		},
	)
	return server
}

// Handler serves server over the streamable HTTP transport.
func Handler(server *mcp.Server) http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return server
	}, nil)
}
