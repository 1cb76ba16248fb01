// Package mcp exposes the dashboard queries and inference as MCP tools, for
// agents that want to browse experiments or prompt the hosted models.
package mcp

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/neuralripper/neuralripper/internal/server"
)

// RegisterTools registers all MCP tools with the server.
func RegisterTools(s *mcpserver.MCPServer, sc *server.ServerContext) error {
	registerModelTools(s, sc)
	registerDashboardTools(s, sc)
	return nil
}

func registerModelTools(s *mcpserver.MCPServer, sc *server.ServerContext) {
	listTool := mcp.NewTool("list_models",
		mcp.WithDescription("List the models with configured inference endpoints"),
	)
	s.AddTool(listTool, withContext(sc, handleListModels))

	generateTool := mcp.NewTool("generate",
		mcp.WithDescription("Generate a completion from a hosted model. The request goes through the same batching broker as the streaming UI; the full completion is returned once generation finishes."),
		mcp.WithString("model",
			mcp.Required(),
			mcp.Description("Model name (must have a configured endpoint, see list_models)"),
		),
		mcp.WithString("prompt",
			mcp.Required(),
			mcp.Description("Prompt text"),
		),
	)
	s.AddTool(generateTool, withContext(sc, handleGenerate))
}

func registerDashboardTools(s *mcpserver.MCPServer, sc *server.ServerContext) {
	listExperiments := mcp.NewTool("list_experiments",
		mcp.WithDescription("List MLflow experiments, sorted by experiment id"),
	)
	s.AddTool(listExperiments, withContext(sc, handleListExperiments))

	listRuns := mcp.NewTool("list_runs",
		mcp.WithDescription("List runs for an experiment, most recently finished first"),
		mcp.WithString("experiment_id",
			mcp.Required(),
			mcp.Description("Experiment id to list runs for"),
		),
	)
	s.AddTool(listRuns, withContext(sc, handleListRuns))

	getRun := mcp.NewTool("get_run",
		mcp.WithDescription("Get one run's metadata, params, and final metric values"),
		mcp.WithString("run_id",
			mcp.Required(),
			mcp.Description("Run id"),
		),
	)
	s.AddTool(getRun, withContext(sc, handleGetRun))

	getMetricHistory := mcp.NewTool("get_metric_history",
		mcp.WithDescription("Get the full time series of one metric for a run"),
		mcp.WithString("run_id",
			mcp.Required(),
			mcp.Description("Run id"),
		),
		mcp.WithString("metric",
			mcp.Required(),
			mcp.Description("Metric name (see get_run for available names)"),
		),
	)
	s.AddTool(getMetricHistory, withContext(sc, handleGetMetricHistory))
}

type toolHandler func(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error)

// withContext binds the shared server context into a tool handler.
func withContext(sc *server.ServerContext, h toolHandler) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return h(ctx, request, sc)
	}
}
