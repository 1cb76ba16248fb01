package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/neuralripper/neuralripper/internal/server"
)

func handleListExperiments(ctx context.Context, _ mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	experiments, err := sc.Tracker.SearchExperiments(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list experiments: %v", err)), nil
	}
	return marshalResult(experiments)
}

func handleListRuns(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	eid, ok := request.GetArguments()["experiment_id"].(string)
	if !ok || eid == "" {
		return mcp.NewToolResultError("experiment_id is required"), nil
	}

	runs, err := sc.Tracker.SearchRuns(ctx, eid)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list runs: %v", err)), nil
	}
	return marshalResult(runs)
}

func handleGetRun(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	rid, ok := request.GetArguments()["run_id"].(string)
	if !ok || rid == "" {
		return mcp.NewToolResultError("run_id is required"), nil
	}

	run, err := sc.Tracker.GetRun(ctx, rid)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to get run: %v", err)), nil
	}
	return marshalResult(run)
}

func handleGetMetricHistory(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	rid, ok := args["run_id"].(string)
	if !ok || rid == "" {
		return mcp.NewToolResultError("run_id is required"), nil
	}
	metric, ok := args["metric"].(string)
	if !ok || metric == "" {
		return mcp.NewToolResultError("metric is required"), nil
	}

	history, err := sc.Tracker.GetMetricHistory(ctx, rid, metric)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to get metric history: %v", err)), nil
	}
	return marshalResult(history)
}

func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
