package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/neuralripper/neuralripper/internal/server"
)

func handleListModels(_ context.Context, _ mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(sc.Registry.Models(), "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal models: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func handleGenerate(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	args := request.GetArguments()

	model, ok := args["model"].(string)
	if !ok || model == "" {
		return mcp.NewToolResultError("model is required"), nil
	}
	prompt, ok := args["prompt"].(string)
	if !ok {
		return mcp.NewToolResultError("prompt is required"), nil
	}

	events, err := sc.Broker.Submit(ctx, model, prompt)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to submit request: %v", err)), nil
	}

	var b strings.Builder
	for {
		select {
		case <-ctx.Done():
			return mcp.NewToolResultError(fmt.Sprintf("generation cancelled: %v", ctx.Err())), nil
		case ev := <-events:
			switch {
			case ev.Err != "":
				return mcp.NewToolResultError(fmt.Sprintf("generation failed: %s", ev.Err)), nil
			case ev.Done:
				return mcp.NewToolResultText(b.String()), nil
			default:
				b.WriteString(ev.Token)
			}
		}
	}
}
