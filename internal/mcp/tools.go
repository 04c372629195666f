package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/cadre-oss/memchat/internal/provider"
	"github.com/cadre-oss/memchat/internal/telemetry"
	"github.com/cadre-oss/memchat/internal/tools"
)

// registerTools adds the memory tools with the same schemas the chat agent
// is given.
func registerTools(s *server.MCPServer, exec *tools.Executor, logger *telemetry.Logger) error {
	for _, def := range tools.Definitions() {
		schema, err := json.Marshal(def.InputSchema)
		if err != nil {
			return fmt.Errorf("encode %s schema: %w", def.Name, err)
		}
		s.AddTool(mcpgo.NewToolWithRawSchema(def.Name, def.Description, schema), callHandler(exec, logger))
	}
	return nil
}

// callHandler runs one tools/call through exec. Tool-level failures come
// back as an isError result; malformed arguments fail the request.
func callHandler(exec *tools.Executor, logger *telemetry.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
		input := json.RawMessage("{}")
		if req.Params.Arguments != nil {
			raw, err := json.Marshal(req.Params.Arguments)
			if err != nil {
				return nil, fmt.Errorf("encode arguments: %w", err)
			}
			input = raw
		}

		res, err := exec.Run(ctx, provider.ToolCall{
			ID:    uuid.NewString(),
			Name:  req.Params.Name,
			Input: input,
		})
		if err != nil {
			return nil, err
		}

		logger.Debug("MCP tool call", "tool", req.Params.Name, "is_error", res.IsError)
		if res.IsError {
			return mcpgo.NewToolResultError(res.Content), nil
		}
		return mcpgo.NewToolResultText(res.Content), nil
	}
}
