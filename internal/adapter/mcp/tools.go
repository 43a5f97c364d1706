package mcp

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/Strob0t/flowgate/internal/domain"
	"github.com/Strob0t/flowgate/internal/domain/tool"
	"github.com/Strob0t/flowgate/internal/logger"
)

// registerTools registers every catalog tool with its JSON schema.
func (s *Server) registerTools() {
	if s.deps.Dispatcher == nil {
		return
	}
	descs := s.deps.Dispatcher.Tools()
	tools := make([]mcpserver.ServerTool, 0, len(descs))
	for _, d := range descs {
		tools = append(tools, mcpserver.ServerTool{
			Tool:    mcplib.NewToolWithRawSchema(d.Name, describe(d), schemaOf(d)),
			Handler: s.toolHandler(d.Name),
		})
	}
	s.mcpServer.AddTools(tools...)
}

func describe(d tool.Descriptor) string {
	if d.Description == "" {
		return d.Summary
	}
	return d.Summary + ". " + d.Description
}

func schemaOf(d tool.Descriptor) json.RawMessage {
	if len(d.Schema) == 0 {
		return json.RawMessage(`{"type":"object","properties":{}}`)
	}
	return d.Schema
}

func (s *Server) toolHandler(name string) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
		params, err := json.Marshal(req.GetRawArguments())
		if err != nil {
			return mcplib.NewToolResultErrorFromErr("failed to encode arguments", err), nil
		}
		if string(params) == "null" {
			params = []byte("{}")
		}
		requestID := logger.RequestID(ctx)
		if requestID == "" {
			requestID = uuid.NewString()
		}

		result, err := s.deps.Dispatcher.Dispatch(ctx, tool.Invocation{
			Tool:      name,
			Params:    params,
			RequestID: requestID,
		})
		if err != nil {
			return errorResult(err), nil
		}
		data, err := json.Marshal(result)
		if err != nil {
			slog.Error("mcp: marshal tool result", "tool", name, "request_id", requestID, "error", err)
			return mcplib.NewToolResultErrorFromErr("failed to encode result", err), nil
		}
		return toolResultJSON(string(data)), nil
	}
}

// errorResult renders a classified failure as an MCP tool error whose
// text is the JSON error payload.
func errorResult(err error) *mcplib.CallToolResult {
	data, _ := json.Marshal(map[string]any{"error": domain.PayloadOf(err)})
	return mcplib.NewToolResultError(string(data))
}

func toolResultJSON(data string) *mcplib.CallToolResult {
	return mcplib.NewToolResultText(data)
}
