package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/nikolaivetrov/crashlens/internal/analyzer"
	"github.com/nikolaivetrov/crashlens/internal/model"
)

// analyzeDumpTimeout bounds one tool call; a hung debugger subprocess
// should fail the call rather than hang the MCP session.
const analyzeDumpTimeout = analyzer.DumpTimeout

// handleAnalyzeDump runs the crash pipeline over the requested dump and
// returns the finalized report as the tool's text content.
func handleAnalyzeDump(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ctx, cancel := context.WithTimeout(ctx, analyzeDumpTimeout+time.Second)
	defer cancel()

	args := getArgs(request)
	dumpPath := stringArg(args, "dump_path", "")
	if dumpPath == "" {
		return errResult("dump_path is required"), nil
	}
	dialect := model.Dialect(stringArg(args, "dialect", ""))
	redact := boolArg(args, "redact", true)

	report, err := analyzer.Analyze(ctx, dumpPath, dialect, "", redact)
	if err != nil {
		return errResult(fmt.Sprintf("analyze failed: %v", err)), nil
	}

	data, err := json.Marshal(report)
	if err != nil {
		return errResult(fmt.Sprintf("json marshal failed: %v", err)), nil
	}
	return newTextResult(string(data)), nil
}

// getArgs safely extracts the arguments map from a CallToolRequest.
func getArgs(request mcp.CallToolRequest) map[string]interface{} {
	if request.Params.Arguments == nil {
		return map[string]interface{}{}
	}
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return map[string]interface{}{}
	}
	return args
}

// boolArg extracts a bool argument with a default value.
func boolArg(args map[string]interface{}, key string, defaultVal bool) bool {
	val, ok := args[key]
	if !ok || val == nil {
		return defaultVal
	}
	b, ok := val.(bool)
	if !ok {
		return defaultVal
	}
	return b
}

// stringArg extracts a string argument with a default value.
func stringArg(args map[string]interface{}, key, defaultVal string) string {
	val, ok := args[key]
	if !ok || val == nil {
		return defaultVal
	}
	s, ok := val.(string)
	if !ok || s == "" {
		return defaultVal
	}
	return s
}

// newTextResult creates a successful MCP tool result with text content.
func newTextResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

// errResult creates an MCP tool-level error result (IsError=true), not a
// transport-level JSON-RPC error.
func errResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
	}
}
