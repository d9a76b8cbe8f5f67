package mcp

import (
	"context"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
)

func TestGetArgsNilArguments(t *testing.T) {
	args := getArgs(mcp.CallToolRequest{})
	if args == nil || len(args) != 0 {
		t.Fatalf("expected empty map, got %v", args)
	}
}

func TestGetArgsValidMap(t *testing.T) {
	req := mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Arguments: map[string]interface{}{"dump_path": "/dumps/crash.core"},
		},
	}
	args := getArgs(req)
	if v, ok := args["dump_path"]; !ok || v != "/dumps/crash.core" {
		t.Fatalf("expected dump_path=/dumps/crash.core, got %v", args)
	}
}

func TestGetArgsWrongType(t *testing.T) {
	req := mcp.CallToolRequest{Params: mcp.CallToolParams{Arguments: "not a map"}}
	args := getArgs(req)
	if len(args) != 0 {
		t.Fatalf("expected empty map for wrong type, got %v", args)
	}
}

func TestStringArgPresent(t *testing.T) {
	args := map[string]interface{}{"dialect": "lldb"}
	if got := stringArg(args, "dialect", ""); got != "lldb" {
		t.Fatalf("expected lldb, got %q", got)
	}
}

func TestStringArgMissingUsesDefault(t *testing.T) {
	if got := stringArg(map[string]interface{}{}, "dialect", "lldb"); got != "lldb" {
		t.Fatalf("expected default lldb, got %q", got)
	}
}

func TestHandleAnalyzeDumpRequiresDumpPath(t *testing.T) {
	req := mcp.CallToolRequest{Params: mcp.CallToolParams{Arguments: map[string]interface{}{}}}
	result, err := handleAnalyzeDump(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected IsError true for missing dump_path")
	}
}
