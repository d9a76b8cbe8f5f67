// Package mcp exposes crashlens's crash pipeline as a single stateless
// Model Context Protocol tool, the way melisai's internal/mcp exposes its
// collectors — minus session lifecycle and persistence, which stay out of
// scope for this single-shot convenience server.
package mcp

import (
	"context"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Server wraps the MCP server instance.
type Server struct {
	mcpServer *server.MCPServer
}

// NewServer creates a new MCP server with the analyze_dump tool registered.
func NewServer(version string) *Server {
	s := server.NewMCPServer("crashlens", version, server.WithLogging())
	registerTools(s)
	return &Server{mcpServer: s}
}

// Start runs the server in stdio mode (blocking).
func (s *Server) Start(ctx context.Context) error {
	stdioServer := server.NewStdioServer(s.mcpServer)
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

func registerTools(s *server.MCPServer) {
	analyzeTool := mcp.NewTool("analyze_dump",
		mcp.WithDescription("Run the crash pipeline over a dump path reachable on this machine and return the finalized JSON report: exception, threads, modules, findings, and ranked root-cause hypotheses."),
		mcp.WithString("dump_path",
			mcp.Required(),
			mcp.Description("Absolute path to a core dump or Windows minidump."),
		),
		mcp.WithString("dialect",
			mcp.Description("Force lldb or windbg; omit to guess from the dump's extension."),
			mcp.Enum("lldb", "windbg"),
		),
		mcp.WithBoolean("redact",
			mcp.Description("Redact sensitively-named environment variables and raw command text; defaults to true."),
		),
	)
	s.AddTool(analyzeTool, handleAnalyzeDump)
}
