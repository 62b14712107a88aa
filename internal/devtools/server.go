package devtools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/yoyooyooo/logix-sub006/internal/store"
)

// tool is one registered MCP tool.
type tool interface {
	Definition() mcp.Tool
	Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)
}

// New creates the devtools MCP server over st.
func New(st *store.Store, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"logix-devtools",
		version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(instructions),
	)

	for _, t := range tools(st) {
		s.AddTool(t.Definition(), t.Handle)
	}
	return s
}

func tools(st *store.Store) []tool {
	return []tool{
		NewBuildsTool(st),
		NewDecisionsTool(st),
		NewDecisionTool(st),
		NewDecisionStatsTool(st),
	}
}

// Serve runs the server over stdin/stdout until the client disconnects.
func Serve(st *store.Store, version string) error {
	return server.ServeStdio(New(st, version))
}

const instructions = `Read-only access to converge evidence.

Start with decision_stats to see how often modules degrade, then list the
degraded decisions with decisions (outcome=Degraded) and open one with
decision. builds shows the IR summary and digests of each compiled module.`
