package mcpserver

import (
	"context"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/tobert/livedash/internal/engine"
)

// Server wraps the MCP server around a running dashboard engine.
// It exposes tools for agents to inspect entities and timing, and to drive
// the same visibility and schedule controls the web UI offers.
type Server struct {
	mcpServer *mcp.Server
	engine    *engine.Engine
	loc       *time.Location
	verbose   bool
}

// ServerOptions configures the MCP server.
type ServerOptions struct {
	Verbose  bool           // Enable verbose logging
	Location *time.Location // Zone for timestamps in text views (default: local)
}

// NewServer creates a new MCP server backed by eng.
func NewServer(eng *engine.Engine, opts ...ServerOptions) (*Server, error) {
	if eng == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}

	var opt ServerOptions
	if len(opts) > 0 {
		opt = opts[0]
	}
	if opt.Location == nil {
		opt.Location = time.Local
	}

	s := &Server{
		engine:  eng,
		loc:     opt.Location,
		verbose: opt.Verbose,
	}

	s.mcpServer = mcp.NewServer(&mcp.Implementation{
		Name:    "livedash",
		Title:   "Live Telemetry Dashboard",
		Version: "0.1.0",
	}, &mcp.ServerOptions{
		Instructions: `Live telemetry dashboard engine. Polls (or receives pushes from) a backend publishing channel snapshots and keeps plots, histograms and a timing table current.

Workflow: get_status -> list_entities -> get_entity / get_timing for data; toggle_visibility, select_entities, set_rates, set_histogram_mode to drive the dashboard.
Resources: livedash://status, livedash://timing, livedash://channels, livedash://report, livedash://entities/{key}.`,
		SubscribeHandler:   func(_ context.Context, _ *mcp.SubscribeRequest) error { return nil },
		UnsubscribeHandler: func(_ context.Context, _ *mcp.UnsubscribeRequest) error { return nil },
	})

	if err := s.registerTools(); err != nil {
		return nil, fmt.Errorf("failed to register tools: %w", err)
	}
	s.registerResources()

	return s, nil
}

// Run starts the MCP server on stdio transport.
// This method blocks until the context is cancelled or EOF is received on stdin.
func (s *Server) Run(ctx context.Context) error {
	return s.mcpServer.Run(ctx, &mcp.StdioTransport{})
}

// MCPServer returns the underlying mcp.Server for use with alternative transports.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcpServer
}
