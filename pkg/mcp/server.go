package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/buffrsign/engine/internal/engine"
	"github.com/buffrsign/engine/internal/scheduler"
)

// ServerDeps holds the dependencies for creating a Server.
type ServerDeps struct {
	Engine    *engine.Engine
	Scheduler *scheduler.Scheduler
	Logger    *slog.Logger
}

// Server wraps an MCP server exposing the workflow engine to agents.
type Server struct {
	engine    *engine.Engine
	scheduler *scheduler.Scheduler
	sessions  *SessionRegistry
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// NewServer creates a Server with all tools registered.
func NewServer(deps ServerDeps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	s := &Server{
		engine:    deps.Engine,
		scheduler: deps.Scheduler,
		sessions:  NewSessionRegistry(),
		logger:    logger,
	}

	mcpSrv := server.NewMCPServer(
		"buffrsign",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("BuffrSign orchestrates document e-signature workflows. Use buffrsign.create to create a workflow (from a document template or explicit steps), buffrsign.run to execute it, buffrsign.control to pause/resume/cancel, buffrsign.status for the current state, and buffrsign.query to list workflows, history, errors, or audit events."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *Server) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// Sessions returns the user session registry.
func (s *Server) Sessions() *SessionRegistry {
	return s.sessions
}

func (s *Server) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: createTool(), Handler: s.handleCreate},
		{Tool: runTool(), Handler: s.handleRun},
		{Tool: controlTool(), Handler: s.handleControl},
		{Tool: statusTool(), Handler: s.handleStatus},
		{Tool: queryTool(), Handler: s.handleQuery},
		{Tool: scheduleTool(), Handler: s.handleSchedule},
	}
}
