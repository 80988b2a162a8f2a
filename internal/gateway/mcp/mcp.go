// Package mcp exposes the sandboxed tool set over the Model Context
// Protocol. MCP clients (editors, agent runtimes) connect over stdio and
// call Bash, Read, Write and LS; every call goes through the session
// manager, so path confinement, command whitelisting and rate limits apply
// exactly as they do for the HTTP proxy.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/fenceio/fence/internal/session"
)

// Server bridges one session's tool registry onto an MCP stdio server.
type Server struct {
	sessions  *session.Manager
	sessionID string
	logger    *slog.Logger
	srv       *mcpserver.MCPServer
}

// NewServer builds the MCP server for the given session. An empty sessionID
// creates a fresh session. version is advertised during the MCP handshake.
func NewServer(sessions *session.Manager, sessionID, version string, logger *slog.Logger) (*Server, error) {
	sess, err := sessions.Get(sessionID)
	if err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}

	s := &Server{
		sessions:  sessions,
		sessionID: sess.ID,
		logger:    logger,
		srv: mcpserver.NewMCPServer("fence", version,
			mcpserver.WithToolCapabilities(false),
		),
	}

	for _, t := range sess.Registry.All() {
		schema, err := json.Marshal(t.InputSchema())
		if err != nil {
			return nil, fmt.Errorf("marshaling schema for %s: %w", t.Name(), err)
		}
		s.srv.AddTool(
			mcp.NewToolWithRawSchema(t.Name(), t.Description(), schema),
			s.handler(t.Name()),
		)
	}

	logger.Info("mcp server ready",
		slog.String("session", sess.ID),
		slog.Int("tools", len(sess.Registry.All())),
	)
	return s, nil
}

// SessionID returns the session all tool calls run against.
func (s *Server) SessionID() string { return s.sessionID }

// ServeStdio blocks serving MCP over stdin/stdout until the client
// disconnects or ctx is canceled.
func (s *Server) ServeStdio(ctx context.Context) error {
	stdio := mcpserver.NewStdioServer(s.srv)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// handler adapts one registered tool into an MCP tool handler. Tool
// failures (rejections, limits, execution errors) are reported as MCP tool
// errors rather than protocol errors so the client sees them as results.
func (s *Server) handler(toolName string) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		result, err := s.sessions.Invoke(ctx, s.sessionID, toolName, req.GetArguments())
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if !result.Success {
			return mcp.NewToolResultError(result.Output), nil
		}
		return mcp.NewToolResultText(result.Output), nil
	}
}
