package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fenceio/fence/internal/config"
	mcpgw "github.com/fenceio/fence/internal/gateway/mcp"
	"github.com/fenceio/fence/internal/session"
)

var (
	mcpConfigPath string
	mcpSessionID  string
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the sandboxed tools over MCP on stdio",
	RunE:  runMCP,
}

func init() {
	mcpCmd.Flags().StringVar(&mcpConfigPath, "config", config.DefaultConfigPath(), "path to config file")
	mcpCmd.Flags().StringVar(&mcpSessionID, "session", "", "session id to attach to (default: a new session)")
}

// runMCP serves the tool registry over stdio. stdout carries the MCP
// transport; all logging goes to stderr.
func runMCP(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig(mcpConfigPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Logging)

	ws, err := initWorkspace(cfg)
	if err != nil {
		return err
	}

	sessions := session.NewManager(ws, cfg, logger, nil)
	if err := sessions.StartSweeper(); err != nil {
		return err
	}
	defer sessions.Stop()

	srv, err := mcpgw.NewServer(sessions, mcpSessionID, version, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return srv.ServeStdio(ctx)
}
