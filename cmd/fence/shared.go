package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	goutils "github.com/jkaninda/go-utils"

	"github.com/fenceio/fence/internal/config"
	"github.com/fenceio/fence/internal/observability"
	"github.com/fenceio/fence/internal/workspace"
)

// loadConfig resolves the config path (flag, then FENCE_CONFIG) and loads
// it. A missing file at the default location is not an error; defaults apply.
func loadConfig(path string) (*config.Config, error) {
	path = goutils.Env("FENCE_CONFIG", path)
	if path == config.DefaultConfigPath() {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return config.Default(), nil
		}
	}
	return config.Load(path)
}

// newLogger builds the process logger from config. Logs always go to stderr
// so that stdout stays free for command output and the MCP transport.
func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// initWorkspace resolves the workspace root from config or the default
// location and provisions its directory layout.
func initWorkspace(cfg *config.Config) (*workspace.Workspace, error) {
	var ws *workspace.Workspace
	var err error
	if cfg.Workspace == "" {
		ws, err = workspace.Default()
	} else {
		ws, err = workspace.New(cfg.Workspace)
	}
	if err != nil {
		return nil, err
	}
	if err := ws.EnsureAll(); err != nil {
		return nil, fmt.Errorf("provisioning workspace: %w", err)
	}
	return ws, nil
}

// initObservability builds the observability stack. The returned cleanup is
// safe to call even when observability is disabled (obs == nil).
func initObservability(cfg *config.Config, logger *slog.Logger) (*observability.Observability, func(), error) {
	obs, err := observability.New(cfg.Observability, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("initializing observability: %w", err)
	}
	cleanup := func() {
		if obs != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			obs.Shutdown(shutdownCtx)
		}
	}
	return obs, cleanup, nil
}
