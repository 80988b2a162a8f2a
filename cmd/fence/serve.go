package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fenceio/fence/internal/config"
	"github.com/fenceio/fence/internal/llm/openai"
	"github.com/fenceio/fence/internal/proxy"
)

var (
	serveConfigPath string
	serveListenAddr string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP proxy (default)",
	RunE:  runServe,
}

func init() {
	// Register flags on both root and serve so that
	// `fence --config path` and `fence serve --config path` both work.
	for _, cmd := range []*cobra.Command{rootCmd, serveCmd} {
		cmd.Flags().StringVar(&serveConfigPath, "config", config.DefaultConfigPath(), "path to config file")
		cmd.Flags().StringVar(&serveListenAddr, "listen", "", "override listen address (e.g. :7187)")
	}
}

// runServe starts the Anthropic-to-OpenAI translation proxy.
func runServe(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig(serveConfigPath)
	if err != nil {
		return err
	}
	if serveListenAddr != "" {
		cfg.Server.ListenAddr = serveListenAddr
	}
	if cfg.Upstream.Model == "" {
		return fmt.Errorf("upstream model is required (set upstream.model or FENCE_UPSTREAM_MODEL)")
	}

	logger := newLogger(cfg.Logging)

	obs, obsCleanup, err := initObservability(cfg, logger)
	if err != nil {
		return err
	}
	defer obsCleanup()

	provider := openai.NewClient(cfg.Upstream.APIKey, cfg.Upstream.Model, logger,
		openai.WithBaseURL(cfg.Upstream.BaseURL),
		openai.WithHTTPClient(&http.Client{Timeout: cfg.Upstream.Timeout()}),
	)

	srv := proxy.NewServer(cfg.Server, cfg.Upstream, provider, logger, obs)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errs := make(chan error, 1)
	go func() {
		errs <- srv.Start(ctx)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errs:
		if err != nil {
			logger.Error("proxy exited with error", slog.String("error", err.Error()))
			return err
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Stop(shutdownCtx)
}
