package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fenceio/fence/internal/config"
	"github.com/fenceio/fence/internal/observability"
	"github.com/fenceio/fence/internal/sandbox"
)

var (
	sandboxConfigPath string
	sandboxWorkDir    string
)

var sandboxCmd = &cobra.Command{
	Use:   "sandbox [flags] -- command [args...]",
	Short: "Run a command under the configured resource limits",
	Long: `Run one command directly under the sandbox's resource limits (CPU,
wall clock, memory, output size), e.g.

  fence sandbox -- sleep 60
  fence sandbox --workdir /tmp/scratch -- python3 burn.py

Useful for verifying limit configuration before exposing a command through
a tool. The command is executed directly, never through a shell.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSandbox,
}

func init() {
	sandboxCmd.Flags().StringVar(&sandboxConfigPath, "config", config.DefaultConfigPath(), "path to config file")
	sandboxCmd.Flags().StringVar(&sandboxWorkDir, "workdir", "", "working directory (default: a temp dir, removed afterwards)")
}

func runSandbox(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(sandboxConfigPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Logging)

	obs, obsCleanup, err := initObservability(cfg, logger)
	if err != nil {
		return err
	}
	defer obsCleanup()

	limits := sandbox.ResourceLimits{
		MaxCPUSeconds:  cfg.Sandbox.MaxCPUSeconds,
		MaxWallSeconds: cfg.Sandbox.MaxWallSeconds,
		MaxMemoryBytes: int64(cfg.Sandbox.MaxMemoryMB) << 20,
		MaxOutputBytes: cfg.Sandbox.MaxOutputBytes,
	}

	var sbx sandbox.Sandbox = sandbox.NewProcessSandbox(limits, logger)
	if obs != nil && obs.Metrics != nil {
		sbx = observability.NewInstrumentedSandbox(sbx, obs.Metrics, obs.TracerOrNil())
	}

	result, err := sbx.Execute(cmd.Context(), sandbox.ExecutionRequest{
		Command:    args,
		WorkingDir: sandboxWorkDir,
	})
	if err != nil {
		return err
	}

	fmt.Print(result.Output)
	if result.Truncated {
		fmt.Println("[output truncated]")
	}
	if result.TimedOut {
		return fmt.Errorf("command exceeded the wall clock limit (%ds)", limits.MaxWallSeconds)
	}
	if result.ExitCode != 0 {
		return fmt.Errorf("command exited with code %d", result.ExitCode)
	}
	return nil
}
