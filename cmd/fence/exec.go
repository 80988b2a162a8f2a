package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fenceio/fence/internal/config"
	"github.com/fenceio/fence/internal/session"
)

var (
	execConfigPath string
	execSessionID  string
)

var execCmd = &cobra.Command{
	Use:   "exec <tool> [json-params]",
	Short: "Invoke one sandboxed tool and print its output",
	Long: `Invoke one tool by name with JSON parameters, e.g.

  fence exec Bash '{"command": "ls -la"}'
  fence exec Write '{"path": "notes.txt", "content": "hello"}' --session 7f3a

The call runs through the same session gates as the MCP surface.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runExec,
}

func init() {
	execCmd.Flags().StringVar(&execConfigPath, "config", config.DefaultConfigPath(), "path to config file")
	execCmd.Flags().StringVar(&execSessionID, "session", "", "session id to run in (default: a new session)")
}

func runExec(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(execConfigPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Logging)

	ws, err := initWorkspace(cfg)
	if err != nil {
		return err
	}
	sessions := session.NewManager(ws, cfg, logger, nil)

	params := map[string]any{}
	if len(args) == 2 {
		if err := json.Unmarshal([]byte(args[1]), &params); err != nil {
			return fmt.Errorf("parsing tool parameters: %w", err)
		}
	}

	sess, err := sessions.Get(execSessionID)
	if err != nil {
		return err
	}

	result, err := sessions.Invoke(cmd.Context(), sess.ID, args[0], params)
	if err != nil {
		return err
	}

	fmt.Println(result.Output)
	if !result.Success {
		return fmt.Errorf("tool %s reported failure", args[0])
	}
	return nil
}
