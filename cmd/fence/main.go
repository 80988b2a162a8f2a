// Fence — a sandboxing proxy for LLM tool calling.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "fence",
	Short: "Fence — a sandboxing proxy for LLM tool calling.",
	Long: `Fence terminates Anthropic Messages API traffic, forwards it to an
OpenAI-compatible upstream, and hosts a sandboxed tool surface: a virtual
filesystem confined to a per-session base directory plus a whitelisted,
rate-limited command executor. Tools are exposed to local agents over MCP.`,
	RunE:          runServe, // Default to serve mode.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(serveCmd, mcpCmd, execCmd, sandboxCmd, versionCmd)
	_ = godotenv.Load()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}
