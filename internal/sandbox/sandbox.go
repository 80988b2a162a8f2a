// Package sandbox provides resource-limited execution of external commands.
// Nothing in the command tool's whitelist spawns a process today; this is the
// execution primitive available to any future command that must, and it is
// reached only after the same pattern/whitelist/rate gates.
package sandbox

import (
	"context"
	"time"
)

// Sandbox executes a command under resource limits.
type Sandbox interface {
	Execute(ctx context.Context, req ExecutionRequest) (*ExecutionResult, error)
}

// ResourceLimits constrains a spawned process. Zero values fall back to the
// sandbox defaults; the limits are fixed per sandbox instance and cannot be
// raised by a request.
type ResourceLimits struct {
	MaxCPUSeconds  int   // CPU time hard cap, enforced before exec.
	MaxWallSeconds int   // Wall clock cap, enforced by process-group kill.
	MaxMemoryBytes int64 // Virtual memory hard cap, enforced before exec.
	MaxOutputBytes int64 // Combined output cap; excess is dropped and flagged.
}

// DefaultLimits are the limits applied when the configuration leaves a field
// unset.
var DefaultLimits = ResourceLimits{
	MaxCPUSeconds:  5,
	MaxWallSeconds: 30,
	MaxMemoryBytes: 50 << 20,
	MaxOutputBytes: 1 << 20,
}

// ExecutionRequest defines what to run and where.
type ExecutionRequest struct {
	// Command is the program and its arguments. It is executed directly,
	// never through shell interpolation.
	Command []string

	// WorkingDir is the host directory to run in. Empty = an isolated
	// temporary directory that is removed afterwards.
	WorkingDir string

	// Limits tightens (never loosens) the sandbox defaults.
	Limits ResourceLimits
}

// ExecutionResult reports the outcome of a sandboxed command.
type ExecutionResult struct {
	ExitCode  int           `json:"exit_code"`
	Output    string        `json:"output"` // Combined stdout and stderr.
	Truncated bool          `json:"truncated"`
	TimedOut  bool          `json:"timed_out"`
	Duration  time.Duration `json:"-"`
}
