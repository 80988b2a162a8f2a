package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/fenceio/fence/internal/errs"
)

// ProcessSandbox executes commands as isolated OS processes.
//
// Guarantees:
//   - Each execution without an explicit working directory gets its own temp
//     directory (removed afterwards)
//   - The child runs in its own process group (Setpgid)
//   - The entire process group is killed when the wall clock expires
//   - No environment inheritance from the parent — only a minimal safe set
//   - CPU and memory caps are applied via ulimit before exec, so the child
//     cannot lift them
//   - Combined output is capped; overflow is dropped and flagged, never
//     buffered
type ProcessSandbox struct {
	defaults ResourceLimits
	logger   *slog.Logger
}

// NewProcessSandbox creates a process sandbox with the given default limits.
// Zero fields fall back to DefaultLimits.
func NewProcessSandbox(defaults ResourceLimits, logger *slog.Logger) *ProcessSandbox {
	return &ProcessSandbox{
		defaults: mergeLimits(DefaultLimits, defaults),
		logger:   logger,
	}
}

// Execute runs a command under the sandbox limits.
//
// A wall-clock expiry is a reportable outcome: the result comes back with
// TimedOut set and whatever output was captured. A process killed by an OS
// resource limit surfaces as a resource-limit error; a command that could
// not start at all surfaces as an execution error. None of these panic or
// leak raw OS error text to callers.
func (s *ProcessSandbox) Execute(ctx context.Context, req ExecutionRequest) (*ExecutionResult, error) {
	if len(req.Command) == 0 {
		return nil, errs.New(errs.Execution, "empty command")
	}

	limits := tightenLimits(s.defaults, req.Limits)

	ctx, cancel := context.WithTimeout(ctx, time.Duration(limits.MaxWallSeconds)*time.Second)
	defer cancel()

	workDir := req.WorkingDir
	if workDir == "" {
		tmpDir, err := os.MkdirTemp("", "fence-sandbox-*")
		if err != nil {
			return nil, errs.New(errs.Execution, "could not prepare sandbox directory")
		}
		defer func() {
			if rmErr := os.RemoveAll(tmpDir); rmErr != nil {
				s.logger.Warn("failed to remove sandbox temp dir", slog.String("dir", tmpDir))
			}
		}()
		workDir = tmpDir
	}

	// The command is wrapped: sh -c 'ulimit ...; exec "$@"' _ cmd args...
	// Using exec "$@" with positional parameters keeps the caller's argv out
	// of the shell string, so nothing is interpolated.
	shellScript := fmt.Sprintf(
		"ulimit -v %d 2>/dev/null; ulimit -t %d 2>/dev/null; exec \"$@\"",
		limits.MaxMemoryBytes/1024, limits.MaxCPUSeconds,
	)
	args := make([]string, 0, 3+len(req.Command))
	args = append(args, "-c", shellScript, "_")
	args = append(args, req.Command...)

	cmd := exec.CommandContext(ctx, "/bin/sh", args...)
	cmd.Dir = workDir
	cmd.Env = buildEnv(workDir)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	// Negative PID = the whole process group, children included.
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}

	var buf bytes.Buffer
	out := &cappedWriter{buf: &buf, remaining: limits.MaxOutputBytes}
	cmd.Stdout = out
	cmd.Stderr = out

	s.logger.Info("sandbox executing",
		slog.Any("command", req.Command),
		slog.Int("cpu_limit_s", limits.MaxCPUSeconds),
		slog.Int("wall_limit_s", limits.MaxWallSeconds),
		slog.Int64("memory_limit_bytes", limits.MaxMemoryBytes),
	)

	start := time.Now()
	runErr := cmd.Run()
	duration := time.Since(start)

	result := &ExecutionResult{
		Output:    out.String(),
		Truncated: out.Truncated(),
		Duration:  duration,
	}

	if runErr != nil {
		if ctx.Err() != nil {
			s.logger.Warn("sandbox execution timed out", slog.Duration("duration", duration))
			result.TimedOut = true
			result.ExitCode = -1
			return result, nil
		}

		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			return nil, errs.New(errs.Execution, "command could not be started")
		}
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			switch ws.Signal() {
			case syscall.SIGXCPU, syscall.SIGKILL, syscall.SIGXFSZ:
				return nil, errs.New(errs.ResourceLimitExceeded, "command exceeded its resource limits")
			}
		}
		// A plain non-zero exit is a result, not an error.
		result.ExitCode = exitErr.ExitCode()
	}

	s.logger.Info("sandbox execution completed",
		slog.Int("exit_code", result.ExitCode),
		slog.Bool("truncated", result.Truncated),
		slog.Duration("duration", duration),
	)

	return result, nil
}

// mergeLimits overlays non-zero fields of override onto base. Used only at
// construction time to fill unset instance defaults.
func mergeLimits(base, override ResourceLimits) ResourceLimits {
	out := base
	if override.MaxCPUSeconds > 0 {
		out.MaxCPUSeconds = override.MaxCPUSeconds
	}
	if override.MaxWallSeconds > 0 {
		out.MaxWallSeconds = override.MaxWallSeconds
	}
	if override.MaxMemoryBytes > 0 {
		out.MaxMemoryBytes = override.MaxMemoryBytes
	}
	if override.MaxOutputBytes > 0 {
		out.MaxOutputBytes = override.MaxOutputBytes
	}
	return out
}

// tightenLimits applies the request overrides that are stricter than the
// instance defaults. A request can lower a cap, never raise one.
func tightenLimits(base, override ResourceLimits) ResourceLimits {
	out := base
	if override.MaxCPUSeconds > 0 && override.MaxCPUSeconds < out.MaxCPUSeconds {
		out.MaxCPUSeconds = override.MaxCPUSeconds
	}
	if override.MaxWallSeconds > 0 && override.MaxWallSeconds < out.MaxWallSeconds {
		out.MaxWallSeconds = override.MaxWallSeconds
	}
	if override.MaxMemoryBytes > 0 && override.MaxMemoryBytes < out.MaxMemoryBytes {
		out.MaxMemoryBytes = override.MaxMemoryBytes
	}
	if override.MaxOutputBytes > 0 && override.MaxOutputBytes < out.MaxOutputBytes {
		out.MaxOutputBytes = override.MaxOutputBytes
	}
	return out
}

// buildEnv constructs a minimal environment. The parent's environment is
// never inherited, so API keys and credentials cannot leak into sandboxed
// commands.
func buildEnv(workDir string) []string {
	return []string{
		"PATH=/usr/local/bin:/usr/bin:/bin",
		"HOME=" + workDir,
		"TMPDIR=" + workDir,
		"LANG=en_US.UTF-8",
		"TERM=dumb",
	}
}

// cappedWriter collects output up to a byte limit. Excess writes succeed but
// the data is dropped and the writer marked truncated, so a chatty child can
// neither block on a full pipe nor balloon memory.
type cappedWriter struct {
	mu        sync.Mutex
	buf       *bytes.Buffer
	remaining int64
	truncated bool
}

func (w *cappedWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.remaining <= 0 {
		w.truncated = true
		return len(p), nil
	}
	n := len(p)
	if int64(n) > w.remaining {
		w.truncated = true
		p = p[:w.remaining]
	}
	w.buf.Write(p)
	w.remaining -= int64(len(p))
	return n, nil
}

func (w *cappedWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.String()
}

func (w *cappedWriter) Truncated() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.truncated
}
