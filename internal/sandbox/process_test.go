package sandbox

import (
	"context"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"testing"
	"time"
)

func skipIfNoShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("process sandbox requires a POSIX shell")
	}
	if _, err := exec.LookPath("/bin/sh"); err != nil {
		t.Skip("/bin/sh not available")
	}
}

func newTestSandbox(t *testing.T, limits ResourceLimits) *ProcessSandbox {
	t.Helper()
	skipIfNoShell(t)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	return NewProcessSandbox(limits, logger)
}

func TestExecuteBasic(t *testing.T) {
	sbx := newTestSandbox(t, ResourceLimits{})

	result, err := sbx.Execute(context.Background(), ExecutionRequest{
		Command: []string{"echo", "hello"},
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.ExitCode != 0 {
		t.Errorf("exit code = %d, want 0", result.ExitCode)
	}
	if got := strings.TrimSpace(result.Output); got != "hello" {
		t.Errorf("output = %q, want %q", got, "hello")
	}
	if result.Truncated || result.TimedOut {
		t.Errorf("flags = %+v, want neither set", result)
	}
}

func TestExecuteNonZeroExit(t *testing.T) {
	sbx := newTestSandbox(t, ResourceLimits{})

	result, err := sbx.Execute(context.Background(), ExecutionRequest{
		Command: []string{"sh", "-c", "exit 42"},
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.ExitCode != 42 {
		t.Errorf("exit code = %d, want 42", result.ExitCode)
	}
}

func TestExecuteWallClockTimeout(t *testing.T) {
	sbx := newTestSandbox(t, ResourceLimits{MaxWallSeconds: 1})

	start := time.Now()
	result, err := sbx.Execute(context.Background(), ExecutionRequest{
		Command: []string{"sleep", "30"},
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.TimedOut {
		t.Error("TimedOut not set after wall clock expiry")
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("kill took %s, expected ~1s", elapsed)
	}
}

func TestRequestCannotRaiseLimits(t *testing.T) {
	sbx := newTestSandbox(t, ResourceLimits{MaxWallSeconds: 1})

	start := time.Now()
	result, err := sbx.Execute(context.Background(), ExecutionRequest{
		Command: []string{"sleep", "3"},
		Limits:  ResourceLimits{MaxWallSeconds: 30},
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.TimedOut {
		t.Error("request override lifted the instance wall clock cap")
	}
	if elapsed := time.Since(start); elapsed > 2500*time.Millisecond {
		t.Errorf("kill took %s, expected ~1s", elapsed)
	}
}

func TestTightenLimits(t *testing.T) {
	base := ResourceLimits{
		MaxCPUSeconds:  5,
		MaxWallSeconds: 30,
		MaxMemoryBytes: 50 << 20,
		MaxOutputBytes: 1 << 20,
	}
	tests := []struct {
		name     string
		override ResourceLimits
		want     ResourceLimits
	}{
		{"zero override keeps defaults", ResourceLimits{}, base},
		{
			"stricter values apply",
			ResourceLimits{MaxCPUSeconds: 1, MaxWallSeconds: 2, MaxMemoryBytes: 1 << 20, MaxOutputBytes: 1 << 10},
			ResourceLimits{MaxCPUSeconds: 1, MaxWallSeconds: 2, MaxMemoryBytes: 1 << 20, MaxOutputBytes: 1 << 10},
		},
		{
			"looser values are ignored",
			ResourceLimits{MaxCPUSeconds: 60, MaxWallSeconds: 600, MaxMemoryBytes: 1 << 40, MaxOutputBytes: 1 << 30},
			base,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tightenLimits(base, tc.override); got != tc.want {
				t.Errorf("tightenLimits = %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestExecuteOutputTruncation(t *testing.T) {
	sbx := newTestSandbox(t, ResourceLimits{MaxOutputBytes: 64})

	result, err := sbx.Execute(context.Background(), ExecutionRequest{
		Command: []string{"sh", "-c", "yes x | head -n 1000"},
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.Truncated {
		t.Error("Truncated not set after exceeding output cap")
	}
	if len(result.Output) > 64 {
		t.Errorf("output length = %d, want <= 64", len(result.Output))
	}
}

func TestExecuteEmptyCommand(t *testing.T) {
	sbx := newTestSandbox(t, ResourceLimits{})
	if _, err := sbx.Execute(context.Background(), ExecutionRequest{}); err == nil {
		t.Error("empty command accepted")
	}
}

func TestExecuteWorkingDir(t *testing.T) {
	sbx := newTestSandbox(t, ResourceLimits{})
	dir := t.TempDir()

	result, err := sbx.Execute(context.Background(), ExecutionRequest{
		Command:    []string{"pwd"},
		WorkingDir: dir,
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	// The temp dir may itself sit behind a symlink (macOS /tmp), so compare
	// by suffix.
	got := strings.TrimSpace(result.Output)
	if !strings.HasSuffix(got, strings.TrimPrefix(dir, "/private")) && got != dir {
		t.Errorf("pwd = %q, want %q", got, dir)
	}
}

func TestExecuteNoEnvironmentLeak(t *testing.T) {
	t.Setenv("FENCE_TEST_SECRET", "leaked")
	sbx := newTestSandbox(t, ResourceLimits{})

	result, err := sbx.Execute(context.Background(), ExecutionRequest{
		Command: []string{"env"},
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if strings.Contains(result.Output, "FENCE_TEST_SECRET") {
		t.Error("parent environment leaked into sandbox")
	}
}
