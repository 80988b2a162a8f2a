package session

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fenceio/fence/internal/config"
	"github.com/fenceio/fence/internal/errs"
	"github.com/fenceio/fence/internal/observability"
	"github.com/fenceio/fence/internal/workspace"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	ws, err := workspace.New(filepath.Join(t.TempDir(), "ws"))
	if err != nil {
		t.Fatal(err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewManager(ws, config.Default(), logger, nil)
}

func TestGetOrCreate(t *testing.T) {
	m := newTestManager(t)

	s1, err := m.Get("conv-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if s1.ID != "conv-1" {
		t.Errorf("id = %q", s1.ID)
	}
	if s1.Cwd() != "/" {
		t.Errorf("initial cwd = %q", s1.Cwd())
	}

	s2, err := m.Get("conv-1")
	if err != nil {
		t.Fatal(err)
	}
	if s1 != s2 {
		t.Error("same id returned a different session")
	}

	// Empty id allocates a fresh session.
	s3, err := m.Get("")
	if err != nil {
		t.Fatal(err)
	}
	if s3.ID == "" || s3 == s1 {
		t.Errorf("generated session = %+v", s3)
	}
	if m.Count() != 2 {
		t.Errorf("count = %d, want 2", m.Count())
	}
}

func TestSessionsAreIsolated(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	if _, err := m.Invoke(ctx, "a", "Write", map[string]any{"path": "f.txt", "content": "from a"}); err != nil {
		t.Fatalf("write in a: %v", err)
	}
	if _, err := m.Invoke(ctx, "b", "Read", map[string]any{"path": "f.txt"}); !errs.IsKind(err, errs.NotFound) {
		t.Errorf("read in b: got %v, want not found", err)
	}
}

func TestInvoke(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	res, err := m.Invoke(ctx, "conv-1", "Bash", map[string]any{"command": "pwd"})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if res.Output != "/" {
		t.Errorf("output = %q", res.Output)
	}

	if _, err := m.Invoke(ctx, "conv-1", "Nope", nil); !errs.IsKind(err, errs.DisallowedArgument) {
		t.Errorf("unknown tool: got %v", err)
	}
}

func TestInvokeRecordsSecurityRejections(t *testing.T) {
	ws, err := workspace.New(filepath.Join(t.TempDir(), "ws"))
	if err != nil {
		t.Fatal(err)
	}
	metrics := observability.NewMetricsCollector()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := NewManager(ws, config.Default(), logger, metrics)

	if _, err := m.Invoke(context.Background(), "s", "Bash", map[string]any{"command": "ls; rm -rf /"}); !errs.IsKind(err, errs.DangerousPattern) {
		t.Fatalf("got %v, want dangerous pattern", err)
	}

	families, err := metrics.Registry.Gather()
	if err != nil {
		t.Fatal(err)
	}
	var rejections float64
	for _, f := range families {
		if f.GetName() == "fence_security_rejections_total" {
			for _, metric := range f.GetMetric() {
				rejections += metric.GetCounter().GetValue()
			}
		}
	}
	if rejections != 1 {
		t.Errorf("security rejections = %v, want 1", rejections)
	}
}

func TestSweepExpiresIdleSessions(t *testing.T) {
	ws, err := workspace.New(filepath.Join(t.TempDir(), "ws"))
	if err != nil {
		t.Fatal(err)
	}
	cfg := config.Default()
	cfg.Session.IdleTTLMinutes = 1
	cfg.Session.RemoveOnExpiry = true
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := NewManager(ws, cfg, logger, nil)

	current := time.Now()
	m.now = func() time.Time { return current }

	s, err := m.Get("stale")
	if err != nil {
		t.Fatal(err)
	}
	root, err := ws.SessionRoot("stale")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.Get("fresh"); err != nil {
		t.Fatal(err)
	}

	// Advance time past the TTL for "stale", then keep "fresh" alive.
	current = current.Add(2 * time.Minute)
	if _, err := m.Invoke(context.Background(), "fresh", "Bash", map[string]any{"command": "pwd"}); err != nil {
		t.Fatal(err)
	}

	m.sweep()

	if m.Count() != 1 {
		t.Errorf("count = %d after sweep, want 1", m.Count())
	}
	if _, err := os.Stat(root); !os.IsNotExist(err) {
		t.Error("expired session dir not removed")
	}

	// A new call with the old id starts a fresh environment.
	s2, err := m.Get("stale")
	if err != nil {
		t.Fatal(err)
	}
	if s2 == s {
		t.Error("expired session instance was resurrected")
	}
}
