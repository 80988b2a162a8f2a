package bash

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fenceio/fence/internal/errs"
	"github.com/fenceio/fence/internal/ratelimit"
	"github.com/fenceio/fence/internal/vfs"
)

func newTestTool(t *testing.T, cfg ratelimit.Config) (*Tool, *vfs.VFS, string) {
	t.Helper()
	base := t.TempDir()
	fs, err := vfs.New(base)
	if err != nil {
		t.Fatal(err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	return NewTool(fs, ratelimit.NewLimiter(cfg), logger), fs, base
}

func TestDangerousPatternRejection(t *testing.T) {
	tool, _, base := newTestTool(t, ratelimit.Config{})

	inputs := []string{
		"ls; rm -rf /",
		"ls $(pwd)",
		"ls `pwd`",
		"echo hi > /tmp/f",
		"echo hi >> log",
		"cat < secret",
		"ls | grep x",
		"sleep 10 &",
		"ls && pwd",
		"ls || pwd",
		"eval ls",
		"exec ls",
		"source profile",
	}
	for _, in := range inputs {
		if _, err := tool.Run(in); !errs.IsKind(err, errs.DangerousPattern) {
			t.Errorf("Run(%q): got %v, want dangerous pattern", in, err)
		}
	}

	// Nothing was created as a side effect of any rejected input.
	entries, err := os.ReadDir(base)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("rejected inputs left %d filesystem entries", len(entries))
	}
}

func TestUnsupportedCommand(t *testing.T) {
	tool, _, _ := newTestTool(t, ratelimit.Config{})

	for _, in := range []string{"rm -rf x", "cat file", "touch file", "chmod 777 x"} {
		if _, err := tool.Run(in); !errs.IsKind(err, errs.UnsupportedCommand) {
			t.Errorf("Run(%q): got %v, want unsupported command", in, err)
		}
	}
}

func TestDisallowedArguments(t *testing.T) {
	tool, _, _ := newTestTool(t, ratelimit.Config{})

	tests := []string{
		"ls --help",
		"mkdir --force x",
		"ls /etc",
		"ls /etc/passwd",
		"cd /root",
		"cd ~",
		"echo $HOME",
	}
	for _, in := range tests {
		if _, err := tool.Run(in); !errs.IsKind(err, errs.DisallowedArgument) {
			t.Errorf("Run(%q): got %v, want disallowed argument", in, err)
		}
	}
}

func TestPwd(t *testing.T) {
	tool, _, _ := newTestTool(t, ratelimit.Config{})

	res, err := tool.Run("pwd")
	if err != nil {
		t.Fatalf("pwd: %v", err)
	}
	if res.Output != "/" {
		t.Errorf("pwd output = %q, want /", res.Output)
	}

	if _, err := tool.Run("pwd extra"); !errs.IsKind(err, errs.DisallowedArgument) {
		t.Errorf("pwd with args: got %v, want disallowed argument", err)
	}
}

func TestCdAndMkdir(t *testing.T) {
	tool, fs, _ := newTestTool(t, ratelimit.Config{})

	if _, err := tool.Run("mkdir -p a/b"); err != nil {
		t.Fatalf("mkdir -p: %v", err)
	}
	if _, err := tool.Run("cd a/b"); err != nil {
		t.Fatalf("cd: %v", err)
	}
	if fs.Cwd() != "/a/b" {
		t.Errorf("cwd = %q, want /a/b", fs.Cwd())
	}

	// cd with no argument returns to the root.
	if _, err := tool.Run("cd"); err != nil {
		t.Fatalf("cd (no args): %v", err)
	}
	if fs.Cwd() != "/" {
		t.Errorf("cwd = %q after bare cd, want /", fs.Cwd())
	}

	// mkdir without -p fails on missing intermediates.
	if _, err := tool.Run("mkdir x/y/z"); !errs.IsKind(err, errs.NotFound) {
		t.Errorf("mkdir x/y/z: got %v, want not found", err)
	}
}

func TestCdCannotEscapeRoot(t *testing.T) {
	tool, fs, _ := newTestTool(t, ratelimit.Config{})

	for i := 0; i < 3; i++ {
		if _, err := tool.Run("cd .."); !errs.IsKind(err, errs.PathEscape) {
			t.Fatalf("cd .. attempt %d: got %v, want path escape", i, err)
		}
	}
	if fs.Cwd() != "/" {
		t.Errorf("cwd = %q, escaped root", fs.Cwd())
	}
}

func TestLs(t *testing.T) {
	tool, fs, base := newTestTool(t, ratelimit.Config{})

	if err := os.WriteFile(filepath.Join(base, "visible.txt"), []byte("x"), 0640); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(base, ".hidden"), []byte("x"), 0640); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(base, "sub"), 0750); err != nil {
		t.Fatal(err)
	}

	res, err := tool.Run("ls")
	if err != nil {
		t.Fatalf("ls: %v", err)
	}
	if res.Output != "sub/  visible.txt" {
		t.Errorf("ls output = %q", res.Output)
	}

	res, err = tool.Run("ls -a")
	if err != nil {
		t.Fatalf("ls -a: %v", err)
	}
	if res.Output != ".hidden  sub/  visible.txt" {
		t.Errorf("ls -a output = %q", res.Output)
	}

	if _, err := tool.Run("ls -l"); err != nil {
		t.Errorf("ls -l: %v", err)
	}
	if _, err := tool.Run("ls -la sub"); err != nil {
		t.Errorf("ls -la sub: %v", err)
	}
	if _, err := tool.Run("ls -Z"); !errs.IsKind(err, errs.DisallowedArgument) {
		t.Errorf("ls -Z: got %v, want disallowed argument", err)
	}

	_ = fs
}

func TestEchoHasNoSideEffects(t *testing.T) {
	tool, _, base := newTestTool(t, ratelimit.Config{})

	res, err := tool.Run(`echo hello 'big world'`)
	if err != nil {
		t.Fatalf("echo: %v", err)
	}
	if res.Output != "hello big world" {
		t.Errorf("echo output = %q", res.Output)
	}

	entries, _ := os.ReadDir(base)
	if len(entries) != 0 {
		t.Error("echo created filesystem entries")
	}
}

func TestCompoundMkdirCd(t *testing.T) {
	tool, fs, _ := newTestTool(t, ratelimit.Config{})

	if _, err := tool.Run("mkdir sub && cd sub"); err != nil {
		t.Fatalf("compound: %v", err)
	}
	if fs.Cwd() != "/sub" {
		t.Errorf("cwd = %q after compound, want /sub", fs.Cwd())
	}

	// The -p variant names the same target.
	if _, err := tool.Run("cd"); err != nil {
		t.Fatal(err)
	}
	if _, err := tool.Run("mkdir -p deep/nest && cd deep/nest"); err != nil {
		t.Fatalf("compound -p: %v", err)
	}
	if fs.Cwd() != "/deep/nest" {
		t.Errorf("cwd = %q, want /deep/nest", fs.Cwd())
	}
}

func TestCompoundRequiresSameTarget(t *testing.T) {
	tool, fs, _ := newTestTool(t, ratelimit.Config{})

	if _, err := tool.Run("mkdir a && cd b"); !errs.IsKind(err, errs.DangerousPattern) {
		t.Errorf("mismatched compound: got %v, want dangerous pattern", err)
	}
	if fs.Cwd() != "/" {
		t.Errorf("cwd moved on rejected compound: %q", fs.Cwd())
	}
}

// If mkdir fails, cd is never attempted and the cwd is unchanged.
func TestCompoundAtomicRejection(t *testing.T) {
	tool, fs, base := newTestTool(t, ratelimit.Config{})

	// "foo" exists as a regular file, so mkdir must fail.
	if err := os.WriteFile(filepath.Join(base, "foo"), []byte("x"), 0640); err != nil {
		t.Fatal(err)
	}

	_, err := tool.Run("mkdir foo && cd foo")
	if !errs.IsKind(err, errs.NotADirectory) {
		t.Fatalf("compound over file: got %v, want not a directory", err)
	}
	if fs.Cwd() != "/" {
		t.Errorf("cwd = %q after failed compound, want /", fs.Cwd())
	}
}

func TestRateLimiting(t *testing.T) {
	tool, _, _ := newTestTool(t, ratelimit.Config{MaxCalls: 2, Window: time.Minute})

	if _, err := tool.Run("pwd"); err != nil {
		t.Fatal(err)
	}
	if _, err := tool.Run("pwd"); err != nil {
		t.Fatal(err)
	}
	if _, err := tool.Run("pwd"); !errs.IsKind(err, errs.RateLimitExceeded) {
		t.Errorf("third call: got %v, want rate limit exceeded", err)
	}

	// Invalid input is rejected before the limiter and consumes no quota.
	tool2, _, _ := newTestTool(t, ratelimit.Config{MaxCalls: 1, Window: time.Minute})
	for i := 0; i < 5; i++ {
		if _, err := tool2.Run("rm x"); !errs.IsKind(err, errs.UnsupportedCommand) {
			t.Fatal("expected unsupported command")
		}
	}
	if _, err := tool2.Run("pwd"); err != nil {
		t.Errorf("valid call after rejected ones: %v", err)
	}
}

func TestQuotedArguments(t *testing.T) {
	tool, fs, _ := newTestTool(t, ratelimit.Config{})

	if _, err := tool.Run(`mkdir "my dir"`); err != nil {
		t.Fatalf("mkdir with quoted name: %v", err)
	}
	if _, err := tool.Run(`cd "my dir"`); err != nil {
		t.Fatalf("cd with quoted name: %v", err)
	}
	if fs.Cwd() != "/my dir" {
		t.Errorf("cwd = %q, want %q", fs.Cwd(), "/my dir")
	}

	if _, err := tool.Run(`echo 'unterminated`); !errs.IsKind(err, errs.DangerousPattern) {
		t.Errorf("unterminated quote: got %v, want dangerous pattern", err)
	}
}

func TestExecuteParams(t *testing.T) {
	tool, _, _ := newTestTool(t, ratelimit.Config{})
	ctx := context.Background()

	res, err := tool.Execute(ctx, map[string]any{"command": "pwd"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.Success {
		t.Error("Execute result not successful")
	}
	if res.Metadata["current_directory"] != "/" {
		t.Errorf("current_directory = %v", res.Metadata["current_directory"])
	}

	if _, err := tool.Execute(ctx, map[string]any{}); !errs.IsKind(err, errs.DisallowedArgument) {
		t.Errorf("missing command param: got %v", err)
	}
}
