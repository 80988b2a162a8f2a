package file

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/fenceio/fence/internal/errs"
	"github.com/fenceio/fence/internal/vfs"
)

func newTestFS(t *testing.T) (*vfs.VFS, string, *slog.Logger) {
	t.Helper()
	base := t.TempDir()
	fs, err := vfs.New(base)
	if err != nil {
		t.Fatal(err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	return fs, base, logger
}

func TestReadTool(t *testing.T) {
	fs, base, logger := newTestFS(t)
	if err := os.WriteFile(filepath.Join(base, "hello.txt"), []byte("hi there"), 0640); err != nil {
		t.Fatal(err)
	}

	tool := NewReadTool(Config{}, fs, logger)
	ctx := context.Background()

	res, err := tool.Execute(ctx, map[string]any{"path": "hello.txt"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Output != "hi there" {
		t.Errorf("output = %q", res.Output)
	}
	if res.Metadata["current_directory"] != "/" {
		t.Errorf("current_directory = %v", res.Metadata["current_directory"])
	}

	if _, err := tool.Execute(ctx, map[string]any{"path": "missing"}); !errs.IsKind(err, errs.NotFound) {
		t.Errorf("missing file: got %v", err)
	}
	if _, err := tool.Execute(ctx, map[string]any{"path": "../../etc/passwd"}); !errs.IsKind(err, errs.PathEscape) {
		t.Errorf("traversal: got %v, want path escape", err)
	}
	if err := tool.Validate(map[string]any{}); !errs.IsKind(err, errs.DisallowedArgument) {
		t.Errorf("missing param: got %v", err)
	}
}

func TestWriteTool(t *testing.T) {
	fs, base, logger := newTestFS(t)
	tool := NewWriteTool(Config{}, fs, logger)
	ctx := context.Background()

	res, err := tool.Execute(ctx, map[string]any{"path": "out.txt", "content": "payload"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.Success {
		t.Error("write not successful")
	}
	data, err := os.ReadFile(filepath.Join(base, "out.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "payload" {
		t.Errorf("written content = %q", data)
	}

	if _, err := tool.Execute(ctx, map[string]any{"path": "../escape", "content": "x"}); !errs.IsKind(err, errs.PathEscape) {
		t.Errorf("traversal write: got %v, want path escape", err)
	}

	// Size cap enforced at validation, before any byte lands.
	small := NewWriteTool(Config{MaxFileSizeBytes: 4}, fs, logger)
	if _, err := small.Execute(ctx, map[string]any{"path": "big.txt", "content": "too large"}); !errs.IsKind(err, errs.DisallowedArgument) {
		t.Errorf("oversize write: got %v", err)
	}
	if _, err := os.Stat(filepath.Join(base, "big.txt")); !os.IsNotExist(err) {
		t.Error("oversize write left a file behind")
	}
}

func TestLSTool(t *testing.T) {
	fs, base, logger := newTestFS(t)
	if err := os.Mkdir(filepath.Join(base, "dir"), 0750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(base, "file.txt"), []byte("abc"), 0640); err != nil {
		t.Fatal(err)
	}

	tool := NewLSTool(fs, logger)
	ctx := context.Background()

	res, err := tool.Execute(ctx, map[string]any{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Metadata["count"] != 2 {
		t.Errorf("count = %v, want 2", res.Metadata["count"])
	}

	if _, err := tool.Execute(ctx, map[string]any{"path": "file.txt"}); !errs.IsKind(err, errs.NotADirectory) {
		t.Errorf("ls on file: got %v", err)
	}
}

func TestFormatEntries(t *testing.T) {
	entries := []vfs.Entry{
		{Name: ".hidden", Kind: vfs.KindFile, Size: 1},
		{Name: "dir", Kind: vfs.KindDirectory},
		{Name: "file", Kind: vfs.KindFile, Size: 42},
	}

	if got := FormatEntries(entries, false, false); got != "dir/  file" {
		t.Errorf("short = %q", got)
	}
	if got := FormatEntries(entries, false, true); got != ".hidden  dir/  file" {
		t.Errorf("short hidden = %q", got)
	}
	if got := FormatEntries(nil, false, true); got != "(empty directory)" {
		t.Errorf("empty = %q", got)
	}
	long := FormatEntries(entries, true, true)
	if long == "" || long == "(empty directory)" {
		t.Errorf("long = %q", long)
	}
}
