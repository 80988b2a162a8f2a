// Package file implements the Read, Write, and LS tools. All path handling
// is delegated to the session's virtual filesystem, which confines every
// operation to the session base directory and tracks the virtual working
// directory that relative paths resolve against.
package file

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/fenceio/fence/internal/errs"
	"github.com/fenceio/fence/internal/tools"
	"github.com/fenceio/fence/internal/vfs"
)

// Config configures the file tools.
type Config struct {
	MaxFileSizeBytes int64 // Maximum size for read/write. 0 = 10 MB default.
}

const defaultMaxFileSize = 10 << 20 // 10 MB

func maxSize(cfg Config) int64 {
	if cfg.MaxFileSizeBytes > 0 {
		return cfg.MaxFileSizeBytes
	}
	return defaultMaxFileSize
}

// requireString extracts a required non-empty string param.
func requireString(params map[string]any, key string) (string, error) {
	v, ok := params[key]
	if !ok {
		return "", errs.New(errs.DisallowedArgument, "missing required parameter: %s", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", errs.New(errs.DisallowedArgument, "parameter %s must be a string", key)
	}
	if s == "" {
		return "", errs.New(errs.DisallowedArgument, "parameter %s must not be empty", key)
	}
	return s, nil
}

// ---- ReadTool ----

// ReadTool reads file contents through the virtual filesystem.
type ReadTool struct {
	config Config
	fs     *vfs.VFS
	logger *slog.Logger
}

// NewReadTool creates the Read tool bound to one session's filesystem.
func NewReadTool(cfg Config, fs *vfs.VFS, logger *slog.Logger) *ReadTool {
	return &ReadTool{config: cfg, fs: fs, logger: logger}
}

func (t *ReadTool) Name() string        { return "Read" }
func (t *ReadTool) Description() string { return "Read the contents of a file in the workspace" }

func (t *ReadTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{"type": "string", "description": "Path to the file, relative to the current directory or starting with / for the workspace root"},
		},
		"required": []string{"path"},
	}
}

func (t *ReadTool) Validate(params map[string]any) error {
	_, err := requireString(params, "path")
	return err
}

func (t *ReadTool) Execute(ctx context.Context, params map[string]any) (*tools.Result, error) {
	path, err := requireString(params, "path")
	if err != nil {
		return nil, err
	}

	t.logger.InfoContext(ctx, "read tool executing", slog.String("path", path))

	data, err := t.fs.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxSize(t.config) {
		return nil, errs.New(errs.Execution, "file %q exceeds the size limit", path)
	}

	return &tools.Result{
		Output:  tools.TruncateOutput(string(data), tools.MaxOutputBytes),
		Success: true,
		Metadata: map[string]any{
			"path":              path,
			"size_bytes":        len(data),
			"current_directory": t.fs.Cwd(),
		},
	}, nil
}

// ---- WriteTool ----

// WriteTool creates or overwrites files through the virtual filesystem.
type WriteTool struct {
	config Config
	fs     *vfs.VFS
	logger *slog.Logger
}

// NewWriteTool creates the Write tool bound to one session's filesystem.
func NewWriteTool(cfg Config, fs *vfs.VFS, logger *slog.Logger) *WriteTool {
	return &WriteTool{config: cfg, fs: fs, logger: logger}
}

func (t *WriteTool) Name() string        { return "Write" }
func (t *WriteTool) Description() string { return "Write content to a file in the workspace" }

func (t *WriteTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path":    map[string]any{"type": "string", "description": "Path of the file to write"},
			"content": map[string]any{"type": "string", "description": "Content to write"},
		},
		"required": []string{"path", "content"},
	}
}

func (t *WriteTool) Validate(params map[string]any) error {
	if _, err := requireString(params, "path"); err != nil {
		return err
	}
	content, ok := params["content"].(string)
	if !ok {
		return errs.New(errs.DisallowedArgument, "parameter content must be a string")
	}
	if int64(len(content)) > maxSize(t.config) {
		return errs.New(errs.DisallowedArgument, "content exceeds the size limit")
	}
	return nil
}

func (t *WriteTool) Execute(ctx context.Context, params map[string]any) (*tools.Result, error) {
	if err := t.Validate(params); err != nil {
		return nil, err
	}
	path, _ := requireString(params, "path")
	content := params["content"].(string)

	t.logger.InfoContext(ctx, "write tool executing",
		slog.String("path", path),
		slog.Int("content_size", len(content)),
	)

	if err := t.fs.WriteFile(path, []byte(content)); err != nil {
		return nil, err
	}

	return &tools.Result{
		Output:  fmt.Sprintf("wrote %d bytes to %s", len(content), path),
		Success: true,
		Metadata: map[string]any{
			"path":              path,
			"size_bytes":        len(content),
			"current_directory": t.fs.Cwd(),
		},
	}, nil
}

// ---- LSTool ----

// LSTool lists directories through the virtual filesystem.
type LSTool struct {
	fs     *vfs.VFS
	logger *slog.Logger
}

// NewLSTool creates the LS tool bound to one session's filesystem.
func NewLSTool(fs *vfs.VFS, logger *slog.Logger) *LSTool {
	return &LSTool{fs: fs, logger: logger}
}

func (t *LSTool) Name() string        { return "LS" }
func (t *LSTool) Description() string { return "List the contents of a workspace directory" }

func (t *LSTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{"type": "string", "description": "Directory to list. Defaults to the current directory"},
		},
	}
}

func (t *LSTool) Validate(params map[string]any) error {
	if v, ok := params["path"]; ok {
		if _, isStr := v.(string); !isStr {
			return errs.New(errs.DisallowedArgument, "parameter path must be a string")
		}
	}
	return nil
}

func (t *LSTool) Execute(ctx context.Context, params map[string]any) (*tools.Result, error) {
	path, _ := params["path"].(string)

	t.logger.InfoContext(ctx, "ls tool executing", slog.String("path", path))

	entries, err := t.fs.ListDirectory(path)
	if err != nil {
		return nil, err
	}

	output := FormatEntries(entries, false, true)
	return &tools.Result{
		Output:  tools.TruncateOutput(output, tools.MaxOutputBytes),
		Success: true,
		Metadata: map[string]any{
			"count":             len(entries),
			"entries":           entries,
			"current_directory": t.fs.Cwd(),
		},
	}, nil
}

// FormatEntries renders listing entries the way the ls handler prints them.
// Long format gives one entry per line with kind marker and size; short
// format joins names, marking directories with a trailing slash. Hidden
// entries (dot prefix) are skipped unless showHidden is set.
func FormatEntries(entries []vfs.Entry, long, showHidden bool) string {
	var lines []string
	for _, e := range entries {
		if !showHidden && len(e.Name) > 0 && e.Name[0] == '.' {
			continue
		}
		if long {
			marker := "-"
			if e.Kind == vfs.KindDirectory {
				marker = "d"
			}
			lines = append(lines, fmt.Sprintf("%s %8d %s", marker, e.Size, e.Name))
		} else {
			name := e.Name
			if e.Kind == vfs.KindDirectory {
				name += "/"
			}
			lines = append(lines, name)
		}
	}
	if len(lines) == 0 {
		return "(empty directory)"
	}
	if long {
		return strings.Join(lines, "\n")
	}
	return strings.Join(lines, "  ")
}
