// Package workspace manages the fence runtime directory structure.
// All runtime state (session base directories, log files) is consolidated
// under a single workspace root, making the install portable.
//
// Default workspace: ~/.fence/workspace (configurable via config or the
// FENCE_WORKSPACE env var).
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Default workspace location relative to the user home directory.
const defaultRelativePath = ".fence/workspace"

// Workspace manages the runtime directories and derived paths.
type Workspace struct {
	Root string

	mu      sync.Mutex
	created map[string]bool // tracks which directories have been ensured
}

// New creates a Workspace rooted at the given path. It resolves ~ to the
// user's home directory and creates the root if it does not exist.
func New(root string) (*Workspace, error) {
	resolved, err := resolvePath(root)
	if err != nil {
		return nil, fmt.Errorf("resolving workspace root %q: %w", root, err)
	}

	w := &Workspace{
		Root:    resolved,
		created: make(map[string]bool),
	}

	if err := w.ensureDir(resolved, 0750); err != nil {
		return nil, fmt.Errorf("creating workspace root: %w", err)
	}

	return w, nil
}

// Default creates a Workspace at ~/.fence/workspace.
func Default() (*Workspace, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("determining home directory: %w", err)
	}
	return New(filepath.Join(home, defaultRelativePath))
}

// SessionsDir returns <root>/sessions/. Each session's confinement root
// lives underneath it.
func (w *Workspace) SessionsDir() string {
	return w.dir("sessions")
}

// LogsDir returns <root>/logs/.
func (w *Workspace) LogsDir() string {
	return w.dir("logs")
}

// ConfigPath returns <root>/config.yaml.
func (w *Workspace) ConfigPath() string {
	return filepath.Join(w.Root, "config.yaml")
}

// SessionRoot returns <root>/sessions/<sessionID>/, creating it. This is the
// base directory a session's virtual filesystem is confined to.
func (w *Workspace) SessionRoot(sessionID string) (string, error) {
	p := filepath.Join(w.SessionsDir(), sanitizeName(sessionID))
	if err := w.ensureDir(p, 0750); err != nil {
		return "", err
	}
	return p, nil
}

// RemoveSession deletes a session's base directory and everything in it.
func (w *Workspace) RemoveSession(sessionID string) error {
	p := filepath.Join(w.SessionsDir(), sanitizeName(sessionID))
	w.mu.Lock()
	delete(w.created, p)
	w.mu.Unlock()
	if err := os.RemoveAll(p); err != nil {
		return fmt.Errorf("removing session dir: %w", err)
	}
	return nil
}

// EnsureAll creates all standard workspace directories. Called at startup.
func (w *Workspace) EnsureAll() error {
	for _, d := range []string{w.SessionsDir(), w.LogsDir()} {
		if err := w.ensureDir(d, 0750); err != nil {
			return err
		}
	}
	return nil
}

// dir returns an absolute path under the workspace root and ensures the
// directory exists.
func (w *Workspace) dir(name string) string {
	p := filepath.Join(w.Root, name)
	_ = w.ensureDir(p, 0750)
	return p
}

// ensureDir creates a directory if it doesn't already exist. Uses a cache to
// avoid redundant stat/mkdir calls.
func (w *Workspace) ensureDir(path string, perm os.FileMode) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.created[path] {
		return nil
	}

	if err := os.MkdirAll(path, perm); err != nil {
		return fmt.Errorf("creating directory %s: %w", path, err)
	}
	w.created[path] = true
	return nil
}

// resolvePath expands ~ to the user home directory and returns an absolute path.
func resolvePath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, path[1:])
	}
	return filepath.Abs(path)
}

// sanitizeName replaces path separator characters to prevent a hostile
// session id from steering the directory outside the sessions root.
func sanitizeName(name string) string {
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, "\\", "_")
	name = strings.ReplaceAll(name, "..", "_")
	if name == "" {
		name = "_"
	}
	return name
}
