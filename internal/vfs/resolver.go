// Package vfs implements a virtual filesystem confined to a base directory.
//
// Paths handed to the VFS are virtual: "/" denotes the base directory, and
// every operation resolves against a per-instance virtual working directory.
// Resolution is lexical first (so escapes are caught before any syscall) and
// then verified against the real filesystem once symlinks are followed.
package vfs

import (
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/fenceio/fence/internal/errs"
)

// Resolver sanitizes and validates candidate paths against a base directory.
// It holds no mutable state and is safe for concurrent use.
type Resolver struct {
	// base is the absolute, symlink-resolved host path of the confinement root.
	base string
}

// NewResolver creates a Resolver rooted at base. The directory must exist;
// its real (symlink-free) path becomes the confinement root so that a
// symlinked base cannot defeat later prefix checks.
func NewResolver(base string) (*Resolver, error) {
	if !filepath.IsAbs(base) {
		return nil, errs.New(errs.Execution, "base directory must be absolute")
	}
	real, err := filepath.EvalSymlinks(base)
	if err != nil {
		return nil, errs.New(errs.NotFound, "base directory does not exist")
	}
	info, err := os.Stat(real)
	if err != nil || !info.IsDir() {
		return nil, errs.New(errs.NotADirectory, "base directory is not a directory")
	}
	return &Resolver{base: real}, nil
}

// Base returns the host path of the confinement root.
func (r *Resolver) Base() string { return r.base }

// Sanitize resolves candidate against cwd (a virtual path) and returns the
// resulting virtual path. Rules:
//
//   - "" and "." resolve to cwd.
//   - A leading "/" means relative to the base directory, never the host root.
//   - ".." segments are resolved lexically; any resolution that would climb
//     above the base fails with a path escape error.
//
// The returned path uses "/" separators and always starts with "/".
func (r *Resolver) Sanitize(cwd, candidate string) (string, error) {
	if candidate == "" || candidate == "." {
		return cleanVirtual(cwd), nil
	}

	var segments []string
	if !strings.HasPrefix(candidate, "/") {
		segments = splitVirtual(cwd)
	}

	for _, seg := range strings.Split(candidate, "/") {
		switch seg {
		case "", ".":
			// Repeated or trailing separators and self references collapse.
		case "..":
			if len(segments) == 0 {
				return "", errs.New(errs.PathEscape, "path %q escapes the workspace root", candidate)
			}
			segments = segments[:len(segments)-1]
		default:
			segments = append(segments, seg)
		}
	}

	return "/" + strings.Join(segments, "/"), nil
}

// HostPath converts a sanitized virtual path to the host path to operate on,
// verifying that the real location — after following any symlinks along the
// way — is still inside the base directory. The target itself may not exist
// yet (write and mkdir targets); in that case the deepest existing ancestor
// is resolved and the remaining suffix re-joined lexically.
func (r *Resolver) HostPath(virtual string) (string, error) {
	host := filepath.Join(r.base, filepath.FromSlash(strings.TrimPrefix(virtual, "/")))

	resolved, err := filepath.EvalSymlinks(host)
	if err != nil {
		// Walk up to the deepest ancestor that exists and resolve that.
		ancestor := host
		var suffix []string
		for {
			parent := filepath.Dir(ancestor)
			if parent == ancestor {
				return "", errs.New(errs.PathEscape, "path %q cannot be resolved", virtual)
			}
			suffix = append([]string{filepath.Base(ancestor)}, suffix...)
			ancestor = parent
			if resolvedAncestor, aerr := filepath.EvalSymlinks(ancestor); aerr == nil {
				resolved = filepath.Join(append([]string{resolvedAncestor}, suffix...)...)
				break
			}
		}
	}

	if !r.contains(resolved) {
		return "", errs.New(errs.PathEscape, "path %q resolves outside the workspace root", virtual)
	}
	return resolved, nil
}

// Resolve is Sanitize followed by HostPath.
func (r *Resolver) Resolve(cwd, candidate string) (virtual, host string, err error) {
	virtual, err = r.Sanitize(cwd, candidate)
	if err != nil {
		return "", "", err
	}
	host, err = r.HostPath(virtual)
	if err != nil {
		return "", "", err
	}
	return virtual, host, nil
}

// ValidateFilePath resolves candidate and, when mustExist is set, verifies it
// names an existing regular file.
func (r *Resolver) ValidateFilePath(cwd, candidate string, mustExist bool) (virtual, host string, err error) {
	virtual, host, err = r.Resolve(cwd, candidate)
	if err != nil {
		return "", "", err
	}
	info, statErr := os.Stat(host)
	if statErr != nil {
		if !mustExist && os.IsNotExist(statErr) {
			return virtual, host, nil
		}
		return "", "", errs.New(errs.NotFound, "file %q does not exist", virtual)
	}
	if info.IsDir() {
		return "", "", errs.New(errs.NotAFile, "%q is not a file", virtual)
	}
	return virtual, host, nil
}

// ValidateDirectoryPath resolves candidate and, when mustExist is set,
// verifies it names an existing directory.
func (r *Resolver) ValidateDirectoryPath(cwd, candidate string, mustExist bool) (virtual, host string, err error) {
	virtual, host, err = r.Resolve(cwd, candidate)
	if err != nil {
		return "", "", err
	}
	info, statErr := os.Stat(host)
	if statErr != nil {
		if !mustExist && os.IsNotExist(statErr) {
			return virtual, host, nil
		}
		return "", "", errs.New(errs.NotFound, "directory %q does not exist", virtual)
	}
	if !info.IsDir() {
		return "", "", errs.New(errs.NotADirectory, "%q is not a directory", virtual)
	}
	return virtual, host, nil
}

// contains reports whether host (already symlink-resolved) sits at or under
// the base. Prefix matching is separator-aware so "/base" never matches
// "/basement".
func (r *Resolver) contains(host string) bool {
	return host == r.base || strings.HasPrefix(host, r.base+string(filepath.Separator))
}

// cleanVirtual normalizes a virtual path, treating anything malformed as root.
func cleanVirtual(v string) string {
	if v == "" || !strings.HasPrefix(v, "/") {
		v = "/" + v
	}
	return path.Clean(v)
}

// splitVirtual breaks a virtual path into its non-empty segments.
func splitVirtual(v string) []string {
	var segments []string
	for _, seg := range strings.Split(cleanVirtual(v), "/") {
		if seg != "" && seg != "." {
			segments = append(segments, seg)
		}
	}
	return segments
}
