package vfs

import (
	"os"
	"path"
	"sort"
	"sync"

	"github.com/fenceio/fence/internal/errs"
)

// EntryKind distinguishes directory listing entries.
type EntryKind string

const (
	KindFile      EntryKind = "file"
	KindDirectory EntryKind = "directory"
)

// Entry is one row of a directory listing.
type Entry struct {
	Name string    `json:"name"`
	Kind EntryKind `json:"kind"`
	Size int64     `json:"size"`
}

// VFS is a virtual filesystem scoped to one session. It owns a virtual
// working directory and funnels every path argument through its Resolver on
// every call — no method trusts a previously validated path, so a stale path
// cached across a ChangeDirectory cannot bypass containment.
//
// The mutex spans each validate-then-mutate sequence, so a VFS shared across
// goroutines cannot race its working directory against an in-flight
// operation. One VFS still belongs to exactly one logical session.
type VFS struct {
	resolver *Resolver

	mu  sync.Mutex
	cwd string // virtual path, always an existing directory under base
}

// New creates a VFS confined to base. The working directory starts at the
// virtual root.
func New(base string) (*VFS, error) {
	r, err := NewResolver(base)
	if err != nil {
		return nil, err
	}
	return &VFS{resolver: r, cwd: "/"}, nil
}

// Resolver exposes the path resolver for callers that only need validation.
func (v *VFS) Resolver() *Resolver { return v.resolver }

// Cwd returns the current virtual working directory.
func (v *VFS) Cwd() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.cwd
}

// ChangeDirectory resolves p as an existing directory and atomically replaces
// the working directory. On any failure the working directory is unchanged.
func (v *VFS) ChangeDirectory(p string) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	virtual, _, err := v.resolver.ValidateDirectoryPath(v.cwd, p, true)
	if err != nil {
		return "", err
	}
	v.cwd = virtual
	return virtual, nil
}

// ListDirectory returns the entries of p (or of the working directory when p
// is empty), sorted by name for deterministic output.
func (v *VFS) ListDirectory(p string) ([]Entry, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	virtual, host, err := v.resolver.ValidateDirectoryPath(v.cwd, p, true)
	if err != nil {
		return nil, err
	}

	dirEntries, err := os.ReadDir(host)
	if err != nil {
		return nil, errs.New(errs.NotFound, "directory %q cannot be read", virtual)
	}

	entries := make([]Entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		e := Entry{Name: de.Name(), Kind: KindFile}
		if de.IsDir() {
			e.Kind = KindDirectory
		} else if info, ierr := de.Info(); ierr == nil {
			e.Size = info.Size()
		}
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

// MakeDirectory creates the directory named by p. With parents set,
// intermediate directories are created and the call is idempotent. Without
// it, a missing intermediate fails with not-found. A target that already
// exists as a directory is never an error; one that exists as anything else
// fails with not-a-directory.
func (v *VFS) MakeDirectory(p string, parents bool) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	virtual, host, err := v.resolver.Resolve(v.cwd, p)
	if err != nil {
		return "", err
	}

	if info, statErr := os.Stat(host); statErr == nil {
		if info.IsDir() {
			return virtual, nil
		}
		return "", errs.New(errs.NotADirectory, "%q exists and is not a directory", virtual)
	}

	if parents {
		if err := os.MkdirAll(host, 0750); err != nil {
			return "", errs.New(errs.Execution, "cannot create directory %q", virtual)
		}
		return virtual, nil
	}

	if err := os.Mkdir(host, 0750); err != nil {
		if os.IsNotExist(err) {
			return "", errs.New(errs.NotFound, "parent of %q does not exist", virtual)
		}
		return "", errs.New(errs.Execution, "cannot create directory %q", virtual)
	}
	return virtual, nil
}

// ReadFile returns the contents of the file named by p.
func (v *VFS) ReadFile(p string) ([]byte, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	virtual, host, err := v.resolver.Resolve(v.cwd, p)
	if err != nil {
		return nil, err
	}

	info, statErr := os.Stat(host)
	if statErr != nil {
		return nil, errs.New(errs.NotFound, "file %q does not exist", virtual)
	}
	if info.IsDir() {
		return nil, errs.New(errs.IsADirectory, "%q is a directory", virtual)
	}

	data, err := os.ReadFile(host)
	if err != nil {
		return nil, errs.New(errs.Execution, "file %q cannot be read", virtual)
	}
	return data, nil
}

// WriteFile creates or overwrites the file named by p. The parent directory
// must already exist. Validation happens before any byte is written, so a
// rejected call leaves no partial state.
func (v *VFS) WriteFile(p string, content []byte) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	virtual, host, err := v.resolver.Resolve(v.cwd, p)
	if err != nil {
		return err
	}

	if info, statErr := os.Stat(host); statErr == nil && info.IsDir() {
		return errs.New(errs.IsADirectory, "%q is a directory", virtual)
	}

	parent := path.Dir(virtual)
	if _, _, err := v.resolver.ValidateDirectoryPath("/", parent, true); err != nil {
		if errs.IsKind(err, errs.NotADirectory) {
			return err
		}
		return errs.New(errs.NotFound, "parent of %q does not exist", virtual)
	}

	if err := os.WriteFile(host, content, 0640); err != nil {
		return errs.New(errs.Execution, "file %q cannot be written", virtual)
	}
	return nil
}
