// Package fsops provides filesystem operations with safety guarantees.
//
// All repository storage reads and writes in deltaserve go through the FS
// interface. It is backed by go-billy so the same code runs against the
// operating system (osfs) and against an in-memory filesystem (memfs) in tests.
//
// Key features:
//   - Atomic writes using temp file + rename
//   - Path validation for repository-relative paths
//   - Slash-separated paths relative to the filesystem root
package fsops

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
)

// FS provides an abstraction for filesystem operations.
type FS interface {
	// Root returns the directory the filesystem is rooted at ("/" for memory filesystems).
	Root() string

	// MkdirAll creates a directory and all parent directories.
	MkdirAll(path string, perm os.FileMode) error

	// Remove removes a file or empty directory.
	Remove(path string) error

	// AtomicWrite writes data to path atomically using temp file + rename.
	AtomicWrite(path string, data []byte, perm os.FileMode) error

	// ReadFile reads the entire contents of a file.
	ReadFile(path string) ([]byte, error)

	// ReadDir lists the entries of a directory.
	ReadDir(path string) ([]os.FileInfo, error)

	// Walk walks the tree rooted at root, calling fn for every file and directory.
	Walk(root string, fn filepath.WalkFunc) error

	// Exists checks if a path exists.
	Exists(path string) (bool, error)

	// ValidateRelPath validates a relative path for safety.
	ValidateRelPath(relPath string) error
}

// BillyFS implements FS on top of a go-billy filesystem.
type BillyFS struct {
	fs billy.Filesystem
}

// NewBillyFS wraps an existing billy filesystem.
func NewBillyFS(fsys billy.Filesystem) *BillyFS {
	return &BillyFS{fs: fsys}
}

// NewOSFS creates an FS rooted at dir on the real filesystem.
func NewOSFS(dir string) *BillyFS {
	return &BillyFS{fs: osfs.New(dir)}
}

// NewMemFS creates an empty in-memory FS.
func NewMemFS() *BillyFS {
	return &BillyFS{fs: memfs.New()}
}

// Root returns the root directory of the underlying filesystem.
func (b *BillyFS) Root() string {
	return b.fs.Root()
}

// MkdirAll creates a directory and all parent directories.
func (b *BillyFS) MkdirAll(path string, perm os.FileMode) error {
	if err := b.fs.MkdirAll(path, perm); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", path, err)
	}
	return nil
}

// Remove removes a file or empty directory.
func (b *BillyFS) Remove(path string) error {
	return b.fs.Remove(path)
}

// AtomicWrite writes data to path atomically using temp file + rename.
func (b *BillyFS) AtomicWrite(name string, data []byte, perm os.FileMode) error {
	dir := path.Dir(name)
	if err := b.fs.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create parent directory: %w", err)
	}

	tmpFile, err := b.fs.TempFile(dir, ".deltaserve-tmp-")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	// Clean up temp file on error
	defer func() {
		if tmpFile != nil {
			_ = tmpFile.Close()
			_ = b.fs.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		return fmt.Errorf("failed to write to temp file: %w", err)
	}

	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if chmodder, ok := b.fs.(billy.Change); ok {
		if err := chmodder.Chmod(tmpPath, perm); err != nil {
			return fmt.Errorf("failed to set permissions: %w", err)
		}
	}

	if err := b.fs.Rename(tmpPath, name); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	tmpFile = nil
	return nil
}

// ReadFile reads the entire contents of a file.
func (b *BillyFS) ReadFile(path string) ([]byte, error) {
	return util.ReadFile(b.fs, path)
}

// ReadDir lists the entries of a directory.
func (b *BillyFS) ReadDir(path string) ([]os.FileInfo, error) {
	return b.fs.ReadDir(path)
}

// Walk walks the tree rooted at root.
func (b *BillyFS) Walk(root string, fn filepath.WalkFunc) error {
	return util.Walk(b.fs, root, fn)
}

// Exists checks if a path exists.
func (b *BillyFS) Exists(path string) (bool, error) {
	_, err := b.fs.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// ValidateRelPath validates a slash-separated relative path for safety.
// The empty path is valid and names the root.
func (b *BillyFS) ValidateRelPath(relPath string) error {
	return ValidateRelPath(relPath)
}

// ValidateRelPath rejects absolute paths and any path that would escape its root.
func ValidateRelPath(relPath string) error {
	if relPath == "" {
		return nil
	}

	if strings.HasPrefix(relPath, "/") || filepath.IsAbs(relPath) {
		return fmt.Errorf("invalid path: must be relative, got absolute path %q", relPath)
	}

	for _, seg := range strings.Split(relPath, "/") {
		switch seg {
		case "..":
			return fmt.Errorf("invalid path: path traversal not allowed in %q", relPath)
		case "", ".":
			return fmt.Errorf("invalid path: empty or current-directory segment in %q", relPath)
		}
	}

	return nil
}
