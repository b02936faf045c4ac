// Package localfs provides rooted filesystem access to the local mirror
// directory. Every path is relative to the root and checked against
// traversal before it touches the disk.
package localfs

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	mirrorerrors "github.com/alexjbarnes/page-mirror/internal/errors"
	"golang.org/x/text/unicode/norm"
)

const (
	// dirPerm is the permission mode for directories created in the tree.
	dirPerm = fs.FileMode(0o755)

	// filePerm is the permission mode for files written in the tree.
	filePerm = fs.FileMode(0o644)
)

// Tree is a mirror root directory. Writes are serialized; reads take a
// shared lock so they never observe a partial write.
type Tree struct {
	dir string
	mu  sync.RWMutex
}

// New returns a Tree rooted at dir, creating the directory if needed.
func New(dir string) (*Tree, error) {
	if dir == "" {
		return nil, fmt.Errorf("mirror directory must not be empty")
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving mirror directory: %w", err)
	}

	if err := os.MkdirAll(abs, dirPerm); err != nil {
		return nil, fmt.Errorf("creating mirror directory %s: %w", abs, err)
	}

	return &Tree{dir: abs}, nil
}

// Open returns a Tree rooted at an existing directory.
func Open(dir string) (*Tree, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving mirror directory: %w", err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("opening mirror directory: %w", err)
	}

	if !info.IsDir() {
		return nil, fmt.Errorf("mirror root %s is not a directory", abs)
	}

	return &Tree{dir: abs}, nil
}

// Dir returns the absolute root directory.
func (t *Tree) Dir() string {
	return t.dir
}

// Abs returns the absolute path for a relative path inside the tree.
func (t *Tree) Abs(relPath string) (string, error) {
	return t.resolve(relPath)
}

// ReadFile reads a file by relative path.
func (t *Tree) ReadFile(relPath string) ([]byte, error) {
	absPath, err := t.resolve(relPath)
	if err != nil {
		return nil, err
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	return os.ReadFile(absPath) //nolint:gosec // G304: absPath validated by Tree.resolve
}

// WriteFile writes data to a relative path through a temp file and
// rename, creating parent directories as needed.
func (t *Tree) WriteFile(relPath string, data []byte) error {
	absPath, err := t.resolve(relPath)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	dir := filepath.Dir(absPath)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return fmt.Errorf("creating directory for %s: %w", relPath, err)
	}

	tmp, err := os.CreateTemp(dir, ".mirror-write-*")
	if err != nil {
		return fmt.Errorf("creating temp file for %s: %w", relPath, err)
	}

	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)

		return fmt.Errorf("writing %s: %w", relPath, err)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp file for %s: %w", relPath, err)
	}

	if err := os.Chmod(tmpName, filePerm); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("setting permissions for %s: %w", relPath, err)
	}

	if err := os.Rename(tmpName, absPath); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("renaming temp file to %s: %w", relPath, err)
	}

	return nil
}

// DeleteFile removes a file. A missing file is not an error.
func (t *Tree) DeleteFile(relPath string) error {
	absPath, err := t.resolve(relPath)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	err = os.Remove(absPath)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing %s: %w", relPath, err)
	}

	return nil
}

// Exists reports whether a relative path exists.
func (t *Tree) Exists(relPath string) bool {
	_, err := t.Stat(relPath)
	return err == nil
}

// Stat returns file info for a relative path.
func (t *Tree) Stat(relPath string) (os.FileInfo, error) {
	absPath, err := t.resolve(relPath)
	if err != nil {
		return nil, err
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	return os.Stat(absPath)
}

// ListFiles returns the sorted names of the regular files directly in
// relDir, skipping hidden ones. A missing directory has no files.
func (t *Tree) ListFiles(relDir string) ([]string, error) {
	absDir, err := t.resolve(relDir)
	if err != nil {
		return nil, err
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	entries, err := os.ReadDir(absDir)
	if os.IsNotExist(err) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", relDir, err)
	}

	var names []string

	for _, e := range entries {
		if !e.Type().IsRegular() || strings.HasPrefix(e.Name(), ".") {
			continue
		}

		names = append(names, e.Name())
	}

	return names, nil
}

// Move renames a file or directory. The source must exist. Failure to
// create the destination's parent is ignored here; the rename reports
// anything that actually prevents the move.
func (t *Tree) Move(oldRel, newRel string) error {
	oldAbs, err := t.resolve(oldRel)
	if err != nil {
		return err
	}

	newAbs, err := t.resolve(newRel)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, err := os.Stat(oldAbs); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", mirrorerrors.ErrSourceMissing, oldRel)
		}

		return fmt.Errorf("stat %s: %w", oldRel, err)
	}

	_ = os.MkdirAll(filepath.Dir(newAbs), dirPerm)

	if err := os.Rename(oldAbs, newAbs); err != nil {
		return fmt.Errorf("moving %s to %s: %w", oldRel, newRel, err)
	}

	return nil
}

// PruneEmptyDirs removes relDir and then each parent, stopping at the
// first non-empty directory or at the root. Errors are ignored.
func (t *Tree) PruneEmptyDirs(relDir string) {
	relDir = NormalizePath(relDir)

	t.mu.Lock()
	defer t.mu.Unlock()

	for relDir != "" && relDir != "." {
		absDir, err := t.resolve(relDir)
		if err != nil {
			return
		}

		entries, err := os.ReadDir(absDir)
		if err != nil || len(entries) > 0 {
			return
		}

		if err := os.Remove(absDir); err != nil {
			return
		}

		relDir = path.Dir(relDir)
	}
}

// resolve converts a relative path to an absolute path inside the root,
// rejecting null bytes, ".." segments and symlinks that escape. It does
// not take the lock, so callers holding it may use it.
func (t *Tree) resolve(relPath string) (string, error) {
	if relPath == "" {
		return "", fmt.Errorf("empty path")
	}

	if strings.ContainsRune(relPath, 0) {
		return "", fmt.Errorf("path contains null byte: %q", relPath)
	}

	relPath = strings.ReplaceAll(relPath, "\\", "/")

	for _, seg := range strings.Split(relPath, "/") {
		if seg == ".." {
			return "", fmt.Errorf("%w: %q", mirrorerrors.ErrPathTraversal, relPath)
		}
	}

	absPath := filepath.Join(t.dir, filepath.FromSlash(relPath))
	if !strings.HasPrefix(absPath, t.dir+string(os.PathSeparator)) {
		return "", fmt.Errorf("%w: %q", mirrorerrors.ErrPathTraversal, relPath)
	}

	realRoot, err := filepath.EvalSymlinks(t.dir)
	if err != nil {
		realRoot = t.dir
	}

	realPath, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return "", fmt.Errorf("resolving symlinks for %q: %w", relPath, err)
		}

		// New file: the nearest existing parent must still be inside.
		parentReal, pErr := filepath.EvalSymlinks(filepath.Dir(absPath))
		if pErr != nil {
			return absPath, nil //nolint:nilerr // parent will be created by MkdirAll
		}

		realPath = parentReal
	}

	if !strings.HasPrefix(realPath, realRoot+string(os.PathSeparator)) && realPath != realRoot {
		return "", fmt.Errorf("%w: %q resolves to %q", mirrorerrors.ErrPathTraversal, relPath, realPath)
	}

	return absPath, nil
}

// NormalizePath canonicalizes a tree-relative path: forward slashes,
// non-breaking spaces replaced, repeated slashes collapsed, no leading
// or trailing slash, Unicode NFC.
func NormalizePath(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	p = strings.ReplaceAll(p, "\u00A0", " ")
	p = strings.ReplaceAll(p, "\u202F", " ")

	var b strings.Builder

	prevSlash := false

	for _, r := range p {
		if r == '/' {
			if prevSlash {
				continue
			}

			prevSlash = true
		} else {
			prevSlash = false
		}

		b.WriteRune(r)
	}

	p = strings.Trim(b.String(), "/")
	if p == "." {
		return ""
	}

	return norm.NFC.String(p)
}
