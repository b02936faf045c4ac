package hierarchy

import (
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/alexjbarnes/page-mirror/internal/localfs"
)

// ErrSidecarNotMoved is returned alongside the new path when the page
// file moved but its attachment directory stayed behind.
var ErrSidecarNotMoved = errors.New("attachment directory not moved")

// Migration moves one page from the sibling layout to the index layout.
type Migration struct {
	OldPath string `json:"oldPath"`
	NewPath string `json:"newPath"`
}

// UsesSiblingPattern reports whether p is a leaf page file that has a
// directory of the same name next to it, the layout older mirrors used
// for pages with children.
func UsesSiblingPattern(p string, existingPaths []string) bool {
	if !isLeafPage(p) {
		return false
	}

	prefix := strings.TrimSuffix(p, Ext) + "/"
	for _, e := range existingPaths {
		if strings.HasPrefix(e, prefix) {
			return true
		}
	}

	return false
}

// SiblingToIndexPath rewrites dir/slug.md to dir/slug/index.md.
func SiblingToIndexPath(p string) string {
	return path.Join(strings.TrimSuffix(p, Ext), IndexFile)
}

// DetectSiblingPatternMigrations lists every path that needs moving to
// the index layout, sorted by old path. A page whose index path is
// already taken is left alone.
func DetectSiblingPatternMigrations(existingPaths []string) []Migration {
	existing := NewClaimedPaths(existingPaths...)

	var out []Migration

	for _, p := range existingPaths {
		if !UsesSiblingPattern(p, existingPaths) {
			continue
		}

		target := SiblingToIndexPath(p)
		if existing.Contains(target) {
			continue
		}

		out = append(out, Migration{OldPath: p, NewPath: target})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].OldPath < out[j].OldPath })

	return out
}

// MigrateSiblingToIndex moves oldPath under rootDir to its index path
// and returns the new relative path.
func MigrateSiblingToIndex(rootDir, oldPath string) (string, error) {
	tree, err := localfs.Open(rootDir)
	if err != nil {
		return "", err
	}

	return MigrateInTree(tree, oldPath)
}

// MigrateInTree is MigrateSiblingToIndex against an open tree. The
// page's attachment sidecar moves with it when present; if that move
// fails the new path is still returned with an error wrapping
// ErrSidecarNotMoved.
func MigrateInTree(tree *localfs.Tree, oldPath string) (string, error) {
	oldPath = localfs.NormalizePath(oldPath)
	if !isLeafPage(oldPath) {
		return "", fmt.Errorf("migrating %s: not a leaf page file", oldPath)
	}

	newPath := SiblingToIndexPath(oldPath)
	if tree.Exists(newPath) {
		return "", fmt.Errorf("migrating %s: %s already exists", oldPath, newPath)
	}

	if err := tree.Move(oldPath, newPath); err != nil {
		return "", err
	}

	var sidecarErr error

	oldSidecar := AttachmentsDir(oldPath)
	if tree.Exists(oldSidecar) {
		if err := tree.Move(oldSidecar, AttachmentsDir(newPath)); err != nil {
			sidecarErr = fmt.Errorf("migrating %s: %w: %w", oldPath, ErrSidecarNotMoved, err)
		}
	}

	if dir := path.Dir(oldPath); dir != "." {
		tree.PruneEmptyDirs(dir)
	}

	return newPath, sidecarErr
}

func isLeafPage(p string) bool {
	return strings.HasSuffix(p, Ext) && path.Base(p) != IndexFile
}
