package mirror

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/alexjbarnes/page-mirror/internal/contenthash"
	"github.com/alexjbarnes/page-mirror/internal/hierarchy"
	"github.com/alexjbarnes/page-mirror/internal/localfs"
	"github.com/alexjbarnes/page-mirror/internal/state"
)

// LocalFile is a page file found on disk.
type LocalFile struct {
	Path    string
	Hash    string
	Size    int64
	ModTime time.Time
}

// ScanResult is the local tree compared against the store.
type ScanResult struct {
	// Current maps every page file on disk by relative path.
	Current map[string]LocalFile
	// Changed lists tracked files whose content differs from the last
	// recorded local hash.
	Changed []string
	// Untracked lists page files the store does not know.
	Untracked []string
	// Deleted lists tracked paths that are no longer on disk.
	Deleted []string
}

// Scan walks the tree and hashes every markdown file. Dot directories
// and attachment sidecars are skipped, as are symlinks.
func Scan(tree *localfs.Tree, store *state.State, logger *slog.Logger) (*ScanResult, error) {
	index, err := store.PathIndex()
	if err != nil {
		return nil, fmt.Errorf("loading path index: %w", err)
	}

	result := &ScanResult{
		Current: make(map[string]LocalFile),
	}

	dir := tree.Dir()

	err = filepath.WalkDir(dir, func(absPath string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		relPath, err := filepath.Rel(dir, absPath)
		if err != nil {
			return err
		}

		if relPath == "." {
			return nil
		}

		relPath = localfs.NormalizePath(filepath.ToSlash(relPath))
		base := d.Name()

		if d.IsDir() {
			if strings.HasPrefix(base, ".") || strings.HasSuffix(base, hierarchy.AttachmentsSuffix) {
				return filepath.SkipDir
			}

			return nil
		}

		if strings.HasPrefix(base, ".") || !strings.HasSuffix(base, hierarchy.Ext) {
			return nil
		}

		if d.Type()&os.ModeSymlink != 0 {
			logger.Debug("skipping symlink during scan", slog.String("path", relPath))
			return nil
		}

		info, err := d.Info()
		if err != nil {
			logger.Warn("stat failed during scan", slog.String("path", relPath), slog.String("error", err.Error()))
			return nil
		}

		data, err := tree.ReadFile(relPath)
		if err != nil {
			logger.Warn("reading file during scan", slog.String("path", relPath), slog.String("error", err.Error()))
			return nil
		}

		result.Current[relPath] = LocalFile{
			Path:    relPath,
			Hash:    contenthash.HashText(string(data)),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", dir, err)
	}

	for p, lf := range result.Current {
		id, tracked := index[p]
		if !tracked {
			result.Untracked = append(result.Untracked, p)
			continue
		}

		ps, err := store.GetPage(id)
		if err != nil {
			return nil, err
		}

		if ps != nil && ps.LocalHash != lf.Hash {
			result.Changed = append(result.Changed, p)
		}
	}

	for p := range index {
		if _, ok := result.Current[p]; !ok {
			result.Deleted = append(result.Deleted, p)
		}
	}

	sort.Strings(result.Changed)
	sort.Strings(result.Untracked)
	sort.Strings(result.Deleted)

	return result, nil
}
