package mirror

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/alexjbarnes/page-mirror/internal/contenthash"
	"github.com/alexjbarnes/page-mirror/internal/hierarchy"
	"github.com/alexjbarnes/page-mirror/internal/localfs"
	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long the tree must stay quiet after a change
// before the watcher triggers a sync.
const DefaultDebounce = 500 * time.Millisecond

// syncer is the subset of Mirror the watcher drives. Extracted for
// testability.
type syncer interface {
	LocalChanged(relPath string) bool
	Sync(ctx context.Context) (*Report, error)
}

// Watcher runs a sync whenever page files or attachments change on disk.
// Bursts of events collapse into one sync once the tree has been quiet
// for the debounce interval.
type Watcher struct {
	dir      string
	syncer   syncer
	debounce time.Duration
	logger   *slog.Logger
	watcher  *fsnotify.Watcher
}

// NewWatcher returns a watcher for the mirror's tree.
func NewWatcher(m *Mirror, debounce time.Duration, logger *slog.Logger) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	return &Watcher{
		dir:      m.tree.Dir(),
		syncer:   m,
		debounce: debounce,
		logger:   logger,
	}
}

// Watch blocks until ctx is cancelled. Directories are watched
// recursively, new ones as they appear.
func (w *Watcher) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}

	w.watcher = watcher
	defer watcher.Close()

	if err := w.addRecursive(w.dir); err != nil {
		return fmt.Errorf("watching mirror dir: %w", err)
	}

	w.logger.Info("file watcher started", slog.String("dir", w.dir))

	var lastEvent time.Time

	pending := false

	ticker := time.NewTicker(w.debounce / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("fsnotify events channel closed unexpectedly")
			}

			if w.shouldIgnore(event.Name) {
				continue
			}

			if event.Has(fsnotify.Create) {
				info, err := os.Lstat(event.Name)
				if err == nil && info.IsDir() && info.Mode()&os.ModeSymlink == 0 {
					_ = w.addRecursive(event.Name)
					continue
				}
			}

			if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				_ = watcher.Remove(event.Name)
			}

			rel, ok := w.relPath(event.Name)
			if !ok || !w.syncer.LocalChanged(rel) {
				continue
			}

			w.logger.Debug("local change", slog.String("path", rel), slog.String("op", event.Op.String()))

			pending = true
			lastEvent = time.Now()

		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("fsnotify errors channel closed unexpectedly")
			}

			w.logger.Warn("watcher error", slog.String("error", err.Error()))

		case <-ticker.C:
			if !pending || time.Since(lastEvent) < w.debounce {
				continue
			}

			pending = false

			if _, err := w.syncer.Sync(ctx); err != nil {
				if errors.Is(err, context.Canceled) {
					return err
				}

				w.logger.Warn("sync after local change failed", slog.String("error", err.Error()))
			}
		}
	}
}

func (w *Watcher) relPath(absPath string) (string, bool) {
	rel, err := filepath.Rel(w.dir, absPath)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", false
	}

	return localfs.NormalizePath(filepath.ToSlash(rel)), true
}

func (w *Watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if !d.IsDir() {
			return nil
		}

		if p != w.dir && w.shouldIgnore(p) {
			return filepath.SkipDir
		}

		if d.Type()&os.ModeSymlink != 0 {
			return filepath.SkipDir
		}

		return w.watcher.Add(p)
	})
}

func (w *Watcher) shouldIgnore(p string) bool {
	base := filepath.Base(p)

	return strings.HasPrefix(base, ".") ||
		strings.HasSuffix(base, "~") ||
		strings.HasSuffix(base, ".swp")
}

// LocalChanged reports whether the file at relPath differs from what the
// last sync recorded, so that writes made by a sync do not trigger
// another one. Unknown page files count as changes; anything that is
// neither a page nor an attachment does not.
func (m *Mirror) LocalChanged(relPath string) bool {
	if strings.HasSuffix(relPath, hierarchy.Ext) && !strings.Contains(relPath, hierarchy.AttachmentsSuffix+"/") {
		return m.pageChanged(relPath)
	}

	dir := path.Dir(relPath)
	if !strings.HasSuffix(dir, hierarchy.AttachmentsSuffix) {
		return false
	}

	pagePath := strings.TrimSuffix(dir, hierarchy.AttachmentsSuffix) + hierarchy.Ext

	ps, err := m.store.PageByPath(pagePath)
	if err != nil || ps == nil {
		return false
	}

	data, readErr := m.tree.ReadFile(relPath)

	for _, a := range ps.Attachments {
		if a.LocalPath != relPath {
			continue
		}

		if readErr != nil {
			return a.LocalHash != nil
		}

		return a.LocalHash == nil || *a.LocalHash != contenthash.Hash(data)
	}

	return readErr == nil
}

func (m *Mirror) pageChanged(relPath string) bool {
	ps, err := m.store.PageByPath(relPath)
	if err != nil {
		return true
	}

	data, readErr := m.tree.ReadFile(relPath)

	if ps == nil {
		return readErr == nil
	}

	if readErr != nil {
		return true
	}

	return contenthash.HashText(string(data)) != ps.LocalHash
}
