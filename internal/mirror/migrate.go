package mirror

import (
	"errors"
	"log/slog"
	"sort"

	"github.com/alexjbarnes/page-mirror/internal/hierarchy"
)

// MigrateLayout moves every page file still in the sibling layout
// (name.md beside a name/ directory) to name/index.md and updates the
// store. Failed moves are reported together; the rest still happen.
func (m *Mirror) MigrateLayout() ([]hierarchy.Migration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	scan, err := Scan(m.tree, m.store, m.logger)
	if err != nil {
		return nil, err
	}

	paths := make([]string, 0, len(scan.Current))
	for p := range scan.Current {
		paths = append(paths, p)
	}

	sort.Strings(paths)

	var (
		done []hierarchy.Migration
		errs []error
	)

	for _, mig := range hierarchy.DetectSiblingPatternMigrations(paths) {
		ps, err := m.store.PageByPath(mig.OldPath)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		var sidecar string

		newPath, err := hierarchy.MigrateInTree(m.tree, mig.OldPath)
		if errors.Is(err, hierarchy.ErrSidecarNotMoved) {
			sidecar = hierarchy.AttachmentsDir(mig.OldPath)
			m.logger.Warn("attachments left at old path",
				slog.String("from", mig.OldPath),
				slog.String("sidecar", sidecar),
				slog.String("error", err.Error()),
			)
		} else if err != nil {
			errs = append(errs, err)
			continue
		}

		if ps != nil {
			ps.Path = newPath
			rebaseAttachments(ps, sidecar)

			if err := m.store.PutPage(*ps); err != nil {
				errs = append(errs, err)
			}
		}

		m.logger.Info("migrated page layout",
			slog.String("from", mig.OldPath),
			slog.String("to", newPath),
		)

		done = append(done, hierarchy.Migration{OldPath: mig.OldPath, NewPath: newPath})
	}

	return done, errors.Join(errs...)
}
