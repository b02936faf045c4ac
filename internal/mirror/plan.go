package mirror

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"slices"
	"sort"

	"github.com/alexjbarnes/page-mirror/internal/hierarchy"
	"github.com/alexjbarnes/page-mirror/internal/remote"
	"github.com/alexjbarnes/page-mirror/internal/syncstate"
)

// scope drops the pages outside the configured root's subtree.
func (m *Mirror) scope(pages []remote.Page) []remote.Page {
	root := m.opts.RootPageID
	if root == "" {
		return pages
	}

	out := make([]remote.Page, 0, len(pages))

	for _, p := range pages {
		if p.ID == root || slices.Contains(p.Ancestors, root) {
			out = append(out, p)
		}
	}

	return out
}

// planPaths assigns every remote page its local path. Paths held by
// untracked local files are never handed out.
func (m *Mirror) planPaths(pages []remote.Page, untracked []string) map[string]hierarchy.ComputedPath {
	claimed := hierarchy.NewClaimedPaths(untracked...)
	nodes := make([]hierarchy.Node, 0, len(pages))
	plan := make(map[string]hierarchy.ComputedPath, len(pages))

	for _, p := range pages {
		// The root page owns the mirror directory itself unless an
		// untracked index.md is in the way.
		if p.ID == m.opts.RootPageID && claimed.Claim(hierarchy.IndexFile) {
			plan[p.ID] = hierarchy.ComputedPath{
				RelativePath: hierarchy.IndexFile,
				Filename:     hierarchy.IndexFile,
				Slug:         "index",
			}

			continue
		}

		nodes = append(nodes, p.Node())
	}

	for id, cp := range hierarchy.BuildPathMap(nodes, claimed, m.opts.RootPageID) {
		plan[id] = cp
	}

	return plan
}

// PreviewPaths returns where every remote page would be placed by the
// next sync, without touching the tree.
func (m *Mirror) PreviewPaths(ctx context.Context) (map[string]hierarchy.ComputedPath, error) {
	pages, err := m.remote.ListPages(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing remote pages: %w", err)
	}

	scan, err := Scan(m.tree, m.store, m.logger)
	if err != nil {
		return nil, err
	}

	return m.planPaths(m.scope(pages), scan.Untracked), nil
}

// relocate moves tracked page files whose planned path changed. Files go
// through a staging directory first so that pages swapping places never
// overwrite each other. The stored records are updated in place.
func (m *Mirror) relocate(plan map[string]hierarchy.ComputedPath, stored map[string]*syncstate.PageState) []Relocation {
	var moves []Relocation

	for id, ps := range stored {
		cp, ok := plan[id]
		if !ok || ps.Path == cp.RelativePath {
			continue
		}

		moves = append(moves, Relocation{PageID: id, OldPath: ps.Path, NewPath: cp.RelativePath})
	}

	if len(moves) == 0 {
		return nil
	}

	sort.Slice(moves, func(i, j int) bool { return moves[i].PageID < moves[j].PageID })

	// Release every old path in the index before claiming new ones.
	for _, mv := range moves {
		ps := stored[mv.PageID]
		ps.Path = ""

		if err := m.store.PutPage(*ps); err != nil {
			m.logger.Warn("clearing page path", slog.String("page", mv.PageID), slog.String("error", err.Error()))
		}
	}

	staged := make([]bool, len(moves))
	sidecars := make([]string, len(moves))

	for i, mv := range moves {
		if mv.OldPath == "" || !m.tree.Exists(mv.OldPath) {
			continue
		}

		if err := m.tree.Move(mv.OldPath, stagedPath(mv.PageID)); err != nil {
			moves[i].Err = err
			continue
		}

		staged[i] = true
		sidecars[i] = m.moveSidecar(mv.PageID, hierarchy.AttachmentsDir(mv.OldPath), hierarchy.AttachmentsDir(stagedPath(mv.PageID)))
	}

	for i, mv := range moves {
		ps := stored[mv.PageID]

		if moves[i].Err != nil {
			// The file never left; keep it where it is.
			ps.Path = mv.OldPath
		} else {
			ps.Path = mv.NewPath
		}

		if staged[i] {
			sidecar, err := m.unstage(mv, sidecars[i])
			if err != nil {
				// Left in staging; the next sync relocates it from there.
				moves[i].Err = err
				ps.Path = stagedPath(mv.PageID)
			}

			sidecars[i] = sidecar

			if dir := path.Dir(mv.OldPath); dir != "." {
				m.tree.PruneEmptyDirs(dir)
			}
		}

		rebaseAttachments(ps, sidecars[i])

		if err := m.store.PutPage(*ps); err != nil && moves[i].Err == nil {
			moves[i].Err = err
		}

		if moves[i].Err != nil {
			m.logger.Warn("relocating page",
				slog.String("page", mv.PageID),
				slog.String("from", mv.OldPath),
				slog.String("to", mv.NewPath),
				slog.String("error", moves[i].Err.Error()),
			)

			continue
		}

		m.logger.Info("relocated page",
			slog.String("page", mv.PageID),
			slog.String("from", mv.OldPath),
			slog.String("to", mv.NewPath),
		)
	}

	return moves
}

// unstage moves a staged page to its new path and its attachments from
// sidecar to the new sidecar. It returns where the attachments are.
func (m *Mirror) unstage(mv Relocation, sidecar string) (string, error) {
	if m.tree.Exists(mv.NewPath) {
		return sidecar, fmt.Errorf("relocating %s: %s is occupied", mv.PageID, mv.NewPath)
	}

	if err := m.tree.Move(stagedPath(mv.PageID), mv.NewPath); err != nil {
		return sidecar, err
	}

	return m.moveSidecar(mv.PageID, sidecar, hierarchy.AttachmentsDir(mv.NewPath)), nil
}

// moveSidecar moves a page's attachment directory and returns where it
// ended up. A failed move is logged and leaves it at from.
func (m *Mirror) moveSidecar(pageID, from, to string) string {
	if !m.tree.Exists(from) {
		return to
	}

	if err := m.tree.Move(from, to); err != nil {
		m.logger.Warn("attachments left at old path",
			slog.String("page", pageID),
			slog.String("sidecar", from),
			slog.String("error", err.Error()),
		)

		return from
	}

	return to
}

func stagedPath(pageID string) string {
	return path.Join(stagingDir, pageID+hierarchy.Ext)
}

// rebaseAttachments points every attachment at sidecar, or at the
// page's own sidecar directory when sidecar is empty.
func rebaseAttachments(ps *syncstate.PageState, sidecar string) {
	if ps.Path == "" {
		return
	}

	if sidecar == "" {
		sidecar = hierarchy.AttachmentsDir(ps.Path)
	}

	for id, a := range ps.Attachments {
		a.LocalPath = path.Join(sidecar, a.Filename)
		ps.Attachments[id] = a
	}
}
