package mirror

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alexjbarnes/page-mirror/internal/contenthash"
	mirrorerrors "github.com/alexjbarnes/page-mirror/internal/errors"
	"github.com/alexjbarnes/page-mirror/internal/hierarchy"
	"github.com/alexjbarnes/page-mirror/internal/localfs"
	"github.com/alexjbarnes/page-mirror/internal/merge"
	"github.com/alexjbarnes/page-mirror/internal/syncstate"
)

// ConflictEntry is a page waiting for manual resolution.
type ConflictEntry struct {
	PageID  string                 `json:"pageId"`
	Path    string                 `json:"path"`
	Title   string                 `json:"title"`
	Regions []merge.ConflictRegion `json:"regions"`
}

// Conflicts lists every page in the conflict state with the regions its
// file still holds.
func (m *Mirror) Conflicts() ([]ConflictEntry, error) {
	pages, err := m.store.AllPages()
	if err != nil {
		return nil, err
	}

	var out []ConflictEntry

	for _, ps := range pages {
		if ps.SyncState != syncstate.Conflict {
			continue
		}

		entry := ConflictEntry{PageID: ps.ID, Path: ps.Path, Title: ps.Title}

		if data, err := m.tree.ReadFile(ps.Path); err == nil {
			entry.Regions = merge.ParseConflictMarkers(string(data))
		}

		out = append(out, entry)
	}

	return out, nil
}

// Resolve replaces every conflict region in the page file at relPath
// with the chosen side. The remote body the conflict was merged against
// becomes the new base, so the next sync publishes the resolution or
// merges it with remote edits made since the conflict.
func (m *Mirror) Resolve(ctx context.Context, relPath string, side merge.Side) (*syncstate.PageState, error) {
	if side != merge.SideLocal && side != merge.SideRemote {
		return nil, fmt.Errorf("%w: %q", mirrorerrors.ErrInvalidSide, side)
	}

	relPath = localfs.NormalizePath(relPath)
	if !strings.HasSuffix(relPath, hierarchy.Ext) {
		return nil, fmt.Errorf("%w: %s", mirrorerrors.ErrNotMarkdown, relPath)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	ps, err := m.store.PageByPath(relPath)
	if err != nil {
		return nil, err
	}

	if ps == nil {
		return nil, fmt.Errorf("%w: %s", mirrorerrors.ErrPageNotFound, relPath)
	}

	data, err := m.tree.ReadFile(relPath)
	if err != nil {
		return nil, err
	}

	text := string(data)
	if !merge.HasConflictMarkers(text) {
		return nil, fmt.Errorf("%s has no conflict markers", relPath)
	}

	resolved := merge.ResolveConflicts(text, side)

	theirs, found, err := m.conflictRemote(ctx, ps)
	if err != nil {
		return nil, err
	}

	if found {
		ps.BaseHash = contenthash.Hash([]byte(theirs))
		ps.RemoteHash = ps.BaseHash
		ps.Reclassify(contenthash.HashText(resolved), ps.RemoteHash)
		err = m.store.PutResolution(*ps, theirs)
	} else {
		m.logger.Warn("remote body of the conflict unknown, keeping previous base",
			slog.String("page", ps.ID),
			slog.String("path", relPath),
		)
		ps.Reclassify(contenthash.HashText(resolved), ps.RemoteHash)
		err = m.store.PutPage(*ps)
	}

	if err != nil {
		return nil, err
	}

	// A failed write leaves the markers on disk, which the next sync
	// reports as a conflict again.
	if err := m.tree.WriteFile(relPath, []byte(resolved)); err != nil {
		return nil, err
	}

	if err := m.store.ClearConflict(ps.ID); err != nil {
		m.logger.Warn("clearing conflict body",
			slog.String("page", ps.ID),
			slog.String("error", err.Error()),
		)
	}

	m.logger.Info("resolved conflict",
		slog.String("page", ps.ID),
		slog.String("path", relPath),
		slog.String("side", string(side)),
		slog.String("state", ps.SyncState.String()),
	)

	return ps, nil
}

// conflictRemote returns the remote body the page's conflict markers
// were written against. Without a stored copy the current remote body
// stands in only while it still matches the recorded remote hash.
func (m *Mirror) conflictRemote(ctx context.Context, ps *syncstate.PageState) (string, bool, error) {
	theirs, found, err := m.store.ConflictRemote(ps.ID)
	if err != nil || found {
		return theirs, found, err
	}

	if m.remote == nil {
		return "", false, nil
	}

	body, err := m.remote.PageBody(ctx, ps.ID)
	if err != nil {
		return "", false, fmt.Errorf("fetching body: %w", err)
	}

	if contenthash.HashText(body) != ps.RemoteHash {
		return "", false, nil
	}

	return contenthash.Normalize(body), true, nil
}
