package mirror

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"

	"github.com/alexjbarnes/page-mirror/internal/batch"
	"github.com/alexjbarnes/page-mirror/internal/contenthash"
	mirrorerrors "github.com/alexjbarnes/page-mirror/internal/errors"
	"github.com/alexjbarnes/page-mirror/internal/hierarchy"
	"github.com/alexjbarnes/page-mirror/internal/merge"
	"github.com/alexjbarnes/page-mirror/internal/remote"
	"github.com/alexjbarnes/page-mirror/internal/state"
	"github.com/alexjbarnes/page-mirror/internal/syncstate"
)

// syncItem is one page of a sync pass. page is nil when the page is gone
// from the remote; stored is nil for a page never synced before.
type syncItem struct {
	page   *remote.Page
	stored *syncstate.PageState
	path   string
}

// Sync runs one full pass: list the remote, scan the tree, relocate
// pages whose place changed, then reconcile every page concurrently.
// Per-page failures are reported in the result and never stop the pass;
// the returned error covers only failures that prevent the pass itself.
func (m *Mirror) Sync(ctx context.Context) (*Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	report := &Report{Started: m.opts.Now()}

	pages, err := m.remote.ListPages(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing remote pages: %w", err)
	}

	pages = m.scope(pages)

	scan, err := Scan(m.tree, m.store, m.logger)
	if err != nil {
		return nil, err
	}

	report.Untracked = scan.Untracked

	all, err := m.store.AllPages()
	if err != nil {
		return nil, fmt.Errorf("loading page states: %w", err)
	}

	stored := make(map[string]*syncstate.PageState, len(all))
	for i := range all {
		stored[all[i].ID] = &all[i]
	}

	m.logger.Info("sync starting",
		slog.Int("remote_pages", len(pages)),
		slog.Int("tracked_pages", len(stored)),
		slog.Int("local_changed", len(scan.Changed)),
		slog.Int("local_deleted", len(scan.Deleted)),
		slog.Int("untracked", len(scan.Untracked)),
	)

	plan := m.planPaths(pages, scan.Untracked)
	report.Relocated = m.relocate(plan, stored)

	items := make([]syncItem, 0, len(pages)+len(stored))
	seen := make(map[string]bool, len(pages))

	for i := range pages {
		p := &pages[i]
		seen[p.ID] = true

		item := syncItem{page: p, stored: stored[p.ID], path: plan[p.ID].RelativePath}
		if item.stored != nil && item.stored.Path != "" {
			item.path = item.stored.Path
		}

		items = append(items, item)
	}

	for id, ps := range stored {
		if !seen[id] {
			items = append(items, syncItem{stored: ps, path: ps.Path})
		}
	}

	outcomes := batch.Run(ctx, m.opts.Concurrency, items, m.syncPage)

	for _, o := range outcomes.Outcomes {
		res := o.Value
		res.Err = o.Err

		if res.PageID == "" {
			if o.Item.page != nil {
				res.PageID = o.Item.page.ID
			} else {
				res.PageID = o.Item.stored.ID
			}

			res.Path = o.Item.path
		}

		if res.Err != nil {
			m.logger.Warn("page sync failed",
				slog.String("page", res.PageID),
				slog.String("path", res.Path),
				slog.String("error", res.Err.Error()),
			)
		}

		report.Pages = append(report.Pages, res)
	}

	report.Finished = m.opts.Now()

	if err := m.store.SetMeta(state.Meta{SpaceKey: m.opts.SpaceKey, LastSync: report.Finished}); err != nil {
		return report, fmt.Errorf("recording sync time: %w", err)
	}

	m.logger.Info("sync complete",
		slog.Int("pulled", report.Count(DecisionPull)),
		slog.Int("pushed", report.Count(DecisionPush)),
		slog.Int("merged", report.Count(DecisionMerge)),
		slog.Int("conflicts", len(report.Conflicts())),
		slog.Int("failed", len(report.Failed())),
		slog.Int("relocated", len(report.Relocated)),
	)

	return report, nil
}

func (m *Mirror) syncPage(ctx context.Context, item syncItem) (PageResult, error) {
	if item.page == nil {
		return m.forgetPage(item.stored)
	}

	page := item.page

	ps := item.stored
	if ps == nil {
		ps = &syncstate.PageState{ID: page.ID, SyncState: syncstate.Untracked}
	}

	ps.Path = item.path
	ps.Title = page.Title
	ps.SpaceKey = page.SpaceKey
	ps.ParentID = page.ParentID
	ps.Ancestors = page.Ancestors

	if ps.SpaceKey == "" {
		ps.SpaceKey = m.opts.SpaceKey
	}

	res := PageResult{PageID: ps.ID, Path: ps.Path}

	localText, hasLocal, err := m.readLocal(ps.Path)
	if err != nil {
		return res, err
	}

	body, err := m.remote.PageBody(ctx, page.ID)
	if err != nil {
		return res, fmt.Errorf("fetching body: %w", err)
	}

	remoteHash := contenthash.HashText(body)

	var localHash *string
	if hasLocal {
		localHash = syncstate.Ptr(contenthash.HashText(localText))
	}

	markers := hasLocal && merge.HasConflictMarkers(localText)

	var stored *syncstate.PageState
	if item.stored != nil {
		stored = ps
	}

	res.Decision = Decide(stored, localHash, &remoteHash, markers)

	switch res.Decision {
	case DecisionSkip:
		if *localHash == remoteHash && remoteHash != ps.BaseHash {
			err = m.converge(ps, page, body)
			break
		}

		ps.Reclassify(*localHash, remoteHash)
		ps.Version = page.Version

		err = m.store.PutPage(*ps)

	case DecisionPull:
		err = m.pull(ps, page, body)

	case DecisionPush:
		err = m.push(ctx, ps, page, localText, remoteHash)

	case DecisionMerge:
		err = m.merge(ctx, ps, page, localText, body)

	case DecisionBlocked:
		ps.LocalHash = *localHash
		ps.RemoteHash = remoteHash
		ps.SyncState = syncstate.Conflict

		if err = m.store.PutPage(*ps); err == nil {
			err = fmt.Errorf("%s: %w", ps.Path, mirrorerrors.ErrUnresolvedConflict)
		}

	case DecisionDeleteLocal, DecisionKeepLocal:
		err = fmt.Errorf("unexpected decision %s for a live page", res.Decision)
	}

	res.State = ps.SyncState

	if err != nil {
		return res, err
	}

	if err := m.syncAttachments(ctx, ps); err != nil {
		return res, fmt.Errorf("attachments: %w", err)
	}

	return res, nil
}

func (m *Mirror) readLocal(relPath string) (string, bool, error) {
	if relPath == "" {
		return "", false, nil
	}

	data, err := m.tree.ReadFile(relPath)
	if errors.Is(err, os.ErrNotExist) {
		return "", false, nil
	}

	if err != nil {
		return "", false, err
	}

	return string(data), true, nil
}

// pull makes the remote body the local file and the new base.
func (m *Mirror) pull(ps *syncstate.PageState, page *remote.Page, body string) error {
	content := contenthash.Normalize(body)

	if err := m.tree.WriteFile(ps.Path, []byte(content)); err != nil {
		return err
	}

	ps.MarkSynced(contenthash.Hash([]byte(content)), page.Version, m.opts.Now())

	if err := m.store.SetBase(ps.ID, content); err != nil {
		return err
	}

	m.logger.Debug("pulled page", slog.String("page", ps.ID), slog.String("path", ps.Path))

	return m.store.PutPage(*ps)
}

// converge records content both sides reached independently as the new
// base. The local file is left as written.
func (m *Mirror) converge(ps *syncstate.PageState, page *remote.Page, body string) error {
	content := contenthash.Normalize(body)

	ps.MarkSynced(contenthash.Hash([]byte(content)), page.Version, m.opts.Now())

	if err := m.store.SetBase(ps.ID, content); err != nil {
		return err
	}

	m.logger.Debug("both sides converged", slog.String("page", ps.ID), slog.String("path", ps.Path))

	return m.store.PutPage(*ps)
}

// push publishes the local file. A rejected publish leaves the page
// local-modified so the next pass retries or merges.
func (m *Mirror) push(ctx context.Context, ps *syncstate.PageState, page *remote.Page, localText, remoteHash string) error {
	if merge.HasConflictMarkers(localText) {
		return fmt.Errorf("%s: %w", ps.Path, mirrorerrors.ErrUnresolvedConflict)
	}

	content := contenthash.Normalize(localText)
	hash := contenthash.Hash([]byte(content))

	version, err := m.remote.Publish(ctx, ps.ID, content, page.Version)
	if err != nil {
		ps.Reclassify(hash, remoteHash)
		ps.Version = page.Version

		if putErr := m.store.PutPage(*ps); putErr != nil {
			return errors.Join(err, putErr)
		}

		return fmt.Errorf("publishing: %w", err)
	}

	ps.MarkSynced(hash, version, m.opts.Now())

	if err := m.store.SetBase(ps.ID, content); err != nil {
		return err
	}

	m.logger.Debug("pushed page", slog.String("page", ps.ID), slog.Int("version", version))

	return m.store.PutPage(*ps)
}

// merge reconciles both edits against the stored base. A clean result is
// written and published; a conflicted one is written with markers and
// the page is left in the conflict state.
func (m *Mirror) merge(ctx context.Context, ps *syncstate.PageState, page *remote.Page, localText, body string) error {
	base, found, err := m.store.Base(ps.ID)
	if err != nil {
		return err
	}

	if !found {
		m.logger.Warn("no merge base recorded, merging against empty base", slog.String("page", ps.ID))
	}

	result := merge.ThreeWayMerge(base, localText, body)

	if err := m.tree.WriteFile(ps.Path, []byte(result.Content)); err != nil {
		return err
	}

	remoteHash := contenthash.HashText(body)
	mergedHash := contenthash.Hash([]byte(result.Content))

	if !result.Success {
		ps.LocalHash = mergedHash
		ps.RemoteHash = remoteHash
		ps.Version = page.Version
		ps.SyncState = syncstate.Conflict

		m.logger.Warn("merge left conflicts",
			slog.String("page", ps.ID),
			slog.String("path", ps.Path),
			slog.Int("conflicts", result.ConflictCount),
		)

		return m.store.PutConflict(*ps, contenthash.Normalize(body))
	}

	m.logger.Info("merged page", slog.String("page", ps.ID), slog.String("path", ps.Path))

	return m.push(ctx, ps, page, result.Content, remoteHash)
}

// forgetPage handles a tracked page that is gone from the remote. A
// clean local copy is deleted; an edited one is kept as untracked.
func (m *Mirror) forgetPage(ps *syncstate.PageState) (PageResult, error) {
	res := PageResult{PageID: ps.ID, Path: ps.Path, State: syncstate.Untracked}

	localText, hasLocal, err := m.readLocal(ps.Path)
	if err != nil {
		return res, err
	}

	var localHash *string
	if hasLocal {
		localHash = syncstate.Ptr(contenthash.HashText(localText))
	}

	res.Decision = Decide(ps, localHash, nil, false)

	if res.Decision == DecisionDeleteLocal && hasLocal {
		if err := m.tree.DeleteFile(ps.Path); err != nil {
			return res, err
		}

		for _, a := range ps.Attachments {
			if a.LocalPath != "" {
				_ = m.tree.DeleteFile(a.LocalPath)
			}
		}

		m.tree.PruneEmptyDirs(hierarchy.AttachmentsDir(ps.Path))

		if dir := path.Dir(ps.Path); dir != "." {
			m.tree.PruneEmptyDirs(dir)
		}
	}

	if res.Decision == DecisionKeepLocal {
		m.logger.Warn("remote page deleted, keeping edited local file",
			slog.String("page", ps.ID),
			slog.String("path", ps.Path),
		)
	}

	return res, m.store.DeletePage(ps.ID)
}
