package mirror

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"path"
	"sort"

	"github.com/alexjbarnes/page-mirror/internal/contenthash"
	"github.com/alexjbarnes/page-mirror/internal/hierarchy"
	"github.com/alexjbarnes/page-mirror/internal/remote"
	"github.com/alexjbarnes/page-mirror/internal/syncstate"
)

// attachmentSlot gathers everything known about one attachment file name
// of a page.
type attachmentSlot struct {
	filename   string
	stored     *syncstate.AttachmentState
	remote     *remote.Attachment
	localData  []byte
	remoteData []byte
}

// syncAttachments reconciles the page's sidecar directory with the
// remote attachments. Existence wins over deletion on both sides, and a
// file changed on both sides takes the remote copy.
func (m *Mirror) syncAttachments(ctx context.Context, ps *syncstate.PageState) error {
	remoteAtts, err := m.remote.ListAttachments(ctx, ps.ID)
	if err != nil {
		return fmt.Errorf("listing attachments: %w", err)
	}

	sidecar := hierarchy.AttachmentsDir(ps.Path)

	if err := m.adoptAttachments(ps, sidecar); err != nil {
		return err
	}

	localNames, err := m.tree.ListFiles(sidecar)
	if err != nil {
		return err
	}

	slots := make(map[string]*attachmentSlot)
	slot := func(name string) *attachmentSlot {
		s, ok := slots[name]
		if !ok {
			s = &attachmentSlot{filename: name}
			slots[name] = s
		}

		return s
	}

	for _, a := range ps.Attachments {
		slot(a.Filename).stored = &a
	}

	for i := range remoteAtts {
		slot(remoteAtts[i].Filename).remote = &remoteAtts[i]
	}

	for _, name := range localNames {
		data, err := m.tree.ReadFile(path.Join(sidecar, name))
		if err != nil {
			return err
		}

		slot(name).localData = data
	}

	names := make([]string, 0, len(slots))
	for name := range slots {
		names = append(names, name)
	}

	sort.Strings(names)

	attachments := make(map[string]syncstate.AttachmentState, len(slots))

	var errs []error

	for _, name := range names {
		a, keep, err := m.syncAttachment(ctx, ps, sidecar, slots[name])
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))

			if slots[name].stored != nil {
				attachments[slots[name].stored.AttachmentID] = *slots[name].stored
			}

			continue
		}

		if keep {
			attachments[a.AttachmentID] = a
		}
	}

	ps.Attachments = attachments
	if len(ps.Attachments) == 0 {
		ps.Attachments = nil
	}

	if err := m.store.PutPage(*ps); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// adoptAttachments moves attachment files that a failed relocation left
// outside the page's sidecar into it. Until they move the page's
// attachments are not synced, so a stray file never reads as deleted.
func (m *Mirror) adoptAttachments(ps *syncstate.PageState, sidecar string) error {
	for _, a := range ps.Attachments {
		want := path.Join(sidecar, a.Filename)
		if a.LocalPath == "" || a.LocalPath == want || !m.tree.Exists(a.LocalPath) || m.tree.Exists(want) {
			continue
		}

		if err := m.tree.Move(a.LocalPath, want); err != nil {
			return fmt.Errorf("moving attachment %s into %s: %w", a.Filename, sidecar, err)
		}

		m.tree.PruneEmptyDirs(path.Dir(a.LocalPath))

		m.logger.Info("moved attachment into sidecar",
			slog.String("page", ps.ID),
			slog.String("from", a.LocalPath),
			slog.String("to", want),
		)
	}

	return nil
}

func (m *Mirror) syncAttachment(ctx context.Context, ps *syncstate.PageState, sidecar string, s *attachmentSlot) (syncstate.AttachmentState, bool, error) {
	var a syncstate.AttachmentState
	if s.stored != nil {
		a = *s.stored
	}

	a.PageID = ps.ID
	a.Filename = s.filename
	a.LocalPath = path.Join(sidecar, s.filename)

	var localHash *string
	if s.localData != nil {
		localHash = syncstate.Ptr(contenthash.Hash(s.localData))
	}

	remoteHash, err := m.remoteAttachmentHash(ctx, s)
	if err != nil {
		return a, false, err
	}

	switch state := a.Reclassify(localHash, remoteHash); state {
	case syncstate.Synced:
		if a.Deleted() {
			return a, false, nil
		}

		a.AttachmentID = s.remote.ID
		a.MediaType = s.remote.MediaType
		a.FileSize = int64(len(s.localData))

		if a.BaseHash != *localHash || a.Version != s.remote.Version {
			a.MarkSynced(*localHash, s.remote.Version, m.opts.Now())
		}

		return a, true, nil

	case syncstate.RemoteModified:
		return m.pullAttachment(ctx, a, s, *remoteHash)

	case syncstate.Conflict:
		m.logger.Warn("attachment changed on both sides, remote wins",
			slog.String("page", ps.ID),
			slog.String("file", s.filename),
		)

		return m.pullAttachment(ctx, a, s, *remoteHash)

	case syncstate.LocalModified:
		uploaded, err := m.remote.UploadAttachment(ctx, ps.ID, s.filename, s.localData)
		if err != nil {
			return a, false, fmt.Errorf("uploading: %w", err)
		}

		a.AttachmentID = uploaded.ID
		a.MediaType = uploaded.MediaType
		a.FileSize = int64(len(s.localData))
		a.MarkSynced(*localHash, uploaded.Version, m.opts.Now())

		return a, true, nil

	case syncstate.Untracked:
		return a, false, fmt.Errorf("unexpected state %s", state)

	default:
		panic(fmt.Sprintf("mirror: unhandled state %q", state))
	}
}

// remoteAttachmentHash hashes the remote copy. An unchanged version
// reuses the recorded hash instead of downloading again.
func (m *Mirror) remoteAttachmentHash(ctx context.Context, s *attachmentSlot) (*string, error) {
	if s.remote == nil {
		return nil, nil
	}

	if st := s.stored; st != nil && st.RemoteHash != nil && st.AttachmentID == s.remote.ID && st.Version == s.remote.Version {
		return st.RemoteHash, nil
	}

	data, err := m.remote.AttachmentData(ctx, s.remote.PageID, s.remote.ID)
	if err != nil {
		return nil, fmt.Errorf("downloading: %w", err)
	}

	s.remoteData = data

	return syncstate.Ptr(contenthash.Hash(data)), nil
}

func (m *Mirror) pullAttachment(ctx context.Context, a syncstate.AttachmentState, s *attachmentSlot, remoteHash string) (syncstate.AttachmentState, bool, error) {
	data := s.remoteData
	if data == nil {
		var err error

		data, err = m.remote.AttachmentData(ctx, s.remote.PageID, s.remote.ID)
		if err != nil {
			return a, false, fmt.Errorf("downloading: %w", err)
		}
	}

	if err := m.tree.WriteFile(a.LocalPath, data); err != nil {
		return a, false, err
	}

	a.AttachmentID = s.remote.ID
	a.MediaType = s.remote.MediaType
	if a.MediaType == "" {
		a.MediaType = mime.TypeByExtension(path.Ext(s.filename))
	}

	a.FileSize = int64(len(data))
	a.MarkSynced(remoteHash, s.remote.Version, m.opts.Now())

	return a, true, nil
}
