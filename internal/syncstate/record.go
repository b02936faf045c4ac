package syncstate

import (
	"fmt"
	"slices"
	"time"
)

// PageState is the persisted record of one mirrored page. The page id is
// the key the record is stored under and is not part of the JSON body.
type PageState struct {
	ID           string                     `json:"-"`
	Path         string                     `json:"path"`
	Title        string                     `json:"title"`
	SpaceKey     string                     `json:"spaceKey"`
	Version      int                        `json:"version"`
	LastSyncedAt time.Time                  `json:"lastSyncedAt"`
	LocalHash    string                     `json:"localHash"`
	RemoteHash   string                     `json:"remoteHash"`
	BaseHash     string                     `json:"baseHash"`
	SyncState    SyncState                  `json:"syncState"`
	ParentID     *string                    `json:"parentId"`
	Ancestors    []string                   `json:"ancestors"`
	Attachments  map[string]AttachmentState `json:"attachments,omitempty"`
}

// AttachmentState is the persisted record of one attachment. A nil
// LocalHash or RemoteHash records a deletion on that side.
type AttachmentState struct {
	AttachmentID string    `json:"attachmentId"`
	PageID       string    `json:"-"`
	Filename     string    `json:"filename"`
	LocalPath    string    `json:"localPath"`
	MediaType    string    `json:"mediaType"`
	FileSize     int64     `json:"fileSize"`
	Version      int       `json:"version"`
	LocalHash    *string   `json:"localHash"`
	RemoteHash   *string   `json:"remoteHash"`
	BaseHash     string    `json:"baseHash"`
	LastSyncedAt time.Time `json:"lastSyncedAt"`
	SyncState    SyncState `json:"syncState"`
}

// Ptr returns a pointer to s. Used for optional hashes and parent ids.
func Ptr(s string) *string {
	return &s
}

// Validate checks the ancestor chain invariant: the chain never contains
// the page itself and never repeats an id.
func (p *PageState) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("page state has no id")
	}

	seen := make(map[string]struct{}, len(p.Ancestors))

	for _, a := range p.Ancestors {
		if a == p.ID {
			return fmt.Errorf("page %s lists itself as an ancestor", p.ID)
		}

		if _, dup := seen[a]; dup {
			return fmt.Errorf("page %s repeats ancestor %s", p.ID, a)
		}

		seen[a] = struct{}{}
	}

	if p.ParentID != nil && len(p.Ancestors) > 0 && p.Ancestors[len(p.Ancestors)-1] != *p.ParentID {
		return fmt.Errorf("page %s parent %s is not the last ancestor", p.ID, *p.ParentID)
	}

	return nil
}

// Reclassify records fresh local and remote hashes and recomputes the
// sync state against the stored base.
func (p *PageState) Reclassify(localHash, remoteHash string) SyncState {
	p.LocalHash = localHash
	p.RemoteHash = remoteHash
	p.SyncState = Classify(localHash, remoteHash, p.BaseHash)

	return p.SyncState
}

// MarkSynced records that local and remote both hold content with the
// given hash, which becomes the new base.
func (p *PageState) MarkSynced(hash string, version int, at time.Time) {
	p.LocalHash = hash
	p.RemoteHash = hash
	p.BaseHash = hash
	p.Version = version
	p.LastSyncedAt = at
	p.SyncState = Synced
}

// IsDescendantOf reports whether ancestorID appears in the page's chain.
func (p *PageState) IsDescendantOf(ancestorID string) bool {
	return slices.Contains(p.Ancestors, ancestorID)
}

// Reclassify records fresh hashes for an attachment and recomputes its
// sync state.
func (a *AttachmentState) Reclassify(localHash, remoteHash *string) SyncState {
	a.LocalHash = localHash
	a.RemoteHash = remoteHash
	a.SyncState = ClassifyAttachment(localHash, remoteHash, a.BaseHash)

	return a.SyncState
}

// MarkSynced records the attachment as present on both sides with the
// given content hash.
func (a *AttachmentState) MarkSynced(hash string, version int, at time.Time) {
	a.LocalHash = Ptr(hash)
	a.RemoteHash = Ptr(hash)
	a.BaseHash = hash
	a.Version = version
	a.LastSyncedAt = at
	a.SyncState = Synced
}

// Deleted reports whether the attachment is gone on both sides and can
// be dropped from the store.
func (a *AttachmentState) Deleted() bool {
	return a.LocalHash == nil && a.RemoteHash == nil
}
