// Package remote defines the page source the mirror syncs against and a
// directory-backed implementation of it.
package remote

import (
	"context"

	"github.com/alexjbarnes/page-mirror/internal/hierarchy"
)

// Page is one node of the remote tree.
type Page struct {
	ID          string
	Title       string
	SpaceKey    string
	ParentID    *string
	Ancestors   []string // root to parent
	HasChildren bool
	ContentType hierarchy.ContentType
	Version     int
}

// Node returns the page as the path mapper sees it.
func (p Page) Node() hierarchy.Node {
	return hierarchy.Node{
		ID:          p.ID,
		Title:       p.Title,
		ParentID:    p.ParentID,
		Ancestors:   p.Ancestors,
		HasChildren: p.HasChildren,
		ContentType: p.ContentType,
	}
}

// Attachment is a file attached to a remote page.
type Attachment struct {
	ID        string
	PageID    string
	Filename  string
	MediaType string
	FileSize  int64
	Version   int
}

// Source reads the remote tree.
type Source interface {
	ListPages(ctx context.Context) ([]Page, error)
	PageBody(ctx context.Context, pageID string) (string, error)
	ListAttachments(ctx context.Context, pageID string) ([]Attachment, error)
	AttachmentData(ctx context.Context, pageID, attachmentID string) ([]byte, error)
}

// Publisher is a Source that also accepts local changes.
type Publisher interface {
	Source

	// Publish replaces a page body. baseVersion is the version the
	// change was made against; a newer remote version fails with
	// ErrStaleVersion. It returns the new version.
	Publish(ctx context.Context, pageID, body string, baseVersion int) (int, error)

	// UploadAttachment creates or replaces an attachment by filename.
	UploadAttachment(ctx context.Context, pageID, filename string, data []byte) (Attachment, error)
}
