package remote

import (
	"context"
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	mirrorerrors "github.com/alexjbarnes/page-mirror/internal/errors"
	"github.com/alexjbarnes/page-mirror/internal/hierarchy"
	"gopkg.in/yaml.v3"
)

const (
	// ManifestFile lists every page and attachment of a directory remote.
	ManifestFile = "pages.yaml"

	bodiesDir      = "bodies"
	attachmentsDir = "attachments"

	dirPerm  = fs.FileMode(0o755)
	filePerm = fs.FileMode(0o644)
)

// Manifest is the on-disk index of a directory remote.
type Manifest struct {
	SpaceKey string         `yaml:"spaceKey"`
	Pages    []ManifestPage `yaml:"pages"`
}

// ManifestPage is one page entry. Ancestors and HasChildren are derived
// from the parent links when the manifest is read.
type ManifestPage struct {
	ID          string               `yaml:"id"`
	Title       string               `yaml:"title"`
	ParentID    string               `yaml:"parentId,omitempty"`
	Type        string               `yaml:"type,omitempty"`
	Version     int                  `yaml:"version"`
	Attachments []ManifestAttachment `yaml:"attachments,omitempty"`
}

// ManifestAttachment is one attachment of a page.
type ManifestAttachment struct {
	ID        string `yaml:"id"`
	Filename  string `yaml:"filename"`
	MediaType string `yaml:"mediaType,omitempty"`
	Version   int    `yaml:"version"`
}

// Dir is a remote kept in a plain directory: pages.yaml, bodies/<id>.md
// and attachments/<pageId>/<filename>. It is safe for concurrent use
// within one process.
type Dir struct {
	root string
	mu   sync.Mutex
}

// OpenDir returns a directory remote rooted at root. The manifest must
// exist and be valid.
func OpenDir(root string) (*Dir, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving remote dir: %w", err)
	}

	d := &Dir{root: abs}
	if _, err := d.readManifest(); err != nil {
		return nil, err
	}

	return d, nil
}

// InitDir creates an empty directory remote for spaceKey. An existing
// manifest is left untouched.
func InitDir(root, spaceKey string) (*Dir, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving remote dir: %w", err)
	}

	if err := os.MkdirAll(filepath.Join(abs, bodiesDir), dirPerm); err != nil {
		return nil, fmt.Errorf("creating remote dir: %w", err)
	}

	d := &Dir{root: abs}
	if _, err := os.Stat(d.manifestPath()); os.IsNotExist(err) {
		if err := d.writeManifest(&Manifest{SpaceKey: spaceKey}); err != nil {
			return nil, err
		}
	}

	return d, nil
}

// Root returns the absolute remote directory.
func (d *Dir) Root() string {
	return d.root
}

// ListPages returns every page with its ancestors resolved, in manifest
// order.
func (d *Dir) ListPages(ctx context.Context) ([]Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	m, err := d.readManifest()
	if err != nil {
		return nil, err
	}

	return m.pages()
}

// PageBody returns the stored body of a page.
func (d *Dir) PageBody(ctx context.Context, pageID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	m, err := d.readManifest()
	if err != nil {
		return "", err
	}

	if m.find(pageID) < 0 {
		return "", fmt.Errorf("%w: %s", mirrorerrors.ErrPageNotFound, pageID)
	}

	data, err := os.ReadFile(d.bodyPath(pageID))
	if os.IsNotExist(err) {
		return "", nil
	}

	if err != nil {
		return "", fmt.Errorf("reading body of %s: %w", pageID, err)
	}

	return string(data), nil
}

// ListAttachments returns the attachments of a page sorted by filename.
func (d *Dir) ListAttachments(ctx context.Context, pageID string) ([]Attachment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	m, err := d.readManifest()
	if err != nil {
		return nil, err
	}

	i := m.find(pageID)
	if i < 0 {
		return nil, fmt.Errorf("%w: %s", mirrorerrors.ErrPageNotFound, pageID)
	}

	out := make([]Attachment, 0, len(m.Pages[i].Attachments))

	for _, ma := range m.Pages[i].Attachments {
		a := Attachment{
			ID:        ma.ID,
			PageID:    pageID,
			Filename:  ma.Filename,
			MediaType: ma.MediaType,
			Version:   ma.Version,
		}

		if info, err := os.Stat(d.attachmentPath(pageID, ma.Filename)); err == nil {
			a.FileSize = info.Size()
		}

		out = append(out, a)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Filename < out[j].Filename })

	return out, nil
}

// AttachmentData returns the bytes of one attachment.
func (d *Dir) AttachmentData(ctx context.Context, pageID, attachmentID string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	m, err := d.readManifest()
	if err != nil {
		return nil, err
	}

	ma, ok := m.attachment(pageID, attachmentID)
	if !ok {
		return nil, fmt.Errorf("attachment %s of page %s not found", attachmentID, pageID)
	}

	data, err := os.ReadFile(d.attachmentPath(pageID, ma.Filename))
	if err != nil {
		return nil, fmt.Errorf("reading attachment %s: %w", ma.Filename, err)
	}

	return data, nil
}

// Publish stores body as the page's new content and bumps its version.
func (d *Dir) Publish(ctx context.Context, pageID, body string, baseVersion int) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	m, err := d.readManifest()
	if err != nil {
		return 0, err
	}

	i := m.find(pageID)
	if i < 0 {
		return 0, fmt.Errorf("%w: %s", mirrorerrors.ErrPageNotFound, pageID)
	}

	page := &m.Pages[i]
	if page.Version != baseVersion {
		return 0, fmt.Errorf("%w: page %s is at version %d, change based on %d",
			mirrorerrors.ErrStaleVersion, pageID, page.Version, baseVersion)
	}

	if err := writeAtomic(d.bodyPath(pageID), []byte(body)); err != nil {
		return 0, err
	}

	page.Version++

	if err := d.writeManifest(m); err != nil {
		return 0, err
	}

	return page.Version, nil
}

// UploadAttachment writes data under filename, creating the attachment
// entry or bumping the version of an existing one.
func (d *Dir) UploadAttachment(ctx context.Context, pageID, filename string, data []byte) (Attachment, error) {
	if err := ctx.Err(); err != nil {
		return Attachment{}, err
	}

	if err := checkFilename(filename); err != nil {
		return Attachment{}, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	m, err := d.readManifest()
	if err != nil {
		return Attachment{}, err
	}

	i := m.find(pageID)
	if i < 0 {
		return Attachment{}, fmt.Errorf("%w: %s", mirrorerrors.ErrPageNotFound, pageID)
	}

	page := &m.Pages[i]

	var entry *ManifestAttachment

	for j := range page.Attachments {
		if page.Attachments[j].Filename == filename {
			entry = &page.Attachments[j]
			break
		}
	}

	if entry == nil {
		page.Attachments = append(page.Attachments, ManifestAttachment{
			ID:        nextAttachmentID(m),
			Filename:  filename,
			MediaType: mime.TypeByExtension(path.Ext(filename)),
		})
		entry = &page.Attachments[len(page.Attachments)-1]
	}

	entry.Version++

	if err := writeAtomic(d.attachmentPath(pageID, filename), data); err != nil {
		return Attachment{}, err
	}

	if err := d.writeManifest(m); err != nil {
		return Attachment{}, err
	}

	return Attachment{
		ID:        entry.ID,
		PageID:    pageID,
		Filename:  entry.Filename,
		MediaType: entry.MediaType,
		FileSize:  int64(len(data)),
		Version:   entry.Version,
	}, nil
}

func (d *Dir) manifestPath() string {
	return filepath.Join(d.root, ManifestFile)
}

func (d *Dir) bodyPath(pageID string) string {
	return filepath.Join(d.root, bodiesDir, pageID+hierarchy.Ext)
}

func (d *Dir) attachmentPath(pageID, filename string) string {
	return filepath.Join(d.root, attachmentsDir, pageID, filename)
}

func (d *Dir) readManifest() (*Manifest, error) {
	data, err := os.ReadFile(d.manifestPath())
	if err != nil {
		return nil, fmt.Errorf("reading remote manifest: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %w", mirrorerrors.ErrManifestInvalid, err)
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}

	return &m, nil
}

func (d *Dir) writeManifest(m *Manifest) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("encoding remote manifest: %w", err)
	}

	return writeAtomic(d.manifestPath(), data)
}

// Validate checks that ids are unique and safe as file names, parents
// exist, parent links are acyclic and attachment names are plain file
// names.
func (m *Manifest) Validate() error {
	ids := make(map[string]int, len(m.Pages))

	for i, p := range m.Pages {
		if err := checkFilename(p.ID); err != nil {
			return fmt.Errorf("%w: page id %q: %w", mirrorerrors.ErrManifestInvalid, p.ID, err)
		}

		if _, dup := ids[p.ID]; dup {
			return fmt.Errorf("%w: duplicate page id %s", mirrorerrors.ErrManifestInvalid, p.ID)
		}

		switch hierarchy.ContentType(p.Type) {
		case "", hierarchy.ContentPage, hierarchy.ContentFolder:
		default:
			return fmt.Errorf("%w: page %s has unknown type %q", mirrorerrors.ErrManifestInvalid, p.ID, p.Type)
		}

		for _, a := range p.Attachments {
			if err := checkFilename(a.Filename); err != nil {
				return fmt.Errorf("%w: page %s attachment: %w", mirrorerrors.ErrManifestInvalid, p.ID, err)
			}
		}

		ids[p.ID] = i
	}

	for _, p := range m.Pages {
		if p.ParentID == "" {
			continue
		}

		if _, ok := ids[p.ParentID]; !ok {
			return fmt.Errorf("%w: page %s has unknown parent %s", mirrorerrors.ErrManifestInvalid, p.ID, p.ParentID)
		}
	}

	for _, p := range m.Pages {
		if _, err := m.ancestors(p.ID, ids); err != nil {
			return err
		}
	}

	return nil
}

func (m *Manifest) pages() ([]Page, error) {
	ids := make(map[string]int, len(m.Pages))
	hasChildren := make(map[string]bool)

	for i, p := range m.Pages {
		ids[p.ID] = i
		if p.ParentID != "" {
			hasChildren[p.ParentID] = true
		}
	}

	out := make([]Page, 0, len(m.Pages))

	for _, p := range m.Pages {
		ancestors, err := m.ancestors(p.ID, ids)
		if err != nil {
			return nil, err
		}

		page := Page{
			ID:          p.ID,
			Title:       p.Title,
			SpaceKey:    m.SpaceKey,
			Ancestors:   ancestors,
			HasChildren: hasChildren[p.ID],
			ContentType: hierarchy.ContentPage,
			Version:     p.Version,
		}

		if p.Type != "" {
			page.ContentType = hierarchy.ContentType(p.Type)
		}

		if p.ParentID != "" {
			parent := p.ParentID
			page.ParentID = &parent
		}

		out = append(out, page)
	}

	return out, nil
}

// ancestors walks parent links from id to the root and returns them
// root first.
func (m *Manifest) ancestors(id string, ids map[string]int) ([]string, error) {
	var chain []string

	seen := map[string]bool{id: true}

	for cur := m.Pages[ids[id]].ParentID; cur != ""; cur = m.Pages[ids[cur]].ParentID {
		if seen[cur] {
			return nil, fmt.Errorf("%w: page %s has a cyclic parent chain", mirrorerrors.ErrManifestInvalid, id)
		}

		seen[cur] = true
		chain = append(chain, cur)
	}

	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}

	if chain == nil {
		chain = []string{}
	}

	return chain, nil
}

func (m *Manifest) find(pageID string) int {
	for i, p := range m.Pages {
		if p.ID == pageID {
			return i
		}
	}

	return -1
}

func (m *Manifest) attachment(pageID, attachmentID string) (ManifestAttachment, bool) {
	i := m.find(pageID)
	if i < 0 {
		return ManifestAttachment{}, false
	}

	for _, a := range m.Pages[i].Attachments {
		if a.ID == attachmentID {
			return a, true
		}
	}

	return ManifestAttachment{}, false
}

func nextAttachmentID(m *Manifest) string {
	highest := 0

	for _, p := range m.Pages {
		for _, a := range p.Attachments {
			if n, err := strconv.Atoi(strings.TrimPrefix(a.ID, "att-")); err == nil && n > highest {
				highest = n
			}
		}
	}

	return "att-" + strconv.Itoa(highest+1)
}

func checkFilename(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, "/\\\x00") {
		return fmt.Errorf("invalid name %q", name)
	}

	return nil
}

func writeAtomic(target string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(target), dirPerm); err != nil {
		return fmt.Errorf("creating directory for %s: %w", filepath.Base(target), err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".remote-write-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)

		return fmt.Errorf("writing %s: %w", filepath.Base(target), err)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing %s: %w", filepath.Base(target), err)
	}

	if err := os.Chmod(tmpName, filePerm); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("chmod %s: %w", filepath.Base(target), err)
	}

	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("renaming %s: %w", filepath.Base(target), err)
	}

	return nil
}
