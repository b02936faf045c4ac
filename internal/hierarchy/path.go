// Package hierarchy maps the remote page tree onto nested local
// directories. Pages with children and folders become {slug}/index.md,
// leaves become {slug}.md, and every assigned path is unique within a
// mapping run.
package hierarchy

import (
	"fmt"
	"path"
	"slices"
	"sort"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
)

const (
	// IndexFile is the file name of a node that owns a directory.
	IndexFile = "index.md"

	// Ext is the extension of every page file.
	Ext = ".md"

	// AttachmentsSuffix names the sidecar directory of a page file.
	AttachmentsSuffix = ".attachments"
)

// ContentType distinguishes folders from pages in the remote tree.
type ContentType string

const (
	ContentPage   ContentType = "page"
	ContentFolder ContentType = "folder"
)

// Node is the shape of one remote node as the mapper sees it.
type Node struct {
	ID          string
	Title       string
	ParentID    *string
	Ancestors   []string // root to parent, never containing ID
	HasChildren bool
	ContentType ContentType
}

// IsIndex reports whether the node is placed as a directory index.
func (n Node) IsIndex() bool {
	return n.ContentType == ContentFolder || n.HasChildren
}

// ComputedPath is where a node lives in the local tree.
type ComputedPath struct {
	RelativePath string `json:"relativePath"`
	Directory    string `json:"directory"`
	Filename     string `json:"filename"`
	Slug         string `json:"slug"`
	IsIndex      bool   `json:"isIndex"`
}

// Titles maps node ids to titles for building ancestor directories.
type Titles map[string]string

// ClaimedPaths is the set of relative paths already taken during a
// mapping run. It is not safe for concurrent use.
type ClaimedPaths struct {
	set mapset.Set[string]
}

// NewClaimedPaths returns a set seeded with existing paths.
func NewClaimedPaths(paths ...string) *ClaimedPaths {
	return &ClaimedPaths{set: mapset.NewThreadUnsafeSet(paths...)}
}

// Contains reports whether p is claimed.
func (c *ClaimedPaths) Contains(p string) bool {
	return c.set.Contains(p)
}

// Claim adds p and reports whether it was free.
func (c *ClaimedPaths) Claim(p string) bool {
	return c.set.Add(p)
}

// Release frees p so it can be claimed again.
func (c *ClaimedPaths) Release(p string) {
	c.set.Remove(p)
}

// Len returns the number of claimed paths.
func (c *ClaimedPaths) Len() int {
	return c.set.Cardinality()
}

// Paths returns the claimed paths in sorted order.
func (c *ClaimedPaths) Paths() []string {
	out := c.set.ToSlice()
	sort.Strings(out)

	return out
}

// taken reports whether a page with slug in dir would clash with a
// claimed path in either placement form. A leaf {slug}.md next to a
// {slug}/index.md is the legacy sibling layout and is never produced.
func (c *ClaimedPaths) taken(dir, slug string) bool {
	return c.Contains(path.Join(dir, slug+Ext)) || c.Contains(path.Join(dir, slug, IndexFile))
}

// ComputeFilePath assigns node its local path and claims it. Ancestor
// directories come from the ancestors' titles in titles; an ancestor
// with no known title falls back to its id. When skipRootID is set, the
// ancestors up to and including it are dropped so that its children land
// at the mirror root.
func ComputeFilePath(node Node, titles Titles, claimed *ClaimedPaths, skipRootID string) ComputedPath {
	return computeFilePath(node, titles, nil, claimed, skipRootID)
}

func computeFilePath(node Node, titles Titles, placed map[string]ComputedPath, claimed *ClaimedPaths, skipRootID string) ComputedPath {
	if slices.Contains(node.Ancestors, node.ID) {
		panic(fmt.Sprintf("hierarchy: node %s lists itself as an ancestor", node.ID))
	}

	dir := parentDir(node.Ancestors, titles, placed, skipRootID)
	base := Slugify(node.Title)
	isIndex := node.IsIndex()

	for n := 1; ; n++ {
		slug := base
		if n > 1 {
			slug = fmt.Sprintf("%s-%d", base, n)
		}

		// A nested leaf called index.md would read back as its directory.
		if !isIndex && slug == "index" && dir != "" {
			continue
		}

		if claimed.taken(dir, slug) {
			continue
		}

		cp := placement(dir, slug, isIndex)
		claimed.Claim(cp.RelativePath)

		return cp
	}
}

// BuildPathMap computes paths for every node against one claimed set.
// Nodes are resolved shallowest first; nodes at the same depth keep
// their input order so results are deterministic. Descendants are placed
// under the directory their ancestor was actually given, including any
// collision suffix.
func BuildPathMap(nodes []Node, claimed *ClaimedPaths, skipRootID string) map[string]ComputedPath {
	titles := make(Titles, len(nodes))
	for _, n := range nodes {
		titles[n.ID] = n.Title
	}

	ordered := slices.Clone(nodes)
	sort.SliceStable(ordered, func(i, j int) bool {
		return len(ordered[i].Ancestors) < len(ordered[j].Ancestors)
	})

	out := make(map[string]ComputedPath, len(nodes))
	for _, n := range ordered {
		out[n.ID] = computeFilePath(n, titles, out, claimed, skipRootID)
	}

	return out
}

// ParsedPath is what a relative page path says about its node.
type ParsedPath struct {
	Slug          string
	ParentSlug    string
	AncestorSlugs []string
	IsIndex       bool
}

// ParseFilePath inverts ComputeFilePath. For dir/slug/index.md the slug
// is the directory name, not "index".
func ParseFilePath(relativePath string) ParsedPath {
	p := strings.Trim(path.Clean(strings.ReplaceAll(relativePath, "\\", "/")), "/")
	parts := strings.Split(p, "/")

	file := parts[len(parts)-1]
	dirs := parts[:len(parts)-1]

	var out ParsedPath

	if file == IndexFile && len(dirs) > 0 {
		out.Slug = dirs[len(dirs)-1]
		out.AncestorSlugs = slices.Clone(dirs[:len(dirs)-1])
		out.IsIndex = true
	} else {
		out.Slug = strings.TrimSuffix(file, Ext)
		out.AncestorSlugs = slices.Clone(dirs)
	}

	if n := len(out.AncestorSlugs); n > 0 {
		out.ParentSlug = out.AncestorSlugs[n-1]
	}

	return out
}

// AttachmentsDir returns the sidecar directory for a page file:
// dir/name.md keeps its attachments in dir/name.attachments.
func AttachmentsDir(pagePath string) string {
	return strings.TrimSuffix(pagePath, Ext) + AttachmentsSuffix
}

func placement(dir, slug string, isIndex bool) ComputedPath {
	if isIndex {
		return ComputedPath{
			RelativePath: path.Join(dir, slug, IndexFile),
			Directory:    path.Join(dir, slug),
			Filename:     IndexFile,
			Slug:         slug,
			IsIndex:      true,
		}
	}

	return ComputedPath{
		RelativePath: path.Join(dir, slug+Ext),
		Directory:    dir,
		Filename:     slug + Ext,
		Slug:         slug,
	}
}

// parentDir is the directory a node with the given ancestors lives in.
// The deepest ancestor already placed contributes its own directory;
// the ancestors below it are slugged from their titles.
func parentDir(ancestors []string, titles Titles, placed map[string]ComputedPath, skipRootID string) string {
	chain := ancestors
	if skipRootID != "" {
		if i := slices.Index(chain, skipRootID); i >= 0 {
			chain = chain[i+1:]
		}
	}

	for i := len(chain) - 1; i >= 0; i-- {
		cp, ok := placed[chain[i]]
		if !ok {
			continue
		}

		owned := cp.Directory
		if !cp.IsIndex {
			owned = path.Join(cp.Directory, cp.Slug)
		}

		return path.Join(append([]string{owned}, ancestorSlugs(chain[i+1:], titles)...)...)
	}

	return path.Join(ancestorSlugs(chain, titles)...)
}

func ancestorSlugs(chain []string, titles Titles) []string {
	out := make([]string, 0, len(chain))

	for _, id := range chain {
		title, ok := titles[id]
		if !ok {
			title = id
		}

		out = append(out, Slugify(title))
	}

	return out
}
