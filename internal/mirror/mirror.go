// Package mirror keeps a local directory of markdown files in step with
// a remote page tree. It scans the local tree, classifies every page,
// pulls, pushes or merges content, places pages with the hierarchy path
// mapper and persists the outcome in the state store.
package mirror

import (
	"log/slog"
	"sync"
	"time"

	"github.com/alexjbarnes/page-mirror/internal/localfs"
	"github.com/alexjbarnes/page-mirror/internal/remote"
	"github.com/alexjbarnes/page-mirror/internal/state"
	"github.com/alexjbarnes/page-mirror/internal/syncstate"
)

//go:generate mockgen -destination=mock_publisher_test.go -package=mirror github.com/alexjbarnes/page-mirror/internal/remote Publisher

// stagingDir holds files mid-relocation. Dot directories are never
// scanned or watched.
const stagingDir = ".page-mirror/relocate"

// Options tune a Mirror.
type Options struct {
	// SpaceKey is recorded with every page and in the store metadata.
	SpaceKey string

	// RootPageID, when set, limits the mirror to that page's subtree and
	// places the root page at index.md with its children beside it.
	RootPageID string

	// Concurrency bounds per-page work during a sync.
	Concurrency int

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// Mirror syncs one local tree against one remote.
type Mirror struct {
	tree   *localfs.Tree
	store  *state.State
	remote remote.Publisher
	logger *slog.Logger
	opts   Options

	// mu serializes sync, resolve and migrate so the watcher and the MCP
	// tools never interleave writes to the same files.
	mu sync.Mutex
}

// New returns a Mirror over the given tree, store and remote.
func New(tree *localfs.Tree, store *state.State, pub remote.Publisher, logger *slog.Logger, opts Options) *Mirror {
	if opts.Now == nil {
		opts.Now = time.Now
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Mirror{
		tree:   tree,
		store:  store,
		remote: pub,
		logger: logger,
		opts:   opts,
	}
}

// Tree returns the local tree.
func (m *Mirror) Tree() *localfs.Tree {
	return m.tree
}

// PageResult is the outcome of syncing one page.
type PageResult struct {
	PageID   string              `json:"pageId"`
	Path     string              `json:"path"`
	Decision Decision            `json:"decision"`
	State    syncstate.SyncState `json:"syncState"`
	Err      error               `json:"-"`
}

// Relocation is a page file moved because the remote tree changed.
type Relocation struct {
	PageID  string `json:"pageId"`
	OldPath string `json:"oldPath"`
	NewPath string `json:"newPath"`
	Err     error  `json:"-"`
}

// Report summarizes one sync pass.
type Report struct {
	Started   time.Time    `json:"started"`
	Finished  time.Time    `json:"finished"`
	Pages     []PageResult `json:"pages"`
	Relocated []Relocation `json:"relocated,omitempty"`
	Untracked []string     `json:"untracked,omitempty"`
}

// Failed returns the pages whose sync returned an error.
func (r *Report) Failed() []PageResult {
	var out []PageResult

	for _, p := range r.Pages {
		if p.Err != nil {
			out = append(out, p)
		}
	}

	return out
}

// Conflicts returns the pages left in the conflict state.
func (r *Report) Conflicts() []PageResult {
	var out []PageResult

	for _, p := range r.Pages {
		if p.State == syncstate.Conflict {
			out = append(out, p)
		}
	}

	return out
}

// Count returns how many pages ended with decision d.
func (r *Report) Count(d Decision) int {
	n := 0

	for _, p := range r.Pages {
		if p.Decision == d {
			n++
		}
	}

	return n
}
