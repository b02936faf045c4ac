package mcpserver

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alexjbarnes/page-mirror/internal/localfs"
	"github.com/alexjbarnes/page-mirror/internal/mirror"
	"github.com/alexjbarnes/page-mirror/internal/remote"
	"github.com/alexjbarnes/page-mirror/internal/state"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testManifest = `spaceKey: DOCS
pages:
  - id: "1"
    title: Guide
    version: 1
  - id: "2"
    title: Setup
    parentId: "1"
    version: 1
`

type env struct {
	session *mcp.ClientSession
	tree    *localfs.Tree
	remote  *remote.Dir
	mirror  *mirror.Mirror
}

// testSetup creates a directory remote and a mirror over temp dirs,
// registers tools on an MCP server, and returns a connected client
// session for calling tools.
func testSetup(t *testing.T) *env {
	t.Helper()

	remoteRoot := t.TempDir()
	files := map[string]string{
		remote.ManifestFile: testManifest,
		"bodies/1.md":       "# Guide\n",
		"bodies/2.md":       "# Setup\n\nalpha\n\nbeta\n",
	}
	for path, content := range files {
		abs := filepath.Join(remoteRoot, filepath.FromSlash(path))
		require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
		require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
	}

	dir, err := remote.OpenDir(remoteRoot)
	require.NoError(t, err)

	tree, err := localfs.New(t.TempDir())
	require.NoError(t, err)

	store, err := state.LoadAt(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	m := mirror.New(tree, store, dir, slog.New(slog.NewTextHandler(io.Discard, nil)), mirror.Options{
		SpaceKey: "DOCS",
		Now:      func() time.Time { return now },
	})

	server := mcp.NewServer(
		&mcp.Implementation{Name: "page-mirror-mcp-test", Version: "test"},
		nil,
	)
	RegisterTools(server, m)

	ctx := context.Background()
	t1, t2 := mcp.NewInMemoryTransports()
	_, err = server.Connect(ctx, t1, nil)
	require.NoError(t, err)

	client := mcp.NewClient(
		&mcp.Implementation{Name: "test-client", Version: "test"},
		nil,
	)
	session, err := client.Connect(ctx, t2, nil)
	require.NoError(t, err)
	t.Cleanup(func() { session.Close() })

	return &env{session: session, tree: tree, remote: dir, mirror: m}
}

// callTool is a helper that calls a tool and returns the result.
func callTool(t *testing.T, session *mcp.ClientSession, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	require.NoError(t, err)
	return result
}

// extractJSON unmarshals the first text content from a CallToolResult.
func extractJSON(t *testing.T, result *mcp.CallToolResult, dest any) {
	t.Helper()
	require.NotEmpty(t, result.Content, "result has no content")
	tc, ok := result.Content[0].(*mcp.TextContent)
	require.True(t, ok, "first content is not TextContent")
	require.NoError(t, json.Unmarshal([]byte(tc.Text), dest))
}

func errorText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.True(t, result.IsError)
	tc, ok := result.Content[0].(*mcp.TextContent)
	require.True(t, ok)
	return tc.Text
}

// makeConflict syncs, then edits the same line on both sides and syncs
// again so that guide/setup.md holds conflict markers.
func makeConflict(t *testing.T, e *env) {
	t.Helper()
	ctx := context.Background()

	_, err := e.mirror.Sync(ctx)
	require.NoError(t, err)

	require.NoError(t, e.tree.WriteFile("guide/setup.md", []byte("# Setup\n\nalpha local\n\nbeta\n")))
	_, err = e.remote.Publish(ctx, "2", "# Setup\n\nalpha remote\n\nbeta\n", 1)
	require.NoError(t, err)

	_, err = e.mirror.Sync(ctx)
	require.NoError(t, err)
}

func TestRegisterTools_ListsEveryTool(t *testing.T) {
	e := testSetup(t)

	res, err := e.session.ListTools(context.Background(), nil)
	require.NoError(t, err)

	names := make([]string, 0, len(res.Tools))
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
	}

	assert.ElementsMatch(t, []string{
		"mirror_status",
		"mirror_conflicts",
		"mirror_resolve",
		"mirror_merge",
		"mirror_preview_paths",
		"mirror_sync",
	}, names)
}

// --- mirror_sync / mirror_status ---

func TestSync_ThenStatus(t *testing.T) {
	e := testSetup(t)

	result := callTool(t, e.session, "mirror_sync", nil)
	assert.False(t, result.IsError)

	var sync SyncResult
	extractJSON(t, result, &sync)
	assert.Equal(t, 2, sync.Pulled)
	assert.Empty(t, sync.Failed)
	assert.Empty(t, sync.Conflicts)

	result = callTool(t, e.session, "mirror_status", nil)
	assert.False(t, result.IsError)

	var status StatusResult
	extractJSON(t, result, &status)
	assert.Equal(t, "2026-05-01T12:00:00Z", status.LastSync)
	assert.Equal(t, 2, status.TotalPages)
	require.Len(t, status.Pages, 2)
	assert.Equal(t, "guide/index.md", status.Pages[0].Path)
	assert.Equal(t, "guide/setup.md", status.Pages[1].Path)
	assert.Equal(t, "synced", status.Pages[1].State)
}

func TestStatus_BeforeFirstSync(t *testing.T) {
	e := testSetup(t)

	result := callTool(t, e.session, "mirror_status", nil)
	assert.False(t, result.IsError)

	var status StatusResult
	extractJSON(t, result, &status)
	assert.Empty(t, status.LastSync)
	assert.Equal(t, 0, status.TotalPages)
	assert.Empty(t, status.Pages)
}

func TestSync_ReportsConflicts(t *testing.T) {
	e := testSetup(t)
	_, err := e.mirror.Sync(context.Background())
	require.NoError(t, err)

	require.NoError(t, e.tree.WriteFile("guide/setup.md", []byte("# Setup\n\nalpha local\n\nbeta\n")))
	_, err = e.remote.Publish(context.Background(), "2", "# Setup\n\nalpha remote\n\nbeta\n", 1)
	require.NoError(t, err)

	var sync SyncResult
	extractJSON(t, callTool(t, e.session, "mirror_sync", nil), &sync)
	assert.Equal(t, 1, sync.Merged)
	assert.Equal(t, []string{"guide/setup.md"}, sync.Conflicts)
}

// --- mirror_conflicts / mirror_resolve ---

func TestConflicts(t *testing.T) {
	e := testSetup(t)
	makeConflict(t, e)

	result := callTool(t, e.session, "mirror_conflicts", nil)
	assert.False(t, result.IsError)

	var out ConflictsResult
	extractJSON(t, result, &out)
	require.Len(t, out.Conflicts, 1)

	c := out.Conflicts[0]
	assert.Equal(t, "2", c.PageID)
	assert.Equal(t, "guide/setup.md", c.Path)
	require.Len(t, c.Regions, 1)
	assert.Equal(t, []string{"alpha local"}, c.Regions[0].Local)
	assert.Equal(t, []string{"alpha remote"}, c.Regions[0].Remote)
}

func TestResolve_Local(t *testing.T) {
	e := testSetup(t)
	makeConflict(t, e)

	result := callTool(t, e.session, "mirror_resolve", map[string]any{
		"path": "guide/setup.md",
		"side": "local",
	})
	assert.False(t, result.IsError)

	var out ResolveResult
	extractJSON(t, result, &out)
	assert.Equal(t, "2", out.PageID)
	assert.Equal(t, "local", out.Side)
	assert.Equal(t, "local-modified", out.State)

	data, err := e.tree.ReadFile("guide/setup.md")
	require.NoError(t, err)
	assert.Equal(t, "# Setup\n\nalpha local\n\nbeta\n", string(data))

	var conflicts ConflictsResult
	extractJSON(t, callTool(t, e.session, "mirror_conflicts", nil), &conflicts)
	assert.Empty(t, conflicts.Conflicts)
}

func TestResolve_InvalidSide(t *testing.T) {
	e := testSetup(t)
	makeConflict(t, e)

	result := callTool(t, e.session, "mirror_resolve", map[string]any{
		"path": "guide/setup.md",
		"side": "theirs",
	})
	// Errors from ToolHandlerFor are returned as tool errors (IsError=true),
	// not protocol errors.
	assert.Contains(t, errorText(t, result), "invalid conflict side")
}

func TestResolve_UnknownPage(t *testing.T) {
	e := testSetup(t)

	result := callTool(t, e.session, "mirror_resolve", map[string]any{
		"path": "nope.md",
		"side": "remote",
	})
	assert.Contains(t, errorText(t, result), "page not found")
}

// --- mirror_merge ---

func TestMerge_Clean(t *testing.T) {
	e := testSetup(t)

	result := callTool(t, e.session, "mirror_merge", map[string]any{
		"base":   "a\n\nb\n\nc\n",
		"local":  "A\n\nb\n\nc\n",
		"remote": "a\n\nb\n\nC\n",
	})
	assert.False(t, result.IsError)

	var out MergeResult
	extractJSON(t, result, &out)
	assert.True(t, out.Success)
	assert.Equal(t, "A\n\nb\n\nC\n", out.Content)
	assert.Zero(t, out.ConflictCount)
}

func TestMerge_Conflict(t *testing.T) {
	e := testSetup(t)

	result := callTool(t, e.session, "mirror_merge", map[string]any{
		"base":   "a\n",
		"local":  "x\n",
		"remote": "y\n",
	})
	assert.False(t, result.IsError)

	var out MergeResult
	extractJSON(t, result, &out)
	assert.False(t, out.Success)
	assert.Equal(t, 1, out.ConflictCount)
	assert.Equal(t, "<<<<<<< LOCAL\nx\n=======\ny\n>>>>>>> REMOTE\n", out.Content)
	require.Len(t, out.Conflicts, 1)
	assert.Equal(t, []string{"x"}, out.Conflicts[0].Local)
}

// --- mirror_preview_paths ---

func TestPreviewPaths(t *testing.T) {
	e := testSetup(t)

	result := callTool(t, e.session, "mirror_preview_paths", nil)
	assert.False(t, result.IsError)

	var out PreviewResult
	extractJSON(t, result, &out)
	assert.Equal(t, []PlannedPath{
		{PageID: "1", Path: "guide/index.md", IsIndex: true},
		{PageID: "2", Path: "guide/setup.md"},
	}, out.Paths)

	assert.False(t, e.tree.Exists("guide"))
}

// --- helpers ---

func TestSummarize_CopiesErrors(t *testing.T) {
	r := &mirror.Report{
		Pages: []mirror.PageResult{
			{PageID: "1", Path: "a.md", Decision: mirror.DecisionPush, Err: assert.AnError},
		},
		Relocated: []mirror.Relocation{
			{PageID: "2", OldPath: "b.md", NewPath: "c.md", Err: assert.AnError},
		},
	}

	out := summarize(r)
	require.Len(t, out.Failed, 1)
	assert.Equal(t, assert.AnError.Error(), out.Failed[0].Error)
	require.Len(t, out.Relocated, 1)
	assert.Equal(t, MovedPage{PageID: "2", From: "b.md", To: "c.md", Error: assert.AnError.Error()}, out.Relocated[0])
	assert.Equal(t, 1, out.Pushed)
}

func TestFormatTime(t *testing.T) {
	assert.Empty(t, formatTime(time.Time{}))
	assert.Equal(t, "2026-01-02T03:04:05Z", formatTime(time.Date(2026, 1, 2, 4, 4, 5, 0, time.FixedZone("CET", 3600))))
}
