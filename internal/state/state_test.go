package state

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/alexjbarnes/page-mirror/internal/syncstate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDB(t *testing.T) *State {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := LoadAt(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testPage(id, path string) syncstate.PageState {
	return syncstate.PageState{
		ID:           id,
		Path:         path,
		Title:        "Page " + id,
		SpaceKey:     "DOCS",
		Version:      3,
		LastSyncedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		LocalHash:    "aaa",
		RemoteHash:   "aaa",
		BaseHash:     "aaa",
		SyncState:    syncstate.Synced,
	}
}

// --- LoadAt / Close ---

func TestLoadAt_CreatesDB(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "sub", "state.db")
	s, err := LoadAt(dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Close())
}

func TestLoadAt_ReopensExistingDB(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "state.db")

	s1, err := LoadAt(dbPath)
	require.NoError(t, err)
	require.NoError(t, s1.PutPage(testPage("1", "a.md")))
	require.NoError(t, s1.Close())

	s2, err := LoadAt(dbPath)
	require.NoError(t, err)
	defer s2.Close()

	ps, err := s2.GetPage("1")
	require.NoError(t, err)
	require.NotNil(t, ps)
	assert.Equal(t, "a.md", ps.Path)
}

// --- Meta ---

func TestMeta_EmptyByDefault(t *testing.T) {
	s := testDB(t)
	m, err := s.Meta()
	require.NoError(t, err)
	assert.Equal(t, Meta{}, m)
}

func TestSetMeta_RoundTrip(t *testing.T) {
	s := testDB(t)
	at := time.Date(2026, 5, 4, 3, 2, 1, 0, time.UTC)

	require.NoError(t, s.SetMeta(Meta{SpaceKey: "ENG", LastSync: at}))

	m, err := s.Meta()
	require.NoError(t, err)
	assert.Equal(t, "ENG", m.SpaceKey)
	assert.True(t, at.Equal(m.LastSync))
}

func TestSetMeta_ZeroLastSyncClears(t *testing.T) {
	s := testDB(t)
	require.NoError(t, s.SetMeta(Meta{SpaceKey: "ENG", LastSync: time.Now()}))
	require.NoError(t, s.SetMeta(Meta{SpaceKey: "ENG"}))

	m, err := s.Meta()
	require.NoError(t, err)
	assert.True(t, m.LastSync.IsZero())
}

// --- Pages ---

func TestGetPage_NotFound(t *testing.T) {
	s := testDB(t)
	ps, err := s.GetPage("missing")
	require.NoError(t, err)
	assert.Nil(t, ps)
}

func TestPutPage_RoundTrip(t *testing.T) {
	s := testDB(t)
	page := testPage("42", "docs/guide/index.md")
	page.ParentID = syncstate.Ptr("7")
	page.Ancestors = []string{"1", "7"}

	require.NoError(t, s.PutPage(page))

	got, err := s.GetPage("42")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "42", got.ID)
	assert.Equal(t, page.Path, got.Path)
	assert.Equal(t, page.Title, got.Title)
	assert.Equal(t, 3, got.Version)
	assert.Equal(t, []string{"1", "7"}, got.Ancestors)
	require.NotNil(t, got.ParentID)
	assert.Equal(t, "7", *got.ParentID)
	assert.Equal(t, syncstate.Synced, got.SyncState)
	assert.True(t, page.LastSyncedAt.Equal(got.LastSyncedAt))
	assert.Nil(t, got.Attachments)
}

func TestPutPage_EmptyStateStoredAsUntracked(t *testing.T) {
	s := testDB(t)
	page := testPage("1", "a.md")
	page.SyncState = ""
	require.NoError(t, s.PutPage(page))

	got, err := s.GetPage("1")
	require.NoError(t, err)
	assert.Equal(t, syncstate.Untracked, got.SyncState)
}

func TestPutPage_RejectsInvalidAncestors(t *testing.T) {
	s := testDB(t)
	page := testPage("1", "a.md")
	page.Ancestors = []string{"0", "1"}

	require.Error(t, s.PutPage(page))
	assert.Equal(t, 0, s.PageCount())
}

func TestPutPage_RejectsMissingID(t *testing.T) {
	s := testDB(t)
	assert.Error(t, s.PutPage(testPage("", "a.md")))
}

func TestPutPage_PathMoveUpdatesIndex(t *testing.T) {
	s := testDB(t)
	page := testPage("1", "old.md")
	require.NoError(t, s.PutPage(page))

	page.Path = "new/index.md"
	require.NoError(t, s.PutPage(page))

	old, err := s.PageByPath("old.md")
	require.NoError(t, err)
	assert.Nil(t, old)

	moved, err := s.PageByPath("new/index.md")
	require.NoError(t, err)
	require.NotNil(t, moved)
	assert.Equal(t, "1", moved.ID)

	index, err := s.PathIndex()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"new/index.md": "1"}, index)
}

func TestPutPage_PathOwnedByOtherPage(t *testing.T) {
	s := testDB(t)
	require.NoError(t, s.PutPage(testPage("1", "same.md")))

	err := s.PutPage(testPage("2", "same.md"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already belongs")
}

func TestPutPage_ReplacesAttachments(t *testing.T) {
	s := testDB(t)
	page := testPage("1", "a.md")
	page.Attachments = map[string]syncstate.AttachmentState{
		"att-1": {Filename: "one.png", LocalHash: syncstate.Ptr("h1"), RemoteHash: syncstate.Ptr("h1"), BaseHash: "h1", SyncState: syncstate.Synced},
		"att-2": {Filename: "two.png"},
	}
	require.NoError(t, s.PutPage(page))

	got, err := s.GetPage("1")
	require.NoError(t, err)
	require.Len(t, got.Attachments, 2)
	assert.Equal(t, "att-1", got.Attachments["att-1"].AttachmentID)
	assert.Equal(t, "1", got.Attachments["att-1"].PageID)
	assert.Equal(t, syncstate.Untracked, got.Attachments["att-2"].SyncState)
	assert.Nil(t, got.Attachments["att-2"].LocalHash)

	delete(page.Attachments, "att-2")
	require.NoError(t, s.PutPage(page))

	got, err = s.GetPage("1")
	require.NoError(t, err)
	assert.Len(t, got.Attachments, 1)
}

func TestDeletePage(t *testing.T) {
	s := testDB(t)
	page := testPage("1", "a.md")
	page.Attachments = map[string]syncstate.AttachmentState{"x": {Filename: "x.pdf"}}
	require.NoError(t, s.PutPage(page))

	require.NoError(t, s.DeletePage("1"))

	got, err := s.GetPage("1")
	require.NoError(t, err)
	assert.Nil(t, got)

	byPath, err := s.PageByPath("a.md")
	require.NoError(t, err)
	assert.Nil(t, byPath)

	// The path is free again.
	require.NoError(t, s.PutPage(testPage("2", "a.md")))
}

func TestDeletePage_Unknown(t *testing.T) {
	s := testDB(t)
	assert.NoError(t, s.DeletePage("nope"))
}

func TestAllPages_SortedByPath(t *testing.T) {
	s := testDB(t)
	require.NoError(t, s.PutPage(testPage("3", "c.md")))
	require.NoError(t, s.PutPage(testPage("1", "a.md")))
	require.NoError(t, s.PutPage(testPage("2", "b/index.md")))

	pages, err := s.AllPages()
	require.NoError(t, err)
	require.Len(t, pages, 3)
	assert.Equal(t, "a.md", pages[0].Path)
	assert.Equal(t, "b/index.md", pages[1].Path)
	assert.Equal(t, "c.md", pages[2].Path)
	assert.Equal(t, 3, s.PageCount())
}

func TestAllPages_Empty(t *testing.T) {
	s := testDB(t)
	pages, err := s.AllPages()
	require.NoError(t, err)
	assert.Empty(t, pages)
}

// --- Attachments ---

func TestPutPage_Attachments(t *testing.T) {
	s := testDB(t)

	att := syncstate.AttachmentState{
		AttachmentID: "att-9",
		PageID:       "1",
		Filename:     "diagram.png",
		LocalPath:    "a.attachments/diagram.png",
		MediaType:    "image/png",
		FileSize:     2048,
		RemoteHash:   syncstate.Ptr("r"),
		SyncState:    syncstate.RemoteModified,
	}

	ps := testPage("1", "a.md")
	ps.Attachments = map[string]syncstate.AttachmentState{"att-9": att}
	require.NoError(t, s.PutPage(ps))

	got, err := s.GetPage("1")
	require.NoError(t, err)
	require.Contains(t, got.Attachments, "att-9")
	assert.Equal(t, att, got.Attachments["att-9"])

	ps.Attachments = nil
	require.NoError(t, s.PutPage(ps))

	got, err = s.GetPage("1")
	require.NoError(t, err)
	assert.Empty(t, got.Attachments)
}

// --- Bases ---

func TestBase_RoundTrip(t *testing.T) {
	s := testDB(t)

	_, found, err := s.Base("1")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, s.SetBase("1", "line\n"))

	base, found, err := s.Base("1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "line\n", base)
}

func TestDeletePage_RemovesBase(t *testing.T) {
	s := testDB(t)
	require.NoError(t, s.PutPage(testPage("1", "a.md")))
	require.NoError(t, s.SetBase("1", "x\n"))
	require.NoError(t, s.DeletePage("1"))

	_, found, err := s.Base("1")
	require.NoError(t, err)
	assert.False(t, found)
}

// --- Conflicts ---

func TestPutConflict_StoresRemoteBody(t *testing.T) {
	s := testDB(t)

	ps := testPage("1", "a.md")
	ps.SyncState = syncstate.Conflict
	require.NoError(t, s.PutConflict(ps, "theirs\n"))

	got, err := s.GetPage("1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, syncstate.Conflict, got.SyncState)

	body, found, err := s.ConflictRemote("1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "theirs\n", body)

	require.NoError(t, s.ClearConflict("1"))

	_, found, err = s.ConflictRemote("1")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestPutResolution_WritesBaseAndRecord(t *testing.T) {
	s := testDB(t)

	ps := testPage("1", "a.md")
	ps.SyncState = syncstate.LocalModified
	require.NoError(t, s.PutResolution(ps, "theirs\n"))

	got, err := s.GetPage("1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, syncstate.LocalModified, got.SyncState)

	base, found, err := s.Base("1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "theirs\n", base)
}

func TestPutResolution_InvalidRecordWritesNothing(t *testing.T) {
	s := testDB(t)

	require.Error(t, s.PutResolution(syncstate.PageState{}, "theirs\n"))

	_, found, err := s.Base("")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestDeletePage_RemovesConflictBody(t *testing.T) {
	s := testDB(t)
	require.NoError(t, s.PutConflict(testPage("1", "a.md"), "theirs\n"))
	require.NoError(t, s.DeletePage("1"))

	_, found, err := s.ConflictRemote("1")
	require.NoError(t, err)
	assert.False(t, found)
}
