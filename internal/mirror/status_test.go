package mirror

import (
	"bytes"
	"testing"
	"time"

	"github.com/alexjbarnes/page-mirror/internal/syncstate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatus(t *testing.T) {
	f := newFixture(t, testManifest, testBodies, Options{})
	f.sync(t)
	f.write(t, "home/notes.attachments/a.txt", "12345")
	f.sync(t)

	entries, err := f.m.Status()
	require.NoError(t, err)
	require.Len(t, entries, 4)

	paths := make([]string, 0, len(entries))
	for _, e := range entries {
		paths = append(paths, e.Path)
		assert.Equal(t, syncstate.Synced, e.State)
	}

	assert.Equal(t, []string{
		"home/guide/index.md",
		"home/guide/setup.md",
		"home/index.md",
		"home/notes.md",
	}, paths)

	notes := entries[3]
	assert.Equal(t, "4", notes.PageID)
	assert.Equal(t, "Notes", notes.Title)
	assert.Equal(t, 1, notes.Attachments)
	assert.Equal(t, int64(5), notes.AttachmentBytes)
	assert.Equal(t, fixedNow, notes.LastSyncedAt)
}

func TestRenderStatus(t *testing.T) {
	entries := []StatusEntry{
		{Path: "a.md", State: syncstate.Synced, Version: 3, LastSyncedAt: fixedNow.Add(-2 * time.Hour)},
		{Path: "b.md", State: syncstate.Conflict, Version: 1, LastSyncedAt: fixedNow.Add(-time.Minute), Attachments: 2, AttachmentBytes: 2048},
		{Path: "c.md", State: syncstate.LocalModified},
	}

	var buf bytes.Buffer
	require.NoError(t, RenderStatus(&buf, entries, fixedNow))

	out := buf.String()
	assert.Contains(t, out, "a.md")
	assert.Contains(t, out, "v3, synced 2 hours ago")
	assert.Contains(t, out, "2 attachments (2.0 kB)")
	assert.Contains(t, out, "synced never")
	assert.Contains(t, out, "conflict")
	assert.Contains(t, out, "3 pages: 1 synced, 1 local-modified, 0 remote-modified, 1 conflict")
}

func TestRenderStatus_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, RenderStatus(&buf, nil, fixedNow))
	assert.Contains(t, buf.String(), "no pages tracked yet")
}

func TestStateStyle_CoversEveryState(t *testing.T) {
	for _, s := range syncstate.States {
		assert.NotEmpty(t, stateStyle(s).Render(s.String()))
	}
}
