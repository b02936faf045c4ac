package mirror

import (
	"fmt"
	"io"
	"time"

	"github.com/alexjbarnes/page-mirror/internal/syncstate"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
)

// StatusEntry summarizes one tracked page.
type StatusEntry struct {
	PageID          string              `json:"pageId"`
	Path            string              `json:"path"`
	Title           string              `json:"title"`
	State           syncstate.SyncState `json:"syncState"`
	Version         int                 `json:"version"`
	LastSyncedAt    time.Time           `json:"lastSyncedAt"`
	Attachments     int                 `json:"attachments"`
	AttachmentBytes int64               `json:"attachmentBytes"`
}

// Status returns one entry per tracked page, ordered by path.
func (m *Mirror) Status() ([]StatusEntry, error) {
	pages, err := m.store.AllPages()
	if err != nil {
		return nil, err
	}

	out := make([]StatusEntry, 0, len(pages))

	for _, ps := range pages {
		e := StatusEntry{
			PageID:       ps.ID,
			Path:         ps.Path,
			Title:        ps.Title,
			State:        ps.SyncState,
			Version:      ps.Version,
			LastSyncedAt: ps.LastSyncedAt,
			Attachments:  len(ps.Attachments),
		}

		for _, a := range ps.Attachments {
			e.AttachmentBytes += a.FileSize
		}

		out = append(out, e)
	}

	return out, nil
}

// LastSync returns when the last sync pass finished, zero if never.
func (m *Mirror) LastSync() (time.Time, error) {
	meta, err := m.store.Meta()
	if err != nil {
		return time.Time{}, err
	}

	return meta.LastSync, nil
}

var (
	colorPass   = lipgloss.AdaptiveColor{Light: "#86b300", Dark: "#c2d94c"}
	colorWarn   = lipgloss.AdaptiveColor{Light: "#f2ae49", Dark: "#ffb454"}
	colorFail   = lipgloss.AdaptiveColor{Light: "#f07171", Dark: "#f07178"}
	colorMuted  = lipgloss.AdaptiveColor{Light: "#828c99", Dark: "#6c7680"}
	colorAccent = lipgloss.AdaptiveColor{Light: "#399ee6", Dark: "#59c2ff"}

	stateWidth  = lipgloss.NewStyle().Width(16)
	mutedStyle  = lipgloss.NewStyle().Foreground(colorMuted)
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(colorAccent)
)

// stateStyle colors a sync state for terminal output.
func stateStyle(s syncstate.SyncState) lipgloss.Style {
	switch s {
	case syncstate.Synced:
		return stateWidth.Foreground(colorPass)
	case syncstate.LocalModified, syncstate.RemoteModified:
		return stateWidth.Foreground(colorWarn)
	case syncstate.Conflict:
		return stateWidth.Foreground(colorFail).Bold(true)
	case syncstate.Untracked:
		return stateWidth.Foreground(colorMuted)
	default:
		return stateWidth
	}
}

// RenderStatus writes a colored status table. Ages are relative to now.
func RenderStatus(w io.Writer, entries []StatusEntry, now time.Time) error {
	if len(entries) == 0 {
		_, err := fmt.Fprintln(w, mutedStyle.Render("no pages tracked yet"))
		return err
	}

	counts := make(map[syncstate.SyncState]int)

	for _, e := range entries {
		counts[e.State]++

		age := "never"
		if !e.LastSyncedAt.IsZero() {
			age = humanize.RelTime(e.LastSyncedAt, now, "ago", "from now")
		}

		line := fmt.Sprintf("%s %s %s",
			stateStyle(e.State).Render(e.State.String()),
			e.Path,
			mutedStyle.Render(fmt.Sprintf("v%d, synced %s", e.Version, age)),
		)

		if e.Attachments > 0 {
			line += mutedStyle.Render(fmt.Sprintf(", %d attachments (%s)",
				e.Attachments, humanize.Bytes(uint64(e.AttachmentBytes))))
		}

		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}

	summary := fmt.Sprintf("%d pages: %d synced, %d local-modified, %d remote-modified, %d conflict",
		len(entries),
		counts[syncstate.Synced],
		counts[syncstate.LocalModified],
		counts[syncstate.RemoteModified],
		counts[syncstate.Conflict],
	)

	_, err := fmt.Fprintln(w, headerStyle.Render(summary))

	return err
}
