// Package merge reconciles the local and remote edits of a page against
// their common base. The merge is line oriented: regions changed on one
// side are taken from that side, identical changes are kept once and
// diverging changes become conflict regions rendered with markers that
// ParseConflictMarkers and ResolveConflicts understand.
package merge

import (
	"slices"
	"sort"
	"strings"
	"unicode"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// ConflictRegion holds the two sides of one unresolved span.
type ConflictRegion struct {
	LocalLines  []string `json:"localLines"`
	RemoteLines []string `json:"remoteLines"`
}

// Result is the outcome of a three-way merge. Content always holds the
// whole document, with conflict markers inline when Success is false.
type Result struct {
	Success       bool             `json:"success"`
	Content       string           `json:"content"`
	ConflictCount int              `json:"conflictCount"`
	Conflicts     []ConflictRegion `json:"conflicts,omitempty"`
}

// text is one input split into comparison keys and the original lines
// they stand for. A key is its line without trailing whitespace; a run of
// blank lines shares one key and one entry in lines.
type text struct {
	keys  []string
	lines []string
}

// hunk replaces base lines [start, end) with the other side's lines
// [ostart, oend). An insertion has start == end.
type hunk struct {
	start  int
	end    int
	ostart int
	oend   int
	local  bool
}

// ThreeWayMerge merges local and remote edits of base. Lines are compared
// in normalized form, so line endings and trailing whitespace never cause
// a conflict on their own, but the merged content keeps each side's
// original lines. Conflicts are reported in the result, never as an
// error.
func ThreeWayMerge(base, local, remote string) Result {
	b, l, r := prepare(base), prepare(local), prepare(remote)

	localHunks, localEq := diffHunks(b, l, true)
	remoteHunks, remoteEq := diffHunks(b, r, false)

	hunks := slices.Concat(localHunks, remoteHunks)
	sort.SliceStable(hunks, func(i, j int) bool {
		return hunks[i].start < hunks[j].start
	})

	// unchanged returns base line i as the side that touched only its
	// whitespace left it.
	unchanged := func(i int) string {
		if line := l.lines[localEq[i]]; line != b.lines[i] {
			return line
		}

		return r.lines[remoteEq[i]]
	}

	var (
		out       []string
		conflicts []ConflictRegion
		pos       int
	)

	for i := 0; i < len(hunks); {
		regionStart := hunks[i].start
		regionEnd := hunks[i].end
		j := i + 1

		// Hunks that overlap or touch the region join it. Two insertions
		// at the same anchor therefore end up in one region.
		for j < len(hunks) && hunks[j].start <= regionEnd {
			regionEnd = max(regionEnd, hunks[j].end)
			j++
		}

		for k := pos; k < regionStart; k++ {
			out = append(out, unchanged(k))
		}

		var lh, rh []hunk

		for _, h := range hunks[i:j] {
			if h.local {
				lh = append(lh, h)
			} else {
				rh = append(rh, h)
			}
		}

		switch {
		case len(rh) == 0:
			_, lines := view(l, lh, regionStart, regionEnd)
			out = append(out, lines...)
		case len(lh) == 0:
			_, lines := view(r, rh, regionStart, regionEnd)
			out = append(out, lines...)
		default:
			localKeys, localLines := view(l, lh, regionStart, regionEnd)
			remoteKeys, remoteLines := view(r, rh, regionStart, regionEnd)

			if slices.Equal(localKeys, remoteKeys) {
				out = append(out, localLines...)
				break
			}

			conflicts = append(conflicts, ConflictRegion{
				LocalLines:  flatten(localLines),
				RemoteLines: flatten(remoteLines),
			})
			out = append(out, MarkerLocal)
			out = append(out, localLines...)
			out = append(out, MarkerSeparator)
			out = append(out, remoteLines...)
			out = append(out, MarkerRemote)
		}

		pos = regionEnd
		i = j
	}

	for k := pos; k < len(b.keys); k++ {
		out = append(out, unchanged(k))
	}

	return Result{
		Success:       len(conflicts) == 0,
		Content:       joinLines(out),
		ConflictCount: len(conflicts),
		Conflicts:     conflicts,
	}
}

// prepare splits s into keys and original lines. Line endings become LF
// and blank lines at either end of the document are dropped.
func prepare(s string) text {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")

	raw := strings.Split(s, "\n")

	start, end := 0, len(raw)
	for start < end && isBlank(raw[start]) {
		start++
	}

	for end > start && isBlank(raw[end-1]) {
		end--
	}

	var t text

	for _, line := range raw[start:end] {
		key := strings.TrimRightFunc(line, unicode.IsSpace)

		if n := len(t.keys); key == "" && n > 0 && t.keys[n-1] == "" {
			t.lines[n-1] += "\n" + line
			continue
		}

		t.keys = append(t.keys, key)
		t.lines = append(t.lines, line)
	}

	return t
}

func isBlank(line string) bool {
	return strings.TrimSpace(line) == ""
}

// diffHunks aligns other against base key by key. It returns the changed
// spans in base order and, for every base line other kept, the index of
// that line in other (-1 where other changed it).
func diffHunks(base, other text, local bool) ([]hunk, []int) {
	dmp := diffmatchpatch.New()
	// No deadline: a timed out diff is valid but not reproducible.
	dmp.DiffTimeout = 0

	a, b, lineArray := dmp.DiffLinesToChars(joinLines(base.keys), joinLines(other.keys))
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lineArray)

	eq := make([]int, len(base.keys))
	for i := range eq {
		eq[i] = -1
	}

	var (
		hunks     []hunk
		cur       *hunk
		pos, opos int
	)

	for _, d := range diffs {
		n := strings.Count(d.Text, "\n")

		if d.Type == diffmatchpatch.DiffEqual {
			if cur != nil {
				hunks = append(hunks, *cur)
				cur = nil
			}

			for k := range n {
				eq[pos+k] = opos + k
			}

			pos += n
			opos += n

			continue
		}

		if cur == nil {
			cur = &hunk{start: pos, end: pos, ostart: opos, oend: opos, local: local}
		}

		switch d.Type {
		case diffmatchpatch.DiffDelete:
			cur.end += n
			pos += n
		case diffmatchpatch.DiffInsert:
			cur.oend += n
			opos += n
		}
	}

	if cur != nil {
		hunks = append(hunks, *cur)
	}

	return hunks, eq
}

// view returns the keys and lines one side shows in place of
// base[start:end). hunks are that side's hunks inside the range, sorted.
// Lines between them are unchanged, so the side's span follows from the
// first and last hunk.
func view(t text, hunks []hunk, start, end int) ([]string, []string) {
	first, last := hunks[0], hunks[len(hunks)-1]
	lo := first.ostart - (first.start - start)
	hi := last.oend + (end - last.end)

	return t.keys[lo:hi], t.lines[lo:hi]
}

// flatten expands blank runs back into single lines.
func flatten(lines []string) []string {
	out := []string{}
	for _, line := range lines {
		out = append(out, strings.Split(line, "\n")...)
	}

	return out
}

func joinLines(lines []string) string {
	if len(lines) == 0 {
		return ""
	}

	return strings.Join(lines, "\n") + "\n"
}
