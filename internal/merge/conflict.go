package merge

import (
	"fmt"
	"strings"

	mirrorerrors "github.com/alexjbarnes/page-mirror/internal/errors"
)

// Marker lines delimiting a conflict region. They must match byte for
// byte; a trailing carriage return is tolerated when reading.
const (
	MarkerLocal     = "<<<<<<< LOCAL"
	MarkerSeparator = "======="
	MarkerRemote    = ">>>>>>> REMOTE"
)

// Side selects which half of a conflict region survives resolution.
type Side string

const (
	SideLocal  Side = "local"
	SideRemote Side = "remote"
)

// ParseSide validates a user supplied side name.
func ParseSide(s string) (Side, error) {
	switch Side(strings.ToLower(strings.TrimSpace(s))) {
	case SideLocal:
		return SideLocal, nil
	case SideRemote:
		return SideRemote, nil
	default:
		return "", fmt.Errorf("%w: %q (want local or remote)", mirrorerrors.ErrInvalidSide, s)
	}
}

// markedRegion holds the line indexes of one complete marker triple.
type markedRegion struct {
	start int
	sep   int
	end   int
}

// HasConflictMarkers reports whether text contains at least one complete
// region: a local marker, then a separator, then a remote marker. Stray
// or partial markers do not count.
func HasConflictMarkers(text string) bool {
	return len(findRegions(rawLines(text))) > 0
}

// ParseConflictMarkers returns every complete conflict region in text,
// top to bottom. Text with only partial markers yields no regions.
func ParseConflictMarkers(text string) []ConflictRegion {
	lines := rawLines(text)
	regions := findRegions(lines)

	if len(regions) == 0 {
		return nil
	}

	out := make([]ConflictRegion, 0, len(regions))
	for _, r := range regions {
		out = append(out, ConflictRegion{
			LocalLines:  bodies(lines[r.start+1 : r.sep]),
			RemoteLines: bodies(lines[r.sep+1 : r.end]),
		})
	}

	return out
}

// ResolveConflicts replaces every conflict region with the chosen side's
// lines and drops the marker lines. Everything outside the regions is
// copied unchanged.
func ResolveConflicts(text string, side Side) string {
	if side != SideLocal && side != SideRemote {
		panic(fmt.Sprintf("merge: invalid side %q", string(side)))
	}

	lines := rawLines(text)
	regions := findRegions(lines)

	if len(regions) == 0 {
		return text
	}

	var b strings.Builder
	b.Grow(len(text))

	pos := 0

	for _, r := range regions {
		writeAll(&b, lines[pos:r.start])

		if side == SideLocal {
			writeAll(&b, lines[r.start+1:r.sep])
		} else {
			writeAll(&b, lines[r.sep+1:r.end])
		}

		pos = r.end + 1
	}

	writeAll(&b, lines[pos:])

	return b.String()
}

// findRegions scans for complete marker triples. A second local marker
// before a separator restarts the region; a region without a closing
// marker is ignored.
func findRegions(lines []string) []markedRegion {
	var regions []markedRegion

	start, sep := -1, -1

	for i, line := range lines {
		switch lineBody(line) {
		case MarkerLocal:
			if sep < 0 {
				start = i
			}
		case MarkerSeparator:
			if start >= 0 && sep < 0 {
				sep = i
			}
		case MarkerRemote:
			if start >= 0 && sep >= 0 {
				regions = append(regions, markedRegion{start: start, sep: sep, end: i})
				start, sep = -1, -1
			}
		}
	}

	return regions
}

// rawLines splits text after each newline, keeping terminators so that
// resolution can reproduce untouched bytes exactly.
func rawLines(text string) []string {
	if text == "" {
		return nil
	}

	lines := strings.SplitAfter(text, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}

	return lines
}

func lineBody(line string) string {
	line = strings.TrimSuffix(line, "\n")
	return strings.TrimSuffix(line, "\r")
}

func bodies(lines []string) []string {
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = lineBody(l)
	}

	return out
}

func writeAll(b *strings.Builder, lines []string) {
	for _, l := range lines {
		b.WriteString(l)
	}
}
