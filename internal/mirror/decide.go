package mirror

import (
	"fmt"

	"github.com/alexjbarnes/page-mirror/internal/syncstate"
)

// Decision is what a sync pass does with one page. Decide makes the
// decision without I/O; the sync pass performs it.
type Decision int

const (
	// DecisionSkip means both sides already match.
	DecisionSkip Decision = iota

	// DecisionPull writes the remote body to the local file.
	DecisionPull

	// DecisionPush publishes the local file to the remote.
	DecisionPush

	// DecisionMerge three-way merges both edits against the base.
	DecisionMerge

	// DecisionBlocked means the local file still carries conflict markers
	// and must be resolved before the page syncs again.
	DecisionBlocked

	// DecisionDeleteLocal removes a clean local file whose page is gone
	// from the remote.
	DecisionDeleteLocal

	// DecisionKeepLocal forgets a page that is gone from the remote but
	// keeps its locally edited file as an untracked file.
	DecisionKeepLocal
)

var decisionNames = [...]string{
	DecisionSkip:        "skip",
	DecisionPull:        "pull",
	DecisionPush:        "push",
	DecisionMerge:       "merge",
	DecisionBlocked:     "blocked",
	DecisionDeleteLocal: "delete-local",
	DecisionKeepLocal:   "keep-local",
}

func (d Decision) String() string {
	if d < 0 || int(d) >= len(decisionNames) {
		return fmt.Sprintf("decision(%d)", int(d))
	}

	return decisionNames[d]
}

// MarshalText encodes the decision by name.
func (d Decision) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Decide picks the action for one page. stored is the persisted record
// or nil for a page never seen before. local and remote are content
// hashes, nil when the page is absent on that side. markers reports
// whether the local file still holds conflict markers.
func Decide(stored *syncstate.PageState, local, remote *string, markers bool) Decision {
	if remote == nil {
		switch {
		case stored == nil:
			return DecisionSkip
		case local == nil || *local == stored.BaseHash:
			return DecisionDeleteLocal
		default:
			return DecisionKeepLocal
		}
	}

	if stored == nil || local == nil {
		return DecisionPull
	}

	if markers {
		return DecisionBlocked
	}

	switch state := syncstate.Classify(*local, *remote, stored.BaseHash); state {
	case syncstate.Synced:
		return DecisionSkip
	case syncstate.LocalModified:
		return DecisionPush
	case syncstate.RemoteModified:
		return DecisionPull
	case syncstate.Conflict:
		return DecisionMerge
	case syncstate.Untracked:
		return DecisionPull
	default:
		panic(fmt.Sprintf("mirror: unhandled state %q", state))
	}
}
