// Package syncstate classifies how a mirrored page or attachment has
// diverged from its last agreed base, and defines the records the state
// store persists for each tracked artifact.
package syncstate

import (
	"fmt"
)

// SyncState is the relationship between the local copy, the remote copy
// and the base of one artifact.
type SyncState string

const (
	Synced         SyncState = "synced"
	LocalModified  SyncState = "local-modified"
	RemoteModified SyncState = "remote-modified"
	Conflict       SyncState = "conflict"
	// Untracked is assigned by callers for artifacts with no base record.
	// Classify never returns it.
	Untracked SyncState = "untracked"
)

// States lists every SyncState in declaration order.
var States = []SyncState{Synced, LocalModified, RemoteModified, Conflict, Untracked}

// ParseSyncState converts a serialized literal back into a SyncState.
func ParseSyncState(s string) (SyncState, error) {
	for _, st := range States {
		if string(st) == s {
			return st, nil
		}
	}

	return "", fmt.Errorf("unknown sync state %q", s)
}

// String implements fmt.Stringer.
func (s SyncState) String() string {
	return string(s)
}

// MarshalText implements encoding.TextMarshaler. It refuses to encode a
// value outside the declared set.
func (s SyncState) MarshalText() ([]byte, error) {
	if _, err := ParseSyncState(string(s)); err != nil {
		return nil, err
	}

	return []byte(s), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *SyncState) UnmarshalText(text []byte) error {
	st, err := ParseSyncState(string(text))
	if err != nil {
		return err
	}

	*s = st

	return nil
}

// NeedsAttention reports whether a sync pass has work to do for an
// artifact in this state.
func (s SyncState) NeedsAttention() bool {
	switch s {
	case Synced:
		return false
	case LocalModified, RemoteModified, Conflict, Untracked:
		return true
	default:
		panic(fmt.Sprintf("syncstate: unhandled state %q", string(s)))
	}
}

// Classify maps the three content hashes of a page to its SyncState.
// Both sides converging on the same new content counts as Synced.
func Classify(local, remote, base string) SyncState {
	localChanged := local != base
	remoteChanged := remote != base

	switch {
	case !localChanged && !remoteChanged:
		return Synced
	case localChanged && !remoteChanged:
		return LocalModified
	case !localChanged && remoteChanged:
		return RemoteModified
	case local == remote:
		return Synced
	default:
		return Conflict
	}
}

// ClassifyAttachment is Classify with deletion awareness. A nil hash
// means the attachment is gone on that side. When exactly one side is
// gone the other side decides whether the attachment exists.
func ClassifyAttachment(local, remote *string, base string) SyncState {
	switch {
	case local == nil && remote == nil:
		return Synced
	case local == nil:
		return RemoteModified
	case remote == nil:
		return LocalModified
	default:
		return Classify(*local, *remote, base)
	}
}
