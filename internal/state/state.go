// Package state persists page and attachment sync records in a bbolt
// database. Records are keyed by remote id; a path index maps local
// relative paths back to page ids.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/alexjbarnes/page-mirror/internal/syncstate"
	bolt "go.etcd.io/bbolt"
)

const (
	// stateDirPerm is the permission mode for the state directory.
	stateDirPerm = fs.FileMode(0o700)

	// stateFilePerm is the permission mode for the state database file.
	stateFilePerm = fs.FileMode(0o600)

	// stateOpenTimeout is the maximum time to wait for the bolt database lock.
	stateOpenTimeout = 5 * time.Second
)

var (
	metaBucket        = []byte("meta")
	pagesBucket       = []byte("pages")
	attachmentsBucket = []byte("attachments")
	pathIndexBucket   = []byte("path_index")
	basesBucket       = []byte("bases")
	theirsBucket      = []byte("conflict_remote")

	spaceKeyKey = []byte("space_key")
	lastSyncKey = []byte("last_sync")
)

// Meta is the mirror-wide sync metadata.
type Meta struct {
	SpaceKey string
	LastSync time.Time
}

// State wraps a bbolt database holding every sync record of one mirror.
type State struct {
	db *bolt.DB
}

// LoadAt opens the state database at path, creating it and its parent
// directory if they do not exist.
func LoadAt(path string) (*State, error) {
	if err := os.MkdirAll(filepath.Dir(path), stateDirPerm); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	db, err := bolt.Open(path, stateFilePerm, &bolt.Options{Timeout: stateOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening state db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{metaBucket, pagesBucket, attachmentsBucket, pathIndexBucket, basesBucket, theirsBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing state db: %w", err)
	}

	return &State{db: db}, nil
}

// Close closes the database.
func (s *State) Close() error {
	return s.db.Close()
}

// Meta returns the stored sync metadata. A fresh database returns the
// zero value.
func (s *State) Meta() (Meta, error) {
	var m Meta

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(metaBucket)
		m.SpaceKey = string(b.Get(spaceKeyKey))

		if v := b.Get(lastSyncKey); v != nil {
			return m.LastSync.UnmarshalText(v)
		}

		return nil
	})

	return m, err
}

// SetMeta replaces the stored sync metadata.
func (s *State) SetMeta(m Meta) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putMeta(tx, m)
	})
}

// GetPage returns the record for id, or nil if there is none.
func (s *State) GetPage(id string) (*syncstate.PageState, error) {
	var ps *syncstate.PageState

	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		ps, err = getPage(tx, id)

		return err
	})

	return ps, err
}

// PageByPath returns the record whose local file is at path, or nil.
func (s *State) PageByPath(path string) (*syncstate.PageState, error) {
	var ps *syncstate.PageState

	err := s.db.View(func(tx *bolt.Tx) error {
		id := tx.Bucket(pathIndexBucket).Get([]byte(path))
		if id == nil {
			return nil
		}

		var err error
		ps, err = getPage(tx, string(id))

		return err
	})

	return ps, err
}

// PutPage stores ps, including its attachments, and keeps the path index
// in step with the page's current path. An empty sync state is stored
// as untracked.
func (s *State) PutPage(ps syncstate.PageState) error {
	if err := ps.Validate(); err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		return putPage(tx, ps)
	})
}

// DeletePage removes the record for id with its attachments and index
// entry. Deleting an unknown id is a no-op.
func (s *State) DeletePage(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		existing, err := getPage(tx, id)
		if err != nil || existing == nil {
			return err
		}

		if existing.Path != "" {
			if err := tx.Bucket(pathIndexBucket).Delete([]byte(existing.Path)); err != nil {
				return err
			}
		}

		if err := deleteAttachmentBucket(tx, id); err != nil {
			return err
		}

		for _, name := range [][]byte{basesBucket, theirsBucket} {
			if err := tx.Bucket(name).Delete([]byte(id)); err != nil {
				return err
			}
		}

		return tx.Bucket(pagesBucket).Delete([]byte(id))
	})
}

// Base returns the content both sides agreed on at the page's last sync.
// The second result is false when no base has been recorded.
func (s *State) Base(id string) (string, bool, error) {
	var (
		base  string
		found bool
	)

	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(basesBucket).Get([]byte(id)); v != nil {
			base = string(v)
			found = true
		}

		return nil
	})

	return base, found, err
}

// SetBase records the merge base for a page.
func (s *State) SetBase(id, content string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(basesBucket).Put([]byte(id), []byte(content))
	})
}

// ConflictRemote returns the remote body the page's last conflicting
// merge ran against.
func (s *State) ConflictRemote(id string) (string, bool, error) {
	var (
		body  string
		found bool
	)

	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(theirsBucket).Get([]byte(id)); v != nil {
			body = string(v)
			found = true
		}

		return nil
	})

	return body, found, err
}

// PutConflict stores the page record together with the remote body its
// conflict markers were written against.
func (s *State) PutConflict(ps syncstate.PageState, remoteBody string) error {
	if err := ps.Validate(); err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(theirsBucket).Put([]byte(ps.ID), []byte(remoteBody)); err != nil {
			return err
		}

		return putPage(tx, ps)
	})
}

// PutResolution stores the page record and its new merge base in one
// transaction. The conflict's remote body is kept until the resolved
// file is on disk; ClearConflict drops it.
func (s *State) PutResolution(ps syncstate.PageState, base string) error {
	if err := ps.Validate(); err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(basesBucket).Put([]byte(ps.ID), []byte(base)); err != nil {
			return err
		}

		return putPage(tx, ps)
	})
}

// ClearConflict forgets the conflict's remote body for a page.
func (s *State) ClearConflict(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(theirsBucket).Delete([]byte(id))
	})
}

// AllPages returns every page record ordered by path, then id.
func (s *State) AllPages() ([]syncstate.PageState, error) {
	var pages []syncstate.PageState

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(pagesBucket).ForEach(func(k, _ []byte) error {
			ps, err := getPage(tx, string(k))
			if err != nil {
				return err
			}

			pages = append(pages, *ps)

			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(pages, func(i, j int) bool {
		if pages[i].Path != pages[j].Path {
			return pages[i].Path < pages[j].Path
		}

		return pages[i].ID < pages[j].ID
	})

	return pages, nil
}

// PathIndex returns a copy of the path to page id index.
func (s *State) PathIndex() (map[string]string, error) {
	result := make(map[string]string)

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(pathIndexBucket).ForEach(func(k, v []byte) error {
			result[string(k)] = string(v)
			return nil
		})
	})

	return result, err
}

// PageCount returns the number of stored pages.
func (s *State) PageCount() int {
	count := 0
	_ = s.db.View(func(tx *bolt.Tx) error {
		count = tx.Bucket(pagesBucket).Stats().KeyN

		return nil
	})

	return count
}

func putMeta(tx *bolt.Tx, m Meta) error {
	b := tx.Bucket(metaBucket)
	if err := b.Put(spaceKeyKey, []byte(m.SpaceKey)); err != nil {
		return err
	}

	if m.LastSync.IsZero() {
		return b.Delete(lastSyncKey)
	}

	v, err := m.LastSync.UTC().MarshalText()
	if err != nil {
		return err
	}

	return b.Put(lastSyncKey, v)
}

func getPage(tx *bolt.Tx, id string) (*syncstate.PageState, error) {
	v := tx.Bucket(pagesBucket).Get([]byte(id))
	if v == nil {
		return nil, nil
	}

	ps := &syncstate.PageState{}
	if err := json.Unmarshal(v, ps); err != nil {
		return nil, fmt.Errorf("decoding page %s: %w", id, err)
	}

	ps.ID = id

	b := tx.Bucket(attachmentsBucket).Bucket([]byte(id))
	if b == nil {
		return ps, nil
	}

	ps.Attachments = make(map[string]syncstate.AttachmentState)

	err := b.ForEach(func(k, v []byte) error {
		var a syncstate.AttachmentState
		if err := json.Unmarshal(v, &a); err != nil {
			return fmt.Errorf("decoding attachment %s: %w", k, err)
		}

		a.PageID = id
		ps.Attachments[string(k)] = a

		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(ps.Attachments) == 0 {
		ps.Attachments = nil
	}

	return ps, nil
}

func putPage(tx *bolt.Tx, ps syncstate.PageState) error {
	index := tx.Bucket(pathIndexBucket)

	if ps.Path != "" {
		if owner := index.Get([]byte(ps.Path)); owner != nil && string(owner) != ps.ID {
			return fmt.Errorf("path %s already belongs to page %s", ps.Path, owner)
		}
	}

	existing, err := getPage(tx, ps.ID)
	if err != nil {
		return err
	}

	if existing != nil && existing.Path != "" && existing.Path != ps.Path {
		if err := index.Delete([]byte(existing.Path)); err != nil {
			return err
		}
	}

	if ps.Path != "" {
		if err := index.Put([]byte(ps.Path), []byte(ps.ID)); err != nil {
			return err
		}
	}

	if ps.SyncState == "" {
		ps.SyncState = syncstate.Untracked
	}

	attachments := ps.Attachments
	ps.Attachments = nil

	data, err := json.Marshal(ps)
	if err != nil {
		return fmt.Errorf("encoding page %s: %w", ps.ID, err)
	}

	if err := tx.Bucket(pagesBucket).Put([]byte(ps.ID), data); err != nil {
		return err
	}

	if err := deleteAttachmentBucket(tx, ps.ID); err != nil {
		return err
	}

	if len(attachments) == 0 {
		return nil
	}

	b, err := tx.Bucket(attachmentsBucket).CreateBucket([]byte(ps.ID))
	if err != nil {
		return err
	}

	for id, a := range attachments {
		a.AttachmentID = id
		if err := putAttachment(b, a); err != nil {
			return err
		}
	}

	return nil
}

func putAttachment(b *bolt.Bucket, a syncstate.AttachmentState) error {
	if a.SyncState == "" {
		a.SyncState = syncstate.Untracked
	}

	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encoding attachment %s: %w", a.AttachmentID, err)
	}

	return b.Put([]byte(a.AttachmentID), data)
}

func deleteAttachmentBucket(tx *bolt.Tx, pageID string) error {
	err := tx.Bucket(attachmentsBucket).DeleteBucket([]byte(pageID))
	if err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
		return err
	}

	return nil
}
