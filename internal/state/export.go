package state

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	mirrorerrors "github.com/alexjbarnes/page-mirror/internal/errors"
	"github.com/alexjbarnes/page-mirror/internal/syncstate"
	"github.com/tidwall/gjson"
	bolt "go.etcd.io/bbolt"
)

// SchemaVersion is the version written to and accepted from exports.
const SchemaVersion = 1

// Snapshot is the portable JSON form of the whole store.
type Snapshot struct {
	SchemaVersion int                            `json:"schemaVersion"`
	SpaceKey      string                         `json:"spaceKey"`
	LastSync      *time.Time                     `json:"lastSync"`
	Pages         map[string]syncstate.PageState `json:"pages"`
	PathIndex     map[string]string              `json:"pathIndex"`
}

// Snapshot reads the whole store in one transaction.
func (s *State) Snapshot() (*Snapshot, error) {
	snap := &Snapshot{
		SchemaVersion: SchemaVersion,
		Pages:         make(map[string]syncstate.PageState),
		PathIndex:     make(map[string]string),
	}

	err := s.db.View(func(tx *bolt.Tx) error {
		meta := tx.Bucket(metaBucket)
		snap.SpaceKey = string(meta.Get(spaceKeyKey))

		if v := meta.Get(lastSyncKey); v != nil {
			var t time.Time
			if err := t.UnmarshalText(v); err != nil {
				return err
			}

			snap.LastSync = &t
		}

		err := tx.Bucket(pagesBucket).ForEach(func(k, _ []byte) error {
			ps, err := getPage(tx, string(k))
			if err != nil {
				return err
			}

			snap.Pages[ps.ID] = *ps

			return nil
		})
		if err != nil {
			return err
		}

		return tx.Bucket(pathIndexBucket).ForEach(func(k, v []byte) error {
			snap.PathIndex[string(k)] = string(v)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return snap, nil
}

// Export writes the store as indented JSON.
func (s *State) Export(w io.Writer) error {
	snap, err := s.Snapshot()
	if err != nil {
		return err
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	if err := enc.Encode(snap); err != nil {
		return fmt.Errorf("encoding state export: %w", err)
	}

	return nil
}

// Import replaces the whole store with the export read from r. The path
// index is rebuilt from the page records rather than trusted. Merge bases
// and conflict bodies are not part of the export and are kept for pages
// that survive the import. Nothing is written unless every record validates.
func (s *State) Import(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("reading state export: %w", err)
	}

	if !gjson.ValidBytes(data) {
		return fmt.Errorf("state export is not valid JSON")
	}

	version := gjson.GetBytes(data, "schemaVersion")
	if !version.Exists() || version.Type != gjson.Number || version.Int() != SchemaVersion {
		return fmt.Errorf("%w: %s", mirrorerrors.ErrStateSchema, version.Raw)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("decoding state export: %w", err)
	}

	paths := make(map[string]string, len(snap.Pages))

	for id, ps := range snap.Pages {
		ps.ID = id
		if err := ps.Validate(); err != nil {
			return err
		}

		if ps.Path == "" {
			continue
		}

		if owner, dup := paths[ps.Path]; dup {
			return fmt.Errorf("pages %s and %s share path %s", owner, id, ps.Path)
		}

		paths[ps.Path] = id
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{pagesBucket, attachmentsBucket, pathIndexBucket} {
			if err := tx.DeleteBucket(name); err != nil {
				return err
			}

			if _, err := tx.CreateBucket(name); err != nil {
				return err
			}
		}

		for _, name := range [][]byte{basesBucket, theirsBucket} {
			if err := dropStale(tx.Bucket(name), snap.Pages); err != nil {
				return err
			}
		}

		meta := Meta{SpaceKey: snap.SpaceKey}
		if snap.LastSync != nil {
			meta.LastSync = *snap.LastSync
		}

		if err := putMeta(tx, meta); err != nil {
			return err
		}

		for id, ps := range snap.Pages {
			ps.ID = id
			if err := putPage(tx, ps); err != nil {
				return err
			}
		}

		return nil
	})
}

// dropStale deletes the keys of b that name no page in pages.
func dropStale(b *bolt.Bucket, pages map[string]syncstate.PageState) error {
	var stale [][]byte

	err := b.ForEach(func(k, _ []byte) error {
		if _, ok := pages[string(k)]; !ok {
			stale = append(stale, k)
		}

		return nil
	})
	if err != nil {
		return err
	}

	for _, k := range stale {
		if err := b.Delete(k); err != nil {
			return err
		}
	}

	return nil
}
