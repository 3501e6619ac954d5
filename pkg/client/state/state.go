// Package state persists the sync client's local bookkeeping: per-path
// version vectors, baseline checksums of the last synced content, deletion
// tombstones, and the server file id for each path. The data lives in a
// BadgerDB keyspace under the client's state directory.
package state

import (
	"encoding/json"
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/driftsync/driftsync/pkg/vector"
)

// Key layout:
//
//	Entry       Prefix   Format          Value
//	File record "f:"     f:<path>        Record (JSON)
//	Tombstone   "t:"     t:<path>        RFC3339 deletion time
const (
	prefixFile      = "f:"
	prefixTombstone = "t:"
)

// Record is the locally tracked sync state of one path.
type Record struct {
	// FileID is the server-assigned file id, empty until first sync.
	FileID string `json:"file_id,omitempty"`

	// Vector is the client's local version vector for the path.
	Vector vector.Vector `json:"version_vector"`

	// Checksum is the SHA-256 of the last content synced with the server.
	Checksum string `json:"checksum,omitempty"`

	// Size is the byte size of the last synced content.
	Size int64 `json:"file_size"`

	// ConflictCopy is the relative path of the parked server version while
	// a conflict awaits resolution, empty otherwise.
	ConflictCopy string `json:"conflict_copy,omitempty"`
}

// ErrNotTracked means no record exists for the path.
var ErrNotTracked = errors.New("path not tracked")

// State is the badger-backed local store.
type State struct {
	db *badger.DB
}

// Open opens (or creates) the state database in dir.
func Open(dir string) (*State, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}
	return &State{db: db}, nil
}

// Close releases the database.
func (s *State) Close() error {
	return s.db.Close()
}

func keyFile(path string) []byte {
	return []byte(prefixFile + path)
}

func keyTombstone(path string) []byte {
	return []byte(prefixTombstone + path)
}

// Get returns the record for a path, or ErrNotTracked.
func (s *State) Get(path string) (*Record, error) {
	var rec *Record
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(keyFile(path))
		if err == badger.ErrKeyNotFound {
			return ErrNotTracked
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var r Record
			if err := json.Unmarshal(val, &r); err != nil {
				return fmt.Errorf("corrupt state record for %s: %w", path, err)
			}
			rec = &r
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Put stores the record for a path.
func (s *State) Put(path string, rec *Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode state record: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(keyFile(path), data)
	})
}

// Forget drops the record for a path.
func (s *State) Forget(path string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(keyFile(path))
	})
}

// Paths returns every tracked path.
func (s *State) Paths() ([]string, error) {
	var paths []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(prefixFile)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			paths = append(paths, string(it.Item().Key()[len(prefix):]))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return paths, nil
}

// MarkDeleted records a tombstone for a path and drops its record.
func (s *State) MarkDeleted(path string, at string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(keyTombstone(path), []byte(at)); err != nil {
			return err
		}
		return txn.Delete(keyFile(path))
	})
}

// ClearTombstone removes the tombstone for a path, if any.
func (s *State) ClearTombstone(path string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete(keyTombstone(path))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		return err
	})
}

// IsDeleted reports whether a tombstone exists for the path.
func (s *State) IsDeleted(path string) (bool, error) {
	var deleted bool
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(keyTombstone(path))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		deleted = true
		return nil
	})
	return deleted, err
}

// Tombstones returns every tombstoned path.
func (s *State) Tombstones() ([]string, error) {
	var paths []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(prefixTombstone)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			paths = append(paths, string(it.Item().Key()[len(prefix):]))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return paths, nil
}
