// Package shotstore persists finished shots in an embedded Badger database.
package shotstore

import (
	"errors"
	"fmt"
	"log"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/sweeney/brew-controller/internal/brew"
)

// ErrNotFound is returned by Get for an unknown shot ID.
var ErrNotFound = errors.New("shotstore: shot not found")

var prefix = []byte("shot/")

// Store holds shots keyed by ID. IDs are xids, so key order is creation order.
type Store struct {
	db *badger.DB
}

// Open opens or creates the database at path. An empty path keeps the
// database in memory.
func Open(path string) (*Store, error) {
	opts := badger.DefaultOptions(path).
		WithCompression(options.ZSTD).
		WithNumVersionsToKeep(1).
		WithLoggingLevel(badger.WARNING)
	if path == "" {
		opts = opts.WithInMemory(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("shotstore: open %q: %w", path, err)
	}
	return &Store{db: db}, nil
}

func key(id string) []byte {
	return append(append([]byte{}, prefix...), id...)
}

// Save stores shot, replacing any shot with the same ID.
func (s *Store) Save(shot brew.Shot) error {
	if shot.ID == "" {
		return errors.New("shotstore: shot has no ID")
	}
	data, err := brew.FormatShot(shot)
	if err != nil {
		return fmt.Errorf("shotstore: encode %s: %w", shot.ID, err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(shot.ID), data)
	})
	if err != nil {
		return fmt.Errorf("shotstore: save %s: %w", shot.ID, err)
	}
	return nil
}

// Get returns the shot with the given ID.
func (s *Store) Get(id string) (brew.Shot, error) {
	var shot brew.Shot
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			shot, err = brew.ParseShot(val)
			return err
		})
	})
	return shot, err
}

// Recent returns up to n shots, newest first. Undecodable entries are
// skipped and logged.
func (s *Store) Recent(n int) ([]brew.Shot, error) {
	if n <= 0 {
		return nil, nil
	}

	var shots []brew.Shot
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration starts at the last key <= the seek key.
		seek := append(append([]byte{}, prefix...), 0xff)
		for it.Seek(seek); it.Valid() && len(shots) < n; it.Next() {
			item := it.Item()
			err := item.Value(func(val []byte) error {
				shot, err := brew.ParseShot(val)
				if err != nil {
					log.Printf("shotstore: skipping %s: %v", item.Key(), err)
					return nil
				}
				shots = append(shots, shot)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("shotstore: list: %w", err)
	}
	return shots, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
