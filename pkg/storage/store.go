// Package storage wraps Pebble with the small JSON key-value surface the
// exchange needs: point reads/writes, prefix scans, and atomic batches.
package storage

import (
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"
)

type Store struct {
	db *pebble.DB
}

// Open opens (or creates) a Pebble database at path.
func Open(path string) (*Store, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble db at %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// PutJSON marshals v and writes it under key with a synced write.
func (s *Store) PutJSON(key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	if err := s.db.Set(key, data, pebble.Sync); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// GetJSON reads key into out. Returns false if the key does not exist.
func (s *Store) GetJSON(key []byte, out any) (bool, error) {
	data, closer, err := s.db.Get(key)
	if err == pebble.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get %s: %w", key, err)
	}
	defer closer.Close()

	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("unmarshal %s: %w", key, err)
	}
	return true, nil
}

// ScanPrefix calls fn for every key with the given prefix, in key order.
// Scanning stops at the first error fn returns.
func (s *Store) ScanPrefix(prefix []byte, fn func(key, value []byte) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return fmt.Errorf("iter %s: %w", prefix, err)
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		if err := fn(iter.Key(), iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}

// Batch accumulates writes that commit atomically.
type Batch struct {
	batch *pebble.Batch
}

func (s *Store) NewBatch() *Batch {
	return &Batch{batch: s.db.NewBatch()}
}

// SetJSON adds a marshaled write to the batch.
func (b *Batch) SetJSON(key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return b.batch.Set(key, data, nil)
}

// Commit writes the batch with a synced commit.
func (b *Batch) Commit() error {
	return b.batch.Commit(pebble.Sync)
}

// Close discards the batch without committing.
func (b *Batch) Close() error {
	return b.batch.Close()
}

// keyUpperBound returns the exclusive upper bound for a prefix scan: the
// shortest key greater than every key carrying the prefix. 0xff bytes carry
// into the next position; a prefix of all 0xff bytes (or an empty prefix)
// has no upper bound and scans to the end of the keyspace.
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	for i := len(bound) - 1; i >= 0; i-- {
		if bound[i] != 0xff {
			bound[i]++
			return bound[:i+1]
		}
	}
	return nil
}
