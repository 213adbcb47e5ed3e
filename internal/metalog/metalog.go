// Package metalog stores small repository metadata blobs (visible heads,
// bookmarks, remote names) in a badger key-value store. Writes are staged
// in memory with Set and applied atomically by Commit, which also records
// an audit entry describing the change.
package metalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

const (
	keyPrefix    = "key:"
	commitPrefix = "commit:"
)

// ErrKeyNotFound is returned by Get for keys that were never committed.
var ErrKeyNotFound = errors.New("metalog: key not found")

// CommitRecord is the audit entry written alongside every commit.
type CommitRecord struct {
	ID      string   `json:"id"`
	Message string   `json:"message"`
	Keys    []string `json:"keys"`
	Time    int64    `json:"time"`
}

type Log struct {
	db     *badger.DB
	staged map[string][]byte
}

func Open(dir string) (*Log, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening metadata log: %w", err)
	}
	return &Log{db: db, staged: make(map[string][]byte)}, nil
}

func keyName(key string) []byte {
	return []byte(keyPrefix + key)
}

// Get returns the value for key. Values staged by Set but not yet
// committed are visible.
func (l *Log) Get(key string) ([]byte, error) {
	if v, ok := l.staged[key]; ok {
		return append([]byte(nil), v...), nil
	}
	var value []byte
	err := l.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(keyName(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if err == badger.ErrKeyNotFound {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading metadata key %s: %w", key, err)
	}
	return value, nil
}

// Set stages a value for the next Commit.
func (l *Log) Set(key string, value []byte) {
	l.staged[key] = append([]byte(nil), value...)
}

// Pending reports whether any staged values await a Commit.
func (l *Log) Pending() bool {
	return len(l.staged) > 0
}

// Commit applies all staged values and an audit record in one
// transaction, then clears the staging area.
func (l *Log) Commit(message string) error {
	keys := make([]string, 0, len(l.staged))
	for k := range l.staged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	rec := CommitRecord{
		ID:      uuid.New().String(),
		Message: message,
		Keys:    keys,
		Time:    time.Now().Unix(),
	}
	recData, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshaling commit record: %w", err)
	}

	err = l.db.Update(func(txn *badger.Txn) error {
		for _, k := range keys {
			if err := txn.Set(keyName(k), l.staged[k]); err != nil {
				return err
			}
		}
		return txn.Set([]byte(commitPrefix+rec.ID), recData)
	})
	if err != nil {
		return fmt.Errorf("committing metadata log: %w", err)
	}
	l.staged = make(map[string][]byte)
	return nil
}

// Keys lists all committed keys in lexicographic order.
func (l *Log) Keys() ([]string, error) {
	var keys []string
	err := l.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(keyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, string(it.Item().Key()[len(prefix):]))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing metadata keys: %w", err)
	}
	return keys, nil
}

// Commits returns the audit trail, oldest first.
func (l *Log) Commits() ([]CommitRecord, error) {
	var recs []CommitRecord
	err := l.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(commitPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var rec CommitRecord
				if err := json.Unmarshal(val, &rec); err != nil {
					return fmt.Errorf("decoding commit record: %w", err)
				}
				recs = append(recs, rec)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing commit records: %w", err)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].Time < recs[j].Time })
	return recs, nil
}

func (l *Log) Close() error {
	return l.db.Close()
}

// Repair opens the store, letting badger replay and heal its own
// journal, and reports what survived. Open failures are returned to the
// caller; the store cannot be rebuilt from here.
func Repair(dir string) (string, error) {
	l, err := Open(dir)
	if err != nil {
		return "", err
	}
	defer l.Close()

	keys, err := l.Keys()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("verified key-value store (%d keys)", len(keys)), nil
}
