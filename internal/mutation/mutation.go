// Package mutation records commit rewrites (amend, rebase, fold) so
// that predecessors of a visible commit can be traced after the fact.
package mutation

import (
	"encoding/json"
	"fmt"

	"strata/internal/node"
	"strata/internal/recordlog"
)

// Entry describes one rewrite: Succ replaced every node in Preds.
type Entry struct {
	Succ  node.Node   `json:"succ"`
	Preds []node.Node `json:"preds"`
	Op    string      `json:"op"`
	User  string      `json:"user"`
	Time  int64       `json:"time"`
}

type Store struct {
	log *recordlog.Log
}

func Open(dir string) (*Store, error) {
	log, err := recordlog.Open(dir)
	if err != nil {
		return nil, fmt.Errorf("opening mutation store: %w", err)
	}
	return &Store{log: log}, nil
}

func (s *Store) Add(e Entry) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshaling mutation entry: %w", err)
	}
	if _, err := s.log.Append(payload); err != nil {
		return fmt.Errorf("appending mutation entry: %w", err)
	}
	return nil
}

// Entries returns every recorded rewrite in append order.
func (s *Store) Entries() ([]Entry, error) {
	var entries []Entry
	err := s.log.Iter(func(offset int64, payload []byte) error {
		var e Entry
		if err := json.Unmarshal(payload, &e); err != nil {
			return fmt.Errorf("decoding mutation entry at byte %d: %w", offset, err)
		}
		entries = append(entries, e)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Store) Close() error {
	return s.log.Close()
}

// Repair heals the underlying record log.
func Repair(dir string) (string, error) {
	return recordlog.Repair(dir)
}
