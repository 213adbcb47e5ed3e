package blobstore

import (
	"encoding/json"
	"fmt"

	"strata/internal/node"
	"strata/internal/recordlog"
)

// HistoryStore records the ancestry of remotely-fetched contents.
type HistoryStore struct {
	log   *recordlog.Log
	index map[node.Node]HistoryEntry
}

// OpenHistory opens or creates the history store in dir.
func OpenHistory(dir string) (*HistoryStore, error) {
	log, err := recordlog.Open(dir)
	if err != nil {
		return nil, fmt.Errorf("opening history store: %w", err)
	}
	s := &HistoryStore{
		log:   log,
		index: make(map[node.Node]HistoryEntry),
	}
	err = log.Iter(func(offset int64, payload []byte) error {
		var e HistoryEntry
		if err := json.Unmarshal(payload, &e); err != nil {
			return fmt.Errorf("decoding history entry at byte %d: %w", offset, err)
		}
		s.index[e.Node] = e
		return nil
	})
	if err != nil {
		log.Close()
		return nil, err
	}
	return s, nil
}

// Add records an entry. The latest entry for a node wins.
func (s *HistoryStore) Add(e HistoryEntry) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshaling history entry: %w", err)
	}
	if _, err := s.log.Append(payload); err != nil {
		return fmt.Errorf("appending history entry: %w", err)
	}
	s.index[e.Node] = e
	return nil
}

func (s *HistoryStore) Get(n node.Node) (HistoryEntry, error) {
	e, ok := s.index[n]
	if !ok {
		return HistoryEntry{}, ErrNotFound
	}
	return e, nil
}

func (s *HistoryStore) Len() int { return len(s.index) }

func (s *HistoryStore) Close() error {
	return s.log.Close()
}
