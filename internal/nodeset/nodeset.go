// Package nodeset is a durable set of node identifiers. The store keeps
// every head ever seen ("allheads") so history repairs can tell whether
// a node once existed.
package nodeset

import (
	"fmt"

	"strata/internal/node"
	"strata/internal/recordlog"
)

type Set struct {
	log   *recordlog.Log
	nodes map[node.Node]struct{}
}

func Open(dir string) (*Set, error) {
	log, err := recordlog.Open(dir)
	if err != nil {
		return nil, fmt.Errorf("opening node set: %w", err)
	}
	s := &Set{log: log, nodes: make(map[node.Node]struct{})}
	err = log.Iter(func(offset int64, payload []byte) error {
		n, err := node.FromBytes(payload)
		if err != nil {
			return fmt.Errorf("node set entry at byte %d: %w", offset, err)
		}
		s.nodes[n] = struct{}{}
		return nil
	})
	if err != nil {
		log.Close()
		return nil, err
	}
	return s, nil
}

// Add records n. Re-adding a known node writes nothing.
func (s *Set) Add(n node.Node) error {
	if _, ok := s.nodes[n]; ok {
		return nil
	}
	if _, err := s.log.Append(n[:]); err != nil {
		return fmt.Errorf("appending node: %w", err)
	}
	s.nodes[n] = struct{}{}
	return nil
}

func (s *Set) Contains(n node.Node) bool {
	_, ok := s.nodes[n]
	return ok
}

func (s *Set) Len() int { return len(s.nodes) }

// Flush forces pending appends to disk.
func (s *Set) Flush() error {
	return s.log.Sync()
}

func (s *Set) Close() error {
	return s.log.Close()
}

// Repair heals the underlying record log.
func Repair(dir string) (string, error) {
	return recordlog.Repair(dir)
}
