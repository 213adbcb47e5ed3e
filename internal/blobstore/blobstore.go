// Package blobstore provides the content-addressed data store and the
// history store for remotely-fetched file contents. Both are backed by
// checksummed record logs; the data store deduplicates by node and
// caches decompressed reads.
package blobstore

import (
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/klauspost/compress/zstd"

	stratarrors "strata/internal/errors"
	"strata/internal/node"
	"strata/internal/recordlog"
)

// ErrNotFound is returned when a requested node is not stored locally.
var ErrNotFound = errors.New("content not found")

const (
	tagRaw  = 0x00
	tagZstd = 'z'

	// Contents below this size rarely win anything from compression.
	minCompressSize = 1024

	defaultCacheSize = 256
)

// Options configures the data store.
type Options struct {
	CacheSize int
}

// DataStore holds file contents keyed by their content hash.
type DataStore struct {
	log   *recordlog.Log
	index map[node.Node]int64
	cache *lru.Cache[node.Node, []byte]
	enc   *zstd.Encoder
	dec   *zstd.Decoder
}

// OpenData opens or creates the data store in dir.
func OpenData(dir string, opts Options) (*DataStore, error) {
	if opts.CacheSize <= 0 {
		opts.CacheSize = defaultCacheSize
	}
	log, err := recordlog.Open(dir)
	if err != nil {
		return nil, fmt.Errorf("opening data store: %w", err)
	}
	cache, err := lru.New[node.Node, []byte](opts.CacheSize)
	if err != nil {
		log.Close()
		return nil, fmt.Errorf("creating cache: %w", err)
	}
	s := &DataStore{
		log:   log,
		index: make(map[node.Node]int64),
		cache: cache,
	}
	err = log.Iter(func(offset int64, payload []byte) error {
		if len(payload) < node.Size+1 {
			return stratarrors.Corruptionf("data store entry at byte %d is %d bytes, too short", offset, len(payload))
		}
		n, err := node.FromBytes(payload[:node.Size])
		if err != nil {
			return err
		}
		s.index[n] = offset
		return nil
	})
	if err != nil {
		log.Close()
		return nil, err
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1))
	if err != nil {
		log.Close()
		return nil, fmt.Errorf("creating encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	if err != nil {
		enc.Close()
		log.Close()
		return nil, fmt.Errorf("creating decoder: %w", err)
	}
	s.enc = enc
	s.dec = dec
	return s, nil
}

// Put stores content and returns its node. Known content writes
// nothing.
func (s *DataStore) Put(content []byte) (node.Node, error) {
	n := node.Hash(content)
	if _, ok := s.index[n]; ok {
		return n, nil
	}

	payload := make([]byte, 0, node.Size+1+len(content))
	payload = append(payload, n[:]...)
	if len(content) >= minCompressSize {
		z := s.enc.EncodeAll(content, make([]byte, 0, len(content)/2))
		if len(z) < len(content) {
			payload = append(payload, tagZstd)
			payload = append(payload, z...)
		}
	}
	if len(payload) == node.Size {
		payload = append(payload, tagRaw)
		payload = append(payload, content...)
	}

	offset, err := s.log.Append(payload)
	if err != nil {
		return node.Null, fmt.Errorf("storing content: %w", err)
	}
	s.index[n] = offset
	s.cache.Add(n, append([]byte(nil), content...))
	return n, nil
}

// Get returns the content for n, verifying its hash on the way out.
func (s *DataStore) Get(n node.Node) ([]byte, error) {
	if content, ok := s.cache.Get(n); ok {
		return content, nil
	}
	offset, ok := s.index[n]
	if !ok {
		return nil, ErrNotFound
	}
	payload, err := s.log.ReadRecord(offset)
	if err != nil {
		return nil, fmt.Errorf("reading content %s: %w", n.Short(), err)
	}
	var content []byte
	switch payload[node.Size] {
	case tagRaw:
		content = payload[node.Size+1:]
	case tagZstd:
		content, err = s.dec.DecodeAll(payload[node.Size+1:], nil)
		if err != nil {
			return nil, stratarrors.WrapCorruption(err, "content %s undecodable", n.Short())
		}
	default:
		return nil, stratarrors.Corruptionf("content %s has unknown tag %#x", n.Short(), payload[node.Size])
	}
	if node.Hash(content) != n {
		return nil, stratarrors.Corruptionf("content hash mismatch for %s", n.Short())
	}
	s.cache.Add(n, append([]byte(nil), content...))
	return content, nil
}

func (s *DataStore) Has(n node.Node) bool {
	_, ok := s.index[n]
	return ok
}

func (s *DataStore) Len() int { return len(s.index) }

func (s *DataStore) Close() error {
	if s.dec != nil {
		s.dec.Close()
	}
	if s.enc != nil {
		s.enc.Close()
	}
	return s.log.Close()
}

// HistoryEntry ties a content node to its parents and the commit that
// introduced it.
type HistoryEntry struct {
	Node     node.Node `json:"node"`
	P1       node.Node `json:"p1"`
	P2       node.Node `json:"p2"`
	LinkNode node.Node `json:"linknode"`
}

// RepairData heals the data store's record log.
func RepairData(dir string) (string, error) {
	return recordlog.Repair(dir)
}

// RepairHistory heals the history store's record log.
func RepairHistory(dir string) (string, error) {
	return recordlog.Repair(dir)
}
