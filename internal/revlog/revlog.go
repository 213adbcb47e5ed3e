// Package revlog implements the append-only revision log backing the
// commit graph: a fixed-width index file plus a data file holding one
// compressed text chunk per revision.
//
// Each index record is 64 bytes, big-endian:
//
//	byte  0: offset/flags word (high 48 bits data offset, low 16 flags)
//	byte  8: stored chunk length (uint32)
//	byte 12: full text length (uint32)
//	byte 16: base revision (int32, always the revision itself)
//	byte 20: link revision (int32)
//	byte 24: first parent revision (int32, -1 when null)
//	byte 28: second parent revision (int32, -1 when null)
//	byte 32: node hash (20 bytes)
//	byte 52: reserved, zero (12 bytes)
//
// A data chunk is one tag byte followed by the payload: 0x00 for raw
// text, 'z' for a zstd frame. Revision reads verify the stored node
// hash, so damaged chunks surface as corruption errors rather than
// garbage text.
package revlog

import (
	"encoding/binary"
	"fmt"
	"os"
	"strings"

	"github.com/klauspost/compress/zstd"

	"strata/internal/errors"
	"strata/internal/node"
	"strata/internal/vfs"
)

// IndexEntrySize is the fixed width of one index record.
const IndexEntrySize = 64

const (
	tagRaw  = 0x00
	tagZstd = 'z'
)

// IndexEntry is one decoded index record.
type IndexEntry struct {
	Offset    int64
	Flags     uint16
	CompLen   int
	UncompLen int
	Base      int
	LinkRev   int
	P1        int
	P2        int
	Node      node.Node
}

// Revlog is an opened revision log. The index is held in memory; chunk
// data is read from the data file on demand.
type Revlog struct {
	fs        *vfs.FS
	indexName string
	dataName  string
	index     []IndexEntry
	nodemap   map[node.Node]int
	enc       *zstd.Encoder
	dec       *zstd.Decoder
}

// Open reads the index for name (for example "00changelog.i"). A missing
// index file is an empty log. An index whose size is not a multiple of
// the record width cannot be trusted at all and fails with a corruption
// error.
func Open(fs *vfs.FS, name string) (*Revlog, error) {
	r := &Revlog{
		fs:        fs,
		indexName: name,
		dataName:  strings.TrimSuffix(name, ".i") + ".d",
		nodemap:   make(map[node.Node]int),
	}
	data, err := fs.ReadFile(name)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading index %s: %w", name, err)
	}
	if len(data)%IndexEntrySize != 0 {
		return nil, errors.Corruptionf("%s: index size %d is not a multiple of %d", name, len(data), IndexEntrySize)
	}
	r.index = make([]IndexEntry, 0, len(data)/IndexEntrySize)
	for off := 0; off < len(data); off += IndexEntrySize {
		e := decodeEntry(data[off : off+IndexEntrySize])
		r.nodemap[e.Node] = len(r.index)
		r.index = append(r.index, e)
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("creating encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("creating decoder: %w", err)
	}
	r.enc = enc
	r.dec = dec
	return r, nil
}

func (r *Revlog) Len() int { return len(r.index) }

// DataName returns the store-relative name of the data file.
func (r *Revlog) DataName() string { return r.dataName }

func (r *Revlog) Index(rev int) (IndexEntry, error) {
	if rev < 0 || rev >= len(r.index) {
		return IndexEntry{}, fmt.Errorf("%s: no revision %d", r.indexName, rev)
	}
	return r.index[rev], nil
}

// Rev looks up the revision number for a node.
func (r *Revlog) Rev(n node.Node) (int, bool) {
	rev, ok := r.nodemap[n]
	return rev, ok
}

func (r *Revlog) HasNode(n node.Node) bool {
	_, ok := r.nodemap[n]
	return ok
}

func (r *Revlog) Node(rev int) (node.Node, error) {
	e, err := r.Index(rev)
	if err != nil {
		return node.Null, err
	}
	return e.Node, nil
}

// Tip returns the node of the last revision, or the null node for an
// empty log.
func (r *Revlog) Tip() node.Node {
	if len(r.index) == 0 {
		return node.Null
	}
	return r.index[len(r.index)-1].Node
}

// Start returns the data-file offset of rev's chunk.
func (r *Revlog) Start(rev int) (int64, error) {
	e, err := r.Index(rev)
	if err != nil {
		return 0, err
	}
	return e.Offset, nil
}

// Length returns the stored size of rev's chunk.
func (r *Revlog) Length(rev int) (int64, error) {
	e, err := r.Index(rev)
	if err != nil {
		return 0, err
	}
	return int64(e.CompLen), nil
}

// Revision returns the full text of rev. The chunk is length-checked,
// decompressed and verified against the stored node hash; any mismatch
// is a corruption error.
func (r *Revlog) Revision(rev int) ([]byte, error) {
	e, err := r.Index(rev)
	if err != nil {
		return nil, err
	}
	if e.CompLen <= 0 {
		return nil, errors.Corruptionf("%s: rev %d has no chunk", r.indexName, rev)
	}
	chunk, err := r.fs.ReadRange(r.dataName, e.Offset, int64(e.CompLen))
	if err != nil {
		return nil, fmt.Errorf("reading %s chunk for rev %d: %w", r.dataName, rev, err)
	}
	if len(chunk) != e.CompLen {
		return nil, errors.Corruptionf("%s: truncated chunk for rev %d", r.dataName, rev)
	}
	text, err := r.decompress(chunk)
	if err != nil {
		return nil, errors.WrapCorruption(err, "%s: undecodable chunk for rev %d", r.dataName, rev)
	}
	if len(text) != e.UncompLen {
		return nil, errors.Corruptionf("%s: rev %d text is %d bytes, index says %d", r.indexName, rev, len(text), e.UncompLen)
	}
	p1, err := r.parentNode(e.P1)
	if err != nil {
		return nil, err
	}
	p2, err := r.parentNode(e.P2)
	if err != nil {
		return nil, err
	}
	if node.Hash(p1[:], p2[:], text) != e.Node {
		return nil, errors.Corruptionf("%s: integrity check failed on rev %d", r.indexName, rev)
	}
	return text, nil
}

// Append stores text as a new revision and returns its node. Parents may
// be node.Null; non-null parents must already be present. Appending an
// existing revision is a no-op.
func (r *Revlog) Append(text []byte, p1, p2 node.Node, linkrev int) (node.Node, error) {
	p1rev, err := r.revFor(p1)
	if err != nil {
		return node.Null, err
	}
	p2rev, err := r.revFor(p2)
	if err != nil {
		return node.Null, err
	}
	n := node.Hash(p1[:], p2[:], text)
	if _, ok := r.nodemap[n]; ok {
		return n, nil
	}

	chunk := r.compress(text)
	rev := len(r.index)
	e := IndexEntry{
		Offset:    r.dataEnd(),
		CompLen:   len(chunk),
		UncompLen: len(text),
		Base:      rev,
		LinkRev:   linkrev,
		P1:        p1rev,
		P2:        p2rev,
		Node:      n,
	}

	// Data first: a crash between the two writes leaves an unreferenced
	// chunk, never an index record without data.
	if err := r.appendFile(r.dataName, chunk); err != nil {
		return node.Null, err
	}
	rec := encodeEntry(e)
	if err := r.appendFile(r.indexName, rec[:]); err != nil {
		return node.Null, err
	}
	r.index = append(r.index, e)
	r.nodemap[n] = rev
	return n, nil
}

func (r *Revlog) Close() error {
	if r.dec != nil {
		r.dec.Close()
	}
	if r.enc != nil {
		return r.enc.Close()
	}
	return nil
}

func (r *Revlog) dataEnd() int64 {
	if len(r.index) == 0 {
		return 0
	}
	last := r.index[len(r.index)-1]
	return last.Offset + int64(last.CompLen)
}

func (r *Revlog) appendFile(name string, data []byte) error {
	f, err := r.fs.OpenAppend(name)
	if err != nil {
		return fmt.Errorf("opening %s: %w", name, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("appending to %s: %w", name, err)
	}
	return f.Close()
}

func (r *Revlog) revFor(n node.Node) (int, error) {
	if n.IsNull() {
		return -1, nil
	}
	rev, ok := r.nodemap[n]
	if !ok {
		return 0, fmt.Errorf("%s: unknown parent %s", r.indexName, n.Short())
	}
	return rev, nil
}

func (r *Revlog) parentNode(rev int) (node.Node, error) {
	if rev == -1 {
		return node.Null, nil
	}
	if rev < 0 || rev >= len(r.index) {
		return node.Null, errors.Corruptionf("%s: parent revision %d out of range", r.indexName, rev)
	}
	return r.index[rev].Node, nil
}

func (r *Revlog) compress(text []byte) []byte {
	if len(text) > 0 {
		z := r.enc.EncodeAll(text, make([]byte, 0, len(text)/2))
		if len(z) < len(text) {
			return append([]byte{tagZstd}, z...)
		}
	}
	return append([]byte{tagRaw}, text...)
}

func (r *Revlog) decompress(chunk []byte) ([]byte, error) {
	switch chunk[0] {
	case tagRaw:
		return chunk[1:], nil
	case tagZstd:
		return r.dec.DecodeAll(chunk[1:], nil)
	default:
		return nil, fmt.Errorf("unknown chunk tag %#x", chunk[0])
	}
}

func decodeEntry(b []byte) IndexEntry {
	word := binary.BigEndian.Uint64(b[0:8])
	var n node.Node
	copy(n[:], b[32:52])
	return IndexEntry{
		Offset:    int64(word >> 16),
		Flags:     uint16(word & 0xffff),
		CompLen:   int(binary.BigEndian.Uint32(b[8:12])),
		UncompLen: int(binary.BigEndian.Uint32(b[12:16])),
		Base:      int(int32(binary.BigEndian.Uint32(b[16:20]))),
		LinkRev:   int(int32(binary.BigEndian.Uint32(b[20:24]))),
		P1:        int(int32(binary.BigEndian.Uint32(b[24:28]))),
		P2:        int(int32(binary.BigEndian.Uint32(b[28:32]))),
		Node:      n,
	}
}

func encodeEntry(e IndexEntry) [IndexEntrySize]byte {
	var b [IndexEntrySize]byte
	binary.BigEndian.PutUint64(b[0:8], uint64(e.Offset)<<16|uint64(e.Flags))
	binary.BigEndian.PutUint32(b[8:12], uint32(e.CompLen))
	binary.BigEndian.PutUint32(b[12:16], uint32(e.UncompLen))
	binary.BigEndian.PutUint32(b[16:20], uint32(int32(e.Base)))
	binary.BigEndian.PutUint32(b[20:24], uint32(int32(e.LinkRev)))
	binary.BigEndian.PutUint32(b[24:28], uint32(int32(e.P1)))
	binary.BigEndian.PutUint32(b[28:32], uint32(int32(e.P2)))
	copy(b[32:52], e.Node[:])
	return b
}
