// Package treestate handles the working-copy pointer ("dirstate") and
// the snapshot files it points into.
//
// A snapshot file under .strata/treestate/ is append-only: opaque tree
// blocks interleaved with self-verifying root records. A root record is
//
//	version byte 0x00
//	uvarint metadata length
//	metadata blob ("key=value" pairs, sorted, joined with "&")
//	8-byte big-endian xxhash64 of everything above
//
// The dirstate file is p1 (20 bytes), p2 (20 bytes), a fixed header
// marker, then a metadata blob naming the snapshot file and root offset.
package treestate

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"

	"strata/internal/errors"
	"strata/internal/node"
	"strata/internal/vfs"
)

// Header separates the binary parents from the metadata blob in the
// dirstate file.
const Header = "\ntreestate\n\x00"

// Dir is the repo-relative directory holding snapshot files.
const Dir = "treestate"

// DefaultScanWindow bounds how far before a "p1=" marker a root record
// is searched for. Root metadata is small, so a valid root's version
// byte sits within this many bytes of its own "p1=" text.
const DefaultScanWindow = 300

const (
	rootVersion  = 0x00
	checksumSize = 8
)

func packMetadata(meta map[string]string) []byte {
	keys := make([]string, 0, len(meta))
	for k, v := range meta {
		if v == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, len(keys))
	for i, k := range keys {
		pairs[i] = k + "=" + meta[k]
	}
	return []byte(strings.Join(pairs, "&"))
}

func unpackMetadata(data []byte) (map[string]string, error) {
	meta := make(map[string]string)
	for _, entry := range strings.Split(string(data), "&") {
		if entry == "" {
			continue
		}
		k, v, ok := strings.Cut(entry, "=")
		if !ok {
			return nil, fmt.Errorf("malformed metadata entry %q", entry)
		}
		meta[k] = v
	}
	return meta, nil
}

// EncodeRoot serializes a root record for the given metadata.
func EncodeRoot(meta map[string]string) []byte {
	blob := packMetadata(meta)
	buf := make([]byte, 0, 1+binary.MaxVarintLen64+len(blob)+checksumSize)
	buf = append(buf, rootVersion)
	buf = binary.AppendUvarint(buf, uint64(len(blob)))
	buf = append(buf, blob...)
	sum := xxhash.Sum64(buf)
	return binary.BigEndian.AppendUint64(buf, sum)
}

// DecodeRoot parses and verifies the root record at offset, returning
// its metadata. Any structural or checksum problem is a corruption
// error.
func DecodeRoot(data []byte, offset int) (map[string]string, error) {
	if offset < 0 || offset >= len(data) {
		return nil, errors.Corruptionf("root offset %d out of range", offset)
	}
	if data[offset] != rootVersion {
		return nil, errors.Corruptionf("unsupported root version %#x at offset %d", data[offset], offset)
	}
	metaLen, n := binary.Uvarint(data[offset+1:])
	if n <= 0 {
		return nil, errors.Corruptionf("bad root length at offset %d", offset)
	}
	metaStart := offset + 1 + n
	metaEnd := metaStart + int(metaLen)
	if metaLen > uint64(len(data)) || metaEnd+checksumSize > len(data) {
		return nil, errors.Corruptionf("truncated root at offset %d", offset)
	}
	sum := xxhash.Sum64(data[offset:metaEnd])
	if stored := binary.BigEndian.Uint64(data[metaEnd : metaEnd+checksumSize]); stored != sum {
		return nil, errors.Corruptionf("root checksum mismatch at offset %d", offset)
	}
	meta, err := unpackMetadata(data[metaStart:metaEnd])
	if err != nil {
		return nil, errors.WrapCorruption(err, "root at offset %d", offset)
	}
	return meta, nil
}

// ScanRoots emits candidate root offsets, best first. Root metadata
// always contains "p1=", so the scan walks the file backwards marker by
// marker and, for each, offers every possible version byte within
// window bytes before it, in ascending order. visit returns false to
// stop. Validation is the caller's job: a candidate is only likely,
// "p1=" can also appear inside tree blocks.
func ScanRoots(data []byte, window int, visit func(offset int) bool) {
	if window <= 0 {
		window = DefaultScanWindow
	}
	marker := []byte("p1=")
	end := len(data)
	for {
		p1pos := bytes.LastIndex(data[:end], marker)
		if p1pos < 0 {
			return
		}
		end = max(p1pos, window) - window
		for pos := end; pos < p1pos; pos++ {
			if data[pos] != rootVersion {
				continue
			}
			if !visit(pos) {
				return
			}
		}
	}
}

// WriteSnapshot appends opaque tree blocks and one root record to the
// named snapshot file, creating it if needed, and returns the offset of
// the root record.
func WriteSnapshot(fs *vfs.FS, name string, blocks [][]byte, meta map[string]string) (int, error) {
	rel := Dir + "/" + name
	var offset int64
	if size, err := fs.Size(rel); err == nil {
		offset = size
	}
	f, err := fs.OpenAppend(rel)
	if err != nil {
		return 0, fmt.Errorf("opening snapshot %s: %w", name, err)
	}
	defer f.Close()

	for _, b := range blocks {
		n, err := f.Write(b)
		if err != nil {
			return 0, fmt.Errorf("writing snapshot %s: %w", name, err)
		}
		offset += int64(n)
	}
	if _, err := f.Write(EncodeRoot(meta)); err != nil {
		return 0, fmt.Errorf("writing snapshot root %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		return 0, fmt.Errorf("closing snapshot %s: %w", name, err)
	}
	return int(offset), nil
}

// Dirstate is the decoded working-copy pointer.
type Dirstate struct {
	P1       node.Node
	P2       node.Node
	Metadata map[string]string
}

// ReadDirstate parses the dirstate file.
func ReadDirstate(fs *vfs.FS) (*Dirstate, error) {
	data, err := fs.ReadFile("dirstate")
	if err != nil {
		return nil, fmt.Errorf("reading dirstate: %w", err)
	}
	if len(data) < 2*node.Size+len(Header) {
		return nil, errors.Corruptionf("dirstate is %d bytes, too short", len(data))
	}
	d := &Dirstate{}
	copy(d.P1[:], data[:node.Size])
	copy(d.P2[:], data[node.Size:2*node.Size])
	rest := data[2*node.Size:]
	if !bytes.HasPrefix(rest, []byte(Header)) {
		return nil, errors.Corruptionf("dirstate header marker missing")
	}
	meta, err := unpackMetadata(rest[len(Header):])
	if err != nil {
		return nil, errors.WrapCorruption(err, "dirstate metadata")
	}
	d.Metadata = meta
	return d, nil
}

// WriteDirstate atomically replaces the dirstate file.
func WriteDirstate(fs *vfs.FS, d *Dirstate) error {
	buf := make([]byte, 0, 2*node.Size+len(Header)+64)
	buf = append(buf, d.P1[:]...)
	buf = append(buf, d.P2[:]...)
	buf = append(buf, Header...)
	buf = append(buf, packMetadata(d.Metadata)...)
	if err := fs.WriteAtomic("dirstate", buf); err != nil {
		return fmt.Errorf("writing dirstate: %w", err)
	}
	return nil
}

// OpenRoot follows the pointer's filename/rootid metadata to the
// snapshot root it designates and returns that root's metadata.
func (d *Dirstate) OpenRoot(fs *vfs.FS) (map[string]string, error) {
	filename := d.Metadata["filename"]
	if filename == "" {
		return nil, errors.Corruptionf("dirstate names no snapshot file")
	}
	rootid, err := strconv.Atoi(d.Metadata["rootid"])
	if err != nil {
		return nil, errors.Corruptionf("dirstate has bad rootid %q", d.Metadata["rootid"])
	}
	data, err := fs.ReadFile(Dir + "/" + filename)
	if err != nil {
		return nil, fmt.Errorf("reading snapshot %s: %w", filename, err)
	}
	meta, err := DecodeRoot(data, rootid)
	if err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", filename, err)
	}
	return meta, nil
}
