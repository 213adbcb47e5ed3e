// Package recordlog implements an append-only log of checksummed
// records, the storage base for the mutation, head-set and content
// stores. Torn writes at the tail (the usual aftermath of a hard reboot)
// are detected by checksum and healed by Repair.
//
// On disk a log is a directory holding a single "log" file:
//
//	8 bytes   magic "strlog\x00\x01"
//	records   uvarint payload length | payload | 8-byte xxhash64(payload)
package recordlog

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/cespare/xxhash/v2"

	"strata/internal/errors"
)

var magic = []byte("strlog\x00\x01")

const (
	logName      = "log"
	checksumSize = 8

	// maxPayload guards length decoding against garbage: no single
	// record is anywhere near this large.
	maxPayload = 1 << 30
)

// Log is an append-only record log rooted at a directory.
type Log struct {
	dir  string
	f    *os.File
	size int64
}

// Open opens the log under dir, creating an empty one if missing. The
// header is validated; record contents are checked lazily during reads.
func Open(dir string) (*Log, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}
	path := filepath.Join(dir, logName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening log: %w", err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat log: %w", err)
	}
	size := st.Size()
	if size == 0 {
		if _, err := f.Write(magic); err != nil {
			f.Close()
			return nil, fmt.Errorf("writing log header: %w", err)
		}
		size = int64(len(magic))
	} else {
		hdr := make([]byte, len(magic))
		rf, err := os.Open(path)
		if err != nil {
			f.Close()
			return nil, err
		}
		_, rerr := io.ReadFull(rf, hdr)
		rf.Close()
		if rerr != nil || !bytes.Equal(hdr, magic) {
			f.Close()
			return nil, errors.Corruptionf("record log %s: bad header", dir)
		}
	}
	return &Log{dir: dir, f: f, size: size}, nil
}

func (l *Log) Dir() string { return l.dir }

// Append adds one record and returns its byte offset in the log file.
func (l *Log) Append(payload []byte) (int64, error) {
	var lenbuf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(lenbuf[:], uint64(len(payload)))

	rec := make([]byte, 0, n+len(payload)+checksumSize)
	rec = append(rec, lenbuf[:n]...)
	rec = append(rec, payload...)
	var sum [checksumSize]byte
	binary.BigEndian.PutUint64(sum[:], xxhash.Sum64(payload))
	rec = append(rec, sum[:]...)

	offset := l.size
	if _, err := l.f.Write(rec); err != nil {
		return 0, fmt.Errorf("appending record: %w", err)
	}
	l.size += int64(len(rec))
	return offset, nil
}

// Iter calls fn for each record with its byte offset. It stops at the
// first corrupt record with a corruption error.
func (l *Log) Iter(fn func(offset int64, payload []byte) error) error {
	data, err := os.ReadFile(filepath.Join(l.dir, logName))
	if err != nil {
		return fmt.Errorf("reading log: %w", err)
	}
	pos := int64(len(magic))
	for pos < int64(len(data)) {
		payload, next, err := decodeRecord(data, pos)
		if err != nil {
			return err
		}
		if err := fn(pos, payload); err != nil {
			return err
		}
		pos = next
	}
	return nil
}

// ReadRecord returns the payload of the record starting at offset.
func (l *Log) ReadRecord(offset int64) ([]byte, error) {
	f, err := os.Open(filepath.Join(l.dir, logName))
	if err != nil {
		return nil, fmt.Errorf("opening log: %w", err)
	}
	defer f.Close()

	var lenbuf [binary.MaxVarintLen64]byte
	n, err := f.ReadAt(lenbuf[:], offset)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("reading record length: %w", err)
	}
	plen, vn := binary.Uvarint(lenbuf[:n])
	if vn <= 0 || plen > maxPayload {
		return nil, errors.Corruptionf("record log %s: bad length at byte %d", l.dir, offset)
	}
	buf := make([]byte, plen+checksumSize)
	if _, err := f.ReadAt(buf, offset+int64(vn)); err != nil {
		return nil, errors.Corruptionf("record log %s: truncated record at byte %d", l.dir, offset)
	}
	payload := buf[:plen]
	want := binary.BigEndian.Uint64(buf[plen:])
	if xxhash.Sum64(payload) != want {
		return nil, errors.Corruptionf("record log %s: checksum mismatch at byte %d", l.dir, offset)
	}
	return payload, nil
}

// Sync flushes appended records to stable storage.
func (l *Log) Sync() error {
	return l.f.Sync()
}

func (l *Log) Close() error {
	return l.f.Close()
}

// decodeRecord parses the record at pos, returning its payload and the
// offset of the next record.
func decodeRecord(data []byte, pos int64) ([]byte, int64, error) {
	plen, n := binary.Uvarint(data[pos:])
	if n <= 0 || plen > maxPayload {
		return nil, 0, errors.Corruptionf("record log: bad length at byte %d", pos)
	}
	start := pos + int64(n)
	end := start + int64(plen)
	if end+checksumSize > int64(len(data)) {
		return nil, 0, errors.Corruptionf("record log: truncated record at byte %d", pos)
	}
	payload := data[start:end]
	want := binary.BigEndian.Uint64(data[end : end+checksumSize])
	if xxhash.Sum64(payload) != want {
		return nil, 0, errors.Corruptionf("record log: checksum mismatch at byte %d", pos)
	}
	return payload, end + checksumSize, nil
}

// Repair makes the log under dir openable again: it verifies records
// from the start and truncates at the first bad one, saving the removed
// suffix next to the log. A missing log is initialized empty. It returns
// a human-readable account of what was done.
func Repair(dir string) (string, error) {
	path := filepath.Join(dir, logName)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return "", fmt.Errorf("creating log directory: %w", err)
		}
		if err := os.WriteFile(path, magic, 0644); err != nil {
			return "", fmt.Errorf("initializing log: %w", err)
		}
		return "initialized new log", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading log: %w", err)
	}

	if len(data) < len(magic) || !bytes.Equal(data[:len(magic)], magic) {
		if err := backupSuffix(path, data, 0); err != nil {
			return "", err
		}
		if err := os.WriteFile(path, magic, 0644); err != nil {
			return "", fmt.Errorf("resetting log: %w", err)
		}
		return fmt.Sprintf("reset log with bad header (%d bytes saved)", len(data)), nil
	}

	pos := int64(len(magic))
	count := 0
	for pos < int64(len(data)) {
		_, next, err := decodeRecord(data, pos)
		if err != nil {
			break
		}
		pos = next
		count++
	}
	if pos == int64(len(data)) {
		return fmt.Sprintf("verified %d records, %d bytes", count, pos), nil
	}

	if err := backupSuffix(path, data, pos); err != nil {
		return "", err
	}
	if err := os.Truncate(path, pos); err != nil {
		return "", fmt.Errorf("truncating log: %w", err)
	}
	return fmt.Sprintf("truncated log from %d to %d bytes (%d records kept)", len(data), pos, count), nil
}

func backupSuffix(path string, data []byte, from int64) error {
	backup := fmt.Sprintf("%s.corrupt-%d", path, time.Now().Unix())
	if err := os.WriteFile(backup, data[from:], 0644); err != nil {
		return fmt.Errorf("backing up corrupt bytes: %w", err)
	}
	return nil
}
