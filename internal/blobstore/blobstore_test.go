package blobstore

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	stratarrors "strata/internal/errors"
	"strata/internal/node"
	"strata/internal/recordlog"
)

func setupData(t *testing.T) (string, *DataStore) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "datastore")
	store, err := OpenData(dir, Options{CacheSize: 4})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return dir, store
}

func TestPutGet(t *testing.T) {
	_, store := setupData(t)

	content := []byte("fn main() {}\n")
	n, err := store.Put(content)
	require.NoError(t, err)
	assert.Equal(t, node.Hash(content), n)
	assert.True(t, store.Has(n))

	got, err := store.Get(n)
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestPutDedupes(t *testing.T) {
	_, store := setupData(t)

	content := []byte("same bytes")
	n1, err := store.Put(content)
	require.NoError(t, err)
	n2, err := store.Put(content)
	require.NoError(t, err)

	assert.Equal(t, n1, n2)
	assert.Equal(t, 1, store.Len())
}

func TestGetMissing(t *testing.T) {
	_, store := setupData(t)

	_, err := store.Get(node.Hash([]byte("never stored")))
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestLargeContentRoundTrip(t *testing.T) {
	dir, store := setupData(t)

	content := bytes.Repeat([]byte("compressible line\n"), 500)
	n, err := store.Put(content)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	// A fresh open reads from disk, not the write-through cache.
	reopened, err := OpenData(dir, Options{})
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Get(n)
	require.NoError(t, err)
	assert.Equal(t, content, got)

	// The stored record is smaller than the content it holds.
	size, err := os.Stat(filepath.Join(dir, "log"))
	require.NoError(t, err)
	assert.Less(t, size.Size(), int64(len(content)))
}

func TestGetDetectsDamage(t *testing.T) {
	t.Run("record checksum catches a flipped byte", func(t *testing.T) {
		dir, store := setupData(t)
		n, err := store.Put([]byte("short and raw"))
		require.NoError(t, err)
		require.NoError(t, store.Close())

		logPath := filepath.Join(dir, "log")
		data, err := os.ReadFile(logPath)
		require.NoError(t, err)
		data[len(data)-10] ^= 0xff
		require.NoError(t, os.WriteFile(logPath, data, 0644))

		reopened, err := OpenData(dir, Options{})
		require.NoError(t, err)
		defer reopened.Close()

		_, err = reopened.Get(n)
		require.Error(t, err)
		assert.True(t, stratarrors.IsCorruption(err))
	})

	t.Run("content hash catches a mislabeled payload", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "datastore")
		wrong := node.Hash([]byte("claimed identity"))
		payload := append(append([]byte(nil), wrong[:]...), 0x00)
		payload = append(payload, "actual bytes"...)

		log, err := recordlog.Open(dir)
		require.NoError(t, err)
		_, err = log.Append(payload)
		require.NoError(t, err)
		require.NoError(t, log.Close())

		store, err := OpenData(dir, Options{})
		require.NoError(t, err)
		defer store.Close()

		_, err = store.Get(wrong)
		require.Error(t, err)
		assert.True(t, stratarrors.IsCorruption(err))
		assert.Contains(t, err.Error(), "content hash mismatch")
	})
}

func TestRepairDataTruncatesTornTail(t *testing.T) {
	dir, store := setupData(t)

	keep, err := store.Put([]byte("keep me"))
	require.NoError(t, err)
	_, err = store.Put([]byte("about to be torn"))
	require.NoError(t, err)
	require.NoError(t, store.Close())

	logPath := filepath.Join(dir, "log")
	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	require.NoError(t, os.Truncate(logPath, int64(len(data)-6)))

	msg, err := RepairData(dir)
	require.NoError(t, err)
	assert.Contains(t, msg, "truncated")

	reopened, err := OpenData(dir, Options{})
	require.NoError(t, err)
	defer reopened.Close()
	assert.True(t, reopened.Has(keep))
	assert.Equal(t, 1, reopened.Len())
}

func TestHistoryStore(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "historystore")
	store, err := OpenHistory(dir)
	require.NoError(t, err)

	e := HistoryEntry{
		Node:     node.Hash([]byte("content")),
		P1:       node.Hash([]byte("parent")),
		P2:       node.Null,
		LinkNode: node.Hash([]byte("commit")),
	}
	require.NoError(t, store.Add(e))

	got, err := store.Get(e.Node)
	require.NoError(t, err)
	assert.Equal(t, e, got)

	_, err = store.Get(node.Hash([]byte("elsewhere")))
	assert.True(t, errors.Is(err, ErrNotFound))

	require.NoError(t, store.Close())

	reopened, err := OpenHistory(dir)
	require.NoError(t, err)
	defer reopened.Close()
	assert.Equal(t, 1, reopened.Len())
	got, err = reopened.Get(e.Node)
	require.NoError(t, err)
	assert.Equal(t, e, got)
}
