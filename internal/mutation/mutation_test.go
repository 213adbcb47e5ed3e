package mutation

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"strata/internal/node"
)

func TestAddAndEntries(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "mutation")
	store, err := Open(dir)
	require.NoError(t, err)
	defer store.Close()

	first := Entry{
		Succ:  node.Hash([]byte("new")),
		Preds: []node.Node{node.Hash([]byte("old"))},
		Op:    "amend",
		User:  "test",
		Time:  1700000000,
	}
	second := Entry{
		Succ:  node.Hash([]byte("folded")),
		Preds: []node.Node{node.Hash([]byte("a")), node.Hash([]byte("b"))},
		Op:    "fold",
		User:  "test",
		Time:  1700000001,
	}
	require.NoError(t, store.Add(first))
	require.NoError(t, store.Add(second))

	entries, err := store.Entries()
	require.NoError(t, err)
	assert.Equal(t, []Entry{first, second}, entries)
}

func TestReopenKeepsEntries(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "mutation")
	store, err := Open(dir)
	require.NoError(t, err)
	e := Entry{Succ: node.Hash([]byte("s")), Op: "rebase", User: "test", Time: 1}
	require.NoError(t, store.Add(e))
	require.NoError(t, store.Close())

	reopened, err := Open(dir)
	require.NoError(t, err)
	defer reopened.Close()

	entries, err := reopened.Entries()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "rebase", entries[0].Op)
}

func TestRepairTruncatesTornEntry(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "mutation")
	store, err := Open(dir)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		require.NoError(t, store.Add(Entry{Succ: node.Hash([]byte{byte(i)}), Op: "amend", User: "test", Time: int64(i)}))
	}
	require.NoError(t, store.Close())

	// Chop the final entry in half.
	logPath := filepath.Join(dir, "log")
	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	require.NoError(t, os.Truncate(logPath, int64(len(data)-10)))

	msg, err := Repair(dir)
	require.NoError(t, err)
	assert.Contains(t, msg, "truncated")

	reopened, err := Open(dir)
	require.NoError(t, err)
	defer reopened.Close()

	entries, err := reopened.Entries()
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}
