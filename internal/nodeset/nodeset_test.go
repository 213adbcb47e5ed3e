package nodeset

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"strata/internal/node"
)

func TestAddContains(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "allheads")
	set, err := Open(dir)
	require.NoError(t, err)
	defer set.Close()

	a := node.Hash([]byte("a"))
	b := node.Hash([]byte("b"))

	require.NoError(t, set.Add(a))
	assert.True(t, set.Contains(a))
	assert.False(t, set.Contains(b))
	assert.Equal(t, 1, set.Len())

	// Duplicate adds do not grow the set.
	require.NoError(t, set.Add(a))
	assert.Equal(t, 1, set.Len())
}

func TestReopenKeepsNodes(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "allheads")
	set, err := Open(dir)
	require.NoError(t, err)

	nodes := []node.Node{
		node.Hash([]byte("x")),
		node.Hash([]byte("y")),
		node.Hash([]byte("z")),
	}
	for _, n := range nodes {
		require.NoError(t, set.Add(n))
	}
	require.NoError(t, set.Flush())
	require.NoError(t, set.Close())

	reopened, err := Open(dir)
	require.NoError(t, err)
	defer reopened.Close()

	assert.Equal(t, 3, reopened.Len())
	for _, n := range nodes {
		assert.True(t, reopened.Contains(n))
	}
}

func TestOpenRejectsShortEntry(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "allheads")
	set, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, set.Add(node.Hash([]byte("ok"))))
	require.NoError(t, set.Close())

	// A valid record whose payload is not a node is still a defect.
	raw, err := Open(dir)
	require.NoError(t, err)
	_, err = raw.log.Append([]byte("stub"))
	require.NoError(t, err)
	require.NoError(t, raw.Close())

	_, err = Open(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "node set entry")
}

func TestRepairTornLog(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "allheads")
	set, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, set.Add(node.Hash([]byte("keep"))))
	require.NoError(t, set.Add(node.Hash([]byte("lost"))))
	require.NoError(t, set.Close())

	logPath := filepath.Join(dir, "log")
	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	require.NoError(t, os.Truncate(logPath, int64(len(data)-5)))

	msg, err := Repair(dir)
	require.NoError(t, err)
	assert.Contains(t, msg, "truncated")

	reopened, err := Open(dir)
	require.NoError(t, err)
	defer reopened.Close()
	assert.True(t, reopened.Contains(node.Hash([]byte("keep"))))
	assert.False(t, reopened.Contains(node.Hash([]byte("lost"))))
	assert.Equal(t, 1, reopened.Len())
}
