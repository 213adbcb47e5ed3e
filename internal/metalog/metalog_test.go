package metalog

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupLog(t *testing.T) (string, *Log) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "metalog")
	log, err := Open(dir)
	require.NoError(t, err)
	return dir, log
}

func TestGetMissingKey(t *testing.T) {
	_, log := setupLog(t)
	defer log.Close()

	_, err := log.Get("visibleheads")
	assert.True(t, errors.Is(err, ErrKeyNotFound))
}

func TestStagedValuesInvisibleUntilCommit(t *testing.T) {
	dir, log := setupLog(t)

	log.Set("visibleheads", []byte("v1\n"))
	assert.True(t, log.Pending())

	// The writer sees its own staged value.
	v, err := log.Get("visibleheads")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1\n"), v)

	// Nothing is durable yet.
	keys, err := log.Keys()
	require.NoError(t, err)
	assert.Empty(t, keys)

	require.NoError(t, log.Close())
	reopened, err := Open(dir)
	require.NoError(t, err)
	defer reopened.Close()

	_, err = reopened.Get("visibleheads")
	assert.True(t, errors.Is(err, ErrKeyNotFound))
}

func TestCommitAppliesAllKeys(t *testing.T) {
	dir, log := setupLog(t)

	log.Set("visibleheads", []byte("v1\nabc\n"))
	log.Set("bookmarks", []byte("main abc\n"))
	require.NoError(t, log.Commit("initial state"))
	assert.False(t, log.Pending())
	require.NoError(t, log.Close())

	reopened, err := Open(dir)
	require.NoError(t, err)
	defer reopened.Close()

	heads, err := reopened.Get("visibleheads")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1\nabc\n"), heads)

	keys, err := reopened.Keys()
	require.NoError(t, err)
	assert.Equal(t, []string{"bookmarks", "visibleheads"}, keys)

	commits, err := reopened.Commits()
	require.NoError(t, err)
	require.Len(t, commits, 1)
	assert.Equal(t, "initial state", commits[0].Message)
	assert.Equal(t, []string{"bookmarks", "visibleheads"}, commits[0].Keys)
	assert.NotEmpty(t, commits[0].ID)
}

func TestCommitOverwrites(t *testing.T) {
	_, log := setupLog(t)
	defer log.Close()

	log.Set("visibleheads", []byte("v1\n"))
	require.NoError(t, log.Commit("first"))
	log.Set("visibleheads", []byte("v1\nabc\n"))
	require.NoError(t, log.Commit("second"))

	v, err := log.Get("visibleheads")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1\nabc\n"), v)

	commits, err := log.Commits()
	require.NoError(t, err)
	assert.Len(t, commits, 2)
}

func TestRepairReportsKeyCount(t *testing.T) {
	dir, log := setupLog(t)
	log.Set("visibleheads", []byte("v1\n"))
	log.Set("bookmarks", []byte(""))
	require.NoError(t, log.Commit("seed"))
	require.NoError(t, log.Close())

	msg, err := Repair(dir)
	require.NoError(t, err)
	assert.Equal(t, "verified key-value store (2 keys)", msg)
}
