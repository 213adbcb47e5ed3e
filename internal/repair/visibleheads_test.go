package repair

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"strata/internal/metalog"
	"strata/internal/node"
	"strata/internal/revlog"
	"strata/internal/vfs"
)

func setupHeadsRepair(t *testing.T, commits int) (*metalog.Log, *revlog.Revlog, []node.Node) {
	t.Helper()
	fs := vfs.New(t.TempDir())
	nodes := buildChangelog(t, fs, commits)
	cl, err := revlog.Open(fs, ChangelogName)
	require.NoError(t, err)
	t.Cleanup(func() { cl.Close() })

	ml, err := metalog.Open(filepath.Join(t.TempDir(), "metalog"))
	require.NoError(t, err)
	t.Cleanup(func() { ml.Close() })
	return ml, cl, nodes
}

func setHeads(t *testing.T, ml *metalog.Log, lines ...string) {
	t.Helper()
	ml.Set("visibleheads", []byte(strings.Join(lines, "\n")+"\n"))
	require.NoError(t, ml.Commit("test setup"))
}

func TestRepairVisibleHeadsRemovesBogus(t *testing.T) {
	ml, cl, nodes := setupHeadsRepair(t, 3)
	bogus := strings.Repeat("ab", 20)
	setHeads(t, ml, "v1", nodes[1].Hex(), bogus)

	u, _, errOut := newTestUI()
	require.NoError(t, RepairVisibleHeads(u, ml, cl, false))

	v, err := ml.Get("visibleheads")
	require.NoError(t, err)
	assert.Equal(t, "v1\n"+nodes[1].Hex()+"\n"+nodes[2].Hex()+"\n", string(v))
	assert.Contains(t, errOut.String(), "visibleheads: removed 1 heads, added tip")

	commits, err := ml.Commits()
	require.NoError(t, err)
	var messages []string
	for _, c := range commits {
		messages = append(messages, c.Message)
	}
	assert.Contains(t, messages, "fix visibleheads")
}

func TestRepairVisibleHeadsMalformedEntries(t *testing.T) {
	ml, cl, nodes := setupHeadsRepair(t, 2)
	setHeads(t, ml, "v1", "abc", strings.Repeat("zz", 20), nodes[1].Hex())

	u, _, errOut := newTestUI()
	require.NoError(t, RepairVisibleHeads(u, ml, cl, false))

	v, err := ml.Get("visibleheads")
	require.NoError(t, err)
	assert.Equal(t, "v1\n"+nodes[1].Hex()+"\n", string(v))
	assert.Contains(t, errOut.String(), "visibleheads: removed 2 heads")
}

func TestRepairVisibleHeadsLooksOkay(t *testing.T) {
	ml, cl, nodes := setupHeadsRepair(t, 2)
	setHeads(t, ml, "v1", nodes[1].Hex())

	u, _, errOut := newTestUI()
	require.NoError(t, RepairVisibleHeads(u, ml, cl, false))

	v, err := ml.Get("visibleheads")
	require.NoError(t, err)
	assert.Equal(t, "v1\n"+nodes[1].Hex()+"\n", string(v))
	assert.Contains(t, errOut.String(), "visibleheads: looks okay")
}

func TestRepairVisibleHeadsIdempotent(t *testing.T) {
	ml, cl, nodes := setupHeadsRepair(t, 3)
	setHeads(t, ml, "v1", strings.Repeat("cd", 20))

	u, _, _ := newTestUI()
	require.NoError(t, RepairVisibleHeads(u, ml, cl, false))
	fixed, err := ml.Get("visibleheads")
	require.NoError(t, err)
	assert.Equal(t, "v1\n"+nodes[2].Hex()+"\n", string(fixed))

	u2, _, errOut := newTestUI()
	require.NoError(t, RepairVisibleHeads(u2, ml, cl, false))
	again, err := ml.Get("visibleheads")
	require.NoError(t, err)
	assert.Equal(t, string(fixed), string(again))
	assert.Contains(t, errOut.String(), "visibleheads: looks okay")
}

func TestRepairVisibleHeadsSkipsOtherFormats(t *testing.T) {
	t.Run("unknown version", func(t *testing.T) {
		ml, cl, _ := setupHeadsRepair(t, 2)
		setHeads(t, ml, "v2", strings.Repeat("ef", 20))

		u, _, errOut := newTestUI()
		require.NoError(t, RepairVisibleHeads(u, ml, cl, false))

		v, err := ml.Get("visibleheads")
		require.NoError(t, err)
		assert.Equal(t, "v2\n"+strings.Repeat("ef", 20)+"\n", string(v))
		assert.Contains(t, errOut.String(), "visibleheads: skipped")
	})

	t.Run("missing key", func(t *testing.T) {
		ml, cl, _ := setupHeadsRepair(t, 2)

		u, _, errOut := newTestUI()
		require.NoError(t, RepairVisibleHeads(u, ml, cl, false))

		_, err := ml.Get("visibleheads")
		assert.True(t, errors.Is(err, metalog.ErrKeyNotFound))
		assert.Contains(t, errOut.String(), "visibleheads: skipped")
	})
}

func TestRepairVisibleHeadsEmptyChangelog(t *testing.T) {
	ml, cl, _ := setupHeadsRepair(t, 0)
	setHeads(t, ml, "v1", strings.Repeat("ab", 20))

	u, _, errOut := newTestUI()
	require.NoError(t, RepairVisibleHeads(u, ml, cl, false))

	// No tip exists to add; the repaired list is just the header.
	v, err := ml.Get("visibleheads")
	require.NoError(t, err)
	assert.Equal(t, "v1\n", string(v))
	assert.Contains(t, errOut.String(), "visibleheads: removed 1 heads\n")
	assert.NotContains(t, errOut.String(), "added tip")
}

func TestRepairVisibleHeadsDryRun(t *testing.T) {
	ml, cl, nodes := setupHeadsRepair(t, 2)
	before := "v1\n" + strings.Repeat("ab", 20) + "\n" + nodes[0].Hex() + "\n"
	ml.Set("visibleheads", []byte(before))
	require.NoError(t, ml.Commit("test setup"))

	u, _, errOut := newTestUI()
	require.NoError(t, RepairVisibleHeads(u, ml, cl, true))

	v, err := ml.Get("visibleheads")
	require.NoError(t, err)
	assert.Equal(t, before, string(v))
	assert.Contains(t, errOut.String(), "visibleheads: would remove 1 heads")
}
