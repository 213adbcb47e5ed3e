package repair

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"strata/internal/errors"
	"strata/internal/vfs"
)

func TestTruncateBacksUpTail(t *testing.T) {
	fs := vfs.New(t.TempDir())
	data := make([]byte, 100)
	for i := range data {
		data[i] = byte(i)
	}
	require.NoError(t, fs.WriteFile("00changelog.d", data))

	u, out, _ := newTestUI()
	require.NoError(t, Truncate(u, fs, "00changelog.d", 60, TruncateOptions{BackupPrefix: "fix."}))

	got, err := fs.ReadFile("00changelog.d")
	require.NoError(t, err)
	assert.Equal(t, data[:60], got)

	backup, err := fs.ReadFile("truncate-backups/fix.00changelog.d.backup-byte-60-to-100")
	require.NoError(t, err)
	assert.Equal(t, data[60:], backup)

	assert.Contains(t, out.String(), "truncating 00changelog.d from 100 to 60 bytes")
}

func TestTruncateEqualSizeIsNoop(t *testing.T) {
	fs := vfs.New(t.TempDir())
	require.NoError(t, fs.WriteFile("f", make([]byte, 40)))

	u, out, errOut := newTestUI()
	require.NoError(t, Truncate(u, fs, "f", 40, TruncateOptions{}))

	assert.Zero(t, out.Len())
	assert.Zero(t, errOut.Len())
	assert.False(t, fs.Exists(backupDir))
}

func TestTruncateRefusesGrowth(t *testing.T) {
	fs := vfs.New(t.TempDir())
	require.NoError(t, fs.WriteFile("f", make([]byte, 40)))

	u, out, _ := newTestUI()
	err := Truncate(u, fs, "f", 80, TruncateOptions{})
	require.Error(t, err)
	assert.True(t, errors.IsAbort(err))
	assert.Contains(t, err.Error(), "f: bad truncation request: 40 to 80 bytes")

	size, err := fs.Size("f")
	require.NoError(t, err)
	assert.Equal(t, int64(40), size)
	assert.Zero(t, out.Len())
}

func TestTruncateDryRun(t *testing.T) {
	fs := vfs.New(t.TempDir())
	require.NoError(t, fs.WriteFile("f", make([]byte, 100)))

	u, out, _ := newTestUI()
	require.NoError(t, Truncate(u, fs, "f", 60, TruncateOptions{DryRun: true}))

	assert.Contains(t, out.String(), "truncating f from 100 to 60 bytes")
	size, err := fs.Size("f")
	require.NoError(t, err)
	assert.Equal(t, int64(100), size)
	assert.False(t, fs.Exists(backupDir))
}

func TestTruncateMissingFile(t *testing.T) {
	fs := vfs.New(t.TempDir())
	u, _, _ := newTestUI()
	assert.Error(t, Truncate(u, fs, "absent", 0, TruncateOptions{}))
}
