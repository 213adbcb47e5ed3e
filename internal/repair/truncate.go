package repair

import (
	"fmt"

	"strata/internal/errors"
	"strata/internal/ui"
	"strata/internal/vfs"
)

// backupDir collects the tails removed by Truncate so a bad repair can
// be undone by hand.
const backupDir = "truncate-backups"

// TruncateOptions tunes Truncate.
type TruncateOptions struct {
	// DryRun reports what would happen without touching the file.
	DryRun bool

	// BackupPrefix is prepended to the backup file name so related
	// truncations (an index and its data file) group together.
	BackupPrefix string
}

// Truncate shortens name to size bytes, saving the removed tail under
// truncate-backups first. Equal size is a no-op. Growing is refused:
// repair only ever discards trailing garbage, never invents bytes.
func Truncate(u *ui.UI, fs *vfs.FS, name string, size int64, opts TruncateOptions) error {
	oldSize, err := fs.Size(name)
	if err != nil {
		return fmt.Errorf("truncating %s: %w", name, err)
	}
	if oldSize == size {
		return nil
	}
	if oldSize < size {
		return errors.Abortf("%s: bad truncation request: %d to %d bytes", name, oldSize, size)
	}
	u.Writef("truncating %s from %d to %d bytes\n", name, oldSize, size)
	if opts.DryRun {
		return nil
	}

	tail, err := fs.ReadRange(name, size, oldSize-size)
	if err != nil {
		return fmt.Errorf("reading tail of %s: %w", name, err)
	}
	if int64(len(tail)) != oldSize-size {
		return errors.Abortf("truncate: cannot backup confidently")
	}
	backup := fmt.Sprintf("%s/%s%s.backup-byte-%d-to-%d",
		backupDir, opts.BackupPrefix, vfs.Basename(name), size, oldSize)
	if err := fs.WriteFile(backup, tail); err != nil {
		return fmt.Errorf("writing backup %s: %w", backup, err)
	}
	if err := fs.Truncate(name, size); err != nil {
		return fmt.Errorf("truncating %s: %w", name, err)
	}
	return nil
}
