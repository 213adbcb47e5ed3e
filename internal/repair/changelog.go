package repair

import (
	"strata/internal/revlog"
	"strata/internal/ui"
	"strata/internal/vfs"
)

// ChangelogName is the index file of the commit log inside the store.
const ChangelogName = "00changelog.i"

// RepairChangelog attempts to fix the commit log by cutting bad data
// off its end. That is the only corruption it handles; anything beyond
// it returns a nil log and the caller reports the log unfixable. A
// healthy or repaired log is returned open. In dry-run mode the
// would-be truncations are reported and the log is returned unchanged.
func RepairChangelog(u *ui.UI, fs *vfs.FS, opts Options) (*revlog.Revlog, error) {
	cl, err := revlog.Open(fs, ChangelogName)
	if err != nil {
		return nil, nil
	}
	rev, _, err := QuickCheck(u, cl, "changelog", QuickCheckOptions{Lookback: opts.Lookback})
	if err != nil {
		cl.Close()
		return nil, err
	}
	if rev < 0 {
		return cl, nil
	}
	if rev >= cl.Len() || rev <= 0 {
		cl.Close()
		return nil, nil
	}

	// Everything below rev is intact. Cut both files right after the
	// last good revision; the index is fixed-width, the data cut point
	// comes from the last good entry.
	start, err := cl.Start(rev - 1)
	if err != nil {
		cl.Close()
		return nil, err
	}
	length, err := cl.Length(rev - 1)
	if err != nil {
		cl.Close()
		return nil, err
	}
	indexSize := int64(rev) * revlog.IndexEntrySize
	dataStart := start + length
	dataName := cl.DataName()

	topts := TruncateOptions{DryRun: opts.DryRun}
	if opts.DryRun {
		if err := Truncate(u, fs, ChangelogName, indexSize, topts); err != nil {
			cl.Close()
			return nil, err
		}
		if err := Truncate(u, fs, dataName, dataStart, topts); err != nil {
			cl.Close()
			return nil, err
		}
		return cl, nil
	}

	cl.Close()
	if err := Truncate(u, fs, ChangelogName, indexSize, topts); err != nil {
		return nil, err
	}
	if err := Truncate(u, fs, dataName, dataStart, topts); err != nil {
		return nil, err
	}
	u.WriteErrf("changelog: repaired\n")
	return revlog.Open(fs, ChangelogName)
}
