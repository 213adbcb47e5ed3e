package repair

import (
	"fmt"
	"sort"
	"strconv"

	"strata/internal/node"
	"strata/internal/revlog"
	"strata/internal/treestate"
	"strata/internal/ui"
	"strata/internal/vfs"
)

// RepairTreestate rebuilds the working-copy pointer when it no longer
// resolves. A healthy pointer parses, its snapshot root decodes, and
// its first parent exists in the commit log; otherwise snapshot files
// are searched newest first for a usable root to point at. Repos
// without a treestate directory are left alone.
func RepairTreestate(u *ui.UI, dot *vfs.FS, cl *revlog.Revlog, opts Options) error {
	if !dot.Exists(treestate.Dir) {
		return nil
	}
	if dirstateValid(dot, cl) {
		u.WriteErrf("treestate: looks okay\n")
		return nil
	}

	names, err := snapshotsByMtime(dot)
	if err != nil {
		return err
	}
	for _, name := range names {
		data, err := dot.ReadFile(treestate.Dir + "/" + name)
		if err != nil {
			continue
		}
		done := false
		var rebuildErr error
		treestate.ScanRoots(data, opts.ScanWindow, func(offset int) bool {
			meta, err := treestate.DecodeRoot(data, offset)
			if err != nil {
				// Failed the checksum, likely a stray marker. Try next.
				return true
			}
			if p2 := meta["p2"]; p2 != "" && p2 != node.Null.Hex() {
				// Do not restore to a merge.
				return true
			}
			p1, err := node.FromHex(meta["p1"])
			if err != nil {
				return true
			}
			if !p1.IsNull() && !cl.HasNode(p1) {
				return true
			}
			done = true
			if opts.DryRun {
				u.WriteErrf("treestate: would repair from %s offset %d\n", name, offset)
				return false
			}
			rebuildErr = rebuildDirstate(dot, p1, name, offset)
			if rebuildErr == nil {
				u.WriteErrf("treestate: repaired\n")
			}
			return false
		})
		if rebuildErr != nil {
			return rebuildErr
		}
		if done {
			return nil
		}
	}
	u.WriteErrf("treestate: cannot fix automatically (consider create a new workdir)\n")
	return nil
}

func dirstateValid(dot *vfs.FS, cl *revlog.Revlog) bool {
	d, err := treestate.ReadDirstate(dot)
	if err != nil {
		return false
	}
	if _, err := d.OpenRoot(dot); err != nil {
		return false
	}
	return d.P1.IsNull() || cl.HasNode(d.P1)
}

// snapshotsByMtime lists treestate snapshot files, most recent first.
func snapshotsByMtime(dot *vfs.FS) ([]string, error) {
	entries, err := dot.ListDir(treestate.Dir)
	if err != nil {
		return nil, fmt.Errorf("listing treestate snapshots: %w", err)
	}
	type snap struct {
		name  string
		mtime int64
	}
	snaps := make([]snap, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		snaps = append(snaps, snap{e.Name(), info.ModTime().UnixNano()})
	}
	sort.SliceStable(snaps, func(i, j int) bool { return snaps[i].mtime > snaps[j].mtime })
	names := make([]string, len(snaps))
	for i, s := range snaps {
		names[i] = s.name
	}
	return names, nil
}

func rebuildDirstate(dot *vfs.FS, p1 node.Node, filename string, offset int) error {
	d := &treestate.Dirstate{
		P1: p1,
		P2: node.Null,
		Metadata: map[string]string{
			"p1":       p1.Hex(),
			"filename": filename,
			"rootid":   strconv.Itoa(offset),
		},
	}
	return treestate.WriteDirstate(dot, d)
}
