package repair

import (
	"fmt"
	"io/fs"
	"path/filepath"

	"go.uber.org/zap"

	"strata/internal/ui"
)

// BackendRepair is a store's own fix routine: given the store directory
// it heals what it can and describes what it did.
type BackendRepair func(path string) (string, error)

// fsFingerprint returns a number that very likely changes when anything
// under path changes. Good enough to tell "repaired" from "looks okay"
// without diffing trees; a missing path fingerprints to zero.
func fsFingerprint(path string) int64 {
	var value int64
	filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil || p == path {
			return nil
		}
		value++
		if info, err := d.Info(); err == nil {
			value += info.ModTime().Unix()%1024 + info.Size()*1024
		}
		return nil
	})
	return value
}

// repairBackend runs one store's fix routine and reports the outcome.
// Backend failures are warned about and do not stop the doctor run.
func (d *Doctor) repairBackend(name, path string, fix BackendRepair) {
	finish := d.UI.Progress(name)
	defer finish()

	if d.Opts.DryRun {
		d.UI.WriteErrf("%s: skipped (dry-run)\n", name)
		return
	}
	before := fsFingerprint(path)
	message, err := runBackend(fix, path)
	if err != nil {
		d.UI.Warnf("%s: failed to fix: %s", name, err)
		return
	}
	after := fsFingerprint(path)
	d.Tracer.Event("repair",
		zap.String("name", "repair "+name),
		zap.String("details", message),
	)
	if d.UI.Verbose() {
		d.UI.WriteErrf("%s:\n%s\n", name, ui.Indent(message))
	} else if before != after {
		d.UI.WriteErrf("%s: repaired\n", name)
	} else {
		d.UI.WriteErrf("%s: looks okay\n", name)
	}
}

// runBackend isolates a fix routine. Key-value stores can panic on
// corrupt manifests; a panicking backend becomes an error instead of
// taking down the whole run.
func runBackend(fix BackendRepair, path string) (message string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%v", r)
		}
	}()
	return fix(path)
}
