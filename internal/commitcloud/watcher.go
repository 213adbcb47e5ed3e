package commitcloud

import (
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"strata/internal/vfs"
)

// Watcher signals when another process rewrites a workspace's sync
// state file, the on-disk symptom of a second client syncing the same
// workspace.
type Watcher struct {
	// Updates receives one token per observed rewrite. The channel is
	// never closed while the watcher runs; pending tokens collapse.
	Updates chan struct{}

	inner    *fsnotify.Watcher
	filename string
	log      *zap.Logger
	done     chan struct{}
}

// Watch observes the store directory for changes to the workspace's
// state file.
func Watch(fs *vfs.FS, workspace string, log *zap.Logger) (*Watcher, error) {
	if log == nil {
		log = zap.NewNop()
	}
	inner, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}
	if err := inner.Add(fs.Root()); err != nil {
		inner.Close()
		return nil, fmt.Errorf("watching store directory: %w", err)
	}

	w := &Watcher{
		Updates:  make(chan struct{}, 1),
		inner:    inner,
		filename: Filename(workspace),
		log:      log,
		done:     make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	for {
		select {
		case event, ok := <-w.inner.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != w.filename {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			w.log.Debug("sync state rewritten",
				zap.String("file", w.filename),
				zap.String("op", event.Op.String()))
			select {
			case w.Updates <- struct{}{}:
			default:
			}
		case err, ok := <-w.inner.Errors:
			if !ok {
				return
			}
			w.log.Warn("watcher error", zap.Error(err))
		case <-w.done:
			return
		}
	}
}

func (w *Watcher) Close() error {
	close(w.done)
	return w.inner.Close()
}
