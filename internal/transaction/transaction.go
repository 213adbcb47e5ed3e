// Package transaction batches file writes so related state lands
// together. Writers register file generators; Commit materializes every
// registered file through a temp-then-rename pass, Abort drops them all.
package transaction

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"strata/internal/vfs"
)

// ErrClosed is returned when a finished transaction is used again.
var ErrClosed = errors.New("transaction already closed")

type generator struct {
	id    string
	files []string
	write func(name string, w io.Writer) error
}

// Transaction stages file generators until Commit or Abort.
type Transaction struct {
	id   string
	fs   *vfs.FS
	log  *zap.Logger
	gens []*generator
	byID map[string]*generator
	done bool
}

func New(fs *vfs.FS, log *zap.Logger) *Transaction {
	if log == nil {
		log = zap.NewNop()
	}
	return &Transaction{
		id:   uuid.New().String(),
		fs:   fs,
		log:  log,
		byID: make(map[string]*generator),
	}
}

func (t *Transaction) ID() string { return t.id }

// AddFileGenerator registers write to produce the named files at commit
// time. Re-registering an id replaces the previous generator but keeps
// its position in the commit order.
func (t *Transaction) AddFileGenerator(id string, files []string, write func(name string, w io.Writer) error) {
	g := &generator{id: id, files: files, write: write}
	if old, ok := t.byID[id]; ok {
		for i, cur := range t.gens {
			if cur == old {
				t.gens[i] = g
				break
			}
		}
	} else {
		t.gens = append(t.gens, g)
	}
	t.byID[id] = g
}

// Commit runs every generator, writes all outputs to pending files, and
// renames them into place only after every write succeeded.
func (t *Transaction) Commit() error {
	if t.done {
		return ErrClosed
	}
	t.done = true

	suffix := ".pending-" + t.id[:8]
	var pending [][2]string
	cleanup := func() {
		for _, p := range pending {
			t.fs.TryUnlink(p[0])
		}
	}

	for _, g := range t.gens {
		for _, name := range g.files {
			var buf bytes.Buffer
			if err := g.write(name, &buf); err != nil {
				cleanup()
				return fmt.Errorf("generating %s: %w", name, err)
			}
			tmp := name + suffix
			if err := t.fs.WriteFile(tmp, buf.Bytes()); err != nil {
				cleanup()
				return fmt.Errorf("staging %s: %w", name, err)
			}
			pending = append(pending, [2]string{tmp, name})
		}
	}
	for _, p := range pending {
		if err := t.fs.Rename(p[0], p[1]); err != nil {
			cleanup()
			return fmt.Errorf("publishing %s: %w", p[1], err)
		}
	}
	t.log.Debug("transaction committed",
		zap.String("txn", t.id),
		zap.Int("files", len(pending)))
	return nil
}

// Abort discards all staged generators. Aborting a finished transaction
// does nothing.
func (t *Transaction) Abort() {
	if t.done {
		return
	}
	t.done = true
	t.gens = nil
	t.byID = nil
	t.log.Debug("transaction aborted", zap.String("txn", t.id))
}
