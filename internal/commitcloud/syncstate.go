// Package commitcloud keeps the local record of what a workspace looked
// like at the last cloud sync, and watches for concurrent writers.
package commitcloud

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"

	"strata/internal/errors"
	"strata/internal/transaction"
	"strata/internal/vfs"
)

const filePrefix = "commitcloudstate."

// oscillationWindow is how recent the previous sync must be for a
// revert to count as flapping rather than a deliberate rollback.
const oscillationWindow = 60 * time.Second

// Filename derives the store-relative state file name for a workspace.
// Only the alphanumeric characters survive; a short hash suffix keeps
// names distinct when they differ only in punctuation.
func Filename(workspace string) string {
	var b strings.Builder
	for _, r := range workspace {
		if unicode.IsLetter(r) || unicode.IsNumber(r) {
			b.WriteRune(r)
		}
	}
	sum := sha256.Sum256([]byte(workspace))
	return filePrefix + b.String() + "." + hex.EncodeToString(sum[:])[:5]
}

// Erase drops the persisted state for a workspace. Used by forced
// recovery; missing files are fine.
func Erase(fs *vfs.FS, workspace string) {
	fs.TryUnlink(Filename(workspace))
}

type stateFile struct {
	Version          int64             `json:"version"`
	Heads            []string          `json:"heads"`
	Bookmarks        map[string]string `json:"bookmarks"`
	RemoteBookmarks  map[string]string `json:"remotebookmarks"`
	OmittedHeads     []string          `json:"omittedheads"`
	OmittedBookmarks []string          `json:"omittedbookmarks"`
	Snapshots        []string          `json:"snapshots"`
	MaxAge           *int64            `json:"maxage"`
	LastUpdateTime   float64           `json:"lastupdatetime"`
}

type prevState struct {
	version   int64
	heads     []string
	bookmarks map[string]string
	snapshots []string
}

// SyncState is the in-memory view of one workspace's last-synced
// snapshot.
type SyncState struct {
	fs        *vfs.FS
	workspace string
	filename  string
	log       *zap.Logger
	now       func() time.Time

	version          int64
	heads            []string
	bookmarks        map[string]string
	remoteBookmarks  map[string]string
	omittedHeads     []string
	omittedBookmarks []string
	snapshots        []string
	maxAge           *int64
	lastUpdate       time.Time

	prev *prevState
}

// Load reads the workspace's persisted state. A missing file yields
// version 0 with empty collections; an unparsable file is a validation
// error naming the file.
func Load(fs *vfs.FS, workspace string, log *zap.Logger) (*SyncState, error) {
	if log == nil {
		log = zap.NewNop()
	}
	s := &SyncState{
		fs:              fs,
		workspace:       workspace,
		filename:        Filename(workspace),
		log:             log,
		now:             time.Now,
		bookmarks:       map[string]string{},
		remoteBookmarks: map[string]string{},
	}

	data, err := fs.ReadFile(s.filename)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading sync state: %w", err)
	}

	var f stateFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, errors.InvalidWorkspaceData(s.filename, err)
	}
	s.version = f.Version
	s.heads = f.Heads
	if f.Bookmarks != nil {
		s.bookmarks = f.Bookmarks
	}
	if f.RemoteBookmarks != nil {
		s.remoteBookmarks = f.RemoteBookmarks
	}
	s.omittedHeads = f.OmittedHeads
	s.omittedBookmarks = f.OmittedBookmarks
	s.snapshots = f.Snapshots
	s.maxAge = f.MaxAge
	if f.LastUpdateTime > 0 {
		sec := int64(f.LastUpdateTime)
		s.lastUpdate = time.Unix(sec, int64((f.LastUpdateTime-float64(sec))*1e9))
	}
	return s, nil
}

// SyncUpdate is the new snapshot recorded by Update.
type SyncUpdate struct {
	Version          int64
	Heads            []string
	Bookmarks        map[string]string
	RemoteBookmarks  map[string]string
	OmittedHeads     []string
	OmittedBookmarks []string
	Snapshots        []string
	MaxAge           *int64
}

// Update stages the new snapshot through tr and advances the in-memory
// state, remembering the outgoing snapshot for oscillation checks. The
// file is only written when tr commits.
func (s *SyncState) Update(tr *transaction.Transaction, u SyncUpdate) error {
	now := s.now()
	payload, err := json.Marshal(stateFile{
		Version:          u.Version,
		Heads:            u.Heads,
		Bookmarks:        u.Bookmarks,
		RemoteBookmarks:  u.RemoteBookmarks,
		OmittedHeads:     u.OmittedHeads,
		OmittedBookmarks: u.OmittedBookmarks,
		Snapshots:        u.Snapshots,
		MaxAge:           u.MaxAge,
		LastUpdateTime:   float64(now.UnixNano()) / 1e9,
	})
	if err != nil {
		return fmt.Errorf("marshaling sync state: %w", err)
	}
	tr.AddFileGenerator(s.filename, []string{s.filename}, func(_ string, w io.Writer) error {
		_, err := w.Write(payload)
		return err
	})

	s.prev = &prevState{
		version:   s.version,
		heads:     s.heads,
		bookmarks: s.bookmarks,
		snapshots: s.snapshots,
	}
	s.version = u.Version
	s.heads = u.Heads
	s.bookmarks = u.Bookmarks
	s.remoteBookmarks = u.RemoteBookmarks
	s.omittedHeads = u.OmittedHeads
	s.omittedBookmarks = u.OmittedBookmarks
	s.snapshots = u.Snapshots
	s.maxAge = u.MaxAge
	s.lastUpdate = now

	s.log.Info("synced to workspace",
		zap.String("workspace", s.workspace),
		zap.Int64("version", u.Version),
		zap.Int("heads", len(u.Heads)),
		zap.Int("omitted_heads", len(u.OmittedHeads)),
		zap.Int("bookmarks", len(u.Bookmarks)),
		zap.Int("omitted_bookmarks", len(u.OmittedBookmarks)),
		zap.Int("remote_bookmarks", len(u.RemoteBookmarks)),
		zap.Int("snapshots", len(u.Snapshots)))
	return nil
}

// Oscillating reports whether moving to the proposed heads, bookmarks
// and snapshots would just revert the immediately preceding version
// within the flap window. Detection is in-process only: prev state is
// not persisted, so flapping across separate runs goes unnoticed.
func (s *SyncState) Oscillating(heads []string, bookmarks map[string]string, snapshots []string) bool {
	if s.prev == nil || s.lastUpdate.IsZero() {
		return false
	}
	return s.prev.version == s.version-1 &&
		slices.Equal(s.prev.heads, heads) &&
		maps.Equal(s.prev.bookmarks, bookmarks) &&
		slices.Equal(s.prev.snapshots, snapshots) &&
		s.now().Sub(s.lastUpdate) < oscillationWindow
}

func (s *SyncState) Workspace() string { return s.workspace }

// StateFilename returns the store-relative file this state persists to.
func (s *SyncState) StateFilename() string { return s.filename }

func (s *SyncState) Version() int64 { return s.version }

func (s *SyncState) Heads() []string { return s.heads }

func (s *SyncState) Bookmarks() map[string]string { return s.bookmarks }

func (s *SyncState) RemoteBookmarks() map[string]string { return s.remoteBookmarks }

func (s *SyncState) OmittedHeads() []string { return s.omittedHeads }

func (s *SyncState) OmittedBookmarks() []string { return s.omittedBookmarks }

func (s *SyncState) Snapshots() []string { return s.snapshots }

func (s *SyncState) MaxAge() *int64 { return s.maxAge }

func (s *SyncState) LastUpdateTime() time.Time { return s.lastUpdate }
