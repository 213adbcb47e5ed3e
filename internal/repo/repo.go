// Package repo locates and opens repositories: the .strata control
// directory, the (possibly shared) store, the requires file, and the
// repair configuration.
package repo

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"strata/internal/blobstore"
	"strata/internal/metalog"
	"strata/internal/mutation"
	"strata/internal/node"
	"strata/internal/treestate"
	"strata/internal/vfs"
)

// Dir is the name of the control directory.
const Dir = ".strata"

const (
	storeDir       = "store"
	requiresFile   = "requires"
	sharedpathFile = "sharedpath"
	configFile     = "config.json"
)

// ErrNotFound is returned by Find when no repository encloses the
// start directory.
var ErrNotFound = errors.New("no repository found")

// Repo is an opened repository.
type Repo struct {
	Root   string
	Dot    *vfs.FS
	Store  *vfs.FS
	Config *Config

	requires map[string]bool
}

// Find walks up from startDir looking for a control directory and
// returns the enclosing repository root.
func Find(startDir string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", err
	}

	for {
		if st, err := os.Stat(filepath.Join(dir, Dir)); err == nil && st.IsDir() {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", fmt.Errorf("%w in %s or any parent", ErrNotFound, startDir)
}

// Open builds a Repo for the given root. A sharedpath file redirects
// the store to another repository's control directory.
func Open(root string) (*Repo, error) {
	dot := vfs.New(filepath.Join(root, Dir))
	if !dot.IsDir(".") {
		return nil, fmt.Errorf("%s has no %s directory", root, Dir)
	}

	storeRoot := dot.Join(storeDir)
	if shared := dot.TryRead(sharedpathFile); shared != nil {
		sharedDot := strings.TrimSpace(string(shared))
		if !filepath.IsAbs(sharedDot) {
			sharedDot = filepath.Join(root, sharedDot)
		}
		storeRoot = filepath.Join(sharedDot, storeDir)
	}

	cfg, err := LoadConfig(dot.Join(configFile))
	if err != nil {
		return nil, err
	}

	r := &Repo{
		Root:     root,
		Dot:      dot,
		Store:    vfs.New(storeRoot),
		Config:   cfg,
		requires: make(map[string]bool),
	}
	for _, line := range strings.Split(string(dot.TryRead(requiresFile)), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			r.requires[line] = true
		}
	}
	return r, nil
}

// Init creates a fresh repository at root: control and store
// directories, the requires file, every store the doctor knows how to
// check, and an empty working-copy state pointing at the null commit.
func Init(root string, requirements ...string) (*Repo, error) {
	dot := vfs.New(filepath.Join(root, Dir))
	if dot.Exists(requiresFile) {
		return nil, fmt.Errorf("repository already exists at %s", root)
	}
	if err := dot.MakeDirs(storeDir); err != nil {
		return nil, fmt.Errorf("creating store: %w", err)
	}
	if err := dot.MakeDirs(treestate.Dir); err != nil {
		return nil, fmt.Errorf("creating treestate: %w", err)
	}

	if len(requirements) == 0 {
		requirements = []string{"store", "treestate", "remotecontent"}
	}
	if err := dot.WriteAtomic(requiresFile, []byte(strings.Join(requirements, "\n")+"\n")); err != nil {
		return nil, fmt.Errorf("writing requires: %w", err)
	}

	store := vfs.New(dot.Join(storeDir))
	if err := initStores(store); err != nil {
		return nil, err
	}

	name := uuid.New().String()
	rootid, err := treestate.WriteSnapshot(dot, name, nil, map[string]string{"p1": node.Null.Hex()})
	if err != nil {
		return nil, err
	}
	err = treestate.WriteDirstate(dot, &treestate.Dirstate{
		P1: node.Null,
		P2: node.Null,
		Metadata: map[string]string{
			"filename": name,
			"p1":       node.Null.Hex(),
			"rootid":   strconv.Itoa(rootid),
		},
	})
	if err != nil {
		return nil, err
	}

	return Open(root)
}

// initStores materializes the auxiliary stores so a fresh repository
// checks out clean. The allheads set is created lazily elsewhere.
func initStores(store *vfs.FS) error {
	ms, err := mutation.Open(store.Join("mutation"))
	if err != nil {
		return fmt.Errorf("creating mutation store: %w", err)
	}
	if err := ms.Close(); err != nil {
		return err
	}

	ml, err := metalog.Open(store.Join("metalog"))
	if err != nil {
		return fmt.Errorf("creating metadata log: %w", err)
	}
	ml.Set("visibleheads", []byte("v1\n"))
	if err := ml.Commit("init"); err != nil {
		ml.Close()
		return err
	}
	if err := ml.Close(); err != nil {
		return err
	}

	ds, err := blobstore.OpenData(store.Join("datastore"), blobstore.Options{})
	if err != nil {
		return fmt.Errorf("creating datastore: %w", err)
	}
	if err := ds.Close(); err != nil {
		return err
	}

	hs, err := blobstore.OpenHistory(store.Join("historystore"))
	if err != nil {
		return fmt.Errorf("creating historystore: %w", err)
	}
	return hs.Close()
}

// HasRequirement reports whether the requires file names feature.
func (r *Repo) HasRequirement(feature string) bool {
	return r.requires[feature]
}
