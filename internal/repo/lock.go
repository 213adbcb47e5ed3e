package repo

import (
	"fmt"

	"github.com/gofrs/flock"

	"strata/internal/errors"
)

// StoreLock holds the exclusive store lock for the duration of a repair
// run.
type StoreLock struct {
	fl *flock.Flock
}

// LockStore takes the store lock without blocking. A held lock is an
// abort: repairing under a concurrent writer would do more damage than
// it fixes.
func (r *Repo) LockStore() (*StoreLock, error) {
	fl := flock.New(r.Store.Join("lock"))
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("locking store: %w", err)
	}
	if !locked {
		return nil, errors.Abortf("store is locked by another process")
	}
	return &StoreLock{fl: fl}, nil
}

func (l *StoreLock) Unlock() error {
	return l.fl.Unlock()
}
