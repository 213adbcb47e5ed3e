// Package repair checks and fixes storage corruption: truncating rotten
// revision-log tails, pruning dangling heads, rebuilding the
// working-copy pointer, and dispatching each auxiliary store's own
// repair routine. The only corruption it handles in the changelog is
// bad data at the end; anything deeper is reported as unfixable.
package repair

import (
	"strata/internal/errors"
	"strata/internal/revlog"
	"strata/internal/ui"
)

// RevisionLog is the read surface the quick-check needs. *revlog.Revlog
// satisfies it; tests substitute counting or failing decorators.
type RevisionLog interface {
	Len() int
	Index(rev int) (revlog.IndexEntry, error)
	Revision(rev int) ([]byte, error)
}

// DefaultLookback is the initial number of trailing revisions checked.
const DefaultLookback = 10

// QuickCheckOptions tunes the scan.
type QuickCheckOptions struct {
	// Lookback is the initial window size; it doubles while the window
	// contains no good revision. Zero means DefaultLookback.
	Lookback int

	// KnownBroken marks link revisions already known to be corrupt in
	// the log this one links into. Any entry pointing at one is treated
	// as bad without reading it.
	KnownBroken map[int]bool
}

type verdict int

const (
	verdictGood verdict = iota
	verdictBad
	verdictUnreadable
)

// suspect reports whether a decodable entry looks like zeroed garbage.
// All-zero fields are legitimate for revision 0 but almost always
// corruption anywhere else. Not a validity oracle: a corrupt entry with
// plausible fields passes.
func suspect(e revlog.IndexEntry, rev int) bool {
	if rev == 0 {
		return false
	}
	return (e.Offset == 0 && e.Flags == 0) ||
		e.LinkRev == 0 ||
		(e.P1 == 0 && e.P2 == 0) ||
		e.CompLen == 0 ||
		e.UncompLen == 0 ||
		e.Node.IsNull()
}

func checkRev(log RevisionLog, rev int, e revlog.IndexEntry, ierr error) verdict {
	if ierr != nil {
		return verdictUnreadable
	}
	if _, err := log.Revision(rev); err != nil {
		return verdictUnreadable
	}
	if suspect(e, rev) {
		return verdictBad
	}
	return verdictGood
}

// QuickCheck scans the tail of log for the first bad revision and
// returns (rev, linkrev). A healthy log returns (-1, -1). The scan
// starts lookback revisions from the end and doubles the window until
// it sees at least one good revision, so a long rotten tail is still
// found in O(log n) window restarts. When revision 0 itself is bad the
// whole log is untrustworthy and a corruption error is returned.
func QuickCheck(u *ui.UI, log RevisionLog, name string, opts QuickCheckOptions) (int, int, error) {
	lookback := opts.Lookback
	if lookback <= 0 {
		lookback = DefaultLookback
	}
	rev := max(0, log.Len()-lookback)
	seengood := false
	for rev < log.Len() {
		e, ierr := log.Index(rev)
		if ierr == nil && opts.KnownBroken[e.LinkRev] {
			u.Writef("%s: marked corrupted at rev %d (linkrev=%d)\n", name, rev, e.LinkRev)
			return rev, e.LinkRev, nil
		}
		if checkRev(log, rev, e, ierr) == verdictGood {
			seengood = true
			rev++
			continue
		}
		if rev == 0 {
			return -1, -1, errors.Corruptionf("all %s entries appear corrupt!", name)
		}
		if !seengood {
			// The earliest revision in the window is already bad:
			// look back farther.
			lookback *= 2
			rev = max(0, log.Len()-lookback)
			continue
		}
		u.Writef("%s: corrupted at rev %d (linkrev=%d)\n", name, rev, e.LinkRev)
		return rev, e.LinkRev, nil
	}
	u.Writef("%s: looks okay\n", name)
	return -1, -1, nil
}
