package repair

import (
	"errors"
	"slices"
	"strings"

	"strata/internal/metalog"
	"strata/internal/node"
	"strata/internal/revlog"
	"strata/internal/ui"
)

// visibleheadsKey is the metalog key holding the visible head list.
const visibleheadsKey = "visibleheads"

// RepairVisibleHeads drops heads that do not resolve in the commit log
// and appends the current tip so at least one head stays visible. Only
// the v1 format is understood; anything else is left untouched.
func RepairVisibleHeads(u *ui.UI, ml *metalog.Log, cl *revlog.Revlog, dryRun bool) error {
	data, err := ml.Get(visibleheadsKey)
	if err != nil && !errors.Is(err, metalog.ErrKeyNotFound) {
		return err
	}
	lines := splitLines(string(data))
	if len(lines) == 0 || lines[0] != "v1" {
		u.WriteErrf("visibleheads: skipped\n")
		return nil
	}

	newLines := []string{lines[0]}
	for _, h := range lines[1:] {
		if len(h) != node.HexSize {
			continue
		}
		n, err := node.FromHex(h)
		if err != nil || !cl.HasNode(n) {
			continue
		}
		newLines = append(newLines, h)
	}
	removed := len(lines) - len(newLines)
	if removed == 0 {
		u.WriteErrf("visibleheads: looks okay\n")
		return nil
	}

	// Keep the repo pointing somewhere: the tip is always a valid head.
	// An empty commit log has no tip to add.
	addedTip := false
	if tip := cl.Tip(); !tip.IsNull() {
		if h := tip.Hex(); !slices.Contains(newLines, h) {
			newLines = append(newLines, h)
			addedTip = true
		}
	}
	if dryRun {
		u.WriteErrf("visibleheads: would remove %d heads\n", removed)
		return nil
	}

	var sb strings.Builder
	for _, l := range newLines {
		sb.WriteString(l)
		sb.WriteByte('\n')
	}
	ml.Set(visibleheadsKey, []byte(sb.String()))
	if err := ml.Commit("fix visibleheads"); err != nil {
		return err
	}
	if addedTip {
		u.WriteErrf("visibleheads: removed %d heads, added tip\n", removed)
	} else {
		u.WriteErrf("visibleheads: removed %d heads\n", removed)
	}
	return nil
}

// splitLines treats a trailing newline as a terminator rather than a
// separator; empty input has no lines.
func splitLines(s string) []string {
	s = strings.TrimRight(s, "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}
