// Package ui formats human-facing output for the repair commands.
// Results go to Err so they stay visible when stdout is piped, matching
// the rest of the status output.
package ui

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"
)

type UI struct {
	Out     io.Writer
	Err     io.Writer
	verbose bool
	yellow  func(a ...interface{}) string
}

func New(out, err io.Writer) *UI {
	return &UI{
		Out:    out,
		Err:    err,
		yellow: color.New(color.FgYellow).SprintFunc(),
	}
}

func (u *UI) SetVerbose(v bool) { u.verbose = v }

func (u *UI) Verbose() bool { return u.verbose }

func (u *UI) Writef(format string, args ...interface{}) {
	fmt.Fprintf(u.Out, format, args...)
}

func (u *UI) WriteErrf(format string, args ...interface{}) {
	fmt.Fprintf(u.Err, format, args...)
}

// Warnf prints a highlighted warning. Warnings mean a step went wrong
// but the run continues.
func (u *UI) Warnf(format string, args ...interface{}) {
	fmt.Fprintln(u.Err, u.yellow(strings.TrimRight(fmt.Sprintf(format, args...), "\n")))
}

// Progress marks a named step. In verbose mode the step is announced as
// it starts and timed when the returned func runs; otherwise both are
// silent.
func (u *UI) Progress(name string) func() {
	if !u.verbose {
		return func() {}
	}
	start := time.Now()
	u.WriteErrf("%s: checking\n", name)
	return func() {
		u.WriteErrf("%s: finished in %s\n", name, time.Since(start).Round(time.Millisecond))
	}
}

// Indent prefixes every non-empty line of message with two spaces and
// guarantees a trailing newline. Used for raw backend repair output in
// verbose mode.
func Indent(message string) string {
	lines := strings.Split(strings.TrimRight(message, "\n"), "\n")
	var b strings.Builder
	for _, l := range lines {
		if l == "" {
			b.WriteString("\n")
			continue
		}
		b.WriteString("  ")
		b.WriteString(l)
		b.WriteString("\n")
	}
	return b.String()
}
