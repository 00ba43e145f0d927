// Package report prints the structured, human-readable operation summary
// spec §7 requires ("every operation returns a structured report ... and
// emits human-readable logs"), adapting width and byte formatting to
// whether the output is a terminal (teacher's internal/progress establishes
// the same term.IsTerminal-gated-output idiom for download progress).
package report

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
	"golang.org/x/term"
)

// PackageOutcome is one package's result within a multi-package operation.
type PackageOutcome struct {
	Name    string
	Status  string // "ok", "failed", "skipped"
	Detail  string
	Bytes   int64
}

// Summary is the structured report a multi-package operation returns
// (spec §7 "structured report (status, counts, per-package details,
// optional report file path)").
type Summary struct {
	Operation string
	Outcomes  []PackageOutcome
	ReportPath string
}

// Counts tallies outcomes by status.
func (s Summary) Counts() map[string]int {
	counts := make(map[string]int)
	for _, o := range s.Outcomes {
		counts[o.Status]++
	}
	return counts
}

// Printer writes a Summary to an io.Writer, using a terminal-appropriate
// width and byte formatting when the underlying file descriptor is a TTY.
type Printer struct {
	w        io.Writer
	isTTY    func() bool
	termWidth func() int
}

// NewPrinter returns a Printer writing to w. When w is an *os.File, TTY
// detection and width are derived from its file descriptor; otherwise
// output is treated as non-interactive (no column-width adaptation).
func NewPrinter(w io.Writer) *Printer {
	p := &Printer{w: w, isTTY: func() bool { return false }, termWidth: func() int { return 80 }}

	if f, ok := w.(*os.File); ok {
		fd := f.Fd()
		p.isTTY = func() bool { return isatty.IsTerminal(fd) }
		p.termWidth = func() int {
			width, _, err := term.GetSize(int(fd))
			if err != nil || width <= 0 {
				return 80
			}
			return width
		}
	}
	return p
}

// Print writes the summary: a header line, one line per package outcome,
// and a trailing counts line.
func (p *Printer) Print(s Summary) {
	width := p.termWidth()

	fmt.Fprintf(p.w, "%s summary\n", s.Operation)
	fmt.Fprintln(p.w, strings.Repeat("-", min(width, 40)))

	for _, o := range s.Outcomes {
		line := fmt.Sprintf("  %-6s %s", strings.ToUpper(o.Status), o.Name)
		if o.Bytes > 0 {
			line += fmt.Sprintf(" (%s)", humanize.Bytes(uint64(o.Bytes)))
		}
		if o.Detail != "" {
			line += ": " + o.Detail
		}
		fmt.Fprintln(p.w, line)
	}

	counts := s.Counts()
	fmt.Fprintf(p.w, "%d ok, %d failed, %d skipped\n", counts["ok"], counts["failed"], counts["skipped"])
	if s.ReportPath != "" {
		fmt.Fprintf(p.w, "full report written to %s\n", s.ReportPath)
	}
}
