package interp

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	ansiReset     = "\x1b[0m"
	ansiBold      = "\x1b[1m"
	ansiBoldRed   = "\x1b[1;31m"
	ansiBlue      = "\x1b[94m"
	ansiHighlight = "\x1b[92m"
)

// Diagnostic is a structured load failure that points at a source position.
type Diagnostic struct {
	// Source is the chunk name, such as "main.lua".
	Source string
	// Text is the complete source the position refers to.
	Text string
	// Line and Column are 1-based. Zero means unknown.
	Line   int
	Column int
	// Message describes the problem.
	Message string
	// Near is the offending token, if known.
	Near string
}

func (d *Diagnostic) Error() string {
	var b strings.Builder
	b.WriteString(d.Source)
	if d.Line > 0 {
		fmt.Fprintf(&b, ":%d", d.Line)
		if d.Column > 0 {
			fmt.Fprintf(&b, ":%d", d.Column)
		}
	}
	b.WriteString(": ")
	b.WriteString(d.Message)
	if d.Near != "" {
		fmt.Fprintf(&b, " near %s", strconv.Quote(d.Near))
	}
	return b.String()
}

// Pretty renders the diagnostic with a source excerpt and a caret under the
// reported column. With color set the output carries ANSI SGR sequences.
func (d *Diagnostic) Pretty(color bool) string {
	paint := func(code, s string) string {
		if !color || s == "" {
			return s
		}
		return code + s + ansiReset
	}

	var b strings.Builder
	b.WriteString(paint(ansiBoldRed, "error"))
	b.WriteString(paint(ansiBold, ": "+d.Message))
	b.WriteString("\n")

	lines := strings.Split(strings.ReplaceAll(d.Text, "\r\n", "\n"), "\n")
	if d.Line < 1 || d.Line > len(lines) {
		fmt.Fprintf(&b, "%s %s\n", paint(ansiBlue, "-->"), d.Source)
		return b.String()
	}

	first := max(1, d.Line-1)
	last := min(len(lines), d.Line+1)
	width := len(strconv.Itoa(last))
	gutter := strings.Repeat(" ", width)

	fmt.Fprintf(&b, "%s%s %s:%d:%d\n", gutter, paint(ansiBlue, "-->"), d.Source, d.Line, max(d.Column, 1))
	fmt.Fprintf(&b, "%s %s\n", gutter, paint(ansiBlue, "|"))
	for n := first; n <= last; n++ {
		fmt.Fprintf(&b, "%s %s %s\n", paint(ansiBlue, fmt.Sprintf("%*d", width, n)), paint(ansiBlue, "|"), lines[n-1])
		if n == d.Line {
			pad := caretPadding(lines[n-1], d.Column)
			label := "^"
			if d.Near != "" {
				label += " near " + strconv.Quote(d.Near)
			}
			fmt.Fprintf(&b, "%s %s %s%s\n", gutter, paint(ansiBlue, "|"), pad, paint(ansiHighlight, label))
		}
	}
	return b.String()
}

// caretPadding keeps tabs so the caret lines up with the excerpt.
func caretPadding(line string, column int) string {
	if column <= 1 {
		return ""
	}
	var pad strings.Builder
	for i := 0; i < column-1; i++ {
		if i < len(line) && line[i] == '\t' {
			pad.WriteByte('\t')
		} else {
			pad.WriteByte(' ')
		}
	}
	return pad.String()
}
