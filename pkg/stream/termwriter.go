// Package stream renders failure-rate monitor notices as terminal lines, with
// an optional live status footer.
package stream

import (
	"fmt"
	"io"

	"github.com/mattn/go-runewidth"
)

// termWriter is the single point of terminal output for the sink.
// History lines scroll; a one-line footer is redrawn in place below them.
type termWriter struct {
	out    io.Writer
	width  int
	footer bool
}

func newTermWriter(out io.Writer, width int) *termWriter {
	if width <= 0 {
		width = 80
	}
	return &termWriter{out: out, width: width}
}

// PrintLine writes a line to the scrolling history region.
// Always appends \n.
func (w *termWriter) PrintLine(s string) {
	fmt.Fprintln(w.out, s)
}

// EraseFooter removes the footer line. No-op if none is drawn.
func (w *termWriter) EraseFooter() {
	if !w.footer {
		return
	}
	// The footer ends with \n, so the cursor sits on the line below it.
	fmt.Fprint(w.out, "\033[1A\r\033[2K")
	w.footer = false
}

// DrawFooter prints the footer line, truncated to terminal width.
func (w *termWriter) DrawFooter(line string) {
	fmt.Fprintln(w.out, truncateToWidth(line, w.width))
	w.footer = true
}

// truncateToWidth cuts s to width display cells, counting wide runes as two.
func truncateToWidth(s string, width int) string {
	if runewidth.StringWidth(s) <= width {
		return s
	}
	if width <= 3 {
		return runewidth.Truncate(s, width, "")
	}
	return runewidth.Truncate(s, width, "...")
}
