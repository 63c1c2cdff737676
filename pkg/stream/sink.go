package stream

import (
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/dkoosis/ratewatch/pkg/ratemonitor"
)

// Sink writes monitor notices as styled lines. When live is set, a one-line
// footer with the running failure rate is kept below the history.
//
// Sink is safe for concurrent use: the terminator's timer reports through it
// from its own goroutine.
type Sink struct {
	mu      sync.Mutex
	tw      *termWriter
	theme   Theme
	live    bool
	printer *message.Printer

	failed    int
	completed int
	percent   int
	stopped   bool
}

// NewSink creates a sink writing to out. width bounds the footer; zero falls
// back to 80 columns.
func NewSink(out io.Writer, theme Theme, width int, live bool) *Sink {
	return &Sink{
		tw:      newTermWriter(out, width),
		theme:   theme,
		live:    live,
		printer: message.NewPrinter(language.English),
	}
}

// Notify implements ratemonitor.Sink.
func (s *Sink) Notify(n ratemonitor.Notice) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n.Completed > 0 {
		s.failed, s.completed, s.percent = n.Failed, n.Completed, n.Percent
	}
	if n.Kind == ratemonitor.NoticeTerminating || n.Kind == ratemonitor.NoticeTerminated {
		s.stopped = true
	}

	s.tw.EraseFooter()
	s.tw.PrintLine(s.format(n))
	s.redrawFooter()
}

// Println writes an unstyled line, such as non-JSON output from the test
// command, above the footer.
func (s *Sink) Println(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tw.EraseFooter()
	s.tw.PrintLine(line)
	s.redrawFooter()
}

// Close removes the footer. Lines written afterwards still print.
func (s *Sink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tw.EraseFooter()
	s.live = false
}

func (s *Sink) format(n ratemonitor.Notice) string {
	icon, style := s.decorate(n.Kind)
	return fmt.Sprintf("  %s %s", style.Render(icon), style.Render(n.Text))
}

func (s *Sink) decorate(kind ratemonitor.NoticeKind) (string, lipgloss.Style) {
	t := s.theme
	switch kind {
	case ratemonitor.NoticePass:
		return t.Icons.Pass, t.Success
	case ratemonitor.NoticeFail:
		return t.Icons.Fail, t.Error
	case ratemonitor.NoticeSkipRetry:
		return t.Icons.Skip, t.Muted
	case ratemonitor.NoticeCritical:
		return t.Icons.Warn, t.Error.Inherit(t.Bold)
	case ratemonitor.NoticeTerminating:
		return t.Icons.Stop, t.Warning
	case ratemonitor.NoticeTerminated:
		return t.Icons.Stop, t.Error
	case ratemonitor.NoticeSummary:
		return t.Icons.Pass, t.Success.Inherit(t.Bold)
	default:
		return t.Icons.Info, t.Primary
	}
}

func (s *Sink) redrawFooter() {
	if !s.live || s.completed == 0 {
		return
	}
	state := "watching"
	if s.stopped {
		state = "stopping"
	}
	line := s.printer.Sprintf("  ─── %s · %d/%d failed (%d%%) ───", state, s.failed, s.completed, s.percent)
	// Unstyled: escape sequences would throw off width truncation.
	s.tw.DrawFooter(line)
}
