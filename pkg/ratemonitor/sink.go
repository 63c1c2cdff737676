package ratemonitor

import "time"

// NoticeKind identifies a status line for styling and structured logging.
type NoticeKind int

const (
	NoticeEnabled NoticeKind = iota
	NoticePass
	NoticeFail
	NoticeSkipRetry
	NoticeRateCheck
	NoticeCritical
	NoticeTerminating
	NoticeTerminated
	NoticeSummary
)

var noticeKindNames = [...]string{
	NoticeEnabled:     "enabled",
	NoticePass:        "pass",
	NoticeFail:        "fail",
	NoticeSkipRetry:   "skip_retry",
	NoticeRateCheck:   "rate_check",
	NoticeCritical:    "critical",
	NoticeTerminating: "terminating",
	NoticeTerminated:  "terminated",
	NoticeSummary:     "summary",
}

func (k NoticeKind) String() string {
	if k < 0 || int(k) >= len(noticeKindNames) {
		return "unknown"
	}
	return noticeKindNames[k]
}

// Notice is a human-readable status line plus the counts it describes.
type Notice struct {
	Kind      NoticeKind
	Text      string
	Test      string // empty unless the notice is about one test
	Failed    int
	Completed int
	Percent   int
}

// Sink receives status lines. Output is informational only.
type Sink interface {
	Notify(n Notice)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Notice)

// Notify calls f(n).
func (f SinkFunc) Notify(n Notice) { f(n) }

// Terminator requests process termination with a failure exit code once grace
// has elapsed. A zero grace fires without delay. Terminate must not block.
type Terminator interface {
	Terminate(grace time.Duration)
}

// TerminatorFunc adapts a function to Terminator.
type TerminatorFunc func(time.Duration)

// Terminate calls f(grace).
func (f TerminatorFunc) Terminate(grace time.Duration) { f(grace) }

type nopSink struct{}

func (nopSink) Notify(Notice) {}

type nopTerminator struct{}

func (nopTerminator) Terminate(time.Duration) {}
