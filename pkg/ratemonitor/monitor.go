package ratemonitor

import (
	"fmt"
	"math"
	"time"
)

// Monitor tracks final test results for one run and decides when to stop it.
//
// Monitor is not safe for concurrent use: the host delivers events serially.
type Monitor struct {
	cfg   Config
	sink  Sink
	term  Terminator
	grace time.Duration

	retries map[string]int // grouping name -> max retries, cached at run start

	completed  int
	failed     int
	terminated bool
	reason     string
}

// New creates a monitor with opts merged over the defaults. A nil sink or
// terminator discards notices and termination requests.
func New(opts Options, sink Sink, term Terminator) *Monitor {
	if sink == nil {
		sink = nopSink{}
	}
	if term == nil {
		term = nopTerminator{}
	}
	return &Monitor{
		cfg:     opts.Resolve(),
		sink:    sink,
		term:    term,
		grace:   GracePeriod,
		retries: make(map[string]int),
	}
}

// NewDefault creates a monitor with default options.
func NewDefault(sink Sink, term Terminator) *Monitor {
	return New(Options{}, sink, term)
}

// Config returns the resolved configuration.
func (m *Monitor) Config() Config { return m.cfg }

// ShouldStop reports whether the monitor has decided to terminate the run.
func (m *Monitor) ShouldStop() bool { return m.terminated }

// Reason returns the termination reason, or "" while running.
func (m *Monitor) Reason() string { return m.reason }

// Stats returns a snapshot of the counters.
func (m *Monitor) Stats() Stats {
	return Stats{
		Completed:      m.completed,
		Failed:         m.failed,
		FailurePercent: m.percent(),
		Terminated:     m.terminated,
		Reason:         m.reason,
	}
}

// OnRunStart records per-grouping retry limits and announces the monitor.
func (m *Monitor) OnRunStart(rc RunConfig) {
	for _, g := range rc.Groups {
		m.retries[g.Name] = g.Retries
	}
	if !m.cfg.Enabled {
		return
	}
	m.notify(Notice{
		Kind: NoticeEnabled,
		Text: fmt.Sprintf("Failure rate monitor enabled - will terminate if failure rate exceeds %d%% after %d tests",
			roundPercent(m.cfg.MaxFailureRate), m.cfg.MinTestsBeforeEvaluation),
	})
}

// OnAttemptFinished counts a for the failure rate if it is the test's final
// attempt, and evaluates the rate when the evaluation cadence is reached.
func (m *Monitor) OnAttemptFinished(a Attempt) {
	if !m.cfg.Enabled || m.terminated {
		return
	}

	maxRetries := m.retries[a.Group]
	if a.Status != StatusPassed && a.Retry < maxRetries {
		m.notify(Notice{
			Kind: NoticeSkipRetry,
			Text: fmt.Sprintf("Skipping retry %d/%d for test: %s", a.Retry+1, maxRetries+1, a.Title),
			Test: a.Title,
		})
		return
	}

	m.completed++
	if a.Status.IsFailure() {
		m.failed++
		m.notify(m.countNotice(NoticeFail,
			fmt.Sprintf("Test failed (final): %s (%d/%d)", a.Title, m.failed, m.completed), a.Title))
	} else {
		m.notify(m.countNotice(NoticePass,
			fmt.Sprintf("Test passed: %s (%d/%d)", a.Title, m.failed, m.completed), a.Title))
	}

	if m.completed >= m.cfg.MinTestsBeforeEvaluation && m.atInterval() {
		m.evaluate()
	}
}

// atInterval reports whether completed is a multiple of the check interval.
// An interval of 0 never matches.
func (m *Monitor) atInterval() bool {
	if m.cfg.CheckInterval == 0 {
		return false
	}
	return m.completed%m.cfg.CheckInterval == 0
}

func (m *Monitor) evaluate() {
	rate := float64(m.failed) / float64(m.completed)
	pct := roundPercent(rate)

	m.notify(m.countNotice(NoticeRateCheck,
		fmt.Sprintf("Failure rate check: %d/%d failed (%d%%)", m.failed, m.completed, pct), ""))

	// Strictly greater; written negated so a NaN threshold never trips.
	if !(rate > m.cfg.MaxFailureRate) {
		return
	}

	threshold := roundPercent(m.cfg.MaxFailureRate)
	m.notify(m.countNotice(NoticeCritical,
		fmt.Sprintf("CRITICAL: Failure rate %d%% exceeds threshold %d%%", pct, threshold), ""))
	m.notify(m.countNotice(NoticeCritical,
		"This suggests the environment may be down. Terminating test execution to save time.", ""))
	m.notify(m.countNotice(NoticeCritical,
		fmt.Sprintf("Summary: %d failed out of %d completed tests", m.failed, m.completed), ""))

	m.terminated = true
	m.reason = fmt.Sprintf("Failure rate %d%% exceeded threshold %d%%", pct, threshold)

	if m.grace > 0 {
		m.notify(Notice{
			Kind: NoticeTerminating,
			Text: fmt.Sprintf("Allowing %dms for report generation before terminating...", m.grace.Milliseconds()),
		})
	} else {
		m.notify(Notice{Kind: NoticeTerminating, Text: "Terminating test execution immediately..."})
	}
	m.term.Terminate(m.grace)
}

// OnRunEnd emits the final summary. It returns a failed Outcome when the
// monitor terminated the run, and nil otherwise.
func (m *Monitor) OnRunEnd() *Outcome {
	if !m.cfg.Enabled || m.completed == 0 {
		return nil
	}

	pct := m.percent()
	if m.terminated {
		m.notify(m.countNotice(NoticeTerminated,
			"Test execution terminated early: "+m.reason, ""))
		m.notify(m.countNotice(NoticeTerminated,
			fmt.Sprintf("Final statistics: %d/%d tests failed (%d%%)", m.failed, m.completed, pct), ""))
		m.notify(m.countNotice(NoticeTerminated,
			"Test reports will still be generated from completed tests.", ""))
		return &Outcome{Status: OutcomeFailed, Reason: m.reason, Stats: m.Stats()}
	}

	m.notify(m.countNotice(NoticeSummary,
		fmt.Sprintf("Failure rate monitor: Final rate %d%% (%d/%d) - within acceptable limits", pct, m.failed, m.completed), ""))
	return nil
}

func (m *Monitor) percent() int {
	if m.completed == 0 {
		return 0
	}
	return roundPercent(float64(m.failed) / float64(m.completed))
}

func (m *Monitor) countNotice(kind NoticeKind, text, test string) Notice {
	return Notice{
		Kind:      kind,
		Text:      text,
		Test:      test,
		Failed:    m.failed,
		Completed: m.completed,
		Percent:   m.percent(),
	}
}

func (m *Monitor) notify(n Notice) {
	m.sink.Notify(n)
}

// roundPercent converts a fraction to a whole percentage, rounding halves up.
func roundPercent(f float64) int {
	return int(math.Floor(f*100 + 0.5))
}
