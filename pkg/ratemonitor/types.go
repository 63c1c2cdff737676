// Package ratemonitor decides, while a test suite is still running, whether
// the failure rate observed so far is high enough to abort the rest of the run.
//
// The monitor counts only final attempts (a pass, or the last allowed retry),
// evaluates the rate every CheckInterval final results once
// MinTestsBeforeEvaluation have completed, and terminates when the rate is
// strictly greater than MaxFailureRate. Status output and process termination
// go through the injected Sink and Terminator, so the decision logic itself
// performs no I/O.
package ratemonitor

import "time"

// GracePeriod is the delay between a termination decision and the process
// exit request, leaving report writers time to flush.
const GracePeriod = 2 * time.Second

// Status is the outcome of a single test attempt.
type Status string

// Attempt statuses.
const (
	StatusPassed      Status = "passed"
	StatusFailed      Status = "failed"
	StatusTimedOut    Status = "timedOut"
	StatusSkipped     Status = "skipped"
	StatusInterrupted Status = "interrupted"
)

// IsFailure reports whether s counts against the failure rate.
func (s Status) IsFailure() bool {
	return s == StatusFailed || s == StatusTimedOut
}

// Attempt is one finished execution of a test, including intermediate retries.
type Attempt struct {
	TestID string
	Title  string
	Group  string // grouping (project) whose retry limit applies
	Retry  int    // 0 for the first run
	Status Status
}

// Group associates a grouping name with its configured retry limit.
type Group struct {
	Name    string `yaml:"name"`
	Retries int    `yaml:"retries"`
}

// RunConfig is the run-level context delivered when the run starts.
type RunConfig struct {
	Groups []Group
}

// Stats is a snapshot of the monitor's counters.
type Stats struct {
	Completed      int
	Failed         int
	FailurePercent int // round(100 * Failed / Completed), 0 when nothing completed
	Terminated     bool
	Reason         string
}

// Rate returns Failed/Completed, or 0 when nothing completed.
func (s Stats) Rate() float64 {
	if s.Completed == 0 {
		return 0
	}
	return float64(s.Failed) / float64(s.Completed)
}

// OutcomeStatus is the overall run status a monitor asks the host to report.
type OutcomeStatus string

// OutcomeFailed marks a run as failed regardless of the host's own tally.
const OutcomeFailed OutcomeStatus = "failed"

// Outcome is returned from OnRunEnd only when the monitor terminated the run.
type Outcome struct {
	Status OutcomeStatus
	Reason string
	Stats  Stats
}
