// Package testjson parses go test -json NDJSON streams and turns test events
// into monitor attempts.
package testjson

import "time"

// Actions emitted by go test -json.
const (
	ActionStart  = "start"
	ActionRun    = "run"
	ActionPass   = "pass"
	ActionFail   = "fail"
	ActionSkip   = "skip"
	ActionOutput = "output"
	ActionPause  = "pause"
	ActionCont   = "cont"
	ActionBench  = "bench"

	// Emitted before any package event when a test binary fails to build.
	ActionBuildOutput = "build-output"
	ActionBuildFail   = "build-fail"
)

// TestEvent represents a single event from go test -json output.
type TestEvent struct {
	Time    time.Time `json:"Time"`
	Action  string    `json:"Action"`
	Package string    `json:"Package"`
	Test    string    `json:"Test"`
	Elapsed float64   `json:"Elapsed"`
	Output  string    `json:"Output"`

	// FailedBuild names the package whose build failed, on package-level
	// fail events.
	FailedBuild string `json:"FailedBuild,omitempty"`
}

// IsTerminal reports whether e ends a test (pass, fail or skip).
func (e TestEvent) IsTerminal() bool {
	if e.Test == "" {
		return false
	}
	switch e.Action {
	case ActionPass, ActionFail, ActionSkip:
		return true
	}
	return false
}

// ProcessFunc is called for each parsed event.
type ProcessFunc func(TestEvent)
