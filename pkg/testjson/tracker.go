package testjson

import (
	"sort"
	"strings"

	"github.com/dkoosis/ratewatch/pkg/ratemonitor"
)

// timeoutMarker is the panic text go test prints when -timeout expires.
const timeoutMarker = "panic: test timed out"

// GroupFunc maps a package import path to its grouping name.
type GroupFunc func(pkg string) string

// Tracker converts go test -json events into monitor attempts.
//
// A test that finishes more than once in the same stream (go test -count=N,
// or a rerun tool appending its output) is treated as a retry: its retry index
// is the number of earlier terminal events for the same package and test.
type Tracker struct {
	group    GroupFunc
	subtests bool

	finished   map[string]int             // bufKey(pkg, test) -> terminal events seen
	running    map[string]map[string]bool // pkg -> tests started but not finished
	runOrder   map[string][]string        // pkg -> tests in start order
	timedOut   map[string]bool            // pkg -> timeout panic seen
	testFailed map[string]bool            // pkg -> a test failed in the current run
	pkgFailed  map[string]string          // pkg -> reason its latest run failed without a failing test
}

// NewTracker creates a tracker. A nil group puts every package in the grouping
// named after the package itself. Subtests (names containing "/") produce
// attempts only when includeSubtests is set, because a failing subtest also
// fails its parent.
func NewTracker(group GroupFunc, includeSubtests bool) *Tracker {
	if group == nil {
		group = func(pkg string) string { return pkg }
	}
	return &Tracker{
		group:    group,
		subtests: includeSubtests,
		finished:   make(map[string]int),
		running:    make(map[string]map[string]bool),
		runOrder:   make(map[string][]string),
		timedOut:   make(map[string]bool),
		testFailed: make(map[string]bool),
		pkgFailed:  make(map[string]string),
	}
}

// Handle processes one event and returns the attempts it completes, in order.
// Most events complete nothing; a package that dies on a timeout completes
// every test still running in it.
func (t *Tracker) Handle(e TestEvent) []ratemonitor.Attempt {
	switch e.Action {
	case ActionStart:
		t.resetPackage(e.Package)
	case ActionRun:
		if t.counts(e.Test) {
			t.markRunning(e.Package, e.Test)
		}
	case ActionOutput:
		if strings.Contains(e.Output, timeoutMarker) {
			t.timedOut[e.Package] = true
		}
	case ActionPass, ActionFail, ActionSkip:
		if e.Test == "" {
			return t.finishPackage(e)
		}
		if e.Action == ActionFail {
			t.testFailed[e.Package] = true
		}
		if !t.counts(e.Test) {
			return nil
		}
		return []ratemonitor.Attempt{t.attempt(e.Package, e.Test, statusOf(e.Action))}
	}
	return nil
}

func (t *Tracker) counts(test string) bool {
	return test != "" && (t.subtests || !strings.Contains(test, "/"))
}

func (t *Tracker) markRunning(pkg, test string) {
	set, ok := t.running[pkg]
	if !ok {
		set = make(map[string]bool)
		t.running[pkg] = set
	}
	if !set[test] {
		set[test] = true
		t.runOrder[pkg] = append(t.runOrder[pkg], test)
	}
}

// finishPackage closes out tests that never reported a result because the
// test binary exited underneath them.
//
// A package that fails with no failing test and nothing left running (a build
// error, a TestMain exit, a panic in init) is recorded in FailedPackages.
func (t *Tracker) finishPackage(e TestEvent) []ratemonitor.Attempt {
	defer t.resetPackage(e.Package)
	if e.Action != ActionFail {
		delete(t.pkgFailed, e.Package)
		return nil
	}

	status := ratemonitor.StatusFailed
	if t.timedOut[e.Package] {
		status = ratemonitor.StatusTimedOut
	}

	var out []ratemonitor.Attempt
	for _, test := range t.runOrder[e.Package] {
		if t.running[e.Package][test] {
			out = append(out, t.attempt(e.Package, test, status))
		}
	}

	switch {
	case len(out) > 0 || t.testFailed[e.Package]:
		delete(t.pkgFailed, e.Package)
	case e.FailedBuild != "":
		t.pkgFailed[e.Package] = "build failed"
	default:
		t.pkgFailed[e.Package] = "package failed outside any test"
	}
	return out
}

func (t *Tracker) resetPackage(pkg string) {
	delete(t.running, pkg)
	delete(t.runOrder, pkg)
	delete(t.timedOut, pkg)
	delete(t.testFailed, pkg)
}

// PackageFailure is a package whose latest run failed without any failing
// test to account for it.
type PackageFailure struct {
	Package string
	Reason  string
}

// FailedPackages returns the packages whose latest run failed outside any
// test, sorted by package.
func (t *Tracker) FailedPackages() []PackageFailure {
	out := make([]PackageFailure, 0, len(t.pkgFailed))
	for pkg, reason := range t.pkgFailed {
		out = append(out, PackageFailure{Package: pkg, Reason: reason})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Package < out[j].Package })
	return out
}

func (t *Tracker) attempt(pkg, test string, status ratemonitor.Status) ratemonitor.Attempt {
	key := bufKey(pkg, test)
	retry := t.finished[key]
	t.finished[key]++
	if set, ok := t.running[pkg]; ok {
		delete(set, test)
	}
	return ratemonitor.Attempt{
		TestID: pkg + "." + test,
		Title:  ShortPkg(pkg) + "." + test,
		Group:  t.group(pkg),
		Retry:  retry,
		Status: status,
	}
}

func statusOf(action string) ratemonitor.Status {
	switch action {
	case ActionPass:
		return ratemonitor.StatusPassed
	case ActionFail:
		return ratemonitor.StatusFailed
	default:
		return ratemonitor.StatusSkipped
	}
}

// ShortPkg returns the last path segment of a package name.
func ShortPkg(pkg string) string {
	if i := strings.LastIndex(pkg, "/"); i >= 0 {
		return pkg[i+1:]
	}
	return pkg
}

// bufKey returns the map key for a package/test pair.
func bufKey(pkg, test string) string {
	return pkg + "\x00" + test
}
