// Package runner hosts a failure-rate monitor over a go test -json stream,
// read from stdin or from a test command it starts itself.
package runner

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dkoosis/ratewatch/internal/metrics"
	"github.com/dkoosis/ratewatch/internal/terminate"
	"github.com/dkoosis/ratewatch/pkg/ratemonitor"
	"github.com/dkoosis/ratewatch/pkg/testjson"
)

// Exit codes.
const (
	ExitOK          = 0
	ExitFailed      = 1
	ExitError       = 2
	ExitInterrupted = 130
)

// Terminator is the process controller the runner drives.
type Terminator interface {
	ratemonitor.Terminator
	Attach(cmd *exec.Cmd)
	Stop() bool
}

// Config describes one monitored run.
type Config struct {
	Monitor   ratemonitor.Options
	RunConfig ratemonitor.RunConfig
	Group     testjson.GroupFunc
	Subtests  bool

	// MetricsFile, when set, receives the final counters in Prometheus text
	// format.
	MetricsFile string
	// Tee, when set, receives a copy of every input line, so a report can be
	// rendered from the run afterwards.
	Tee io.Writer
}

// Runner wires input, tracker, monitor and terminator together.
type Runner struct {
	cfg  Config
	sink ratemonitor.Sink
	term Terminator
	log  *zap.Logger

	// Passthrough receives stderr lines from a spawned command. Defaults to
	// discarding them.
	Passthrough func(line string)

	newID func() string
	now   func() time.Time
}

// New creates a runner. A nil log discards diagnostics.
func New(cfg Config, sink ratemonitor.Sink, term Terminator, log *zap.Logger) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{
		cfg:         cfg,
		sink:        sink,
		term:        term,
		log:         log,
		Passthrough: func(string) {},
		newID:       uuid.NewString,
		now:         time.Now,
	}
}

// Result summarizes a finished run.
type Result struct {
	RunID     string
	Stats     ratemonitor.Stats
	Outcome   *ratemonitor.Outcome
	Malformed int

	// HostFailures counts tests whose last attempt failed, independent of the
	// monitor's enablement or retry filtering.
	HostFailures int
	// PackageFailures counts packages whose latest run failed without a
	// failing test: build errors, TestMain exits, panics in init.
	PackageFailures int
	// CommandExit is the spawned command's exit code, or -1 for stdin runs.
	CommandExit int
	Interrupted bool
}

// ExitCode maps the result to a process exit status. An early termination
// always fails the run, whatever the test tally says.
func (r Result) ExitCode() int {
	switch {
	case r.Outcome != nil && r.Outcome.Status == ratemonitor.OutcomeFailed:
		return ExitFailed
	case r.Interrupted:
		return ExitInterrupted
	case r.HostFailures > 0 || r.PackageFailures > 0 || r.CommandExit > 0:
		return ExitFailed
	default:
		return ExitOK
	}
}

// run is the state of one monitored run.
type run struct {
	*Runner
	id      string
	log     *zap.Logger
	monitor *ratemonitor.Monitor
	tracker *testjson.Tracker
	last    map[string]ratemonitor.Status // test ID -> latest attempt status
	onStop  func()
	stopped bool
	started time.Time
}

func (r *Runner) begin() *run {
	id := r.newID()
	rn := &run{
		Runner:  r,
		id:      id,
		log:     r.log.With(zap.String("run_id", id)),
		monitor: ratemonitor.New(r.cfg.Monitor, r.sink, r.term),
		tracker: testjson.NewTracker(r.cfg.Group, r.cfg.Subtests),
		last:    make(map[string]ratemonitor.Status),
		started: r.now(),
	}
	rn.log.Debug("run starting", zap.Int("groups", len(r.cfg.RunConfig.Groups)))
	rn.monitor.OnRunStart(r.cfg.RunConfig)
	return rn
}

// handle delivers one event. All calls happen on the Stream goroutine.
func (rn *run) handle(e testjson.TestEvent) {
	for _, a := range rn.tracker.Handle(e) {
		rn.last[a.TestID] = a.Status
		rn.monitor.OnAttemptFinished(a)
	}
	if rn.monitor.ShouldStop() && !rn.stopped {
		rn.stopped = true
		rn.log.Info("monitor requested stop", zap.String("reason", rn.monitor.Reason()))
		if rn.onStop != nil {
			rn.onStop()
		}
	}
}

func (rn *run) finish(malformed int) Result {
	if malformed > 0 {
		rn.log.Warn("skipped malformed input lines", zap.Int("count", malformed))
	}

	outcome := rn.monitor.OnRunEnd()
	res := Result{
		RunID:       rn.id,
		Stats:       rn.monitor.Stats(),
		Outcome:     outcome,
		Malformed:   malformed,
		CommandExit: -1,
	}
	for _, s := range rn.last {
		if s.IsFailure() {
			res.HostFailures++
		}
	}
	for _, pf := range rn.tracker.FailedPackages() {
		res.PackageFailures++
		rn.log.Warn("package failed", zap.String("package", pf.Package), zap.String("reason", pf.Reason))
	}

	if rn.cfg.MetricsFile != "" {
		snap := metrics.Snapshot{
			RunID:    rn.id,
			Stats:    res.Stats,
			Config:   rn.monitor.Config(),
			Duration: rn.now().Sub(rn.started),
		}
		if err := metrics.WriteFile(rn.cfg.MetricsFile, snap); err != nil {
			rn.log.Error("writing metrics file", zap.String("path", rn.cfg.MetricsFile), zap.Error(err))
		}
	}
	return res
}

// Run monitors a go test -json stream read from src until EOF, cancellation,
// or early termination. After termination reading stops at once.
func (r *Runner) Run(ctx context.Context, src io.Reader) (Result, error) {
	rn := r.begin()

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	rn.onStop = cancel

	malformed, err := testjson.Stream(streamCtx, r.tee(src), rn.handle)
	res := rn.finish(malformed)
	r.term.Stop()

	switch {
	case err == nil:
	case rn.stopped && errors.Is(err, context.Canceled) && ctx.Err() == nil:
	case ctx.Err() != nil:
		res.Interrupted = true
	default:
		return res, fmt.Errorf("reading test events: %w", err)
	}
	return res, nil
}

// RunCommand starts name with args, monitors its stdout as go test -json,
// and forwards its stderr to Passthrough. After termination the command's
// process group is interrupted and its remaining output drained; the
// terminator kills it if it outlives the grace period.
func (r *Runner) RunCommand(ctx context.Context, name string, args ...string) (Result, error) {
	cmd := exec.Command(name, args...)
	terminate.SetProcessGroup(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Result{CommandExit: -1}, fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return Result{CommandExit: -1}, fmt.Errorf("creating stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return Result{CommandExit: -1}, fmt.Errorf("starting %s: %w", name, err)
	}
	r.term.Attach(cmd)

	rn := r.begin()
	rn.log.Debug("command started", zap.String("command", name), zap.Strings("args", args), zap.Int("pid", cmd.Process.Pid))
	rn.onStop = func() {
		if err := terminate.InterruptProcessGroup(cmd); err != nil {
			rn.log.Debug("interrupting command", zap.Error(err))
		}
	}

	stopInterrupt := context.AfterFunc(ctx, func() { _ = terminate.InterruptProcessGroup(cmd) })
	defer stopInterrupt()

	stderrDone := make(chan struct{})
	go func() {
		defer close(stderrDone)
		scanner := bufio.NewScanner(stderr)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			r.Passthrough(scanner.Text())
		}
	}()

	// The context is not passed down: after cancellation the pipe is drained
	// until the interrupted command closes it.
	malformed, streamErr := testjson.Stream(context.Background(), r.tee(stdout), rn.handle)
	<-stderrDone
	waitErr := cmd.Wait()

	res := rn.finish(malformed)
	r.term.Stop()
	res.CommandExit = exitCodeOf(waitErr)
	res.Interrupted = ctx.Err() != nil
	rn.log.Debug("command finished", zap.Int("exit_code", res.CommandExit))

	if streamErr != nil {
		return res, fmt.Errorf("reading test events: %w", streamErr)
	}
	var exitErr *exec.ExitError
	if waitErr != nil && !errors.As(waitErr, &exitErr) {
		return res, fmt.Errorf("waiting for %s: %w", name, waitErr)
	}
	return res, nil
}

// tee copies src to the configured Tee, keeping src's Close so Stream can
// still unblock its scanner on cancellation.
func (r *Runner) tee(src io.Reader) io.Reader {
	if r.cfg.Tee == nil {
		return src
	}
	tr := io.TeeReader(src, r.cfg.Tee)
	if c, ok := src.(io.Closer); ok {
		return struct {
			io.Reader
			io.Closer
		}{tr, c}
	}
	return tr
}

// exitCodeOf returns the exit status carried by a Wait error. A process killed
// by a signal reports -1 from ExitCode, which maps to ExitFailed here.
func exitCodeOf(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if code := exitErr.ExitCode(); code >= 0 {
			return code
		}
	}
	return ExitFailed
}
