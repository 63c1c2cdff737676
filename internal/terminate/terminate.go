// Package terminate carries out the failure-rate monitor's termination
// request: after the grace period it kills the test command and exits.
package terminate

import (
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/dkoosis/ratewatch/pkg/ratemonitor"
)

// ExitCode is the status the process exits with when terminated early.
const ExitCode = 1

// Controller implements ratemonitor.Terminator. It is safe for concurrent use.
type Controller struct {
	sink ratemonitor.Sink
	exit func(int)

	mu    sync.Mutex
	cmd   *exec.Cmd
	timer *time.Timer
	fired bool
}

// New creates a controller that announces through sink and exits through
// exit. A nil exit uses os.Exit.
func New(sink ratemonitor.Sink, exit func(int)) *Controller {
	if exit == nil {
		exit = os.Exit
	}
	if sink == nil {
		sink = ratemonitor.SinkFunc(func(ratemonitor.Notice) {})
	}
	return &Controller{sink: sink, exit: exit}
}

// Attach registers the spawned test command, whose process group is killed
// when the controller fires.
func (c *Controller) Attach(cmd *exec.Cmd) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cmd = cmd
}

// Terminate schedules the kill-and-exit after grace. Only the first call
// schedules anything. A zero grace fires at once on the timer goroutine.
func (c *Controller) Terminate(grace time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timer != nil || c.fired {
		return
	}
	if grace < 0 {
		grace = 0
	}
	c.timer = time.AfterFunc(grace, c.fire)
}

// Pending reports whether a termination is scheduled and has not fired.
func (c *Controller) Pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timer != nil && !c.fired
}

// Stop cancels a scheduled termination, for hosts that finish flushing and
// exit on their own before the grace period ends. It reports whether a
// pending termination was cancelled.
func (c *Controller) Stop() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timer == nil || c.fired {
		return false
	}
	if !c.timer.Stop() {
		return false
	}
	c.timer = nil
	return true
}

func (c *Controller) fire() {
	c.mu.Lock()
	if c.fired {
		c.mu.Unlock()
		return
	}
	c.fired = true
	cmd := c.cmd
	c.mu.Unlock()

	c.sink.Notify(ratemonitor.Notice{Kind: ratemonitor.NoticeTerminating, Text: "Terminating test process now."})
	if cmd != nil {
		_ = KillProcessGroup(cmd)
	}
	c.exit(ExitCode)
}
