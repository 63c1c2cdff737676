//go:build !unix

package terminate

import (
	"os"
	"os/exec"
)

// SetProcessGroup is a no-op on non-Unix platforms.
func SetProcessGroup(cmd *exec.Cmd) {}

// InterruptProcessGroup signals the process directly on non-Unix platforms.
func InterruptProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Signal(os.Interrupt)
}

// KillProcessGroup kills the process directly on non-Unix platforms.
func KillProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}
