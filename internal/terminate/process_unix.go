//go:build unix

package terminate

import (
	"os/exec"
	"syscall"
)

// SetProcessGroup configures the command to run in its own process group, so
// test binaries started by go test are signalled along with it.
func SetProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// InterruptProcessGroup sends SIGINT to the command's process group, letting
// go test print what it has before exiting.
func InterruptProcessGroup(cmd *exec.Cmd) error {
	return signalGroup(cmd, syscall.SIGINT)
}

// KillProcessGroup sends SIGKILL to the command's process group.
func KillProcessGroup(cmd *exec.Cmd) error {
	return signalGroup(cmd, syscall.SIGKILL)
}

func signalGroup(cmd *exec.Cmd, sig syscall.Signal) error {
	if cmd.Process == nil {
		return nil
	}
	pgid, err := syscall.Getpgid(cmd.Process.Pid)
	if err != nil {
		return cmd.Process.Signal(sig)
	}
	return syscall.Kill(-pgid, sig)
}
