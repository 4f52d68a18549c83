//go:build !windows

package driver

import (
	"errors"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// configureProcess puts the agent in its own process group so a timeout can
// take down every helper it spawned, not just the direct child.
func configureProcess(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error { return signalGroup(cmd, unix.SIGKILL) }
}

func terminateProcess(cmd *exec.Cmd) error {
	return signalGroup(cmd, unix.SIGTERM)
}

func killProcess(cmd *exec.Cmd) error {
	return signalGroup(cmd, unix.SIGKILL)
}

func signalGroup(cmd *exec.Cmd, sig unix.Signal) error {
	if cmd.Process == nil {
		return nil
	}
	err := unix.Kill(-cmd.Process.Pid, sig)
	if errors.Is(err, unix.ESRCH) {
		return os.ErrProcessDone
	}
	if err != nil {
		// Group signalling can fail if the child never became a leader.
		return cmd.Process.Signal(sig)
	}
	return nil
}
