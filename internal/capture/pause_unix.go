//go:build !windows

package capture

import (
	"os/exec"
	"syscall"
)

// POSIX platforms pause the recorder itself: SIGSTOP halts it without
// tearing down the device, SIGCONT picks the stream back up.
const processSuspendSupported = true

func suspendProcess(cmd *exec.Cmd) error {
	return cmd.Process.Signal(syscall.SIGSTOP)
}

func continueProcess(cmd *exec.Cmd) error {
	return cmd.Process.Signal(syscall.SIGCONT)
}

func terminateProcess(cmd *exec.Cmd) error {
	return cmd.Process.Signal(syscall.SIGTERM)
}
