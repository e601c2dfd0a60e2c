//go:build windows

package capture

import (
	"errors"
	"os/exec"
)

// Windows has no process-level suspend, so pause is emulated at the
// stream layer: the recorder keeps running and its output is discarded
// until resume. Duration accounting is wall-clock based in both modes,
// so pause bookkeeping is identical across platforms.
const processSuspendSupported = false

func suspendProcess(*exec.Cmd) error {
	return errors.New("process suspend not supported on windows")
}

func continueProcess(*exec.Cmd) error {
	return errors.New("process continue not supported on windows")
}

// Windows has no SIGTERM; termination goes straight to Kill.
func terminateProcess(cmd *exec.Cmd) error {
	return cmd.Process.Kill()
}
