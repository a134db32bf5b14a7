//go:build unix

package executor

import (
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// setSysProcAttr puts the child in its own process group so the whole
// backend tree can be signalled at once.
func setSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func terminate(p *os.Process) error {
	return signalGroup(p, unix.SIGTERM)
}

func kill(p *os.Process) error {
	return signalGroup(p, unix.SIGKILL)
}

// signalGroup tries the process group first (negative PID), then falls back
// to the process itself.
func signalGroup(p *os.Process, sig unix.Signal) error {
	if p.Pid > 0 {
		if err := unix.Kill(-p.Pid, sig); err == nil {
			return nil
		}
	}
	return p.Signal(sig)
}
