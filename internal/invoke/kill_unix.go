//go:build unix

package invoke

import (
	"os/exec"
	"syscall"
	"time"
)

// configureKill places the shell in its own process group so a timeout also
// takes down whatever the command line spawned.
func configureKill(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = time.Second
}
