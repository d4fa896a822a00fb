//go:build unix

// Package procgroup runs child tools outside the terminal's foreground
// process group, so a Ctrl-C reaches only this process and the stop signal
// decides when work ends.
package procgroup

import (
	"os/exec"
	"syscall"
)

// Detach puts cmd in its own process group. Cancelling cmd's context kills
// the whole group, including helpers the tool spawned. cmd must come from
// exec.CommandContext.
func Detach(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}
