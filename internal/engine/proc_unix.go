//go:build !windows

package engine

import (
	"os/exec"
	"syscall"
)

// setProcGroup places the worker in its own process group so a deadline kill
// reaches helpers the worker spawned, not just the worker itself.
func setProcGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// killProcGroup SIGKILLs the worker's whole process group.
func killProcGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL); err != nil {
		// Group already gone or never created; fall back to the direct child.
		return cmd.Process.Kill()
	}
	return nil
}
