//go:build windows

package engine

import "os/exec"

// Windows has no POSIX process groups; the deadline kill terminates the
// direct child only.
func setProcGroup(cmd *exec.Cmd) {}

func killProcGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}
