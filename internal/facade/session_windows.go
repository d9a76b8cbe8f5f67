//go:build windows

package facade

import "os/exec"

// setProcAttr is a no-op on Windows: cdb has no POSIX process-group
// equivalent wired up here.
func setProcAttr(cmd *exec.Cmd) {}

// killProcessGroup falls back to killing just the debugger process itself.
func killProcessGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	_ = cmd.Process.Kill()
}
