//go:build !windows

package daemon

import (
	"os/exec"
	"syscall"
)

// setProcAttr detaches the child into its own process group so it survives
// the parent terminal.
func setProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
}
