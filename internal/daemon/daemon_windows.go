//go:build windows

package daemon

import (
	"os/exec"
	"syscall"
)

// setProcAttr detaches the child into its own process group on Windows.
func setProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP,
	}
}
