//go:build !windows

package procmanager

import (
	"os/exec"
	"syscall"
)

// configureSysProcAttr places the child in its own process group so a
// graceful/forced signal can be delivered without affecting the supervisor.
func configureSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}
