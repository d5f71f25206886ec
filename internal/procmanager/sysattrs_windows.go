//go:build windows

package procmanager

import "os/exec"

// configureSysProcAttr is a no-op on Windows; job-object based grouping is
// out of scope for this supervisor.
func configureSysProcAttr(cmd *exec.Cmd) {}
