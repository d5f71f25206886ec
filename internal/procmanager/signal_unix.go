//go:build !windows

package procmanager

import (
	"bytes"
	"os"
	"strconv"
	"syscall"
)

// isAlive performs a signal-0 liveness probe against the process group,
// treating a Linux zombie as not alive.
func isAlive(pid int) bool {
	if isZombieLinux(pid) {
		return false
	}
	return syscall.Kill(-pid, 0) == nil || syscall.Kill(pid, 0) == nil
}

func sendSignal(pid int, sig Signal) error {
	return syscall.Kill(-pid, signalFor(sig))
}

func forceKill(pid int) error {
	return syscall.Kill(-pid, syscall.SIGKILL)
}

func signalFor(s Signal) syscall.Signal {
	if s == SignalInterrupt {
		return syscall.SIGINT
	}
	return syscall.SIGTERM
}

func isZombieLinux(pid int) bool {
	b, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/status")
	if err != nil {
		return false
	}
	return bytes.Contains(b, []byte("State:\tZ"))
}
