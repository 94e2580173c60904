//go:build !windows

package activetable

import (
	"os"
	"syscall"
)

// Signal 0 probes existence without delivering anything.
func pidLive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
