//go:build !windows

package launcher

import "syscall"

// New session: the engine must survive this process and ignore its
// controlling terminal.
func detachedSysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setsid: true}
}
