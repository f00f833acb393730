//go:build linux

package process

import "syscall"

// Pdeathsig makes the kernel kill the server if the supervisor dies without
// running its shutdown path.
func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGKILL,
	}
}
