//go:build !windows

package process

import (
	"errors"
	"io/fs"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

func checkExecutable(info fs.FileInfo) error {
	if info.Mode().Perm()&0o111 == 0 {
		return errors.New("file is not executable")
	}
	return nil
}

// terminate sends SIGTERM to the whole process group.
func terminate(pid int) error {
	if err := unix.Kill(-pid, unix.SIGTERM); err != nil {
		if errors.Is(err, unix.ESRCH) {
			return unix.Kill(pid, unix.SIGTERM)
		}
		return err
	}
	return nil
}

func killGroup(pid int) error {
	if err := unix.Kill(-pid, unix.SIGKILL); err != nil {
		if errors.Is(err, unix.ESRCH) {
			return unix.Kill(pid, unix.SIGKILL)
		}
		return err
	}
	return nil
}

// killOrphans kills the members of a group whose leader is gone. The pid is
// not signalled on its own since it may already belong to another process.
func killOrphans(pgid int) error {
	if err := unix.Kill(-pgid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		return err
	}
	return nil
}

func exitSignal(ps *os.ProcessState) string {
	ws, ok := ps.Sys().(syscall.WaitStatus)
	if !ok || !ws.Signaled() {
		return ""
	}
	return unix.SignalName(ws.Signal())
}
