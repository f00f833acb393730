//go:build windows

package process

import (
	"io/fs"
	"os"
	"os/exec"
	"strconv"
	"syscall"

	"golang.org/x/sys/windows"
)

func checkExecutable(fs.FileInfo) error {
	return nil
}

// A new process group is required for CTRL_BREAK to target only the server.
func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		CreationFlags: windows.CREATE_NEW_PROCESS_GROUP,
	}
}

func terminate(pid int) error {
	return windows.GenerateConsoleCtrlEvent(windows.CTRL_BREAK_EVENT, uint32(pid))
}

// killGroup terminates the process tree rooted at pid.
func killGroup(pid int) error {
	return exec.Command("taskkill", "/T", "/F", "/PID", strconv.Itoa(pid)).Run()
}

// killOrphans is a no-op: taskkill /T walks the tree from a live parent and
// cannot find children once the leader is gone.
func killOrphans(int) error {
	return nil
}

func exitSignal(*os.ProcessState) string {
	return ""
}
