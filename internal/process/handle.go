package process

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Spec describes a process to launch.
type Spec struct {
	Path string
	Args []string
	Dir  string
	Env  []string
}

// ExitStatus describes how a process ended.
type ExitStatus struct {
	Code     int       `json:"code"`
	Signal   string    `json:"signal,omitempty"`
	Forced   bool      `json:"forced"`
	ExitedAt time.Time `json:"exited_at"`
	Err      error     `json:"-"`

	// Requested is set when a stop was asked for before the process was
	// reaped. An exit that beats the request does not count as requested.
	Requested bool `json:"requested"`
}

// Signaled reports whether the process was terminated by a signal.
func (s ExitStatus) Signaled() bool {
	return s.Signal != ""
}

func (s ExitStatus) String() string {
	if s.Signal != "" {
		return fmt.Sprintf("terminated by signal %s", s.Signal)
	}
	return fmt.Sprintf("exit code %d", s.Code)
}

// Handle is a running (or exited) child process. The child is placed in its
// own process group so stop and kill reach everything it spawned.
type Handle struct {
	cmd       *exec.Cmd
	pid       int
	startedAt time.Time

	stdout *os.File
	stderr *os.File

	done   chan struct{}
	status ExitStatus

	stopRequested atomic.Bool
	forced        atomic.Bool
	closeOnce     sync.Once
	groupOnce     sync.Once
}

// Launch starts the process described by spec. Output is delivered through
// Stdout and Stderr which reach EOF once every writer in the process group
// has exited. The context only bounds the launch itself, not the process.
func Launch(ctx context.Context, spec Spec) (*Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, &LaunchError{Kind: KindStartFailed, Path: spec.Path, Err: err}
	}

	path, err := resolveExecutable(spec.Path)
	if err != nil {
		return nil, err
	}
	if err := checkWorkingDir(spec.Dir); err != nil {
		return nil, err
	}

	outR, outW, err := os.Pipe()
	if err != nil {
		return nil, &LaunchError{Kind: KindStartFailed, Path: path, Err: err}
	}
	errR, errW, err := os.Pipe()
	if err != nil {
		outR.Close()
		outW.Close()
		return nil, &LaunchError{Kind: KindStartFailed, Path: path, Err: err}
	}

	cmd := exec.Command(path, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = append(os.Environ(), spec.Env...)
	cmd.Stdout = outW
	cmd.Stderr = errW
	cmd.SysProcAttr = sysProcAttr()

	if err := cmd.Start(); err != nil {
		outR.Close()
		outW.Close()
		errR.Close()
		errW.Close()
		return nil, classifyStartError(path, err)
	}

	// The child holds its own copies of the write ends.
	outW.Close()
	errW.Close()

	h := &Handle{
		cmd:       cmd,
		pid:       cmd.Process.Pid,
		startedAt: time.Now(),
		stdout:    outR,
		stderr:    errR,
		done:      make(chan struct{}),
	}
	go h.wait()

	return h, nil
}

func (h *Handle) wait() {
	err := h.cmd.Wait()

	status := ExitStatus{
		Code:      -1,
		ExitedAt:  time.Now(),
		Forced:    h.forced.Load(),
		Requested: h.stopRequested.Load(),
	}
	if ps := h.cmd.ProcessState; ps != nil {
		status.Code = ps.ExitCode()
		status.Signal = exitSignal(ps)
	}
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		status.Err = err
	}

	h.status = status
	close(h.done)
}

func (h *Handle) PID() int {
	return h.pid
}

func (h *Handle) StartedAt() time.Time {
	return h.startedAt
}

func (h *Handle) Stdout() *os.File {
	return h.stdout
}

func (h *Handle) Stderr() *os.File {
	return h.stderr
}

// Done is closed once the process has exited and been reaped.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the process exits and returns its status. It may be
// called any number of times from any goroutine.
func (h *Handle) Wait() ExitStatus {
	<-h.done
	return h.status
}

// Exited reports whether the process has been reaped.
func (h *Handle) Exited() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// StopRequested reports whether SignalStop or Kill has been called.
func (h *Handle) StopRequested() bool {
	return h.stopRequested.Load()
}

// SignalStop asks the process group to exit and escalates to a kill once
// grace elapses or ctx is cancelled. A grace of zero kills immediately.
// It returns once the process has exited; forced reports whether the kill
// was needed.
func (h *Handle) SignalStop(ctx context.Context, grace time.Duration) (forced bool) {
	h.stopRequested.Store(true)
	defer h.KillGroup()
	if h.Exited() {
		return false
	}

	if grace <= 0 {
		h.Kill()
		<-h.done
		return true
	}

	if err := terminate(h.pid); err != nil {
		h.Kill()
		<-h.done
		return true
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-h.done:
		return false
	case <-timer.C:
	case <-ctx.Done():
	}

	h.Kill()
	<-h.done
	return true
}

// KillGroup kills whatever is left of the process group once the leader
// has been reaped, such as children that ignored the stop signal or were
// orphaned by a crash. It does nothing while the leader is still running.
func (h *Handle) KillGroup() {
	if !h.Exited() {
		return
	}
	h.groupOnce.Do(func() {
		_ = killOrphans(h.pid)
	})
}

// Kill forcibly terminates the process group without waiting.
func (h *Handle) Kill() {
	h.stopRequested.Store(true)
	if h.Exited() {
		h.KillGroup()
		return
	}
	h.forced.Store(true)
	if err := killGroup(h.pid); err != nil {
		_ = h.cmd.Process.Kill()
	}
}

// CloseOutput closes the read ends of the output pipes. Readers blocked on
// them return with an error. Used when a grandchild keeps the pipes open
// after the main process has exited.
func (h *Handle) CloseOutput() {
	h.closeOnce.Do(func() {
		h.stdout.Close()
		h.stderr.Close()
	})
}

// CommandLine renders the launched command for display.
func (h *Handle) CommandLine() string {
	return strings.Join(h.cmd.Args, " ")
}

func resolveExecutable(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", &LaunchError{Kind: KindExecutableNotFound, Path: path, Err: errors.New("no executable configured")}
	}

	if !strings.ContainsAny(path, `/\`) {
		resolved, err := exec.LookPath(path)
		if err != nil {
			return "", classifyStartError(path, err)
		}
		return resolved, nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return "", classifyStartError(path, err)
	}
	if info.IsDir() {
		return "", &LaunchError{Kind: KindExecutableNotFound, Path: path, Err: errors.New("path is a directory")}
	}
	if err := checkExecutable(info); err != nil {
		return "", &LaunchError{Kind: KindPermissionDenied, Path: path, Err: err}
	}
	return path, nil
}

func checkWorkingDir(dir string) error {
	if dir == "" {
		return nil
	}
	info, err := os.Stat(dir)
	if err != nil {
		return &LaunchError{Kind: KindWorkingDirInvalid, Path: dir, Err: err}
	}
	if !info.IsDir() {
		return &LaunchError{Kind: KindWorkingDirInvalid, Path: dir, Err: errors.New("not a directory")}
	}
	return nil
}
