package process

import (
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
)

// LaunchErrorKind classifies why a process could not be started.
type LaunchErrorKind string

const (
	KindExecutableNotFound LaunchErrorKind = "executable_not_found"
	KindPermissionDenied   LaunchErrorKind = "permission_denied"
	KindWorkingDirInvalid  LaunchErrorKind = "working_dir_invalid"
	KindStartFailed        LaunchErrorKind = "start_failed"
)

var (
	ErrExecutableNotFound = errors.New("executable not found")
	ErrPermissionDenied   = errors.New("permission denied")
	ErrWorkingDirInvalid  = errors.New("working directory invalid")
	ErrStartFailed        = errors.New("process start failed")
)

func (k LaunchErrorKind) sentinel() error {
	switch k {
	case KindExecutableNotFound:
		return ErrExecutableNotFound
	case KindPermissionDenied:
		return ErrPermissionDenied
	case KindWorkingDirInvalid:
		return ErrWorkingDirInvalid
	default:
		return ErrStartFailed
	}
}

// LaunchError is returned by Launch when the OS refused to create the process.
type LaunchError struct {
	Kind LaunchErrorKind
	Path string
	Err  error
}

func (e *LaunchError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind.sentinel(), e.Path)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind.sentinel(), e.Path, e.Err)
}

func (e *LaunchError) Unwrap() error {
	return e.Err
}

// Is lets callers match on the kind sentinels with errors.Is.
func (e *LaunchError) Is(target error) bool {
	return target == e.Kind.sentinel()
}

func classifyStartError(path string, err error) *LaunchError {
	kind := KindStartFailed
	switch {
	case errors.Is(err, exec.ErrNotFound), errors.Is(err, fs.ErrNotExist):
		kind = KindExecutableNotFound
	case errors.Is(err, fs.ErrPermission):
		kind = KindPermissionDenied
	}
	return &LaunchError{Kind: kind, Path: path, Err: err}
}
