package supervisor

import "errors"

// Status is the lifecycle state of a managed server.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusStopping Status = "stopping"
	StatusCrashed  Status = "crashed"
)

// Active reports whether a process may exist for the server.
func (s Status) Active() bool {
	return s == StatusStarting || s == StatusRunning || s == StatusStopping
}

var (
	ErrServerNotFound = errors.New("server not found")
	ErrServerBusy     = errors.New("server is busy")
	ErrAlreadyRunning = errors.New("server is already running")
	ErrNotRunning     = errors.New("server is not running")
	ErrDuplicateID    = errors.New("server id already exists")
	ErrShuttingDown   = errors.New("supervisor is shutting down")
	ErrInvalidConfig  = errors.New("invalid server config")
)
