package supervisor

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ShutdownAll stops every server concurrently and returns once all of them
// are stopped. Servers still alive when timeout elapses are killed. After
// ShutdownAll begins, Start and AddServer fail with ErrShuttingDown.
func (s *Supervisor) ShutdownAll(timeout time.Duration) {
	s.closing.Store(true)
	if timeout < 0 {
		timeout = 0
	}

	entries := s.entries()
	s.logger.Info("shutting down all servers", "count", len(entries), "timeout", timeout)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var wg sync.WaitGroup
	for _, e := range entries {
		wg.Add(1)
		go func(e *entry) {
			defer wg.Done()
			s.shutdownEntry(ctx, e, timeout)
		}(e)
	}

	finished := make(chan struct{})
	go func() {
		wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
	case <-ctx.Done():
		// A stop already in progress may be using a longer grace period
		// and still hold the command lock.
		s.killAll(entries)
		<-finished
	}

	s.logger.Info("all servers stopped")
}

func (s *Supervisor) shutdownEntry(ctx context.Context, e *entry, grace time.Duration) {
	e.cmdMu.Lock()
	defer e.cmdMu.Unlock()

	e.stateMu.Lock()
	status := e.status
	e.stateMu.Unlock()

	if status == StatusRunning {
		if ctx.Err() != nil {
			grace = 0
		}
		if err := s.stopLocked(ctx, e, grace); err != nil && !errors.Is(err, ErrNotRunning) {
			s.logger.Warn("shutdown stop failed", "server_id", e.id, "error", err)
		}
	}

	// Crashed servers have no process left; settle them as stopped.
	s.update(e, func() error {
		if e.status == StatusCrashed {
			e.status = StatusStopped
		}
		return nil
	})
}

func (s *Supervisor) killAll(entries []*entry) {
	for _, e := range entries {
		e.stateMu.Lock()
		h := e.handle
		e.stateMu.Unlock()
		if h != nil {
			s.logger.Warn("force killing server after shutdown timeout", "server_id", e.id, "pid", h.PID())
			h.Kill()
		}
	}
}
