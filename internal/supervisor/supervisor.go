package supervisor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yourusername/unreal-server-manager/internal/events"
	"github.com/yourusername/unreal-server-manager/internal/logbuffer"
	"github.com/yourusername/unreal-server-manager/internal/process"
	"github.com/yourusername/unreal-server-manager/internal/sampler"
)

// Options tunes supervisor behaviour. Zero values select the defaults.
type Options struct {
	StopGracePeriod time.Duration
	SampleInterval  time.Duration
	LogBufferSize   int
	SampleHistory   int
	// CleanExitCodes lists exit codes that count as a clean self-initiated
	// shutdown rather than a crash.
	CleanExitCodes []int
	// ReaderGrace bounds how long the output readers may keep draining
	// after the process has exited.
	ReaderGrace time.Duration
	Logger      *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.StopGracePeriod <= 0 {
		o.StopGracePeriod = 7 * time.Second
	}
	if o.SampleInterval <= 0 {
		o.SampleInterval = sampler.DefaultInterval
	}
	if o.LogBufferSize <= 0 {
		o.LogBufferSize = logbuffer.DefaultCapacity
	}
	if o.SampleHistory <= 0 {
		o.SampleHistory = 60
	}
	if o.ReaderGrace <= 0 {
		o.ReaderGrace = 2 * time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Supervisor owns the registry of managed servers and drives their
// lifecycles. Commands for one server are serialized; commands for
// different servers run in parallel.
type Supervisor struct {
	bus    *events.Bus
	opts   Options
	logger *slog.Logger

	mu      sync.RWMutex
	servers map[string]*entry

	closing atomic.Bool
}

func New(bus *events.Bus, opts Options) *Supervisor {
	opts = opts.withDefaults()
	return &Supervisor{
		bus:     bus,
		opts:    opts,
		logger:  opts.Logger,
		servers: make(map[string]*entry),
	}
}

// Bus returns the event bus the supervisor publishes to.
func (s *Supervisor) Bus() *events.Bus {
	return s.bus
}

// AddServer registers a server and returns its id.
func (s *Supervisor) AddServer(cfg ServerConfig) (string, error) {
	if s.closing.Load() {
		return "", ErrShuttingDown
	}

	cfg = cfg.Clone()
	if err := cfg.normalize(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.servers[cfg.ID]; exists {
		return "", fmt.Errorf("%w: %s", ErrDuplicateID, cfg.ID)
	}
	s.servers[cfg.ID] = newEntry(cfg, s.opts)

	s.logger.Info("server added", "server_id", cfg.ID, "name", cfg.Name)
	return cfg.ID, nil
}

// UpdateServer replaces the configuration of a server that is not running.
func (s *Supervisor) UpdateServer(cfg ServerConfig) error {
	e, err := s.lookup(cfg.ID)
	if err != nil {
		return err
	}

	cfg = cfg.Clone()
	if err := cfg.normalize(); err != nil {
		return err
	}

	e.cmdMu.Lock()
	defer e.cmdMu.Unlock()

	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	if e.removed {
		return ErrServerNotFound
	}
	if e.status.Active() {
		return fmt.Errorf("%w: %s is %s", ErrServerBusy, e.id, e.status)
	}
	e.cfg = cfg
	return nil
}

// RemoveServer deletes a server. Only stopped or crashed servers can be removed.
func (s *Supervisor) RemoveServer(id string) error {
	e, err := s.lookup(id)
	if err != nil {
		return err
	}

	e.cmdMu.Lock()
	defer e.cmdMu.Unlock()

	e.stateMu.Lock()
	if e.removed {
		e.stateMu.Unlock()
		return ErrServerNotFound
	}
	if e.status.Active() {
		status := e.status
		e.stateMu.Unlock()
		return fmt.Errorf("%w: %s is %s", ErrServerBusy, id, status)
	}
	e.removed = true
	e.stateMu.Unlock()

	s.mu.Lock()
	delete(s.servers, id)
	s.mu.Unlock()

	s.logger.Info("server removed", "server_id", id)
	return nil
}

// GetStatus returns the current lifecycle state.
func (s *Supervisor) GetStatus(id string) (Status, error) {
	e, err := s.lookup(id)
	if err != nil {
		return "", err
	}
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	return e.status, nil
}

func (s *Supervisor) GetServer(id string) (ServerInfo, error) {
	e, err := s.lookup(id)
	if err != nil {
		return ServerInfo{}, err
	}
	return e.info(), nil
}

// ListServers returns every registered server ordered by name.
func (s *Supervisor) ListServers() []ServerInfo {
	entries := s.entries()
	infos := make([]ServerInfo, 0, len(entries))
	for _, e := range entries {
		infos = append(infos, e.info())
	}
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].Config.Name != infos[j].Config.Name {
			return infos[i].Config.Name < infos[j].Config.Name
		}
		return infos[i].Config.ID < infos[j].Config.ID
	})
	return infos
}

// Configs returns a copy of every server config, for persistence.
func (s *Supervisor) Configs() []ServerConfig {
	infos := s.ListServers()
	configs := make([]ServerConfig, len(infos))
	for i, info := range infos {
		configs[i] = info.Config
	}
	return configs
}

// Start launches the server process. Launch failures are returned and leave
// the server stopped.
func (s *Supervisor) Start(ctx context.Context, id string) error {
	e, err := s.lookup(id)
	if err != nil {
		return err
	}

	e.cmdMu.Lock()
	defer e.cmdMu.Unlock()

	return s.startLocked(ctx, e)
}

func (s *Supervisor) startLocked(ctx context.Context, e *entry) error {
	if s.closing.Load() {
		return ErrShuttingDown
	}

	var cfg ServerConfig
	err := s.update(e, func() error {
		if e.removed {
			return ErrServerNotFound
		}
		if e.status.Active() {
			return fmt.Errorf("%w: %s is %s", ErrAlreadyRunning, e.id, e.status)
		}
		e.status = StatusStarting
		e.lastError = ""
		cfg = e.cfg.Clone()
		return nil
	})
	if err != nil {
		return err
	}

	if cfg.Profile == ProfileUnreal {
		if port := EffectivePort(cfg); PortInUse(port) {
			s.appendLog(e, logbuffer.StreamSupervisor, fmt.Sprintf("Warning: port %d appears to be in use", port))
			s.logger.Warn("server port in use", "server_id", e.id, "port", port)
		}
	}

	handle, err := process.Launch(ctx, BuildCommand(cfg))
	if err != nil {
		s.appendLog(e, logbuffer.StreamSupervisor, "Failed to start: "+err.Error())
		s.update(e, func() error {
			e.status = StatusStopped
			e.lastError = err.Error()
			e.outbox = append(e.outbox, events.LaunchFailed(e.id, err))
			return nil
		})
		s.logger.Warn("server launch failed", "server_id", e.id, "error", err)
		return err
	}

	// The handle is recorded while still Starting so a forced shutdown can
	// reach the process before the run is fully set up.
	e.history.Reset()
	task := sampler.Start(handle.PID(), s.opts.SampleInterval, &runSink{s: s, e: e}, s.logger)
	exited := make(chan struct{})
	s.update(e, func() error {
		e.handle = handle
		e.sampler = task
		e.exited = exited
		e.startedAt = handle.StartedAt()
		return nil
	})

	s.appendLog(e, logbuffer.StreamSupervisor, "Started: "+handle.CommandLine())

	readers := &sync.WaitGroup{}
	readers.Add(2)
	go s.readOutput(e, handle.Stdout(), logbuffer.StreamStdout, readers)
	go s.readOutput(e, handle.Stderr(), logbuffer.StreamStderr, readers)

	s.update(e, func() error {
		e.status = StatusRunning
		return nil
	})

	s.logger.Info("server started", "server_id", e.id, "pid", handle.PID())
	go s.watch(e, handle, task, readers, exited)
	return nil
}

// watch waits for the process to exit and finishes the run. It is the only
// place a run ends, whether the exit was requested or not.
func (s *Supervisor) watch(e *entry, h *process.Handle, task *sampler.Task, readers *sync.WaitGroup, exited chan struct{}) {
	defer close(exited)

	status := h.Wait()
	h.KillGroup()

	drained := make(chan struct{})
	go func() {
		readers.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(s.opts.ReaderGrace):
		s.logger.Debug("output still open after exit", "server_id", e.id)
	}
	h.CloseOutput()
	<-drained

	task.Stop()

	if status.Signaled() {
		s.appendLog(e, logbuffer.StreamSupervisor, fmt.Sprintf("Process terminated by signal %s", status.Signal))
	} else {
		s.appendLog(e, logbuffer.StreamSupervisor, fmt.Sprintf("Process exited with code %d", status.Code))
	}

	crashed := false
	s.update(e, func() error {
		uptime := status.ExitedAt.Sub(e.startedAt)
		e.handle = nil
		e.sampler = nil
		e.lastExit = &status

		switch {
		case status.Requested:
			e.status = StatusStopped
		case !status.Signaled() && slices.Contains(s.opts.CleanExitCodes, status.Code):
			e.status = StatusStopped
		default:
			e.status = StatusCrashed
			crashed = true
			e.outbox = append(e.outbox, events.ServerCrashed(e.id, events.ExitInfo{
				Code:          status.Code,
				Signal:        status.Signal,
				ExitedAt:      status.ExitedAt,
				UptimeSeconds: uptime.Seconds(),
			}))
		}
		return nil
	})

	if crashed {
		s.logger.Warn("server crashed", "server_id", e.id, "exit", status.String())
	} else {
		s.logger.Info("server stopped", "server_id", e.id, "exit", status.String(), "forced", status.Forced)
	}
}

// Stop stops a running server using the configured grace period.
func (s *Supervisor) Stop(ctx context.Context, id string) error {
	return s.StopWithGrace(ctx, id, s.opts.StopGracePeriod)
}

// StopWithGrace asks the server to exit and kills it after grace. It returns
// once the process has exited and the server is stopped.
func (s *Supervisor) StopWithGrace(ctx context.Context, id string, grace time.Duration) error {
	e, err := s.lookup(id)
	if err != nil {
		return err
	}

	e.cmdMu.Lock()
	defer e.cmdMu.Unlock()

	return s.stopLocked(ctx, e, grace)
}

func (s *Supervisor) stopLocked(ctx context.Context, e *entry, grace time.Duration) error {
	var (
		handle *process.Handle
		exited chan struct{}
	)
	err := s.update(e, func() error {
		if e.status != StatusRunning {
			return fmt.Errorf("%w: %s is %s", ErrNotRunning, e.id, e.status)
		}
		exited = e.exited
		// The process already ended on its own and the run is being
		// finished; that exit must not be recorded as a requested stop.
		if e.handle.Exited() {
			return fmt.Errorf("%w: %s has already exited", ErrNotRunning, e.id)
		}
		e.status = StatusStopping
		handle = e.handle
		return nil
	})
	if err != nil {
		if exited != nil {
			<-exited
		}
		return err
	}

	s.appendLog(e, logbuffer.StreamSupervisor, "Stopping server")
	if forced := handle.SignalStop(ctx, grace); forced {
		s.appendLog(e, logbuffer.StreamSupervisor, "Server did not exit in time, killed")
		s.logger.Warn("server stop timed out, killed", "server_id", e.id, "grace", grace)
	}
	<-exited
	return nil
}

// Restart stops the server if it is running and starts it again.
func (s *Supervisor) Restart(ctx context.Context, id string) error {
	e, err := s.lookup(id)
	if err != nil {
		return err
	}

	e.cmdMu.Lock()
	defer e.cmdMu.Unlock()

	e.stateMu.Lock()
	running := e.status == StatusRunning
	e.stateMu.Unlock()

	if running {
		// A process that exited on its own meanwhile is simply started again.
		if err := s.stopLocked(ctx, e, s.opts.StopGracePeriod); err != nil && !errors.Is(err, ErrNotRunning) {
			return err
		}
	}
	return s.startLocked(ctx, e)
}

func (s *Supervisor) readOutput(e *entry, r io.Reader, stream logbuffer.Stream, wg *sync.WaitGroup) {
	defer wg.Done()

	reader := bufio.NewReaderSize(r, 64*1024)
	for {
		line, err := reader.ReadString('\n')
		if line != "" {
			s.appendLog(e, stream, strings.ToValidUTF8(line, "�"))
		}
		if err != nil {
			return
		}
	}
}

// SearchLogs returns retained log lines of the server containing query.
func (s *Supervisor) SearchLogs(id, query string, caseSensitive bool) (iter.Seq[logbuffer.Entry], error) {
	e, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	return e.logs.Search(query, caseSensitive), nil
}

func (s *Supervisor) TailLogs(id string, n int) ([]logbuffer.Entry, error) {
	e, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	return e.logs.Tail(n), nil
}

func (s *Supervisor) SnapshotLogs(id string) ([]logbuffer.Entry, error) {
	e, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	return e.logs.Snapshot(), nil
}

// ClearLogs empties the server's log buffer.
func (s *Supervisor) ClearLogs(id string) error {
	e, err := s.lookup(id)
	if err != nil {
		return err
	}
	e.pubMu.Lock()
	e.logs.Clear()
	e.pubMu.Unlock()
	return nil
}

// ExportLogs writes the retained log lines as plain text.
func (s *Supervisor) ExportLogs(id string, w io.Writer) error {
	e, err := s.lookup(id)
	if err != nil {
		return err
	}
	_, err = e.logs.WriteTo(w)
	return err
}

// LatestMetrics returns the most recent sample of a running server.
func (s *Supervisor) LatestMetrics(id string) (sampler.Sample, bool, error) {
	e, err := s.lookup(id)
	if err != nil {
		return sampler.Sample{}, false, err
	}
	e.stateMu.Lock()
	running := e.status == StatusRunning
	e.stateMu.Unlock()
	if !running {
		return sampler.Sample{}, false, nil
	}
	sample, ok := e.history.Latest()
	return sample, ok, nil
}

// MetricsHistory returns the rolling in-memory sample history.
func (s *Supervisor) MetricsHistory(id string) ([]sampler.Sample, error) {
	e, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	return e.history.All(), nil
}

func (s *Supervisor) lookup(id string) (*entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.servers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrServerNotFound, id)
	}
	return e, nil
}

func (s *Supervisor) entries() []*entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*entry, 0, len(s.servers))
	for _, e := range s.servers {
		out = append(out, e)
	}
	return out
}

// update runs fn under the entry's locks and publishes the resulting status
// change followed by anything fn queued in the outbox.
func (s *Supervisor) update(e *entry, fn func() error) error {
	e.pubMu.Lock()
	defer e.pubMu.Unlock()

	e.stateMu.Lock()
	old := e.status
	err := fn()
	current := e.status
	outbox := e.outbox
	e.outbox = nil
	e.stateMu.Unlock()

	if current != old {
		s.bus.Publish(events.StatusChanged(e.id, string(old), string(current)))
	}
	for _, ev := range outbox {
		s.bus.Publish(ev)
	}
	return err
}

func (s *Supervisor) publish(e *entry, ev events.Event) {
	e.pubMu.Lock()
	s.bus.Publish(ev)
	e.pubMu.Unlock()
}

func (s *Supervisor) appendLog(e *entry, stream logbuffer.Stream, text string) {
	e.pubMu.Lock()
	entry := e.logs.Append(stream, text)
	s.bus.Publish(events.LogAppended(e.id, entry))
	e.pubMu.Unlock()
}
