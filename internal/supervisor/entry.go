package supervisor

import (
	"sync"
	"time"

	"github.com/yourusername/unreal-server-manager/internal/events"
	"github.com/yourusername/unreal-server-manager/internal/logbuffer"
	"github.com/yourusername/unreal-server-manager/internal/process"
	"github.com/yourusername/unreal-server-manager/internal/sampler"
)

// entry is the runtime record for one server.
//
// Locking: cmdMu serializes commands for the server and is held for the
// whole of a start or stop. pubMu orders everything published for the
// server, so subscribers see events in the order state changed. stateMu
// guards the fields below it and is only held briefly.
type entry struct {
	id string

	cmdMu sync.Mutex
	pubMu sync.Mutex

	stateMu   sync.Mutex
	cfg       ServerConfig
	status    Status
	handle    *process.Handle
	sampler   *sampler.Task
	exited    chan struct{}
	removed   bool
	startedAt time.Time
	lastExit  *process.ExitStatus
	lastError string
	outbox    []events.Event

	logs    *logbuffer.LogBuffer
	history *sampler.History
}

func newEntry(cfg ServerConfig, opts Options) *entry {
	return &entry{
		id:      cfg.ID,
		cfg:     cfg,
		status:  StatusStopped,
		logs:    logbuffer.New(opts.LogBufferSize),
		history: sampler.NewHistory(opts.SampleHistory),
	}
}

// ServerInfo is a point-in-time view of a managed server.
type ServerInfo struct {
	Config        ServerConfig        `json:"config"`
	Status        Status              `json:"status"`
	PID           int                 `json:"pid,omitempty"`
	StartedAt     *time.Time          `json:"started_at,omitempty"`
	UptimeSeconds float64             `json:"uptime_seconds"`
	EffectivePort int                 `json:"effective_port"`
	LastExit      *process.ExitStatus `json:"last_exit,omitempty"`
	LastError     string              `json:"last_error,omitempty"`
	LogLines      int                 `json:"log_lines"`
	Metrics       *sampler.Sample     `json:"metrics,omitempty"`
}

func (e *entry) info() ServerInfo {
	e.stateMu.Lock()
	info := ServerInfo{
		Config:        e.cfg.Clone(),
		Status:        e.status,
		EffectivePort: EffectivePort(e.cfg),
		LastError:     e.lastError,
	}
	if e.handle != nil {
		info.PID = e.handle.PID()
		started := e.startedAt
		info.StartedAt = &started
		info.UptimeSeconds = time.Since(started).Seconds()
	}
	if e.lastExit != nil {
		exit := *e.lastExit
		info.LastExit = &exit
	}
	running := e.status == StatusRunning
	e.stateMu.Unlock()

	info.LogLines = e.logs.Len()
	if running {
		if sample, ok := e.history.Latest(); ok {
			info.Metrics = &sample
		}
	}
	return info
}

// runSink receives sampler callbacks for one run of the server.
type runSink struct {
	s *Supervisor
	e *entry
}

func (r *runSink) SampleTaken(sample sampler.Sample) {
	r.e.history.Add(sample)
	r.s.publish(r.e, events.MetricsUpdated(r.e.id, sample))
}

// ProcessVanished is advisory. The exit itself is handled by the watcher,
// which owns the authoritative Wait.
func (r *runSink) ProcessVanished(pid int) {
	r.s.logger.Debug("sampler lost process", "server_id", r.e.id, "pid", pid)
	r.s.publish(r.e, events.ProcessVanished(r.e.id))
}
