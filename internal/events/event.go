package events

import (
	"time"

	"github.com/yourusername/unreal-server-manager/internal/logbuffer"
	"github.com/yourusername/unreal-server-manager/internal/sampler"
)

type Type string

const (
	TypeStatusChanged   Type = "status_changed"
	TypeLogAppended     Type = "log_appended"
	TypeMetricsUpdated  Type = "metrics_updated"
	TypeServerCrashed   Type = "server_crashed"
	TypeLaunchFailed    Type = "launch_failed"
	TypeProcessVanished Type = "process_vanished"
)

// lossy event types may be dropped for a subscriber that falls behind.
func (t Type) lossy() bool {
	return t == TypeLogAppended || t == TypeMetricsUpdated
}

// Event is a notification about one managed server. Exactly one payload
// field is set, matching Type.
type Event struct {
	Type      Type      `json:"type"`
	ServerID  string    `json:"server_id"`
	Timestamp time.Time `json:"timestamp"`

	Status *StatusChange    `json:"status,omitempty"`
	Log    *logbuffer.Entry `json:"log,omitempty"`
	Sample *sampler.Sample  `json:"sample,omitempty"`
	Exit   *ExitInfo        `json:"exit,omitempty"`
	Error  string           `json:"error,omitempty"`
}

type StatusChange struct {
	Old string `json:"old"`
	New string `json:"new"`
}

// ExitInfo describes an unrequested process exit.
type ExitInfo struct {
	Code          int       `json:"code"`
	Signal        string    `json:"signal,omitempty"`
	ExitedAt      time.Time `json:"exited_at"`
	UptimeSeconds float64   `json:"uptime_seconds"`
}

func StatusChanged(serverID, oldStatus, newStatus string) Event {
	return Event{
		Type:      TypeStatusChanged,
		ServerID:  serverID,
		Timestamp: time.Now(),
		Status:    &StatusChange{Old: oldStatus, New: newStatus},
	}
}

func LogAppended(serverID string, entry logbuffer.Entry) Event {
	return Event{
		Type:      TypeLogAppended,
		ServerID:  serverID,
		Timestamp: entry.Timestamp,
		Log:       &entry,
	}
}

func MetricsUpdated(serverID string, sample sampler.Sample) Event {
	return Event{
		Type:      TypeMetricsUpdated,
		ServerID:  serverID,
		Timestamp: sample.Timestamp,
		Sample:    &sample,
	}
}

func ServerCrashed(serverID string, info ExitInfo) Event {
	return Event{
		Type:      TypeServerCrashed,
		ServerID:  serverID,
		Timestamp: time.Now(),
		Exit:      &info,
	}
}

func LaunchFailed(serverID string, err error) Event {
	return Event{
		Type:      TypeLaunchFailed,
		ServerID:  serverID,
		Timestamp: time.Now(),
		Error:     err.Error(),
	}
}

func ProcessVanished(serverID string) Event {
	return Event{
		Type:      TypeProcessVanished,
		ServerID:  serverID,
		Timestamp: time.Now(),
	}
}
