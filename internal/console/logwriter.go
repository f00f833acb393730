package console

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/yourusername/unreal-server-manager/internal/events"
	"github.com/yourusername/unreal-server-manager/internal/logbuffer"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogWriter mirrors one server's captured output to a rotated file.
type LogWriter struct {
	serverID string
	logPath  string
	out      *lumberjack.Logger
	mu       sync.Mutex
}

// LogWriterConfig contains configuration for log writers
type LogWriterConfig struct {
	LogDir     string
	MaxSizeMB  int // Max size before rotation
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// NewLogWriter creates a log writer for one server
func NewLogWriter(serverID string, config LogWriterConfig) (*LogWriter, error) {
	dir := filepath.Join(config.LogDir, serverID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	logPath := filepath.Join(dir, "console.log")
	lw := &LogWriter{
		serverID: serverID,
		logPath:  logPath,
		out: &lumberjack.Logger{
			Filename:   logPath,
			MaxSize:    config.MaxSizeMB,
			MaxBackups: config.MaxBackups,
			MaxAge:     config.MaxAgeDays,
			Compress:   config.Compress,
		},
	}

	log.Printf("[LogWriter] Created log writer for server %s: %s", serverID, logPath)
	return lw, nil
}

// Path returns the active log file
func (lw *LogWriter) Path() string {
	return lw.logPath
}

// WriteEntry appends one captured line
func (lw *LogWriter) WriteEntry(entry logbuffer.Entry) error {
	lw.mu.Lock()
	defer lw.mu.Unlock()

	timestamp := entry.Timestamp.Format("2006-01-02 15:04:05")
	if _, err := fmt.Fprintf(lw.out, "[%s] [%s] %s\n", timestamp, entry.Stream, entry.Text); err != nil {
		return fmt.Errorf("failed to write log: %w", err)
	}
	return nil
}

// Rotate starts a new file, keeping the old one as a backup
func (lw *LogWriter) Rotate() error {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	return lw.out.Rotate()
}

// Close closes the log file
func (lw *LogWriter) Close() error {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	return lw.out.Close()
}

// Mirror routes log_appended events to per-server writers, opening them on
// first use.
type Mirror struct {
	config  LogWriterConfig
	mu      sync.Mutex
	writers map[string]*LogWriter
}

func NewMirror(config LogWriterConfig) *Mirror {
	return &Mirror{
		config:  config,
		writers: make(map[string]*LogWriter),
	}
}

// Subscribe returns the bus subscription the mirror consumes. Lines dropped
// for a slow disk are counted on the subscription.
func Subscribe(bus *events.Bus) *events.Subscription {
	return bus.Subscribe(events.Filter{Types: []events.Type{events.TypeLogAppended}}, 0)
}

// Run writes events until ctx is cancelled or the subscription closes, then
// closes every writer.
func (m *Mirror) Run(ctx context.Context, sub *events.Subscription) {
	defer m.CloseAll()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			if ev.Log == nil {
				continue
			}
			if err := m.Write(ev.ServerID, *ev.Log); err != nil {
				log.Printf("[LogWriter] Failed to write line for %s: %v", ev.ServerID, err)
			}
		}
	}
}

// Write appends entry to the server's console file
func (m *Mirror) Write(serverID string, entry logbuffer.Entry) error {
	lw, err := m.writer(serverID)
	if err != nil {
		return err
	}
	return lw.WriteEntry(entry)
}

func (m *Mirror) writer(serverID string) (*LogWriter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if lw, ok := m.writers[serverID]; ok {
		return lw, nil
	}
	lw, err := NewLogWriter(serverID, m.config)
	if err != nil {
		return nil, err
	}
	m.writers[serverID] = lw
	return lw, nil
}

// Path returns the console file of a server, if one has been opened.
func (m *Mirror) Path(serverID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lw, ok := m.writers[serverID]
	if !ok {
		return "", false
	}
	return lw.Path(), true
}

// Release closes the writer of a removed server.
func (m *Mirror) Release(serverID string) error {
	m.mu.Lock()
	lw, ok := m.writers[serverID]
	delete(m.writers, serverID)
	m.mu.Unlock()

	if !ok {
		return nil
	}
	return lw.Close()
}

// CloseAll closes every open writer
func (m *Mirror) CloseAll() {
	m.mu.Lock()
	writers := m.writers
	m.writers = make(map[string]*LogWriter)
	m.mu.Unlock()

	for id, lw := range writers {
		if err := lw.Close(); err != nil {
			log.Printf("[LogWriter] Failed to close log for %s: %v", id, err)
		}
	}
}
