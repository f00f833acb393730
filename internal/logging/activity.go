package logging

import (
	"compress/gzip"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/yourusername/unreal-server-manager/internal/events"
	"github.com/yourusername/unreal-server-manager/internal/supervisor"
)

// ActivityLogger records the lifecycle history of managed servers in the
// database and in a daily JSON-lines file.
type ActivityLogger struct {
	db          *sql.DB
	logDir      string
	currentFile *os.File
	currentDate string
	mu          sync.Mutex
}

// Activity represents a logged activity
type Activity struct {
	Timestamp    time.Time      `json:"timestamp"`
	ServerID     string         `json:"server_id"`
	ActivityType string         `json:"activity_type"`
	Description  string         `json:"description"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	Success      bool           `json:"success"`
	ErrorMessage string         `json:"error_message,omitempty"`
}

// Run is one launch of a server process, from Running until exit.
type Run struct {
	ID         int64      `json:"id"`
	ServerID   string     `json:"server_id"`
	StartedAt  time.Time  `json:"started_at"`
	ExitedAt   *time.Time `json:"exited_at,omitempty"`
	ExitCode   *int       `json:"exit_code,omitempty"`
	ExitSignal string     `json:"exit_signal,omitempty"`
	Outcome    string     `json:"outcome,omitempty"`
}

// Activity type constants
const (
	ActivityServerStart        = "server.start"
	ActivityServerStop         = "server.stop"
	ActivityServerCrash        = "server.crash"
	ActivityLaunchFailed       = "server.launch_failed"
	ActivityProcessVanished    = "process.vanished"
	ActivityServerStatusChange = "server.status_change"
	ActivityConfigUpdate       = "config.update"
	ActivityLogsArchive        = "logs.archive"
	ActivityError              = "error"
)

// NewActivityLogger creates a new activity logger
func NewActivityLogger(db *sql.DB, logDir string) (*ActivityLogger, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	logger := &ActivityLogger{
		db:     db,
		logDir: logDir,
	}

	log.Printf("[ActivityLogger] Initialized (log directory: %s)", logDir)

	return logger, nil
}

// Run records activities from the subscription until ctx is cancelled or
// the subscription is closed.
func (al *ActivityLogger) Run(ctx context.Context, sub *events.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			if err := al.HandleEvent(ev); err != nil {
				log.Printf("[ActivityLogger] Error recording %s for %s: %v", ev.Type, ev.ServerID, err)
			}
		}
	}
}

// Subscribe returns a bus subscription carrying the event types the
// activity logger records.
func Subscribe(bus *events.Bus) *events.Subscription {
	return bus.Subscribe(events.Filter{Types: []events.Type{
		events.TypeStatusChanged,
		events.TypeServerCrashed,
		events.TypeLaunchFailed,
		events.TypeProcessVanished,
	}}, 0)
}

// HandleEvent translates one supervisor event into activity records.
func (al *ActivityLogger) HandleEvent(ev events.Event) error {
	switch ev.Type {
	case events.TypeStatusChanged:
		if ev.Status == nil {
			return nil
		}
		return al.handleStatusChange(ev)
	case events.TypeServerCrashed:
		if ev.Exit == nil {
			return nil
		}
		al.closeRunExit(ev.ServerID, *ev.Exit)
		return al.LogActivity(&Activity{
			Timestamp:    ev.Timestamp,
			ServerID:     ev.ServerID,
			ActivityType: ActivityServerCrash,
			Description:  describeExit(*ev.Exit),
			Metadata: map[string]any{
				"exit_code":      ev.Exit.Code,
				"signal":         ev.Exit.Signal,
				"uptime_seconds": ev.Exit.UptimeSeconds,
			},
			Success: false,
		})
	case events.TypeLaunchFailed:
		return al.LogServerStart(ev.ServerID, false, ev.Error)
	case events.TypeProcessVanished:
		return al.LogActivity(&Activity{
			Timestamp:    ev.Timestamp,
			ServerID:     ev.ServerID,
			ActivityType: ActivityProcessVanished,
			Description:  "Resource sampling lost the process",
			Success:      false,
		})
	}
	return nil
}

func (al *ActivityLogger) handleStatusChange(ev events.Event) error {
	oldStatus := supervisor.Status(ev.Status.Old)
	newStatus := supervisor.Status(ev.Status.New)

	if err := al.LogStatusChange(ev.ServerID, string(oldStatus), string(newStatus), nil); err != nil {
		return err
	}

	switch {
	case newStatus == supervisor.StatusRunning:
		al.openRun(ev.ServerID, ev.Timestamp)
		return al.LogServerStart(ev.ServerID, true, "")
	case oldStatus == supervisor.StatusStopping && newStatus == supervisor.StatusStopped:
		al.closeRun(ev.ServerID, ev.Timestamp, string(newStatus))
		return al.LogServerStop(ev.ServerID, true, "")
	case oldStatus == supervisor.StatusRunning && newStatus == supervisor.StatusStopped:
		// Clean exit that nobody asked for.
		al.closeRun(ev.ServerID, ev.Timestamp, string(newStatus))
		return al.LogServerStop(ev.ServerID, false, "")
	case newStatus == supervisor.StatusCrashed:
		al.closeRun(ev.ServerID, ev.Timestamp, string(newStatus))
	}
	return nil
}

// LogActivity logs an activity to both database and file
func (al *ActivityLogger) LogActivity(activity *Activity) error {
	al.mu.Lock()
	defer al.mu.Unlock()

	if activity.Timestamp.IsZero() {
		activity.Timestamp = time.Now()
	}

	if err := al.logToDatabase(activity); err != nil {
		log.Printf("[ActivityLogger] Error logging to database: %v", err)
		// Keep going, the file copy is still useful.
	}

	if err := al.logToFile(activity); err != nil {
		log.Printf("[ActivityLogger] Error logging to file: %v", err)
		return err
	}

	return nil
}

// LogServerStart logs a server start activity
func (al *ActivityLogger) LogServerStart(serverID string, success bool, errorMsg string) error {
	activityType := ActivityServerStart
	description := "Server process started"
	if !success {
		activityType = ActivityLaunchFailed
		description = "Server failed to launch"
	}

	return al.LogActivity(&Activity{
		ServerID:     serverID,
		ActivityType: activityType,
		Description:  description,
		Success:      success,
		ErrorMessage: errorMsg,
	})
}

// LogServerStop logs a server stop activity
func (al *ActivityLogger) LogServerStop(serverID string, requested bool, errorMsg string) error {
	return al.LogActivity(&Activity{
		ServerID:     serverID,
		ActivityType: ActivityServerStop,
		Description:  fmt.Sprintf("Server stopped (requested: %v)", requested),
		Metadata:     map[string]any{"requested": requested},
		Success:      errorMsg == "",
		ErrorMessage: errorMsg,
	})
}

// LogStatusChange logs a server status change
func (al *ActivityLogger) LogStatusChange(serverID string, oldStatus, newStatus string, metadata map[string]any) error {
	if metadata == nil {
		metadata = make(map[string]any)
	}

	metadata["old_status"] = oldStatus
	metadata["new_status"] = newStatus

	return al.LogActivity(&Activity{
		ServerID:     serverID,
		ActivityType: ActivityServerStatusChange,
		Description:  fmt.Sprintf("Status changed: %s → %s", oldStatus, newStatus),
		Metadata:     metadata,
		Success:      true,
	})
}

// LogConfigUpdate logs a change to a server definition
func (al *ActivityLogger) LogConfigUpdate(serverID, action string) error {
	return al.LogActivity(&Activity{
		ServerID:     serverID,
		ActivityType: ActivityConfigUpdate,
		Description:  fmt.Sprintf("Server definition %s", action),
		Metadata:     map[string]any{"action": action},
		Success:      true,
	})
}

// LogArchive logs the outcome of a log archive run
func (al *ActivityLogger) LogArchive(serverID, filename string, err error) error {
	activity := &Activity{
		ServerID:     serverID,
		ActivityType: ActivityLogsArchive,
		Description:  fmt.Sprintf("Logs archived to %s", filename),
		Metadata:     map[string]any{"filename": filename},
		Success:      err == nil,
	}
	if err != nil {
		activity.ErrorMessage = err.Error()
	}
	return al.LogActivity(activity)
}

// LogError logs a general error
func (al *ActivityLogger) LogError(serverID string, errorType string, errorMsg string, metadata map[string]any) error {
	if metadata == nil {
		metadata = make(map[string]any)
	}

	metadata["error_type"] = errorType

	return al.LogActivity(&Activity{
		ServerID:     serverID,
		ActivityType: ActivityError,
		Description:  errorType,
		Metadata:     metadata,
		Success:      false,
		ErrorMessage: errorMsg,
	})
}

// GetActivities retrieves activities from the database
func (al *ActivityLogger) GetActivities(serverID string, activityType string, since time.Time, limit int) ([]*Activity, error) {
	if al.db == nil {
		return nil, fmt.Errorf("database not available")
	}

	query := `
		SELECT timestamp, server_id, activity_type, description, metadata, success, error_message
		FROM activity_log
		WHERE 1=1
	`
	args := make([]any, 0)

	if serverID != "" {
		query += " AND server_id = ?"
		args = append(args, serverID)
	}

	if activityType != "" {
		query += " AND activity_type = ?"
		args = append(args, activityType)
	}

	if !since.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, since)
	}

	query += " ORDER BY timestamp DESC, id DESC"

	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := al.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query activities: %w", err)
	}
	defer rows.Close()

	activities := make([]*Activity, 0)

	for rows.Next() {
		activity := &Activity{}
		var serverIDCol, description, metadataJSON, errorMessage sql.NullString

		err := rows.Scan(
			&activity.Timestamp,
			&serverIDCol,
			&activity.ActivityType,
			&description,
			&metadataJSON,
			&activity.Success,
			&errorMessage,
		)
		if err != nil {
			log.Printf("[ActivityLogger] Error scanning row: %v", err)
			continue
		}

		activity.ServerID = serverIDCol.String
		activity.Description = description.String
		activity.ErrorMessage = errorMessage.String

		if metadataJSON.Valid && metadataJSON.String != "" && metadataJSON.String != "null" {
			if err := json.Unmarshal([]byte(metadataJSON.String), &activity.Metadata); err != nil {
				log.Printf("[ActivityLogger] Error unmarshaling metadata: %v", err)
			}
		}

		activities = append(activities, activity)
	}

	return activities, rows.Err()
}

// GetRecentActivities retrieves the most recent activities
func (al *ActivityLogger) GetRecentActivities(limit int) ([]*Activity, error) {
	return al.GetActivities("", "", time.Time{}, limit)
}

// GetServerActivities retrieves activities for a specific server
func (al *ActivityLogger) GetServerActivities(serverID string, limit int) ([]*Activity, error) {
	return al.GetActivities(serverID, "", time.Time{}, limit)
}

// GetRuns returns the most recent process runs of a server, newest first.
func (al *ActivityLogger) GetRuns(serverID string, limit int) ([]Run, error) {
	if al.db == nil {
		return nil, fmt.Errorf("database not available")
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := al.db.Query(`
		SELECT id, server_id, started_at, exited_at, exit_code, exit_signal, outcome
		FROM server_runs
		WHERE server_id = ?
		ORDER BY started_at DESC, id DESC
		LIMIT ?
	`, serverID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	runs := make([]Run, 0)
	for rows.Next() {
		var run Run
		var exitedAt sql.NullTime
		var exitCode sql.NullInt64
		var signal, outcome sql.NullString
		if err := rows.Scan(&run.ID, &run.ServerID, &run.StartedAt, &exitedAt, &exitCode, &signal, &outcome); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		if exitedAt.Valid {
			t := exitedAt.Time
			run.ExitedAt = &t
		}
		if exitCode.Valid {
			code := int(exitCode.Int64)
			run.ExitCode = &code
		}
		run.ExitSignal = signal.String
		run.Outcome = outcome.String
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (al *ActivityLogger) openRun(serverID string, startedAt time.Time) {
	if al.db == nil {
		return
	}
	if _, err := al.db.Exec(
		"INSERT INTO server_runs (server_id, started_at) VALUES (?, ?)",
		serverID, startedAt,
	); err != nil {
		log.Printf("[ActivityLogger] Error opening run for %s: %v", serverID, err)
	}
}

func (al *ActivityLogger) closeRun(serverID string, exitedAt time.Time, outcome string) {
	if al.db == nil {
		return
	}
	if _, err := al.db.Exec(`
		UPDATE server_runs SET exited_at = ?, outcome = ?
		WHERE id = (
			SELECT id FROM server_runs
			WHERE server_id = ? AND exited_at IS NULL
			ORDER BY started_at DESC, id DESC LIMIT 1
		)
	`, exitedAt, outcome, serverID); err != nil {
		log.Printf("[ActivityLogger] Error closing run for %s: %v", serverID, err)
	}
}

// closeRunExit attaches exit details to the latest crashed run.
func (al *ActivityLogger) closeRunExit(serverID string, exit events.ExitInfo) {
	if al.db == nil {
		return
	}
	if _, err := al.db.Exec(`
		UPDATE server_runs SET exit_code = ?, exit_signal = ?, exited_at = COALESCE(exited_at, ?), outcome = COALESCE(outcome, 'crashed')
		WHERE id = (
			SELECT id FROM server_runs
			WHERE server_id = ?
			ORDER BY started_at DESC, id DESC LIMIT 1
		)
	`, exit.Code, nullString(exit.Signal), exit.ExitedAt, serverID); err != nil {
		log.Printf("[ActivityLogger] Error recording exit for %s: %v", serverID, err)
	}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func describeExit(exit events.ExitInfo) string {
	if exit.Signal != "" {
		return fmt.Sprintf("Server crashed (signal %s)", exit.Signal)
	}
	return fmt.Sprintf("Server crashed (exit code %d)", exit.Code)
}

// logToDatabase logs an activity to the database
func (al *ActivityLogger) logToDatabase(activity *Activity) error {
	if al.db == nil {
		return nil
	}

	var metadata sql.NullString
	if len(activity.Metadata) > 0 {
		metadataJSON, err := json.Marshal(activity.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
		metadata = sql.NullString{String: string(metadataJSON), Valid: true}
	}

	query := `
		INSERT INTO activity_log (
			timestamp, server_id, activity_type,
			description, metadata, success, error_message
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := al.db.Exec(
		query,
		activity.Timestamp,
		activity.ServerID,
		activity.ActivityType,
		activity.Description,
		metadata,
		activity.Success,
		activity.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("failed to insert activity: %w", err)
	}

	return nil
}

// logToFile logs an activity to a JSON file
func (al *ActivityLogger) logToFile(activity *Activity) error {
	currentDate := time.Now().Format("2006-01-02")

	if al.currentFile == nil || al.currentDate != currentDate {
		if err := al.rotateLogFile(currentDate); err != nil {
			return fmt.Errorf("failed to rotate log file: %w", err)
		}
	}

	line, err := json.Marshal(activity)
	if err != nil {
		return fmt.Errorf("failed to marshal activity: %w", err)
	}

	if _, err := fmt.Fprintf(al.currentFile, "%s\n", line); err != nil {
		return fmt.Errorf("failed to write to log file: %w", err)
	}

	// Sync to disk for important events
	switch activity.ActivityType {
	case ActivityServerCrash, ActivityLaunchFailed, ActivityServerStop, ActivityError:
		al.currentFile.Sync()
	}

	return nil
}

// rotateLogFile rotates the log file for a new day
func (al *ActivityLogger) rotateLogFile(date string) error {
	if al.currentFile != nil {
		al.currentFile.Close()
		al.currentFile = nil
	}

	logPath := filepath.Join(al.logDir, fmt.Sprintf("activity-%s.log", date))

	file, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	al.currentFile = file
	al.currentDate = date

	log.Printf("[ActivityLogger] Rotated log file to: %s", logPath)

	go al.compressOldLogs(date)

	return nil
}

// compressOldLogs gzips daily files other than the current one.
func (al *ActivityLogger) compressOldLogs(current string) {
	matches, err := filepath.Glob(filepath.Join(al.logDir, "activity-*.log"))
	if err != nil {
		return
	}
	currentName := fmt.Sprintf("activity-%s.log", current)
	for _, path := range matches {
		if filepath.Base(path) == currentName {
			continue
		}
		if err := gzipFile(path); err != nil {
			log.Printf("[ActivityLogger] Failed to compress %s: %v", path, err)
			continue
		}
		log.Printf("[ActivityLogger] Compressed old log: %s", path)
	}
}

func gzipFile(path string) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	dstPath := path + ".gz"
	tmpPath := dstPath + ".tmp"
	dst, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}

	zw := gzip.NewWriter(dst)
	zw.Name = strings.TrimSuffix(filepath.Base(path), ".gz")
	if _, err := io.Copy(zw, src); err != nil {
		zw.Close()
		dst.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := zw.Close(); err != nil {
		dst.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := dst.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, dstPath); err != nil {
		return err
	}
	src.Close()
	return os.Remove(path)
}

// Close closes the activity logger
func (al *ActivityLogger) Close() error {
	al.mu.Lock()
	defer al.mu.Unlock()

	if al.currentFile != nil {
		err := al.currentFile.Close()
		al.currentFile = nil
		return err
	}

	return nil
}

// CleanupOldActivities removes activities older than a specified duration
func (al *ActivityLogger) CleanupOldActivities(olderThan time.Duration) error {
	if al.db == nil {
		return fmt.Errorf("database not available")
	}

	cutoff := time.Now().Add(-olderThan)

	result, err := al.db.Exec(`
		DELETE FROM activity_log
		WHERE timestamp < ?
	`, cutoff)
	if err != nil {
		return fmt.Errorf("failed to cleanup old activities: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	log.Printf("[ActivityLogger] Cleaned up %d activities older than %v", rowsAffected, olderThan)

	return nil
}

// GetActivityStats retrieves activity statistics
func (al *ActivityLogger) GetActivityStats(serverID string, since time.Time) (map[string]int, error) {
	if al.db == nil {
		return nil, fmt.Errorf("database not available")
	}

	query := `
		SELECT activity_type, COUNT(*) as count
		FROM activity_log
		WHERE 1=1
	`
	args := make([]any, 0)

	if serverID != "" {
		query += " AND server_id = ?"
		args = append(args, serverID)
	}

	if !since.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, since)
	}

	query += " GROUP BY activity_type"

	rows, err := al.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query activity stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[string]int)

	for rows.Next() {
		var activityType string
		var count int

		if err := rows.Scan(&activityType, &count); err != nil {
			log.Printf("[ActivityLogger] Error scanning stats row: %v", err)
			continue
		}

		stats[activityType] = count
	}

	return stats, rows.Err()
}
