package metrics

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/yourusername/unreal-server-manager/internal/config"
	"github.com/yourusername/unreal-server-manager/internal/events"
	"github.com/yourusername/unreal-server-manager/internal/sampler"
)

// Recorder persists resource samples published on the event bus so history
// survives restarts and outlives the in-memory ring kept by the supervisor.
type Recorder struct {
	cfg  config.MetricsConfig
	db   *sql.DB
	cron *cron.Cron

	mu            sync.Mutex
	lastPersisted map[string]time.Time
	lastCleanup   time.Time

	now func() time.Time
}

// Point is one persisted sample.
type Point struct {
	ServerID   string    `json:"server_id"`
	Timestamp  time.Time `json:"timestamp"`
	CPUPercent float64   `json:"cpu_percent"`
	MemoryRSS  uint64    `json:"memory_rss"`
}

// Summary aggregates persisted samples over a window.
type Summary struct {
	ServerID      string    `json:"server_id"`
	Samples       int       `json:"samples"`
	AvgCPUPercent float64   `json:"avg_cpu_percent"`
	MaxCPUPercent float64   `json:"max_cpu_percent"`
	AvgMemoryRSS  uint64    `json:"avg_memory_rss"`
	MaxMemoryRSS  uint64    `json:"max_memory_rss"`
	Since         time.Time `json:"since"`
}

func NewRecorder(cfg config.MetricsConfig, db *sql.DB) *Recorder {
	return &Recorder{
		cfg:           cfg,
		db:            db,
		lastPersisted: make(map[string]time.Time),
		now:           time.Now,
	}
}

// Subscribe returns the bus subscription the recorder consumes.
func Subscribe(bus *events.Bus) *events.Subscription {
	return bus.Subscribe(events.Filter{Types: []events.Type{events.TypeMetricsUpdated}}, 0)
}

// Start schedules retention cleanup and consumes samples until ctx is done
// or the subscription closes.
func (r *Recorder) Start(ctx context.Context, sub *events.Subscription) error {
	if !r.cfg.Enabled {
		return nil
	}

	if r.cfg.RetentionDays > 0 && r.cfg.CleanupSchedule != "" {
		r.cron = cron.New(cron.WithParser(cron.NewParser(
			cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
		)))
		if _, err := r.cron.AddFunc(r.cfg.CleanupSchedule, func() {
			if _, err := r.Cleanup(); err != nil {
				log.Printf("[Metrics] Cleanup failed: %v", err)
			}
		}); err != nil {
			return fmt.Errorf("invalid cleanup schedule %q: %w", r.cfg.CleanupSchedule, err)
		}
		r.cron.Start()
	}

	go func() {
		defer r.stopCron()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sub.C():
				if !ok {
					return
				}
				if ev.Sample == nil {
					continue
				}
				if err := r.Record(ev.ServerID, *ev.Sample); err != nil {
					log.Printf("[Metrics] Failed to record sample for %s: %v", ev.ServerID, err)
				}
			}
		}
	}()

	return nil
}

func (r *Recorder) stopCron() {
	if r.cron != nil {
		<-r.cron.Stop().Done()
	}
}

// Record persists the sample unless one was stored for the same server
// within the persist interval.
func (r *Recorder) Record(serverID string, sample sampler.Sample) error {
	if r.db == nil || serverID == "" {
		return nil
	}

	ts := sample.Timestamp
	if ts.IsZero() {
		ts = r.now()
	}
	if !r.shouldPersist(serverID, ts) {
		return nil
	}

	_, err := r.db.Exec(
		"INSERT INTO server_metrics (server_id, timestamp, cpu_percent, memory_rss) VALUES (?, ?, ?, ?)",
		serverID, ts.UTC(), sample.CPUPercent, int64(sample.MemoryRSS),
	)
	if err != nil {
		return fmt.Errorf("failed to insert sample: %w", err)
	}

	r.setPersisted(serverID, ts)
	return nil
}

func (r *Recorder) interval() time.Duration {
	if r.cfg.PersistInterval <= 0 {
		return 0
	}
	return time.Duration(r.cfg.PersistInterval) * time.Second
}

func (r *Recorder) shouldPersist(serverID string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	last, ok := r.lastPersisted[serverID]
	if !ok {
		return true
	}
	return now.Sub(last) >= r.interval()
}

func (r *Recorder) setPersisted(serverID string, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastPersisted[serverID] = now
}

// Forget drops throttling state for a removed server.
func (r *Recorder) Forget(serverID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.lastPersisted, serverID)
}

// Cleanup deletes samples older than the retention window.
func (r *Recorder) Cleanup() (int64, error) {
	if r.db == nil || r.cfg.RetentionDays <= 0 {
		return 0, nil
	}

	now := r.now()
	cutoff := now.Add(-time.Duration(r.cfg.RetentionDays) * 24 * time.Hour).UTC()
	result, err := r.db.Exec("DELETE FROM server_metrics WHERE timestamp < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old samples: %w", err)
	}

	r.mu.Lock()
	r.lastCleanup = now
	r.mu.Unlock()

	removed, _ := result.RowsAffected()
	if removed > 0 {
		log.Printf("[Metrics] Removed %d samples older than %d days", removed, r.cfg.RetentionDays)
	}
	return removed, nil
}

// LastCleanup reports when retention last ran.
func (r *Recorder) LastCleanup() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastCleanup
}

// History returns persisted samples for a server since the given time,
// oldest first. limit <= 0 means no limit.
func (r *Recorder) History(serverID string, since time.Time, limit int) ([]Point, error) {
	if r.db == nil {
		return nil, fmt.Errorf("database not available")
	}

	query := `
		SELECT server_id, timestamp, cpu_percent, memory_rss FROM (
			SELECT id, server_id, timestamp, cpu_percent, memory_rss
			FROM server_metrics
			WHERE server_id = ? AND timestamp >= ?
			ORDER BY timestamp DESC, id DESC
	`
	args := []any{serverID, since.UTC()}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	query += ") ORDER BY timestamp ASC, id ASC"

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query samples: %w", err)
	}
	defer rows.Close()

	points := make([]Point, 0)
	for rows.Next() {
		var p Point
		var rss int64
		if err := rows.Scan(&p.ServerID, &p.Timestamp, &p.CPUPercent, &rss); err != nil {
			return nil, fmt.Errorf("failed to scan sample: %w", err)
		}
		if rss > 0 {
			p.MemoryRSS = uint64(rss)
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

// Summarize aggregates samples for a server since the given time.
func (r *Recorder) Summarize(serverID string, since time.Time) (Summary, error) {
	summary := Summary{ServerID: serverID, Since: since}
	if r.db == nil {
		return summary, fmt.Errorf("database not available")
	}

	var avgCPU, maxCPU, avgRSS sql.NullFloat64
	var maxRSS sql.NullInt64
	err := r.db.QueryRow(`
		SELECT COUNT(*), AVG(cpu_percent), MAX(cpu_percent), AVG(memory_rss), MAX(memory_rss)
		FROM server_metrics
		WHERE server_id = ? AND timestamp >= ?
	`, serverID, since.UTC()).Scan(&summary.Samples, &avgCPU, &maxCPU, &avgRSS, &maxRSS)
	if err != nil {
		return summary, fmt.Errorf("failed to summarize samples: %w", err)
	}

	summary.AvgCPUPercent = avgCPU.Float64
	summary.MaxCPUPercent = maxCPU.Float64
	if avgRSS.Valid && avgRSS.Float64 > 0 {
		summary.AvgMemoryRSS = uint64(avgRSS.Float64)
	}
	if maxRSS.Valid && maxRSS.Int64 > 0 {
		summary.MaxMemoryRSS = uint64(maxRSS.Int64)
	}
	return summary, nil
}
