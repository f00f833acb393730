package metrics

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/yourusername/unreal-server-manager/internal/config"
	"github.com/yourusername/unreal-server-manager/internal/database"
	"github.com/yourusername/unreal-server-manager/internal/events"
	"github.com/yourusername/unreal-server-manager/internal/sampler"
)

func newTestRecorder(t *testing.T, cfg config.MetricsConfig) (*Recorder, *database.DB) {
	t.Helper()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "metrics.db"))
	if err != nil {
		t.Fatalf("failed to create db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return NewRecorder(cfg, db.DB), db
}

func countSamples(t *testing.T, db *database.DB) int {
	t.Helper()
	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM server_metrics").Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

func TestRecordThrottlesPerServer(t *testing.T) {
	rec, db := newTestRecorder(t, config.MetricsConfig{Enabled: true, PersistInterval: 60})

	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	samples := []struct {
		server string
		offset time.Duration
	}{
		{"a", 0},
		{"a", 10 * time.Second}, // throttled
		{"b", 10 * time.Second},
		{"a", 61 * time.Second},
	}
	for _, s := range samples {
		err := rec.Record(s.server, sampler.Sample{Timestamp: base.Add(s.offset), CPUPercent: 12.5, MemoryRSS: 4096})
		if err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	if got := countSamples(t, db); got != 3 {
		t.Fatalf("expected 3 persisted samples, got %d", got)
	}

	points, err := rec.History("a", base.Add(-time.Minute), 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(points) != 2 {
		t.Fatalf("expected 2 points for a, got %d", len(points))
	}
	if !points[0].Timestamp.Before(points[1].Timestamp) {
		t.Fatalf("expected oldest first: %+v", points)
	}
	if points[0].MemoryRSS != 4096 || points[0].CPUPercent != 12.5 {
		t.Fatalf("unexpected point %+v", points[0])
	}

	limited, err := rec.History("a", base.Add(-time.Minute), 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 1 || !limited[0].Timestamp.Equal(points[1].Timestamp) {
		t.Fatalf("limit should keep the newest point: %+v", limited)
	}
}

func TestCleanupHonoursRetention(t *testing.T) {
	rec, db := newTestRecorder(t, config.MetricsConfig{Enabled: true, RetentionDays: 1})

	now := time.Now()
	rec.now = func() time.Time { return now }

	if err := rec.Record("a", sampler.Sample{Timestamp: now.Add(-48 * time.Hour), CPUPercent: 1}); err != nil {
		t.Fatal(err)
	}
	if err := rec.Record("a", sampler.Sample{Timestamp: now.Add(-time.Hour), CPUPercent: 2}); err != nil {
		t.Fatal(err)
	}

	removed, err := rec.Cleanup()
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed sample, got %d", removed)
	}
	if countSamples(t, db) != 1 {
		t.Fatalf("expected one remaining sample")
	}
	if !rec.LastCleanup().Equal(now) {
		t.Fatalf("last cleanup not recorded")
	}
}

func TestSummarize(t *testing.T) {
	rec, _ := newTestRecorder(t, config.MetricsConfig{Enabled: true})

	base := time.Now().Add(-time.Minute)
	for i, cpu := range []float64{10, 30} {
		err := rec.Record("a", sampler.Sample{
			Timestamp:  base.Add(time.Duration(i) * time.Second),
			CPUPercent: cpu,
			MemoryRSS:  uint64(1000 * (i + 1)),
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	summary, err := rec.Summarize("a", base.Add(-time.Second))
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if summary.Samples != 2 || summary.AvgCPUPercent != 20 || summary.MaxCPUPercent != 30 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if summary.AvgMemoryRSS != 1500 || summary.MaxMemoryRSS != 2000 {
		t.Fatalf("unexpected memory summary %+v", summary)
	}
}

func TestStartConsumesBus(t *testing.T) {
	rec, db := newTestRecorder(t, config.MetricsConfig{Enabled: true, RetentionDays: 1, CleanupSchedule: "@hourly"})

	bus := events.NewBus()
	defer bus.Close()
	sub := Subscribe(bus)
	defer sub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := rec.Start(ctx, sub); err != nil {
		t.Fatalf("start: %v", err)
	}

	bus.Publish(events.MetricsUpdated("srv", sampler.Sample{Timestamp: time.Now(), CPUPercent: 5, MemoryRSS: 1}))

	deadline := time.Now().Add(5 * time.Second)
	for countSamples(t, db) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("sample was not persisted")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestStartRejectsBadSchedule(t *testing.T) {
	rec, _ := newTestRecorder(t, config.MetricsConfig{Enabled: true, RetentionDays: 1, CleanupSchedule: "not a schedule"})
	bus := events.NewBus()
	defer bus.Close()
	sub := Subscribe(bus)
	defer sub.Close()

	if err := rec.Start(context.Background(), sub); err == nil {
		t.Fatal("expected schedule error")
	}
}
