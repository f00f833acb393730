package sampler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

const DefaultInterval = time.Second

// Sample is one resource reading for a process. CPUPercent is relative to a
// single core, so a busy multi-threaded server can exceed 100.
type Sample struct {
	Timestamp  time.Time `json:"timestamp"`
	CPUPercent float64   `json:"cpu_percent"`
	MemoryRSS  uint64    `json:"memory_rss"`
}

// Sink receives readings from a sampling task. Calls arrive from the task
// goroutine in order and never after Stop returns.
type Sink interface {
	SampleTaken(Sample)
	ProcessVanished(pid int)
}

// Task periodically samples one pid until stopped or the pid disappears.
type Task struct {
	pid      int
	interval time.Duration
	sink     Sink
	logger   *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Start begins sampling pid every interval.
func Start(pid int, interval time.Duration, sink Sink, logger *slog.Logger) *Task {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &Task{
		pid:      pid,
		interval: interval,
		sink:     sink,
		logger:   logger.With("pid", pid),
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go t.run(ctx)
	return t
}

// Stop cancels sampling and waits for the task goroutine to exit.
func (t *Task) Stop() {
	t.once.Do(t.cancel)
	<-t.done
}

// Done is closed when the task goroutine has exited.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

func (t *Task) run(ctx context.Context) {
	defer close(t.done)

	proc, err := process.NewProcessWithContext(ctx, int32(t.pid))
	if err != nil {
		if ctx.Err() == nil {
			t.logger.Debug("sampler: process not found", "error", err)
			t.sink.ProcessVanished(t.pid)
		}
		return
	}

	// The first call establishes the CPU baseline and reports nothing useful.
	_, _ = proc.PercentWithContext(ctx, 0)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		sample, err := t.sample(ctx, proc)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			if t.vanished(ctx, err) {
				t.logger.Debug("sampler: process vanished", "error", err)
				t.sink.ProcessVanished(t.pid)
				return
			}
			t.logger.Debug("sampler: missed sample", "error", err)
			continue
		}
		t.sink.SampleTaken(sample)
	}
}

func (t *Task) sample(ctx context.Context, proc *process.Process) (Sample, error) {
	cpu, err := proc.PercentWithContext(ctx, 0)
	if err != nil {
		return Sample{}, err
	}
	mem, err := proc.MemoryInfoWithContext(ctx)
	if err != nil {
		return Sample{}, err
	}
	return Sample{
		Timestamp:  time.Now(),
		CPUPercent: cpu,
		MemoryRSS:  mem.RSS,
	}, nil
}

func (t *Task) vanished(ctx context.Context, err error) bool {
	if errors.Is(err, process.ErrorProcessNotRunning) {
		return true
	}
	exists, existsErr := process.PidExistsWithContext(ctx, int32(t.pid))
	return existsErr == nil && !exists
}
