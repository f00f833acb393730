package console

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/yourusername/unreal-server-manager/internal/events"
	"github.com/yourusername/unreal-server-manager/internal/logbuffer"
)

func TestLogWriterWritesFormattedLines(t *testing.T) {
	dir := t.TempDir()
	lw, err := NewLogWriter("srv", LogWriterConfig{LogDir: dir, MaxSizeMB: 1})
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}

	ts := time.Date(2026, 3, 4, 5, 6, 7, 0, time.Local)
	if err := lw.WriteEntry(logbuffer.Entry{Timestamp: ts, Stream: logbuffer.StreamStderr, Text: "boom"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := lw.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "srv", "console.log"))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got := string(data); got != "[2026-03-04 05:06:07] [stderr] boom\n" {
		t.Fatalf("unexpected content %q", got)
	}
}

func TestLogWriterRotateKeepsBackup(t *testing.T) {
	dir := t.TempDir()
	lw, err := NewLogWriter("srv", LogWriterConfig{LogDir: dir, MaxBackups: 2})
	if err != nil {
		t.Fatal(err)
	}
	defer lw.Close()

	if err := lw.WriteEntry(logbuffer.Entry{Timestamp: time.Now(), Stream: logbuffer.StreamStdout, Text: "one"}); err != nil {
		t.Fatal(err)
	}
	if err := lw.Rotate(); err != nil {
		t.Fatalf("rotate: %v", err)
	}

	matches, err := filepath.Glob(filepath.Join(dir, "srv", "console-*.log"))
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected one backup file, got %v", matches)
	}
}

func TestMirrorRunRoutesByServer(t *testing.T) {
	dir := t.TempDir()
	mirror := NewMirror(LogWriterConfig{LogDir: dir})

	bus := events.NewBus()
	defer bus.Close()
	sub := Subscribe(bus)
	defer sub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		mirror.Run(ctx, sub)
		close(done)
	}()

	bus.Publish(events.LogAppended("a", logbuffer.Entry{Seq: 1, Timestamp: time.Now(), Stream: logbuffer.StreamStdout, Text: "from a"}))
	bus.Publish(events.LogAppended("b", logbuffer.Entry{Seq: 1, Timestamp: time.Now(), Stream: logbuffer.StreamStdout, Text: "from b"}))

	deadline := time.Now().Add(5 * time.Second)
	for {
		_, okA := mirror.Path("a")
		_, okB := mirror.Path("b")
		if okA && okB {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("writers were not opened")
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	<-done

	for id, want := range map[string]string{"a": "from a", "b": "from b"} {
		data, err := os.ReadFile(filepath.Join(dir, id, "console.log"))
		if err != nil {
			t.Fatalf("read %s: %v", id, err)
		}
		if !strings.Contains(string(data), want) {
			t.Fatalf("%s: unexpected content %q", id, data)
		}
	}
}

func TestMirrorRelease(t *testing.T) {
	mirror := NewMirror(LogWriterConfig{LogDir: t.TempDir()})
	if err := mirror.Write("a", logbuffer.Entry{Timestamp: time.Now(), Text: "x"}); err != nil {
		t.Fatal(err)
	}
	if err := mirror.Release("a"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, ok := mirror.Path("a"); ok {
		t.Fatal("writer still registered after release")
	}
	if err := mirror.Release("a"); err != nil {
		t.Fatalf("second release: %v", err)
	}
}
