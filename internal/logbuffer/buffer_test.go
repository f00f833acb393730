package logbuffer

import (
	"bytes"
	"fmt"
	"strings"
	"sync"
	"testing"
)

func collect(lb *LogBuffer, query string, caseSensitive bool) []Entry {
	var out []Entry
	for entry := range lb.Search(query, caseSensitive) {
		out = append(out, entry)
	}
	return out
}

func TestAppendEvictsOldestFirst(t *testing.T) {
	lb := New(3)
	for i := 1; i <= 7; i++ {
		lb.Append(StreamStdout, fmt.Sprintf("line %d", i))
	}

	if lb.Len() != 3 {
		t.Fatalf("expected 3 retained entries, got %d", lb.Len())
	}

	entries := lb.Snapshot()
	expected := []string{"line 5", "line 6", "line 7"}
	for i, text := range expected {
		if entries[i].Text != text {
			t.Fatalf("expected %q at %d, got %q", text, i, entries[i].Text)
		}
	}
	for i := 1; i < len(entries); i++ {
		if entries[i].Seq <= entries[i-1].Seq {
			t.Fatalf("sequence numbers out of order: %d then %d", entries[i-1].Seq, entries[i].Seq)
		}
	}
	if entries[2].Seq != 7 {
		t.Fatalf("expected last seq 7, got %d", entries[2].Seq)
	}
}

func TestSearchReturnsMatchesInOrder(t *testing.T) {
	lb := New(100)
	lb.Append(StreamStdout, "Map loaded")
	lb.Append(StreamStdout, "Player joined: Bob")
	lb.Append(StreamStdout, "Player left: Bob")

	matches := collect(lb, "Player", true)
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(matches))
	}
	if matches[0].Text != "Player joined: Bob" || matches[1].Text != "Player left: Bob" {
		t.Fatalf("unexpected matches: %+v", matches)
	}
	if matches[0].Seq != 2 || matches[1].Seq != 3 {
		t.Fatalf("expected seqs 2 and 3, got %d and %d", matches[0].Seq, matches[1].Seq)
	}
}

func TestSearchCaseSensitivity(t *testing.T) {
	lb := New(10)
	lb.Append(StreamStdout, "Player joined")
	lb.Append(StreamStderr, "player kicked")

	if got := len(collect(lb, "player", true)); got != 1 {
		t.Fatalf("expected 1 case-sensitive match, got %d", got)
	}
	if got := len(collect(lb, "PLAYER", false)); got != 2 {
		t.Fatalf("expected 2 case-insensitive matches, got %d", got)
	}
}

func TestSearchNoMatchIsEmpty(t *testing.T) {
	lb := New(10)
	lb.Append(StreamStdout, "Map loaded")

	if got := collect(lb, "nothing here", true); len(got) != 0 {
		t.Fatalf("expected no matches, got %v", got)
	}
}

func TestSearchSkipsEvictedEntries(t *testing.T) {
	lb := New(2)
	lb.Append(StreamStdout, "needle one")
	lb.Append(StreamStdout, "hay")
	lb.Append(StreamStdout, "needle two")

	matches := collect(lb, "needle", true)
	if len(matches) != 1 || matches[0].Text != "needle two" {
		t.Fatalf("expected only the retained needle, got %+v", matches)
	}
}

func TestSearchIsSnapshot(t *testing.T) {
	lb := New(10)
	lb.Append(StreamStdout, "match 1")
	seq := lb.Search("match", true)
	lb.Append(StreamStdout, "match 2")

	count := 0
	for range seq {
		count++
	}
	if count != 1 {
		t.Fatalf("expected snapshot to contain 1 entry, got %d", count)
	}
}

func TestTail(t *testing.T) {
	lb := New(5)
	for i := 0; i < 4; i++ {
		lb.Append(StreamStdout, fmt.Sprintf("l%d", i))
	}

	tail := lb.Tail(2)
	if len(tail) != 2 || tail[0].Text != "l2" || tail[1].Text != "l3" {
		t.Fatalf("unexpected tail: %+v", tail)
	}
	if got := lb.Tail(10); len(got) != 4 {
		t.Fatalf("expected tail to be capped at 4, got %d", len(got))
	}
	if got := lb.Tail(0); len(got) != 0 {
		t.Fatalf("expected empty tail, got %d", len(got))
	}
}

func TestClearKeepsSequence(t *testing.T) {
	lb := New(5)
	lb.Append(StreamStdout, "a")
	lb.Append(StreamStdout, "b")
	lb.Clear()

	if lb.Len() != 0 {
		t.Fatalf("expected empty buffer after clear")
	}
	entry := lb.Append(StreamStdout, "c")
	if entry.Seq != 3 {
		t.Fatalf("expected seq 3 after clear, got %d", entry.Seq)
	}
}

func TestAppendTrimsLineEndings(t *testing.T) {
	lb := New(5)
	entry := lb.Append(StreamStdout, "LogNet: Error: bad packet\r\n")
	if entry.Text != "LogNet: Error: bad packet" {
		t.Fatalf("unexpected text %q", entry.Text)
	}
	if entry.Level != LevelError {
		t.Fatalf("expected error level, got %s", entry.Level)
	}
}

func TestWriteTo(t *testing.T) {
	lb := New(5)
	lb.Append(StreamStdout, "first")
	lb.Append(StreamStderr, "second")

	var buf bytes.Buffer
	if _, err := lb.WriteTo(&buf); err != nil {
		t.Fatalf("export failed: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "[stdout] first") || !strings.Contains(out, "[stderr] second") {
		t.Fatalf("unexpected export output: %q", out)
	}
}

func TestConcurrentAppendAndSearch(t *testing.T) {
	lb := New(64)
	var wg sync.WaitGroup

	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				lb.Append(StreamStdout, fmt.Sprintf("worker %d line %d", w, i))
			}
		}(w)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			for range lb.Search("worker", true) {
			}
			lb.Tail(10)
		}
	}()

	wg.Wait()

	if lb.Len() != 64 {
		t.Fatalf("expected 64 retained entries, got %d", lb.Len())
	}
	entries := lb.Snapshot()
	for i := 1; i < len(entries); i++ {
		if entries[i].Seq != entries[i-1].Seq+1 {
			t.Fatalf("expected contiguous sequence numbers, got %d then %d", entries[i-1].Seq, entries[i].Seq)
		}
	}
}

func TestClassify(t *testing.T) {
	cases := map[string]string{
		"LogTemp: Error: missing asset": LevelError,
		"error: failed":                 LevelError,
		"LogNet: Warning: slow tick":    LevelWarning,
		"LogInit: Display: ready":       LevelInfo,
	}
	for line, want := range cases {
		if got := Classify(line); got != want {
			t.Errorf("Classify(%q) = %s, want %s", line, got, want)
		}
	}
}
