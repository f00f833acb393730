package logbuffer

import (
	"fmt"
	"io"
	"iter"
	"strings"
	"sync"
	"time"
)

// DefaultCapacity matches the number of console lines kept per server.
const DefaultCapacity = 8000

// Stream identifies where a captured line came from
type Stream string

const (
	StreamStdout     Stream = "stdout"
	StreamStderr     Stream = "stderr"
	StreamSupervisor Stream = "supervisor"
)

// Entry is a single captured output line. Entries are never mutated once appended.
type Entry struct {
	Seq       uint64    `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
	Stream    Stream    `json:"stream"`
	Level     string    `json:"level"`
	Text      string    `json:"text"`
}

// LogBuffer is a fixed-capacity ring of captured output lines for one server.
// When full, appending overwrites the oldest entry.
type LogBuffer struct {
	mu      sync.RWMutex
	entries []Entry
	start   int
	count   int
	nextSeq uint64
	now     func() time.Time
}

// New creates a buffer retaining at most capacity entries.
func New(capacity int) *LogBuffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &LogBuffer{
		entries: make([]Entry, capacity),
		nextSeq: 1,
		now:     time.Now,
	}
}

// Append records a line and returns the stored entry.
func (lb *LogBuffer) Append(stream Stream, text string) Entry {
	text = strings.TrimRight(text, "\r\n")

	lb.mu.Lock()
	defer lb.mu.Unlock()

	entry := Entry{
		Seq:       lb.nextSeq,
		Timestamp: lb.now(),
		Stream:    stream,
		Level:     Classify(text),
		Text:      text,
	}
	lb.nextSeq++

	capacity := len(lb.entries)
	if lb.count < capacity {
		lb.entries[(lb.start+lb.count)%capacity] = entry
		lb.count++
	} else {
		lb.entries[lb.start] = entry
		lb.start = (lb.start + 1) % capacity
	}

	return entry
}

// Len returns the number of retained entries.
func (lb *LogBuffer) Len() int {
	lb.mu.RLock()
	defer lb.mu.RUnlock()
	return lb.count
}

// Cap returns the retention limit.
func (lb *LogBuffer) Cap() int {
	return len(lb.entries)
}

// Snapshot returns all retained entries, oldest first.
func (lb *LogBuffer) Snapshot() []Entry {
	lb.mu.RLock()
	defer lb.mu.RUnlock()
	return lb.lastLocked(lb.count)
}

// Tail returns the n most recent entries in order.
func (lb *LogBuffer) Tail(n int) []Entry {
	if n <= 0 {
		return []Entry{}
	}

	lb.mu.RLock()
	defer lb.mu.RUnlock()
	if n > lb.count {
		n = lb.count
	}
	return lb.lastLocked(n)
}

func (lb *LogBuffer) lastLocked(n int) []Entry {
	result := make([]Entry, n)
	capacity := len(lb.entries)
	offset := lb.count - n
	for i := 0; i < n; i++ {
		result[i] = lb.entries[(lb.start+offset+i)%capacity]
	}
	return result
}

// Search returns the retained entries whose text contains query. The set of
// candidates is fixed when Search is called; later appends are not visited.
func (lb *LogBuffer) Search(query string, caseSensitive bool) iter.Seq[Entry] {
	snapshot := lb.Snapshot()
	matcher := newMatcher(query, caseSensitive)

	return func(yield func(Entry) bool) {
		for _, entry := range snapshot {
			if !matcher(entry.Text) {
				continue
			}
			if !yield(entry) {
				return
			}
		}
	}
}

// Clear drops every retained entry. Sequence numbers keep increasing.
func (lb *LogBuffer) Clear() {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	for i := range lb.entries {
		lb.entries[i] = Entry{}
	}
	lb.start = 0
	lb.count = 0
}

// WriteTo writes the retained lines in a plain-text export format.
func (lb *LogBuffer) WriteTo(w io.Writer) (int64, error) {
	var written int64
	for _, entry := range lb.Snapshot() {
		n, err := fmt.Fprintf(w, "[%s] [%s] %s\n", entry.Timestamp.Format("2006-01-02 15:04:05"), entry.Stream, entry.Text)
		written += int64(n)
		if err != nil {
			return written, err
		}
	}
	return written, nil
}

func newMatcher(query string, caseSensitive bool) func(string) bool {
	if query == "" {
		return func(string) bool { return true }
	}
	if caseSensitive {
		return func(text string) bool { return strings.Contains(text, query) }
	}
	lowered := strings.ToLower(query)
	return func(text string) bool {
		return strings.Contains(strings.ToLower(text), lowered)
	}
}
