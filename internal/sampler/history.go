package sampler

import "sync"

// History keeps the most recent samples for one server.
type History struct {
	mu      sync.RWMutex
	samples []Sample
	start   int
	count   int
}

func NewHistory(size int) *History {
	if size <= 0 {
		size = 300
	}
	return &History{samples: make([]Sample, size)}
}

func (h *History) Add(s Sample) {
	h.mu.Lock()
	defer h.mu.Unlock()

	size := len(h.samples)
	if h.count < size {
		h.samples[(h.start+h.count)%size] = s
		h.count++
		return
	}
	h.samples[h.start] = s
	h.start = (h.start + 1) % size
}

// Latest returns the newest sample, if any.
func (h *History) Latest() (Sample, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.count == 0 {
		return Sample{}, false
	}
	return h.samples[(h.start+h.count-1)%len(h.samples)], true
}

// All returns the retained samples, oldest first.
func (h *History) All() []Sample {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]Sample, h.count)
	for i := 0; i < h.count; i++ {
		out[i] = h.samples[(h.start+i)%len(h.samples)]
	}
	return out
}

func (h *History) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.start = 0
	h.count = 0
}
