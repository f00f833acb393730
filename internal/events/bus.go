package events

import (
	"slices"
	"sync"
	"sync/atomic"
)

// DefaultMaxPending bounds the backlog of lossy events per subscriber.
const DefaultMaxPending = 1024

// Filter selects which events a subscription receives. Zero values match all.
type Filter struct {
	ServerID string
	Types    []Type
}

func (f Filter) matches(ev Event) bool {
	if f.ServerID != "" && f.ServerID != ev.ServerID {
		return false
	}
	if len(f.Types) > 0 && !slices.Contains(f.Types, ev.Type) {
		return false
	}
	return true
}

// Bus fans out events to subscribers. Publish never blocks: every
// subscription has its own queue drained by a dedicated goroutine, so a slow
// consumer only delays itself. Events published in order by one goroutine
// are delivered to each subscriber in that order.
type Bus struct {
	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64
	closed bool
}

func NewBus() *Bus {
	return &Bus{subs: make(map[uint64]*Subscription)}
}

// Subscribe registers a new subscriber. maxPending caps the number of
// queued events above which log and metrics events are dropped for this
// subscriber; status, crash and launch events are always queued.
func (b *Bus) Subscribe(filter Filter, maxPending int) *Subscription {
	if maxPending <= 0 {
		maxPending = DefaultMaxPending
	}

	s := &Subscription{
		bus:        b,
		filter:     filter,
		maxPending: maxPending,
		notify:     make(chan struct{}, 1),
		out:        make(chan Event),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		s.once.Do(func() { close(s.quit) })
		close(s.out)
		close(s.done)
		return s
	}
	b.nextID++
	s.id = b.nextID
	b.subs[s.id] = s
	b.mu.Unlock()

	go s.pump()
	return s
}

// Publish queues ev for every matching subscriber.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	for _, s := range b.subs {
		if s.filter.matches(ev) {
			s.enqueue(ev)
		}
	}
}

// SubscriberCount returns the number of live subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close ends every subscription. Later publishes are ignored.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := make([]*Subscription, 0, len(b.subs))
	for id, s := range b.subs {
		subs = append(subs, s)
		delete(b.subs, id)
	}
	b.mu.Unlock()

	for _, s := range subs {
		s.shutdown()
	}
}

func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	delete(b.subs, id)
	b.mu.Unlock()
}

// Subscription is one consumer's view of the bus.
type Subscription struct {
	id         uint64
	bus        *Bus
	filter     Filter
	maxPending int

	mu      sync.Mutex
	queue   []Event
	dropped atomic.Uint64

	notify chan struct{}
	out    chan Event
	quit   chan struct{}
	done   chan struct{}
	once   sync.Once
}

// C returns the delivery channel. It is closed when the subscription ends.
func (s *Subscription) C() <-chan Event {
	return s.out
}

// Dropped reports how many lossy events were discarded for this subscriber.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Close unsubscribes. Events still queued are discarded.
func (s *Subscription) Close() {
	s.bus.remove(s.id)
	s.shutdown()
}

func (s *Subscription) shutdown() {
	s.once.Do(func() {
		close(s.quit)
	})
	<-s.done
}

func (s *Subscription) enqueue(ev Event) {
	s.mu.Lock()
	if ev.Type.lossy() && len(s.queue) >= s.maxPending {
		s.mu.Unlock()
		s.dropped.Add(1)
		return
	}
	s.queue = append(s.queue, ev)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Subscription) pump() {
	defer close(s.done)
	defer close(s.out)

	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			select {
			case <-s.notify:
				continue
			case <-s.quit:
				return
			}
		}
		ev := s.queue[0]
		s.queue[0] = Event{}
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.out <- ev:
		case <-s.quit:
			return
		}
	}
}
