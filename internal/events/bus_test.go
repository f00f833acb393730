package events

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/yourusername/unreal-server-manager/internal/logbuffer"
	"github.com/yourusername/unreal-server-manager/internal/sampler"
)

func receive(t *testing.T, sub *Subscription) Event {
	t.Helper()
	select {
	case ev, ok := <-sub.C():
		if !ok {
			t.Fatalf("subscription closed unexpectedly")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for event")
	}
	return Event{}
}

func TestPerServerOrdering(t *testing.T) {
	bus := NewBus()
	defer bus.Close()
	sub := bus.Subscribe(Filter{}, 0)

	const perServer = 500
	var wg sync.WaitGroup
	for _, id := range []string{"a", "b"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for i := 0; i < perServer; i++ {
				bus.Publish(StatusChanged(id, fmt.Sprint(i), fmt.Sprint(i+1)))
			}
		}(id)
	}

	next := map[string]int{"a": 0, "b": 0}
	for i := 0; i < 2*perServer; i++ {
		ev := receive(t, sub)
		want := fmt.Sprint(next[ev.ServerID])
		if ev.Status.Old != want {
			t.Fatalf("server %s: expected transition from %s, got %s", ev.ServerID, want, ev.Status.Old)
		}
		next[ev.ServerID]++
	}
	wg.Wait()
}

func TestFilterByServerAndType(t *testing.T) {
	bus := NewBus()
	defer bus.Close()
	sub := bus.Subscribe(Filter{ServerID: "a", Types: []Type{TypeServerCrashed}}, 0)

	bus.Publish(StatusChanged("a", "running", "crashed"))
	bus.Publish(ServerCrashed("b", ExitInfo{Code: 1}))
	bus.Publish(ServerCrashed("a", ExitInfo{Code: 2}))

	ev := receive(t, sub)
	if ev.Type != TypeServerCrashed || ev.ServerID != "a" || ev.Exit.Code != 2 {
		t.Fatalf("unexpected event %+v", ev)
	}

	select {
	case ev := <-sub.C():
		t.Fatalf("unexpected extra event %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSlowSubscriberDropsOnlyLossyEvents(t *testing.T) {
	bus := NewBus()
	defer bus.Close()
	sub := bus.Subscribe(Filter{}, 2)

	// Nobody reads yet, so the pump holds one event and the queue fills.
	for i := 0; i < 10; i++ {
		bus.Publish(MetricsUpdated("a", sampler.Sample{CPUPercent: float64(i)}))
	}
	bus.Publish(StatusChanged("a", "running", "stopping"))
	bus.Publish(StatusChanged("a", "stopping", "stopped"))

	if sub.Dropped() == 0 {
		t.Fatalf("expected some metrics events to be dropped")
	}

	var statuses []string
	deadline := time.After(2 * time.Second)
	for len(statuses) < 2 {
		select {
		case ev := <-sub.C():
			if ev.Type == TypeStatusChanged {
				statuses = append(statuses, ev.Status.New)
			}
		case <-deadline:
			t.Fatalf("status events were lost: %v", statuses)
		}
	}
	if statuses[0] != "stopping" || statuses[1] != "stopped" {
		t.Fatalf("unexpected status order %v", statuses)
	}
}

func TestPublishDoesNotBlockOnIdleSubscriber(t *testing.T) {
	bus := NewBus()
	defer bus.Close()
	bus.Subscribe(Filter{}, 0)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10000; i++ {
			bus.Publish(LogAppended("a", logbuffer.Entry{Seq: uint64(i), Text: "line"}))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("publish blocked on an idle subscriber")
	}
}

func TestSubscriptionCloseClosesChannel(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(Filter{}, 0)
	sub.Close()

	if _, ok := <-sub.C(); ok {
		t.Fatalf("expected closed channel")
	}
	if bus.SubscriberCount() != 0 {
		t.Fatalf("expected subscription to be removed")
	}

	bus.Publish(StatusChanged("a", "stopped", "starting"))
}

func TestBusCloseEndsSubscriptions(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(Filter{}, 0)
	bus.Close()

	if _, ok := <-sub.C(); ok {
		t.Fatalf("expected closed channel after bus close")
	}

	late := bus.Subscribe(Filter{}, 0)
	if _, ok := <-late.C(); ok {
		t.Fatalf("expected subscription on closed bus to be closed")
	}
}
