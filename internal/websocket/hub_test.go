package websocket

import (
	"context"
	"testing"
	"time"

	"github.com/yourusername/unreal-server-manager/internal/events"
	"github.com/yourusername/unreal-server-manager/internal/logbuffer"
)

func newTestClient(hub *Hub, id, room string) *Client {
	return &Client{
		ID:   id,
		Room: room,
		Send: make(chan *Message, 8),
		Hub:  hub,
	}
}

func TestHubRegisterAndUnregister(t *testing.T) {
	hub := NewHub()
	client := newTestClient(hub, "client-1", "room-1")

	hub.registerClient(client)
	if hub.GetRoomSize("room-1") != 1 {
		t.Fatalf("expected room size 1")
	}

	hub.unregisterClient(client)
	if hub.GetRoomSize("room-1") != 0 {
		t.Fatalf("expected room to be empty")
	}
	if err := client.SendMessage("ping", nil); err == nil {
		t.Fatalf("expected send on unregistered client to fail")
	}

	// A second unregister must not close the channel twice.
	hub.unregisterClient(client)
}

func TestHubBroadcastToRoom(t *testing.T) {
	hub := NewHub()
	client := newTestClient(hub, "client-1", "room-1")
	other := newTestClient(hub, "client-2", "room-2")

	hub.registerClient(client)
	hub.registerClient(other)

	hub.broadcastToRoom(&BroadcastMessage{Room: "room-1", Message: &Message{Type: "ping"}})

	select {
	case received := <-client.Send:
		if received.Type != "ping" {
			t.Fatalf("expected ping message, got %s", received.Type)
		}
	default:
		t.Fatalf("expected message to be delivered")
	}

	select {
	case msg := <-other.Send:
		t.Fatalf("unexpected message in other room: %+v", msg)
	default:
	}
}

func TestEventMessagePayload(t *testing.T) {
	msg := EventMessage(events.StatusChanged("srv", "stopped", "starting"))
	if msg.Type != "status_changed" || msg.ServerID != "srv" {
		t.Fatalf("unexpected message %+v", msg)
	}
	change, ok := msg.Payload.(*events.StatusChange)
	if !ok || change.New != "starting" {
		t.Fatalf("unexpected payload %#v", msg.Payload)
	}

	msg = EventMessage(events.LaunchFailed("srv", context.Canceled))
	payload, ok := msg.Payload.(map[string]string)
	if !ok || payload["error"] == "" {
		t.Fatalf("expected error payload, got %#v", msg.Payload)
	}
}

func TestBridgeRoutesEventsToRooms(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub()
	go hub.Run(ctx)

	overview := newTestClient(hub, "overview", RoomServers)
	detail := newTestClient(hub, "detail", ServerRoom("srv"))
	hub.Register <- overview
	hub.Register <- detail
	waitForRoom(t, hub, RoomServers)
	waitForRoom(t, hub, ServerRoom("srv"))

	bus := events.NewBus()
	defer bus.Close()
	sub := bus.Subscribe(events.Filter{}, 0)
	go hub.Bridge(ctx, sub)

	bus.Publish(events.LogAppended("srv", logbuffer.Entry{Text: "hello", Timestamp: time.Now()}))
	bus.Publish(events.StatusChanged("srv", "stopped", "starting"))

	first := receive(t, detail)
	if first.Type != string(events.TypeLogAppended) {
		t.Fatalf("expected log line first in server room, got %s", first.Type)
	}
	if second := receive(t, detail); second.Type != string(events.TypeStatusChanged) {
		t.Fatalf("expected status change in server room, got %s", second.Type)
	}

	if msg := receive(t, overview); msg.Type != string(events.TypeStatusChanged) {
		t.Fatalf("expected only status change in servers room, got %s", msg.Type)
	}
}

func TestHubShutdownClosesClients(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub()
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()

	client := newTestClient(hub, "client-1", "room-1")
	hub.Register <- client
	send := client.Send
	cancel()
	<-done

	if _, ok := <-send; ok {
		t.Fatalf("expected send channel to be closed")
	}
	select {
	case <-hub.Done():
	default:
		t.Fatalf("expected hub to report done")
	}

	// Broadcasting after shutdown must not block.
	hub.BroadcastToRoom("room-1", &Message{Type: "late"})
}

func waitForRoom(t *testing.T, hub *Hub, room string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.GetRoomSize(room) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("room %s never populated", room)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func receive(t *testing.T, c *Client) *Message {
	t.Helper()
	select {
	case msg := <-c.Send:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for message on %s", c.ID)
		return nil
	}
}
