package chat

import (
	"testing"

	"github.com/rs/zerolog"
)

func countFrames(c *Client) int {
	n := 0
	for {
		select {
		case <-c.send:
			n++
		default:
			return n
		}
	}
}

func TestRoomsJoinIsIdempotent(t *testing.T) {
	b := NewBroker(newMemStore())
	registry := NewRegistry()
	rooms := NewRooms(registry, zerolog.Nop())

	c := newTestClient(b, "alice")
	rooms.Join(c, "c1")
	rooms.Join(c, "c1")

	if subs := rooms.Subscribers("c1"); len(subs) != 1 {
		t.Errorf("got %d subscribers after double join, want 1", len(subs))
	}
}

func TestRoomsLeaveCleansEverySubscription(t *testing.T) {
	b := NewBroker(newMemStore())
	registry := NewRegistry()
	rooms := NewRooms(registry, zerolog.Nop())

	c := newTestClient(b, "alice")
	rooms.Join(c, "c1")
	rooms.Join(c, "c2")

	rooms.Leave(c)

	if subs := rooms.Subscribers("c1"); len(subs) != 0 {
		t.Errorf("c1 still has %d subscribers after leave", len(subs))
	}
	if subs := rooms.Subscribers("c2"); len(subs) != 0 {
		t.Errorf("c2 still has %d subscribers after leave", len(subs))
	}

	// Leaving twice is harmless.
	rooms.Leave(c)
}

func TestDeliverDualPath(t *testing.T) {
	b := NewBroker(newMemStore())
	registry := NewRegistry()
	rooms := NewRooms(registry, zerolog.Nop())

	subscribed := newTestClient(b, "alice")
	unsubscribed := newTestClient(b, "bob")
	registry.Add(subscribed)
	registry.Add(unsubscribed)
	rooms.Join(subscribed, "c1")

	rooms.Deliver("c1", []string{"alice", "bob"}, []byte(`{"type":"message:new"}`))

	// The subscriber sits on both paths and may legitimately receive the
	// frame twice; the consumer dedups by message id.
	if n := countFrames(subscribed); n != 2 {
		t.Errorf("subscribed member received %d frames, want 2 (room + direct)", n)
	}

	// The member who never joined still gets the direct copy.
	if n := countFrames(unsubscribed); n != 1 {
		t.Errorf("unsubscribed member received %d frames, want 1 (direct)", n)
	}
}

func TestDeliverSkipsOfflineMembers(t *testing.T) {
	b := NewBroker(newMemStore())
	registry := NewRegistry()
	rooms := NewRooms(registry, zerolog.Nop())

	online := newTestClient(b, "alice")
	registry.Add(online)
	rooms.Join(online, "c1")

	// "bob" has zero live connections; delivery must not block or queue.
	rooms.Deliver("c1", []string{"alice", "bob"}, []byte(`{"type":"message:new"}`))

	if n := countFrames(online); n != 2 {
		t.Errorf("online member received %d frames, want 2", n)
	}
}

func TestDeliverReachesAllDevices(t *testing.T) {
	b := NewBroker(newMemStore())
	registry := NewRegistry()
	rooms := NewRooms(registry, zerolog.Nop())

	d1 := newTestClient(b, "alice")
	d2 := newTestClient(b, "alice")
	registry.Add(d1)
	registry.Add(d2)

	rooms.Deliver("c1", []string{"alice"}, []byte(`{"type":"message:new"}`))

	if n := countFrames(d1); n != 1 {
		t.Errorf("device 1 received %d frames, want 1", n)
	}
	if n := countFrames(d2); n != 1 {
		t.Errorf("device 2 received %d frames, want 1", n)
	}
}
