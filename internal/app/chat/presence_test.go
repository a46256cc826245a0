package chat

import (
	"encoding/json"
	"testing"
)

func decodePresence(t *testing.T, evt Event) PresencePayload {
	t.Helper()

	if evt.Type != EventPresence {
		t.Fatalf("expected %s event, got %s", EventPresence, evt.Type)
	}
	var p PresencePayload
	if err := json.Unmarshal(evt.Payload, &p); err != nil {
		t.Fatalf("failed to decode presence payload: %v", err)
	}
	return p
}

func TestPresenceFiresOnlyOnBoundaries(t *testing.T) {
	store := newMemStore()
	b := NewBroker(store)

	watcher := newTestClient(b, "watcher")
	b.Connect(watcher)

	d1 := newTestClient(b, "alice")
	d2 := newTestClient(b, "alice")

	// First device: watcher sees alice come online.
	b.Connect(d1)
	p := decodePresence(t, recvEventOfType(t, watcher, EventPresence))
	if p.UserID != "alice" || !p.IsOnline {
		t.Errorf("presence = %+v, want alice online", p)
	}
	if p.LastSeen != nil {
		t.Error("lastSeen must be nil while the user is online")
	}

	// Second device: no boundary, no event.
	b.Connect(d2)
	assertNoEventOfType(t, watcher, EventPresence)

	// First device drops: alice still has d2, no event.
	b.Disconnect(d1)
	assertNoEventOfType(t, watcher, EventPresence)

	// Last device drops: watcher sees alice go offline with a lastSeen stamp.
	b.Disconnect(d2)
	p = decodePresence(t, recvEventOfType(t, watcher, EventPresence))
	if p.UserID != "alice" || p.IsOnline {
		t.Errorf("presence = %+v, want alice offline", p)
	}
	if p.LastSeen == nil {
		t.Error("offline presence must carry a lastSeen timestamp")
	}
}

func TestPresencePersistsFlagsAndLastSeen(t *testing.T) {
	store := newMemStore()
	b := NewBroker(store)

	c := newTestClient(b, "alice")
	b.Connect(c)

	store.mu.Lock()
	online := store.online["alice"]
	store.mu.Unlock()
	if !online {
		t.Error("online flag must be persisted on the 0->1 boundary")
	}

	b.Disconnect(c)

	store.mu.Lock()
	online = store.online["alice"]
	_, hasLastSeen := store.lastSeen["alice"]
	store.mu.Unlock()
	if online {
		t.Error("offline flag must be persisted on the 1->0 boundary")
	}
	if !hasLastSeen {
		t.Error("lastSeen must be persisted on the 1->0 boundary")
	}
}

func TestPresenceNotEchoedToSubject(t *testing.T) {
	store := newMemStore()
	b := NewBroker(store)

	other := newTestClient(b, "alice")
	b.Connect(other)

	// Alice's second device connecting must not notify her first one, and
	// bob coming online must not notify bob himself.
	bobD1 := newTestClient(b, "bob")
	b.Connect(bobD1)
	assertNoEventOfType(t, bobD1, EventPresence)
}
