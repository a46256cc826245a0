package chat

import (
	"sync"
	"sync/atomic"
	"testing"
)

func TestRegistryBoundaryCrossings(t *testing.T) {
	b := NewBroker(newMemStore())
	r := NewRegistry()

	d1 := newTestClient(b, "alice")
	d2 := newTestClient(b, "alice")

	if first := r.Add(d1); !first {
		t.Error("first connection must cross the 0->1 boundary")
	}
	if first := r.Add(d2); first {
		t.Error("second connection must not cross the boundary")
	}
	if !r.IsOnline("alice") {
		t.Error("user with two connections must be online")
	}

	if _, last, known := r.Remove(d1); last || !known {
		t.Errorf("removing one of two connections: last=%v known=%v, want false/true", last, known)
	}
	if !r.IsOnline("alice") {
		t.Error("user must stay online while one connection remains")
	}

	userID, last, known := r.Remove(d2)
	if userID != "alice" || !last || !known {
		t.Errorf("removing the final connection: userID=%q last=%v known=%v", userID, last, known)
	}
	if r.IsOnline("alice") {
		t.Error("user must be offline after the last connection is removed")
	}
}

func TestRegistryRemoveUnknownIsNoOp(t *testing.T) {
	b := NewBroker(newMemStore())
	r := NewRegistry()

	stranger := newTestClient(b, "ghost")
	if _, last, known := r.Remove(stranger); last || known {
		t.Errorf("removing unknown connection: last=%v known=%v, want false/false", last, known)
	}

	// A double remove of a once-known connection is also a no-op.
	c := newTestClient(b, "alice")
	r.Add(c)
	r.Remove(c)
	if _, _, known := r.Remove(c); known {
		t.Error("second remove of the same connection must report unknown")
	}
}

func TestRegistryConnectionsOf(t *testing.T) {
	b := NewBroker(newMemStore())
	r := NewRegistry()

	d1 := newTestClient(b, "alice")
	d2 := newTestClient(b, "alice")
	r.Add(d1)
	r.Add(d2)

	conns := r.ConnectionsOf("alice")
	if len(conns) != 2 {
		t.Fatalf("got %d connections, want 2", len(conns))
	}

	if got := r.ConnectionsOf("nobody"); len(got) != 0 {
		t.Errorf("unknown user yielded %d connections, want 0", len(got))
	}
}

func TestRegistryConcurrentBoundaryIsExact(t *testing.T) {
	b := NewBroker(newMemStore())
	r := NewRegistry()

	const n = 64
	clients := make([]*Client, n)
	for i := range clients {
		clients[i] = newTestClient(b, "alice")
	}

	var firsts atomic.Int32
	var wg sync.WaitGroup
	for _, c := range clients {
		wg.Add(1)
		go func(c *Client) {
			defer wg.Done()
			if r.Add(c) {
				firsts.Add(1)
			}
		}(c)
	}
	wg.Wait()

	if got := firsts.Load(); got != 1 {
		t.Errorf("%d connects reported the 0->1 boundary, want exactly 1", got)
	}

	var lasts atomic.Int32
	for _, c := range clients {
		wg.Add(1)
		go func(c *Client) {
			defer wg.Done()
			if _, last, _ := r.Remove(c); last {
				lasts.Add(1)
			}
		}(c)
	}
	wg.Wait()

	if got := lasts.Load(); got != 1 {
		t.Errorf("%d disconnects reported the 1->0 boundary, want exactly 1", got)
	}
	if r.IsOnline("alice") {
		t.Error("user must be offline after all connections removed")
	}
}
