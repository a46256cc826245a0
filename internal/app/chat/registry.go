/*
Package chat contains the real-time synchronization core.

This file defines the connection registry: the bidirectional mapping between
a logical user identity and its set of live transport sessions. The registry
is an injectable instance owned by the Broker, not ambient package state, so
tests can run multiple isolated registries in parallel.
*/
package chat

import "sync"

// Registry tracks the live connections of every user. A user may hold any
// number of simultaneous connections (multi-device); one device disconnecting
// never affects the others. All operations are safe for concurrent use.
type Registry struct {
	// mu serializes all mutations so that the 0<->1 boundary reported by
	// Add/Remove is computed atomically with the mutation itself.
	mu sync.RWMutex

	// conns maps a user id to the set of that user's live connections.
	conns map[string]map[*Client]struct{}
}

// NewRegistry constructs an empty connection registry.
func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[string]map[*Client]struct{}),
	}
}

// Add registers a connection under its owning user and reports whether this
// crossed the 0->1 boundary (the user just came online).
func (r *Registry) Add(c *Client) (first bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.conns[c.user.ID]
	if !ok {
		set = make(map[*Client]struct{}, 1)
		r.conns[c.user.ID] = set
	}

	first = len(set) == 0
	set[c] = struct{}{}
	return first
}

// Remove unregisters a connection. It returns the owning user id, whether
// this crossed the 1->0 boundary (the user just went offline), and whether
// the connection was known at all. Removing an unknown connection is a no-op.
func (r *Registry) Remove(c *Client) (userID string, last bool, known bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.conns[c.user.ID]
	if !ok {
		return "", false, false
	}
	if _, ok := set[c]; !ok {
		return "", false, false
	}

	delete(set, c)
	if len(set) == 0 {
		delete(r.conns, c.user.ID)
		return c.user.ID, true, true
	}
	return c.user.ID, false, true
}

// ConnectionsOf returns a snapshot of the user's live connections.
// An absent user yields an empty slice, never an error.
func (r *Registry) ConnectionsOf(userID string) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.conns[userID]
	out := make([]*Client, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	return out
}

// IsOnline reports whether the user has at least one live connection.
func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.conns[userID]) > 0
}

// Snapshot returns every live connection grouped by user id.
// Used for presence broadcasts to all connected users.
func (r *Registry) Snapshot() map[string][]*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string][]*Client, len(r.conns))
	for uid, set := range r.conns {
		clients := make([]*Client, 0, len(set))
		for c := range set {
			clients = append(clients, c)
		}
		out[uid] = clients
	}
	return out
}
