/*
Package chat contains the real-time synchronization core.

This file defines the room subscription index and the chat-scoped fan-out.
Delivery is intentionally at-least-once: an event goes out on the room
broadcast path and again directly to every member's live connections, so a
connection that has not issued its join yet (e.g. right after chat creation)
still receives the event. Consumers deduplicate by message id.
*/
package chat

import (
	"sync"

	"github.com/rs/zerolog"
)

// Rooms maps chats to the connections subscribed to them and back.
type Rooms struct {
	mu sync.RWMutex

	// byChat maps a chat id to its subscribed connections.
	byChat map[string]map[*Client]struct{}

	// byConn maps a connection to the chat ids it subscribed to,
	// so Leave can clean up everything on disconnect.
	byConn map[*Client]map[string]struct{}

	registry *Registry

	logger zerolog.Logger
}

// NewRooms constructs the room index. The registry provides the direct
// per-member fallback path of Deliver.
func NewRooms(registry *Registry, logger zerolog.Logger) *Rooms {
	return &Rooms{
		byChat:   make(map[string]map[*Client]struct{}),
		byConn:   make(map[*Client]map[string]struct{}),
		registry: registry,
		logger:   logger.With().Str("component", "rooms").Logger(),
	}
}

// Join subscribes a connection to a chat's broadcast group. It is idempotent;
// joining the same chat twice changes nothing.
func (r *Rooms) Join(c *Client, chatID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs, ok := r.byChat[chatID]
	if !ok {
		subs = make(map[*Client]struct{}, 2)
		r.byChat[chatID] = subs
	}
	subs[c] = struct{}{}

	chats, ok := r.byConn[c]
	if !ok {
		chats = make(map[string]struct{}, 4)
		r.byConn[c] = chats
	}
	chats[chatID] = struct{}{}
}

// Leave removes a connection from every chat it subscribed to.
// Called once when the connection closes.
func (r *Rooms) Leave(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for chatID := range r.byConn[c] {
		subs := r.byChat[chatID]
		delete(subs, c)
		if len(subs) == 0 {
			delete(r.byChat, chatID)
		}
	}
	delete(r.byConn, c)
}

// Subscribers returns a snapshot of the connections subscribed to a chat.
func (r *Rooms) Subscribers(chatID string) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	subs := r.byChat[chatID]
	out := make([]*Client, 0, len(subs))
	for c := range subs {
		out = append(out, c)
	}
	return out
}

// Deliver sends a pre-marshaled frame to every connection subscribed to the
// chat, then directly to every live connection of every member id. The two
// paths may overlap; duplicates are resolved by the receiving client's
// dedup-by-id. A member with zero live connections is silently skipped, and
// nothing is queued for replay: persisted storage is the durable record.
func (r *Rooms) Deliver(chatID string, members []string, frame []byte) {
	for _, c := range r.Subscribers(chatID) {
		if err := c.Enqueue(frame); err != nil {
			r.logger.Warn().
				Str("chat_id", chatID).
				Str("user_id", c.user.ID).
				Msg("Dropping room-path frame for slow connection.")
		}
	}

	for _, member := range members {
		for _, c := range r.registry.ConnectionsOf(member) {
			if err := c.Enqueue(frame); err != nil {
				r.logger.Warn().
					Str("chat_id", chatID).
					Str("user_id", member).
					Msg("Dropping direct-path frame for slow connection.")
			}
		}
	}
}
