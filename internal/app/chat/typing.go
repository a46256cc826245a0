/*
Package chat contains the real-time synchronization core.

This file defines the server side of the typing indicator. Typing state is
ephemeral, keyed by (chat, user), never persisted, and never echoed back to
the typist. The state carries a hard expiry: if no refresh arrives within
twice the client quiet interval, the server clears it and emits a final
"stopped typing" on the typist's behalf, so an abrupt disconnect cannot
leave receivers showing "typing" forever.
*/
package chat

import (
	"sync"
	"time"
)

const (
	// TypingQuietInterval is the client-side debounce: after this long with no
	// further input, the client emits isTyping=false.
	TypingQuietInterval = 800 * time.Millisecond

	// TypingExpiry is the server-side hard bound on typing state. A state not
	// refreshed within this window is cleared as if the typist had stopped.
	TypingExpiry = 2 * TypingQuietInterval
)

type typingKey struct {
	chatID string
	userID string
}

type typingEntry struct {
	timer *time.Timer

	// recipients snapshots the chat members (typist excluded) at refresh
	// time, so the expiry fan-out needs no storage lookup.
	recipients []string
}

// TypingTracker tracks live typing states and their expiry timers.
type TypingTracker struct {
	mu     sync.Mutex
	ttl    time.Duration
	active map[typingKey]*typingEntry

	// expired is invoked outside the lock whenever a state hits its hard
	// expiry; the broker fans the synthetic isTyping=false out from there.
	expired func(chatID, userID string, recipients []string)
}

// NewTypingTracker constructs a tracker with the given hard expiry.
func NewTypingTracker(ttl time.Duration, expired func(chatID, userID string, recipients []string)) *TypingTracker {
	return &TypingTracker{
		ttl:     ttl,
		active:  make(map[typingKey]*typingEntry),
		expired: expired,
	}
}

// Refresh records that the user is typing in the chat, creating the state on
// first keystroke and pushing the expiry out on every further one.
func (t *TypingTracker) Refresh(chatID, userID string, recipients []string) {
	key := typingKey{chatID: chatID, userID: userID}

	t.mu.Lock()
	defer t.mu.Unlock()

	if entry, ok := t.active[key]; ok {
		entry.recipients = recipients
		entry.timer.Reset(t.ttl)
		return
	}

	entry := &typingEntry{recipients: recipients}
	entry.timer = time.AfterFunc(t.ttl, func() {
		t.expire(key)
	})
	t.active[key] = entry
}

// Clear drops the typing state after an explicit "stopped typing" event.
// It reports whether a state existed.
func (t *TypingTracker) Clear(chatID, userID string) bool {
	key := typingKey{chatID: chatID, userID: userID}

	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.active[key]
	if !ok {
		return false
	}
	entry.timer.Stop()
	delete(t.active, key)
	return true
}

// ClearUser drops every typing state held by the user and returns the
// cleared chats with their recipient snapshots, so the caller can emit the
// synthetic "stopped typing" events. Used on disconnect.
func (t *TypingTracker) ClearUser(userID string) map[string][]string {
	t.mu.Lock()
	defer t.mu.Unlock()

	cleared := make(map[string][]string)
	for key, entry := range t.active {
		if key.userID != userID {
			continue
		}
		entry.timer.Stop()
		delete(t.active, key)
		cleared[key.chatID] = entry.recipients
	}
	return cleared
}

// expire runs from the entry's timer goroutine.
func (t *TypingTracker) expire(key typingKey) {
	t.mu.Lock()
	entry, ok := t.active[key]
	if ok {
		delete(t.active, key)
	}
	t.mu.Unlock()

	if ok && t.expired != nil {
		t.expired(key.chatID, key.userID, entry.recipients)
	}
}

// Shutdown stops all pending expiry timers.
func (t *TypingTracker) Shutdown() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for key, entry := range t.active {
		entry.timer.Stop()
		delete(t.active, key)
	}
}
