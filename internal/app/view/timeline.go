/*
Package view implements the client-side state of a chat session: the
rendered message timeline with optimistic sends, and typing state with
bounded expiry.

The timeline is the reconciliation point between two event paths that may
race: the send acknowledgement addressed to this device, and the room
fan-out addressed to every device. Deduplication is by server-assigned
message id, never by position.
*/
package view

import (
	"fmt"
	"sync"

	"vchat/internal/app/chat"
)

// Tick is the sender-facing rendered state of an outgoing message.
type Tick int

const (
	// TickPending: optimistic placeholder, not yet confirmed by the server.
	TickPending Tick = iota

	// TickSingle: confirmed, but no recipient has reached delivered or seen.
	TickSingle

	// TickDouble: at least one recipient reached delivered or seen.
	TickDouble
)

// Entry is one rendered message. Pending entries exist only on the sending
// device and are keyed by a temporary client-generated id until reconciled.
type Entry struct {
	Message chat.Message
	Pending bool
	TempID  string
}

// Timeline holds the rendered message list of one device.
// All methods are safe for concurrent use by the socket reader and the UI.
type Timeline struct {
	mu sync.Mutex

	selfID string

	order   []*Entry
	byID    map[string]*Entry
	byTemp  map[string]*Entry
	tempSeq int
}

// NewTimeline constructs an empty timeline for the given local user.
func NewTimeline(selfID string) *Timeline {
	return &Timeline{
		selfID: selfID,
		byID:   make(map[string]*Entry),
		byTemp: make(map[string]*Entry),
	}
}

// AppendPending renders an optimistic placeholder for a message the user
// just sent and returns its temporary id. The authoritative send request
// carries only the real content; the temp id is used solely to correlate
// the eventual ack.
func (t *Timeline) AppendPending(chatID, content string) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.tempSeq++
	tempID := fmt.Sprintf("temp-%d", t.tempSeq)

	entry := &Entry{
		Message: chat.Message{
			ChatID:   chatID,
			SenderID: t.selfID,
			Content:  content,
		},
		Pending: true,
		TempID:  tempID,
	}
	t.order = append(t.order, entry)
	t.byTemp[tempID] = entry

	return tempID
}

// Confirm reconciles a successful ack against the placeholder. If the
// canonical message already arrived independently through fan-out, the
// placeholder is dropped instead of inserted as a duplicate; otherwise it
// is replaced in place with the canonical message.
func (t *Timeline) Confirm(tempID string, msg chat.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.byTemp[tempID]
	if !ok {
		// Placeholder already gone (e.g. failed and removed); the fan-out
		// copy, if any, stands on its own.
		return
	}
	delete(t.byTemp, tempID)

	if _, exists := t.byID[msg.ID]; exists {
		t.remove(entry)
		return
	}

	entry.Message = msg
	entry.Pending = false
	entry.TempID = ""
	t.byID[msg.ID] = entry
}

// Fail removes the placeholder after an explicit failure ack. The caller
// surfaces the error to the user; there is no automatic retry.
// It reports whether a placeholder was removed.
func (t *Timeline) Fail(tempID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.byTemp[tempID]
	if !ok {
		return false
	}
	delete(t.byTemp, tempID)
	t.remove(entry)
	return true
}

// Apply inserts an incoming message event, deduplicating by server id.
// It reports whether the message was actually inserted.
func (t *Timeline) Apply(msg chat.Message) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.byID[msg.ID]; exists {
		return false
	}

	entry := &Entry{Message: msg}
	t.order = append(t.order, entry)
	t.byID[msg.ID] = entry
	return true
}

// ApplyStatus advances one recipient's status on a rendered message.
// The view applies the same monotonic rule as the server, so a late or
// duplicated status event can never regress what is already shown.
func (t *Timeline) ApplyStatus(messageID, recipientID string, status chat.Status) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.byID[messageID]
	if !ok {
		return false
	}

	cur := entry.Message.Status[recipientID]
	next, advanced := chat.Advance(cur, status)
	if !advanced {
		return false
	}

	if entry.Message.Status == nil {
		entry.Message.Status = make(map[string]chat.Status, 1)
	}
	entry.Message.Status[recipientID] = next
	return true
}

// Tick derives the rendered tick for a message by id: pending clock,
// single check while no recipient reached delivered/seen, double check as
// soon as any recipient did.
func (t *Timeline) Tick(messageID string) (Tick, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.byID[messageID]
	if !ok {
		return TickPending, false
	}
	return tickOf(entry), true
}

// Entries returns a snapshot of the rendered list in insertion order.
func (t *Timeline) Entries() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Entry, 0, len(t.order))
	for _, e := range t.order {
		out = append(out, *e)
	}
	return out
}

// Len returns the number of rendered entries, pending included.
func (t *Timeline) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.order)
}

// remove drops an entry from the ordered list and the id index.
// Callers hold t.mu.
func (t *Timeline) remove(entry *Entry) {
	for i, e := range t.order {
		if e == entry {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
	if entry.Message.ID != "" {
		delete(t.byID, entry.Message.ID)
	}
}

func tickOf(entry *Entry) Tick {
	if entry.Pending {
		return TickPending
	}
	for _, st := range entry.Message.Status {
		if st == chat.StatusDelivered || st == chat.StatusSeen {
			return TickDouble
		}
	}
	return TickSingle
}
