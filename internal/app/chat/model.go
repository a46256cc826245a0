/*
Package chat contains the real-time synchronization core: the connection
registry, presence tracking, room fan-out, the per-recipient delivery status
state machine, and typing indicators.

This file defines the domain types shared between the core, the storage
layer, and the wire protocol.
*/
package chat

import "time"

// Status is the delivery state of a message for a single recipient.
// The only legal progression is sent -> delivered -> seen.
type Status string

const (
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusSeen      Status = "seen"
)

// rank orders the statuses so monotonicity can be enforced numerically.
func (s Status) rank() int {
	switch s {
	case StatusSent:
		return 0
	case StatusDelivered:
		return 1
	case StatusSeen:
		return 2
	}
	return -1
}

// Valid reports whether s is one of the three known statuses.
func (s Status) Valid() bool {
	return s.rank() >= 0
}

// Advance applies the monotonic transition rule: the result is next if it
// strictly outranks cur, otherwise cur. The boolean reports whether the
// state actually moved. Regressions and repeats are absorbed as no-ops,
// never errors.
func Advance(cur, next Status) (Status, bool) {
	if !next.Valid() || next.rank() <= cur.rank() {
		return cur, false
	}
	return next, true
}

// Media is a file attachment reference carried by a message.
type Media struct {
	URL  string `json:"url"`
	Mime string `json:"mime"`
}

// Message is the persistent chat message entity. It is created exactly once
// by the send operation; afterwards only the Status map mutates, and only
// through the monotonic transitions above. The sender is never a key in its
// own status map.
type Message struct {
	ID        string            `json:"id"`
	ChatID    string            `json:"chat"`
	SenderID  string            `json:"sender"`
	Content   string            `json:"content"`
	Media     []Media           `json:"media,omitempty"`
	Status    map[string]Status `json:"status"`
	CreatedAt time.Time         `json:"createdAt"`
}

// Chat is the persistent conversation entity referenced by the core.
// A non-group chat has exactly two distinct members; membership is never empty.
type Chat struct {
	ID            string    `json:"id"`
	IsGroup       bool      `json:"isGroup"`
	Name          string    `json:"name,omitempty"`
	AvatarURL     string    `json:"avatarUrl,omitempty"`
	Members       []string  `json:"members"`
	AdminID       string    `json:"admin,omitempty"`
	LastMessageID string    `json:"lastMessageId,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// HasMember reports whether the given user id belongs to the chat.
func (c *Chat) HasMember(userID string) bool {
	for _, m := range c.Members {
		if m == userID {
			return true
		}
	}
	return false
}

// Recipients returns the member ids excluding the given sender.
func (c *Chat) Recipients(senderID string) []string {
	out := make([]string, 0, len(c.Members))
	for _, m := range c.Members {
		if m != senderID {
			out = append(out, m)
		}
	}
	return out
}

// InitialStatus builds the status map for a freshly created message:
// every non-sender member starts at sent.
func (c *Chat) InitialStatus(senderID string) map[string]Status {
	status := make(map[string]Status, len(c.Members))
	for _, m := range c.Members {
		if m != senderID {
			status[m] = StatusSent
		}
	}
	return status
}
