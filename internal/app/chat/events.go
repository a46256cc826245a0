/*
Package chat contains the real-time synchronization core.

This file defines the websocket wire protocol: a typed event envelope plus
the payload structures for every client->server and server->client event.
*/
package chat

import (
	"encoding/json"
	"time"
)

// EventType identifies a websocket event.
type EventType string

// Client -> server events.
const (
	// EventJoinChat subscribes the connection to a chat's broadcast room.
	EventJoinChat EventType = "chat:join"

	// EventSendMessage requests message creation and fan-out; acked exactly once.
	EventSendMessage EventType = "message:send"

	// EventTyping signals the sender's typing state for a chat.
	EventTyping EventType = "typing"

	// EventDelivered marks a message delivered for the calling recipient.
	EventDelivered EventType = "message:delivered"

	// EventSeen marks a batch of messages seen for the calling recipient.
	EventSeen EventType = "message:seen"
)

// Server -> client events.
const (
	// EventMessageAck answers EventSendMessage with success or failure.
	EventMessageAck EventType = "message:ack"

	// EventNewMessage carries a full message, including its status map.
	EventNewMessage EventType = "message:new"

	// EventMessageStatus carries a single accepted status transition; sent to
	// the message sender's connections only.
	EventMessageStatus EventType = "message:status"

	// EventPresence carries an online/offline boundary crossing for a user.
	EventPresence EventType = "user:presence"

	// EventTypingState relays another member's typing state for a chat.
	EventTypingState EventType = "typing"

	// EventChatCreated notifies members that a chat they belong to was created.
	EventChatCreated EventType = "chat:created"

	// EventError carries a non-fatal error to the client.
	EventError EventType = "error"
)

// Event is the envelope for every websocket frame in both directions.
// TempID is only meaningful on EventSendMessage frames: it correlates the
// eventual ack with the client's optimistic placeholder and is never stored
// on the message itself.
type Event struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
	TempID  string          `json:"tempId,omitempty"`
}

// NewEvent marshals a payload into a ready-to-send event frame.
func NewEvent(eventType EventType, payload any) ([]byte, error) {
	var raw json.RawMessage
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		raw = encoded
	}

	return json.Marshal(Event{Type: eventType, Payload: raw})
}

// JoinPayload subscribes a connection to a chat room.
type JoinPayload struct {
	ChatID string `json:"chatId"`
}

// SendPayload carries the content of a message send request.
// The optimistic temp id travels on the envelope, not here.
type SendPayload struct {
	ChatID  string  `json:"chatId"`
	Content string  `json:"content"`
	Media   []Media `json:"media,omitempty"`
}

// TypingPayload signals the sender's typing state.
type TypingPayload struct {
	ChatID   string `json:"chatId"`
	IsTyping bool   `json:"isTyping"`
}

// DeliveredPayload marks one message delivered for the calling recipient.
type DeliveredPayload struct {
	MessageID string `json:"messageId"`
}

// SeenPayload marks a batch of messages seen for the calling recipient.
type SeenPayload struct {
	MessageIDs []string `json:"messageIds"`
}

// AckPayload answers a send request. Exactly one ack is emitted per send:
// either OK with the canonical message, or an error code and message.
type AckPayload struct {
	TempID  string   `json:"tempId"`
	OK      bool     `json:"ok"`
	Message *Message `json:"message,omitempty"`
	Code    int      `json:"code,omitempty"`
	Error   string   `json:"error,omitempty"`
}

// StatusPayload carries one accepted per-recipient status transition.
type StatusPayload struct {
	MessageID   string `json:"messageId"`
	RecipientID string `json:"userId"`
	Status      Status `json:"status"`
}

// PresencePayload carries an online/offline boundary crossing.
// LastSeen is nil while the user is online.
type PresencePayload struct {
	UserID   string     `json:"userId"`
	IsOnline bool       `json:"isOnline"`
	LastSeen *time.Time `json:"lastSeen"`
}

// TypingEventPayload relays a member's typing state to other chat members.
type TypingEventPayload struct {
	ChatID   string `json:"chatId"`
	UserID   string `json:"userId"`
	IsTyping bool   `json:"isTyping"`
}

// ErrorPayload carries a non-fatal error to the client.
type ErrorPayload struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}
