package chat

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Store implementations when the referenced
// entity does not exist.
var ErrNotFound = errors.New("not found")

// Store is the boundary with the durable storage collaborator. The core
// treats it as a document backend reachable by create/read/update calls;
// it is the durable record that covers members with zero live connections.
type Store interface {
	// FindChatByID loads a chat including its ordered member id set.
	FindChatByID(ctx context.Context, chatID string) (*Chat, error)

	// CreateMessage persists a new message, assigning its id and creation
	// time, with the given initial per-recipient status map.
	CreateMessage(ctx context.Context, chatID, senderID, content string, media []Media, status map[string]Status) (*Message, error)

	// FindMessageByID loads a message including its current status map.
	FindMessageByID(ctx context.Context, messageID string) (*Message, error)

	// UpdateMessageStatus persists an already-validated monotonic transition
	// for one recipient of one message.
	UpdateMessageStatus(ctx context.Context, messageID, recipientID string, status Status) error

	// SetUserOnline records the user's derived online flag.
	SetUserOnline(ctx context.Context, userID string, online bool) error

	// SetUserLastSeen records the instant the user's last connection closed.
	SetUserLastSeen(ctx context.Context, userID string, at time.Time) error
}
