/*
Package chat contains the real-time synchronization core.

This file defines the delivery status state machine. Per (message, recipient)
the state runs sent -> delivered -> seen and never regresses; duplicate or
out-of-order acknowledgements are absorbed as no-ops. Every accepted
transition is persisted and broadcast to the sender's connections only.
*/
package chat

import (
	"context"
	"hash/fnv"
	"sync"

	"github.com/rs/zerolog"
)

// statusLockStripes bounds the number of per-message mutexes.
// Striping keeps the critical section per-message without growing
// an unbounded lock map.
const statusLockStripes = 64

// StatusTracker applies and broadcasts per-recipient delivery status
// transitions. Concurrent updates for different recipients of the same
// message serialize on the message's lock stripe so no update is lost.
type StatusTracker struct {
	store    Store
	registry *Registry
	locks    [statusLockStripes]sync.Mutex
	logger   zerolog.Logger
}

// NewStatusTracker constructs a status tracker bound to a store and registry.
func NewStatusTracker(store Store, registry *Registry, logger zerolog.Logger) *StatusTracker {
	return &StatusTracker{
		store:    store,
		registry: registry,
		logger:   logger.With().Str("component", "status").Logger(),
	}
}

func (t *StatusTracker) lockFor(messageID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(messageID))
	return &t.locks[h.Sum32()%statusLockStripes]
}

// MarkDelivered moves the recipient's state to delivered unless it already
// reached seen. Only the recipient's own connection may call this for itself;
// unknown messages and non-recipients are ignored silently.
func (t *StatusTracker) MarkDelivered(ctx context.Context, messageID, recipientID string) {
	t.apply(ctx, messageID, recipientID, StatusDelivered)
}

// MarkSeen moves the recipient's state to seen (terminal) for each message id.
func (t *StatusTracker) MarkSeen(ctx context.Context, messageIDs []string, recipientID string) {
	for _, id := range messageIDs {
		t.apply(ctx, id, recipientID, StatusSeen)
	}
}

// apply runs one transition under the message's critical section:
// load current state, advance monotonically, persist, broadcast to sender.
func (t *StatusTracker) apply(ctx context.Context, messageID, recipientID string, next Status) {
	mu := t.lockFor(messageID)
	mu.Lock()
	defer mu.Unlock()

	msg, err := t.store.FindMessageByID(ctx, messageID)
	if err != nil {
		if err != ErrNotFound {
			t.logger.Error().Err(err).Str("message_id", messageID).Msg("Failed to load message for status update.")
		}
		return
	}

	// Only a recipient can advance its own entry. The sender is never a key
	// in its own status map, so a sender self-ack falls out here too.
	cur, isRecipient := msg.Status[recipientID]
	if !isRecipient {
		t.logger.Debug().
			Str("message_id", messageID).
			Str("user_id", recipientID).
			Msg("Ignoring status update from non-recipient.")
		return
	}

	applied, advanced := Advance(cur, next)
	if !advanced {
		// Duplicate or regressing transition: accepted as a no-op.
		return
	}

	if err := t.store.UpdateMessageStatus(ctx, messageID, recipientID, applied); err != nil {
		t.logger.Error().Err(err).
			Str("message_id", messageID).
			Str("user_id", recipientID).
			Msg("Failed to persist status transition.")
		return
	}

	t.broadcastToSender(msg.SenderID, StatusPayload{
		MessageID:   messageID,
		RecipientID: recipientID,
		Status:      applied,
	})
}

// broadcastToSender emits a status event to the sender's connections only,
// never to other recipients.
func (t *StatusTracker) broadcastToSender(senderID string, payload StatusPayload) {
	frame, err := NewEvent(EventMessageStatus, payload)
	if err != nil {
		t.logger.Error().Err(err).Str("message_id", payload.MessageID).Msg("Failed to build status event.")
		return
	}

	for _, c := range t.registry.ConnectionsOf(senderID) {
		if err := c.Enqueue(frame); err != nil {
			t.logger.Warn().Str("user_id", senderID).Msg("Dropping status frame for slow connection.")
		}
	}
}
