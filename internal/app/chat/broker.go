/*
Package chat contains the real-time synchronization core.

This file defines the Broker, the single in-process coordinator that owns
the connection registry, presence tracker, room index, status tracker, and
typing tracker, and that executes every inbound client event against the
durable store. Scaling out past one broker instance requires an external
pub/sub layer and is out of scope.
*/
package chat

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"vchat/internal/pkg/errs"
	"vchat/internal/pkg/logx"
)

// defaultOpTimeout bounds every storage call made from a connection handler
// so a slow backend cannot starve the connection pumps.
const defaultOpTimeout = 5 * time.Second

// Broker coordinates all real-time state for one server process.
// Handlers for different connections run concurrently; each component
// guards its own state, and the broker itself holds none.
type Broker struct {
	registry *Registry
	rooms    *Rooms
	presence *Presence
	status   *StatusTracker
	typing   *TypingTracker

	store     Store
	opTimeout time.Duration
	logger    zerolog.Logger
}

// NewBroker constructs a broker with fresh component state bound to the
// given store.
func NewBroker(store Store) *Broker {
	logger := logx.Logger().With().Str("component", "broker").Logger()

	b := &Broker{
		store:     store,
		opTimeout: defaultOpTimeout,
		logger:    logger,
	}

	b.registry = NewRegistry()
	b.rooms = NewRooms(b.registry, logger)
	b.presence = NewPresence(b.registry, store, logger)
	b.status = NewStatusTracker(store, b.registry, logger)
	b.typing = NewTypingTracker(TypingExpiry, b.typingExpired)

	return b
}

// opCtx returns a bounded context for one storage-touching operation.
func (b *Broker) opCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), b.opTimeout)
}

// Connect registers an authenticated connection. Presence handles the
// 0->1 boundary atomically with the registry mutation.
func (b *Broker) Connect(c *Client) {
	ctx, cancel := b.opCtx()
	defer cancel()

	b.presence.ClientConnected(ctx, c)

	b.logger.Info().
		Str("user_id", c.user.ID).
		Msg("Client connected.")
}

// Disconnect unwinds a closing connection: room subscriptions, typing
// state, and the presence 1->0 boundary.
func (b *Broker) Disconnect(c *Client) {
	b.rooms.Leave(c)

	for chatID, recipients := range b.typing.ClearUser(c.user.ID) {
		b.fanTyping(chatID, c.user.ID, recipients, false)
	}

	ctx, cancel := b.opCtx()
	defer cancel()

	b.presence.ClientDisconnected(ctx, c)

	b.logger.Info().
		Str("user_id", c.user.ID).
		Msg("Client disconnected.")
}

// JoinChat subscribes the connection to a chat room after verifying
// membership. A join for a chat the caller does not belong to is rejected
// with an error event; the connection stays alive.
func (b *Broker) JoinChat(c *Client, chatID string) {
	ctx, cancel := b.opCtx()
	defer cancel()

	chatRec, err := b.store.FindChatByID(ctx, chatID)
	if err != nil {
		if err == ErrNotFound {
			c.SendError(errs.NewError(errs.ErrChatNotFound))
		} else {
			b.logger.Error().Err(err).Str("chat_id", chatID).Msg("Failed to load chat for join.")
			c.SendError(errs.NewError(errs.ErrUnknown))
		}
		return
	}

	if !chatRec.HasMember(c.user.ID) {
		b.logger.Warn().
			Str("chat_id", chatID).
			Str("user_id", c.user.ID).
			Msg("Join rejected: caller is not a member.")
		c.SendError(errs.NewError(errs.ErrNotAMember))
		return
	}

	b.rooms.Join(c, chatID)
}

// SendMessage validates membership, persists the message with its initial
// per-recipient status map, acks the sender exactly once, and fans the
// message out fire-and-forget. The ack never waits on fan-out completion.
func (b *Broker) SendMessage(c *Client, p SendPayload, tempID string) {
	ackError := func(code int) {
		custom := errs.NewError(code)
		if err := c.SendEvent(EventMessageAck, AckPayload{
			TempID: tempID,
			OK:     false,
			Code:   custom.Code,
			Error:  custom.Message,
		}); err != nil {
			b.logger.Warn().Str("user_id", c.user.ID).Msg("Failed to queue failure ack.")
		}
	}

	if len(p.Content) > MaxContentBytes {
		ackError(errs.ErrMessageTooLong)
		return
	}
	if p.Content == "" && len(p.Media) == 0 {
		ackError(errs.ErrInvalidParams)
		return
	}
	if len(p.Media) > MaxMediaCount {
		ackError(errs.ErrAttachmentInvalid)
		return
	}

	ctx, cancel := b.opCtx()
	defer cancel()

	chatRec, err := b.store.FindChatByID(ctx, p.ChatID)
	if err != nil {
		if err == ErrNotFound {
			ackError(errs.ErrChatNotFound)
		} else {
			b.logger.Error().Err(err).Str("chat_id", p.ChatID).Msg("Failed to load chat for send.")
			ackError(errs.ErrUnknown)
		}
		return
	}

	if !chatRec.HasMember(c.user.ID) {
		b.logger.Warn().
			Str("chat_id", p.ChatID).
			Str("user_id", c.user.ID).
			Msg("Send rejected: caller is not a member.")
		ackError(errs.ErrNotAMember)
		return
	}

	msg, err := b.store.CreateMessage(ctx, p.ChatID, c.user.ID, p.Content, p.Media, chatRec.InitialStatus(c.user.ID))
	if err != nil {
		b.logger.Error().Err(err).Str("chat_id", p.ChatID).Msg("Failed to persist message.")
		ackError(errs.ErrUnknown)
		return
	}

	if err := c.SendEvent(EventMessageAck, AckPayload{TempID: tempID, OK: true, Message: msg}); err != nil {
		b.logger.Warn().Str("user_id", c.user.ID).Msg("Failed to queue success ack.")
	}

	go b.fanOutMessage(chatRec, msg)
}

// fanOutMessage delivers a freshly created message to all members,
// including the sender's own devices, which lets the sender's other
// devices render the message and races benignly with the ack.
func (b *Broker) fanOutMessage(chatRec *Chat, msg *Message) {
	frame, err := NewEvent(EventNewMessage, msg)
	if err != nil {
		b.logger.Error().Err(err).Str("message_id", msg.ID).Msg("Failed to build message event.")
		return
	}

	b.rooms.Deliver(chatRec.ID, chatRec.Members, frame)
}

// Typing fans a member's typing state out to every other chat member and
// keeps the server-side hard expiry fresh. Never echoed back to the typist.
func (b *Broker) Typing(c *Client, p TypingPayload) {
	ctx, cancel := b.opCtx()
	defer cancel()

	chatRec, err := b.store.FindChatByID(ctx, p.ChatID)
	if err != nil {
		if err != ErrNotFound {
			b.logger.Error().Err(err).Str("chat_id", p.ChatID).Msg("Failed to load chat for typing.")
		}
		return
	}

	if !chatRec.HasMember(c.user.ID) {
		return
	}

	recipients := chatRec.Recipients(c.user.ID)

	if p.IsTyping {
		b.typing.Refresh(p.ChatID, c.user.ID, recipients)
	} else {
		b.typing.Clear(p.ChatID, c.user.ID)
	}

	b.fanTyping(p.ChatID, c.user.ID, recipients, p.IsTyping)
}

// typingExpired is the tracker's hard-expiry callback: the typist went
// quiet (or vanished) without an explicit stop, so stop on their behalf.
func (b *Broker) typingExpired(chatID, userID string, recipients []string) {
	b.fanTyping(chatID, userID, recipients, false)
}

// fanTyping emits a typing event to every live connection of each recipient.
func (b *Broker) fanTyping(chatID, userID string, recipients []string, isTyping bool) {
	frame, err := NewEvent(EventTypingState, TypingEventPayload{
		ChatID:   chatID,
		UserID:   userID,
		IsTyping: isTyping,
	})
	if err != nil {
		b.logger.Error().Err(err).Str("chat_id", chatID).Msg("Failed to build typing event.")
		return
	}

	for _, recipient := range recipients {
		for _, conn := range b.registry.ConnectionsOf(recipient) {
			if err := conn.Enqueue(frame); err != nil {
				b.logger.Warn().Str("user_id", recipient).Msg("Dropping typing frame for slow connection.")
			}
		}
	}
}

// MarkDelivered applies the recipient's delivered transition for a message.
// Only the calling connection's own user can be the recipient.
func (b *Broker) MarkDelivered(c *Client, messageID string) {
	ctx, cancel := b.opCtx()
	defer cancel()

	b.status.MarkDelivered(ctx, messageID, c.user.ID)
}

// MarkSeen applies the recipient's seen transition for a batch of messages.
func (b *Broker) MarkSeen(c *Client, messageIDs []string) {
	ctx, cancel := b.opCtx()
	defer cancel()

	b.status.MarkSeen(ctx, messageIDs, c.user.ID)
}

// NotifyChatCreated pushes a chat-created event to every live connection of
// every member, so clients can subscribe before the first message arrives.
func (b *Broker) NotifyChatCreated(chatRec *Chat, payload any) {
	frame, err := NewEvent(EventChatCreated, payload)
	if err != nil {
		b.logger.Error().Err(err).Str("chat_id", chatRec.ID).Msg("Failed to build chat-created event.")
		return
	}

	for _, member := range chatRec.Members {
		for _, conn := range b.registry.ConnectionsOf(member) {
			if err := conn.Enqueue(frame); err != nil {
				b.logger.Warn().Str("user_id", member).Msg("Dropping chat-created frame for slow connection.")
			}
		}
	}
}

// IsOnline reports whether the user currently holds a live connection.
func (b *Broker) IsOnline(userID string) bool {
	return b.registry.IsOnline(userID)
}

// Shutdown stops the typing timers and closes every live connection.
func (b *Broker) Shutdown() {
	b.logger.Info().Msg("Shutting down broker...")

	b.typing.Shutdown()

	for _, clients := range b.registry.Snapshot() {
		for _, c := range clients {
			c.Close()
		}
	}

	b.logger.Info().Msg("Broker shutdown complete.")
}
