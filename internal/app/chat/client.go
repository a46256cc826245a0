/*
Package chat contains the real-time synchronization core.

This file defines the Client struct, representing one live transport session
between a device and the server. It manages the connection lifecycle, the
message communication loops (ReadPump and WritePump), and dispatches inbound
events to the Broker.
*/
package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"vchat/internal/app/user"
	"vchat/internal/pkg/errs"
	"vchat/internal/pkg/logx"
)

const (
	// timeout duration for writing to the WebSocket connection.
	writeWait = 10 * time.Second

	// maximum time allowed for the server to wait for a Pong message from the client.
	pongWait = 60 * time.Second

	// frequency at which the server sends a Ping message.
	pingPeriod = (pongWait * 9) / 10

	// maximum allowed size (in bytes) of a frame sent by the client.
	maxMessageSize = 8192

	// MaxContentBytes is the maximum allowed size (in bytes) for message content.
	MaxContentBytes = 5000

	// MaxMediaCount is the maximum number of media attachments per message.
	MaxMediaCount = 3

	// sendChannelBuffer sizes the per-connection outbound queue.
	sendChannelBuffer = 256
)

// Client represents an active WebSocket connection and its owning user.
// A user may own several Clients at once (multi-device); the Connection
// Registry is the sole owner of a Client for its lifetime.
type Client struct {
	// broker handles every inbound event and the disconnect cleanup.
	broker *Broker

	// underlying WebSocket connection object.
	conn *websocket.Conn

	// the authenticated owner of this connection.
	user user.User

	// createdAt records when the connection completed its handshake.
	createdAt time.Time

	// a buffered channel used to queue frames waiting to be sent to the client.
	send chan []byte

	// structured logger with client context.
	logger zerolog.Logger
}

// NewClient constructs a Client for an authenticated, upgraded connection.
func NewClient(broker *Broker, wsConn *websocket.Conn, owner user.User) *Client {
	clientLogger := logx.Logger().With().
		Str("user_id", owner.ID).
		Logger()

	return &Client{
		broker:    broker,
		conn:      wsConn,
		user:      owner,
		createdAt: time.Now(),
		send:      make(chan []byte, sendChannelBuffer),
		logger:    clientLogger,
	}
}

// User returns the owning user of this connection.
func (c *Client) User() user.User {
	return c.user
}

// ReadPump reads frames from the WebSocket connection, handles heartbeats
// (Pong), and dispatches parsed events. It performs the full disconnect
// cleanup when the connection closes for any reason.
func (c *Client) ReadPump() {
	defer c.cleanupOnDisconnect()

	c.conn.SetReadLimit(maxMessageSize)

	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set read deadline")
		return
	}

	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Info().Err(err).Msg("Error reading frame (client close/going away)")
			}
			break
		}

		c.processInboundEvent(frame)
	}
}

// cleanupOnDisconnect unwinds the connection: the broker unsubscribes the
// rooms, clears typing state, and lets presence handle the 1->0 boundary.
func (c *Client) cleanupOnDisconnect() {
	c.logger.Info().Msg("Client connection cleanup starting.")

	c.broker.Disconnect(c)

	if err := c.conn.Close(); err != nil {
		c.logger.Debug().Err(err).Msg("Client connection close error")
	}
}

// processInboundEvent parses a raw frame and routes it to the broker.
// Handler errors never terminate the connection; only the auth failure at
// handshake time is fatal to a connection attempt.
func (c *Client) processInboundEvent(frame []byte) {
	var evt Event
	if err := json.Unmarshal(frame, &evt); err != nil {
		c.logger.Warn().Err(err).
			Bytes("frame", frame).
			Msg("Client sent invalid JSON")
		return
	}

	switch evt.Type {
	case EventJoinChat:
		var p JoinPayload
		if !c.bindPayload(evt, &p) {
			return
		}
		c.broker.JoinChat(c, p.ChatID)

	case EventSendMessage:
		var p SendPayload
		if !c.bindPayload(evt, &p) {
			return
		}
		c.broker.SendMessage(c, p, evt.TempID)

	case EventTyping:
		var p TypingPayload
		if !c.bindPayload(evt, &p) {
			return
		}
		c.broker.Typing(c, p)

	case EventDelivered:
		var p DeliveredPayload
		if !c.bindPayload(evt, &p) {
			return
		}
		c.broker.MarkDelivered(c, p.MessageID)

	case EventSeen:
		var p SeenPayload
		if !c.bindPayload(evt, &p) {
			return
		}
		c.broker.MarkSeen(c, p.MessageIDs)

	default:
		c.logger.Warn().Str("event_type", string(evt.Type)).Msg("Client sent unsupported event type")
	}
}

// bindPayload unmarshals the event payload into dst, logging and skipping
// the event on malformed input.
func (c *Client) bindPayload(evt Event, dst any) bool {
	if err := json.Unmarshal(evt.Payload, dst); err != nil {
		c.logger.Warn().Err(err).
			Str("event_type", string(evt.Type)).
			Msg("Client sent invalid payload")
		return false
	}
	return true
}

// WritePump writes queued frames to the WebSocket connection and keeps the
// heartbeat alive with periodic pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()

		if err := c.conn.Close(); err != nil {
			c.logger.Debug().Err(err).Msg("Client connection close error in WritePump")
		}
	}()

	for {
		select {
		case frame, ok := <-c.send:
			if !c.writeQueuedFrame(frame, ok) {
				return
			}

		case <-ticker.C:
			if !c.writePingMessage() {
				return
			}
		}
	}
}

// writeQueuedFrame writes one frame pulled from the send channel.
// Returns true if the WritePump loop should continue.
func (c *Client) writeQueuedFrame(frame []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set write deadline")
		return false
	}

	if !ok {
		if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil {
			c.logger.Debug().Err(err).Msg("Error writing close message")
		}
		return false
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		c.logger.Error().Err(err).Msg("Error writing frame")
		return false
	}

	return true
}

// writePingMessage sends a periodic WebSocket Ping to maintain the heartbeat.
func (c *Client) writePingMessage() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set write deadline on ping")
		return false
	}

	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.logger.Debug().Err(err).Msg("Error writing ping")
		return false
	}

	return true
}

// Enqueue places a pre-marshaled frame on the outbound queue without
// blocking. A full queue drops the frame: the real-time layer is
// best-effort and durable storage covers catch-up.
func (c *Client) Enqueue(frame []byte) error {
	select {
	case c.send <- frame:
		return nil
	default:
		c.logger.Warn().Int("queue_len", len(c.send)).Msg("Client send channel full, dropping frame")
		return fmt.Errorf("client send queue full")
	}
}

// SendEvent marshals and enqueues an event for this connection.
func (c *Client) SendEvent(eventType EventType, payload any) error {
	frame, err := NewEvent(eventType, payload)
	if err != nil {
		c.logger.Error().Err(err).Str("event_type", string(eventType)).Msg("Error marshaling event for client")
		return err
	}
	return c.Enqueue(frame)
}

// SendError constructs and sends an EventError frame to the client.
func (c *Client) SendError(err error) {
	var code int
	var message string

	var customErr *errs.CustomError
	if errors.As(err, &customErr) {
		code = customErr.Code
		message = customErr.Message
	} else {
		code = errs.ErrUnknown
		message = fmt.Sprintf("Internal server error: %v", err)
	}

	if sendErr := c.SendEvent(EventError, ErrorPayload{Code: code, Message: message}); sendErr != nil {
		c.logger.Warn().Err(sendErr).Msg("Failed to queue error event")
	}
}

// Close terminates the connection, flushing a close frame when possible.
func (c *Client) Close() {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")); err != nil {
		c.logger.Debug().Err(err).Msg("Failed to send close frame.")
	}
	c.conn.Close()
}
