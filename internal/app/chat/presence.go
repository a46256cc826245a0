/*
Package chat contains the real-time synchronization core.

This file defines the presence tracker. Presence is a boundary-crossing
signal, not a connection-count signal: only the 0->1 and 1->0 registry
transitions produce events, so a multi-device user is never reported
offline while any device remains connected.
*/
package chat

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Presence derives online/offline state and last-seen timestamps from
// connection registry transitions and broadcasts the deltas to every
// other connected user.
type Presence struct {
	registry *Registry
	store    Store
	logger   zerolog.Logger
}

// NewPresence constructs a presence tracker bound to a registry and store.
func NewPresence(registry *Registry, store Store, logger zerolog.Logger) *Presence {
	return &Presence{
		registry: registry,
		store:    store,
		logger:   logger.With().Str("component", "presence").Logger(),
	}
}

// ClientConnected registers the connection. If this crossed the 0->1
// boundary it persists the online flag and broadcasts
// presence(userId, online=true, lastSeen=nil) to all other connected users.
// The boundary decision comes from the same critical section as the
// registry mutation, so concurrent connects cannot double-report.
func (p *Presence) ClientConnected(ctx context.Context, c *Client) {
	first := p.registry.Add(c)
	if !first {
		return
	}

	if err := p.store.SetUserOnline(ctx, c.user.ID, true); err != nil {
		p.logger.Error().Err(err).Str("user_id", c.user.ID).Msg("Failed to persist online flag.")
	}

	p.broadcast(c.user.ID, true, nil)
}

// ClientDisconnected unregisters the connection. If this crossed the 1->0
// boundary it persists lastSeen=now plus the offline flag and broadcasts
// presence(userId, online=false, lastSeen=now).
func (p *Presence) ClientDisconnected(ctx context.Context, c *Client) {
	userID, last, known := p.registry.Remove(c)
	if !known || !last {
		return
	}

	now := time.Now().UTC()

	if err := p.store.SetUserOnline(ctx, userID, false); err != nil {
		p.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to persist offline flag.")
	}
	if err := p.store.SetUserLastSeen(ctx, userID, now); err != nil {
		p.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to persist last seen.")
	}

	p.broadcast(userID, false, &now)
}

// broadcast fans a presence delta out to every connected user except the
// subject. A slow consumer drops the frame; presence is best-effort and the
// durable record lives in storage.
func (p *Presence) broadcast(userID string, online bool, lastSeen *time.Time) {
	frame, err := NewEvent(EventPresence, PresencePayload{
		UserID:   userID,
		IsOnline: online,
		LastSeen: lastSeen,
	})
	if err != nil {
		p.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to build presence event.")
		return
	}

	for uid, clients := range p.registry.Snapshot() {
		if uid == userID {
			continue
		}
		for _, c := range clients {
			if err := c.Enqueue(frame); err != nil {
				p.logger.Warn().Str("user_id", uid).Msg("Dropping presence frame for slow connection.")
			}
		}
	}
}
