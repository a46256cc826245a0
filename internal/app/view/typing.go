/*
Package view implements the client-side state of a chat session.

This file holds both halves of the typing indicator: the sender-side
debouncer that turns raw input changes into typing events, and the
receiver-side indicator that applies a bounded expiry so a typist who
vanished without an explicit stop does not stay "typing" forever.
*/
package view

import (
	"sync"
	"time"

	"vchat/internal/app/chat"
)

// TypingDebouncer converts local input changes into typing events: every
// input change emits isTyping=true and resets the quiet timer; when the
// timer fires with no further input, exactly one isTyping=false is emitted.
type TypingDebouncer struct {
	mu     sync.Mutex
	quiet  time.Duration
	emit   func(isTyping bool)
	timer  *time.Timer
	active bool
}

// NewTypingDebouncer constructs a debouncer with the given quiet interval
// (chat.TypingQuietInterval matches the reference client) and emit callback.
func NewTypingDebouncer(quiet time.Duration, emit func(isTyping bool)) *TypingDebouncer {
	return &TypingDebouncer{
		quiet: quiet,
		emit:  emit,
	}
}

// Input registers one local input change.
func (d *TypingDebouncer) Input() {
	d.mu.Lock()

	d.active = true
	if d.timer == nil {
		d.timer = time.AfterFunc(d.quiet, d.quietElapsed)
	} else {
		d.timer.Reset(d.quiet)
	}

	d.mu.Unlock()

	d.emit(true)
}

func (d *TypingDebouncer) quietElapsed() {
	d.mu.Lock()
	wasActive := d.active
	d.active = false
	d.mu.Unlock()

	if wasActive {
		d.emit(false)
	}
}

// Stop flushes the debouncer, emitting the final isTyping=false immediately
// if a typing state is still active. Used when the composer loses focus or
// the message is sent.
func (d *TypingDebouncer) Stop() {
	d.mu.Lock()
	wasActive := d.active
	d.active = false
	if d.timer != nil {
		d.timer.Stop()
	}
	d.mu.Unlock()

	if wasActive {
		d.emit(false)
	}
}

type typingKey struct {
	chatID string
	userID string
}

// TypingIndicator tracks which users are currently typing in which chats,
// expiring any state not refreshed within chat.TypingExpiry.
type TypingIndicator struct {
	mu     sync.Mutex
	ttl    time.Duration
	timers map[typingKey]*time.Timer
}

// NewTypingIndicator constructs an indicator with the shared hard expiry.
func NewTypingIndicator() *TypingIndicator {
	return &TypingIndicator{
		ttl:    chat.TypingExpiry,
		timers: make(map[typingKey]*time.Timer),
	}
}

// Apply applies an incoming typing event.
func (i *TypingIndicator) Apply(chatID, userID string, isTyping bool) {
	key := typingKey{chatID: chatID, userID: userID}

	i.mu.Lock()
	defer i.mu.Unlock()

	timer, exists := i.timers[key]

	if !isTyping {
		if exists {
			timer.Stop()
			delete(i.timers, key)
		}
		return
	}

	if exists {
		timer.Reset(i.ttl)
		return
	}

	i.timers[key] = time.AfterFunc(i.ttl, func() {
		i.mu.Lock()
		delete(i.timers, key)
		i.mu.Unlock()
	})
}

// IsTyping reports whether the user is currently shown as typing in the chat.
func (i *TypingIndicator) IsTyping(chatID, userID string) bool {
	i.mu.Lock()
	defer i.mu.Unlock()

	_, ok := i.timers[typingKey{chatID: chatID, userID: userID}]
	return ok
}
