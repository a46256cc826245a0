package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"vchat/internal/app/user"
	"vchat/internal/pkg/errs"
)

// memStore is an in-memory Store used by the core tests.
type memStore struct {
	mu       sync.Mutex
	chats    map[string]*Chat
	messages map[string]*Message
	online   map[string]bool
	lastSeen map[string]time.Time
	seq      int
}

func newMemStore() *memStore {
	return &memStore{
		chats:    make(map[string]*Chat),
		messages: make(map[string]*Message),
		online:   make(map[string]bool),
		lastSeen: make(map[string]time.Time),
	}
}

func (s *memStore) addChat(c *Chat) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chats[c.ID] = c
}

func (s *memStore) FindChatByID(ctx context.Context, chatID string) (*Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.chats[chatID]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *c
	copied.Members = append([]string(nil), c.Members...)
	return &copied, nil
}

func (s *memStore) CreateMessage(ctx context.Context, chatID, senderID, content string, media []Media, status map[string]Status) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	statusCopy := make(map[string]Status, len(status))
	for k, v := range status {
		statusCopy[k] = v
	}

	msg := &Message{
		ID:        fmt.Sprintf("m-%d", s.seq),
		ChatID:    chatID,
		SenderID:  senderID,
		Content:   content,
		Media:     media,
		Status:    statusCopy,
		CreatedAt: time.Now(),
	}
	s.messages[msg.ID] = msg
	return copyMessage(msg), nil
}

func (s *memStore) FindMessageByID(ctx context.Context, messageID string) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[messageID]
	if !ok {
		return nil, ErrNotFound
	}
	return copyMessage(msg), nil
}

func (s *memStore) UpdateMessageStatus(ctx context.Context, messageID, recipientID string, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[messageID]
	if !ok {
		return ErrNotFound
	}
	if next, advanced := Advance(msg.Status[recipientID], status); advanced {
		msg.Status[recipientID] = next
	}
	return nil
}

func (s *memStore) SetUserOnline(ctx context.Context, userID string, online bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.online[userID] = online
	return nil
}

func (s *memStore) SetUserLastSeen(ctx context.Context, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSeen[userID] = at
	return nil
}

func (s *memStore) statusOf(messageID, recipientID string) (Status, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[messageID]
	if !ok {
		return "", false
	}
	st, ok := msg.Status[recipientID]
	return st, ok
}

func (s *memStore) messageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

func copyMessage(msg *Message) *Message {
	copied := *msg
	copied.Status = make(map[string]Status, len(msg.Status))
	for k, v := range msg.Status {
		copied.Status[k] = v
	}
	return &copied
}

// newTestClient builds a client without an underlying network connection.
// Tests interact with it through Enqueue/SendEvent and the send channel.
func newTestClient(b *Broker, userID string) *Client {
	return &Client{
		broker:    b,
		user:      user.User{ID: userID, Username: userID, Name: userID},
		createdAt: time.Now(),
		send:      make(chan []byte, sendChannelBuffer),
		logger:    zerolog.Nop(),
	}
}

// recvEvent waits for the next frame queued on the client and decodes it.
func recvEvent(t *testing.T, c *Client) Event {
	t.Helper()

	select {
	case frame := <-c.send:
		var evt Event
		if err := json.Unmarshal(frame, &evt); err != nil {
			t.Fatalf("failed to decode frame %q: %v", frame, err)
		}
		return evt
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
		return Event{}
	}
}

// recvEventOfType discards frames until one of the wanted type arrives.
func recvEventOfType(t *testing.T, c *Client, eventType EventType) Event {
	t.Helper()

	for {
		evt := recvEvent(t, c)
		if evt.Type == eventType {
			return evt
		}
	}
}

// assertNoEventOfType drains everything currently queued for the client and
// fails if any frame carries the given event type. Frames of other types
// (e.g. presence churn from test setup) are ignored.
func assertNoEventOfType(t *testing.T, c *Client, eventType EventType) {
	t.Helper()

	deadline := time.After(100 * time.Millisecond)
	for {
		select {
		case frame := <-c.send:
			var evt Event
			if err := json.Unmarshal(frame, &evt); err != nil {
				t.Fatalf("failed to decode frame %q: %v", frame, err)
			}
			if evt.Type == eventType {
				t.Fatalf("expected no %s event, got %s", eventType, frame)
			}
		case <-deadline:
			return
		}
	}
}

func decodeAck(t *testing.T, evt Event) AckPayload {
	t.Helper()

	if evt.Type != EventMessageAck {
		t.Fatalf("expected %s event, got %s", EventMessageAck, evt.Type)
	}
	var ack AckPayload
	if err := json.Unmarshal(evt.Payload, &ack); err != nil {
		t.Fatalf("failed to decode ack payload: %v", err)
	}
	return ack
}

func TestSendMessagePersistsAcksAndFansOut(t *testing.T) {
	store := newMemStore()
	store.addChat(&Chat{ID: "c1", Members: []string{"alice", "bob"}})

	b := NewBroker(store)
	alice := newTestClient(b, "alice")
	bob := newTestClient(b, "bob")
	b.Connect(alice)
	b.Connect(bob)
	b.JoinChat(bob, "c1")

	b.SendMessage(alice, SendPayload{ChatID: "c1", Content: "hello"}, "temp-1")

	ack := decodeAck(t, recvEventOfType(t, alice, EventMessageAck))
	if !ack.OK {
		t.Fatalf("expected successful ack, got code %d: %s", ack.Code, ack.Error)
	}
	if ack.TempID != "temp-1" {
		t.Errorf("ack tempId = %q, want temp-1", ack.TempID)
	}
	if ack.Message == nil || ack.Message.ID == "" {
		t.Fatal("ack is missing the canonical message")
	}
	if got := ack.Message.Status["bob"]; got != StatusSent {
		t.Errorf("initial status for bob = %q, want %q", got, StatusSent)
	}
	if _, ok := ack.Message.Status["alice"]; ok {
		t.Error("sender must not appear in its own status map")
	}

	evt := recvEventOfType(t, bob, EventNewMessage)
	var msg Message
	if err := json.Unmarshal(evt.Payload, &msg); err != nil {
		t.Fatalf("failed to decode message payload: %v", err)
	}
	if msg.ID != ack.Message.ID {
		t.Errorf("fan-out message id = %q, want %q", msg.ID, ack.Message.ID)
	}
	if msg.Content != "hello" {
		t.Errorf("fan-out content = %q, want hello", msg.Content)
	}

	// The sender's own devices get the fan-out copy too.
	recvEventOfType(t, alice, EventNewMessage)
}

func TestSendMessageNonMemberGetsErrorAck(t *testing.T) {
	store := newMemStore()
	store.addChat(&Chat{ID: "c1", Members: []string{"alice", "bob"}})

	b := NewBroker(store)
	mallory := newTestClient(b, "mallory")
	b.Connect(mallory)

	b.SendMessage(mallory, SendPayload{ChatID: "c1", Content: "hi"}, "temp-9")

	ack := decodeAck(t, recvEventOfType(t, mallory, EventMessageAck))
	if ack.OK {
		t.Fatal("expected failure ack for non-member send")
	}
	if ack.Code != errs.ErrNotAMember {
		t.Errorf("ack code = %d, want %d", ack.Code, errs.ErrNotAMember)
	}
	if ack.TempID != "temp-9" {
		t.Errorf("ack tempId = %q, want temp-9", ack.TempID)
	}
	if store.messageCount() != 0 {
		t.Error("rejected send must not persist a message")
	}
}

func TestSendMessageUnknownChatGetsErrorAck(t *testing.T) {
	store := newMemStore()

	b := NewBroker(store)
	alice := newTestClient(b, "alice")
	b.Connect(alice)

	b.SendMessage(alice, SendPayload{ChatID: "nope", Content: "hi"}, "t1")

	ack := decodeAck(t, recvEventOfType(t, alice, EventMessageAck))
	if ack.OK || ack.Code != errs.ErrChatNotFound {
		t.Errorf("ack = %+v, want failure with code %d", ack, errs.ErrChatNotFound)
	}
}

func TestSendMessageContentTooLong(t *testing.T) {
	store := newMemStore()
	store.addChat(&Chat{ID: "c1", Members: []string{"alice", "bob"}})

	b := NewBroker(store)
	alice := newTestClient(b, "alice")
	b.Connect(alice)

	b.SendMessage(alice, SendPayload{ChatID: "c1", Content: strings.Repeat("x", MaxContentBytes+1)}, "t1")

	ack := decodeAck(t, recvEventOfType(t, alice, EventMessageAck))
	if ack.OK || ack.Code != errs.ErrMessageTooLong {
		t.Errorf("ack = %+v, want failure with code %d", ack, errs.ErrMessageTooLong)
	}
	if store.messageCount() != 0 {
		t.Error("oversized send must not persist a message")
	}
}

func TestSendMessageEmptyRejected(t *testing.T) {
	store := newMemStore()
	store.addChat(&Chat{ID: "c1", Members: []string{"alice", "bob"}})

	b := NewBroker(store)
	alice := newTestClient(b, "alice")
	b.Connect(alice)

	b.SendMessage(alice, SendPayload{ChatID: "c1"}, "t1")

	ack := decodeAck(t, recvEventOfType(t, alice, EventMessageAck))
	if ack.OK || ack.Code != errs.ErrInvalidParams {
		t.Errorf("ack = %+v, want failure with code %d", ack, errs.ErrInvalidParams)
	}
}

func TestSendMessageOfflineMemberStillGetsStatusEntry(t *testing.T) {
	store := newMemStore()
	store.addChat(&Chat{ID: "c1", Members: []string{"alice", "bob"}})

	b := NewBroker(store)
	alice := newTestClient(b, "alice")
	b.Connect(alice)
	// bob never connects.

	b.SendMessage(alice, SendPayload{ChatID: "c1", Content: "catch up later"}, "t1")

	ack := decodeAck(t, recvEventOfType(t, alice, EventMessageAck))
	if !ack.OK {
		t.Fatalf("expected successful ack, got %+v", ack)
	}

	if st, ok := store.statusOf(ack.Message.ID, "bob"); !ok || st != StatusSent {
		t.Errorf("offline recipient status = %q (present=%v), want %q", st, ok, StatusSent)
	}
}

func TestJoinChatMembershipViolations(t *testing.T) {
	store := newMemStore()
	store.addChat(&Chat{ID: "c1", Members: []string{"alice", "bob"}})

	b := NewBroker(store)
	mallory := newTestClient(b, "mallory")
	b.Connect(mallory)

	b.JoinChat(mallory, "c1")

	evt := recvEventOfType(t, mallory, EventError)
	var p ErrorPayload
	if err := json.Unmarshal(evt.Payload, &p); err != nil {
		t.Fatalf("failed to decode error payload: %v", err)
	}
	if p.Code != errs.ErrNotAMember {
		t.Errorf("error code = %d, want %d", p.Code, errs.ErrNotAMember)
	}
	if subs := b.rooms.Subscribers("c1"); len(subs) != 0 {
		t.Errorf("rejected join must not subscribe, got %d subscribers", len(subs))
	}

	b.JoinChat(mallory, "ghost")
	evt = recvEventOfType(t, mallory, EventError)
	if err := json.Unmarshal(evt.Payload, &p); err != nil {
		t.Fatalf("failed to decode error payload: %v", err)
	}
	if p.Code != errs.ErrChatNotFound {
		t.Errorf("error code = %d, want %d", p.Code, errs.ErrChatNotFound)
	}
}

func TestTypingFanOutSkipsTypist(t *testing.T) {
	store := newMemStore()
	store.addChat(&Chat{ID: "c1", Members: []string{"alice", "bob"}})

	b := NewBroker(store)
	defer b.typing.Shutdown()

	alice := newTestClient(b, "alice")
	bob := newTestClient(b, "bob")
	b.Connect(alice)
	b.Connect(bob)

	b.Typing(alice, TypingPayload{ChatID: "c1", IsTyping: true})

	evt := recvEventOfType(t, bob, EventTypingState)
	var p TypingEventPayload
	if err := json.Unmarshal(evt.Payload, &p); err != nil {
		t.Fatalf("failed to decode typing payload: %v", err)
	}
	if p.UserID != "alice" || p.ChatID != "c1" || !p.IsTyping {
		t.Errorf("typing payload = %+v, want alice typing in c1", p)
	}

	assertNoEventOfType(t, alice, EventTypingState)
}

func TestTypingNonMemberIgnored(t *testing.T) {
	store := newMemStore()
	store.addChat(&Chat{ID: "c1", Members: []string{"alice", "bob"}})

	b := NewBroker(store)
	defer b.typing.Shutdown()

	mallory := newTestClient(b, "mallory")
	bob := newTestClient(b, "bob")
	b.Connect(mallory)
	b.Connect(bob)

	b.Typing(mallory, TypingPayload{ChatID: "c1", IsTyping: true})

	assertNoEventOfType(t, bob, EventTypingState)
	assertNoEventOfType(t, mallory, EventTypingState)
}

func TestDisconnectEmitsSyntheticTypingStop(t *testing.T) {
	store := newMemStore()
	store.addChat(&Chat{ID: "c1", Members: []string{"alice", "bob"}})

	b := NewBroker(store)
	defer b.typing.Shutdown()

	alice := newTestClient(b, "alice")
	bob := newTestClient(b, "bob")
	b.Connect(alice)
	b.Connect(bob)

	b.Typing(alice, TypingPayload{ChatID: "c1", IsTyping: true})
	recvEventOfType(t, bob, EventTypingState)

	b.Disconnect(alice)

	evt := recvEventOfType(t, bob, EventTypingState)
	var p TypingEventPayload
	if err := json.Unmarshal(evt.Payload, &p); err != nil {
		t.Fatalf("failed to decode typing payload: %v", err)
	}
	if p.UserID != "alice" || p.IsTyping {
		t.Errorf("typing payload = %+v, want alice stopped typing", p)
	}
}

func TestNotifyChatCreatedReachesAllMembers(t *testing.T) {
	store := newMemStore()
	chatRec := &Chat{ID: "c2", IsGroup: true, Name: "team", Members: []string{"alice", "bob", "carol"}}
	store.addChat(chatRec)

	b := NewBroker(store)
	alice := newTestClient(b, "alice")
	bob := newTestClient(b, "bob")
	b.Connect(alice)
	b.Connect(bob)
	// carol is offline and simply misses the push.

	b.NotifyChatCreated(chatRec, chatRec)

	for _, c := range []*Client{alice, bob} {
		evt := recvEventOfType(t, c, EventChatCreated)
		var got Chat
		if err := json.Unmarshal(evt.Payload, &got); err != nil {
			t.Fatalf("failed to decode chat payload: %v", err)
		}
		if got.ID != "c2" {
			t.Errorf("chat id = %q, want c2", got.ID)
		}
	}
}
