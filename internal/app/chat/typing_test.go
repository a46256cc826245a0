package chat

import (
	"sync"
	"testing"
	"time"
)

type expiryRecorder struct {
	mu    sync.Mutex
	calls []TypingEventPayload
}

func (r *expiryRecorder) record(chatID, userID string, recipients []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, TypingEventPayload{ChatID: chatID, UserID: userID})
}

func (r *expiryRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func TestTypingTrackerHardExpiry(t *testing.T) {
	rec := &expiryRecorder{}
	tracker := NewTypingTracker(50*time.Millisecond, rec.record)
	defer tracker.Shutdown()

	tracker.Refresh("c1", "alice", []string{"bob"})

	deadline := time.Now().Add(2 * time.Second)
	for rec.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	if got := rec.count(); got != 1 {
		t.Fatalf("expiry fired %d times, want 1", got)
	}

	rec.mu.Lock()
	call := rec.calls[0]
	rec.mu.Unlock()
	if call.ChatID != "c1" || call.UserID != "alice" {
		t.Errorf("expiry call = %+v, want chat c1 / user alice", call)
	}

	// The state is gone; a second expiry can never fire.
	time.Sleep(150 * time.Millisecond)
	if got := rec.count(); got != 1 {
		t.Errorf("expiry fired %d times after state cleared, want 1", got)
	}
}

func TestTypingTrackerRefreshPushesExpiryOut(t *testing.T) {
	rec := &expiryRecorder{}
	tracker := NewTypingTracker(200*time.Millisecond, rec.record)
	defer tracker.Shutdown()

	tracker.Refresh("c1", "alice", []string{"bob"})

	// Keep refreshing well inside the ttl; no expiry may fire.
	for range 4 {
		time.Sleep(80 * time.Millisecond)
		tracker.Refresh("c1", "alice", []string{"bob"})
		if rec.count() != 0 {
			t.Fatal("expiry fired while the state was being refreshed")
		}
	}

	// Stop refreshing; now it must fire exactly once.
	deadline := time.Now().Add(2 * time.Second)
	for rec.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := rec.count(); got != 1 {
		t.Errorf("expiry fired %d times after refreshes stopped, want 1", got)
	}
}

func TestTypingTrackerExplicitClearSuppressesExpiry(t *testing.T) {
	rec := &expiryRecorder{}
	tracker := NewTypingTracker(50*time.Millisecond, rec.record)
	defer tracker.Shutdown()

	tracker.Refresh("c1", "alice", []string{"bob"})

	if !tracker.Clear("c1", "alice") {
		t.Fatal("Clear must report an existing state")
	}
	if tracker.Clear("c1", "alice") {
		t.Error("second Clear must report no state")
	}

	time.Sleep(150 * time.Millisecond)
	if got := rec.count(); got != 0 {
		t.Errorf("expiry fired %d times after explicit clear, want 0", got)
	}
}

func TestTypingTrackerClearUser(t *testing.T) {
	rec := &expiryRecorder{}
	tracker := NewTypingTracker(time.Minute, rec.record)
	defer tracker.Shutdown()

	tracker.Refresh("c1", "alice", []string{"bob"})
	tracker.Refresh("c2", "alice", []string{"carol", "dave"})
	tracker.Refresh("c1", "bob", []string{"alice"})

	cleared := tracker.ClearUser("alice")

	if len(cleared) != 2 {
		t.Fatalf("cleared %d chats, want 2", len(cleared))
	}
	if got := cleared["c1"]; len(got) != 1 || got[0] != "bob" {
		t.Errorf("c1 recipients = %v, want [bob]", got)
	}
	if got := cleared["c2"]; len(got) != 2 {
		t.Errorf("c2 recipients = %v, want two entries", got)
	}

	// Bob's state in c1 is untouched.
	if !tracker.Clear("c1", "bob") {
		t.Error("bob's typing state must survive alice's ClearUser")
	}
}

func TestTypingExpiryIsTwiceQuietInterval(t *testing.T) {
	if TypingExpiry != 2*TypingQuietInterval {
		t.Errorf("TypingExpiry = %v, want %v", TypingExpiry, 2*TypingQuietInterval)
	}
}
