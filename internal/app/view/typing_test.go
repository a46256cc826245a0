package view

import (
	"sync"
	"testing"
	"time"
)

type emitRecorder struct {
	mu    sync.Mutex
	emits []bool
}

func (r *emitRecorder) emit(isTyping bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.emits = append(r.emits, isTyping)
}

func (r *emitRecorder) snapshot() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.emits...)
}

func waitForEmits(t *testing.T, rec *emitRecorder, n int) []bool {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got := rec.snapshot(); len(got) >= n {
			return got
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d emits, got %v", n, rec.snapshot())
	return nil
}

func TestDebouncerEmitsPerInputAndSingleStop(t *testing.T) {
	rec := &emitRecorder{}
	d := NewTypingDebouncer(50*time.Millisecond, rec.emit)

	d.Input()
	d.Input()
	d.Input()

	// Each input change emits an isTyping=true immediately.
	got := rec.snapshot()
	if len(got) != 3 {
		t.Fatalf("got %d emits after three inputs, want 3", len(got))
	}
	for i, v := range got {
		if !v {
			t.Errorf("emit %d = false, want true", i)
		}
	}

	// After the quiet interval, exactly one false follows.
	got = waitForEmits(t, rec, 4)
	if len(got) != 4 || got[3] {
		t.Fatalf("emits = %v, want exactly one trailing false", got)
	}

	// Nothing further fires.
	time.Sleep(150 * time.Millisecond)
	if got := rec.snapshot(); len(got) != 4 {
		t.Errorf("emits = %v, want no emissions after the stop", got)
	}
}

func TestDebouncerInputResetsQuietTimer(t *testing.T) {
	rec := &emitRecorder{}
	d := NewTypingDebouncer(200*time.Millisecond, rec.emit)

	d.Input()
	time.Sleep(120 * time.Millisecond)
	d.Input()
	time.Sleep(120 * time.Millisecond)

	// 240ms total, but only 120ms since the last input: no false yet.
	for _, v := range rec.snapshot() {
		if !v {
			t.Fatal("stop emitted while input was still arriving")
		}
	}

	got := waitForEmits(t, rec, 3)
	if got[len(got)-1] {
		t.Errorf("emits = %v, want trailing false after quiet interval", got)
	}
}

func TestDebouncerStopFlushesImmediately(t *testing.T) {
	rec := &emitRecorder{}
	d := NewTypingDebouncer(time.Minute, rec.emit)

	d.Input()
	d.Stop()

	got := rec.snapshot()
	if len(got) != 2 || got[0] != true || got[1] != false {
		t.Fatalf("emits = %v, want [true false]", got)
	}

	// Stop without active typing emits nothing.
	d.Stop()
	if got := rec.snapshot(); len(got) != 2 {
		t.Errorf("emits = %v, want no extra emissions", got)
	}
}

func TestIndicatorAppliesAndClears(t *testing.T) {
	ind := NewTypingIndicator()

	ind.Apply("c1", "alice", true)
	if !ind.IsTyping("c1", "alice") {
		t.Error("alice must show as typing after a true event")
	}
	if ind.IsTyping("c1", "bob") {
		t.Error("bob never typed")
	}
	if ind.IsTyping("c2", "alice") {
		t.Error("typing state is per chat")
	}

	ind.Apply("c1", "alice", false)
	if ind.IsTyping("c1", "alice") {
		t.Error("alice must stop showing as typing after a false event")
	}

	// A false event with no prior state is harmless.
	ind.Apply("c1", "carol", false)
}

func TestIndicatorExpiresStaleState(t *testing.T) {
	ind := &TypingIndicator{
		ttl:    50 * time.Millisecond,
		timers: map[typingKey]*time.Timer{},
	}

	ind.Apply("c1", "alice", true)
	if !ind.IsTyping("c1", "alice") {
		t.Fatal("alice must show as typing")
	}

	deadline := time.Now().Add(2 * time.Second)
	for ind.IsTyping("c1", "alice") && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if ind.IsTyping("c1", "alice") {
		t.Error("typing state must expire without a refresh")
	}
}

func TestIndicatorRefreshKeepsStateAlive(t *testing.T) {
	ind := &TypingIndicator{
		ttl:    200 * time.Millisecond,
		timers: map[typingKey]*time.Timer{},
	}

	ind.Apply("c1", "alice", true)
	for range 4 {
		time.Sleep(80 * time.Millisecond)
		ind.Apply("c1", "alice", true)
		if !ind.IsTyping("c1", "alice") {
			t.Fatal("refreshed typing state must not expire")
		}
	}
}
