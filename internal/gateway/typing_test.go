package gateway

import (
	"sync"
	"testing"
	"time"
)

func TestTypingTracker_StartArmsTimer(t *testing.T) {
	var mu sync.Mutex
	var expired []string

	tracker := &TypingTracker{
		timers: make(map[string]map[string]*time.Timer),
		onExpire: func(scopeKey, userID string) {
			mu.Lock()
			expired = append(expired, scopeKey+"|"+userID)
			mu.Unlock()
		},
	}

	start := time.Now()
	tracker.mu.Lock()
	tracker.timers["channel:c1"] = map[string]*time.Timer{}
	tracker.mu.Unlock()
	_ = start

	// typingExpiry is a package constant, so this test only checks that
	// Start arms a timer; the expiry itself is covered by
	// TestTypingTracker_RestartDebouncesExpiry.
	tracker.Start("channel:c1", "u1")
	tracker.mu.Lock()
	_, armed := tracker.timers["channel:c1"]["u1"]
	tracker.mu.Unlock()
	if !armed {
		t.Fatalf("expected timer armed immediately after Start")
	}
}

func TestTypingTracker_StopCancelsWithoutExpiring(t *testing.T) {
	fired := make(chan struct{}, 1)
	tracker := NewTypingTracker(func(scopeKey, userID string) {
		fired <- struct{}{}
	})

	tracker.Start("channel:c1", "u1")
	tracker.Stop("channel:c1", "u1")

	select {
	case <-fired:
		t.Fatalf("expected no expiry callback after explicit Stop")
	case <-time.After(typingExpiry + 50*time.Millisecond):
	}
}

func TestTypingTracker_RestartDebouncesExpiry(t *testing.T) {
	fired := make(chan struct{}, 1)
	tracker := NewTypingTracker(func(scopeKey, userID string) {
		fired <- struct{}{}
	})

	tracker.Start("channel:c1", "u1")
	time.Sleep(typingExpiry / 2)
	tracker.Start("channel:c1", "u1") // re-arms before the first would fire

	select {
	case <-fired:
		t.Fatalf("expected restart to push the expiry out, not fire early")
	case <-time.After(typingExpiry / 2):
	}

	select {
	case <-fired:
	case <-time.After(typingExpiry + 100*time.Millisecond):
		t.Fatalf("expected expiry to eventually fire after re-armed window elapses")
	}
}
