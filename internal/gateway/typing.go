package gateway

import (
	"sync"
	"time"
)

// typingExpiry matches spec §5: "typing events ... auto-expired
// server-side after 5s of inactivity".
const typingExpiry = 5 * time.Second

// TypingTracker auto-expires a user's typing indicator on a scope after
// 5s of silence, independent of the client's own >=3s debounce (spec
// §4.6). The client-side debounce only reduces how often Start is
// called; this tracker is what actually emits the stop.
type TypingTracker struct {
	mu       sync.Mutex
	timers   map[string]map[string]*time.Timer // scopeKey -> userID -> timer
	onExpire func(scopeKey, userID string)
}

func NewTypingTracker(onExpire func(scopeKey, userID string)) *TypingTracker {
	return &TypingTracker{
		timers:   make(map[string]map[string]*time.Timer),
		onExpire: onExpire,
	}
}

// Start (re)arms the 5s expiry timer for (scopeKey, userID), called on
// every typing.start frame regardless of the client's own debounce.
func (t *TypingTracker) Start(scopeKey, userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.timers[scopeKey] == nil {
		t.timers[scopeKey] = make(map[string]*time.Timer)
	}
	if existing, ok := t.timers[scopeKey][userID]; ok {
		existing.Stop()
	}
	t.timers[scopeKey][userID] = time.AfterFunc(typingExpiry, func() {
		t.mu.Lock()
		delete(t.timers[scopeKey], userID)
		if len(t.timers[scopeKey]) == 0 {
			delete(t.timers, scopeKey)
		}
		t.mu.Unlock()
		t.onExpire(scopeKey, userID)
	})
}

// Stop cancels the timer without firing onExpire, for an explicit
// typing.stop frame.
func (t *TypingTracker) Stop(scopeKey, userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if mm, ok := t.timers[scopeKey]; ok {
		if timer, ok := mm[userID]; ok {
			timer.Stop()
			delete(mm, userID)
		}
		if len(mm) == 0 {
			delete(t.timers, scopeKey)
		}
	}
}
