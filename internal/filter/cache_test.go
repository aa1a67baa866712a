package filter

import (
	"context"
	"sync"
	"testing"

	"github.com/hearthline/core/internal/model"
)

type fakeConfigStore struct {
	mu       sync.Mutex
	patterns map[string][]model.FilterPattern
	delay    chan struct{} // if non-nil, ListFilterPatterns blocks until closed
	started  chan struct{} // if non-nil, closed right before blocking on delay
}

func (f *fakeConfigStore) ListFilterConfigs(ctx context.Context, guildID string) ([]model.FilterConfig, error) {
	return nil, nil
}

func (f *fakeConfigStore) ListFilterPatterns(ctx context.Context, guildID string) ([]model.FilterPattern, error) {
	if f.delay != nil {
		if f.started != nil {
			close(f.started)
		}
		<-f.delay
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.patterns[guildID], nil
}

func TestCache_GetOrBuildCachesResult(t *testing.T) {
	store := &fakeConfigStore{patterns: map[string][]model.FilterPattern{
		"g1": {customPattern("badword", false)},
	}}
	c := NewCache(store)

	e1, err := c.GetOrBuild(context.Background(), "g1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	e2, err := c.GetOrBuild(context.Background(), "g1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e1 != e2 {
		t.Fatalf("expected second call to return the cached engine instance")
	}
}

func TestCache_InvalidateForcesRebuild(t *testing.T) {
	store := &fakeConfigStore{patterns: map[string][]model.FilterPattern{
		"g1": {customPattern("badword", false)},
	}}
	c := NewCache(store)

	e1, _ := c.GetOrBuild(context.Background(), "g1")
	c.Invalidate("g1")

	store.mu.Lock()
	store.patterns["g1"] = nil // config changed underneath
	store.mu.Unlock()

	e2, _ := c.GetOrBuild(context.Background(), "g1")
	if e1 == e2 {
		t.Fatalf("expected a fresh engine instance after invalidate")
	}
	if !e2.IsEmpty() {
		t.Fatalf("expected rebuilt engine to reflect updated patterns")
	}
}

func TestCache_InvalidateIdempotent(t *testing.T) {
	store := &fakeConfigStore{}
	c := NewCache(store)
	c.Invalidate("g1")
	c.Invalidate("g1")
	g1 := c.currentGeneration("g1")
	c.Invalidate("g1")
	if c.currentGeneration("g1") <= g1 {
		t.Fatalf("expected generation to keep advancing on repeated invalidate")
	}
}

// TestCache_TOCTOUGuard simulates a build racing with an invalidation:
// the build's store read is delayed until after Invalidate has run, and
// the result must not be inserted into the cache with a stale
// generation (spec §4.2's TOCTOU guard; spec §8's "every call observes a
// cache entry with a generation >= the one current at invalidate").
func TestCache_TOCTOUGuard(t *testing.T) {
	store := &fakeConfigStore{
		patterns: map[string][]model.FilterPattern{"g1": {customPattern("stale", false)}},
		delay:    make(chan struct{}),
		started:  make(chan struct{}),
	}
	c := NewCache(store)

	done := make(chan *Engine, 1)
	go func() {
		e, err := c.GetOrBuild(context.Background(), "g1")
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		done <- e
	}()

	// Wait until the build is blocked inside the store fetch (so it has
	// already captured genAtStart) before invalidating.
	<-store.started
	c.Invalidate("g1")
	close(store.delay)
	<-done

	c.mu.RLock()
	_, cached := c.entries["g1"]
	c.mu.RUnlock()
	if cached {
		t.Fatalf("stale build must not have been inserted into the cache")
	}
}
