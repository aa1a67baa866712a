package gateway

import (
	"context"
	"sync"

	"github.com/hearthline/core/internal/logging"
	"github.com/hearthline/core/internal/pubsub"
	"github.com/hearthline/core/internal/safe"
)

// Bridge lazily attaches one bus subscription per distinct scope key
// across all local connections and fans every message it receives out
// to local subscribers via Manager (spec §4.6: "the gateway lazily
// attaches a bus subscription per distinct scope across all connections
// of this process"). Refcounted so the last local unsubscribe releases
// the bus subscription.
type Bridge struct {
	bus     *pubsub.Bus
	manager *Manager

	mu   sync.Mutex
	refs map[string]int
	subs map[string]*pubsub.Subscription
	stop map[string]context.CancelFunc
}

func NewBridge(bus *pubsub.Bus, manager *Manager) *Bridge {
	return &Bridge{
		bus:     bus,
		manager: manager,
		refs:    make(map[string]int),
		subs:    make(map[string]*pubsub.Subscription),
		stop:    make(map[string]context.CancelFunc),
	}
}

// Acquire increments scopeKey's refcount, attaching a bus subscription
// on the transition from 0 to 1.
func (b *Bridge) Acquire(ctx context.Context, scopeKey string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refs[scopeKey]++
	if b.refs[scopeKey] > 1 {
		return
	}

	subCtx, cancel := context.WithCancel(context.Background())
	sub := b.bus.Subscribe(subCtx, scopeKey)
	b.subs[scopeKey] = sub
	b.stop[scopeKey] = cancel

	safe.Go("gateway-bridge-"+scopeKey, func() {
		for ev := range sub.Events() {
			b.manager.Fanout(scopeKey, ev.Payload)
		}
	})
}

// Release decrements scopeKey's refcount, detaching the bus subscription
// on the transition to 0.
func (b *Bridge) Release(scopeKey string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refs[scopeKey]--
	if b.refs[scopeKey] > 0 {
		return
	}
	delete(b.refs, scopeKey)

	if cancel, ok := b.stop[scopeKey]; ok {
		cancel()
		delete(b.stop, scopeKey)
	}
	if sub, ok := b.subs[scopeKey]; ok {
		if err := sub.Close(); err != nil {
			logging.Debugf("gateway: closing bus subscription for %s: %v", scopeKey, err)
		}
		delete(b.subs, scopeKey)
	}
}
