// Package pubsub implements the Bus Adapter of spec §4.4: a thin
// contract over Redis PUBLISH/SUBSCRIBE keyed by stable scope-key
// strings. Grounded on the reference server's
// service/storage/redis/redis.go (single shared *redis.Client) and
// redis_presence.go (small, self-contained operations over that
// client), generalized from presence-only keys to the full scope-key
// contract spec §4.4 names.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/hearthline/core/internal/apperr"
	"github.com/hearthline/core/internal/logging"
)

// ScopeKey constructors, one per scope family spec §4.4 enumerates.
func ChannelScope(id string) string      { return fmt.Sprintf("channel:%s", id) }
func GuildScope(id string) string        { return fmt.Sprintf("guild:%s", id) }
func DMScope(id string) string           { return fmt.Sprintf("dm:%s", id) }
func UserScope(id string) string         { return fmt.Sprintf("user:%s", id) }
func CallScope(channelID string) string  { return fmt.Sprintf("call:%s", channelID) }
func VoiceScope(channelID string) string { return fmt.Sprintf("voice:%s", channelID) }

const PresenceGlobal = "presence:global"

// Event is a short, typed payload; binary media never flows here (spec
// §4.4).
type Event struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type Bus struct {
	rdb *redis.Client
}

func New(rdb *redis.Client) *Bus {
	return &Bus{rdb: rdb}
}

// Publish sends event to scopeKey. Within a single scope key, publish
// order equals delivery order to each subscriber (spec §4.4, §5); Redis
// PUBLISH already guarantees this for a single connection's ordered
// commands, so no extra sequencing is added here.
func (b *Bus) Publish(ctx context.Context, scopeKey string, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("pubsub: marshal event: %w", err)
	}
	if err := b.rdb.Publish(ctx, scopeKey, data).Err(); err != nil {
		return apperr.DependencyUnavailable.WithDetail("publish to %s: %v", scopeKey, err)
	}
	return nil
}

// Subscription wraps a redis.PubSub for one scope key.
type Subscription struct {
	ps       *redis.PubSub
	scopeKey string
}

// Subscribe opens a subscription to scopeKey. Callers read events off
// Events() until the subscription is closed; at-least-once delivery is
// guaranteed only for the duration the subscription is connected (spec
// §4.4) — a disconnected client must resync via REST per spec §4.6.
func (b *Bus) Subscribe(ctx context.Context, scopeKey string) *Subscription {
	return &Subscription{ps: b.rdb.Subscribe(ctx, scopeKey), scopeKey: scopeKey}
}

// Events returns a channel of decoded events, logging (and skipping) any
// message that fails to decode rather than killing the subscription.
func (s *Subscription) Events() <-chan Event {
	out := make(chan Event)
	raw := s.ps.Channel()
	go func() {
		defer close(out)
		for msg := range raw {
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				logging.Errorf("pubsub: discarding undecodable message on %s: %v", s.scopeKey, err)
				continue
			}
			out <- ev
		}
	}()
	return out
}

func (s *Subscription) Close() error {
	return s.ps.Close()
}
