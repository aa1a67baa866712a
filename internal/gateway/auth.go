package gateway

import (
	"context"
	"strings"

	"github.com/hearthline/core/internal/apperr"
	"github.com/hearthline/core/internal/model"
	"github.com/hearthline/core/internal/perm"
)

// ScopeStore is the slice of internal/store the authorizer needs to
// resolve scope-key ownership independent of permission bits.
type ScopeStore interface {
	IsGuildMember(ctx context.Context, guildID, userID string) (bool, error)
	IsChannelMember(ctx context.Context, channelID, userID string) (bool, error)
	GetChannel(ctx context.Context, id string) (*model.Channel, error)
}

// CallStore lets the gateway authorize call:* subscriptions without a
// direct dependency on internal/call, which itself depends on the
// gateway for fan-out; kept as a narrow interface to avoid the cycle.
type CallStore interface {
	IsCallParticipant(channelID, userID string) bool
}

// Authorizer implements spec §4.6's "authorization on publish":
// subscribing to a scope key requires the gateway to check the
// principal can observe it.
type Authorizer struct {
	store    ScopeStore
	resolver *perm.Resolver
	calls    CallStore
}

func NewAuthorizer(store ScopeStore, resolver *perm.Resolver, calls CallStore) *Authorizer {
	return &Authorizer{store: store, resolver: resolver, calls: calls}
}

// CanSubscribe reports whether userID may observe scopeKey, per the
// principal check spec §4.6 lists per scope family: "channel membership
// for channel:*, guild membership for guild:*, DM participation for
// dm:*, identity for user:*, call participation for call:*". voice:*
// scopes follow the same rule as channel:* since a voice channel is a
// channel.
func (a *Authorizer) CanSubscribe(ctx context.Context, userID, scopeKey string) (bool, error) {
	family, id, ok := splitScope(scopeKey)
	if !ok {
		return false, apperr.Validation.WithDetail("malformed scope key %q", scopeKey)
	}

	switch family {
	case "guild":
		return a.store.IsGuildMember(ctx, id, userID)

	case "dm":
		return a.store.IsChannelMember(ctx, id, userID)

	case "user":
		return id == userID, nil

	case "call":
		if a.calls == nil {
			return false, nil
		}
		return a.calls.IsCallParticipant(id, userID), nil

	case "channel", "voice":
		ch, err := a.store.GetChannel(ctx, id)
		if err != nil {
			return false, apperr.DependencyUnavailable.WithDetail("channel lookup for scope %s: %v", scopeKey, err)
		}
		if ch.Type == model.ChannelDM || ch.Type == model.ChannelGroupDM {
			return a.store.IsChannelMember(ctx, id, userID)
		}
		bits, err := a.resolver.Effective(ctx, userID, *ch)
		if err != nil {
			return false, err
		}
		return bits.Has(perm.ReadMessages), nil

	case "presence":
		return true, nil

	default:
		return false, apperr.Validation.WithDetail("unknown scope family %q", family)
	}
}

func splitScope(scopeKey string) (family, id string, ok bool) {
	if scopeKey == "presence:global" {
		return "presence", "", true
	}
	parts := strings.SplitN(scopeKey, ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}
