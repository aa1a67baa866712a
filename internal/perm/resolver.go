package perm

import (
	"context"
	"fmt"

	"github.com/hearthline/core/internal/apperr"
	"github.com/hearthline/core/internal/model"
)

// RoleStore is the slice of internal/store this package depends on,
// kept narrow so tests can fake it without pulling in pgx.
type RoleStore interface {
	GuildRolesForUser(ctx context.Context, guildID, userID string) ([]model.Role, error)
	ChannelOverrides(ctx context.Context, channelID string) ([]model.ChannelOverride, error)
	IsGuildMember(ctx context.Context, guildID, userID string) (bool, error)
}

type Resolver struct {
	store RoleStore
}

func NewResolver(store RoleStore) *Resolver {
	return &Resolver{store: store}
}

// Effective implements the full §4.1 contract for a (user, channel)
// pair, including the database fetch. Channel must already be loaded by
// the caller since it is typically fetched alongside other request
// context.
func (r *Resolver) Effective(ctx context.Context, userID string, ch model.Channel) (Bits, error) {
	if ch.Type == model.ChannelDM || ch.Type == model.ChannelGroupDM {
		return DMBaseline, nil
	}

	roles, err := r.store.GuildRolesForUser(ctx, ch.GuildID, userID)
	if err != nil {
		return 0, apperr.DependencyUnavailable.WithDetail("guild roles fetch: %v", err)
	}
	if len(roles) == 0 {
		// spec §4.1 edge case (a): a user with no roles still has
		// @everyone. No roles at all for a guild member is a data
		// inconsistency — the @everyone role must always exist.
		return 0, apperr.ConsistencyViolation.WithDetail("no roles resolved for guild %s user %s (missing @everyone?)", ch.GuildID, userID)
	}

	overrides, err := r.store.ChannelOverrides(ctx, ch.ID)
	if err != nil {
		return 0, apperr.DependencyUnavailable.WithDetail("channel overrides fetch: %v", err)
	}

	held := make(map[string]bool, len(roles))
	permRoles := make([]Role, 0, len(roles))
	for _, rl := range roles {
		held[rl.ID] = true
		permRoles = append(permRoles, Role{
			ID:          rl.ID,
			Position:    rl.Position,
			Permissions: Bits(rl.Permissions),
			IsEveryone:  rl.IsEveryone,
		})
	}

	var roleOverrides []Override
	var userOverride *Override
	for _, ov := range overrides {
		switch ov.PrincipalKind {
		case model.OverrideRole:
			if !held[ov.PrincipalID] {
				continue
			}
			roleOverrides = append(roleOverrides, Override{Allow: Bits(ov.Allow), Deny: Bits(ov.Deny)})
		case model.OverrideUser:
			if ov.PrincipalID != userID {
				// spec §4.1 edge case (b): an override for a user not in
				// the guild (or simply not this user) is ignored.
				continue
			}
			userOverride = &Override{Allow: Bits(ov.Allow), Deny: Bits(ov.Deny)}
		default:
			return 0, apperr.ConsistencyViolation.WithDetail("channel override %s has unknown principal kind %q", ov.ChannelID, ov.PrincipalKind)
		}
	}

	return Effective(Input{
		Roles:         permRoles,
		RoleOverrides: roleOverrides,
		UserOverride:  userOverride,
	}), nil
}

// String renders the set bits for logging, e.g. "SendMessages|React".
func (b Bits) String() string {
	names := []struct {
		bit  Bits
		name string
	}{
		{ReadMessages, "ReadMessages"}, {SendMessages, "SendMessages"}, {React, "React"},
		{Upload, "Upload"}, {ManageMessages, "ManageMessages"}, {ManageChannels, "ManageChannels"},
		{ManageRoles, "ManageRoles"}, {KickMembers, "KickMembers"}, {BanMembers, "BanMembers"},
		{MentionEveryone, "MentionEveryone"}, {Connect, "Connect"}, {Speak, "Speak"},
		{MuteMembers, "MuteMembers"}, {DeafenMembers, "DeafenMembers"}, {MoveMembers, "MoveMembers"},
		{ManageGuild, "ManageGuild"}, {ViewAuditLog, "ViewAuditLog"}, {CreateInvite, "CreateInvite"},
		{ChangeNickname, "ChangeNickname"}, {ManageNicknames, "ManageNicknames"},
		{ManageWebhooks, "ManageWebhooks"}, {ManageEmojis, "ManageEmojis"},
		{PrioritySpeaker, "PrioritySpeaker"}, {Administrator, "Administrator"},
	}
	if b == 0 {
		return "none"
	}
	out := ""
	for _, n := range names {
		if b.Has(n.bit) {
			if out != "" {
				out += "|"
			}
			out += n.name
		}
	}
	if out == "" {
		return fmt.Sprintf("0x%x", uint32(b))
	}
	return out
}
