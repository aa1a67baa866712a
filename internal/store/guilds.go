package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hearthline/core/internal/model"
)

func (s *Store) CreateGuild(ctx context.Context, ownerID, name string) (*model.Guild, error) {
	id := uuid.Must(uuid.NewV7()).String()
	_, err := s.Pool.Exec(ctx, `INSERT INTO guilds (id, owner_id, name) VALUES ($1, $2, $3)`, id, ownerID, name)
	if err != nil {
		return nil, fmt.Errorf("store: create guild: %w", err)
	}
	everyoneID := uuid.Must(uuid.NewV7()).String()
	_, err = s.Pool.Exec(ctx,
		`INSERT INTO roles (id, guild_id, name, position, permissions, is_everyone) VALUES ($1, $2, '@everyone', 0, 0, true)`,
		everyoneID, id)
	if err != nil {
		return nil, fmt.Errorf("store: create @everyone role: %w", err)
	}
	return &model.Guild{ID: id, OwnerID: ownerID, Name: name}, nil
}

func (s *Store) IsGuildMember(ctx context.Context, guildID, userID string) (bool, error) {
	var exists bool
	err := s.Pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM guild_members WHERE guild_id = $1 AND user_id = $2)`,
		guildID, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("store: is guild member: %w", err)
	}
	return exists, nil
}

func (s *Store) AddGuildMember(ctx context.Context, guildID, userID string) error {
	_, err := s.Pool.Exec(ctx,
		`INSERT INTO guild_members (guild_id, user_id, joined_at) VALUES ($1, $2, $3)
		 ON CONFLICT DO NOTHING`, guildID, userID, time.Now())
	if err != nil {
		return fmt.Errorf("store: add guild member: %w", err)
	}
	// Every member implicitly holds @everyone.
	_, err = s.Pool.Exec(ctx,
		`INSERT INTO role_members (role_id, user_id)
		 SELECT id, $2 FROM roles WHERE guild_id = $1 AND is_everyone
		 ON CONFLICT DO NOTHING`, guildID, userID)
	if err != nil {
		return fmt.Errorf("store: assign @everyone: %w", err)
	}
	return nil
}

// GuildRolesForUser satisfies perm.RoleStore: every role the user holds
// in this guild, including the implicit @everyone role.
func (s *Store) GuildRolesForUser(ctx context.Context, guildID, userID string) ([]model.Role, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT r.id, r.guild_id, r.name, r.position, r.permissions, r.is_everyone
		 FROM roles r
		 JOIN role_members rm ON rm.role_id = r.id
		 WHERE r.guild_id = $1 AND rm.user_id = $2`, guildID, userID)
	if err != nil {
		return nil, fmt.Errorf("store: guild roles for user: %w", err)
	}
	defer rows.Close()

	var roles []model.Role
	for rows.Next() {
		var r model.Role
		if err := rows.Scan(&r.ID, &r.GuildID, &r.Name, &r.Position, &r.Permissions, &r.IsEveryone); err != nil {
			return nil, fmt.Errorf("store: scan role: %w", err)
		}
		roles = append(roles, r)
	}
	return roles, rows.Err()
}

// ChannelOverrides satisfies perm.RoleStore.
func (s *Store) ChannelOverrides(ctx context.Context, channelID string) ([]model.ChannelOverride, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT channel_id, principal_kind, principal_id, allow_mask, deny_mask
		 FROM channel_overrides WHERE channel_id = $1`, channelID)
	if err != nil {
		return nil, fmt.Errorf("store: channel overrides: %w", err)
	}
	defer rows.Close()

	var overrides []model.ChannelOverride
	for rows.Next() {
		var o model.ChannelOverride
		if err := rows.Scan(&o.ChannelID, &o.PrincipalKind, &o.PrincipalID, &o.Allow, &o.Deny); err != nil {
			return nil, fmt.Errorf("store: scan override: %w", err)
		}
		overrides = append(overrides, o)
	}
	return overrides, rows.Err()
}

func (s *Store) GetChannel(ctx context.Context, id string) (*model.Channel, error) {
	row := s.Pool.QueryRow(ctx,
		`SELECT id, type, COALESCE(guild_id::text, ''), COALESCE(category_id::text, ''), topic, user_limit, position
		 FROM channels WHERE id = $1`, id)
	var ch model.Channel
	err := row.Scan(&ch.ID, &ch.Type, &ch.GuildID, &ch.CategoryID, &ch.Topic, &ch.UserLimit, &ch.Position)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan channel: %w", err)
	}
	return &ch, nil
}

// CategoryDepth returns the nesting depth of categoryID (0 for a
// top-level channel with no category), used to enforce spec §3
// invariant (e): nesting depth <= 2.
func (s *Store) CategoryDepth(ctx context.Context, categoryID string) (int, error) {
	depth := 0
	current := categoryID
	for current != "" {
		var parent string
		err := s.Pool.QueryRow(ctx, `SELECT COALESCE(category_id::text, '') FROM channels WHERE id = $1`, current).Scan(&parent)
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrNotFound
		}
		if err != nil {
			return 0, fmt.Errorf("store: category depth: %w", err)
		}
		depth++
		if depth > 8 {
			return 0, fmt.Errorf("store: category chain too deep or cyclic for %s", categoryID)
		}
		current = parent
	}
	return depth, nil
}

// LookupInvite is the supplemented discovery lookup (SPEC_FULL.md's
// "Supplemented features"): resolve an invite code to a guild without
// requiring membership, distinct from full guild CRUD which is out of
// scope per spec §1.
func (s *Store) LookupInvite(ctx context.Context, code string) (guildID string, err error) {
	err = s.Pool.QueryRow(ctx,
		`SELECT guild_id FROM guild_invites WHERE code = $1 AND (expires_at IS NULL OR expires_at > now())`,
		code).Scan(&guildID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("store: lookup invite: %w", err)
	}
	return guildID, nil
}
