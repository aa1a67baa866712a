package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hearthline/core/internal/model"
)

func (s *Store) InsertModerationAction(ctx context.Context, a model.ModerationAction) error {
	a.ID = uuid.Must(uuid.NewV7()).String()
	a.CreatedAt = time.Now()
	_, err := s.Pool.Exec(ctx,
		`INSERT INTO moderation_actions (id, guild_id, channel_id, user_id, category, pattern_id, action, original_content, created_at)
		 VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8, $9)`,
		a.ID, a.GuildID, a.ChannelID, a.UserID, a.Category, a.PatternID, a.Action, a.OriginalContent, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("store: insert moderation action: %w", err)
	}
	return nil
}

func (s *Store) ListModerationActions(ctx context.Context, guildID string, limit int) ([]model.ModerationAction, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT id, guild_id, channel_id, user_id, category, COALESCE(pattern_id::text, ''), action, original_content, created_at
		 FROM moderation_actions WHERE guild_id = $1 ORDER BY created_at DESC LIMIT $2`, guildID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list moderation actions: %w", err)
	}
	defer rows.Close()

	var out []model.ModerationAction
	for rows.Next() {
		var a model.ModerationAction
		if err := rows.Scan(&a.ID, &a.GuildID, &a.ChannelID, &a.UserID, &a.Category, &a.PatternID, &a.Action, &a.OriginalContent, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan moderation action: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
