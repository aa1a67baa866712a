package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/hearthline/core/internal/model"
)

// ListFilterConfigs and ListFilterPatterns satisfy filter.ConfigStore.

func (s *Store) ListFilterConfigs(ctx context.Context, guildID string) ([]model.FilterConfig, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT guild_id, category, enabled, action FROM filter_configs WHERE guild_id = $1`, guildID)
	if err != nil {
		return nil, fmt.Errorf("store: list filter configs: %w", err)
	}
	defer rows.Close()

	var out []model.FilterConfig
	for rows.Next() {
		var c model.FilterConfig
		if err := rows.Scan(&c.GuildID, &c.Category, &c.Enabled, &c.Action); err != nil {
			return nil, fmt.Errorf("store: scan filter config: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) ListFilterPatterns(ctx context.Context, guildID string) ([]model.FilterPattern, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT id, guild_id, text, is_regex, enabled, creator_id, created_at FROM filter_patterns WHERE guild_id = $1`, guildID)
	if err != nil {
		return nil, fmt.Errorf("store: list filter patterns: %w", err)
	}
	defer rows.Close()

	var out []model.FilterPattern
	for rows.Next() {
		var p model.FilterPattern
		if err := rows.Scan(&p.ID, &p.GuildID, &p.Text, &p.IsRegex, &p.Enabled, &p.CreatorID, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan filter pattern: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) UpsertFilterConfig(ctx context.Context, c model.FilterConfig) error {
	_, err := s.Pool.Exec(ctx,
		`INSERT INTO filter_configs (guild_id, category, enabled, action) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (guild_id, category) DO UPDATE SET enabled = $3, action = $4`,
		c.GuildID, c.Category, c.Enabled, c.Action)
	if err != nil {
		return fmt.Errorf("store: upsert filter config: %w", err)
	}
	return nil
}

// CountFilterPatterns supports the 100/guild limit from spec §4.2.
func (s *Store) CountFilterPatterns(ctx context.Context, guildID string) (int, error) {
	var n int
	err := s.Pool.QueryRow(ctx, `SELECT count(*) FROM filter_patterns WHERE guild_id = $1`, guildID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: count filter patterns: %w", err)
	}
	return n, nil
}

func (s *Store) CreateFilterPattern(ctx context.Context, p model.FilterPattern) (*model.FilterPattern, error) {
	p.ID = uuid.Must(uuid.NewV7()).String()
	_, err := s.Pool.Exec(ctx,
		`INSERT INTO filter_patterns (id, guild_id, text, is_regex, enabled, creator_id) VALUES ($1, $2, $3, $4, $5, $6)`,
		p.ID, p.GuildID, p.Text, p.IsRegex, p.Enabled, p.CreatorID)
	if err != nil {
		return nil, fmt.Errorf("store: create filter pattern: %w", err)
	}
	return &p, nil
}

func (s *Store) DeleteFilterPattern(ctx context.Context, id string) error {
	_, err := s.Pool.Exec(ctx, `DELETE FROM filter_patterns WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("store: delete filter pattern: %w", err)
	}
	return nil
}
