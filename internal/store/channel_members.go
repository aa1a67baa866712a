package store

import (
	"context"
	"fmt"
	"time"
)

// IsChannelMember backs the gateway's subscribe-time authorization for
// dm:* and group_dm channel:* scopes (spec §4.6: "DM participation for
// dm:*"). Guild text/voice channel:* scopes are authorized through
// perm.Resolver instead, since membership there is implied by guild
// membership plus ReadMessages.
func (s *Store) IsChannelMember(ctx context.Context, channelID, userID string) (bool, error) {
	var exists bool
	err := s.Pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM channel_members WHERE channel_id = $1 AND user_id = $2)`,
		channelID, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("store: is channel member: %w", err)
	}
	return exists, nil
}

func (s *Store) AddChannelMember(ctx context.Context, channelID, userID string) error {
	_, err := s.Pool.Exec(ctx,
		`INSERT INTO channel_members (channel_id, user_id, joined_at) VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`,
		channelID, userID, time.Now())
	if err != nil {
		return fmt.Errorf("store: add channel member: %w", err)
	}
	return nil
}

// ChannelMemberIDs lists every participant of a dm/group_dm channel, used
// by internal/call to fan a call.incoming event out to every
// participant's user:{id} scope.
func (s *Store) ChannelMemberIDs(ctx context.Context, channelID string) ([]string, error) {
	rows, err := s.Pool.Query(ctx, `SELECT user_id FROM channel_members WHERE channel_id = $1`, channelID)
	if err != nil {
		return nil, fmt.Errorf("store: channel member ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("store: scan channel member id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
