package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hearthline/core/internal/model"
)

func (s *Store) InsertMessage(ctx context.Context, m model.Message) (*model.Message, error) {
	m.ID = uuid.Must(uuid.NewV7()).String()
	m.CreatedAt = time.Now()
	_, err := s.Pool.Exec(ctx,
		`INSERT INTO messages (id, channel_id, author_id, content, encrypted, ciphertext_nonce, reply_to, created_at)
		 VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), $8)`,
		m.ID, m.ChannelID, m.AuthorID, m.Content, m.Encrypted, m.CiphertextNonce, m.ReplyTo, m.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("store: insert message: %w", err)
	}
	return &m, nil
}

// ListMessages returns up to limit messages older than the cursor
// (created_at, id) in descending order, matching the
// messages(channel_id, created_at desc, id desc) hot-path index from
// spec §6. A zero-value cursor starts from the newest message.
func (s *Store) ListMessages(ctx context.Context, channelID string, beforeCreatedAt time.Time, beforeID string, limit int) ([]model.Message, error) {
	var rows pgx.Rows
	var err error
	if beforeID == "" {
		rows, err = s.Pool.Query(ctx,
			`SELECT id, channel_id, author_id, content, encrypted, COALESCE(ciphertext_nonce, ''), COALESCE(reply_to::text, ''), created_at, edited_at, deleted_at
			 FROM messages WHERE channel_id = $1 AND deleted_at IS NULL
			 ORDER BY created_at DESC, id DESC LIMIT $2`, channelID, limit)
	} else {
		rows, err = s.Pool.Query(ctx,
			`SELECT id, channel_id, author_id, content, encrypted, COALESCE(ciphertext_nonce, ''), COALESCE(reply_to::text, ''), created_at, edited_at, deleted_at
			 FROM messages WHERE channel_id = $1 AND deleted_at IS NULL AND (created_at, id) < ($2, $3)
			 ORDER BY created_at DESC, id DESC LIMIT $4`, channelID, beforeCreatedAt, beforeID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("store: list messages: %w", err)
	}
	defer rows.Close()

	var out []model.Message
	for rows.Next() {
		var m model.Message
		if err := rows.Scan(&m.ID, &m.ChannelID, &m.AuthorID, &m.Content, &m.Encrypted, &m.CiphertextNonce, &m.ReplyTo, &m.CreatedAt, &m.EditedAt, &m.DeletedAt); err != nil {
			return nil, fmt.Errorf("store: scan message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) SoftDeleteMessage(ctx context.Context, id string) error {
	tag, err := s.Pool.Exec(ctx, `UPDATE messages SET deleted_at = now() WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("store: soft delete message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) EditMessage(ctx context.Context, id, content string) error {
	tag, err := s.Pool.Exec(ctx, `UPDATE messages SET content = $1, edited_at = now() WHERE id = $2 AND deleted_at IS NULL`, content, id)
	if err != nil {
		return fmt.Errorf("store: edit message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
