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

func (s *Store) CreateSession(ctx context.Context, userID, tokenFingerprint string, expiresAt time.Time, clientMeta map[string]string) (*model.Session, error) {
	id := uuid.Must(uuid.NewV7()).String()
	_, err := s.Pool.Exec(ctx,
		`INSERT INTO sessions (id, user_id, token_fingerprint, expires_at, client_metadata)
		 VALUES ($1, $2, $3, $4, $5)`,
		id, userID, tokenFingerprint, expiresAt, clientMeta)
	if err != nil {
		return nil, fmt.Errorf("store: create session: %w", err)
	}
	return &model.Session{ID: id, UserID: userID, TokenFingerprint: tokenFingerprint, ExpiresAt: expiresAt, ClientMetadata: clientMeta}, nil
}

func (s *Store) GetSessionByFingerprint(ctx context.Context, fingerprint string) (*model.Session, error) {
	row := s.Pool.QueryRow(ctx,
		`SELECT id, user_id, token_fingerprint, expires_at, client_metadata, elevated_until
		 FROM sessions WHERE token_fingerprint = $1 AND expires_at > now()`, fingerprint)
	var sess model.Session
	err := row.Scan(&sess.ID, &sess.UserID, &sess.TokenFingerprint, &sess.ExpiresAt, &sess.ClientMetadata, &sess.ElevatedUntil)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan session: %w", err)
	}
	return &sess, nil
}

// Elevate stamps a session with a short-TTL elevation flag (spec §3's
// ElevatedSession requirement layered on top of a base session).
func (s *Store) Elevate(ctx context.Context, sessionID string, until time.Time) error {
	_, err := s.Pool.Exec(ctx, `UPDATE sessions SET elevated_until = $1 WHERE id = $2`, until, sessionID)
	if err != nil {
		return fmt.Errorf("store: elevate session: %w", err)
	}
	return nil
}

func (s *Store) RevokeSession(ctx context.Context, sessionID string) error {
	_, err := s.Pool.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("store: revoke session: %w", err)
	}
	return nil
}
