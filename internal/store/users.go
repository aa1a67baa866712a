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

// ErrNotFound is returned by single-row lookups that find nothing; the
// component layer maps it to apperr.NotFound.
var ErrNotFound = errors.New("store: not found")

func (s *Store) CreateUser(ctx context.Context, username, displayName string, method model.AuthMethod) (*model.User, error) {
	id := uuid.Must(uuid.NewV7()).String()
	now := time.Now()
	_, err := s.Pool.Exec(ctx,
		`INSERT INTO users (id, username, display_name, auth_method, status, created_at)
		 VALUES ($1, $2, $3, $4, 'offline', $5)`,
		id, username, displayName, method, now)
	if err != nil {
		return nil, fmt.Errorf("store: create user: %w", err)
	}
	return &model.User{ID: id, Username: username, DisplayName: displayName, AuthMethod: method, Status: model.StatusOffline, CreatedAt: now}, nil
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	row := s.Pool.QueryRow(ctx,
		`SELECT id, username, display_name, auth_method, status, status_message, invisible, created_at
		 FROM users WHERE username = $1`, username)
	return scanUser(row)
}

func (s *Store) GetUser(ctx context.Context, id string) (*model.User, error) {
	row := s.Pool.QueryRow(ctx,
		`SELECT id, username, display_name, auth_method, status, status_message, invisible, created_at
		 FROM users WHERE id = $1`, id)
	return scanUser(row)
}

func scanUser(row pgx.Row) (*model.User, error) {
	var u model.User
	err := row.Scan(&u.ID, &u.Username, &u.DisplayName, &u.AuthMethod, &u.Status, &u.StatusMessage, &u.Invisible, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan user: %w", err)
	}
	return &u, nil
}

func (s *Store) SetUserStatus(ctx context.Context, userID string, status model.UserStatus) error {
	_, err := s.Pool.Exec(ctx, `UPDATE users SET status = $1 WHERE id = $2`, status, userID)
	if err != nil {
		return fmt.Errorf("store: set user status: %w", err)
	}
	return nil
}
