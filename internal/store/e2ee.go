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

func (s *Store) RegisterDevice(ctx context.Context, userID, signingKey, exchangeKey string) (*model.Device, error) {
	id := uuid.Must(uuid.NewV7()).String()
	now := time.Now()
	_, err := s.Pool.Exec(ctx,
		`INSERT INTO devices (id, user_id, identity_signing_key, identity_exchange_key, created_at, last_seen_at)
		 VALUES ($1, $2, $3, $4, $5, $5)
		 ON CONFLICT (user_id, identity_exchange_key) DO UPDATE SET last_seen_at = $5
		 RETURNING id`,
		id, userID, signingKey, exchangeKey, now).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("store: register device: %w", err)
	}
	return &model.Device{ID: id, UserID: userID, IdentitySigningKey: signingKey, IdentityExchangeKey: exchangeKey, CreatedAt: now, LastSeenAt: now}, nil
}

func (s *Store) TouchDevice(ctx context.Context, deviceID string) error {
	_, err := s.Pool.Exec(ctx, `UPDATE devices SET last_seen_at = now() WHERE id = $1`, deviceID)
	if err != nil {
		return fmt.Errorf("store: touch device: %w", err)
	}
	return nil
}

func (s *Store) AddPrekeys(ctx context.Context, deviceID string, keys []model.Prekey) error {
	batch := &pgx.Batch{}
	for _, k := range keys {
		id := uuid.Must(uuid.NewV7()).String()
		batch.Queue(`INSERT INTO prekeys (id, device_id, key_id, public_key) VALUES ($1, $2, $3, $4)`,
			id, deviceID, k.KeyID, k.PublicKey)
	}
	br := s.Pool.SendBatch(ctx, batch)
	defer br.Close()
	for range keys {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("store: add prekey: %w", err)
		}
	}
	return nil
}

// ClaimPrekey atomically claims and marks one unclaimed prekey for
// device_id, returning ErrNotFound (mapped to apperr.ClaimExhausted by
// the caller) if the pool is empty. The UPDATE...RETURNING with a
// FOR UPDATE SKIP LOCKED subselect is the single-round-trip
// compare-and-claim spec §4.5 requires ("claim is atomic ... never
// reuse").
func (s *Store) ClaimPrekey(ctx context.Context, deviceID, claimerUserID string) (*model.Prekey, error) {
	row := s.Pool.QueryRow(ctx,
		`UPDATE prekeys SET claimed_at = now(), claimed_by = $2
		 WHERE id = (
		   SELECT id FROM prekeys
		   WHERE device_id = $1 AND claimed_at IS NULL
		   ORDER BY key_id
		   FOR UPDATE SKIP LOCKED
		   LIMIT 1
		 )
		 RETURNING id, device_id, key_id, public_key, claimed_at, claimed_by`,
		deviceID, claimerUserID)
	var p model.Prekey
	err := row.Scan(&p.ID, &p.DeviceID, &p.KeyID, &p.PublicKey, &p.ClaimedAt, &p.ClaimedBy)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: claim prekey: %w", err)
	}
	return &p, nil
}

// UnclaimedPrekeyCount supports the replenish-below-threshold policy
// (spec §5: "prekey replenish when pool <= 5").
func (s *Store) UnclaimedPrekeyCount(ctx context.Context, deviceID string) (int, error) {
	var n int
	err := s.Pool.QueryRow(ctx, `SELECT count(*) FROM prekeys WHERE device_id = $1 AND claimed_at IS NULL`, deviceID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: unclaimed prekey count: %w", err)
	}
	return n, nil
}

func (s *Store) UpsertKeyBackup(ctx context.Context, b model.KeyBackup) error {
	_, err := s.Pool.Exec(ctx,
		`INSERT INTO key_backups (user_id, salt, nonce, ciphertext, version)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (user_id) DO UPDATE SET salt = $2, nonce = $3, ciphertext = $4, version = key_backups.version + 1`,
		b.UserID, b.Salt, b.Nonce, b.Ciphertext, b.Version)
	if err != nil {
		return fmt.Errorf("store: upsert key backup: %w", err)
	}
	return nil
}

func (s *Store) GetKeyBackup(ctx context.Context, userID string) (*model.KeyBackup, error) {
	row := s.Pool.QueryRow(ctx, `SELECT user_id, salt, nonce, ciphertext, version FROM key_backups WHERE user_id = $1`, userID)
	var b model.KeyBackup
	err := row.Scan(&b.UserID, &b.Salt, &b.Nonce, &b.Ciphertext, &b.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get key backup: %w", err)
	}
	return &b, nil
}

func (s *Store) CreateDeviceTransfer(ctx context.Context, t model.DeviceTransfer) (*model.DeviceTransfer, error) {
	t.ID = uuid.Must(uuid.NewV7()).String()
	t.CreatedAt = time.Now()
	if t.ExpiresAt.IsZero() {
		t.ExpiresAt = t.CreatedAt.Add(5 * time.Minute)
	}
	_, err := s.Pool.Exec(ctx,
		`INSERT INTO device_transfers (id, user_id, from_device, to_device, ciphertext, created_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		t.ID, t.UserID, t.FromDevice, t.ToDevice, t.Ciphertext, t.CreatedAt, t.ExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("store: create device transfer: %w", err)
	}
	return &t, nil
}

// ConsumeDeviceTransfer atomically fetches and marks a transfer
// consumed, returning ErrNotFound if it does not exist, is already
// consumed, or has expired (mapped to apperr.TransferExpired by the
// caller).
func (s *Store) ConsumeDeviceTransfer(ctx context.Context, id string) (*model.DeviceTransfer, error) {
	row := s.Pool.QueryRow(ctx,
		`UPDATE device_transfers SET consumed_at = now()
		 WHERE id = $1 AND consumed_at IS NULL AND expires_at > now()
		 RETURNING id, user_id, from_device, to_device, ciphertext, created_at, expires_at, consumed_at`,
		id)
	var t model.DeviceTransfer
	err := row.Scan(&t.ID, &t.UserID, &t.FromDevice, &t.ToDevice, &t.Ciphertext, &t.CreatedAt, &t.ExpiresAt, &t.ConsumedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: consume device transfer: %w", err)
	}
	return &t, nil
}

// ReapExpiredTransfers deletes device transfers past their TTL, called
// periodically by internal/e2ee's reaper goroutine.
func (s *Store) ReapExpiredTransfers(ctx context.Context) (int64, error) {
	tag, err := s.Pool.Exec(ctx, `DELETE FROM device_transfers WHERE expires_at < now() AND consumed_at IS NULL`)
	if err != nil {
		return 0, fmt.Errorf("store: reap expired transfers: %w", err)
	}
	return tag.RowsAffected(), nil
}
