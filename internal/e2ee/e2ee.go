// Package e2ee implements the E2EE Key Store (spec §4.5): device
// registration, atomic one-time-prekey claiming, password-derived key
// backups, and short-lived device transfers. Device/prekey naming is
// grounded on OscillatingBlock-GOssip's internal/user/model (IdentityKey,
// OneTimePreKey, SignedPreKey) even though that repo has no go.mod and
// so cannot be the teacher; persistence itself goes through
// internal/store, grounded on the teacher's pgx usage.
package e2ee

import (
	"context"
	"time"

	"github.com/hearthline/core/internal/apperr"
	"github.com/hearthline/core/internal/logging"
	"github.com/hearthline/core/internal/model"
	"github.com/hearthline/core/internal/safe"
)

// KeyStore is the slice of internal/store this package depends on.
type KeyStore interface {
	RegisterDevice(ctx context.Context, userID, signingKey, exchangeKey string) (*model.Device, error)
	TouchDevice(ctx context.Context, deviceID string) error
	AddPrekeys(ctx context.Context, deviceID string, keys []model.Prekey) error
	ClaimPrekey(ctx context.Context, deviceID, claimerUserID string) (*model.Prekey, error)
	UnclaimedPrekeyCount(ctx context.Context, deviceID string) (int, error)
	UpsertKeyBackup(ctx context.Context, b model.KeyBackup) error
	GetKeyBackup(ctx context.Context, userID string) (*model.KeyBackup, error)
	CreateDeviceTransfer(ctx context.Context, t model.DeviceTransfer) (*model.DeviceTransfer, error)
	ConsumeDeviceTransfer(ctx context.Context, id string) (*model.DeviceTransfer, error)
	ReapExpiredTransfers(ctx context.Context) (int64, error)
}

// Pool, backup and transfer limits enforced by this package. Not-found
// results from the store are detected by isNotFound below.
const (
	// ReplenishThreshold matches spec §5: "prekey replenish when pool <= 5".
	ReplenishThreshold = 5
	// MaxBackupBytes matches spec §3: ciphertext <=1 MiB.
	MaxBackupBytes = 1 << 20
	// TransferTTL matches spec §4.5: "5 min TTL".
	TransferTTL = 5 * time.Minute
)

type Store struct {
	store KeyStore
}

func New(store KeyStore) *Store {
	return &Store{store: store}
}

func (s *Store) RegisterDevice(ctx context.Context, userID, signingKey, exchangeKey string) (*model.Device, error) {
	dev, err := s.store.RegisterDevice(ctx, userID, signingKey, exchangeKey)
	if err != nil {
		return nil, apperr.DependencyUnavailable.WithDetail("register device: %v", err)
	}
	return dev, nil
}

// PublishPrekeys uploads a batch of one-time prekeys for a device.
func (s *Store) PublishPrekeys(ctx context.Context, deviceID string, keys []model.Prekey) error {
	if err := s.store.AddPrekeys(ctx, deviceID, keys); err != nil {
		return apperr.DependencyUnavailable.WithDetail("publish prekeys: %v", err)
	}
	if err := s.store.TouchDevice(ctx, deviceID); err != nil {
		logging.Warnf("e2ee: touch device %s after prekey publish failed: %v", deviceID, err)
	}
	return nil
}

// ClaimPrekey atomically claims one unclaimed prekey for deviceID on
// behalf of claimerUserID, for X3DH session establishment. Returns
// apperr.ClaimExhausted when the pool is empty (spec §4.5's named
// failure), and logs — but does not block the claim on — a pool at or
// below ReplenishThreshold. The remaining count is only logged; it is
// not returned to the caller.
func (s *Store) ClaimPrekey(ctx context.Context, deviceID, claimerUserID string) (*model.Prekey, error) {
	pk, err := s.store.ClaimPrekey(ctx, deviceID, claimerUserID)
	if err != nil {
		if isNotFound(err) {
			return nil, apperr.ClaimExhausted
		}
		return nil, apperr.DependencyUnavailable.WithDetail("claim prekey: %v", err)
	}

	remaining, err := s.store.UnclaimedPrekeyCount(ctx, deviceID)
	if err != nil {
		logging.Warnf("e2ee: unclaimed prekey count for %s failed: %v", deviceID, err)
	} else if remaining <= ReplenishThreshold {
		logging.Infof("e2ee: device %s prekey pool at %d, below replenish threshold", deviceID, remaining)
	}
	return pk, nil
}

// UpsertBackup stores an encrypted key backup. The server never sees
// the decryption key (spec §4.5: "blind holder").
func (s *Store) UpsertBackup(ctx context.Context, b model.KeyBackup) error {
	if len(b.Ciphertext) > MaxBackupBytes {
		return apperr.Validation.WithDetail("key backup ciphertext exceeds %d bytes", MaxBackupBytes)
	}
	if len(b.Salt) != 16 || len(b.Nonce) != 12 {
		return apperr.Validation.WithDetail("key backup salt/nonce have wrong length")
	}
	if err := s.store.UpsertKeyBackup(ctx, b); err != nil {
		return apperr.DependencyUnavailable.WithDetail("upsert key backup: %v", err)
	}
	return nil
}

func (s *Store) GetBackup(ctx context.Context, userID string) (*model.KeyBackup, error) {
	b, err := s.store.GetKeyBackup(ctx, userID)
	if err != nil {
		if isNotFound(err) {
			return nil, apperr.BackupMissing
		}
		return nil, apperr.DependencyUnavailable.WithDetail("get key backup: %v", err)
	}
	return b, nil
}

// CreateTransfer stages a targeted encrypted bundle for device
// onboarding, expiring after TransferTTL.
func (s *Store) CreateTransfer(ctx context.Context, userID, fromDevice, toDevice string, ciphertext []byte) (*model.DeviceTransfer, error) {
	t, err := s.store.CreateDeviceTransfer(ctx, model.DeviceTransfer{
		UserID:     userID,
		FromDevice: fromDevice,
		ToDevice:   toDevice,
		Ciphertext: ciphertext,
		ExpiresAt:  time.Now().Add(TransferTTL),
	})
	if err != nil {
		return nil, apperr.DependencyUnavailable.WithDetail("create device transfer: %v", err)
	}
	return t, nil
}

func (s *Store) ConsumeTransfer(ctx context.Context, id string) (*model.DeviceTransfer, error) {
	t, err := s.store.ConsumeDeviceTransfer(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return nil, apperr.TransferExpired
		}
		return nil, apperr.DependencyUnavailable.WithDetail("consume device transfer: %v", err)
	}
	return t, nil
}

// StartReaper launches the periodic device-transfer reaper (spec
// §4.5: "a periodic reaper removes expired rows"), stopping when ctx is
// canceled.
func (s *Store) StartReaper(ctx context.Context, interval time.Duration) {
	safe.Go("e2ee-transfer-reaper", func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := s.store.ReapExpiredTransfers(ctx)
				if err != nil {
					logging.Errorf("e2ee: reap expired transfers: %v", err)
					continue
				}
				if n > 0 {
					logging.Infof("e2ee: reaped %d expired device transfers", n)
				}
			}
		}
	})
}

// isNotFound is a narrow string-based check kept local so this package
// does not import internal/store. It relies on the sentinel's text, which
// is fixed in internal/store.ErrNotFound.
func isNotFound(err error) bool {
	return err != nil && err.Error() == "store: not found"
}
