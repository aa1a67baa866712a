package e2ee

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hearthline/core/internal/apperr"
	"github.com/hearthline/core/internal/model"
)

type fakeKeyStore struct {
	devices   map[string]*model.Device
	prekeys   map[string][]model.Prekey
	backups   map[string]*model.KeyBackup
	transfers map[string]*model.DeviceTransfer
	reaped    int64
}

func newFakeKeyStore() *fakeKeyStore {
	return &fakeKeyStore{
		devices:   map[string]*model.Device{},
		prekeys:   map[string][]model.Prekey{},
		backups:   map[string]*model.KeyBackup{},
		transfers: map[string]*model.DeviceTransfer{},
	}
}

func (f *fakeKeyStore) RegisterDevice(ctx context.Context, userID, signingKey, exchangeKey string) (*model.Device, error) {
	d := &model.Device{ID: "dev-1", UserID: userID, IdentitySigningKey: signingKey, IdentityExchangeKey: exchangeKey}
	f.devices[d.ID] = d
	return d, nil
}

func (f *fakeKeyStore) TouchDevice(ctx context.Context, deviceID string) error { return nil }

func (f *fakeKeyStore) AddPrekeys(ctx context.Context, deviceID string, keys []model.Prekey) error {
	f.prekeys[deviceID] = append(f.prekeys[deviceID], keys...)
	return nil
}

func (f *fakeKeyStore) ClaimPrekey(ctx context.Context, deviceID, claimerUserID string) (*model.Prekey, error) {
	pks := f.prekeys[deviceID]
	for i := range pks {
		if pks[i].ClaimedAt == nil {
			now := time.Now()
			pks[i].ClaimedAt = &now
			pks[i].ClaimedBy = claimerUserID
			return &pks[i], nil
		}
	}
	return nil, errors.New("store: not found")
}

func (f *fakeKeyStore) UnclaimedPrekeyCount(ctx context.Context, deviceID string) (int, error) {
	n := 0
	for _, p := range f.prekeys[deviceID] {
		if p.ClaimedAt == nil {
			n++
		}
	}
	return n, nil
}

func (f *fakeKeyStore) UpsertKeyBackup(ctx context.Context, b model.KeyBackup) error {
	f.backups[b.UserID] = &b
	return nil
}

func (f *fakeKeyStore) GetKeyBackup(ctx context.Context, userID string) (*model.KeyBackup, error) {
	b, ok := f.backups[userID]
	if !ok {
		return nil, errors.New("store: not found")
	}
	return b, nil
}

func (f *fakeKeyStore) CreateDeviceTransfer(ctx context.Context, t model.DeviceTransfer) (*model.DeviceTransfer, error) {
	t.ID = "transfer-1"
	f.transfers[t.ID] = &t
	return &t, nil
}

func (f *fakeKeyStore) ConsumeDeviceTransfer(ctx context.Context, id string) (*model.DeviceTransfer, error) {
	t, ok := f.transfers[id]
	if !ok || t.ConsumedAt != nil || time.Now().After(t.ExpiresAt) {
		return nil, errors.New("store: not found")
	}
	now := time.Now()
	t.ConsumedAt = &now
	return t, nil
}

func (f *fakeKeyStore) ReapExpiredTransfers(ctx context.Context) (int64, error) {
	return f.reaped, nil
}

func TestClaimPrekey_ExhaustedMapsToClaimExhausted(t *testing.T) {
	fs := newFakeKeyStore()
	s := New(fs)
	ctx := context.Background()

	_, err := s.ClaimPrekey(ctx, "dev-1", "user-1")
	var appErr *apperr.Error
	if !errors.As(err, &appErr) || appErr.Kind != apperr.ClaimExhausted.Kind {
		t.Fatalf("expected ClaimExhausted, got %v", err)
	}
}

func TestClaimPrekey_SucceedsAndConsumesOne(t *testing.T) {
	fs := newFakeKeyStore()
	s := New(fs)
	ctx := context.Background()

	if err := s.PublishPrekeys(ctx, "dev-1", []model.Prekey{{KeyID: 1, PublicKey: "pk1"}, {KeyID: 2, PublicKey: "pk2"}}); err != nil {
		t.Fatalf("publish prekeys: %v", err)
	}
	pk, err := s.ClaimPrekey(ctx, "dev-1", "user-1")
	if err != nil {
		t.Fatalf("claim prekey: %v", err)
	}
	if pk.KeyID != 1 {
		t.Fatalf("expected first unclaimed key, got key_id=%d", pk.KeyID)
	}
	remaining, _ := fs.UnclaimedPrekeyCount(ctx, "dev-1")
	if remaining != 1 {
		t.Fatalf("expected 1 unclaimed prekey remaining, got %d", remaining)
	}
}

func TestGetBackup_MissingMapsToBackupMissing(t *testing.T) {
	fs := newFakeKeyStore()
	s := New(fs)

	_, err := s.GetBackup(context.Background(), "user-1")
	var appErr *apperr.Error
	if !errors.As(err, &appErr) || appErr.Kind != apperr.BackupMissing.Kind {
		t.Fatalf("expected BackupMissing, got %v", err)
	}
}

func TestUpsertBackup_RejectsOversizedCiphertext(t *testing.T) {
	fs := newFakeKeyStore()
	s := New(fs)

	err := s.UpsertBackup(context.Background(), model.KeyBackup{
		UserID:     "user-1",
		Salt:       make([]byte, 16),
		Nonce:      make([]byte, 12),
		Ciphertext: make([]byte, MaxBackupBytes+1),
	})
	var appErr *apperr.Error
	if !errors.As(err, &appErr) || appErr.Kind != apperr.Validation.Kind {
		t.Fatalf("expected Validation error, got %v", err)
	}
}

func TestUpsertBackup_RejectsWrongSaltLength(t *testing.T) {
	fs := newFakeKeyStore()
	s := New(fs)

	err := s.UpsertBackup(context.Background(), model.KeyBackup{
		UserID:     "user-1",
		Salt:       make([]byte, 8),
		Nonce:      make([]byte, 12),
		Ciphertext: []byte("ct"),
	})
	var appErr *apperr.Error
	if !errors.As(err, &appErr) || appErr.Kind != apperr.Validation.Kind {
		t.Fatalf("expected Validation error, got %v", err)
	}
}

func TestUpsertBackup_RoundTrip(t *testing.T) {
	fs := newFakeKeyStore()
	s := New(fs)
	ctx := context.Background()

	b := model.KeyBackup{UserID: "user-1", Salt: make([]byte, 16), Nonce: make([]byte, 12), Ciphertext: []byte("ct")}
	if err := s.UpsertBackup(ctx, b); err != nil {
		t.Fatalf("upsert backup: %v", err)
	}
	got, err := s.GetBackup(ctx, "user-1")
	if err != nil {
		t.Fatalf("get backup: %v", err)
	}
	if string(got.Ciphertext) != "ct" {
		t.Fatalf("expected ciphertext round-trip, got %q", got.Ciphertext)
	}
}

func TestConsumeTransfer_ExpiredMapsToTransferExpired(t *testing.T) {
	fs := newFakeKeyStore()
	s := New(fs)
	ctx := context.Background()

	tr, err := s.CreateTransfer(ctx, "user-1", "dev-a", "dev-b", []byte("bundle"))
	if err != nil {
		t.Fatalf("create transfer: %v", err)
	}
	// force expiry
	fs.transfers[tr.ID].ExpiresAt = time.Now().Add(-time.Minute)

	_, err = s.ConsumeTransfer(ctx, tr.ID)
	var appErr *apperr.Error
	if !errors.As(err, &appErr) || appErr.Kind != apperr.TransferExpired.Kind {
		t.Fatalf("expected TransferExpired, got %v", err)
	}
}

func TestConsumeTransfer_DoubleConsumeFailsSecondTime(t *testing.T) {
	fs := newFakeKeyStore()
	s := New(fs)
	ctx := context.Background()

	tr, _ := s.CreateTransfer(ctx, "user-1", "dev-a", "dev-b", []byte("bundle"))
	if _, err := s.ConsumeTransfer(ctx, tr.ID); err != nil {
		t.Fatalf("first consume: %v", err)
	}
	_, err := s.ConsumeTransfer(ctx, tr.ID)
	var appErr *apperr.Error
	if !errors.As(err, &appErr) || appErr.Kind != apperr.TransferExpired.Kind {
		t.Fatalf("expected TransferExpired on double-consume, got %v", err)
	}
}

func TestStartReaper_StopsOnContextCancel(t *testing.T) {
	fs := newFakeKeyStore()
	s := New(fs)
	ctx, cancel := context.WithCancel(context.Background())

	s.StartReaper(ctx, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	cancel()
	// No assertion beyond not hanging: the reaper goroutine must observe
	// ctx.Done() and return instead of leaking.
	time.Sleep(20 * time.Millisecond)
}
