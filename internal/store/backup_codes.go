package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/hearthline/core/internal/auth"
)

// ReplaceBackupCodes discards any previously issued codes for userID and
// persists the freshly generated hashes, inside one transaction so a
// crash mid-rotation never leaves the user with a mix of old and new
// codes. Callers pass the hashes from auth.GenerateBackupCodes; the
// plaintext never reaches this layer.
func (s *Store) ReplaceBackupCodes(ctx context.Context, userID string, hashedCodes []string) error {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("store: replace backup codes: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM backup_codes WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("store: replace backup codes: clear: %w", err)
	}
	for _, hashed := range hashedCodes {
		id := uuid.Must(uuid.NewV7()).String()
		if _, err := tx.Exec(ctx,
			`INSERT INTO backup_codes (id, user_id, hashed_code) VALUES ($1, $2, $3)`,
			id, userID, hashed); err != nil {
			return fmt.Errorf("store: replace backup codes: insert: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("store: replace backup codes: commit: %w", err)
	}
	return nil
}

// ListUnusedBackupCodes returns userID's remaining unconsumed codes for
// auth.MatchBackupCode to search, the same loop-over-candidates shape
// the reference implementation's find_matching_backup_code uses.
func (s *Store) ListUnusedBackupCodes(ctx context.Context, userID string) ([]auth.BackupCode, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT id, hashed_code FROM backup_codes WHERE user_id = $1 AND used_at IS NULL`, userID)
	if err != nil {
		return nil, fmt.Errorf("store: list backup codes: %w", err)
	}
	defer rows.Close()

	var codes []auth.BackupCode
	for rows.Next() {
		var c auth.BackupCode
		if err := rows.Scan(&c.ID, &c.HashedCode); err != nil {
			return nil, fmt.Errorf("store: scan backup code: %w", err)
		}
		codes = append(codes, c)
	}
	return codes, rows.Err()
}

// ConsumeBackupCode marks the code at id used, atomically, and reports
// whether this call was the one that consumed it. A false result with no
// error means another request already consumed it first.
func (s *Store) ConsumeBackupCode(ctx context.Context, id string) (bool, error) {
	tag, err := s.Pool.Exec(ctx,
		`UPDATE backup_codes SET used_at = now() WHERE id = $1 AND used_at IS NULL`, id)
	if err != nil {
		return false, fmt.Errorf("store: consume backup code: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
