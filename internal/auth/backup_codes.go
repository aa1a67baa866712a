package auth

import (
	"fmt"
	"strings"
)

// BackupCode is one one-time recovery code. Only HashedCode is persisted;
// the plaintext is returned to the caller exactly once, at issuance. ID
// is the store's row identifier, used to mark the matched code consumed
// without re-deriving its hash.
type BackupCode struct {
	ID         string
	HashedCode string
	UsedAt     *int64 // unix millis, nil if unused
}

// numBackupCodes and codeBytes mirror original_source/server/src/auth/
// backup_codes.rs's choice of ten codes, each rendered as an 8-character
// base32 group for readability when a user copies them down.
const (
	numBackupCodes = 10
	codeBytes      = 5
)

// GenerateBackupCodes returns numBackupCodes fresh plaintext codes plus
// their hashes. Callers persist the hashes via the store and return the
// plaintext set to the user exactly once.
func GenerateBackupCodes() (plaintext []string, hashed []string, err error) {
	plaintext = make([]string, 0, numBackupCodes)
	hashed = make([]string, 0, numBackupCodes)
	for i := 0; i < numBackupCodes; i++ {
		code, err := NewOpaqueToken(codeBytes)
		if err != nil {
			return nil, nil, fmt.Errorf("auth: generate backup code: %w", err)
		}
		code = formatBackupCode(code)
		plaintext = append(plaintext, code)
		hashed = append(hashed, hashBackupCode(code))
	}
	return plaintext, hashed, nil
}

// formatBackupCode inserts a separating dash so codes are easier to
// transcribe, e.g. "ABCDE-FGH".
func formatBackupCode(raw string) string {
	raw = strings.ToUpper(raw)
	if len(raw) <= 5 {
		return raw
	}
	return raw[:5] + "-" + raw[5:]
}

// hashBackupCode normalizes (uppercase, dash-stripped) before hashing so
// a user-entered code matches regardless of how they typed the dash.
func hashBackupCode(code string) string {
	return HashToken(strings.ToUpper(strings.ReplaceAll(code, "-", "")))
}

// MatchBackupCode reports whether candidate's hash is present among
// hashed unused codes, returning the index to mark consumed.
func MatchBackupCode(codes []BackupCode, candidate string) (int, bool) {
	h := hashBackupCode(candidate)
	for idx, c := range codes {
		if c.UsedAt != nil {
			continue
		}
		if c.HashedCode == h {
			return idx, true
		}
	}
	return -1, false
}
