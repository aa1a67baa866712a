package auth

import "testing"

func TestGenerateBackupCodes_CountAndShape(t *testing.T) {
	codes, hashed, err := GenerateBackupCodes()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(codes) != numBackupCodes || len(hashed) != numBackupCodes {
		t.Fatalf("expected %d codes, got %d plaintext / %d hashed", numBackupCodes, len(codes), len(hashed))
	}
	seen := make(map[string]bool)
	for i, c := range codes {
		if seen[c] {
			t.Fatalf("duplicate plaintext code %q", c)
		}
		seen[c] = true
		if hashed[i] != hashBackupCode(c) {
			t.Fatalf("hashed[%d] does not match hashBackupCode(codes[%d])", i, i)
		}
	}
}

func TestMatchBackupCode_FindsUnusedMatch(t *testing.T) {
	codes, hashed, err := GenerateBackupCodes()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	candidates := make([]BackupCode, len(hashed))
	for i, h := range hashed {
		candidates[i] = BackupCode{ID: "row-" + codes[i], HashedCode: h}
	}

	idx, ok := MatchBackupCode(candidates, codes[3])
	if !ok || idx != 3 {
		t.Fatalf("expected match at index 3, got idx=%d ok=%v", idx, ok)
	}
}

func TestMatchBackupCode_NoMatchForUnknownCode(t *testing.T) {
	_, hashed, err := GenerateBackupCodes()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	candidates := make([]BackupCode, len(hashed))
	for i, h := range hashed {
		candidates[i] = BackupCode{ID: "row", HashedCode: h}
	}

	if _, ok := MatchBackupCode(candidates, "not-a-real-code"); ok {
		t.Fatalf("expected no match for an unknown code")
	}
}

func TestMatchBackupCode_EmptyCandidateListNeverMatches(t *testing.T) {
	if _, ok := MatchBackupCode(nil, "anything"); ok {
		t.Fatalf("expected no match against an empty candidate list")
	}
}
