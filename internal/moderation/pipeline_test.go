package moderation

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/hearthline/core/internal/perm"
)

func TestStripMassMentions_WithoutPermission(t *testing.T) {
	got := stripMassMentions("@everyone hi", 0)
	if !strings.Contains(got, "@"+zeroWidthSpace+"everyone") {
		t.Fatalf("expected zero-width space inserted, got %q", got)
	}
	if !strings.Contains(got, "hi") {
		t.Fatalf("expected rest of content preserved, got %q", got)
	}
}

func TestStripMassMentions_WithPermission(t *testing.T) {
	got := stripMassMentions("@everyone hi", perm.MentionEveryone)
	if got != "@everyone hi" {
		t.Fatalf("expected content unchanged when author has MentionEveryone, got %q", got)
	}
}

func TestTruncateUTF8_UnderLimit(t *testing.T) {
	s := "hello"
	if got := truncateUTF8(s, 200); got != s {
		t.Fatalf("expected unchanged, got %q", got)
	}
}

func TestTruncateUTF8_CutsAtCodepointBoundary(t *testing.T) {
	// Each "é" is 2 bytes in UTF-8; cutting at an odd byte budget must
	// never split one.
	s := strings.Repeat("é", 150) // 300 bytes
	got := truncateUTF8(s, 199)
	if len(got) > 199 {
		t.Fatalf("expected result within byte budget, got %d bytes", len(got))
	}
	if !utf8.ValidString(got) {
		t.Fatalf("expected valid UTF-8 after truncation, got %q", got)
	}
}
