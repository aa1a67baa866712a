// Package moderation implements the ingress hook that runs every guild
// text message through the filter engine before it is persisted, plus
// mass-mention stripping. Grounded on spec §4.9's numbered pipeline.
package moderation

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/hearthline/core/internal/apperr"
	"github.com/hearthline/core/internal/audit"
	"github.com/hearthline/core/internal/filter"
	"github.com/hearthline/core/internal/model"
	"github.com/hearthline/core/internal/perm"
)

const zeroWidthSpace = "​"

// ModerationStore is the slice of internal/store this package depends on.
type ModerationStore interface {
	InsertModerationAction(ctx context.Context, a model.ModerationAction) error
}

type Pipeline struct {
	cache *filter.Cache
	store ModerationStore
	audit *audit.Logger
}

func New(cache *filter.Cache, store ModerationStore, auditLogger *audit.Logger) *Pipeline {
	return &Pipeline{cache: cache, store: store, audit: auditLogger}
}

// Outcome carries the (possibly rewritten) content plus whatever warning
// event the caller must fan out to the author after a successful write.
type Outcome struct {
	Content      string
	WarnCategory model.FilterCategory
}

// Ingest runs spec §4.9's pipeline for a guild-channel, non-encrypted
// message. Callers skip this entirely for DM channels and for encrypted
// content, per the pipeline's own precondition.
func (p *Pipeline) Ingest(ctx context.Context, guildID, channelID, userID string, content string, authorPerms perm.Bits) (Outcome, error) {
	content = stripMassMentions(content, authorPerms)

	engine, err := p.cache.GetOrBuild(ctx, guildID)
	if err != nil {
		return Outcome{}, err
	}

	decision := engine.Check(content)
	action, match, matched := decision.Decide()

	if matched {
		p.audit.BestEffort(ctx, userID, "message", channelID, "moderation."+string(action), "", "", "", "")
		if err := p.store.InsertModerationAction(ctx, model.ModerationAction{
			GuildID:         guildID,
			ChannelID:       channelID,
			UserID:          userID,
			Category:        match.Category,
			PatternID:       match.PatternID,
			Action:          action,
			OriginalContent: truncateUTF8(content, 200),
		}); err != nil {
			// The moderation record itself is not best-effort: spec §4.9
			// step 3 lists it as an unconditional step of the pipeline,
			// distinct from the audit log's best-effort append in step 3's
			// cross-reference to §4.2's mutation protocol.
			return Outcome{}, apperr.DependencyUnavailable.WithDetail("moderation action write: %v", err)
		}
	}

	switch action {
	case model.ActionBlock:
		return Outcome{}, apperr.New(apperr.KindValidation, "content_blocked", "message blocked by "+string(match.Category)+" filter")
	case model.ActionWarn:
		return Outcome{Content: content, WarnCategory: match.Category}, nil
	default:
		return Outcome{Content: content}, nil
	}
}

// stripMassMentions rewrites literal @everyone/@here into a form that
// still renders but does not notify, when the author lacks
// MentionEveryone (spec §4.9 step 4).
func stripMassMentions(content string, authorPerms perm.Bits) string {
	if authorPerms.Has(perm.MentionEveryone) {
		return content
	}
	content = strings.ReplaceAll(content, "@everyone", "@"+zeroWidthSpace+"everyone")
	content = strings.ReplaceAll(content, "@here", "@"+zeroWidthSpace+"here")
	return content
}

// truncateUTF8 cuts s to at most maxBytes bytes without splitting a
// multi-byte rune, per spec §3's "truncated to 200 chars at a codepoint
// boundary" (interpreted, like the pipeline's own wording, as bytes: a
// codepoint-boundary cut on a byte budget).
func truncateUTF8(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	cut := 0
	for i, r := range s {
		if i+utf8.RuneLen(r) > maxBytes {
			break
		}
		cut = i + utf8.RuneLen(r)
	}
	return s[:cut]
}
