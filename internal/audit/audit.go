// Package audit implements the append-only audit record writer (spec
// §4.10). Writes are best-effort from the caller's point of view for
// non-critical paths (spec §4.2's mutation protocol, §7's propagation
// policy) but this package itself always returns the write error so the
// caller can decide whether to log-and-continue or fail.
package audit

import (
	"context"

	"github.com/hearthline/core/internal/logging"
	"github.com/hearthline/core/internal/model"
)

type Writer interface {
	InsertAuditRecord(ctx context.Context, r model.AuditRecord) error
}

type Logger struct {
	store Writer
}

func New(store Writer) *Logger {
	return &Logger{store: store}
}

// Record appends an audit entry. actorID may be empty for system-
// initiated actions.
func (l *Logger) Record(ctx context.Context, actorID, targetType, targetID, action, beforeHash, afterHash, ip, userAgent string) error {
	return l.store.InsertAuditRecord(ctx, model.AuditRecord{
		ActorID:    actorID,
		TargetType: targetType,
		TargetID:   targetID,
		Action:     action,
		BeforeHash: beforeHash,
		AfterHash:  afterHash,
		IP:         ip,
		UserAgent:  userAgent,
	})
}

// BestEffort logs and swallows the error instead of propagating it, for
// call sites where the audit write itself must never fail the parent
// operation (spec §4.2 step 3: "best-effort; failure is non-fatal").
func (l *Logger) BestEffort(ctx context.Context, actorID, targetType, targetID, action, beforeHash, afterHash, ip, userAgent string) {
	if err := l.Record(ctx, actorID, targetType, targetID, action, beforeHash, afterHash, ip, userAgent); err != nil {
		logging.Errorf("audit: best-effort record failed for %s/%s action=%s: %v", targetType, targetID, action, err)
	}
}
