package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hearthline/core/internal/model"
)

func (s *Store) InsertAuditRecord(ctx context.Context, r model.AuditRecord) error {
	r.ID = uuid.Must(uuid.NewV7()).String()
	r.Timestamp = time.Now()
	_, err := s.Pool.Exec(ctx,
		`INSERT INTO audit_records (id, actor_id, target_type, target_id, action, before_hash, after_hash, timestamp, ip, user_agent)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		r.ID, r.ActorID, r.TargetType, r.TargetID, r.Action, r.BeforeHash, r.AfterHash, r.Timestamp, r.IP, r.UserAgent)
	if err != nil {
		return fmt.Errorf("store: insert audit record: %w", err)
	}
	return nil
}

func (s *Store) ListAuditRecords(ctx context.Context, targetType, targetID string, limit int) ([]model.AuditRecord, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT id, actor_id, target_type, target_id, action, before_hash, after_hash, timestamp, ip, user_agent
		 FROM audit_records WHERE target_type = $1 AND target_id = $2 ORDER BY timestamp DESC LIMIT $3`,
		targetType, targetID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list audit records: %w", err)
	}
	defer rows.Close()

	var out []model.AuditRecord
	for rows.Next() {
		var r model.AuditRecord
		if err := rows.Scan(&r.ID, &r.ActorID, &r.TargetType, &r.TargetID, &r.Action, &r.BeforeHash, &r.AfterHash, &r.Timestamp, &r.IP, &r.UserAgent); err != nil {
			return nil, fmt.Errorf("store: scan audit record: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
