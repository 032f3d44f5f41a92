package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// AuditEntry is one admin action recorded in the audit trail.
type AuditEntry struct {
	ID           int64
	Timestamp    time.Time
	TraceID      string
	ActorMXID    string
	Action       string
	Target       sql.NullString
	Result       string
	ErrorMessage sql.NullString
}

// WriteAudit records an admin action. result is "ok", "denied", or "error".
func (s *Store) WriteAudit(ctx context.Context, traceID, actorMXID, action, target, result, errorMsg string) error {
	var targetNull, errorNull sql.NullString
	if target != "" {
		targetNull = sql.NullString{String: target, Valid: true}
	}
	if errorMsg != "" {
		errorNull = sql.NullString{String: errorMsg, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log (ts, trace_id, actor_mxid, action, target, result, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, time.Now().UTC(), traceID, actorMXID, action, targetNull, result, errorNull)
	if err != nil {
		return fmt.Errorf("write audit log: %w", err)
	}
	return nil
}

// RecentAudit returns the limit most recent audit entries, newest first.
func (s *Store) RecentAudit(ctx context.Context, limit int) ([]*AuditEntry, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ts, trace_id, actor_mxid, action, target, result, error_message
		FROM audit_log
		ORDER BY ts DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	defer rows.Close()

	var entries []*AuditEntry
	for rows.Next() {
		entry := &AuditEntry{}
		if err := rows.Scan(
			&entry.ID, &entry.Timestamp, &entry.TraceID, &entry.ActorMXID,
			&entry.Action, &entry.Target, &entry.Result, &entry.ErrorMessage,
		); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit log: %w", err)
	}
	return entries, nil
}
