package store

import (
	"context"
	"fmt"

	"github.com/roach88/storesync/internal/record"
)

// AppendAudit appends an entry to the audit log. Entries with an ID that
// already exists are ignored.
func (s *Store) AppendAudit(ctx context.Context, e record.AuditEntry) error {
	if e.ID == "" {
		return fmt.Errorf("append audit: id is required")
	}
	detail := e.Detail
	if detail == nil {
		detail = map[string]any{}
	}
	data, err := marshalJSON(detail)
	if err != nil {
		return fmt.Errorf("append audit: marshal detail: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, at, kind, entity_type, record_id, message, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, e.ID, toNanos(e.At), string(e.Kind), e.EntityType, e.RecordID, e.Message, data)
	if err != nil {
		return fmt.Errorf("append audit: %w", err)
	}
	return nil
}

// ReadAudit returns up to limit entries, most recent first.
// A non-positive limit returns every entry.
func (s *Store) ReadAudit(ctx context.Context, limit int) ([]record.AuditEntry, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, at, kind, entity_type, record_id, message, detail
		FROM audit_log
		ORDER BY seq DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("read audit: %w", err)
	}
	defer rows.Close()

	entries := []record.AuditEntry{}
	for rows.Next() {
		var (
			e      record.AuditEntry
			at     int64
			kind   string
			detail string
		)
		if err := rows.Scan(&e.ID, &at, &kind, &e.EntityType, &e.RecordID, &e.Message, &detail); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.At = fromNanos(at)
		e.Kind = record.AuditKind(kind)
		if e.Detail, err = unmarshalMap(detail); err != nil {
			return nil, fmt.Errorf("unmarshal audit detail: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit: %w", err)
	}
	return entries, nil
}
