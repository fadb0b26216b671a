package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/storesync/internal/record"
)

// QueueCounts summarizes the sync queue by status.
type QueueCounts struct {
	Pending int
	Synced  int
	Failed  int
}

// Enqueue appends a pending item to the sync queue and returns the item
// with its assigned sequence number. The item ID must be unique.
func (s *Store) Enqueue(ctx context.Context, item record.QueueItem) (record.QueueItem, error) {
	if item.ID == "" {
		return item, fmt.Errorf("enqueue: item id is required")
	}
	if !item.Operation.Valid() {
		return item, fmt.Errorf("enqueue: invalid operation %q", item.Operation)
	}
	item.EntityType = record.NormalizeKey(item.EntityType)
	item.RecordID = record.NormalizeKey(item.RecordID)
	if item.EntityType == "" || item.RecordID == "" {
		return item, fmt.Errorf("enqueue: entity type and record id are required")
	}
	item.Status = record.StatusPending
	item.RetryCount = 0
	item.LastError = ""
	item.SyncedAt = time.Time{}
	if item.Payload == nil {
		item.Payload = map[string]any{}
	}

	payload, err := marshalJSON(item.Payload)
	if err != nil {
		return item, fmt.Errorf("enqueue: marshal payload: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_queue (id, entity_type, record_id, operation, payload,
			priority, status, retry_count, max_retries, last_error, enqueued_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, '', ?)
		ON CONFLICT(id) DO NOTHING
	`, item.ID, item.EntityType, item.RecordID, string(item.Operation), payload,
		item.Priority, string(item.Status), item.MaxRetries, toNanos(item.EnqueuedAt))
	if err != nil {
		return item, fmt.Errorf("enqueue: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return item, fmt.Errorf("enqueue: rows affected: %w", err)
	}
	if n == 0 {
		return item, fmt.Errorf("enqueue (id=%s): %w", item.ID, ErrDuplicateKey)
	}

	seq, err := result.LastInsertId()
	if err != nil {
		return item, fmt.Errorf("enqueue: last insert id: %w", err)
	}
	item.Seq = seq
	return item, nil
}

// PendingItems returns pending items in upload order: priority descending,
// then enqueue order ascending.
func (s *Store) PendingItems(ctx context.Context) ([]record.QueueItem, error) {
	return s.queryQueue(ctx, `
		SELECT `+queueColumns+`
		FROM sync_queue
		WHERE status = 'pending'
		ORDER BY priority DESC, seq ASC
	`)
}

// ListQueue returns queue items with the given status (all when empty),
// in enqueue order.
func (s *Store) ListQueue(ctx context.Context, status record.QueueStatus) ([]record.QueueItem, error) {
	if status == "" {
		return s.queryQueue(ctx, `
			SELECT `+queueColumns+`
			FROM sync_queue
			ORDER BY seq ASC
		`)
	}
	return s.queryQueue(ctx, `
		SELECT `+queueColumns+`
		FROM sync_queue
		WHERE status = ?
		ORDER BY seq ASC
	`, string(status))
}

// QueueItem returns a single queue item by ID.
func (s *Store) QueueItem(ctx context.Context, id string) (record.QueueItem, bool, error) {
	items, err := s.queryQueue(ctx, `
		SELECT `+queueColumns+`
		FROM sync_queue
		WHERE id = ?
	`, id)
	if err != nil {
		return record.QueueItem{}, false, err
	}
	if len(items) == 0 {
		return record.QueueItem{}, false, nil
	}
	return items[0], true, nil
}

// MarkSynced transitions a pending item to synced. Items that are no longer
// pending are left untouched.
func (s *Store) MarkSynced(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sync_queue SET status = 'synced', synced_at = ?, last_error = ''
		WHERE id = ? AND status = 'pending'
	`, toNanos(at), id)
	if err != nil {
		return fmt.Errorf("mark synced (id=%s): %w", id, err)
	}
	return nil
}

// RecordFailure increments the retry count of a pending item and stores the
// error. Once the count reaches max_retries the item becomes failed.
// Returns the resulting status.
func (s *Store) RecordFailure(ctx context.Context, id, message string) (record.QueueStatus, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE sync_queue SET
			retry_count = retry_count + 1,
			last_error = ?,
			status = CASE WHEN retry_count + 1 >= max_retries THEN 'failed' ELSE 'pending' END
		WHERE id = ? AND status = 'pending'
	`, message, id)
	if err != nil {
		return "", fmt.Errorf("record failure (id=%s): %w", id, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("record failure: rows affected: %w", err)
	}
	if n == 0 {
		return "", fmt.Errorf("record failure (id=%s): %w", id, ErrNotFound)
	}

	var status string
	if err := s.db.QueryRowContext(ctx, `SELECT status FROM sync_queue WHERE id = ?`, id).Scan(&status); err != nil {
		return "", fmt.Errorf("record failure: read status: %w", err)
	}
	return record.QueueStatus(status), nil
}

// RetryFailed moves a failed item back to pending with a fresh retry budget.
// Returns ErrNotFound if no failed item has that ID.
func (s *Store) RetryFailed(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE sync_queue SET status = 'pending', retry_count = 0
		WHERE id = ? AND status = 'failed'
	`, id)
	if err != nil {
		return fmt.Errorf("retry failed item (id=%s): %w", id, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("retry failed item: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("retry failed item (id=%s): %w", id, ErrNotFound)
	}
	return nil
}

// CountQueue returns per-status item counts.
func (s *Store) CountQueue(ctx context.Context) (QueueCounts, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM sync_queue GROUP BY status
	`)
	if err != nil {
		return QueueCounts{}, fmt.Errorf("count queue: %w", err)
	}
	defer rows.Close()

	var counts QueueCounts
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return QueueCounts{}, fmt.Errorf("count queue: scan: %w", err)
		}
		switch record.QueueStatus(status) {
		case record.StatusPending:
			counts.Pending = n
		case record.StatusSynced:
			counts.Synced = n
		case record.StatusFailed:
			counts.Failed = n
		}
	}
	if err := rows.Err(); err != nil {
		return QueueCounts{}, fmt.Errorf("count queue: iterate: %w", err)
	}
	return counts, nil
}

const queueColumns = `id, entity_type, record_id, operation, payload, priority, seq,
	status, retry_count, max_retries, last_error, enqueued_at, synced_at`

func (s *Store) queryQueue(ctx context.Context, query string, args ...any) ([]record.QueueItem, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query sync queue: %w", err)
	}
	defer rows.Close()

	items := []record.QueueItem{}
	for rows.Next() {
		var (
			item      record.QueueItem
			operation string
			payload   string
			status    string
			enqueued  int64
			synced    sql.NullInt64
		)
		if err := rows.Scan(&item.ID, &item.EntityType, &item.RecordID, &operation, &payload,
			&item.Priority, &item.Seq, &status, &item.RetryCount, &item.MaxRetries,
			&item.LastError, &enqueued, &synced); err != nil {
			return nil, fmt.Errorf("scan queue item: %w", err)
		}
		item.Operation = record.Operation(operation)
		item.Status = record.QueueStatus(status)
		item.EnqueuedAt = fromNanos(enqueued)
		if synced.Valid {
			item.SyncedAt = fromNanos(synced.Int64)
		}
		item.Payload, err = record.DecodeFields([]byte(payload))
		if err != nil {
			return nil, fmt.Errorf("unmarshal payload (id=%s): %w", item.ID, err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sync queue: %w", err)
	}
	return items, nil
}

// IsNotFound reports whether err wraps ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
