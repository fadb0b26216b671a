package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/golang/snappy"
)

// PutSnapshot stores a snappy-compressed document under key, replacing any
// previous value.
func (s *Store) PutSnapshot(ctx context.Context, key string, generatedAt time.Time, body []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO snapshots (key, generated_at, body) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			generated_at = excluded.generated_at,
			body = excluded.body
	`, key, toNanos(generatedAt), snappy.Encode(nil, body))
	if err != nil {
		return fmt.Errorf("put snapshot %q: %w", key, err)
	}
	return nil
}

// Snapshot returns the decompressed document stored under key.
func (s *Store) Snapshot(ctx context.Context, key string) ([]byte, time.Time, bool, error) {
	var (
		compressed []byte
		generated  int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT body, generated_at FROM snapshots WHERE key = ?
	`, key).Scan(&compressed, &generated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, time.Time{}, false, nil
	}
	if err != nil {
		return nil, time.Time{}, false, fmt.Errorf("get snapshot %q: %w", key, err)
	}

	body, err := snappy.Decode(nil, compressed)
	if err != nil {
		return nil, time.Time{}, false, fmt.Errorf("decode snapshot %q: %w", key, err)
	}
	return body, fromNanos(generated), true, nil
}
