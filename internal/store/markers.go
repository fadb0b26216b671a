package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/roach88/storesync/internal/record"
)

// VersionMarker returns the master-data version marker for a store.
func (s *Store) VersionMarker(ctx context.Context, storeID string) (record.VersionMarker, bool, error) {
	var (
		m          record.VersionMarker
		updated    int64
		categories string
		partial    int
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT store_id, version, last_updated, categories, partial
		FROM version_markers
		WHERE store_id = ?
	`, storeID).Scan(&m.StoreID, &m.Version, &updated, &categories, &partial)
	if errors.Is(err, sql.ErrNoRows) {
		return record.VersionMarker{}, false, nil
	}
	if err != nil {
		return record.VersionMarker{}, false, fmt.Errorf("get version marker (store=%s): %w", storeID, err)
	}

	raw, err := unmarshalMap(categories)
	if err != nil {
		return record.VersionMarker{}, false, fmt.Errorf("unmarshal marker categories: %w", err)
	}
	m.Categories = make(map[string]int, len(raw))
	for k, v := range raw {
		if f, ok := v.(float64); ok {
			m.Categories[k] = int(f)
		}
	}
	m.LastUpdated = fromNanos(updated)
	m.Partial = partial != 0
	return m, true, nil
}

// PutVersionMarker creates or replaces the marker for m.StoreID.
func (s *Store) PutVersionMarker(ctx context.Context, m record.VersionMarker) error {
	if m.StoreID == "" {
		return fmt.Errorf("put version marker: store id is required")
	}
	categories := m.Categories
	if categories == nil {
		categories = map[string]int{}
	}
	data, err := marshalJSON(categories)
	if err != nil {
		return fmt.Errorf("put version marker: %w", err)
	}
	partial := 0
	if m.Partial {
		partial = 1
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO version_markers (store_id, version, last_updated, categories, partial)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(store_id) DO UPDATE SET
			version = excluded.version,
			last_updated = excluded.last_updated,
			categories = excluded.categories,
			partial = excluded.partial
	`, m.StoreID, m.Version, toNanos(m.LastUpdated), data, partial)
	if err != nil {
		return fmt.Errorf("put version marker: %w", err)
	}
	return nil
}

// LastSyncTime returns the download watermark for an entity type.
// The zero time means the type has never been downloaded.
func (s *Store) LastSyncTime(ctx context.Context, entityType string) (time.Time, error) {
	value, ok, err := s.meta(ctx, "last_sync:"+entityType)
	if err != nil || !ok {
		return time.Time{}, err
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse watermark %q: %w", value, err)
	}
	return fromNanos(n), nil
}

// SetLastSyncTime advances the download watermark for an entity type.
func (s *Store) SetLastSyncTime(ctx context.Context, entityType string, t time.Time) error {
	return s.setMeta(ctx, "last_sync:"+entityType, strconv.FormatInt(toNanos(t), 10))
}

func (s *Store) meta(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM sync_meta WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get meta %q: %w", key, err)
	}
	return value, true, nil
}

func (s *Store) setMeta(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("set meta %q: %w", key, err)
	}
	return nil
}
