package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/storesync/internal/record"
)

// Add inserts a new record. Returns ErrDuplicateKey if (type, id) exists.
func (s *Store) Add(ctx context.Context, rec record.Record) error {
	rec, data, err := s.prepare(rec)
	if err != nil {
		return fmt.Errorf("add record: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO records (entity_type, id, data, last_modified, source)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(entity_type, id) DO NOTHING
	`, rec.Type, rec.ID, data, toNanos(rec.LastModified), string(rec.Source))
	if err != nil {
		return fmt.Errorf("add record: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("add record: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("add record (type=%s, id=%s): %w", rec.Type, rec.ID, ErrDuplicateKey)
	}
	return nil
}

// Upsert inserts the record or fully replaces the stored value.
func (s *Store) Upsert(ctx context.Context, rec record.Record) error {
	rec, data, err := s.prepare(rec)
	if err != nil {
		return fmt.Errorf("upsert record: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO records (entity_type, id, data, last_modified, source)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(entity_type, id) DO UPDATE SET
			data = excluded.data,
			last_modified = excluded.last_modified,
			source = excluded.source
	`, rec.Type, rec.ID, data, toNanos(rec.LastModified), string(rec.Source))
	if err != nil {
		return fmt.Errorf("upsert record: %w", err)
	}
	return nil
}

// Update fully replaces an existing record. Returns ErrNotFound if absent.
func (s *Store) Update(ctx context.Context, rec record.Record) error {
	rec, data, err := s.prepare(rec)
	if err != nil {
		return fmt.Errorf("update record: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE records SET data = ?, last_modified = ?, source = ?
		WHERE entity_type = ? AND id = ?
	`, data, toNanos(rec.LastModified), string(rec.Source), rec.Type, rec.ID)
	if err != nil {
		return fmt.Errorf("update record: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update record: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("update record (type=%s, id=%s): %w", rec.Type, rec.ID, ErrNotFound)
	}
	return nil
}

// Get returns the record and found=true, or found=false when absent.
func (s *Store) Get(ctx context.Context, entityType, id string) (record.Record, bool, error) {
	entityType = record.NormalizeKey(entityType)
	id = record.NormalizeKey(id)

	row := s.db.QueryRowContext(ctx, `
		SELECT entity_type, id, data, last_modified, source
		FROM records
		WHERE entity_type = ? AND id = ?
	`, entityType, id)

	rec, err := s.scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return record.Record{}, false, nil
	}
	if err != nil {
		return record.Record{}, false, fmt.Errorf("get record (type=%s, id=%s): %w", entityType, id, err)
	}
	return rec, true, nil
}

// GetAll returns a snapshot of every record of the given type, ordered by id.
// Returns an empty slice (not nil) if the collection is empty.
func (s *Store) GetAll(ctx context.Context, entityType string) ([]record.Record, error) {
	entityType = record.NormalizeKey(entityType)

	rows, err := s.db.QueryContext(ctx, `
		SELECT entity_type, id, data, last_modified, source
		FROM records
		WHERE entity_type = ?
		ORDER BY id COLLATE BINARY ASC
	`, entityType)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	records := []record.Record{}
	for rows.Next() {
		rec, err := s.scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return records, nil
}

// Delete removes a record. Deleting an absent record is not an error.
func (s *Store) Delete(ctx context.Context, entityType, id string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM records WHERE entity_type = ? AND id = ?
	`, record.NormalizeKey(entityType), record.NormalizeKey(id))
	if err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	return nil
}

// Count returns the number of records of the given type.
func (s *Store) Count(ctx context.Context, entityType string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM records WHERE entity_type = ?
	`, record.NormalizeKey(entityType)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return n, nil
}

// Clear removes every record of the given type. Intended for diagnostics
// and test reset; the sync queue is left untouched.
func (s *Store) Clear(ctx context.Context, entityType string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM records WHERE entity_type = ?
	`, record.NormalizeKey(entityType))
	if err != nil {
		return fmt.Errorf("clear records: %w", err)
	}
	return nil
}

// EntityTypes lists the collections currently holding records.
func (s *Store) EntityTypes(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT entity_type FROM records ORDER BY entity_type ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query entity types: %w", err)
	}
	defer rows.Close()

	types := []string{}
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("scan entity type: %w", err)
		}
		types = append(types, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entity types: %w", err)
	}
	return types, nil
}

// prepare validates and normalizes a record and encodes its fields.
func (s *Store) prepare(rec record.Record) (record.Record, string, error) {
	if err := rec.Validate(); err != nil {
		return rec, "", err
	}
	rec.Type = record.NormalizeKey(rec.Type)
	rec.ID = record.NormalizeKey(rec.ID)
	data, err := s.encodeFields(rec.Type, rec.Fields)
	if err != nil {
		return rec, "", err
	}
	return rec, data, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanRecord(row rowScanner) (record.Record, error) {
	var (
		rec      record.Record
		data     string
		modified int64
		source   string
	)
	if err := row.Scan(&rec.Type, &rec.ID, &data, &modified, &source); err != nil {
		return record.Record{}, err
	}
	fields, err := s.decodeFields(rec.Type, data)
	if err != nil {
		return record.Record{}, fmt.Errorf("decode record (type=%s, id=%s): %w", rec.Type, rec.ID, err)
	}
	rec.Fields = fields
	rec.LastModified = fromNanos(modified)
	rec.Source = record.Source(source)
	return rec, nil
}
