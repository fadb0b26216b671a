package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/roach88/storesync/internal/record"
)

// encodeFields converts a record's fields to JSON TEXT for storage,
// sealing the fields configured for its entity type.
func (s *Store) encodeFields(entityType string, fields map[string]any) (string, error) {
	out := fields
	if names := s.sealed[entityType]; s.sealer != nil && len(names) > 0 {
		out = record.CloneFields(fields)
		for _, name := range names {
			v, ok := out[name]
			if !ok || v == nil {
				continue
			}
			plain, err := json.Marshal(v)
			if err != nil {
				return "", fmt.Errorf("seal field %q: %w", name, err)
			}
			sealed, err := s.sealer.Seal(plain)
			if err != nil {
				return "", fmt.Errorf("seal field %q: %w", name, err)
			}
			out[name] = sealed
		}
	}
	if out == nil {
		out = map[string]any{}
	}
	data, err := json.Marshal(out)
	if err != nil {
		return "", fmt.Errorf("marshal fields: %w", err)
	}
	return string(data), nil
}

// decodeFields parses JSON TEXT and opens sealed fields.
func (s *Store) decodeFields(entityType, data string) (map[string]any, error) {
	fields, err := record.DecodeFields([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("unmarshal fields: %w", err)
	}
	if names := s.sealed[entityType]; s.sealer != nil && len(names) > 0 {
		for _, name := range names {
			sealed, ok := fields[name].(string)
			if !ok {
				continue
			}
			plain, err := s.sealer.Open(sealed)
			if err != nil {
				return nil, fmt.Errorf("open field %q: %w", name, err)
			}
			v, err := record.DecodeValue(plain)
			if err != nil {
				return nil, fmt.Errorf("open field %q: %w", name, err)
			}
			fields[name] = v
		}
	}
	return fields, nil
}

func marshalJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func unmarshalMap(data string) (map[string]any, error) {
	m := map[string]any{}
	if data == "" || data == "{}" {
		return m, nil
	}
	if err := json.Unmarshal([]byte(data), &m); err != nil {
		return nil, err
	}
	return m, nil
}

// Timestamps are stored as INTEGER unix nanoseconds and read back in UTC.
func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
