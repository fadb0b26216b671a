package record

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// wireTimeLayouts are tried in order when parsing lastModified/lastUpdated.
// The last two cover naive timestamps some central endpoints emit; they are
// interpreted as UTC.
var wireTimeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// Wire returns the JSON document form of the record: its fields plus
// "id" and an ISO-8601 "lastModified".
func (r Record) Wire() map[string]any {
	doc := CloneFields(r.Fields)
	doc[FieldID] = r.ID
	if !r.LastModified.IsZero() {
		doc[FieldLastModified] = FormatTime(r.LastModified)
	}
	return doc
}

// FromWire builds a Record from a JSON document received from the central
// authority. The timestamp comes from "lastModified", falling back to
// "lastUpdated"; when neither is present LastModified is left zero and the
// caller decides what to stamp.
func FromWire(entityType string, doc map[string]any, src Source) (Record, error) {
	id, err := idString(doc[FieldID])
	if err != nil {
		return Record{}, fmt.Errorf("from wire (type=%s): %w", entityType, err)
	}

	var modified time.Time
	for _, key := range []string{FieldLastModified, FieldLastUpdated} {
		raw, ok := doc[key].(string)
		if !ok || raw == "" {
			continue
		}
		modified, err = ParseTime(raw)
		if err != nil {
			return Record{}, fmt.Errorf("from wire (type=%s, id=%s): %w", entityType, id, err)
		}
		break
	}

	fields := make(map[string]any, len(doc))
	for k, v := range doc {
		switch k {
		case FieldID, FieldLastModified, FieldLastUpdated:
			continue
		}
		fields[k] = cloneValue(v)
	}

	return Record{
		Type:         NormalizeKey(entityType),
		ID:           id,
		Fields:       fields,
		LastModified: modified,
		Source:       src,
	}, nil
}

// FormatTime renders t as RFC 3339 with nanoseconds in UTC.
func FormatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// ParseTime accepts the timestamp layouts the central authority emits.
func ParseTime(s string) (time.Time, error) {
	for _, layout := range wireTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

func idString(v any) (string, error) {
	var id string
	switch val := v.(type) {
	case string:
		id = val
	case float64:
		id = strconv.FormatFloat(val, 'f', -1, 64)
	case json.Number:
		id = val.String()
	case int:
		id = strconv.Itoa(val)
	case int64:
		id = strconv.FormatInt(val, 10)
	case nil:
		return "", fmt.Errorf("missing id")
	default:
		return "", fmt.Errorf("unsupported id type %T", v)
	}
	id = NormalizeKey(id)
	if id == "" {
		return "", fmt.Errorf("empty id")
	}
	return id, nil
}
