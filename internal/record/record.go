package record

import (
	"encoding/json"
	"fmt"
	"time"
)

// Source tags where a record's current value came from.
type Source string

const (
	// SourceLocal marks records created or edited at the store node.
	SourceLocal Source = "local"
	// SourceMasterData marks records written by the master-data replicator.
	SourceMasterData Source = "master_data"
)

// Well-known field names on the wire and inside Fields.
const (
	FieldID               = "id"
	FieldLastModified     = "lastModified"
	FieldLastUpdated      = "lastUpdated"
	FieldConflictResolved = "conflictResolved"
)

// Common entity types used by the point-of-sale node.
const (
	TypeProduct     = "product"
	TypeCustomer    = "customer"
	TypeTransaction = "transaction"
	TypeInventory   = "inventory"
)

// Record is one instance of an entity type, keyed by (Type, ID).
type Record struct {
	Type         string
	ID           string
	Fields       map[string]any
	LastModified time.Time
	Source       Source
}

// Validate checks the identity invariants a record must satisfy before storage.
func (r Record) Validate() error {
	if NormalizeKey(r.Type) == "" {
		return fmt.Errorf("record: entity type is required")
	}
	if NormalizeKey(r.ID) == "" {
		return fmt.Errorf("record: id is required (type=%s)", r.Type)
	}
	switch r.Source {
	case SourceLocal, SourceMasterData:
	default:
		return fmt.Errorf("record: invalid source %q (type=%s, id=%s)", r.Source, r.Type, r.ID)
	}
	return nil
}

// Clone returns a deep copy so callers can mutate Fields freely.
func (r Record) Clone() Record {
	out := r
	out.Fields = CloneFields(r.Fields)
	return out
}

// CloneFields deep-copies a field map. Nested maps and slices are copied;
// scalar values are shared.
func CloneFields(fields map[string]any) map[string]any {
	if fields == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return CloneFields(val)
	case []any:
		arr := make([]any, len(val))
		for i, elem := range val {
			arr[i] = cloneValue(elem)
		}
		return arr
	default:
		return val
	}
}

// IsEmpty reports whether a field value counts as "not set" for merging.
// nil, the empty string, and empty lists or objects are empty; zero numbers
// and false are real values.
func IsEmpty(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return val == ""
	case json.Number:
		return val == ""
	case []any:
		return len(val) == 0
	case map[string]any:
		return len(val) == 0
	default:
		return false
	}
}
