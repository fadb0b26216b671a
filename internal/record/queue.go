package record

import "time"

// Operation is the kind of outbound mutation a queue item carries.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// Valid reports whether op is one of the three supported operations.
func (op Operation) Valid() bool {
	return op == OpCreate || op == OpUpdate || op == OpDelete
}

// QueueStatus is the lifecycle state of a queue item.
//
// pending -> synced on upload success.
// pending -> failed once RetryCount reaches MaxRetries; failed is terminal
// until an operator explicitly resets the item.
type QueueStatus string

const (
	StatusPending QueueStatus = "pending"
	StatusSynced  QueueStatus = "synced"
	StatusFailed  QueueStatus = "failed"
)

// QueueItem is one outbound mutation waiting for (or done with) upload.
// Items are never deleted; synced and failed rows form the audit trail.
type QueueItem struct {
	ID         string
	EntityType string
	RecordID   string
	Operation  Operation
	Payload    map[string]any
	Priority   int
	// Seq is the store-assigned enqueue order, strictly increasing.
	Seq        int64
	Status     QueueStatus
	RetryCount int
	MaxRetries int
	LastError  string
	EnqueuedAt time.Time
	SyncedAt   time.Time
}

// VersionMarker records the last master-data version applied at a store.
type VersionMarker struct {
	StoreID     string
	Version     string
	LastUpdated time.Time
	// Categories maps category name to the number of items applied.
	Categories map[string]int
	// Partial is set when at least one category failed during the run.
	Partial bool
}

// AuditKind groups audit entries for filtering.
type AuditKind string

const (
	AuditPhase         AuditKind = "phase"
	AuditConflict      AuditKind = "conflict"
	AuditQueue         AuditKind = "queue"
	AuditReplication   AuditKind = "replication"
	AuditConsolidation AuditKind = "consolidation"
)

// AuditEntry is one append-only line in the sync audit trail.
type AuditEntry struct {
	ID         string
	At         time.Time
	Kind       AuditKind
	EntityType string
	RecordID   string
	Message    string
	Detail     map[string]any
}
