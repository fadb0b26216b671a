// Package store provides the SQLite-backed local store of a store node.
//
// The store keeps named entity-type collections plus the sync bookkeeping
// collections:
//   - records: one row per (entity_type, id), fields as JSON
//   - sync_queue: outbound mutations, never deleted
//   - version_markers: last applied master-data version per store
//   - snapshots: consolidated snapshot documents (snappy-compressed)
//   - sync_meta: per-entity-type download watermarks
//   - audit_log: append-only sync audit trail
//
// # Guarantees
//
//   - Single-record atomicity only. No cross-record transactions are offered;
//     callers that write a record and then enqueue its sync item order the
//     two calls themselves.
//   - Reads of absent records return found=false, never an error.
//   - List reads return empty slices (not nil) and are ordered
//     deterministically (records by id, queue by priority DESC, seq ASC).
//   - Schema evolution is additive only (PRAGMA user_version migrations).
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - One open connection: writes to the same record are serialized
package store
