// Package record defines the data model shared by the store, the sync engine,
// the master-data replicator and the consolidation aggregator.
//
// Types:
//   - Record: one instance of an entity type (product, customer, transaction, ...)
//   - QueueItem: one pending outbound mutation in the persistent sync queue
//   - VersionMarker: the last applied master-data version for a store
//   - AuditEntry: one line of the sync audit trail
//
// Record fields hold JSON-compatible values (string, float64, bool, nil,
// []any, map[string]any). Integers too large for a float64 to hold exactly
// are kept as int64 by DecodeFields. Ids and entity type names are NFC-normalized by
// NormalizeKey before they reach storage, so the same SKU typed on two
// terminals with different Unicode compositions resolves to one record.
package record
