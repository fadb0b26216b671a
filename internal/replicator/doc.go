// Package replicator imports centrally-owned reference data (catalog,
// customers, price lists, stock levels) into a store node's local store.
//
// Replication is one-directional and idempotent. Each category is listed
// page by page and every item is upserted as a master_data record, except
// for the category's protected fields, which are owned by the store and
// never taken from the central copy. A version marker is written after
// every run that applied at least one category.
//
// Categories are independent: one failing category is reported through a
// PartialFailureError while the others are still applied. Concurrent
// Replicate and ForceReplication calls coalesce into a single run.
package replicator
