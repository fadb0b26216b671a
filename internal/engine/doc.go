// Package engine implements the store node's synchronization engine.
//
// The engine owns the online/offline lifecycle, drains the persistent
// outbound queue and pulls remote deltas inward.
//
// STATE MACHINE:
//
//	OFFLINE --(connectivity restored)--> IDLE
//	IDLE    --(tick or ForceSync)------> SYNCING
//	SYNCING --(upload, then download)--> IDLE
//	any     --(connectivity lost)------> OFFLINE
//
// Only one pass runs at a time; a tick while SYNCING is a no-op. Losing
// connectivity cancels the in-flight pass.
//
// PASS:
//
// Upload drains pending queue items by priority descending, then enqueue
// order ascending. Success marks the item synced. Failure increments its
// retry count; at MaxRetries the item parks as failed until an operator
// calls RetryFailed. A transient transport failure aborts the pass after
// recording the failure on the item that hit it.
//
// Download runs per watched entity type from that type's watermark. Absent
// records are inserted; a local record strictly newer than the remote one
// goes through the conflict Policy, otherwise the remote record wins.
//
// Errors never escape the periodic driver: they become queue state, pass
// results and audit entries. Time comes from an injected Clock and
// connectivity from an injected Probe, so every transition is testable
// without real timers or network.
package engine
