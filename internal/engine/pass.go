package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/storesync/internal/record"
	"github.com/roach88/storesync/internal/transport"
)

// errAborted marks a phase that ended the pass early.
var errAborted = errors.New("pass aborted")

// runPass executes upload then download under the SYNCING state.
func (e *Engine) runPass(ctx context.Context, trigger Trigger) PassResult {
	result := PassResult{Trigger: trigger, StartedAt: e.clock.Now()}

	e.mu.Lock()
	switch {
	case e.state == StateOffline:
		e.mu.Unlock()
		result.Skipped = SkipOffline
		return result
	case e.running:
		// Includes a cancelled pass that has not returned yet.
		e.mu.Unlock()
		result.Skipped = SkipAlreadySyncing
		return result
	}
	passCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	e.running = true
	e.state = StateSyncing
	e.cancelPass = cancel
	e.mu.Unlock()

	e.transitioned(ctx, StateIdle, StateSyncing, string(trigger))

	if err := e.upload(passCtx, &result); err == nil {
		e.download(passCtx, &result)
	}
	result.FinishedAt = e.clock.Now()

	e.mu.Lock()
	e.running = false
	e.cancelPass = nil
	finished := e.state == StateSyncing
	if finished {
		e.state = StateIdle
	}
	if !result.Aborted {
		e.lastSyncAt = result.FinishedAt
	}
	last := result
	e.lastPass = &last
	e.mu.Unlock()

	if finished {
		e.transitioned(ctx, StateSyncing, StateIdle, "pass complete")
	}

	e.logger.Info("sync pass finished",
		"trigger", trigger,
		"uploaded", result.Uploaded,
		"retrying", result.Retrying,
		"parked", result.Parked,
		"inserted", result.Inserted,
		"updated", result.Updated,
		"conflicts", result.Conflicts,
		"aborted", result.Aborted,
		"elapsed", result.FinishedAt.Sub(result.StartedAt),
	)
	return result
}

// upload drains the pending queue. Returns errAborted when the pass must stop.
func (e *Engine) upload(ctx context.Context, result *PassResult) error {
	// Bookkeeping writes survive a cancelled pass so queue state stays exact.
	bctx := context.WithoutCancel(ctx)

	items, err := e.store.PendingItems(ctx)
	if err != nil {
		return e.abort(ctx, result, fmt.Errorf("read pending items: %w", err))
	}

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return e.abort(ctx, result, err)
		}

		pushErr := e.push(ctx, item)
		if pushErr == nil {
			if err := e.store.MarkSynced(bctx, item.ID, e.clock.Now()); err != nil {
				return e.abort(ctx, result, fmt.Errorf("mark synced: %w", err))
			}
			result.Uploaded++
			continue
		}

		// Cancellation from connectivity loss is not the item's fault.
		if ctx.Err() != nil {
			return e.abort(ctx, result, pushErr)
		}

		status, err := e.store.RecordFailure(bctx, item.ID, pushErr.Error())
		if err != nil {
			return e.abort(ctx, result, fmt.Errorf("record failure: %w", err))
		}
		if status == record.StatusFailed {
			result.Parked++
			e.logger.Warn("sync item parked as failed",
				"id", item.ID,
				"entity_type", item.EntityType,
				"record_id", item.RecordID,
				"retries", item.RetryCount+1,
				"error", pushErr,
			)
			e.audit(ctx, record.AuditEntry{
				Kind:       record.AuditQueue,
				EntityType: item.EntityType,
				RecordID:   item.RecordID,
				Message:    "item parked as failed",
				Detail:     map[string]any{"item_id": item.ID, "error": pushErr.Error()},
			})
		} else {
			result.Retrying++
		}

		if transport.IsTransient(pushErr) {
			return e.abort(ctx, result, pushErr)
		}
	}

	e.audit(ctx, record.AuditEntry{
		Kind:    record.AuditPhase,
		Message: "upload complete",
		Detail: map[string]any{
			"uploaded": result.Uploaded,
			"retrying": result.Retrying,
			"parked":   result.Parked,
		},
	})
	return nil
}

func (e *Engine) push(ctx context.Context, item record.QueueItem) error {
	switch item.Operation {
	case record.OpCreate:
		return e.remote.Create(ctx, item.EntityType, item.Payload)
	case record.OpUpdate:
		return e.remote.Update(ctx, item.EntityType, item.RecordID, item.Payload)
	case record.OpDelete:
		return e.remote.Delete(ctx, item.EntityType, item.RecordID)
	}
	return &SyncError{
		Code:       ErrCodeInvalidOperation,
		Message:    fmt.Sprintf("unsupported operation %q", item.Operation),
		EntityType: item.EntityType,
		RecordID:   item.RecordID,
	}
}

// download pulls deltas for every watched type.
func (e *Engine) download(ctx context.Context, result *PassResult) {
	for _, entityType := range e.watched {
		if err := ctx.Err(); err != nil {
			_ = e.abort(ctx, result, err)
			return
		}

		err := e.downloadType(ctx, entityType, result)
		if err == nil {
			continue
		}
		if transport.IsTransient(err) || ctx.Err() != nil {
			_ = e.abort(ctx, result, err)
			return
		}

		// Rejected or malformed: skip this type, keep its watermark.
		if result.TypeErrors == nil {
			result.TypeErrors = make(map[string]string)
		}
		result.TypeErrors[entityType] = err.Error()
		e.logger.Warn("download failed for entity type", "entity_type", entityType, "error", err)
	}

	e.audit(ctx, record.AuditEntry{
		Kind:    record.AuditPhase,
		Message: "download complete",
		Detail: map[string]any{
			"inserted":  result.Inserted,
			"updated":   result.Updated,
			"unchanged": result.Unchanged,
			"conflicts": result.Conflicts,
		},
	})
}

// downloadType applies one page of remote deltas and advances the watermark.
func (e *Engine) downloadType(ctx context.Context, entityType string, result *PassResult) error {
	started := e.clock.Now()

	since, err := e.store.LastSyncTime(ctx, entityType)
	if err != nil {
		return err
	}

	docs, err := e.remote.FetchModifiedSince(ctx, entityType, since, e.downloadLimit)
	if err != nil {
		return err
	}

	var newest time.Time
	for _, doc := range docs {
		remote, err := record.FromWire(entityType, doc, record.SourceLocal)
		if err != nil {
			e.logger.Warn("skipping malformed remote record", "entity_type", entityType, "error", err)
			continue
		}
		if remote.LastModified.IsZero() {
			remote.LastModified = started
		}
		if remote.LastModified.After(newest) {
			newest = remote.LastModified
		}
		if err := e.apply(ctx, remote, result); err != nil {
			return err
		}
	}

	// A full page may have more behind it: resume from the newest record
	// seen rather than skipping past the remainder.
	watermark := started
	if e.downloadLimit > 0 && len(docs) >= e.downloadLimit && !newest.IsZero() {
		watermark = newest
	}
	return e.store.SetLastSyncTime(context.WithoutCancel(ctx), entityType, watermark)
}

// apply reconciles one inbound record with the local store.
func (e *Engine) apply(ctx context.Context, remote record.Record, result *PassResult) error {
	local, found, err := e.store.Get(ctx, remote.Type, remote.ID)
	if err != nil {
		return err
	}
	if !found {
		if err := e.store.Upsert(ctx, remote); err != nil {
			return err
		}
		result.Inserted++
		return nil
	}

	if !local.LastModified.After(remote.LastModified) {
		if local.LastModified.Equal(remote.LastModified) && record.SameContent(local.Fields, remote.Fields) {
			result.Unchanged++
			return nil
		}
		if err := e.store.Upsert(ctx, remote); err != nil {
			return err
		}
		result.Updated++
		return nil
	}

	return e.resolveConflict(ctx, local, remote, result)
}

func (e *Engine) resolveConflict(ctx context.Context, local, remote record.Record, result *PassResult) error {
	res, err := Resolve(e.policy, local, remote, e.clock.Now())
	if err != nil {
		return err
	}
	if !res.Store && !res.Reenqueue {
		return NewConflictUnresolvedError(e.policy, local.Type, local.ID)
	}

	if res.Store {
		if err := e.store.Upsert(ctx, res.Record); err != nil {
			return err
		}
	}
	if res.Reenqueue {
		if _, err := e.Enqueue(ctx, local.Type, local.ID, record.OpUpdate, local.Wire()); err != nil {
			return err
		}
	}
	result.Conflicts++

	e.logger.Info("conflict resolved",
		"entity_type", local.Type,
		"record_id", local.ID,
		"policy", e.policy,
		"local_modified", local.LastModified,
		"remote_modified", remote.LastModified,
	)
	e.audit(ctx, record.AuditEntry{
		Kind:       record.AuditConflict,
		EntityType: local.Type,
		RecordID:   local.ID,
		Message:    "conflict resolved with " + string(e.policy),
		Detail: map[string]any{
			"policy":          string(e.policy),
			"local_modified":  record.FormatTime(local.LastModified),
			"remote_modified": record.FormatTime(remote.LastModified),
			"reenqueued":      res.Reenqueue,
		},
	})
	return nil
}

// abort records why the pass stopped early.
func (e *Engine) abort(ctx context.Context, result *PassResult, cause error) error {
	result.Aborted = true
	result.Err = cause.Error()
	e.logger.Warn("sync pass aborted", "trigger", result.Trigger, "error", cause)
	e.audit(ctx, record.AuditEntry{
		Kind:    record.AuditPhase,
		Message: "pass aborted",
		Detail:  map[string]any{"error": cause.Error()},
	})
	return errAborted
}
