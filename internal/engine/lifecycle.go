package engine

import (
	"context"
	"time"

	"github.com/roach88/storesync/internal/record"
)

// SetConnectivity feeds a connectivity observation into the state machine.
//
// Going offline from any state cancels an in-flight pass. Coming online
// moves OFFLINE to IDLE. Returns true when the state changed.
func (e *Engine) SetConnectivity(ctx context.Context, online bool) bool {
	e.mu.Lock()
	from := e.state
	var to State
	switch {
	case online && from == StateOffline:
		to = StateIdle
	case !online && from != StateOffline:
		to = StateOffline
		if e.cancelPass != nil {
			e.cancelPass()
		}
	default:
		e.mu.Unlock()
		return false
	}
	e.state = to
	e.mu.Unlock()

	reason := "connectivity restored"
	if !online {
		reason = "connectivity lost"
	}
	e.transitioned(ctx, from, to, reason)
	return true
}

// Tick runs one pass if the engine is IDLE. It is what the periodic
// driver calls on every timer tick.
func (e *Engine) Tick(ctx context.Context) PassResult {
	return e.runPass(ctx, TriggerTimer)
}

// ForceSync runs a pass immediately. When the engine is OFFLINE and a probe
// is configured, connectivity is checked first.
func (e *Engine) ForceSync(ctx context.Context) PassResult {
	if e.State() == StateOffline && e.probe != nil {
		e.probeOnce(ctx)
	}
	return e.runPass(ctx, TriggerForced)
}

// Run drives the engine until ctx is cancelled: it probes connectivity on
// the probe interval, runs a pass on every sync interval and right after
// connectivity is restored. Passes run in their own goroutine so a slow
// pass never blocks probing; overlapping ticks are skipped.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("sync engine starting",
		"interval", e.interval,
		"probe_interval", e.probeInterval,
		"policy", e.policy,
		"watched", e.watched,
	)

	syncTicker := time.NewTicker(e.interval)
	defer syncTicker.Stop()

	var probeC <-chan time.Time
	if e.probe != nil {
		probeTicker := time.NewTicker(e.probeInterval)
		defer probeTicker.Stop()
		probeC = probeTicker.C
		if e.probeOnce(ctx) {
			e.goPass(ctx, TriggerReconnect)
		}
	} else {
		// No probe: assume the central authority is reachable and let
		// transport failures speak for themselves.
		e.SetConnectivity(ctx, true)
	}

	for {
		select {
		case <-ctx.Done():
			e.wg.Wait()
			e.logger.Info("sync engine stopped")
			return nil
		case <-probeC:
			if e.probeOnce(ctx) {
				e.goPass(ctx, TriggerReconnect)
			}
		case <-syncTicker.C:
			e.goPass(ctx, TriggerTimer)
		}
	}
}

// probeOnce pings the central authority and reports whether the engine just
// came back online.
func (e *Engine) probeOnce(ctx context.Context) bool {
	err := e.probe.Ping(ctx)
	if err != nil && ctx.Err() != nil {
		return false
	}
	if err != nil {
		e.logger.Debug("connectivity probe failed", "error", err)
	}
	return e.SetConnectivity(ctx, err == nil) && err == nil
}

func (e *Engine) goPass(ctx context.Context, trigger Trigger) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.runPass(ctx, trigger)
	}()
}

// transitioned logs and audits a state change.
func (e *Engine) transitioned(ctx context.Context, from, to State, reason string) {
	e.logger.Info("sync state changed", "from", from, "to", to, "reason", reason)
	e.audit(ctx, record.AuditEntry{
		Kind:    record.AuditPhase,
		Message: string(from) + " -> " + string(to),
		Detail:  map[string]any{"reason": reason},
	})
}
