package goGuard

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/goGuard/auditlog"
	"github.com/MrEthical07/goGuard/risk"
	"github.com/MrEthical07/goGuard/session"
)

// storeWrite runs write, retrying once after the configured backoff. A write
// that still fails is reported as a STORE_WRITE_FAILED security event and, when
// t is set, flags the session for Reconcile. Missing or inactive records are
// not retried.
func (e *Engine) storeWrite(ctx context.Context, t *tracked, view sessionView, op string, write func(context.Context) error) error {
	err := write(ctx)
	if err == nil || errors.Is(err, session.ErrNotFound) || errors.Is(err, session.ErrInactive) {
		return err
	}

	backoff := e.runtime().cfg.Security.StoreRetryBackoff
	if backoff > 0 {
		timer := time.NewTimer(backoff)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
		}
	}
	if err = write(context.WithoutCancel(ctx)); err == nil {
		return nil
	}

	e.metricInc(MetricStoreWriteFailure)
	e.logger.Warn("session store write failed", "op", op, "session_id", view.id, "err", err)
	if t != nil {
		t.mu.Lock()
		t.needsReconcile = true
		t.mu.Unlock()
	}
	e.emitSecurity(ctx, auditlog.SecurityEvent{
		UserID:            view.userID,
		EventType:         auditlog.EventStoreWriteFailed,
		Severity:          risk.Medium,
		IP:                view.ip,
		UserAgent:         view.userAgent,
		DeviceFingerprint: view.fingerprint,
		EventData: map[string]any{
			"op":         op,
			"session_id": view.id,
			"error":      err.Error(),
		},
	})
	return storeError(op, err)
}

// scheduleWrite queues a store update for t and wakes its monitor. The caller
// never waits on Redis. Once the monitor has exited the write runs inline.
func (e *Engine) scheduleWrite(t *tracked, deactivate bool) {
	t.mu.Lock()
	if deactivate {
		t.pendingDeactivate = true
	} else {
		t.pendingTouch = true
	}
	inline := t.writerDone || t.kick == nil
	t.mu.Unlock()

	if inline {
		e.flushStore(context.Background(), t)
		return
	}
	select {
	case t.kick <- struct{}{}:
	default:
	}
}

// retireWriter marks the monitor of t gone and drains what it left queued.
func (e *Engine) retireWriter(ctx context.Context, t *tracked) {
	t.mu.Lock()
	t.writerDone = true
	t.mu.Unlock()
	e.flushStore(ctx, t)
}

// flushStore writes the latest queued state of t. Writes for one session are
// serialized and always carry the newest in-memory state, so a slow write
// never lets an older activity overtake a newer one.
func (e *Engine) flushStore(ctx context.Context, t *tracked) {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	t.mu.Lock()
	touch, deactivate := t.pendingTouch, t.pendingDeactivate
	t.pendingTouch, t.pendingDeactivate = false, false
	terminal := t.state.Terminal()
	view := t.viewLocked()
	at, endedAt := t.lastActivity, t.endedAt
	t.mu.Unlock()

	switch {
	case deactivate:
		_ = e.storeWrite(ctx, t, view, "deactivate", func(ctx context.Context) error {
			_, err := e.store.Deactivate(ctx, view.id, view.reason, endedAt)
			return err
		})
	case touch && !terminal:
		err := e.storeWrite(ctx, t, view, "touch", func(ctx context.Context) error {
			return e.store.Touch(ctx, view.id, at, view.deadline.At, view.level)
		})
		switch {
		case errors.Is(err, session.ErrNotFound):
			t.mu.Lock()
			t.needsReconcile = true
			t.mu.Unlock()
		case errors.Is(err, session.ErrInactive):
			e.adoptRevocation(ctx, view.id)
		}
	}
}

// FlushStore writes every queued session store update now instead of waiting
// for the session monitors.
func (e *Engine) FlushStore(ctx context.Context) error {
	if e == nil {
		return ErrEngineNotReady
	}
	for _, t := range e.snapshotTracked() {
		if err := ctx.Err(); err != nil {
			return err
		}
		e.flushStore(ctx, t)
	}
	return nil
}

// background runs fn on a goroutine that Close waits for. Once the engine is
// closed fn runs inline.
func (e *Engine) background(fn func(context.Context)) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		fn(context.Background())
		return
	}
	e.wg.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.wg.Done()
		fn(context.Background())
	}()
}

// adoptRevocation closes a tracked session that the store already holds as
// inactive, keeping the store's reason.
func (e *Engine) adoptRevocation(ctx context.Context, sessionID string) {
	reason := session.ReasonLoggedOut
	if rec, err := e.store.Get(ctx, sessionID); err == nil && rec.LogoutReason != session.ReasonNone {
		reason = rec.LogoutReason
	}
	e.terminate(ctx, sessionID, stateForReason(reason), reason, false)
}

func stateForReason(reason session.LogoutReason) State {
	switch reason {
	case session.ReasonLoggedOut, session.ReasonEvicted:
		return StateLoggedOut
	default:
		return StateExpired
	}
}

// Reconcile re-pushes every session flagged after a failed store write and
// returns how many were written. Sessions that still fail stay flagged.
//
// An existing record is only ever advanced through the monotonic touch, so a
// revocation written by another process while the flag was set is adopted
// rather than overwritten. A missing record is recreated only if it is still
// missing when the write lands.
func (e *Engine) Reconcile(ctx context.Context) (int, error) {
	if e == nil {
		return 0, ErrEngineNotReady
	}

	var (
		done int
		errs []error
	)
	for _, t := range e.snapshotTracked() {
		ok, err := e.reconcile(ctx, t)
		if err != nil {
			errs = append(errs, storeError("reconcile", err))
			continue
		}
		if ok {
			done++
			e.metricInc(MetricReconciled)
		}
	}
	return done, errors.Join(errs...)
}

// reconcile pushes t if it is flagged. It reports whether a write was made.
func (e *Engine) reconcile(ctx context.Context, t *tracked) (bool, error) {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	t.mu.Lock()
	if !t.needsReconcile {
		t.mu.Unlock()
		return false, nil
	}
	rec := t.recordLocked()
	reason := t.reason
	endedAt := t.endedAt
	t.mu.Unlock()

	var err error
	if rec.Active {
		err = e.reconcileActive(ctx, rec)
	} else {
		_, err = e.store.Deactivate(ctx, rec.ID, reason, endedAt)
		if errors.Is(err, session.ErrNotFound) {
			err = e.restore(ctx, rec)
		}
	}

	revoked := errors.Is(err, session.ErrInactive)
	if err != nil && !revoked {
		return false, err
	}

	t.mu.Lock()
	t.needsReconcile = false
	t.mu.Unlock()

	if revoked {
		e.adoptRevocation(ctx, rec.ID)
		return false, nil
	}
	return true, nil
}

func (e *Engine) reconcileActive(ctx context.Context, rec *session.Session) error {
	err := e.store.Touch(ctx, rec.ID, rec.LastActivityAt, rec.ExpiresAt, rec.RiskLevel)
	if !errors.Is(err, session.ErrNotFound) {
		return err
	}
	return e.restore(ctx, rec)
}

// restore recreates rec when no record exists. If another writer got there
// first the existing record wins and is touched or deactivated instead.
func (e *Engine) restore(ctx context.Context, rec *session.Session) error {
	written, err := e.store.Restore(ctx, rec)
	if err != nil || written {
		return err
	}
	if !rec.Active {
		_, err = e.store.Deactivate(ctx, rec.ID, rec.LogoutReason, rec.DeactivatedAt)
		return err
	}
	return e.store.Touch(ctx, rec.ID, rec.LastActivityAt, rec.ExpiresAt, rec.RiskLevel)
}

// NeedsReconciliation reports whether sessionID has unsynchronised store state.
func (e *Engine) NeedsReconciliation(sessionID string) bool {
	t := e.lookup(sessionID)
	if t == nil {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.needsReconcile
}

// Sweep deactivates expired sessions store-wide once. Sessions this engine
// tracks are closed in memory too.
func (e *Engine) Sweep(ctx context.Context) (int, error) {
	if e == nil {
		return 0, ErrEngineNotReady
	}
	now := e.clock.Now()
	cfg := e.runtime().cfg

	ids, err := e.store.Sweep(ctx, now, cfg.Store.SweepBatch)
	for _, id := range ids {
		e.terminate(ctx, id, StateExpired, session.ReasonExpired, false)
	}
	e.metrics.Add(MetricSweepDeactivated, uint64(len(ids)))
	e.prune(now)
	if err != nil {
		return len(ids), storeError("sweep", err)
	}
	return len(ids), nil
}

// StartSweeper runs Sweep every Store.SweepInterval until the engine closes.
// Calling it more than once has no effect.
func (e *Engine) StartSweeper() {
	if e == nil {
		return
	}
	e.sweeperOnce.Do(func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.closed {
			return
		}
		e.wg.Add(1)
		go e.sweepLoop(e.runtime().cfg.Store.SweepInterval)
	})
}

func (e *Engine) sweepLoop(interval time.Duration) {
	defer e.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-e.done:
			return
		case <-ticker.C:
			n, err := e.Sweep(context.Background())
			if err != nil {
				e.logger.Warn("sweep failed", "deactivated", n, "err", err)
				continue
			}
			e.logger.Debug("sweep complete", "deactivated", n)
		}
	}
}
