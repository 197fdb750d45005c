package goGuard

import (
	"context"
	"sync"
	"time"

	"github.com/MrEthical07/goGuard/policy"
	"github.com/MrEthical07/goGuard/risk"
	"github.com/MrEthical07/goGuard/session"
)

// tracked is the in-memory state of one session. All fields below mu are
// guarded by it.
type tracked struct {
	id          string
	userID      string
	email       string
	role        string
	fingerprint string
	ip          string
	userAgent   string
	createdAt   time.Time

	mu             sync.Mutex
	state          State
	level          risk.Level
	lastActivity   time.Time
	deadline       policy.Deadline
	generation     uint64
	warnedGen      uint64
	dismissedUntil time.Time
	refreshToken   string
	reason         session.LogoutReason
	endedAt        time.Time
	needsReconcile bool
	extendMinutes  int

	// Store writes queued by request paths, drained by the monitor goroutine.
	pendingTouch      bool
	pendingDeactivate bool
	writerDone        bool

	writeMu  sync.Mutex
	kick     chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
}

// sessionView is an immutable copy of a tracked session used for audit and
// store writes outside the lock.
type sessionView struct {
	id          string
	userID      string
	email       string
	fingerprint string
	ip          string
	userAgent   string
	state       State
	level       risk.Level
	deadline    policy.Deadline
	reason      session.LogoutReason
}

func (t *tracked) viewLocked() sessionView {
	return sessionView{
		id:          t.id,
		userID:      t.userID,
		email:       t.email,
		fingerprint: t.fingerprint,
		ip:          t.ip,
		userAgent:   t.userAgent,
		state:       t.state,
		level:       t.level,
		deadline:    t.deadline,
		reason:      t.reason,
	}
}

// recordLocked renders the store record for t.
func (t *tracked) recordLocked() *session.Session {
	rec := &session.Session{
		ID:                t.id,
		UserID:            t.userID,
		DeviceFingerprint: t.fingerprint,
		IPAddress:         t.ip,
		UserAgent:         t.userAgent,
		CreatedAt:         t.createdAt,
		LastActivityAt:    t.lastActivity,
		ExpiresAt:         t.deadline.At,
		Active:            !t.state.Terminal(),
		LogoutReason:      t.reason,
		RiskLevel:         t.level,
	}
	if t.state.Terminal() {
		rec.DeactivatedAt = t.endedAt
	}
	return rec
}

// advanceLocked records activity at now with level and moves the deadline.
// It never moves lastActivity backwards and only ever ratchets risk up.
func (t *tracked) advanceLocked(pol *policy.Policy, level risk.Level, now time.Time) {
	t.level = t.level.Stricter(level)
	if now.After(t.lastActivity) {
		t.lastActivity = now
	}
	t.deadline = pol.NextDeadline(t.lastActivity, t.level)
	t.generation++
	t.state = StateAuthenticated
	t.dismissedUntil = time.Time{}
}

// endLocked moves t to a terminal state. It reports false when t already was terminal.
func (t *tracked) endLocked(state State, reason session.LogoutReason, now time.Time) bool {
	if t.state.Terminal() {
		return false
	}
	t.state = state
	t.reason = reason
	t.endedAt = now
	t.generation++
	t.refreshToken = ""
	t.dismissedUntil = time.Time{}
	return true
}

func (t *tracked) statusLocked(now time.Time) SessionStatus {
	st := SessionStatus{
		State:     t.state,
		RiskLevel: t.level,
		Deadline:  t.deadline.At,
	}
	if t.state.Terminal() {
		return st
	}
	if !now.Before(t.deadline.At) {
		st.State = StateExpired
		return st
	}
	st.TimeRemaining = t.deadline.At.Sub(now)
	st.WarningVisible = warningVisible(now, t.deadline, t.dismissedUntil)
	if st.WarningVisible {
		st.State = StateWarning
	} else {
		st.State = StateAuthenticated
	}
	return st
}

func (t *tracked) stopMonitor() {
	t.stopOnce.Do(func() { close(t.stop) })
}

func warningVisible(now time.Time, d policy.Deadline, dismissedUntil time.Time) bool {
	if now.Before(d.WarnAt()) || !now.Before(d.At) {
		return false
	}
	return dismissedUntil.IsZero() || !now.Before(dismissedUntil)
}

type transitionKind uint8

const (
	transitionNone transitionKind = iota
	transitionExpire
	transitionWarn
	transitionRenotify
)

func decideTransition(now time.Time, d policy.Deadline, state State, warned bool, dismissedUntil time.Time) transitionKind {
	switch {
	case state.Terminal():
		return transitionNone
	case !now.Before(d.At):
		return transitionExpire
	case !now.Before(d.WarnAt()) && !warned:
		return transitionWarn
	case state == StateAuthenticated && !dismissedUntil.IsZero() && !now.Before(dismissedUntil):
		return transitionRenotify
	default:
		return transitionNone
	}
}

// track registers t and starts its monitor.
func (e *Engine) track(t *tracked) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrEngineNotReady
	}
	e.sessions[t.id] = t
	e.wg.Add(1)
	go e.monitor(t)
	return nil
}

// monitor drives the timed transitions of t and writes its queued store
// updates. Pending writes are flushed before it returns.
func (e *Engine) monitor(t *tracked) {
	defer e.wg.Done()

	interval := e.runtime().cfg.Monitor.TickInterval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	ctx := context.Background()
	for {
		select {
		case <-e.done:
			e.retireWriter(ctx, t)
			return
		case <-t.stop:
			e.retireWriter(ctx, t)
			return
		case <-t.kick:
			e.flushStore(ctx, t)
		case <-ticker.C:
			e.evaluate(ctx, t, e.clock.Now())
			if next := e.runtime().cfg.Monitor.TickInterval; next != interval {
				interval = next
				ticker.Reset(interval)
			}
		}
	}
}

// Tick evaluates every tracked session at the engine clock's now, exactly as
// the monitors would, and prunes terminal sessions past their grace period.
func (e *Engine) Tick(ctx context.Context) {
	if e == nil {
		return
	}
	now := e.clock.Now()
	for _, t := range e.snapshotTracked() {
		e.evaluate(ctx, t, now)
	}
	e.prune(now)
}

// evaluate applies at most one transition to t. The decision is taken on a
// snapshot and applied only if the session generation has not moved since.
func (e *Engine) evaluate(ctx context.Context, t *tracked, now time.Time) {
	t.mu.Lock()
	gen := t.generation
	kind := decideTransition(now, t.deadline, t.state, t.warnedGen == gen, t.dismissedUntil)
	t.mu.Unlock()

	if kind == transitionNone {
		return
	}

	t.mu.Lock()
	if t.generation != gen || t.state.Terminal() {
		t.mu.Unlock()
		return
	}
	switch kind {
	case transitionExpire:
		t.endLocked(StateExpired, session.ReasonExpired, now)
	case transitionWarn:
		t.state = StateWarning
		t.warnedGen = gen
		t.dismissedUntil = time.Time{}
	case transitionRenotify:
		t.state = StateWarning
		t.dismissedUntil = time.Time{}
	}
	view := t.viewLocked()
	t.mu.Unlock()

	switch kind {
	case transitionExpire:
		e.finishTerminal(ctx, t, view, true)
	case transitionWarn, transitionRenotify:
		e.notifyWarning(ctx, view, now, kind == transitionRenotify)
	}
}

func (e *Engine) notifyWarning(ctx context.Context, view sessionView, now time.Time, renotify bool) {
	e.metricInc(MetricWarningShown)
	e.emitSessionAudit(ctx, view, auditActionWarningShown, true, "", map[string]any{
		"deadline": view.deadline.At.UTC().Format(time.RFC3339),
		"window":   view.deadline.Window.Name,
		"renotify": renotify,
	})
	if e.onWarning == nil {
		return
	}
	e.onWarning(WarningNotice{
		SessionID:     view.id,
		UserID:        view.userID,
		Deadline:      view.deadline.At,
		TimeRemaining: view.deadline.At.Sub(now),
		RiskLevel:     view.level,
		Renotify:      renotify,
	})
}

// finishTerminal runs the side effects of a terminal transition: the store
// deactivation is queued, the monitor stops and the transition is audited.
// writeStore is false when the store already holds the terminal state.
func (e *Engine) finishTerminal(ctx context.Context, t *tracked, view sessionView, writeStore bool) {
	if writeStore {
		e.scheduleWrite(t, true)
	}
	t.stopMonitor()
	e.throttle.Forget(view.id)

	switch view.reason {
	case session.ReasonExpired:
		e.metricInc(MetricSessionExpired)
		e.emitSessionAudit(ctx, view, auditActionSessionExpired, false, string(session.ReasonExpired), map[string]any{
			"deadline": view.deadline.At.UTC().Format(time.RFC3339),
			"window":   view.deadline.Window.Name,
		})
	case session.ReasonLoggedOut:
		e.metricInc(MetricLogout)
		e.emitSessionAudit(ctx, view, auditActionLogout, true, "", nil)
	case session.ReasonEvicted:
		e.metricInc(MetricSessionEvicted)
		e.emitSessionAudit(ctx, view, auditActionSessionEvicted, false, string(session.ReasonEvicted), nil)
	case session.ReasonRefreshFailed:
		e.emitSessionAudit(ctx, view, auditActionSessionExpired, false, string(session.ReasonRefreshFailed), nil)
	case session.ReasonDeviceMismatch:
		e.metricInc(MetricDeviceMismatch)
	}
}

// terminate ends sessionID with reason if the engine tracks it. It reports
// whether this call performed the transition.
func (e *Engine) terminate(ctx context.Context, sessionID string, state State, reason session.LogoutReason, writeStore bool) bool {
	t := e.lookup(sessionID)
	if t == nil {
		return false
	}
	now := e.clock.Now()

	t.mu.Lock()
	ok := t.endLocked(state, reason, now)
	view := t.viewLocked()
	t.mu.Unlock()

	if ok {
		e.finishTerminal(ctx, t, view, writeStore)
	}
	return ok
}
