package goGuard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/goGuard/auditlog"
	"github.com/MrEthical07/goGuard/fingerprint"
	"github.com/MrEthical07/goGuard/jwt"
	"github.com/MrEthical07/goGuard/risk"
	"github.com/MrEthical07/goGuard/session"
)

func terminalError(state State) error {
	if state == StateExpired {
		return ErrSessionExpired
	}
	return ErrSessionTerminated
}

func reauth(err error) error {
	if errors.Is(err, ErrReauthenticationRequired) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrReauthenticationRequired, err)
}

// lockLive locks t and checks it is still usable at now. When t is past its
// deadline it is expired here and ErrSessionExpired is returned. On success
// the caller owns t.mu.
func (e *Engine) lockLive(ctx context.Context, t *tracked, now time.Time) error {
	t.mu.Lock()
	if t.state.Terminal() {
		state := t.state
		t.mu.Unlock()
		return terminalError(state)
	}
	if !now.Before(t.deadline.At) {
		t.endLocked(StateExpired, session.ReasonExpired, now)
		view := t.viewLocked()
		t.mu.Unlock()
		e.finishTerminal(ctx, t, view, true)
		return ErrSessionExpired
	}
	return nil
}

// TrackActivity records that the session performed action. The action's risk
// level is ratcheted into the session and the idle deadline is recomputed from
// the later of the previous activity and now. Any warning or dismissal is
// cleared.
//
// Unknown actions count as MEDIUM. Errors are returned only for unknown,
// expired or terminated sessions; store failures are handled internally.
func (e *Engine) TrackActivity(ctx context.Context, sessionID, action string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	t := e.lookup(sessionID)
	if t == nil {
		return ErrSessionNotFound
	}
	rt := e.runtime()
	level := rt.classifier.Classify(action)
	now := e.clock.Now()

	if err := e.lockLive(ctx, t, now); err != nil {
		return err
	}
	t.advanceLocked(rt.policy, level, now)
	t.mu.Unlock()

	e.scheduleWrite(t, false)
	return nil
}

// DismissWarning hides a visible warning until Monitor.RenotifyAfter has
// passed, capped at the deadline. The deadline itself never moves.
func (e *Engine) DismissWarning(ctx context.Context, sessionID string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	t := e.lookup(sessionID)
	if t == nil {
		return ErrSessionNotFound
	}
	now := e.clock.Now()

	if err := e.lockLive(ctx, t, now); err != nil {
		return err
	}
	if t.state != StateWarning && !warningVisible(now, t.deadline, t.dismissedUntil) {
		t.mu.Unlock()
		return nil
	}
	until := now.Add(e.runtime().cfg.Monitor.RenotifyAfter)
	if until.After(t.deadline.At) {
		until = t.deadline.At
	}
	t.dismissedUntil = until
	t.warnedGen = t.generation
	t.state = StateAuthenticated
	view := t.viewLocked()
	t.mu.Unlock()

	e.metricInc(MetricWarningDismissed)
	e.emitSessionAudit(ctx, view, auditActionWarningDismiss, true, "", map[string]any{
		"dismissed_until": until.UTC().Format(time.RFC3339),
	})
	return nil
}

// ExtendSession refreshes the session with its held refresh token and resets
// the deadline to now plus the effective timeout. minutes is recorded for the
// audit trail but never extends the deadline beyond the policy.
//
// If the refresh is rejected the session is expired and the returned error
// matches ErrReauthenticationRequired.
func (e *Engine) ExtendSession(ctx context.Context, sessionID string, minutes int) (*ExtendResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	t := e.lookup(sessionID)
	if t == nil {
		return nil, ErrSessionNotFound
	}
	now := e.clock.Now()

	if err := e.lockLive(ctx, t, now); err != nil {
		return nil, err
	}
	token := t.refreshToken
	fp := t.fingerprint
	t.extendMinutes = minutes
	t.mu.Unlock()

	access, err := e.refresh(ctx, token, fp, auditActionExtend)
	if err != nil {
		if errors.Is(err, ErrRefreshRateLimited) {
			return nil, err
		}
		e.terminate(ctx, sessionID, StateExpired, session.ReasonRefreshFailed, true)
		return nil, reauth(err)
	}

	t.mu.Lock()
	view := t.viewLocked()
	t.mu.Unlock()

	e.metricInc(MetricSessionExtended)
	e.emitSessionAudit(ctx, view, auditActionExtend, true, "", map[string]any{
		"requested_minutes": minutes,
		"deadline":          view.deadline.At.UTC().Format(time.RFC3339),
	})

	return &ExtendResult{
		AccessToken:      access,
		Deadline:         view.deadline.At,
		RequestedMinutes: minutes,
	}, nil
}

// Refresh mints a new access token from refreshToken for the device described
// by signals. The store record must still be active, so revocation by another
// process is honoured. Concurrent refreshes of one session share one result.
func (e *Engine) Refresh(ctx context.Context, refreshToken string, signals fingerprint.Signals) (string, error) {
	if e == nil {
		return "", ErrEngineNotReady
	}
	return e.refresh(ctx, refreshToken, fingerprint.Derive(signals), auditActionRefresh)
}

func (e *Engine) refresh(ctx context.Context, token, fp, action string) (string, error) {
	rt := e.runtime()
	claims, err := rt.tokens.VerifyRefresh(token, fp)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		if errors.Is(err, jwt.ErrDeviceMismatch) && claims != nil {
			e.handleDeviceMismatch(ctx, action, claims.UserID, claims.SessionID, claims.DeviceFingerprint, fp)
			return "", authError(err)
		}
		e.emitAuthFailure(ctx, action, "", "", fp, risk.Medium, authError(err))
		return "", authError(err)
	}

	extend := action == auditActionExtend
	v, err, _ := e.flight.Do(action+":"+claims.SessionID, func() (interface{}, error) {
		return e.mint(ctx, rt, claims, token, extend)
	})
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		e.emitAuthFailure(ctx, action, claims.UserID, claims.SessionID, fp, risk.Medium, err)
		return "", err
	}
	return v.(string), nil
}

// mint issues a new access token for a live session. A plain refresh is not
// user activity and leaves the idle deadline alone, so a background token
// renewer cannot keep an idle session open. With extend set the session is
// advanced as if it had just been used.
func (e *Engine) mint(ctx context.Context, rt *runtime, claims *jwt.RefreshClaims, refreshToken string, extend bool) (string, error) {
	now := e.clock.Now()
	sid := claims.SessionID

	if !e.throttle.Allow(sid, now) {
		e.metricInc(MetricRefreshRateLimited)
		return "", ErrRefreshRateLimited
	}

	t := e.lookup(sid)
	rec, err := e.store.Get(ctx, sid)
	switch {
	case err == nil:
	case errors.Is(err, session.ErrNotFound) && t != nil && e.NeedsReconciliation(sid):
		// The create never reached the store; the engine copy is authoritative.
		rec = nil
	case errors.Is(err, session.ErrNotFound):
		e.terminate(ctx, sid, StateExpired, session.ReasonRefreshFailed, false)
		return "", reauth(ErrSessionNotFound)
	default:
		return "", storeError("get", err)
	}

	if rec != nil {
		if rec.UserID != claims.UserID {
			return "", authError(jwt.ErrBadSignature)
		}
		if !rec.Active {
			e.terminate(ctx, sid, stateForReason(rec.LogoutReason), rec.LogoutReason, false)
			return "", reauth(ErrSessionTerminated)
		}
	}

	if t == nil {
		if rec.Expired(now) {
			if _, err := e.store.DeactivateIfExpired(ctx, sid, now); err != nil {
				e.logger.Warn("expire untracked session failed", "op", "deactivate", "session_id", sid, "err", err)
			}
			return "", reauth(ErrSessionExpired)
		}
		if t, err = e.adopt(rec, refreshToken); err != nil {
			return "", err
		}
	}

	if err := e.lockLive(ctx, t, now); err != nil {
		return "", reauth(err)
	}
	if extend {
		t.advanceLocked(rt.policy, t.level, now)
	}
	payload := t.accessPayload()
	view := t.viewLocked()
	t.mu.Unlock()

	access, err := rt.tokens.IssueAccess(payload)
	if err != nil {
		return "", err
	}
	if extend {
		e.scheduleWrite(t, false)
	}

	e.metricInc(MetricRefreshSuccess)
	e.emitSessionAudit(ctx, view, auditActionRefresh, true, "", nil)
	return access, nil
}

// adopt starts tracking a live store record presented with a valid refresh
// token, typically after a process restart.
func (e *Engine) adopt(rec *session.Session, refreshToken string) (*tracked, error) {
	if existing := e.lookup(rec.ID); existing != nil {
		return existing, nil
	}
	level := rec.RiskLevel
	if !level.Valid() {
		level = risk.Medium
	}
	t := &tracked{
		id:           rec.ID,
		userID:       rec.UserID,
		fingerprint:  rec.DeviceFingerprint,
		ip:           rec.IPAddress,
		userAgent:    rec.UserAgent,
		createdAt:    rec.CreatedAt,
		state:        StateAuthenticated,
		level:        level,
		lastActivity: rec.LastActivityAt,
		refreshToken: refreshToken,
		kick:         make(chan struct{}, 1),
		stop:         make(chan struct{}),
	}
	t.deadline = e.runtime().policy.NextDeadline(rec.LastActivityAt, level)
	if rec.ExpiresAt.Before(t.deadline.At) {
		t.deadline.At = rec.ExpiresAt
	}
	t.generation = 1
	if err := e.track(t); err != nil {
		return nil, err
	}
	return t, nil
}

// Authenticate is the API-boundary check for an access token presented from
// the device described by signals. It verifies the token, then requires the
// session to be live in this engine and within its deadline.
//
// A device mismatch revokes the session and records one HIGH security event.
// Every failure matches ErrReauthenticationRequired.
func (e *Engine) Authenticate(ctx context.Context, accessToken string, signals fingerprint.Signals) (*jwt.AccessClaims, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	start := time.Now()
	defer func() { e.metrics.Observe(MetricAuthenticateLatency, time.Since(start)) }()

	fp := fingerprint.Derive(signals)
	claims, err := e.runtime().tokens.VerifyAccess(accessToken, fp)
	if err != nil {
		if errors.Is(err, jwt.ErrDeviceMismatch) && claims != nil {
			e.handleDeviceMismatch(ctx, auditActionAuthenticate, claims.UserID, claims.SessionID, claims.DeviceFingerprint, fp)
			return nil, authError(err)
		}
		e.emitAuthFailure(ctx, auditActionAuthenticate, "", "", fp, risk.Medium, authError(err))
		return nil, authError(err)
	}

	t := e.lookup(claims.SessionID)
	if t == nil || t.userID != claims.UserID {
		e.emitAuthFailure(ctx, auditActionAuthenticate, claims.UserID, claims.SessionID, fp, risk.Medium, ErrSessionNotFound)
		return nil, reauth(ErrSessionNotFound)
	}

	if err := e.lockLive(ctx, t, e.clock.Now()); err != nil {
		e.emitAuthFailure(ctx, auditActionAuthenticate, claims.UserID, claims.SessionID, fp, risk.Medium, err)
		return nil, reauth(err)
	}
	t.mu.Unlock()

	return claims, nil
}

// handleDeviceMismatch revokes sessionID. The HIGH security event is written
// only by the call that performs the revocation; replaying the token against
// an already revoked session records a MEDIUM follow-up event instead.
// Store writes for the revocation never run on the caller's goroutine.
func (e *Engine) handleDeviceMismatch(ctx context.Context, action, userID, sessionID, expected, presented string) {
	mismatch := auditlog.SecurityEvent{
		UserID:            userID,
		DeviceFingerprint: presented,
		EventData: map[string]any{
			"session_id": sessionID,
			"expected":   expected,
			"presented":  presented,
			"action":     action,
		},
	}

	if t := e.lookup(sessionID); t != nil {
		t.mu.Lock()
		level := t.level
		t.mu.Unlock()
		revoked := e.terminate(ctx, sessionID, StateExpired, session.ReasonDeviceMismatch, true)
		e.emitMismatch(ctx, mismatch, revoked)
		e.emitAuthFailure(ctx, action, userID, sessionID, presented, level, &AuthError{Code: AuthDeviceMismatch, Err: jwt.ErrDeviceMismatch})
		return
	}

	e.emitAuthFailure(ctx, action, userID, sessionID, presented, risk.High, &AuthError{Code: AuthDeviceMismatch, Err: jwt.ErrDeviceMismatch})
	now := e.clock.Now()
	e.background(func(ctx context.Context) {
		ok, err := e.store.Deactivate(ctx, sessionID, session.ReasonDeviceMismatch, now)
		switch {
		case errors.Is(err, session.ErrNotFound):
			return
		case err != nil:
			e.logger.Warn("device mismatch revoke failed", "op", "deactivate", "session_id", sessionID, "err", err)
			return
		}
		if ok {
			e.metricInc(MetricDeviceMismatch)
		}
		e.emitMismatch(ctx, mismatch, ok)
	})
}

func (e *Engine) emitMismatch(ctx context.Context, ev auditlog.SecurityEvent, revoked bool) {
	if revoked {
		ev.EventType = auditlog.EventDeviceMismatch
		ev.Severity = risk.High
	} else {
		ev.EventType = auditlog.EventRevokedReplay
		ev.Severity = risk.Medium
	}
	e.emitSecurity(ctx, ev)
}
