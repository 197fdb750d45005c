package goGuard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/goGuard/auditlog"
	"github.com/MrEthical07/goGuard/fingerprint"
	"github.com/MrEthical07/goGuard/internal/rate"
	"github.com/MrEthical07/goGuard/jwt"
	"github.com/MrEthical07/goGuard/risk"
	"github.com/MrEthical07/goGuard/session"
	"github.com/google/uuid"
)

// Login authenticates email with credentialProof and opens a session bound to
// the device described by signals. The caller's IP and User-Agent are read
// from ctx (see WithClientIP, WithUserAgent).
//
// Unknown users and wrong passwords both return ErrInvalidCredentials and
// count against the login throttle.
func (e *Engine) Login(ctx context.Context, email, credentialProof string, signals fingerprint.Signals) (*LoginResult, error) {
	if e == nil || e.users == nil || e.hasher == nil {
		return nil, ErrEngineNotReady
	}
	ip := clientIPFromContext(ctx)
	userAgent := userAgentFromContext(ctx)
	if userAgent == "" {
		userAgent = signals.UserAgent
	}
	fp := fingerprint.Derive(signals)

	if err := e.limiter.CheckLogin(ctx, email, ip); err != nil {
		if errors.Is(err, rate.ErrRateLimited) {
			return nil, e.loginRateLimited(ctx, email, "", fp)
		}
		e.metricInc(MetricLoginFailure)
		return nil, &StoreError{Code: StoreUnavailable, Op: "login_throttle", Err: err}
	}

	if credentialProof == "" {
		return nil, e.rejectLogin(ctx, email, "", fp, "empty_password")
	}

	user, err := e.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, e.rejectLogin(ctx, email, "", fp, "user_not_found")
		}
		e.metricInc(MetricLoginFailure)
		e.emitLoginFailure(ctx, email, "", fp, ErrUserProvider, "user_provider")
		return nil, fmt.Errorf("%w: %v", ErrUserProvider, err)
	}

	ok, err := e.hasher.Verify(credentialProof, user.PasswordHash)
	if err != nil || !ok {
		return nil, e.rejectLogin(ctx, email, user.UserID, fp, "password_mismatch")
	}
	if user.Disabled {
		e.metricInc(MetricLoginFailure)
		e.emitLoginFailure(ctx, email, user.UserID, fp, ErrAccountDisabled, "account_disabled")
		return nil, ErrAccountDisabled
	}

	if err := e.limiter.ResetLogin(ctx, email); err != nil {
		e.logger.Warn("login throttle reset failed", "op", "reset_login", "err", err)
	}
	e.upgradePassword(ctx, user, credentialProof)
	credentialProof = ""

	rt := e.runtime()
	now := e.clock.Now()

	evicted := e.enforceConcurrencyLimit(ctx, user.UserID, rt.cfg.Session.MaxConcurrentSessions)

	level := rt.classifier.Classify(auditActionLogin)
	t := &tracked{
		id:          uuid.NewString(),
		userID:      user.UserID,
		email:       user.Email,
		role:        user.Role,
		fingerprint: fp,
		ip:          ip,
		userAgent:   userAgent,
		createdAt:   now,
		level:       level,
		kick:        make(chan struct{}, 1),
		stop:        make(chan struct{}),
	}
	t.advanceLocked(rt.policy, level, now)

	refreshToken, err := rt.tokens.IssueRefresh(jwt.RefreshPayload{
		UserID:            t.userID,
		SessionID:         t.id,
		DeviceFingerprint: fp,
	})
	if err != nil {
		e.metricInc(MetricLoginFailure)
		return nil, err
	}
	accessToken, err := rt.tokens.IssueAccess(t.accessPayload())
	if err != nil {
		e.metricInc(MetricLoginFailure)
		return nil, err
	}
	t.refreshToken = refreshToken

	view := t.viewLocked()
	rec := t.recordLocked()
	_ = e.storeWrite(ctx, t, view, "create", func(ctx context.Context) error {
		return e.store.Create(ctx, rec)
	})

	if err := e.track(t); err != nil {
		return nil, err
	}

	e.metricInc(MetricLoginSuccess)
	e.metricInc(MetricSessionCreated)
	e.emitSessionAudit(ctx, view, auditActionLogin, true, "", map[string]any{
		"deadline": view.deadline.At.UTC().Format(time.RFC3339),
		"window":   view.deadline.Window.Name,
		"evicted":  len(evicted),
	})

	return &LoginResult{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		SessionID:    t.id,
		Deadline:     view.deadline.At,
		RiskLevel:    view.level,
		Evicted:      evicted,
	}, nil
}

// accessPayload must be called with t.mu held or before t is shared.
func (t *tracked) accessPayload() jwt.AccessPayload {
	return jwt.AccessPayload{
		UserID:            t.userID,
		Email:             t.email,
		Role:              t.role,
		SessionID:         t.id,
		DeviceFingerprint: t.fingerprint,
		IPAddress:         t.ip,
		LoginTime:         t.createdAt,
		LastActivity:      t.lastActivity,
	}
}

// rejectLogin counts a failed attempt and returns the error for the caller.
func (e *Engine) rejectLogin(ctx context.Context, email, userID, fp, reason string) error {
	if err := e.limiter.IncrementLogin(ctx, email, clientIPFromContext(ctx)); err != nil {
		if errors.Is(err, rate.ErrRateLimited) {
			return e.loginRateLimited(ctx, email, userID, fp)
		}
		e.logger.Warn("login throttle increment failed", "op", "increment_login", "err", err)
	}
	e.metricInc(MetricLoginFailure)
	e.emitLoginFailure(ctx, email, userID, fp, ErrInvalidCredentials, reason)
	return ErrInvalidCredentials
}

func (e *Engine) loginRateLimited(ctx context.Context, email, userID, fp string) error {
	e.metricInc(MetricLoginRateLimited)
	e.emitLoginFailure(ctx, email, userID, fp, ErrLoginRateLimited, "throttled")
	e.emitSecurity(ctx, auditlog.SecurityEvent{
		UserID:            userID,
		EventType:         auditlog.EventLoginRateLimited,
		Severity:          risk.Medium,
		DeviceFingerprint: fp,
		EventData: map[string]any{
			"email": email,
		},
	})
	return ErrLoginRateLimited
}

func (e *Engine) emitLoginFailure(ctx context.Context, email, userID, fp string, err error, reason string) {
	e.emitAudit(ctx, auditlog.Entry{
		UserID:            userID,
		UserEmail:         email,
		Action:            auditActionLogin,
		ResourceType:      auditResourceSession,
		DeviceFingerprint: fp,
		RiskLevel:         risk.Medium,
		Success:           false,
		ErrorMessage:      auditErrorCode(err),
		Details: map[string]any{
			"reason": reason,
		},
	})
}

// upgradePassword rehashes the password when the stored hash is bcrypt or uses
// weaker argon2id parameters. It is best-effort.
func (e *Engine) upgradePassword(ctx context.Context, user UserRecord, credentialProof string) {
	if !e.runtime().cfg.Password.UpgradeOnLogin {
		return
	}
	upgrader, ok := e.users.(PasswordUpgrader)
	if !ok {
		return
	}
	needs, err := e.hasher.NeedsRehash(user.PasswordHash)
	if err != nil || !needs {
		return
	}
	hash, err := e.hasher.Hash(credentialProof)
	if err != nil {
		e.logger.Warn("password rehash failed", "op", "rehash", "user_id", user.UserID, "err", err)
		return
	}
	if err := upgrader.UpdatePasswordHash(ctx, user.UserID, hash); err != nil {
		e.logger.Warn("password rehash update failed", "op", "rehash", "user_id", user.UserID, "err", err)
	}
}

// enforceConcurrencyLimit evicts the user's least recently active sessions so
// one more fits. Failures are logged and do not block login.
func (e *Engine) enforceConcurrencyLimit(ctx context.Context, userID string, max int) []string {
	if max <= 0 {
		return nil
	}
	now := e.clock.Now()

	var evicted []string
	err := e.storeWrite(ctx, nil, sessionView{userID: userID}, "evict", func(ctx context.Context) error {
		ids, err := e.store.EnforceConcurrencyLimit(ctx, userID, max, now)
		evicted = ids
		return err
	})
	if err != nil {
		return nil
	}

	for _, id := range evicted {
		e.emitSecurity(ctx, auditlog.SecurityEvent{
			UserID:    userID,
			EventType: auditlog.EventSessionEvicted,
			Severity:  risk.Low,
			EventData: map[string]any{
				"session_id": id,
				"limit":      max,
			},
		})
		if e.terminate(ctx, id, StateLoggedOut, session.ReasonEvicted, false) {
			continue
		}
		// Evicted sessions owned by another process are audited here.
		e.metricInc(MetricSessionEvicted)
		e.emitSessionAudit(ctx, sessionView{id: id, userID: userID, level: risk.Medium},
			auditActionSessionEvicted, false, string(session.ReasonEvicted), nil)
	}
	return evicted
}

// Logout ends sessionID with reason LOGGED_OUT. It is idempotent: logging out
// a terminal session returns nil. The store record is deactivated before
// Logout returns so other processes see the logout at once.
func (e *Engine) Logout(ctx context.Context, sessionID string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if t := e.lookup(sessionID); t != nil {
		if e.terminate(ctx, sessionID, StateLoggedOut, session.ReasonLoggedOut, true) {
			e.flushStore(ctx, t)
		}
		return nil
	}

	ok, err := e.store.Deactivate(ctx, sessionID, session.ReasonLoggedOut, e.clock.Now())
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return ErrSessionNotFound
		}
		return storeError("logout", err)
	}
	if ok {
		e.metricInc(MetricLogout)
		e.emitSessionAudit(ctx, sessionView{id: sessionID, level: risk.Medium}, auditActionLogout, true, "", nil)
	}
	return nil
}
