package goGuard

import (
	"context"
	"errors"

	"github.com/MrEthical07/goGuard/auditlog"
	"github.com/MrEthical07/goGuard/risk"
)

// Audit actions written by the engine. Route actions passed to TrackActivity
// are not audited by the engine; callers audit their own business actions.
const (
	auditActionLogin          = "LOGIN"
	auditActionLogout         = "LOGOUT"
	auditActionRefresh        = "TOKEN_REFRESH"
	auditActionExtend         = "SESSION_EXTENDED"
	auditActionSessionExpired = "SESSION_EXPIRED"
	auditActionSessionEvicted = "SESSION_EVICTED"
	auditActionWarningShown   = "WARNING_SHOWN"
	auditActionWarningDismiss = "WARNING_DISMISSED"
	auditActionAuthenticate   = "AUTHENTICATE"
	auditActionConfigReload   = "CONFIG_RELOAD"

	auditResourceSession = "session"
)

// AuditErrorCode is the stable error string written to failed audit entries.
type AuditErrorCode string

const (
	auditErrInvalidCredentials AuditErrorCode = "INVALID_CREDENTIALS"
	auditErrRateLimited        AuditErrorCode = "RATE_LIMITED"
	auditErrAccountDisabled    AuditErrorCode = "ACCOUNT_DISABLED"
	auditErrSessionNotFound    AuditErrorCode = "SESSION_NOT_FOUND"
	auditErrSessionTerminated  AuditErrorCode = "SESSION_TERMINATED"
	auditErrUnavailable        AuditErrorCode = "BACKEND_UNAVAILABLE"
	auditErrInternal           AuditErrorCode = "INTERNAL_ERROR"
)

func (e *Engine) emitAudit(ctx context.Context, entry auditlog.Entry) {
	if e == nil || e.audit == nil {
		return
	}
	if entry.IP == "" {
		entry.IP = clientIPFromContext(ctx)
	}
	if entry.UserAgent == "" {
		entry.UserAgent = userAgentFromContext(ctx)
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = e.clock.Now().UTC()
	}
	e.audit.Emit(ctx, entry)
}

func (e *Engine) emitSessionAudit(ctx context.Context, view sessionView, action string, success bool, errMsg string, details map[string]any) {
	e.emitAudit(ctx, auditlog.Entry{
		UserID:            view.userID,
		UserEmail:         view.email,
		Action:            action,
		ResourceType:      auditResourceSession,
		ResourceID:        view.id,
		Details:           details,
		IP:                view.ip,
		UserAgent:         view.userAgent,
		DeviceFingerprint: view.fingerprint,
		SessionID:         view.id,
		RiskLevel:         view.level,
		Success:           success,
		ErrorMessage:      errMsg,
	})
}

func (e *Engine) emitSecurity(ctx context.Context, event auditlog.SecurityEvent) {
	if e == nil || e.audit == nil {
		return
	}
	if event.IP == "" {
		event.IP = clientIPFromContext(ctx)
	}
	if event.UserAgent == "" {
		event.UserAgent = userAgentFromContext(ctx)
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = e.clock.Now().UTC()
	}
	e.audit.EmitSecurity(ctx, event)
}

// emitAuthFailure writes the failure entry for a rejected token.
func (e *Engine) emitAuthFailure(ctx context.Context, action, userID, sessionID, fingerprint string, level risk.Level, err error) {
	if !level.Valid() {
		level = risk.Medium
	}
	e.emitAudit(ctx, auditlog.Entry{
		UserID:            userID,
		Action:            action,
		ResourceType:      auditResourceSession,
		ResourceID:        sessionID,
		DeviceFingerprint: fingerprint,
		SessionID:         sessionID,
		RiskLevel:         level,
		Success:           false,
		ErrorMessage:      auditErrorCode(err),
	})
}

func auditErrorCode(err error) string {
	if err == nil {
		return ""
	}

	var ae *AuthError
	if errors.As(err, &ae) {
		return string(ae.Code)
	}
	var se *StoreError
	if errors.As(err, &se) {
		if se.Code == StoreNotFound {
			return string(auditErrSessionNotFound)
		}
		return string(auditErrUnavailable)
	}

	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return string(auditErrInvalidCredentials)
	case errors.Is(err, ErrLoginRateLimited), errors.Is(err, ErrRefreshRateLimited):
		return string(auditErrRateLimited)
	case errors.Is(err, ErrAccountDisabled):
		return string(auditErrAccountDisabled)
	case errors.Is(err, ErrSessionNotFound):
		return string(auditErrSessionNotFound)
	case errors.Is(err, ErrSessionExpired):
		return string(AuthExpired)
	case errors.Is(err, ErrSessionTerminated):
		return string(auditErrSessionTerminated)
	default:
		return string(auditErrInternal)
	}
}
