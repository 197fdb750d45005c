package session

import (
	"strconv"
	"time"

	"github.com/MrEthical07/goGuard/risk"
)

// LogoutReason records why a session stopped being active.
type LogoutReason string

const (
	// ReasonNone is the reason of an active session.
	ReasonNone LogoutReason = ""
	// ReasonLoggedOut marks a user-initiated logout.
	ReasonLoggedOut LogoutReason = "LOGGED_OUT"
	// ReasonExpired marks an idle timeout.
	ReasonExpired LogoutReason = "EXPIRED"
	// ReasonDeviceMismatch marks a token presented from another device.
	ReasonDeviceMismatch LogoutReason = "DEVICE_MISMATCH"
	// ReasonEvicted marks a session removed to honour the concurrent-session limit.
	ReasonEvicted LogoutReason = "EVICTED"
	// ReasonRefreshFailed marks a session whose refresh or extension was rejected.
	ReasonRefreshFailed LogoutReason = "REFRESH_FAILED"
)

// Session is the persisted record of one admin login.
type Session struct {
	ID                string
	UserID            string
	DeviceFingerprint string
	IPAddress         string
	UserAgent         string

	CreatedAt      time.Time
	LastActivityAt time.Time
	ExpiresAt      time.Time

	Active        bool
	LogoutReason  LogoutReason
	RiskLevel     risk.Level
	DeactivatedAt time.Time
}

// Expired reports whether s is past its expiry at now. The boundary instant counts as expired.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

const (
	fieldUserID      = "uid"
	fieldFingerprint = "dfp"
	fieldIP          = "ip"
	fieldUserAgent   = "ua"
	fieldCreated     = "created"
	fieldLast        = "last"
	fieldExpires     = "exp"
	fieldActive      = "active"
	fieldReason      = "reason"
	fieldRisk        = "risk"
	fieldDeactivated = "deact"
)

func (s *Session) fields() []interface{} {
	active := "0"
	if s.Active {
		active = "1"
	}
	return []interface{}{
		fieldUserID, s.UserID,
		fieldFingerprint, s.DeviceFingerprint,
		fieldIP, s.IPAddress,
		fieldUserAgent, s.UserAgent,
		fieldCreated, toMillis(s.CreatedAt),
		fieldLast, toMillis(s.LastActivityAt),
		fieldExpires, toMillis(s.ExpiresAt),
		fieldActive, active,
		fieldReason, string(s.LogoutReason),
		fieldRisk, int(s.RiskLevel),
		fieldDeactivated, toMillis(s.DeactivatedAt),
	}
}

func fromHash(id string, h map[string]string) (*Session, error) {
	created, err := parseMillis(h[fieldCreated])
	if err != nil {
		return nil, err
	}
	last, err := parseMillis(h[fieldLast])
	if err != nil {
		return nil, err
	}
	exp, err := parseMillis(h[fieldExpires])
	if err != nil {
		return nil, err
	}
	deact, err := parseMillis(h[fieldDeactivated])
	if err != nil {
		return nil, err
	}
	level := risk.Medium
	if raw := h[fieldRisk]; raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, ErrCorrupt
		}
		if l := risk.Level(n); l.Valid() {
			level = l
		}
	}

	return &Session{
		ID:                id,
		UserID:            h[fieldUserID],
		DeviceFingerprint: h[fieldFingerprint],
		IPAddress:         h[fieldIP],
		UserAgent:         h[fieldUserAgent],
		CreatedAt:         created,
		LastActivityAt:    last,
		ExpiresAt:         exp,
		Active:            h[fieldActive] == "1",
		LogoutReason:      LogoutReason(h[fieldReason]),
		RiskLevel:         level,
		DeactivatedAt:     deact,
	}, nil
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func parseMillis(raw string) (time.Time, error) {
	if raw == "" || raw == "0" {
		return time.Time{}, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, ErrCorrupt
	}
	return time.UnixMilli(n), nil
}
