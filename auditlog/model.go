package auditlog

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/goGuard/risk"
)

var (
	// ErrNotFound is returned when a security event ID does not exist.
	ErrNotFound = errors.New("audit record not found")
	// ErrAlreadyResolved is returned when resolving a security event twice.
	ErrAlreadyResolved = errors.New("security event already resolved")
	// ErrUnsupportedDialect is returned for drivers other than sqlite and postgres.
	ErrUnsupportedDialect = errors.New("unsupported audit store dialect")
	// ErrInvalidRecord is returned when an entry or event lacks its action or type.
	ErrInvalidRecord = errors.New("invalid audit record")
	// ErrInvalidRange is returned when a summary spans more than MaxSummaryDays.
	ErrInvalidRange = errors.New("invalid audit summary range")
)

// MaxSummaryDays bounds the number of days one Summarize call may cover.
const MaxSummaryDays = 366

// Security event types written by the session controller and the dispatcher.
const (
	EventDeviceMismatch    = "DEVICE_MISMATCH"
	EventRevokedReplay     = "REVOKED_TOKEN_REPLAY"
	EventAuditWriteFailed  = "AUDIT_WRITE_FAILED"
	EventStoreWriteFailed  = "STORE_WRITE_FAILED"
	EventLoginRateLimited  = "LOGIN_RATE_LIMITED"
	EventSessionEvicted    = "SESSION_EVICTED"
	EventRefreshRejected   = "REFRESH_REJECTED"
	EventConfigReloadError = "CONFIG_RELOAD_REJECTED"
)

// Entry is one row of the administrative audit trail.
type Entry struct {
	ID                string         `json:"id"`
	UserID            string         `json:"user_id,omitempty"`
	UserEmail         string         `json:"user_email,omitempty"`
	Action            string         `json:"action"`
	ResourceType      string         `json:"resource_type,omitempty"`
	ResourceID        string         `json:"resource_id,omitempty"`
	Details           map[string]any `json:"details,omitempty"`
	IP                string         `json:"ip,omitempty"`
	UserAgent         string         `json:"user_agent,omitempty"`
	DeviceFingerprint string         `json:"device_fingerprint,omitempty"`
	SessionID         string         `json:"session_id,omitempty"`
	RiskLevel         risk.Level     `json:"risk_level"`
	Success           bool           `json:"success"`
	ErrorMessage      string         `json:"error_message,omitempty"`
	Timestamp         time.Time      `json:"timestamp"`
}

// SecurityEvent is one row of the security event log. Severity uses the risk scale.
type SecurityEvent struct {
	ID                string         `json:"id"`
	UserID            string         `json:"user_id,omitempty"`
	EventType         string         `json:"event_type"`
	Severity          risk.Level     `json:"severity"`
	IP                string         `json:"ip,omitempty"`
	UserAgent         string         `json:"user_agent,omitempty"`
	DeviceFingerprint string         `json:"device_fingerprint,omitempty"`
	EventData         map[string]any `json:"event_data,omitempty"`
	Resolved          bool           `json:"resolved"`
	ResolvedBy        string         `json:"resolved_by,omitempty"`
	ResolvedAt        *time.Time     `json:"resolved_at,omitempty"`
	ResolutionNote    string         `json:"resolution_note,omitempty"`
	Timestamp         time.Time      `json:"timestamp"`
}

// Appender is the write side shared by every audit destination.
type Appender interface {
	Append(ctx context.Context, e Entry) error
	AppendSecurityEvent(ctx context.Context, e SecurityEvent) error
}

// Filter narrows Query. Zero fields are ignored.
type Filter struct {
	UserID       string
	Action       string
	ResourceType string
	RiskLevel    risk.Level
	Success      *bool
	From         time.Time
	To           time.Time
}

// SecurityFilter narrows QuerySecurityEvents. Zero fields are ignored.
type SecurityFilter struct {
	UserID    string
	EventType string
	Severity  risk.Level
	Resolved  *bool
	From      time.Time
	To        time.Time
}

// Page selects a window of results.
type Page struct {
	Limit  int
	Offset int
}

const (
	defaultPageLimit = 50
	maxPageLimit     = 1000
)

func (p Page) normalized() Page {
	if p.Limit <= 0 {
		p.Limit = defaultPageLimit
	}
	if p.Limit > maxPageLimit {
		p.Limit = maxPageLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// Result is a page of entries plus the total matching the filter.
type Result struct {
	Entries []Entry
	Total   int
}

// SecurityResult is a page of security events plus the total matching the filter.
type SecurityResult struct {
	Events []SecurityEvent
	Total  int
}

// DaySummary counts the entries of one UTC day per risk level.
type DaySummary struct {
	Day    string
	Counts map[risk.Level]int
	Total  int
}

// Summary is the output of Summarize, oldest day first.
type Summary struct {
	Days   []DaySummary
	Totals map[risk.Level]int
	Total  int
}

const dayLayout = "2006-01-02"

func dayOf(t time.Time) string {
	return t.UTC().Format(dayLayout)
}

func (e *Entry) normalize(now time.Time) {
	if !e.RiskLevel.Valid() {
		e.RiskLevel = risk.Medium
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = now
	}
}

func (e *SecurityEvent) normalize(now time.Time) {
	if !e.Severity.Valid() {
		e.Severity = risk.Medium
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = now
	}
}
