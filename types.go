package goGuard

import (
	"context"
	"time"

	"github.com/MrEthical07/goGuard/risk"
	"github.com/MrEthical07/goGuard/session"
)

// State is the lifecycle state of a tracked session.
type State string

const (
	// StateAnonymous is reported for sessions the engine does not know.
	StateAnonymous State = "ANONYMOUS"
	// StateAuthenticated is an active session with no warning showing.
	StateAuthenticated State = "AUTHENTICATED"
	// StateWarning is an active session inside its warning lead.
	StateWarning State = "WARNING"
	// StateExpired is terminal: the idle deadline passed or the session was revoked.
	StateExpired State = "EXPIRED"
	// StateLoggedOut is terminal: the user logged out or the session was evicted.
	StateLoggedOut State = "LOGGED_OUT"
)

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateExpired || s == StateLoggedOut
}

// UserProvider looks up admin accounts. Implementations return ErrUserNotFound
// for unknown emails.
type UserProvider interface {
	GetByEmail(ctx context.Context, email string) (UserRecord, error)
}

// PasswordUpgrader is optionally implemented by a UserProvider to persist
// rehashed passwords when cost parameters change or a bcrypt hash is migrated.
type PasswordUpgrader interface {
	UpdatePasswordHash(ctx context.Context, userID, newHash string) error
}

// UserRecord is the account data needed to sign an admin in.
type UserRecord struct {
	UserID       string
	Email        string
	Role         string
	PasswordHash string
	Disabled     bool
}

// LoginResult is returned by Engine.Login.
type LoginResult struct {
	AccessToken  string
	RefreshToken string
	SessionID    string
	Deadline     time.Time
	RiskLevel    risk.Level
	// Evicted lists sessions closed to honour the concurrent-session limit.
	Evicted []string
}

// ExtendResult is returned by Engine.ExtendSession.
type ExtendResult struct {
	AccessToken      string
	Deadline         time.Time
	RequestedMinutes int
}

// SessionStatus is the UI view of a session, derived at the engine clock's now.
type SessionStatus struct {
	State          State
	TimeRemaining  time.Duration
	WarningVisible bool
	RiskLevel      risk.Level
	Deadline       time.Time
}

// WarningNotice is passed to the warning handler when a session enters WARNING.
type WarningNotice struct {
	SessionID     string
	UserID        string
	Deadline      time.Time
	TimeRemaining time.Duration
	RiskLevel     risk.Level
	Renotify      bool
}

// ActiveSession is one row of Engine.ActiveSessions.
type ActiveSession struct {
	session.Session
	Tracked bool
	State   State
}
