package goGuard

import (
	"errors"
	"fmt"

	"github.com/MrEthical07/goGuard/jwt"
	"github.com/MrEthical07/goGuard/risk"
	"github.com/MrEthical07/goGuard/session"
)

var (
	// ErrInvalidCredentials is returned by Login for unknown users and wrong proofs alike.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUserNotFound is returned by UserProvider implementations for unknown emails.
	ErrUserNotFound = errors.New("user not found")
	// ErrAccountDisabled is returned by Login for disabled accounts.
	ErrAccountDisabled = errors.New("account disabled")
	// ErrLoginRateLimited is returned by Login once the throttle budget is exhausted.
	ErrLoginRateLimited = errors.New("login rate limited")
	// ErrRefreshRateLimited is returned when a session refreshes or extends too often.
	ErrRefreshRateLimited = errors.New("refresh rate limited")
	// ErrSessionNotFound is returned for session IDs the engine does not track.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionTerminated is returned for sessions that were logged out, evicted or revoked.
	ErrSessionTerminated = errors.New("session terminated")
	// ErrSessionExpired is returned for sessions past their idle deadline.
	ErrSessionExpired = errors.New("session expired")
	// ErrReauthenticationRequired is the single hard signal callers show to users.
	ErrReauthenticationRequired = errors.New("please sign in again")
	// ErrEngineNotReady is returned by methods called on a nil or closed Engine.
	ErrEngineNotReady = errors.New("engine not ready")
	// ErrUserProvider wraps failures from the configured UserProvider.
	ErrUserProvider = errors.New("user provider failure")
)

// AuthCode classifies token verification failures.
type AuthCode string

const (
	// AuthExpired means the token exp has passed.
	AuthExpired AuthCode = "EXPIRED"
	// AuthBadSignature covers every integrity or claim-shape failure.
	AuthBadSignature AuthCode = "BAD_SIGNATURE"
	// AuthWrongKind means an access token was used as refresh or vice versa.
	AuthWrongKind AuthCode = "WRONG_TOKEN_KIND"
	// AuthDeviceMismatch means the token was presented from a different device.
	AuthDeviceMismatch AuthCode = "DEVICE_MISMATCH"
)

// AuthError is returned by Authenticate, Refresh and the Verify helpers.
// It always means the caller must sign in again.
type AuthError struct {
	Code AuthCode
	Err  error
}

func (e *AuthError) Error() string {
	if e.Err == nil {
		return "auth: " + string(e.Code)
	}
	return fmt.Sprintf("auth: %s: %v", e.Code, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// Is matches the jwt sentinel for the code, ErrSessionExpired for EXPIRED and
// ErrReauthenticationRequired for every code.
func (e *AuthError) Is(target error) bool {
	if target == ErrReauthenticationRequired {
		return true
	}
	switch e.Code {
	case AuthExpired:
		return target == jwt.ErrExpired || target == ErrSessionExpired
	case AuthBadSignature:
		return target == jwt.ErrBadSignature
	case AuthWrongKind:
		return target == jwt.ErrWrongKind
	case AuthDeviceMismatch:
		return target == jwt.ErrDeviceMismatch
	}
	return false
}

// StoreCode classifies session store failures.
type StoreCode string

const (
	// StoreWriteFailed means a Redis write failed after retry.
	StoreWriteFailed StoreCode = "WRITE_FAILED"
	// StoreNotFound means the record is missing.
	StoreNotFound StoreCode = "NOT_FOUND"
	// StoreUnavailable means a Redis read failed.
	StoreUnavailable StoreCode = "UNAVAILABLE"
)

// StoreError wraps a session store failure with the operation that hit it.
type StoreError struct {
	Code StoreCode
	Op   string
	Err  error
}

func (e *StoreError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("store %s: %s", e.Op, e.Code)
	}
	return fmt.Sprintf("store %s: %s: %v", e.Op, e.Code, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func (e *StoreError) Is(target error) bool {
	switch e.Code {
	case StoreWriteFailed:
		return target == session.ErrWriteFailed
	case StoreNotFound:
		return target == session.ErrNotFound || target == ErrSessionNotFound
	case StoreUnavailable:
		return target == session.ErrRedisUnavailable
	}
	return false
}

// PolicyCode classifies policy lookups.
type PolicyCode string

// PolicyUnknownAction is reported for actions missing from the risk table.
const PolicyUnknownAction PolicyCode = "UNKNOWN_ACTION"

// PolicyError is produced by ClassifyAction. TrackActivity never returns it;
// unknown actions resolve to MEDIUM.
type PolicyError struct {
	Code   PolicyCode
	Action string
}

func (e *PolicyError) Error() string {
	return fmt.Sprintf("policy: %s: %q", e.Code, e.Action)
}

func (e *PolicyError) Is(target error) bool {
	return e.Code == PolicyUnknownAction && target == risk.ErrUnknownAction
}

func authError(err error) error {
	if err == nil {
		return nil
	}
	var ae *AuthError
	if errors.As(err, &ae) {
		return err
	}
	switch {
	case errors.Is(err, jwt.ErrDeviceMismatch):
		return &AuthError{Code: AuthDeviceMismatch, Err: err}
	case errors.Is(err, jwt.ErrExpired):
		return &AuthError{Code: AuthExpired, Err: err}
	case errors.Is(err, jwt.ErrWrongKind):
		return &AuthError{Code: AuthWrongKind, Err: err}
	default:
		return &AuthError{Code: AuthBadSignature, Err: err}
	}
}

func storeError(op string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, session.ErrNotFound):
		return &StoreError{Code: StoreNotFound, Op: op, Err: err}
	case errors.Is(err, session.ErrRedisUnavailable):
		return &StoreError{Code: StoreUnavailable, Op: op, Err: err}
	default:
		return &StoreError{Code: StoreWriteFailed, Op: op, Err: err}
	}
}
