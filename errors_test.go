package goGuard

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/MrEthical07/goGuard/jwt"
	"github.com/MrEthical07/goGuard/risk"
	"github.com/MrEthical07/goGuard/session"
)

func TestAuthErrorMatchesSentinels(t *testing.T) {
	tests := []struct {
		in      error
		code    AuthCode
		matches []error
	}{
		{in: jwt.ErrExpired, code: AuthExpired, matches: []error{jwt.ErrExpired, ErrSessionExpired}},
		{in: fmt.Errorf("%w: bad alg", jwt.ErrBadSignature), code: AuthBadSignature, matches: []error{jwt.ErrBadSignature}},
		{in: jwt.ErrWrongKind, code: AuthWrongKind, matches: []error{jwt.ErrWrongKind}},
		{in: jwt.ErrDeviceMismatch, code: AuthDeviceMismatch, matches: []error{jwt.ErrDeviceMismatch}},
		{in: errors.New("anything else"), code: AuthBadSignature},
	}

	for _, tt := range tests {
		err := authError(tt.in)
		var ae *AuthError
		if !errors.As(err, &ae) || ae.Code != tt.code {
			t.Fatalf("authError(%v) = %v, want code %s", tt.in, err, tt.code)
		}
		if !errors.Is(err, ErrReauthenticationRequired) {
			t.Fatalf("%s must match ErrReauthenticationRequired", tt.code)
		}
		for _, target := range tt.matches {
			if !errors.Is(err, target) {
				t.Fatalf("%s must match %v", tt.code, target)
			}
		}
	}

	if errors.Is(authError(jwt.ErrWrongKind), jwt.ErrExpired) {
		t.Fatal("WRONG_TOKEN_KIND must not match ErrExpired")
	}
}

func TestStoreErrorMatchesSentinels(t *testing.T) {
	notFound := storeError("get", session.ErrNotFound)
	if !errors.Is(notFound, ErrSessionNotFound) || !errors.Is(notFound, session.ErrNotFound) {
		t.Fatalf("not found mapping: %v", notFound)
	}

	write := storeError("touch", fmt.Errorf("%w: conn reset", session.ErrWriteFailed))
	var se *StoreError
	if !errors.As(write, &se) || se.Code != StoreWriteFailed || se.Op != "touch" {
		t.Fatalf("write mapping: %v", write)
	}
	if !strings.Contains(write.Error(), "conn reset") {
		t.Fatalf("cause lost: %v", write)
	}

	unavailable := storeError("list", fmt.Errorf("%w: timeout", session.ErrRedisUnavailable))
	if !errors.Is(unavailable, session.ErrRedisUnavailable) {
		t.Fatalf("unavailable mapping: %v", unavailable)
	}
	if storeError("noop", nil) != nil {
		t.Fatal("nil must stay nil")
	}
}

func TestPolicyErrorMatchesUnknownAction(t *testing.T) {
	err := error(&PolicyError{Code: PolicyUnknownAction, Action: "X"})
	if !errors.Is(err, risk.ErrUnknownAction) {
		t.Fatal("expected risk.ErrUnknownAction")
	}
}

func TestReauthWrapsOnce(t *testing.T) {
	err := reauth(ErrSessionTerminated)
	if !errors.Is(err, ErrReauthenticationRequired) || !errors.Is(err, ErrSessionTerminated) {
		t.Fatalf("reauth: %v", err)
	}
	if again := reauth(err); again != err {
		t.Fatalf("reauth must not double wrap: %v", again)
	}
}

func TestAuditErrorCodes(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{ErrInvalidCredentials, "INVALID_CREDENTIALS"},
		{ErrLoginRateLimited, "RATE_LIMITED"},
		{ErrAccountDisabled, "ACCOUNT_DISABLED"},
		{reauth(ErrSessionTerminated), "SESSION_TERMINATED"},
		{authError(jwt.ErrDeviceMismatch), "DEVICE_MISMATCH"},
		{storeError("get", session.ErrNotFound), "SESSION_NOT_FOUND"},
		{errors.New("boom"), "INTERNAL_ERROR"},
	}
	for _, tt := range tests {
		if got := auditErrorCode(tt.err); got != tt.want {
			t.Fatalf("auditErrorCode(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
