package jwt

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrMalformed is returned by Inspect when the token cannot be decoded at all.
var ErrMalformed = errors.New("malformed token")

// DisplayClaims is the unverified view of a token used for countdown rendering.
//
// It carries no identity and is not accepted by any authorization API.
type DisplayClaims struct {
	kind      Kind
	expiresAt time.Time
}

type displayEnvelope struct {
	Kind Kind `json:"kind"`
	jwt.RegisteredClaims
}

// Inspect decodes token without verifying its signature.
func Inspect(token string) (DisplayClaims, error) {
	var env displayEnvelope
	if _, _, err := jwt.NewParser().ParseUnverified(token, &env); err != nil {
		return DisplayClaims{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	d := DisplayClaims{kind: env.Kind}
	if env.ExpiresAt != nil {
		d.expiresAt = env.ExpiresAt.Time
	}
	return d, nil
}

// Kind returns the kind claim as written in the token.
func (d DisplayClaims) Kind() Kind { return d.kind }

// ExpiresAt returns the exp claim, or the zero time when absent.
func (d DisplayClaims) ExpiresAt() time.Time { return d.expiresAt }

// TimeRemaining returns how long until exp at now, never negative.
func (d DisplayClaims) TimeRemaining(now time.Time) time.Duration {
	if d.expiresAt.IsZero() {
		return 0
	}
	if left := d.expiresAt.Sub(now); left > 0 {
		return left
	}
	return 0
}

func constantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
