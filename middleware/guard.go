package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"

	goGuard "github.com/MrEthical07/goGuard"
	"github.com/MrEthical07/goGuard/fingerprint"
	"github.com/MrEthical07/goGuard/jwt"
)

// ReauthMessage is the only body returned on rejection.
const ReauthMessage = "please sign in again"

type claimsContextKey struct{}

// ClaimsFromContext returns the access claims verified by RequireSession.
func ClaimsFromContext(ctx context.Context) (*jwt.AccessClaims, bool) {
	claims, ok := ctx.Value(claimsContextKey{}).(*jwt.AccessClaims)
	return claims, ok
}

// RequireSession authenticates the bearer token against the device signals in
// the request headers, then records the route's action on the session. The
// verified claims are stored in the request context.
//
// Every rejection is a 401 with ReauthMessage; the reason is only audited.
func RequireSession(engine *goGuard.Engine, action ActionFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				unauthorized(w)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				unauthorized(w)
				return
			}

			ctx := requestContext(r)
			claims, err := engine.Authenticate(ctx, token, fingerprint.FromRequest(r))
			if err != nil {
				unauthorized(w)
				return
			}

			if action != nil {
				if name := action(r); name != "" {
					if err := engine.TrackActivity(ctx, claims.SessionID, name); err != nil {
						unauthorized(w)
						return
					}
				}
			}

			ctx = context.WithValue(ctx, claimsContextKey{}, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// requestContext carries the caller's IP and User-Agent for audit entries.
func requestContext(r *http.Request) context.Context {
	ctx := goGuard.WithUserAgent(r.Context(), r.UserAgent())
	return goGuard.WithClientIP(ctx, clientIP(r))
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
	http.Error(w, ReauthMessage, http.StatusUnauthorized)
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}
