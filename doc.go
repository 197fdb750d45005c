// Package goGuard is an adaptive session security core for admin panels.
//
// An [Engine] signs admins in, binds each session to a device fingerprint and
// keeps an idle deadline that depends on the time of day and on the riskiest
// action the session has performed. A per-session monitor raises a warning
// shortly before the deadline and expires the session when it passes.
//
// # Architecture boundaries
//
// goGuard is the public surface: [Engine], [Builder], [Config] and value types
// (LoginResult, SessionStatus, MetricsSnapshot). Policy math lives in risk and
// policy, tokens in jwt, Redis records in session and the durable audit trail
// in auditlog. Rate limiting and audit dispatch live under internal/.
//
// # State machine
//
// Sessions move ANONYMOUS → AUTHENTICATED → WARNING → EXPIRED | LOGGED_OUT.
// The last two are terminal. Every deadline change bumps a per-session
// generation; a monitor transition is applied only when the generation it
// observed is still current.
//
// # Failure model
//
// Token failures fail closed and callers see ErrReauthenticationRequired.
// Store writes are retried once, then recorded as a STORE_WRITE_FAILED
// security event while the in-memory session carries on until Reconcile.
// Audit writes are asynchronous and never block a request.
package goGuard
