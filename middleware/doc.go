// Package middleware adapts goGuard.Engine to net/http.
//
// [RequireSession] reads the bearer token, derives the device fingerprint from
// the request headers, calls Engine.Authenticate and then Engine.TrackActivity
// with the action named by an [ActionFunc]. [SessionHandlers] exposes the
// session UI contract (status, extend, dismiss, logout) as JSON endpoints.
//
// # What this package must NOT do
//
//   - Parse or create JWTs directly (delegates to Engine).
//   - Access Redis (Engine handles I/O).
//   - Tell the client why a request was rejected beyond "please sign in again".
package middleware
