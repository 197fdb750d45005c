// Package session provides the Redis-backed session record store.
//
// # Layout
//
// Each session is a hash at <prefix>:s:<id>. A per-user sorted set at
// <prefix>:u:<user> is scored by last activity and a global sorted set at
// <prefix>:x is scored by expiry. Deactivated records keep their hash for the
// configured retention and leave both indexes.
//
// # Architecture boundaries
//
// This package owns the [Store] and the [Session] model. It does NOT verify
// tokens, classify risk, or decide timeouts; callers pass the deadline they
// computed and the store only applies it monotonically.
package session
