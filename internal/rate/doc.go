// Package rate provides the login throttle and the per-session refresh throttle.
//
// # Window semantics
//
// Login throttling uses Redis fixed-window counters: an atomic INCR plus PEXPIRE on
// the first hit. Key prefixes:
//   - <prefix>:al:  login per-email
//   - <prefix>:ali: login per-IP
//
// The refresh throttle is an in-process token bucket per session.
package rate
