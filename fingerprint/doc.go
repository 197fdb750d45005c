// Package fingerprint derives a best-effort device identifier from client signals
// (user agent, locale, screen, timezone offset, canvas hash, CPU count, memory).
package fingerprint
