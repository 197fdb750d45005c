// Package risk classifies administrative actions into LOW, MEDIUM, HIGH and CRITICAL tiers.
//
// The action table and the per-tier idle-timeout multipliers are configuration values.
// A [Table] is validated once by [NewTable] and never mutated afterwards, so it can be
// shared between goroutines and swapped wholesale on config reload.
//
// Multipliers only ever shorten an idle window: every multiplier is in (0, 1] and a stricter
// tier never has a larger multiplier than a looser one.
package risk
