// Package policy computes adaptive idle timeouts.
//
// The local wall-clock hour selects a [Window] (work hours, evening, or the night fallback that
// wraps midnight). The window's base idle timeout is scaled by the risk multiplier of the
// session's current level and floored at a minimum. Windows, the floor and the risk table
// are injected at construction; a [Clock] abstracts time for deterministic tests.
package policy
