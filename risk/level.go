package risk

import (
	"fmt"
	"strings"
)

// Level is the sensitivity tier of an administrative action.
//
// Levels are ordered: a greater Level is stricter. The zero value is not a valid level.
type Level uint8

const (
	// Low covers read-only views.
	Low Level = iota + 1
	// Medium covers routine writes and is the fallback for unknown actions.
	Medium
	// High covers destructive or privilege-changing actions.
	High
	// Critical covers actions that can compromise the whole system.
	Critical
)

// Levels lists every valid level from least to most strict.
var Levels = [...]Level{Low, Medium, High, Critical}

// String returns the canonical upper-case name.
func (l Level) String() string {
	switch l {
	case Low:
		return "LOW"
	case Medium:
		return "MEDIUM"
	case High:
		return "HIGH"
	case Critical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// Valid reports whether l is one of the four defined levels.
func (l Level) Valid() bool {
	return l >= Low && l <= Critical
}

// Stricter returns the stricter of l and other.
func (l Level) Stricter(other Level) Level {
	if other > l {
		return other
	}
	return l
}

// MarshalText implements encoding.TextMarshaler.
func (l Level) MarshalText() ([]byte, error) {
	if !l.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownLevel, uint8(l))
	}
	return []byte(l.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *Level) UnmarshalText(text []byte) error {
	parsed, err := ParseLevel(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// ParseLevel parses a level name, case-insensitively.
func ParseLevel(s string) (Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "LOW":
		return Low, nil
	case "MEDIUM":
		return Medium, nil
	case "HIGH":
		return High, nil
	case "CRITICAL":
		return Critical, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownLevel, s)
	}
}
