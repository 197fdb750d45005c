package risk

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrUnknownAction is returned by ClassifyStrict for actions missing from the table.
	ErrUnknownAction = errors.New("unknown action")
	// ErrUnknownLevel is returned when a level name or value is not recognised.
	ErrUnknownLevel = errors.New("unknown risk level")
	// ErrInvalidTable is returned by NewTable when the tiers are inconsistent.
	ErrInvalidTable = errors.New("invalid risk table")
)

// Tier binds a level to its idle-timeout multiplier and the actions it covers.
type Tier struct {
	Level      Level
	Multiplier float64
	Actions    []string
}

// Table is an immutable action-to-level mapping with per-level multipliers.
//
// Build it with NewTable; the zero value classifies everything as Medium with a 1.0 multiplier.
type Table struct {
	actions     map[string]Level
	multipliers [Critical + 1]float64
}

// NewTable validates tiers and returns the resulting table.
//
// Every level must appear exactly once, each multiplier must lie in (0, 1], stricter levels may
// never carry a larger multiplier than looser ones, and an action may belong to one tier only.
func NewTable(tiers []Tier) (Table, error) {
	t := Table{actions: make(map[string]Level)}
	seen := make(map[Level]bool, len(Levels))

	for _, tier := range tiers {
		if !tier.Level.Valid() {
			return Table{}, fmt.Errorf("%w: %w", ErrInvalidTable, ErrUnknownLevel)
		}
		if seen[tier.Level] {
			return Table{}, fmt.Errorf("%w: level %s listed twice", ErrInvalidTable, tier.Level)
		}
		seen[tier.Level] = true

		if tier.Multiplier <= 0 || tier.Multiplier > 1 {
			return Table{}, fmt.Errorf("%w: multiplier for %s must be in (0, 1]", ErrInvalidTable, tier.Level)
		}
		t.multipliers[tier.Level] = tier.Multiplier

		for _, action := range tier.Actions {
			name := normalizeAction(action)
			if name == "" {
				return Table{}, fmt.Errorf("%w: empty action in %s", ErrInvalidTable, tier.Level)
			}
			if prev, ok := t.actions[name]; ok && prev != tier.Level {
				return Table{}, fmt.Errorf("%w: action %s in both %s and %s", ErrInvalidTable, name, prev, tier.Level)
			}
			t.actions[name] = tier.Level
		}
	}

	for _, l := range Levels {
		if !seen[l] {
			return Table{}, fmt.Errorf("%w: missing level %s", ErrInvalidTable, l)
		}
	}
	for i := 1; i < len(Levels); i++ {
		looser, stricter := Levels[i-1], Levels[i]
		if t.multipliers[stricter] > t.multipliers[looser] {
			return Table{}, fmt.Errorf("%w: %s multiplier exceeds %s", ErrInvalidTable, stricter, looser)
		}
	}

	return t, nil
}

// DefaultTable returns the built-in administrative action table.
func DefaultTable() Table {
	t, err := NewTable(DefaultTiers())
	if err != nil {
		panic(err)
	}
	return t
}

// DefaultTiers returns a fresh copy of the built-in tiers.
func DefaultTiers() []Tier {
	return []Tier{
		{Level: Low, Multiplier: 1.0, Actions: []string{
			"VIEW_DASHBOARD", "VIEW_LISTINGS", "VIEW_USERS", "VIEW_REPORTS", "SEARCH",
		}},
		{Level: Medium, Multiplier: 1.0, Actions: []string{
			"LOGIN", "EDIT_LISTING", "APPROVE_LISTING", "EXPORT_DATA", "VIEW_AUDIT_LOG",
		}},
		{Level: High, Multiplier: 0.5, Actions: []string{
			"DELETE_USER", "CHANGE_USER_ROLE", "DELETE_LISTING", "MODIFY_PAYMENT_SETTINGS", "RESOLVE_SECURITY_EVENT",
		}},
		{Level: Critical, Multiplier: 0.15, Actions: []string{
			"DATABASE_BACKUP", "DATABASE_RESTORE", "SYSTEM_CONFIG_CHANGE", "BULK_DELETE", "ROTATE_SIGNING_KEYS",
		}},
	}
}

// Multiplier returns the idle-timeout multiplier for l. Invalid levels use the Medium multiplier.
func (t Table) Multiplier(l Level) float64 {
	if !l.Valid() {
		l = Medium
	}
	if m := t.multipliers[l]; m > 0 {
		return m
	}
	return 1.0
}

// Lookup returns the level bound to action and whether the action is listed.
func (t Table) Lookup(action string) (Level, bool) {
	l, ok := t.actions[normalizeAction(action)]
	return l, ok
}

// Tiers returns the table contents with actions sorted, suitable for reports.
func (t Table) Tiers() []Tier {
	out := make([]Tier, 0, len(Levels))
	for _, l := range Levels {
		out = append(out, Tier{Level: l, Multiplier: t.Multiplier(l)})
	}
	for action, l := range t.actions {
		out[l-1].Actions = append(out[l-1].Actions, action)
	}
	for i := range out {
		sort.Strings(out[i].Actions)
	}
	return out
}

func normalizeAction(action string) string {
	return strings.ToUpper(strings.TrimSpace(action))
}
