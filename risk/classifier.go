package risk

import "fmt"

// Classifier maps action names to risk levels using an injected Table.
type Classifier struct {
	table Table
}

// NewClassifier returns a Classifier over table.
func NewClassifier(table Table) *Classifier {
	return &Classifier{table: table}
}

// Classify returns the level for action. Unknown actions resolve to Medium.
func (c *Classifier) Classify(action string) Level {
	if l, ok := c.table.Lookup(action); ok {
		return l
	}
	return Medium
}

// ClassifyStrict is Classify that reports unknown actions.
// The returned level is still Medium so callers can log and continue.
func (c *Classifier) ClassifyStrict(action string) (Level, error) {
	if l, ok := c.table.Lookup(action); ok {
		return l, nil
	}
	return Medium, fmt.Errorf("%w: %q", ErrUnknownAction, action)
}

// Table returns the table backing c.
func (c *Classifier) Table() Table {
	return c.table
}
