package policy

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/MrEthical07/goGuard/risk"
)

// DefaultMinTimeout is the floor applied to every effective idle timeout.
const DefaultMinTimeout = 60 * time.Second

var (
	// ErrInvalidWindow is returned when a window has bad hours or durations.
	ErrInvalidWindow = errors.New("invalid time window")
	// ErrOverlappingWindows is returned when two windows claim the same hour.
	ErrOverlappingWindows = errors.New("overlapping time windows")
)

// Window is an idle-timeout rule for a range of local wall-clock hours.
//
// The range is half-open, [StartHour, EndHour). A window whose StartHour is greater than its
// EndHour wraps midnight.
type Window struct {
	Name            string
	StartHour       int
	EndHour         int
	BaseIdleTimeout time.Duration
	WarningLeadTime time.Duration
}

// Contains reports whether hour (0-23) falls within w.
func (w Window) Contains(hour int) bool {
	if w.StartHour == w.EndHour {
		return false
	}
	if w.StartHour < w.EndHour {
		return hour >= w.StartHour && hour < w.EndHour
	}
	return hour >= w.StartHour || hour < w.EndHour
}

// Config describes the windows a Policy selects from.
//
// Windows are tried in order; Fallback applies to every hour none of them claims.
type Config struct {
	Windows    []Window
	Fallback   Window
	MinTimeout time.Duration
	Location   *time.Location
}

// DefaultConfig returns the work-hours, evening and night windows.
func DefaultConfig() Config {
	return Config{
		Windows: []Window{
			{Name: "work_hours", StartHour: 9, EndHour: 18, BaseIdleTimeout: 45 * time.Minute, WarningLeadTime: 5 * time.Minute},
			{Name: "evening", StartHour: 18, EndHour: 22, BaseIdleTimeout: 20 * time.Minute, WarningLeadTime: 3 * time.Minute},
		},
		Fallback:   Window{Name: "night", StartHour: 22, EndHour: 9, BaseIdleTimeout: 10 * time.Minute, WarningLeadTime: 2 * time.Minute},
		MinTimeout: DefaultMinTimeout,
		Location:   time.Local,
	}
}

// Policy computes idle deadlines from time of day and risk level.
//
// A Policy is immutable; replace it to change behaviour.
type Policy struct {
	windows    []Window
	fallback   Window
	minTimeout time.Duration
	loc        *time.Location
	table      risk.Table
}

// Deadline is the outcome of a deadline computation.
type Deadline struct {
	At      time.Time
	Window  Window
	Level   risk.Level
	Timeout time.Duration
	Lead    time.Duration
}

// WarnAt is the instant from which the expiry warning is due.
func (d Deadline) WarnAt() time.Time {
	return d.At.Add(-d.Lead)
}

// New validates cfg and returns a Policy that uses table for risk multipliers.
func New(cfg Config, table risk.Table) (*Policy, error) {
	if cfg.MinTimeout <= 0 {
		cfg.MinTimeout = DefaultMinTimeout
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}

	var claimed [24]string
	for _, w := range cfg.Windows {
		if err := validateWindow(w); err != nil {
			return nil, err
		}
		for h := 0; h < 24; h++ {
			if !w.Contains(h) {
				continue
			}
			if claimed[h] != "" {
				return nil, fmt.Errorf("%w: %s and %s both cover hour %d", ErrOverlappingWindows, claimed[h], w.Name, h)
			}
			claimed[h] = w.Name
		}
	}
	if err := validateWindow(cfg.Fallback); err != nil {
		return nil, err
	}

	windows := make([]Window, len(cfg.Windows))
	copy(windows, cfg.Windows)

	return &Policy{
		windows:    windows,
		fallback:   cfg.Fallback,
		minTimeout: cfg.MinTimeout,
		loc:        cfg.Location,
		table:      table,
	}, nil
}

// Default returns a Policy over DefaultConfig and the default risk table.
func Default() *Policy {
	p, err := New(DefaultConfig(), risk.DefaultTable())
	if err != nil {
		panic(err)
	}
	return p
}

func validateWindow(w Window) error {
	if w.StartHour < 0 || w.StartHour > 23 || w.EndHour < 0 || w.EndHour > 24 {
		return fmt.Errorf("%w: %s hours out of range", ErrInvalidWindow, w.Name)
	}
	if w.BaseIdleTimeout <= 0 {
		return fmt.Errorf("%w: %s BaseIdleTimeout must be > 0", ErrInvalidWindow, w.Name)
	}
	if w.WarningLeadTime < 0 || w.WarningLeadTime >= w.BaseIdleTimeout {
		return fmt.Errorf("%w: %s WarningLeadTime must be in [0, BaseIdleTimeout)", ErrInvalidWindow, w.Name)
	}
	return nil
}

// WindowFor selects the window covering the local hour of now.
func (p *Policy) WindowFor(now time.Time) Window {
	hour := now.In(p.loc).Hour()
	for _, w := range p.windows {
		if w.Contains(hour) {
			return w
		}
	}
	return p.fallback
}

// EffectiveTimeout scales the window's base timeout by the level multiplier, floored at MinTimeout.
func (p *Policy) EffectiveTimeout(w Window, level risk.Level) time.Duration {
	scaled := time.Duration(math.Round(float64(w.BaseIdleTimeout) * p.table.Multiplier(level)))
	if scaled < p.minTimeout {
		return p.minTimeout
	}
	return scaled
}

// WarningLead is the window's warning lead, capped at half of the effective timeout so a
// heavily shortened timeout never starts in the warning state.
func (p *Policy) WarningLead(w Window, level risk.Level) time.Duration {
	lead := w.WarningLeadTime
	if half := p.EffectiveTimeout(w, level) / 2; lead > half {
		lead = half
	}
	return lead
}

// NextDeadline computes the deadline for a session last active at lastActivity.
func (p *Policy) NextDeadline(lastActivity time.Time, level risk.Level) Deadline {
	w := p.WindowFor(lastActivity)
	timeout := p.EffectiveTimeout(w, level)
	return Deadline{
		At:      lastActivity.Add(timeout),
		Window:  w,
		Level:   level,
		Timeout: timeout,
		Lead:    p.WarningLead(w, level),
	}
}

// Windows returns the configured windows followed by the fallback.
func (p *Policy) Windows() []Window {
	out := make([]Window, 0, len(p.windows)+1)
	out = append(out, p.windows...)
	return append(out, p.fallback)
}

// MinTimeout returns the effective-timeout floor.
func (p *Policy) MinTimeout() time.Duration { return p.minTimeout }

// Table returns the risk table used for multipliers.
func (p *Policy) Table() risk.Table { return p.table }
