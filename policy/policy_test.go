package policy

import (
	"errors"
	"testing"
	"time"

	"github.com/MrEthical07/goGuard/risk"
)

func utcPolicy(t *testing.T) *Policy {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Location = time.UTC
	p, err := New(cfg, risk.DefaultTable())
	if err != nil {
		t.Fatalf("new policy: %v", err)
	}
	return p
}

func at(hour, minute int) time.Time {
	return time.Date(2024, 3, 11, hour, minute, 0, 0, time.UTC)
}

func TestWindowForSelection(t *testing.T) {
	p := utcPolicy(t)

	cases := []struct {
		when time.Time
		want string
	}{
		{at(8, 59), "night"},
		{at(9, 0), "work_hours"},
		{at(10, 0), "work_hours"},
		{at(17, 59), "work_hours"},
		{at(18, 0), "evening"},
		{at(21, 59), "evening"},
		{at(22, 0), "night"},
		{at(23, 0), "night"},
		{at(0, 30), "night"},
	}
	for _, tc := range cases {
		if got := p.WindowFor(tc.when).Name; got != tc.want {
			t.Fatalf("WindowFor(%s)=%s want %s", tc.when.Format("15:04"), got, tc.want)
		}
	}
}

func TestWindowForUsesLocation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Location = time.FixedZone("UTC+5", 5*3600)
	p, err := New(cfg, risk.DefaultTable())
	if err != nil {
		t.Fatalf("new policy: %v", err)
	}
	// 05:00 UTC is 10:00 at UTC+5.
	if got := p.WindowFor(at(5, 0)).Name; got != "work_hours" {
		t.Fatalf("expected work_hours in shifted zone, got %s", got)
	}
}

func TestEffectiveTimeoutStricterNeverLonger(t *testing.T) {
	p := utcPolicy(t)
	for _, w := range p.Windows() {
		for i := 1; i < len(risk.Levels); i++ {
			looser, stricter := risk.Levels[i-1], risk.Levels[i]
			if p.EffectiveTimeout(w, stricter) > p.EffectiveTimeout(w, looser) {
				t.Fatalf("window %s: %s timeout longer than %s", w.Name, stricter, looser)
			}
		}
		if p.EffectiveTimeout(w, risk.Critical) > p.EffectiveTimeout(w, risk.Low) {
			t.Fatalf("window %s: critical longer than low", w.Name)
		}
	}
}

func TestEffectiveTimeoutValues(t *testing.T) {
	p := utcPolicy(t)

	work := p.WindowFor(at(10, 0))
	if got := p.EffectiveTimeout(work, risk.Medium); got != 45*time.Minute {
		t.Fatalf("work/medium: got %v", got)
	}
	night := p.WindowFor(at(23, 0))
	if got := p.EffectiveTimeout(night, risk.Critical); got != 90*time.Second {
		t.Fatalf("night/critical: got %v", got)
	}
	if got := p.EffectiveTimeout(night, risk.High); got != 5*time.Minute {
		t.Fatalf("night/high: got %v", got)
	}
}

func TestEffectiveTimeoutFloor(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Location = time.UTC
	cfg.Fallback.BaseIdleTimeout = 2 * time.Minute
	cfg.Fallback.WarningLeadTime = 30 * time.Second
	p, err := New(cfg, risk.DefaultTable())
	if err != nil {
		t.Fatalf("new policy: %v", err)
	}
	// 2m * 0.15 = 18s, floored to 60s.
	if got := p.EffectiveTimeout(p.WindowFor(at(23, 0)), risk.Critical); got != DefaultMinTimeout {
		t.Fatalf("expected floor %v, got %v", DefaultMinTimeout, got)
	}
}

func TestNextDeadline(t *testing.T) {
	p := utcPolicy(t)

	d := p.NextDeadline(at(10, 0), risk.Medium)
	if !d.At.Equal(at(10, 45)) {
		t.Fatalf("deadline: got %s", d.At)
	}
	if !d.WarnAt().Equal(at(10, 40)) {
		t.Fatalf("warn at: got %s", d.WarnAt())
	}

	crit := p.NextDeadline(at(23, 0), risk.Critical)
	if crit.Timeout != 90*time.Second {
		t.Fatalf("critical timeout: got %v", crit.Timeout)
	}
	if crit.Lead != 45*time.Second {
		t.Fatalf("lead should be capped at half the timeout, got %v", crit.Lead)
	}
	if crit.WarnAt().Before(at(23, 0)) {
		t.Fatal("warning must not precede the activity")
	}
}

func TestNewRejectsOverlapAndBadWindows(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Windows[1].StartHour = 17
	if _, err := New(cfg, risk.DefaultTable()); !errors.Is(err, ErrOverlappingWindows) {
		t.Fatalf("expected overlap error, got %v", err)
	}

	cfg = DefaultConfig()
	cfg.Windows[0].BaseIdleTimeout = 0
	if _, err := New(cfg, risk.DefaultTable()); !errors.Is(err, ErrInvalidWindow) {
		t.Fatalf("expected invalid window, got %v", err)
	}

	cfg = DefaultConfig()
	cfg.Fallback.WarningLeadTime = cfg.Fallback.BaseIdleTimeout
	if _, err := New(cfg, risk.DefaultTable()); !errors.Is(err, ErrInvalidWindow) {
		t.Fatalf("expected invalid lead, got %v", err)
	}

	cfg = DefaultConfig()
	cfg.Windows[0].EndHour = 25
	if _, err := New(cfg, risk.DefaultTable()); !errors.Is(err, ErrInvalidWindow) {
		t.Fatalf("expected out-of-range hour, got %v", err)
	}
}

func TestFakeClock(t *testing.T) {
	c := NewFakeClock(at(10, 0))
	if got := c.Advance(90 * time.Second); !got.Equal(at(10, 1).Add(30 * time.Second)) {
		t.Fatalf("advance: got %s", got)
	}
	c.Set(at(23, 0))
	if !c.Now().Equal(at(23, 0)) {
		t.Fatalf("set: got %s", c.Now())
	}
}
