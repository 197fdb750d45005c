package goGuard

import (
	"time"

	"github.com/MrEthical07/goGuard/policy"
	"github.com/MrEthical07/goGuard/risk"
)

// SecurityReport summarizes the effective security posture of an Engine.
type SecurityReport struct {
	SigningAlgorithm      string
	AccessTTL             time.Duration
	RefreshTTL            time.Duration
	Argon2                PasswordConfigReport
	Windows               []WindowReport
	MinTimeout            time.Duration
	RiskTiers             []RiskTierReport
	MaxConcurrentSessions int
	LoginThrottleActive   bool
	IPThrottleActive      bool
	RefreshThrottle       time.Duration
	AuditEnabled          bool
	AuditDropIfFull       bool
	AuditDropped          uint64
	TrackedSessions       int
	PendingReconciliation int
}

// PasswordConfigReport mirrors the argon2id parameters used for new hashes.
type PasswordConfigReport struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// WindowReport is one time window with the timeouts it yields per risk level.
type WindowReport struct {
	Name      string
	StartHour int
	EndHour   int
	Fallback  bool
	Timeouts  map[risk.Level]time.Duration
}

// RiskTierReport is one tier of the risk table.
type RiskTierReport struct {
	Level      risk.Level
	Multiplier float64
	Actions    int
}

// SecurityReport reports the active configuration and live session counts.
func (e *Engine) SecurityReport() SecurityReport {
	if e == nil {
		return SecurityReport{}
	}
	rt := e.runtime()
	cfg := rt.cfg

	report := SecurityReport{
		SigningAlgorithm: cfg.JWT.SigningMethod,
		AccessTTL:        cfg.JWT.AccessTTL,
		RefreshTTL:       cfg.JWT.RefreshTTL,
		Argon2: PasswordConfigReport{
			Memory:      cfg.Password.Memory,
			Time:        cfg.Password.Time,
			Parallelism: cfg.Password.Parallelism,
			SaltLength:  cfg.Password.SaltLength,
			KeyLength:   cfg.Password.KeyLength,
		},
		MinTimeout:            rt.policy.MinTimeout(),
		MaxConcurrentSessions: cfg.Session.MaxConcurrentSessions,
		LoginThrottleActive:   cfg.Security.MaxLoginAttempts > 0 && cfg.Security.LoginCooldownDuration > 0,
		IPThrottleActive:      cfg.Security.EnableIPThrottle,
		RefreshThrottle:       cfg.Security.RefreshInterval,
		AuditEnabled:          cfg.Audit.Enabled,
		AuditDropIfFull:       cfg.Audit.DropIfFull,
		AuditDropped:          e.AuditDropped(),
	}

	for _, w := range rt.policy.Windows() {
		report.Windows = append(report.Windows, windowReport(rt, w, false))
	}
	report.Windows = append(report.Windows, windowReport(rt, cfg.Policy.Fallback, true))

	for _, tier := range rt.policy.Table().Tiers() {
		report.RiskTiers = append(report.RiskTiers, RiskTierReport{
			Level:      tier.Level,
			Multiplier: tier.Multiplier,
			Actions:    len(tier.Actions),
		})
	}

	for _, t := range e.snapshotTracked() {
		t.mu.Lock()
		if !t.state.Terminal() {
			report.TrackedSessions++
		}
		if t.needsReconcile {
			report.PendingReconciliation++
		}
		t.mu.Unlock()
	}
	return report
}

func windowReport(rt *runtime, w policy.Window, fallback bool) WindowReport {
	out := WindowReport{
		Name:      w.Name,
		StartHour: w.StartHour,
		EndHour:   w.EndHour,
		Fallback:  fallback,
		Timeouts:  make(map[risk.Level]time.Duration, len(risk.Levels)),
	}
	for _, level := range risk.Levels {
		out.Timeouts[level] = rt.policy.EffectiveTimeout(w, level)
	}
	return out
}
