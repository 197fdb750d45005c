package goGuard

import (
	"context"
	"fmt"

	"github.com/MrEthical07/goGuard/auditlog"
	"github.com/MrEthical07/goGuard/risk"
)

// ApplyConfig hot-swaps the reloadable sections of cfg: JWT keys and TTLs,
// the timeout windows, the risk table, the monitor intervals and
// Session.MaxConcurrentSessions. Every other section keeps the value it had at
// Build.
//
// The new configuration is validated and compiled before it is published, so
// a rejected reload leaves the engine untouched. Tracked sessions pick up the
// new policy on their next activity.
func (e *Engine) ApplyConfig(cfg Config) error {
	if e == nil {
		return ErrEngineNotReady
	}
	e.reloadMu.Lock()
	defer e.reloadMu.Unlock()

	ctx := context.Background()
	next := e.runtime().cfg.applyReloadable(cfg)
	if err := next.Validate(); err != nil {
		return e.rejectReload(ctx, err)
	}
	rt, err := buildRuntime(next, e.clock)
	if err != nil {
		return e.rejectReload(ctx, err)
	}
	e.rt.Store(rt)

	e.logger.Info("config reloaded",
		"windows", len(next.Policy.Windows),
		"max_sessions", next.Session.MaxConcurrentSessions,
		"tick", next.Monitor.TickInterval,
	)
	e.emitAudit(ctx, auditlog.Entry{
		Action:       auditActionConfigReload,
		ResourceType: "config",
		RiskLevel:    risk.High,
		Success:      true,
		Details: map[string]any{
			"windows":      len(next.Policy.Windows),
			"risk_tiers":   len(next.Risk.Tiers),
			"max_sessions": next.Session.MaxConcurrentSessions,
		},
	})
	return nil
}

func (e *Engine) rejectReload(ctx context.Context, err error) error {
	e.logger.Warn("config reload rejected", "op", "apply_config", "err", err)
	e.emitSecurity(ctx, auditlog.SecurityEvent{
		EventType: auditlog.EventConfigReloadError,
		Severity:  risk.Medium,
		EventData: map[string]any{
			"error": err.Error(),
		},
	})
	return fmt.Errorf("config reload rejected: %w", err)
}
