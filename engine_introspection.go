package goGuard

import (
	"context"
	"time"
)

// HealthStatus is an on-demand backend and engine health result.
type HealthStatus struct {
	RedisAvailable bool
	RedisLatency   time.Duration

	// Tracked counts sessions held in memory, terminal ones included until
	// they are pruned.
	Tracked int
	// Warning counts tracked sessions currently inside their warning lead.
	Warning int
	// PendingReconcile counts sessions whose last store write failed.
	PendingReconcile int
	AuditDropped     uint64
}

// Healthy reports whether the engine can serve authenticated requests.
func (h HealthStatus) Healthy() bool {
	return h.RedisAvailable
}

// Health pings Redis and summarises in-memory session state. It does not
// mutate any session.
func (e *Engine) Health(ctx context.Context) HealthStatus {
	if e == nil || e.store == nil {
		return HealthStatus{}
	}

	latency, err := e.store.Ping(ctx)
	out := HealthStatus{
		RedisAvailable: err == nil,
		RedisLatency:   latency,
		AuditDropped:   e.AuditDropped(),
	}

	now := e.clock.Now()
	for _, t := range e.snapshotTracked() {
		t.mu.Lock()
		st := t.statusLocked(now)
		pending := t.needsReconcile
		t.mu.Unlock()

		out.Tracked++
		if st.State == StateWarning {
			out.Warning++
		}
		if pending {
			out.PendingReconcile++
		}
	}
	return out
}
