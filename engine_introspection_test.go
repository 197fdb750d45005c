package goGuard

import (
	"context"
	"testing"
	"time"
)

func TestHealthCountsTrackedState(t *testing.T) {
	start := at10()
	env := newTestEnv(t, start, nil)
	ctx := context.Background()

	first := env.login(t, laptop)
	second := env.login(t, phone)

	h := env.engine.Health(ctx)
	if !h.Healthy() || h.Tracked != 2 || h.Warning != 0 || h.PendingReconcile != 0 {
		t.Fatalf("unexpected health after login: %+v", h)
	}

	env.clock.Set(start.Add(5 * time.Minute))
	env.mr.SetError("LOADING redis is loading")
	if err := env.engine.TrackActivity(ctx, second.SessionID, "VIEW_USERS"); err != nil {
		t.Fatalf("TrackActivity: %v", err)
	}
	env.flushStore(t)
	h = env.engine.Health(ctx)
	env.mr.SetError("")
	if h.RedisAvailable {
		t.Fatal("expected redis reported unavailable")
	}
	if h.PendingReconcile != 1 {
		t.Fatalf("PendingReconcile = %d, want 1", h.PendingReconcile)
	}

	// first is 41 minutes idle in the 45m work-hours window with a 5m lead.
	env.clock.Set(start.Add(41 * time.Minute))
	if st := env.status(t, first.SessionID); st.State != StateWarning {
		t.Fatalf("first state = %s, want WARNING", st.State)
	}
	h = env.engine.Health(ctx)
	if h.Warning != 1 {
		t.Fatalf("Warning = %d, want 1", h.Warning)
	}
}

func TestHealthNilEngine(t *testing.T) {
	var e *Engine
	if h := e.Health(context.Background()); h.Healthy() {
		t.Fatalf("nil engine must not be healthy: %+v", h)
	}
}
