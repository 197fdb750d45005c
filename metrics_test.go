package goGuard

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSessionLifecycleCounters(t *testing.T) {
	start := at10()
	env := newTestEnv(t, start, nil)
	ctx := context.Background()

	res := env.login(t, laptop)
	if _, err := env.engine.Login(ctx, testEmail, "wrong", laptop); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("bad login: %v", err)
	}
	second := env.login(t, phone)
	if err := env.engine.Logout(ctx, second.SessionID); err != nil {
		t.Fatalf("logout: %v", err)
	}

	env.clock.Set(start.Add(40 * time.Minute))
	env.engine.Tick(ctx)
	if err := env.engine.DismissWarning(ctx, res.SessionID); err != nil {
		t.Fatalf("dismiss: %v", err)
	}
	ext, err := env.engine.ExtendSession(ctx, res.SessionID, 10)
	if err != nil {
		t.Fatalf("extend: %v", err)
	}
	if _, err := env.engine.Authenticate(ctx, ext.AccessToken, laptop); err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	env.clock.Set(ext.Deadline)
	env.engine.Tick(ctx)

	snap := env.engine.MetricsSnapshot()
	for id, want := range map[MetricID]uint64{
		MetricLoginSuccess:     2,
		MetricLoginFailure:     1,
		MetricSessionCreated:   2,
		MetricWarningShown:     1,
		MetricWarningDismissed: 1,
		MetricSessionExtended:  1,
		MetricRefreshSuccess:   1,
		MetricSessionExpired:   1,
		MetricLogout:           1,
	} {
		if got := snap.Counters[id]; got != want {
			t.Fatalf("%s = %d, want %d", id, got, want)
		}
	}

	var observed uint64
	for _, n := range snap.Histograms[MetricAuthenticateLatency] {
		observed += n
	}
	if observed != 1 {
		t.Fatalf("authenticate latency observations = %d, want 1", observed)
	}
}

func TestDisabledMetricsLeaveEngineSnapshotEmpty(t *testing.T) {
	env := newTestEnv(t, at10(), func(cfg *Config) {
		cfg.Metrics.Enabled = false
	})
	res := env.login(t, laptop)
	if _, err := env.engine.Authenticate(context.Background(), res.AccessToken, laptop); err != nil {
		t.Fatalf("authenticate: %v", err)
	}

	snap := env.engine.MetricsSnapshot()
	if len(snap.Counters) != 0 || len(snap.Histograms) != 0 {
		t.Fatalf("disabled metrics recorded: %+v", snap)
	}
}

func TestAuthenticateLatencyBuckets(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want int
	}{
		{0, 0},
		{5 * time.Millisecond, 0},
		{5*time.Millisecond + 1, 1},
		{100 * time.Millisecond, 4},
		{500 * time.Millisecond, 6},
		{time.Second, histBucketCount - 1},
	}
	for _, tt := range tests {
		if got := bucketIndex(tt.d); got != tt.want {
			t.Fatalf("bucketIndex(%v) = %d, want %d", tt.d, got, tt.want)
		}
	}

	m := NewMetrics(MetricsConfig{Enabled: true})
	m.Observe(MetricAuthenticateLatency, time.Millisecond)
	if _, ok := m.Snapshot().Histograms[MetricAuthenticateLatency]; ok {
		t.Fatal("histogram recorded without EnableLatencyHistograms")
	}
}

func TestMetricNamesAreUnique(t *testing.T) {
	seen := make(map[string]MetricID)
	for id := MetricID(0); id < metricIDCount; id++ {
		name := id.String()
		if name == "" || name == "unknown" {
			t.Fatalf("metric %d has no name", id)
		}
		if prev, ok := seen[name]; ok {
			t.Fatalf("metrics %d and %d share name %q", prev, id, name)
		}
		seen[name] = id
	}
	if len(CounterIDs()) != int(metricIDCount)-1 {
		t.Fatalf("CounterIDs must exclude only the latency histogram")
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.Inc(MetricLoginSuccess)
	m.Observe(MetricAuthenticateLatency, time.Millisecond)
	if m.Value(MetricLoginSuccess) != 0 || m.Enabled() {
		t.Fatal("nil metrics must read as zero")
	}
	if snap := m.Snapshot(); len(snap.Counters) != 0 {
		t.Fatalf("expected empty snapshot, got %v", snap.Counters)
	}
}
