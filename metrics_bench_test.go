package goGuard

import (
	"testing"
	"time"
)

// The counters a busy admin panel touches on every request.
var hotSessionMetricIDs = [...]MetricID{
	MetricRefreshSuccess,
	MetricWarningShown,
	MetricSessionExtended,
	MetricSessionExpired,
	MetricLoginSuccess,
	MetricSessionCreated,
}

func BenchmarkMetricsIncMixedParallel(b *testing.B) {
	m := NewMetrics(MetricsConfig{Enabled: true})
	b.ReportAllocs()
	b.ResetTimer()

	b.RunParallel(func(pb *testing.PB) {
		idx := 0
		for pb.Next() {
			m.Inc(hotSessionMetricIDs[idx])
			idx++
			if idx == len(hotSessionMetricIDs) {
				idx = 0
			}
		}
	})
}

// Authenticate latencies spread over the fast buckets, as seen with a warm
// Redis and a local audit sink.
var authenticateLatencies = [...]time.Duration{
	200 * time.Microsecond,
	3 * time.Millisecond,
	7 * time.Millisecond,
	12 * time.Millisecond,
}

func BenchmarkMetricsObserveLatencyParallel(b *testing.B) {
	m := NewMetrics(MetricsConfig{
		Enabled:                 true,
		EnableLatencyHistograms: true,
	})
	b.ReportAllocs()
	b.ResetTimer()

	b.RunParallel(func(pb *testing.PB) {
		idx := 0
		for pb.Next() {
			m.Observe(MetricAuthenticateLatency, authenticateLatencies[idx])
			idx = (idx + 1) % len(authenticateLatencies)
		}
	})
}

// BenchmarkMetricsSnapshot is the cost of one exporter scrape.
func BenchmarkMetricsSnapshot(b *testing.B) {
	m := NewMetrics(MetricsConfig{
		Enabled:                 true,
		EnableLatencyHistograms: true,
	})
	for _, id := range hotSessionMetricIDs {
		m.Inc(id)
	}
	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		if snap := m.Snapshot(); len(snap.Counters) == 0 {
			b.Fatal("empty snapshot")
		}
	}
}
