// Package prometheus exposes goGuard engine counters as a prometheus.Collector.
//
// [NewExporter] wraps an engine; register it with any registry or mount
// [Exporter.Handler], which uses a private registry. Counters are named
// goguard_*_total and the Authenticate latency histogram is
// goguard_authenticate_latency_seconds.
package prometheus
