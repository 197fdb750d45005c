// Package internaldefs holds the metric names, help strings and bucket bounds
// shared by the Prometheus and OTel exporters, so both publish identical series.
//
// Names are derived from goGuard.MetricID values; adding a counter to the
// engine adds it to every exporter.
package internaldefs
