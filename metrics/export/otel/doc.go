// Package otel publishes goGuard engine counters through OpenTelemetry
// observable instruments.
//
// [NewExporter] registers one Int64ObservableCounter per engine counter and one
// Int64ObservableGauge per latency bucket. The caller owns the MeterProvider.
package otel
