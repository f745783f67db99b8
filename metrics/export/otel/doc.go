// Package otel bridges engine metrics into an OpenTelemetry Meter.
//
// [NewExporter] registers one Int64ObservableCounter per engine counter and
// one Int64ObservableGauge per latency bucket, all fed by a single callback
// that reads the engine snapshot. The caller owns the MeterProvider.
package otel
