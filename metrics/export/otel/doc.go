// Package otel mirrors cardauth metrics onto OpenTelemetry instruments.
//
// [NewExporter] registers one Int64ObservableCounter per counter and, per latency
// histogram, a bucket gauge labelled by "le" plus a count gauge. A single callback
// reads one snapshot per collection. The caller owns the MeterProvider.
package otel
