// Package prometheus exposes cardauth metrics through client_golang.
//
// [Collector] implements prometheus.Collector. Register it on your own registry,
// or mount [Collector.Handler] for a standalone /metrics endpoint. Counters are
// named cardauth_*_total; refresh and gate latency are histograms in seconds.
package prometheus
