package cardauth

import (
	"sync/atomic"
	"time"
)

// MetricID identifies an in-process counter.
type MetricID uint16

const (
	MetricLoginSuccess MetricID = iota
	MetricLoginFailure
	MetricRegisterSuccess
	MetricRegisterFailure
	MetricRefreshSuccess
	MetricRefreshFailure
	// MetricRefreshRetry counts retries after a transient refresh failure.
	MetricRefreshRetry
	MetricRefreshRejected
	MetricLogout
	MetricForceLogout
	MetricRemoteLogout
	MetricRevokeFailure
	MetricPasswordResetRequest
	MetricPasswordResetConfirm
	// MetricRequestQueued counts requests parked behind an in-flight refresh.
	MetricRequestQueued
	MetricRequestReplayed
	MetricAuthExpired
	MetricProactiveRenewal
	MetricListenerRemoved
	MetricBroadcastSent
	MetricBroadcastReceived
	MetricGateAllowed
	MetricGateUnauthorized
	MetricGateForbidden
	MetricGateRateLimited
	MetricGateRevokedPresented
	MetricRevocationCheckError
	MetricRefreshLatency
	MetricGateLatency
	metricIDCount
)

// LatencyBuckets are the inclusive upper bounds of the histogram buckets. One
// more bucket catches everything slower.
var LatencyBuckets = [...]time.Duration{
	5 * time.Millisecond,
	10 * time.Millisecond,
	25 * time.Millisecond,
	50 * time.Millisecond,
	100 * time.Millisecond,
	250 * time.Millisecond,
	500 * time.Millisecond,
}

const histBucketCount = len(LatencyBuckets) + 1

// Histograms exist only for these IDs; the index is the histogram slot.
var latencyMetrics = [...]MetricID{MetricRefreshLatency, MetricGateLatency}

// counter sits alone on a cache line so hot counters do not contend.
type counter struct {
	n atomic.Uint64
	_ [56]byte
}

type histogram struct {
	buckets [histBucketCount]atomic.Uint64
	sumNS   atomic.Int64
}

// Metrics holds lock-free counters and coarse latency histograms.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]counter
	latency       [len(latencyMetrics)]histogram
}

// MetricsSnapshot is a point-in-time copy of [Metrics]. Histograms hold
// per-bucket counts, not running totals.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
	Sums       map[MetricID]time.Duration
}

// NewMetrics returns a metrics set configured by cfg.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

// Enabled reports whether counters are recorded.
func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

// LatencyEnabled reports whether latency histograms are recorded.
func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.enableLatency
}

// Inc adds one to id. A nil or disabled Metrics ignores the call.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	m.counters[id].n.Add(1)
}

// Observe records d for a latency metric. Counter IDs are ignored.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enableLatency {
		return
	}
	slot := latencySlot(id)
	if slot < 0 {
		return
	}
	h := &m.latency[slot]
	h.buckets[bucketIndex(d)].Add(1)
	h.sumNS.Add(int64(d))
}

// Value returns the current count for id.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return m.counters[id].n.Load()
}

// Snapshot copies every counter, and the latency histograms when enabled.
func (m *Metrics) Snapshot() MetricsSnapshot {
	s := MetricsSnapshot{
		Counters:   map[MetricID]uint64{},
		Histograms: map[MetricID][]uint64{},
		Sums:       map[MetricID]time.Duration{},
	}
	if m == nil || !m.enabled {
		return s
	}

	for id := MetricID(0); id < metricIDCount; id++ {
		s.Counters[id] = m.counters[id].n.Load()
	}
	if !m.enableLatency {
		return s
	}
	for slot, id := range latencyMetrics {
		h := &m.latency[slot]
		buckets := make([]uint64, histBucketCount)
		for i := range buckets {
			buckets[i] = h.buckets[i].Load()
		}
		s.Histograms[id] = buckets
		s.Sums[id] = time.Duration(h.sumNS.Load())
	}
	return s
}

func latencySlot(id MetricID) int {
	for slot, l := range latencyMetrics {
		if l == id {
			return slot
		}
	}
	return -1
}

func bucketIndex(d time.Duration) int {
	for i, le := range LatencyBuckets {
		if d <= le {
			return i
		}
	}
	return len(LatencyBuckets)
}
