package cardauth

import (
	"context"
	"time"

	"github.com/MrEthical07/cardauth/internal/audit"
	"go.uber.org/zap"
)

// AuditEvent is a security-relevant occurrence recorded by the session layer
// or the request gate.
type AuditEvent = audit.Event

// AuditSink receives audit events from the dispatcher goroutine.
type AuditSink = audit.Sink

type NoOpSink = audit.NoOpSink

type ChannelSink = audit.ChannelSink

type JSONWriterSink = audit.JSONWriterSink

type ZapSink = audit.ZapSink

var (
	NewChannelSink    = audit.NewChannelSink
	NewJSONWriterSink = audit.NewJSONWriterSink
	NewZapSink        = audit.NewZapSink
)

// Auditor queues events for a sink. A nil Auditor drops everything.
type Auditor struct {
	d *audit.Dispatcher
}

// AuditorOption configures [NewAuditor].
type AuditorOption func(*audit.Config)

// WithAuditClock sets the clock used to stamp events emitted without a timestamp.
func WithAuditClock(now func() time.Time) AuditorOption {
	return func(c *audit.Config) { c.Now = now }
}

// WithAuditLogger sets where sink panics are reported.
func WithAuditLogger(l *zap.Logger) AuditorOption {
	return func(c *audit.Config) { c.Logger = l }
}

// NewAuditor starts a dispatcher for sink. It returns nil when auditing is disabled.
func NewAuditor(cfg AuditConfig, sink AuditSink, opts ...AuditorOption) *Auditor {
	dc := audit.Config{
		Enabled:    cfg.Enabled,
		BufferSize: cfg.BufferSize,
		DropIfFull: cfg.DropIfFull,
	}
	for _, opt := range opts {
		opt(&dc)
	}
	d := audit.NewDispatcher(dc, sink)
	if d == nil {
		return nil
	}
	return &Auditor{d: d}
}

// Emit queues ev. It never blocks longer than ctx allows.
func (a *Auditor) Emit(ctx context.Context, ev AuditEvent) {
	if a == nil {
		return
	}
	a.d.Emit(ctx, ev)
}

// Dropped reports how many events were discarded because the buffer was full.
func (a *Auditor) Dropped() uint64 {
	if a == nil {
		return 0
	}
	return a.d.Dropped()
}

// Close drains queued events and stops the dispatcher.
func (a *Auditor) Close() {
	if a == nil {
		return
	}
	a.d.Close()
}
