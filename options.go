package cardauth

import (
	"context"
	"net/http"
	"time"

	"github.com/MrEthical07/cardauth/broadcast"
	"go.uber.org/zap"
)

// Option configures a [TokenStore], [SessionController] or [Client].
// Components ignore options that do not apply to them.
type Option func(*options)

type options struct {
	logger     *zap.Logger
	metrics    *Metrics
	auditor    *Auditor
	locale     Locale
	now        func() time.Time
	sleep      func(ctx context.Context, d time.Duration) error
	channel    broadcast.Channel
	httpClient *http.Client
}

func defaultOptions() options {
	return options{
		logger:     zap.NewNop(),
		locale:     LocaleEnglish,
		now:        time.Now,
		sleep:      sleepContext,
		httpClient: http.DefaultClient,
	}
}

func applyOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// WithLogger sets the logger. A nil logger keeps the no-op default.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics records counters into m.
func WithMetrics(m *Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithAuditor emits audit events through a.
func WithAuditor(a *Auditor) Option {
	return func(o *options) { o.auditor = a }
}

// WithLocale selects the message catalog for classified errors.
func WithLocale(l Locale) Option {
	return func(o *options) {
		if l != "" {
			o.locale = l
		}
	}
}

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithSleeper overrides how retry backoff waits.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(o *options) {
		if sleep != nil {
			o.sleep = sleep
		}
	}
}

// WithChannel attaches the cross-tab broadcast channel. Without one the client
// runs in single-tab mode.
func WithChannel(ch broadcast.Channel) Option {
	return func(o *options) { o.channel = ch }
}

// WithHTTPClient sets the transport used by [Client].
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		if c != nil {
			o.httpClient = c
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
