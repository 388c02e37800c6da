package cardauth

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/MrEthical07/cardauth/broadcast"
	"github.com/MrEthical07/cardauth/internal/rate"
	"github.com/MrEthical07/cardauth/issuer"
	"github.com/MrEthical07/cardauth/jwt"
	"github.com/MrEthical07/cardauth/revocation"
	"github.com/MrEthical07/cardauth/session"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Engine holds the shared components of one deployment: the issuing backend,
// the revocation store, the rate limiter and the broadcast transport. Sessions
// opened from it share those components but each has its own controller.
type Engine struct {
	config      Config
	logger      *zap.Logger
	redis       redis.UniversalClient
	httpClient  *http.Client
	now         func() time.Time
	metrics     *Metrics
	auditor     *Auditor
	limiter     *rate.Limiter
	revocations revocation.Store
	hub         *broadcast.Hub
	tokens      *jwt.Manager
	backend     issuer.Backend
	local       *issuer.Local
}

// Close drains the audit dispatcher.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.auditor.Close()
}

// Config returns a copy of the configuration the engine was built with.
func (e *Engine) Config() Config {
	return cloneConfig(e.config)
}

func (e *Engine) Logger() *zap.Logger { return e.logger }

func (e *Engine) Metrics() *Metrics { return e.metrics }

func (e *Engine) Auditor() *Auditor { return e.auditor }

func (e *Engine) Backend() issuer.Backend { return e.backend }

// Local returns the in-process backend, or nil when an external one is used.
func (e *Engine) Local() *issuer.Local { return e.local }

// Tokens returns the access token manager, or nil when no signing key is set.
func (e *Engine) Tokens() *jwt.Manager { return e.tokens }

func (e *Engine) Revocations() revocation.Store { return e.revocations }

func (e *Engine) Limiter() *rate.Limiter { return e.limiter }

// Hub returns the in-process broadcast hub, or nil for other transports.
func (e *Engine) Hub() *broadcast.Hub { return e.hub }

// AuditDropped reports audit events lost to a full buffer.
func (e *Engine) AuditDropped() uint64 {
	return e.auditor.Dropped()
}

// MetricsSnapshot copies the current counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) baseOptions() []Option {
	return []Option{
		WithLogger(e.logger),
		WithMetrics(e.metrics),
		WithAuditor(e.auditor),
		WithLocale(Locale(e.config.Session.Locale)),
		WithClock(e.now),
		WithHTTPClient(e.httpClient),
	}
}

// OpenSession starts a tab: a token store over the configured storage, a
// controller hydrated from it and a client joined to the broadcast channel.
// opts are applied after the engine defaults.
func (e *Engine) OpenSession(ctx context.Context, opts ...Option) (*Client, error) {
	storage := e.newStorage()
	ch, err := e.newChannel(ctx)
	if err != nil {
		return nil, err
	}

	all := append(e.baseOptions(), WithChannel(ch))
	all = append(all, opts...)

	store := NewTokenStore(storage, e.backend, e.config.Session, all...)
	sc := NewSessionController(ctx, store, e.backend, all...)
	return NewClient(sc, e.config.Client, all...), nil
}

func (e *Engine) newStorage() session.Storage {
	if e.config.Storage.Backend == "redis" {
		return session.NewRedisStorage(e.redis, e.config.Storage.RedisPrefix, e.config.Storage.TabGroup, e.config.Storage.TTL)
	}
	return session.NewMemoryStorage()
}

func (e *Engine) newChannel(ctx context.Context) (broadcast.Channel, error) {
	cfg := e.config.Broadcast
	switch cfg.Backend {
	case "memory":
		return e.hub.Join(cfg.Channel), nil
	case "redis":
		ch, err := broadcast.NewRedisChannel(ctx, e.redis, cfg.Channel, e.logger)
		if err != nil {
			return nil, fmt.Errorf("open broadcast channel: %w", err)
		}
		return ch, nil
	case "websocket":
		ch, err := broadcast.DialWS(ctx, cfg.URL+"?channel="+cfg.Channel, e.logger)
		if err != nil {
			return nil, fmt.Errorf("open broadcast channel: %w", err)
		}
		return ch, nil
	default:
		return nil, nil
	}
}

// Run performs background maintenance until ctx is done: it sweeps idle rate
// limit windows and purges expired revocations.
func (e *Engine) Run(ctx context.Context) {
	go e.limiter.RunSweeper(ctx, e.config.Gate.SweepInterval)

	every := e.config.Revocation.PurgeEvery
	if every <= 0 {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := e.revocations.Purge(ctx, e.now())
			if err != nil {
				e.logger.Warn("purge revocations", zap.Error(err))
				continue
			}
			if n > 0 {
				e.logger.Debug("purged revocations", zap.Int("count", n))
			}
		}
	}
}
