package cardauth

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/MrEthical07/cardauth/broadcast"
	"github.com/MrEthical07/cardauth/internal/limiters"
	"github.com/MrEthical07/cardauth/internal/rate"
	"github.com/MrEthical07/cardauth/issuer"
	"github.com/MrEthical07/cardauth/jwt"
	"github.com/MrEthical07/cardauth/password"
	"github.com/MrEthical07/cardauth/revocation"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Builder assembles an [Engine]. A Builder can be used once.
type Builder struct {
	config     Config
	redis      redis.UniversalClient
	postgres   revocation.Executor
	backend    issuer.Backend
	logger     *zap.Logger
	auditSink  AuditSink
	httpClient *http.Client
	resetSink  issuer.ResetSink
	now        func() time.Time

	built bool
}

// New returns a Builder seeded with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the client used by every "redis" backend in the configuration.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithPostgres sets the executor for the "postgres" revocation backend.
func (b *Builder) WithPostgres(exec revocation.Executor) *Builder {
	b.postgres = exec
	return b
}

// WithBackend uses an external issuing backend instead of the in-process one.
func (b *Builder) WithBackend(backend issuer.Backend) *Builder {
	b.backend = backend
	return b
}

func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithHTTPClient(c *http.Client) *Builder {
	b.httpClient = c
	return b
}

// WithResetSink receives password reset tokens minted by the in-process backend.
func (b *Builder) WithResetSink(sink issuer.ResetSink) *Builder {
	b.resetSink = sink
	return b
}

func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires every component.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.redis == nil {
		switch {
		case cfg.Storage.Backend == "redis":
			return nil, errors.New("redis storage requires redis client")
		case cfg.Revocation.Backend == "redis":
			return nil, errors.New("redis revocation requires redis client")
		case cfg.Broadcast.Backend == "redis":
			return nil, errors.New("redis broadcast requires redis client")
		case cfg.Throttle.Enabled:
			return nil, errors.New("login throttling requires redis client")
		}
	}
	if cfg.Revocation.Backend == "postgres" && b.postgres == nil {
		return nil, errors.New("postgres revocation requires postgres executor")
	}

	now := b.now
	if now == nil {
		now = time.Now
	}
	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	httpClient := b.httpClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	engine := &Engine{
		config:     cloneConfig(cfg),
		logger:     logger,
		redis:      b.redis,
		httpClient: httpClient,
		now:        now,
		metrics:    NewMetrics(cfg.Metrics),
		auditor:    NewAuditor(cfg.Audit, b.auditSink, WithAuditClock(now), WithAuditLogger(logger)),
		limiter:    rate.New().WithClock(now),
	}

	// -------- REVOCATION STORE --------
	switch cfg.Revocation.Backend {
	case "redis":
		engine.revocations = revocation.NewRedis(b.redis, cfg.Revocation.RedisPrefix).WithClock(now)
	case "postgres":
		engine.revocations = revocation.NewPostgres(b.postgres).WithClock(now)
	default:
		engine.revocations = revocation.NewMemory().WithClock(now)
	}

	if cfg.Broadcast.Backend == "memory" {
		engine.hub = broadcast.NewHub()
	}

	// -------- TOKENS --------
	if len(cfg.JWT.PrivateKey) > 0 || len(cfg.JWT.PublicKey) > 0 {
		jm, err := jwt.NewManager(jwt.Config{
			AccessTTL:     cfg.JWT.AccessTTL,
			SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
			PrivateKey:    cloneBytes(cfg.JWT.PrivateKey),
			PublicKey:     cloneBytes(cfg.JWT.PublicKey),
			Issuer:        cfg.JWT.Issuer,
		})
		if err != nil {
			return nil, err
		}
		engine.tokens = jm.WithClock(now)
	}

	// -------- ISSUING BACKEND --------
	if b.backend != nil {
		engine.backend = b.backend
	} else {
		if engine.tokens == nil {
			return nil, errors.New("in-process backend requires a JWT signing key")
		}
		ph, err := password.NewArgon2(password.Config{
			Memory:           cfg.Password.Memory,
			Time:             cfg.Password.Time,
			Parallelism:      cfg.Password.Parallelism,
			SaltLength:       cfg.Password.SaltLength,
			KeyLength:        cfg.Password.KeyLength,
			MinPasswordBytes: cfg.Password.MinLength,
		})
		if err != nil {
			return nil, err
		}
		opts := []issuer.LocalOption{
			issuer.WithLocalLogger(logger),
			issuer.WithLocalClock(now),
		}
		if b.resetSink != nil {
			opts = append(opts, issuer.WithResetSink(b.resetSink))
		}
		if t := cfg.Throttle; t.Enabled {
			opts = append(opts,
				issuer.WithLoginGuard(limiters.NewLockout(b.redis, t.RedisPrefix, limiters.LockoutConfig{
					Threshold: t.LoginFailures,
					Duration:  t.LockoutDuration,
				})),
				issuer.WithResetThrottle(limiters.NewWindow(b.redis, t.RedisPrefix+":reset", t.ResetRequests, t.ResetWindow)),
			)
		}
		local, err := issuer.NewLocal(issuer.LocalConfig{
			RefreshTTL:  cfg.JWT.RefreshTTL,
			AutoConfirm: true,
		}, engine.tokens, ph, engine.revocations, opts...)
		if err != nil {
			return nil, fmt.Errorf("build local backend: %w", err)
		}
		engine.local = local
		engine.backend = local
	}

	b.built = true
	return engine, nil
}

func cloneBytes(in []byte) []byte {
	if in == nil {
		return nil
	}
	return append([]byte(nil), in...)
}
