package envconfig

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/cardauth"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. CARDAUTH_APP_ADDR.
const EnvPrefix = "CARDAUTH"

// Settings is the configuration of the cardauth binaries.
type Settings struct {
	App      AppSettings      `mapstructure:"app"`
	Redis    RedisSettings    `mapstructure:"redis"`
	Postgres PostgresSettings `mapstructure:"postgres"`
	Auth     cardauth.Config  `mapstructure:"auth"`
	// Secrets holds key material copied into Auth after decoding.
	Secrets SecretSettings `mapstructure:"secrets"`
}

type SecretSettings struct {
	JWTPrivateKey string `mapstructure:"jwt_private_key"`
	JWTPublicKey  string `mapstructure:"jwt_public_key"`
}

type AppSettings struct {
	Env  string `mapstructure:"env"`
	Addr string `mapstructure:"addr"`
	// PublicURL is where browsers reach the server; the WebSocket relay and the
	// issuer client are derived from it.
	PublicURL       string        `mapstructure:"public_url"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// RedisSettings configures the shared Redis client. With Embedded set and no
// Addr an in-process miniredis is started instead.
type RedisSettings struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Embedded bool   `mapstructure:"embedded"`
}

// PostgresSettings configures the pool behind the "postgres" revocation backend.
type PostgresSettings struct {
	DSN     string `mapstructure:"dsn"`
	Migrate bool   `mapstructure:"migrate"`
}

// Load reads defaults, then the optional file at path, then the environment.
func Load(path string) (*Settings, error) {
	v := viper.New()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix(EnvPrefix)

	setDefaults(v, cardauth.DefaultConfig())

	if err := bindEnvs(v, keys); err != nil {
		return nil, err
	}
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if s.Secrets.JWTPrivateKey != "" {
		s.Auth.JWT.PrivateKey = []byte(s.Secrets.JWTPrivateKey)
	}
	if s.Secrets.JWTPublicKey != "" {
		s.Auth.JWT.PublicKey = []byte(s.Secrets.JWTPublicKey)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *Settings) Validate() error {
	if strings.TrimSpace(s.App.Addr) == "" {
		return errors.New("app.addr must be set")
	}
	if s.App.ShutdownTimeout <= 0 {
		return errors.New("app.shutdown_timeout must be > 0")
	}
	if s.Auth.Revocation.Backend == "postgres" && s.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required for the postgres revocation backend")
	}
	return s.Auth.Validate()
}

// NeedsRedis reports whether any configured backend uses Redis.
func (s *Settings) NeedsRedis() bool {
	a := s.Auth
	return a.Storage.Backend == "redis" || a.Revocation.Backend == "redis" || a.Broadcast.Backend == "redis" || a.Throttle.Enabled
}

var keys = []string{
	"app.env",
	"app.addr",
	"app.public_url",
	"app.shutdown_timeout",
	"redis.addr",
	"redis.password",
	"redis.db",
	"redis.embedded",
	"postgres.dsn",
	"postgres.migrate",
	"secrets.jwt_private_key",
	"secrets.jwt_public_key",
	"auth.session.refresh_buffer",
	"auth.session.call_timeout",
	"auth.session.refresh_backoff",
	"auth.session.locale",
	"auth.client.renew_interval",
	"auth.client.transient_retries",
	"auth.client.transient_backoff",
	"auth.gate.api_prefix",
	"auth.gate.login_path",
	"auth.gate.home_path",
	"auth.gate.public_paths",
	"auth.gate.guest_paths",
	"auth.gate.protected_paths",
	"auth.gate.sweep_interval",
	"auth.storage.backend",
	"auth.storage.redis_prefix",
	"auth.storage.tab_group",
	"auth.storage.ttl",
	"auth.revocation.backend",
	"auth.revocation.redis_prefix",
	"auth.revocation.ttl",
	"auth.revocation.purge_every",
	"auth.broadcast.backend",
	"auth.broadcast.channel",
	"auth.broadcast.url",
	"auth.jwt.access_ttl",
	"auth.jwt.refresh_ttl",
	"auth.jwt.signing_method",
	"auth.jwt.issuer",
	"auth.password.memory",
	"auth.password.time",
	"auth.password.parallelism",
	"auth.password.salt_length",
	"auth.password.key_length",
	"auth.password.min_length",
	"auth.throttle.enabled",
	"auth.throttle.redis_prefix",
	"auth.throttle.login_failures",
	"auth.throttle.lockout_duration",
	"auth.throttle.reset_requests",
	"auth.throttle.reset_window",
	"auth.audit.enabled",
	"auth.audit.buffer_size",
	"auth.audit.drop_if_full",
	"auth.metrics.enabled",
	"auth.metrics.enable_latency_histograms",
}

func setDefaults(v *viper.Viper, d cardauth.Config) {
	v.SetDefault("app.env", "development")
	v.SetDefault("app.addr", ":8080")
	v.SetDefault("app.public_url", "http://localhost:8080")
	v.SetDefault("app.shutdown_timeout", "10s")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.embedded", true)

	v.SetDefault("postgres.dsn", "")
	v.SetDefault("postgres.migrate", true)

	v.SetDefault("secrets.jwt_private_key", "")
	v.SetDefault("secrets.jwt_public_key", "")

	v.SetDefault("auth.session.refresh_buffer", d.Session.RefreshBuffer)
	v.SetDefault("auth.session.call_timeout", d.Session.CallTimeout)
	v.SetDefault("auth.session.refresh_backoff", d.Session.RefreshBackoff)
	v.SetDefault("auth.session.locale", d.Session.Locale)

	v.SetDefault("auth.client.renew_interval", d.Client.RenewInterval)
	v.SetDefault("auth.client.transient_retries", d.Client.TransientRetries)
	v.SetDefault("auth.client.transient_backoff", d.Client.TransientBackoff)

	v.SetDefault("auth.gate.api_prefix", d.Gate.APIPrefix)
	v.SetDefault("auth.gate.login_path", d.Gate.LoginPath)
	v.SetDefault("auth.gate.home_path", d.Gate.HomePath)
	v.SetDefault("auth.gate.public_paths", d.Gate.PublicPaths)
	v.SetDefault("auth.gate.guest_paths", d.Gate.GuestPaths)
	v.SetDefault("auth.gate.protected_paths", d.Gate.Protected)
	v.SetDefault("auth.gate.sweep_interval", d.Gate.SweepInterval)

	v.SetDefault("auth.storage.backend", d.Storage.Backend)
	v.SetDefault("auth.storage.redis_prefix", d.Storage.RedisPrefix)
	v.SetDefault("auth.storage.tab_group", d.Storage.TabGroup)
	v.SetDefault("auth.storage.ttl", d.Storage.TTL)

	v.SetDefault("auth.revocation.backend", d.Revocation.Backend)
	v.SetDefault("auth.revocation.redis_prefix", d.Revocation.RedisPrefix)
	v.SetDefault("auth.revocation.ttl", d.Revocation.TTL)
	v.SetDefault("auth.revocation.purge_every", d.Revocation.PurgeEvery)

	v.SetDefault("auth.broadcast.backend", d.Broadcast.Backend)
	v.SetDefault("auth.broadcast.channel", d.Broadcast.Channel)
	v.SetDefault("auth.broadcast.url", d.Broadcast.URL)

	v.SetDefault("auth.jwt.access_ttl", d.JWT.AccessTTL)
	v.SetDefault("auth.jwt.refresh_ttl", d.JWT.RefreshTTL)
	v.SetDefault("auth.jwt.signing_method", d.JWT.SigningMethod)
	v.SetDefault("auth.jwt.issuer", d.JWT.Issuer)

	v.SetDefault("auth.password.memory", d.Password.Memory)
	v.SetDefault("auth.password.time", d.Password.Time)
	v.SetDefault("auth.password.parallelism", d.Password.Parallelism)
	v.SetDefault("auth.password.salt_length", d.Password.SaltLength)
	v.SetDefault("auth.password.key_length", d.Password.KeyLength)
	v.SetDefault("auth.password.min_length", d.Password.MinLength)

	v.SetDefault("auth.throttle.enabled", d.Throttle.Enabled)
	v.SetDefault("auth.throttle.redis_prefix", d.Throttle.RedisPrefix)
	v.SetDefault("auth.throttle.login_failures", d.Throttle.LoginFailures)
	v.SetDefault("auth.throttle.lockout_duration", d.Throttle.LockoutDuration)
	v.SetDefault("auth.throttle.reset_requests", d.Throttle.ResetRequests)
	v.SetDefault("auth.throttle.reset_window", d.Throttle.ResetWindow)

	v.SetDefault("auth.audit.enabled", d.Audit.Enabled)
	v.SetDefault("auth.audit.buffer_size", d.Audit.BufferSize)
	v.SetDefault("auth.audit.drop_if_full", d.Audit.DropIfFull)

	v.SetDefault("auth.metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("auth.metrics.enable_latency_histograms", d.Metrics.EnableLatencyHistograms)
}

func bindEnvs(v *viper.Viper, keys []string) error {
	for _, key := range keys {
		envKey := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, EnvPrefix+"_"+envKey); err != nil {
			return fmt.Errorf("bind env for %s: %w", key, err)
		}
	}
	return nil
}
