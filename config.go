package cardauth

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config is the complete configuration of an [Engine].
//
// Config instances are intended to be configured during initialization and then treated as immutable.
type Config struct {
	Session    SessionConfig    `mapstructure:"session"`
	Client     ClientConfig     `mapstructure:"client"`
	Gate       GateConfig       `mapstructure:"gate"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Revocation RevocationConfig `mapstructure:"revocation"`
	Broadcast  BroadcastConfig  `mapstructure:"broadcast"`
	JWT        JWTConfig        `mapstructure:"jwt"`
	Password   PasswordConfig   `mapstructure:"password"`
	Throttle   ThrottleConfig   `mapstructure:"throttle"`
	Audit      AuditConfig      `mapstructure:"audit"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig tunes the token store and session controller.
type SessionConfig struct {
	// RefreshBuffer is how long before expiry a credential is considered due for refresh.
	RefreshBuffer time.Duration `mapstructure:"refresh_buffer"`
	// CallTimeout bounds every backend call. A timeout counts as a failed attempt.
	CallTimeout time.Duration `mapstructure:"call_timeout"`
	// RefreshBackoff lists the waits before each retry; its length is the retry budget.
	RefreshBackoff []time.Duration `mapstructure:"refresh_backoff"`
	Locale         string          `mapstructure:"locale"`
}

/*
====================================
CLIENT CONFIG
====================================
*/

// ClientConfig tunes the authorized request client.
type ClientConfig struct {
	RenewInterval time.Duration `mapstructure:"renew_interval"`
	// TransientRetries is the budget for transport failures on idempotent methods. It
	// is independent of the single auth retry.
	TransientRetries int           `mapstructure:"transient_retries"`
	TransientBackoff time.Duration `mapstructure:"transient_backoff"`
}

/*
====================================
GATE CONFIG
====================================
*/

// GateConfig tunes the inbound request gate.
type GateConfig struct {
	APIPrefix     string        `mapstructure:"api_prefix"`
	LoginPath     string        `mapstructure:"login_path"`
	HomePath      string        `mapstructure:"home_path"`
	PublicPaths   []string      `mapstructure:"public_paths"`
	GuestPaths    []string      `mapstructure:"guest_paths"`
	Protected     []string      `mapstructure:"protected_paths"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

/*
====================================
STORAGE / REVOCATION / BROADCAST
====================================
*/

// StorageConfig selects where the credential bundle lives.
type StorageConfig struct {
	Backend     string        `mapstructure:"backend"` // "memory" (default) or "redis"
	RedisPrefix string        `mapstructure:"redis_prefix"`
	TabGroup    string        `mapstructure:"tab_group"`
	TTL         time.Duration `mapstructure:"ttl"`
}

// RevocationConfig selects the revocation store.
type RevocationConfig struct {
	Backend     string        `mapstructure:"backend"` // "memory" (default), "redis" or "postgres"
	RedisPrefix string        `mapstructure:"redis_prefix"`
	TTL         time.Duration `mapstructure:"ttl"`
	PurgeEvery  time.Duration `mapstructure:"purge_every"`
}

// BroadcastConfig selects the cross-tab transport.
type BroadcastConfig struct {
	Backend string `mapstructure:"backend"` // "none", "memory", "redis" or "websocket"
	Channel string `mapstructure:"channel"`
	URL     string `mapstructure:"url"`
}

/*
====================================
LOCAL ISSUER CONFIG
====================================
*/

// JWTConfig configures access tokens minted by the local issuer.
type JWTConfig struct {
	AccessTTL     time.Duration `mapstructure:"access_ttl"`
	RefreshTTL    time.Duration `mapstructure:"refresh_ttl"`
	SigningMethod string        `mapstructure:"signing_method"` // "hs256" (default) or "ed25519"
	// Keys are raw bytes and are not decoded from config files; loaders set them
	// from secrets.
	PrivateKey []byte `mapstructure:"-"`
	PublicKey  []byte `mapstructure:"-"`
	Issuer     string `mapstructure:"issuer"`
}

// ThrottleConfig bounds login guessing and reset mail on the local issuer.
// Enabling it requires a Redis client.
type ThrottleConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	RedisPrefix     string        `mapstructure:"redis_prefix"`
	LoginFailures   int           `mapstructure:"login_failures"`
	LockoutDuration time.Duration `mapstructure:"lockout_duration"`
	ResetRequests   int           `mapstructure:"reset_requests"`
	ResetWindow     time.Duration `mapstructure:"reset_window"`
}

// PasswordConfig holds Argon2id parameters for the local issuer.
type PasswordConfig struct {
	Memory      uint32 `mapstructure:"memory"` // in KB
	Time        uint32 `mapstructure:"time"`
	Parallelism uint8  `mapstructure:"parallelism"`
	SaltLength  uint32 `mapstructure:"salt_length"`
	KeyLength   uint32 `mapstructure:"key_length"`
	MinLength   int    `mapstructure:"min_length"`
}

/*
====================================
AUDIT / METRICS
====================================
*/

// AuditConfig controls the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled    bool `mapstructure:"enabled"`
	BufferSize int  `mapstructure:"buffer_size"`
	DropIfFull bool `mapstructure:"drop_if_full"`
}

// MetricsConfig controls in-process counters.
type MetricsConfig struct {
	Enabled                 bool `mapstructure:"enabled"`
	EnableLatencyHistograms bool `mapstructure:"enable_latency_histograms"`
}

// DefaultConfig returns the configuration the Builder starts from.
func DefaultConfig() Config {
	return Config{
		Session: SessionConfig{
			RefreshBuffer:  5 * time.Minute,
			CallTimeout:    10 * time.Second,
			RefreshBackoff: []time.Duration{time.Second, 2 * time.Second, 4 * time.Second},
			Locale:         string(LocaleEnglish),
		},
		Client: ClientConfig{
			RenewInterval:    time.Minute,
			TransientRetries: 2,
			TransientBackoff: 200 * time.Millisecond,
		},
		Gate: GateConfig{
			APIPrefix:     "/api/",
			LoginPath:     "/login",
			HomePath:      "/",
			PublicPaths:   []string{"/", "/healthz", "/metrics", "/auth/v1/*"},
			GuestPaths:    []string{"/login", "/register", "/forgot-password", "/reset-password"},
			Protected:     []string{"/api/*", "/flashcards", "/flashcards/*", "/generate", "/account"},
			SweepInterval: 5 * time.Minute,
		},
		Storage: StorageConfig{
			Backend:     "memory",
			RedisPrefix: "cb",
			TabGroup:    "default",
		},
		Revocation: RevocationConfig{
			Backend:     "memory",
			RedisPrefix: "revoked",
			TTL:         24 * time.Hour,
			PurgeEvery:  time.Hour,
		},
		Broadcast: BroadcastConfig{
			Backend: "memory",
			Channel: "cardauth-session",
		},
		JWT: JWTConfig{
			AccessTTL:     15 * time.Minute,
			RefreshTTL:    30 * 24 * time.Hour,
			SigningMethod: "hs256",
			Issuer:        "cardauth",
		},
		Password: PasswordConfig{
			Memory:      65536,
			Time:        3,
			Parallelism: 2,
			SaltLength:  16,
			KeyLength:   32,
			MinLength:   8,
		},
		Throttle: ThrottleConfig{
			Enabled:         false,
			RedisPrefix:     "throttle",
			LoginFailures:   5,
			LockoutDuration: 15 * time.Minute,
			ResetRequests:   3,
			ResetWindow:     time.Hour,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Session.RefreshBackoff = append([]time.Duration(nil), cfg.Session.RefreshBackoff...)
	out.Gate.PublicPaths = append([]string(nil), cfg.Gate.PublicPaths...)
	out.Gate.GuestPaths = append([]string(nil), cfg.Gate.GuestPaths...)
	out.Gate.Protected = append([]string(nil), cfg.Gate.Protected...)
	out.JWT.PrivateKey = append([]byte(nil), cfg.JWT.PrivateKey...)
	out.JWT.PublicKey = append([]byte(nil), cfg.JWT.PublicKey...)
	return out
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	// Session
	if c.Session.RefreshBuffer < 0 {
		return errors.New("Session RefreshBuffer must be >= 0")
	}
	if c.Session.CallTimeout <= 0 {
		return errors.New("Session CallTimeout must be > 0")
	}
	for i, d := range c.Session.RefreshBackoff {
		if d < 0 {
			return fmt.Errorf("Session RefreshBackoff[%d] must be >= 0", i)
		}
	}
	switch Locale(c.Session.Locale) {
	case LocaleEnglish, LocalePolish, "":
	default:
		return fmt.Errorf("unsupported Session Locale %q", c.Session.Locale)
	}

	// Client
	if c.Client.RenewInterval <= 0 {
		return errors.New("Client RenewInterval must be > 0")
	}
	if c.Client.TransientRetries < 0 {
		return errors.New("Client TransientRetries must be >= 0")
	}

	// Gate
	if !strings.HasPrefix(c.Gate.APIPrefix, "/") {
		return errors.New("Gate APIPrefix must start with /")
	}
	if !strings.HasPrefix(c.Gate.LoginPath, "/") || !strings.HasPrefix(c.Gate.HomePath, "/") {
		return errors.New("Gate LoginPath and HomePath must be absolute paths")
	}

	// Storage
	switch c.Storage.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("unsupported Storage Backend %q", c.Storage.Backend)
	}
	if c.Storage.Backend == "redis" && c.Storage.TabGroup == "" {
		return errors.New("Storage TabGroup is required for the redis backend")
	}

	// Revocation
	switch c.Revocation.Backend {
	case "memory", "redis", "postgres":
	default:
		return fmt.Errorf("unsupported Revocation Backend %q", c.Revocation.Backend)
	}
	if c.Revocation.TTL <= 0 {
		return errors.New("Revocation TTL must be > 0")
	}

	// Broadcast
	switch c.Broadcast.Backend {
	case "none", "memory", "redis":
	case "websocket":
		if c.Broadcast.URL == "" {
			return errors.New("Broadcast URL is required for the websocket backend")
		}
	default:
		return fmt.Errorf("unsupported Broadcast Backend %q", c.Broadcast.Backend)
	}
	if c.Broadcast.Backend != "none" && c.Broadcast.Channel == "" {
		return errors.New("Broadcast Channel must be set")
	}

	// JWT
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	if c.JWT.RefreshTTL <= c.JWT.AccessTTL {
		return errors.New("JWT RefreshTTL must exceed AccessTTL")
	}
	if c.JWT.AccessTTL <= c.Session.RefreshBuffer {
		return errors.New("JWT AccessTTL must exceed Session RefreshBuffer")
	}
	switch c.JWT.SigningMethod {
	case "hs256", "ed25519":
	default:
		return errors.New("unsupported JWT signing method")
	}

	// Throttle
	if c.Throttle.Enabled {
		if c.Throttle.LoginFailures <= 0 || c.Throttle.ResetRequests <= 0 {
			return errors.New("Throttle LoginFailures and ResetRequests must be > 0")
		}
		if c.Throttle.LockoutDuration <= 0 || c.Throttle.ResetWindow <= 0 {
			return errors.New("Throttle LockoutDuration and ResetWindow must be > 0")
		}
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when enabled")
	}

	return nil
}
