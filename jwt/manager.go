package jwt

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SigningMethod selects the algorithm used to sign access tokens.
type SigningMethod string

const (
	MethodEd25519 SigningMethod = "ed25519"
	MethodHS256   SigningMethod = "hs256"
)

var (
	// ErrInvalidConfig is returned by [NewManager] for unusable configurations.
	ErrInvalidConfig = errors.New("invalid jwt configuration")
	// ErrMissingSubject is returned when an access token is requested without a subject.
	ErrMissingSubject = errors.New("access token subject is required")
	// ErrCannotSign is returned by CreateAccess on verify-only managers.
	ErrCannotSign = errors.New("manager has no signing key")
	// ErrUnknownKey is returned for tokens whose kid header is missing or not trusted.
	ErrUnknownKey = errors.New("unknown signing key")
	// ErrFutureIssuedAt is returned for tokens issued too far in the future.
	ErrFutureIssuedAt = errors.New("token iat too far in the future")
)

// Config describes signing and verification of access tokens.
//
// Config instances are intended to be configured during initialization and then treated as immutable.
type Config struct {
	AccessTTL     time.Duration
	SigningMethod SigningMethod
	// PrivateKey signs tokens. For HS256 it also verifies them. Ed25519 keys may
	// be raw or PEM.
	PrivateKey []byte
	PublicKey  []byte
	Issuer     string
	Audience   string
	Leeway     time.Duration
	RequireIAT bool
	// MaxFutureIAT bounds clock skew on iat. Zero means ten minutes.
	MaxFutureIAT time.Duration
	// KeyID is stamped into the kid header of issued tokens.
	KeyID string
	// VerifyKeys, when set, is the only trusted key set; tokens must name one by kid.
	VerifyKeys map[string][]byte
}

// Manager issues and verifies access tokens. Keys are decoded once in
// [NewManager]; a Manager is safe for concurrent use.
type Manager struct {
	config Config
	now    func() time.Time

	method  jwt.SigningMethod
	signKey any
	// keyring maps kid to verify key. The empty kid holds the default key when
	// no VerifyKeys were configured.
	keyring map[string]any
	parser  *jwt.Parser
}

// AccessClaims is the payload of an access token. The token identifier travels in
// the registered "jti" claim and the subject in "sub".
type AccessClaims struct {
	UID   string `json:"uid"`
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// NewManager validates cfg, decodes its keys and returns a manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.AccessTTL <= 0 {
		return nil, fmt.Errorf("%w: invalid TTL", ErrInvalidConfig)
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, fmt.Errorf("%w: invalid leeway", ErrInvalidConfig)
	}
	if cfg.MaxFutureIAT == 0 {
		cfg.MaxFutureIAT = 10 * time.Minute
	}
	if cfg.MaxFutureIAT < 0 || cfg.MaxFutureIAT > 24*time.Hour {
		return nil, fmt.Errorf("%w: invalid MaxFutureIAT", ErrInvalidConfig)
	}
	cfg.KeyID = strings.TrimSpace(cfg.KeyID)

	m := &Manager{config: cfg, now: time.Now, keyring: make(map[string]any)}
	var err error
	switch cfg.SigningMethod {
	case MethodHS256:
		err = m.loadHS256()
	case MethodEd25519:
		err = m.loadEd25519()
	default:
		err = fmt.Errorf("%w: unsupported signing method %q", ErrInvalidConfig, cfg.SigningMethod)
	}
	if err != nil {
		return nil, err
	}
	if cfg.KeyID != "" && len(cfg.VerifyKeys) > 0 {
		if _, ok := m.keyring[cfg.KeyID]; !ok {
			return nil, fmt.Errorf("%w: KeyID is not present in VerifyKeys", ErrInvalidConfig)
		}
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{m.method.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return m.now() }),
		jwt.WithExpirationRequired(),
	}
	if cfg.Leeway > 0 {
		opts = append(opts, jwt.WithLeeway(cfg.Leeway))
	}
	if cfg.RequireIAT {
		opts = append(opts, jwt.WithIssuedAt())
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	m.parser = jwt.NewParser(opts...)
	return m, nil
}

func (m *Manager) loadHS256() error {
	m.method = jwt.SigningMethodHS256
	if len(m.config.PrivateKey) == 0 {
		return fmt.Errorf("%w: hs256 requires private key", ErrInvalidConfig)
	}
	m.signKey = m.config.PrivateKey
	if len(m.config.VerifyKeys) == 0 {
		m.keyring[""] = m.config.PrivateKey
	}
	for kid, key := range m.config.VerifyKeys {
		if strings.TrimSpace(kid) == "" || len(key) == 0 {
			return fmt.Errorf("%w: verify key set has an empty entry", ErrInvalidConfig)
		}
		m.keyring[kid] = key
	}
	return nil
}

func (m *Manager) loadEd25519() error {
	m.method = jwt.SigningMethodEdDSA
	if len(m.config.PrivateKey) > 0 {
		priv, err := parseEdPrivateKey(m.config.PrivateKey)
		if err != nil {
			return err
		}
		m.signKey = priv
	}
	if len(m.config.PublicKey) > 0 && len(m.config.VerifyKeys) == 0 {
		pub, err := parseEdPublicKey(m.config.PublicKey)
		if err != nil {
			return err
		}
		m.keyring[""] = pub
	}
	for kid, key := range m.config.VerifyKeys {
		if strings.TrimSpace(kid) == "" {
			return fmt.Errorf("%w: verify key set has an empty kid", ErrInvalidConfig)
		}
		pub, err := parseEdPublicKey(key)
		if err != nil {
			return fmt.Errorf("invalid ed25519 verify key for kid %q: %w", kid, err)
		}
		m.keyring[kid] = pub
	}
	if len(m.keyring) == 0 {
		return fmt.Errorf("%w: ed25519 requires public key or verify key set", ErrInvalidConfig)
	}
	return nil
}

// WithClock replaces the clock used for issuing and validating tokens.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	if now != nil {
		m.now = now
	}
	return m
}

// AccessTTL reports the configured lifetime of issued tokens.
func (m *Manager) AccessTTL() time.Duration {
	return m.config.AccessTTL
}

// CreateAccess signs an access token for uid with jti as its identifier. The
// returned time is the expiry, truncated to whole seconds as encoded.
func (m *Manager) CreateAccess(uid, email, jti string) (string, time.Time, error) {
	if strings.TrimSpace(uid) == "" {
		return "", time.Time{}, ErrMissingSubject
	}
	if m.signKey == nil {
		return "", time.Time{}, ErrCannotSign
	}

	now := m.now()
	exp := jwt.NewNumericDate(now.Add(m.config.AccessTTL))
	claims := AccessClaims{
		UID:   uid,
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uid,
			ID:        jti,
			Issuer:    m.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: exp,
		},
	}
	if m.config.Audience != "" {
		claims.Audience = jwt.ClaimStrings{m.config.Audience}
	}

	token := jwt.NewWithClaims(m.method, claims)
	if m.config.KeyID != "" {
		token.Header["kid"] = m.config.KeyID
	}
	signed, err := token.SignedString(m.signKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign access token: %w", err)
	}
	return signed, time.Unix(exp.Unix(), 0), nil
}

// ParseAccess verifies tokenStr and returns its claims. Malformed, expired,
// wrongly signed and wrongly scoped tokens are rejected.
func (m *Manager) ParseAccess(tokenStr string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	token, err := m.parser.ParseWithClaims(tokenStr, claims, m.verifyKey)
	if err != nil {
		return nil, err
	}
	if !token.Valid || claims.UID == "" {
		return nil, jwt.ErrTokenInvalidClaims
	}
	if claims.IssuedAt != nil && claims.IssuedAt.Time.After(m.now().Add(m.config.MaxFutureIAT)) {
		return nil, ErrFutureIssuedAt
	}
	return claims, nil
}

func (m *Manager) verifyKey(t *jwt.Token) (any, error) {
	kid, _ := t.Header["kid"].(string)
	if len(m.config.VerifyKeys) == 0 {
		// Single trusted key; a configured KeyID must still match.
		if m.config.KeyID != "" && kid != m.config.KeyID {
			return nil, ErrUnknownKey
		}
		kid = ""
	}
	key, ok := m.keyring[kid]
	if !ok {
		return nil, ErrUnknownKey
	}
	return key, nil
}

// IsExpired reports whether err came from an expired token.
func IsExpired(err error) bool {
	return errors.Is(err, jwt.ErrTokenExpired)
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid ed25519 private key", ErrInvalidConfig)
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: invalid ed25519 private key type", ErrInvalidConfig)
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid ed25519 public key", ErrInvalidConfig)
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: invalid ed25519 public key type", ErrInvalidConfig)
	}
	return edKey, nil
}
