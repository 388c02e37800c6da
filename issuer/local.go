package issuer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/MrEthical07/cardauth/jwt"
	"github.com/MrEthical07/cardauth/password"
	"github.com/MrEthical07/cardauth/refresh"
	"github.com/MrEthical07/cardauth/revocation"
	"github.com/MrEthical07/cardauth/session"
)

// LocalConfig tunes the in-process backend.
type LocalConfig struct {
	RefreshTTL time.Duration
	ResetTTL   time.Duration
	// AutoConfirm issues a bundle on registration instead of waiting for confirmation.
	AutoConfirm bool
}

// DefaultLocalConfig returns the configuration used by the demo server.
func DefaultLocalConfig() LocalConfig {
	return LocalConfig{
		RefreshTTL:  30 * 24 * time.Hour,
		ResetTTL:    time.Hour,
		AutoConfirm: true,
	}
}

// ResetSink receives password reset tokens for delivery.
type ResetSink func(ctx context.Context, email, token string)

// LoginGuard counts failed logins per email.
type LoginGuard interface {
	Locked(ctx context.Context, email string) (bool, error)
	RecordFailure(ctx context.Context, email string) (bool, error)
	Reset(ctx context.Context, email string) error
}

// RequestThrottle bounds how often a key may be used.
type RequestThrottle interface {
	Allow(ctx context.Context, key string) (bool, error)
}

type account struct {
	id           string
	email        string
	passwordHash string
}

type refreshRecord struct {
	userID    string
	family    refresh.Family
	expiresAt time.Time
	used      bool
}

type resetRecord struct {
	userID    string
	expiresAt time.Time
}

// Local is an in-process [Backend].
type Local struct {
	cfg     LocalConfig
	tokens  *jwt.Manager
	hasher  *password.Argon2
	revoked revocation.Store
	sink    ResetSink
	guard   LoginGuard
	resetRL RequestThrottle
	logger  *zap.Logger
	now     func() time.Time

	mu       sync.Mutex
	byEmail  map[string]*account
	byID     map[string]*account
	refresh  map[string]*refreshRecord
	families map[refresh.Family][]string
	resets   map[string]resetRecord
}

// LocalOption configures a [Local].
type LocalOption func(*Local)

// WithResetSink sets where password reset tokens are delivered.
func WithResetSink(sink ResetSink) LocalOption {
	return func(l *Local) { l.sink = sink }
}

// WithLoginGuard rejects logins for emails with too many recent failures.
// Guard errors are logged and do not block the login.
func WithLoginGuard(g LoginGuard) LocalOption {
	return func(l *Local) { l.guard = g }
}

// WithResetThrottle bounds password reset mail per email. Requests over the
// budget are answered like any other so callers cannot probe for accounts.
func WithResetThrottle(t RequestThrottle) LocalOption {
	return func(l *Local) { l.resetRL = t }
}

// WithLocalLogger sets the logger.
func WithLocalLogger(logger *zap.Logger) LocalOption {
	return func(l *Local) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithLocalClock replaces the clock used for refresh and reset expiry.
func WithLocalClock(now func() time.Time) LocalOption {
	return func(l *Local) {
		if now != nil {
			l.now = now
		}
	}
}

// NewLocal builds an in-process backend. revoked receives a record on every Revoke.
func NewLocal(cfg LocalConfig, tokens *jwt.Manager, hasher *password.Argon2, revoked revocation.Store, opts ...LocalOption) (*Local, error) {
	if tokens == nil || hasher == nil || revoked == nil {
		return nil, errors.New("issuer: token manager, hasher and revocation store are required")
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = DefaultLocalConfig().RefreshTTL
	}
	if cfg.ResetTTL <= 0 {
		cfg.ResetTTL = DefaultLocalConfig().ResetTTL
	}

	l := &Local{
		cfg:      cfg,
		tokens:   tokens,
		hasher:   hasher,
		revoked:  revoked,
		logger:   zap.NewNop(),
		now:      time.Now,
		byEmail:  make(map[string]*account),
		byID:     make(map[string]*account),
		refresh:  make(map[string]*refreshRecord),
		families: make(map[refresh.Family][]string),
		resets:   make(map[string]resetRecord),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}

func (l *Local) Login(ctx context.Context, creds Credentials) (session.Bundle, error) {
	email := normalizeEmail(creds.Email)

	if l.guard != nil {
		locked, err := l.guard.Locked(ctx, email)
		if err != nil {
			l.logger.Warn("issuer: login guard unavailable", zap.Error(err))
		}
		if locked {
			return session.Bundle{}, newError(http.StatusTooManyRequests, CodeRateLimited, MsgTooManyAttempts)
		}
	}

	l.mu.Lock()
	acc := l.byEmail[email]
	l.mu.Unlock()

	ok := false
	if acc != nil {
		var err error
		ok, err = l.hasher.Verify(creds.Password, acc.passwordHash)
		ok = ok && err == nil
	} else {
		l.hasher.VerifyAbsent(creds.Password)
	}
	if !ok {
		l.recordFailure(ctx, email)
		return session.Bundle{}, newError(http.StatusBadRequest, CodeInvalidCredentials, MsgInvalidCredentials)
	}

	if l.guard != nil {
		if err := l.guard.Reset(ctx, email); err != nil {
			l.logger.Warn("issuer: login guard reset failed", zap.Error(err))
		}
	}
	return l.issue(acc, nil)
}

func (l *Local) recordFailure(ctx context.Context, email string) {
	if l.guard == nil {
		return
	}
	locked, err := l.guard.RecordFailure(ctx, email)
	if err != nil {
		l.logger.Warn("issuer: login guard unavailable", zap.Error(err))
		return
	}
	if locked {
		l.logger.Warn("issuer: login locked after repeated failures")
	}
}

func (l *Local) Register(_ context.Context, creds Credentials) (RegisterResult, error) {
	email := normalizeEmail(creds.Email)
	if !validEmail(email) {
		return RegisterResult{}, newError(http.StatusBadRequest, CodeValidation, MsgInvalidEmail)
	}

	hash, err := l.hasher.Hash(creds.Password)
	if err != nil {
		if errors.Is(err, password.ErrPasswordTooShort) {
			return RegisterResult{}, WeakPasswordError(l.hasher.MinLength())
		}
		if errors.Is(err, password.ErrPasswordTooLong) {
			return RegisterResult{}, newError(http.StatusBadRequest, CodeValidation, err.Error())
		}
		return RegisterResult{}, fmt.Errorf("hash password: %w", err)
	}

	l.mu.Lock()
	if _, exists := l.byEmail[email]; exists {
		l.mu.Unlock()
		return RegisterResult{}, newError(http.StatusUnprocessableEntity, CodeUserExists, MsgUserExists)
	}
	acc := &account{id: uuid.NewString(), email: email, passwordHash: hash}
	l.byEmail[email] = acc
	l.byID[acc.id] = acc
	l.mu.Unlock()

	l.logger.Info("issuer: account registered", zap.String("user_id", acc.id))

	res := RegisterResult{Principal: session.Principal{ID: acc.id, Email: acc.email}}
	if !l.cfg.AutoConfirm {
		return res, nil
	}
	bundle, err := l.issue(acc, nil)
	if err != nil {
		return RegisterResult{}, err
	}
	res.Bundle = &bundle
	return res, nil
}

func (l *Local) Refresh(_ context.Context, refreshToken string) (session.Bundle, error) {
	presented, err := refresh.Decode(refreshToken)
	if err != nil {
		return session.Bundle{}, newError(http.StatusBadRequest, CodeInvalidRefreshToken, MsgRefreshNotFound)
	}
	hash := presented.Hash()
	now := l.now()

	l.mu.Lock()
	rec := l.refresh[hash]
	switch {
	case rec == nil || rec.family != presented.Family:
		l.mu.Unlock()
		return session.Bundle{}, newError(http.StatusBadRequest, CodeInvalidRefreshToken, MsgRefreshNotFound)
	case rec.used:
		// Replaying a rotated token ends the whole family.
		l.dropFamilyLocked(rec.family)
		l.mu.Unlock()
		l.logger.Warn("issuer: refresh token reuse detected", zap.String("user_id", rec.userID))
		return session.Bundle{}, newError(http.StatusBadRequest, CodeInvalidRefreshToken, MsgRefreshReused)
	case !now.Before(rec.expiresAt):
		l.dropFamilyLocked(rec.family)
		l.mu.Unlock()
		return session.Bundle{}, newError(http.StatusBadRequest, CodeInvalidRefreshToken, MsgRefreshNotFound)
	}
	rec.used = true
	acc := l.byID[rec.userID]
	l.mu.Unlock()

	if acc == nil {
		return session.Bundle{}, newError(http.StatusBadRequest, CodeSessionNotFound, MsgSessionNotFound)
	}
	return l.issue(acc, &presented)
}

func (l *Local) Revoke(ctx context.Context, accessToken, reason string) error {
	claims, err := l.tokens.ParseAccess(accessToken)
	if err != nil {
		return l.tokenError(err)
	}
	rec := revocation.NewRecord(accessToken, claims.ID, reason, l.now(), revocation.DefaultTTL)
	if err := l.revoked.Revoke(ctx, rec); err != nil {
		return fmt.Errorf("record revocation: %w", err)
	}
	return nil
}

func (l *Local) Validate(ctx context.Context, accessToken string) (session.Principal, error) {
	claims, err := l.tokens.ParseAccess(accessToken)
	if err != nil {
		return session.Principal{}, l.tokenError(err)
	}

	l.mu.Lock()
	acc := l.byID[claims.UID]
	l.mu.Unlock()
	if acc == nil {
		return session.Principal{}, newError(http.StatusNotFound, CodeUserNotFound, MsgUserNotFound)
	}
	return session.Principal{ID: acc.id, Email: acc.email}, nil
}

func (l *Local) SignOut(_ context.Context, accessToken string) error {
	claims, err := l.tokens.ParseAccess(accessToken)
	if err != nil {
		return l.tokenError(err)
	}
	l.mu.Lock()
	l.dropUserLocked(claims.UID)
	l.mu.Unlock()
	return nil
}

// ForgotPassword never reports whether the address belongs to an account.
func (l *Local) ForgotPassword(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	if !validEmail(email) {
		return newError(http.StatusBadRequest, CodeValidation, MsgInvalidEmail)
	}

	l.mu.Lock()
	acc := l.byEmail[email]
	l.mu.Unlock()
	if acc == nil {
		return nil
	}
	if l.resetRL != nil {
		ok, err := l.resetRL.Allow(ctx, email)
		if err != nil {
			l.logger.Warn("issuer: reset throttle unavailable", zap.Error(err))
		} else if !ok {
			l.logger.Info("issuer: reset request throttled", zap.String("user_id", acc.id))
			return nil
		}
	}

	tok, err := refresh.New()
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.resets[tok.Hash()] = resetRecord{userID: acc.id, expiresAt: l.now().Add(l.cfg.ResetTTL)}
	l.mu.Unlock()

	if l.sink != nil {
		l.sink(ctx, acc.email, tok.Encode())
	}
	return nil
}

func (l *Local) ResetPassword(_ context.Context, token, newPassword string) error {
	presented, err := refresh.Decode(token)
	if err != nil {
		return newError(http.StatusUnauthorized, CodeInvalidToken, MsgResetTokenInvalid)
	}
	hash := presented.Hash()

	l.mu.Lock()
	rec, ok := l.resets[hash]
	l.mu.Unlock()
	if !ok || !l.now().Before(rec.expiresAt) {
		return newError(http.StatusUnauthorized, CodeInvalidToken, MsgResetTokenInvalid)
	}

	pwHash, err := l.hasher.Hash(newPassword)
	if err != nil {
		if errors.Is(err, password.ErrPasswordTooShort) {
			return WeakPasswordError(l.hasher.MinLength())
		}
		return newError(http.StatusBadRequest, CodeValidation, err.Error())
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.resets[hash]; !ok {
		return newError(http.StatusUnauthorized, CodeInvalidToken, MsgResetTokenInvalid)
	}
	delete(l.resets, hash)
	acc := l.byID[rec.userID]
	if acc == nil {
		return newError(http.StatusNotFound, CodeUserNotFound, MsgUserNotFound)
	}
	acc.passwordHash = pwHash
	l.dropUserLocked(acc.id)
	return nil
}

// issue mints an access token and a refresh token for acc. When rotated is set the
// refresh token stays in its family.
func (l *Local) issue(acc *account, rotated *refresh.Token) (session.Bundle, error) {
	access, expiresAt, err := l.tokens.CreateAccess(acc.id, acc.email, uuid.NewString())
	if err != nil {
		return session.Bundle{}, fmt.Errorf("sign access token: %w", err)
	}

	var next refresh.Token
	if rotated != nil {
		next, err = rotated.Rotate()
	} else {
		next, err = refresh.New()
	}
	if err != nil {
		return session.Bundle{}, err
	}

	hash := next.Hash()
	l.mu.Lock()
	l.refresh[hash] = &refreshRecord{
		userID:    acc.id,
		family:    next.Family,
		expiresAt: l.now().Add(l.cfg.RefreshTTL),
	}
	l.families[next.Family] = append(l.families[next.Family], hash)
	l.mu.Unlock()

	return session.Bundle{
		AccessToken:  access,
		RefreshToken: next.Encode(),
		ExpiresAt:    expiresAt.Unix(),
		Principal:    session.Principal{ID: acc.id, Email: acc.email},
	}, nil
}

func (l *Local) dropFamilyLocked(f refresh.Family) {
	for _, hash := range l.families[f] {
		delete(l.refresh, hash)
	}
	delete(l.families, f)
}

func (l *Local) dropUserLocked(userID string) {
	for f, hashes := range l.families {
		if len(hashes) == 0 {
			continue
		}
		if rec := l.refresh[hashes[0]]; rec != nil && rec.userID == userID {
			l.dropFamilyLocked(f)
		}
	}
}

func (l *Local) tokenError(err error) error {
	if jwt.IsExpired(err) {
		return newError(http.StatusUnauthorized, CodeTokenExpired, MsgTokenExpired)
	}
	return newError(http.StatusUnauthorized, CodeInvalidToken, MsgInvalidJWT)
}

var _ Backend = (*Local)(nil)
