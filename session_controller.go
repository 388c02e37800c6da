package cardauth

import (
	"context"
	"strings"
	"sync"

	"github.com/MrEthical07/cardauth/internal/audit"
	"github.com/MrEthical07/cardauth/internal/logging"
	"github.com/MrEthical07/cardauth/issuer"
	"go.uber.org/zap"
)

// DefaultLogoutReason is recorded when a logout does not name one.
const DefaultLogoutReason = "logout"

// SessionController is the single authority on whether the user is signed in.
// It owns the state machine Initializing -> Anonymous <-> Authenticated and
// multicasts every change to its listeners.
type SessionController struct {
	tokens  *TokenStore
	backend issuer.Backend
	opts    options

	mu        sync.RWMutex
	state     SessionState
	refresher func(context.Context) (Bundle, error)

	obs *observer
}

// NewSessionController hydrates the session from the stored bundle. The session is
// Authenticated only when an unexpired bundle with a principal is stored.
func NewSessionController(ctx context.Context, tokens *TokenStore, backend issuer.Backend, opts ...Option) *SessionController {
	c := &SessionController{
		tokens:  tokens,
		backend: backend,
		opts:    applyOptions(opts),
		state:   SessionState{Phase: PhaseInitializing},
	}
	c.obs = newObserver(c.opts.logger, func() { c.opts.metrics.Inc(MetricListenerRemoved) })
	c.setState(c.hydrate(ctx))
	return c
}

func (c *SessionController) hydrate(ctx context.Context) SessionState {
	b, ok, err := c.tokens.Bundle(ctx)
	if err != nil {
		c.opts.logger.Warn("hydrate session", zap.Error(err))
		return anonymous()
	}
	if !ok || b.Principal.ID == "" || !c.opts.now().Before(b.Expiry()) {
		return anonymous()
	}
	return authenticated(b.Principal)
}

func anonymous() SessionState {
	return SessionState{Phase: PhaseAnonymous}
}

func authenticated(p Principal) SessionState {
	return SessionState{Phase: PhaseAuthenticated, Principal: &p}
}

// State returns the current session state.
func (c *SessionController) State() SessionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Subscribe registers fn and calls it at once with the current state. The returned
// func unsubscribes; calling it more than once is safe.
func (c *SessionController) Subscribe(fn Listener) func() {
	c.mu.Lock()
	unsubscribe := c.obs.subscribe(fn, c.state)
	c.mu.Unlock()
	c.obs.drain()
	return unsubscribe
}

func (c *SessionController) setState(next SessionState) {
	c.mu.Lock()
	if c.state.equal(next) {
		c.mu.Unlock()
		return
	}
	c.state = next
	c.obs.enqueue(next)
	c.mu.Unlock()

	c.opts.logger.Debug("session state changed", zap.Stringer("phase", next.Phase))
	c.obs.drain()
}

// Tokens returns the store the controller persists into.
func (c *SessionController) Tokens() *TokenStore {
	return c.tokens
}

func (c *SessionController) validation(key string) *Error {
	return &Error{Kind: KindValidation, Message: Localize(c.opts.locale, key)}
}

func (c *SessionController) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.tokens.cfg.CallTimeout)
}

// Login exchanges credentials for a bundle, persists it and transitions to
// Authenticated.
func (c *SessionController) Login(ctx context.Context, creds Credentials) (Principal, error) {
	creds.Email = strings.TrimSpace(creds.Email)
	if creds.Email == "" || creds.Password == "" {
		return Principal{}, c.validation(string(KindValidation))
	}

	callCtx, cancel := c.callCtx(ctx)
	b, err := c.backend.Login(callCtx, creds)
	cancel()
	if err != nil {
		cerr := classify(c.opts.locale, err)
		c.opts.metrics.Inc(MetricLoginFailure)
		c.audit(ctx, audit.EventLogin, Principal{Email: creds.Email}, cerr)
		c.opts.logger.Info("login failed",
			zap.String("email", logging.MaskEmail(creds.Email)),
			zap.String("kind", string(cerr.Kind)),
		)
		return Principal{}, cerr
	}

	if err := c.tokens.Persist(ctx, b); err != nil {
		c.opts.metrics.Inc(MetricLoginFailure)
		return Principal{}, err
	}
	c.setState(authenticated(b.Principal))
	c.opts.metrics.Inc(MetricLoginSuccess)
	c.audit(ctx, audit.EventLogin, b.Principal, nil)
	return b.Principal, nil
}

// Register creates an account. A mismatched confirmation fails before any backend
// call. When the backend issues a bundle right away the session becomes
// Authenticated.
func (c *SessionController) Register(ctx context.Context, reg Registration) (RegisterResult, error) {
	reg.Email = strings.TrimSpace(reg.Email)
	if reg.Password != reg.ConfirmPassword {
		return RegisterResult{}, c.validation(MsgPasswordMismatch)
	}
	if reg.Email == "" || reg.Password == "" {
		return RegisterResult{}, c.validation(string(KindValidation))
	}

	callCtx, cancel := c.callCtx(ctx)
	res, err := c.backend.Register(callCtx, issuer.Credentials{Email: reg.Email, Password: reg.Password})
	cancel()
	if err != nil {
		cerr := classify(c.opts.locale, err)
		c.opts.metrics.Inc(MetricRegisterFailure)
		c.audit(ctx, audit.EventRegister, Principal{Email: reg.Email}, cerr)
		return RegisterResult{}, cerr
	}

	out := RegisterResult{Principal: res.Principal}
	if res.Bundle != nil {
		b := *res.Bundle
		if b.Principal.IsZero() {
			b.Principal = res.Principal
		}
		if err := c.tokens.Persist(ctx, b); err != nil {
			c.opts.metrics.Inc(MetricRegisterFailure)
			return RegisterResult{}, err
		}
		out.Principal = b.Principal
		out.Authenticated = true
		c.setState(authenticated(b.Principal))
	}
	c.opts.metrics.Inc(MetricRegisterSuccess)
	c.audit(ctx, audit.EventRegister, out.Principal, nil)
	return out, nil
}

// Logout revokes the current credential and clears the session.
func (c *SessionController) Logout(ctx context.Context) LogoutOutcome {
	c.opts.metrics.Inc(MetricLogout)
	return c.end(ctx, DefaultLogoutReason, audit.EventLogout)
}

// ForceLogout is Logout with a caller-supplied revocation reason.
func (c *SessionController) ForceLogout(ctx context.Context, reason string) LogoutOutcome {
	if reason == "" {
		reason = DefaultLogoutReason
	}
	c.opts.metrics.Inc(MetricForceLogout)
	return c.end(ctx, reason, audit.EventForceLogout)
}

// end revokes best effort, then always clears. Running it on an already
// anonymous session is a no-op apart from the clear.
func (c *SessionController) end(ctx context.Context, reason, event string) LogoutOutcome {
	var out LogoutOutcome

	b, ok, err := c.tokens.Bundle(ctx)
	if err != nil {
		c.opts.logger.Warn("load bundle for logout", zap.Error(err))
	}
	if ok && b.AccessToken != "" {
		callCtx, cancel := c.callCtx(ctx)
		rerr := c.backend.Revoke(callCtx, b.AccessToken, reason)
		cancel()
		if rerr != nil {
			c.opts.metrics.Inc(MetricRevokeFailure)
			c.opts.logger.Warn("revoke failed, clearing anyway", zap.Error(rerr))
			out.RevokeErr = classify(c.opts.locale, rerr)
		}
	}

	out.ClearErr = c.tokens.Clear(ctx)
	c.setState(anonymous())

	ev := AuditEvent{Metadata: map[string]string{"reason": reason}}
	if ok {
		ev.UserID = b.Principal.ID
	}
	if e := out.Err(); e != nil {
		ev.Error = e.Error()
	}
	c.emit(ctx, event, ev)
	return out
}

// ApplyRemoteLogout ends the session after another tab logged out. The other tab
// already revoked the credential, so nothing is sent to the backend.
func (c *SessionController) ApplyRemoteLogout(ctx context.Context) error {
	c.opts.metrics.Inc(MetricRemoteLogout)
	err := c.tokens.clearLocal(ctx)
	c.setState(anonymous())
	c.emit(ctx, audit.EventRemoteLogout, AuditEvent{})
	return err
}

// Resync recomputes the state from storage. Another tab may have replaced or
// removed the bundle.
func (c *SessionController) Resync(ctx context.Context) {
	c.setState(c.hydrate(ctx))
}

// IsAuthenticated re-validates the stored session, refreshing a credential that
// is about to expire. A failed check ends the session locally.
func (c *SessionController) IsAuthenticated(ctx context.Context) bool {
	b, ok, err := c.tokens.Bundle(ctx)
	if err != nil || !ok {
		c.setState(anonymous())
		return false
	}
	if c.tokens.dueForRefresh(b) {
		if b, err = c.refresh(ctx); err != nil {
			c.opts.logger.Debug("session re-validation failed", zap.Error(err))
			c.setState(anonymous())
			return false
		}
	}
	c.setState(authenticated(b.Principal))
	return true
}

// useRefresher routes the controller's refreshes through fn. A Client installs
// its own so that every refresh of this session shares one flight.
func (c *SessionController) useRefresher(fn func(context.Context) (Bundle, error)) {
	c.mu.Lock()
	c.refresher = fn
	c.mu.Unlock()
}

func (c *SessionController) refresh(ctx context.Context) (Bundle, error) {
	c.mu.RLock()
	fn := c.refresher
	c.mu.RUnlock()
	if fn == nil {
		return c.tokens.Refresh(ctx)
	}
	return fn(ctx)
}

// ForgotPassword asks the backend to send a reset link. The backend does not
// reveal whether the address has an account.
func (c *SessionController) ForgotPassword(ctx context.Context, email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return c.validation(string(KindValidation))
	}
	callCtx, cancel := c.callCtx(ctx)
	defer cancel()
	c.opts.metrics.Inc(MetricPasswordResetRequest)
	if err := c.backend.ForgotPassword(callCtx, email); err != nil {
		return classify(c.opts.locale, err)
	}
	c.audit(ctx, audit.EventPasswordForgot, Principal{Email: email}, nil)
	return nil
}

// ResetPassword completes a reset with the token from the reset link.
func (c *SessionController) ResetPassword(ctx context.Context, token, newPassword, confirm string) error {
	if newPassword != confirm {
		return c.validation(MsgPasswordMismatch)
	}
	if token == "" || newPassword == "" {
		return c.validation(string(KindValidation))
	}
	callCtx, cancel := c.callCtx(ctx)
	defer cancel()
	if err := c.backend.ResetPassword(callCtx, token, newPassword); err != nil {
		cerr := classify(c.opts.locale, err)
		c.audit(ctx, audit.EventPasswordReset, Principal{}, cerr)
		return cerr
	}
	c.opts.metrics.Inc(MetricPasswordResetConfirm)
	c.audit(ctx, audit.EventPasswordReset, Principal{}, nil)
	return nil
}

func (c *SessionController) audit(ctx context.Context, event string, p Principal, err error) {
	ev := AuditEvent{UserID: p.ID, Email: logging.MaskEmail(p.Email)}
	if err != nil {
		ev.Error = err.Error()
	}
	c.emit(ctx, event, ev)
}

func (c *SessionController) emit(ctx context.Context, event string, ev AuditEvent) {
	if c.opts.auditor == nil {
		return
	}
	ev.Timestamp = c.opts.now()
	ev.EventType = event
	ev.Success = ev.Error == ""
	c.opts.auditor.Emit(ctx, ev)
}
