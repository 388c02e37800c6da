package middleware

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MrEthical07/cardauth"
	"github.com/MrEthical07/cardauth/internal/audit"
	"github.com/MrEthical07/cardauth/internal/rate"
	"github.com/MrEthical07/cardauth/jwt"
	"github.com/MrEthical07/cardauth/revocation"
	"go.uber.org/zap"
)

// Validator resolves a bearer credential to its principal. [issuer.Backend]
// satisfies it.
type Validator interface {
	Validate(ctx context.Context, accessToken string) (cardauth.Principal, error)
}

// ValidatorFunc adapts a function to [Validator].
type ValidatorFunc func(ctx context.Context, accessToken string) (cardauth.Principal, error)

func (f ValidatorFunc) Validate(ctx context.Context, accessToken string) (cardauth.Principal, error) {
	return f(ctx, accessToken)
}

// JWTValidator verifies access tokens locally with m, without a backend call.
func JWTValidator(m *jwt.Manager) Validator {
	return ValidatorFunc(func(_ context.Context, accessToken string) (cardauth.Principal, error) {
		claims, err := m.ParseAccess(accessToken)
		if err != nil {
			return cardauth.Principal{}, err
		}
		return cardauth.Principal{ID: claims.UID, Email: claims.Email}, nil
	})
}

// Outcome is the verdict of [Gate.Evaluate].
type Outcome int

const (
	OutcomeAllow Outcome = iota
	OutcomeUnauthorized
	OutcomeRedirect
	OutcomeForbidden
	OutcomeRateLimited
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAllow:
		return "allow"
	case OutcomeUnauthorized:
		return "unauthorized"
	case OutcomeRedirect:
		return "redirect"
	case OutcomeForbidden:
		return "forbidden"
	case OutcomeRateLimited:
		return "rate_limited"
	default:
		return "unknown"
	}
}

// RateLimit is the limiter state reported on responses to authenticated callers.
type RateLimit struct {
	Limit      int
	Remaining  int
	Reset      time.Time
	RetryAfter time.Duration
}

// Decision is the transport-neutral result of evaluating one request.
type Decision struct {
	Outcome Outcome
	Class   RouteClass
	API     bool
	// Location is set for OutcomeRedirect.
	Location string
	// Principal and Token are set when the request carried a valid, unrevoked
	// credential.
	Principal cardauth.Principal
	Token     string
	RateLimit *RateLimit
}

// Authenticated reports whether a principal was resolved.
func (d Decision) Authenticated() bool {
	return d.Principal.ID != ""
}

// Gate authorizes inbound requests. It is safe for concurrent use.
type Gate struct {
	routes      *RouteTable
	validator   Validator
	revocations revocation.Checker
	limiter     *rate.Limiter
	loginPath   string
	homePath    string
	cookie      string
	downstream  *http.Client
	logger      *zap.Logger
	metrics     *cardauth.Metrics
	auditor     *cardauth.Auditor
	now         func() time.Time
}

// Option configures a [Gate].
type Option func(*Gate)

// WithRevocations consults c for every presented credential.
func WithRevocations(c revocation.Checker) Option {
	return func(g *Gate) { g.revocations = c }
}

// WithLimiter rate limits authenticated callers through l.
func WithLimiter(l *rate.Limiter) Option {
	return func(g *Gate) { g.limiter = l }
}

// WithCredentialCookie also reads the credential from the named cookie when the
// Authorization header is absent. Page routes need this.
func WithCredentialCookie(name string) Option {
	return func(g *Gate) { g.cookie = name }
}

// WithDownstreamClient sets the transport used by the [Downstream] attached to
// authorized requests.
func WithDownstreamClient(c *http.Client) Option {
	return func(g *Gate) { g.downstream = c }
}

func WithLogger(l *zap.Logger) Option {
	return func(g *Gate) { g.logger = l }
}

func WithMetrics(m *cardauth.Metrics) Option {
	return func(g *Gate) { g.metrics = m }
}

func WithAuditor(a *cardauth.Auditor) Option {
	return func(g *Gate) { g.auditor = a }
}

func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

// NewGate returns a gate over the routes in cfg. Without [WithLimiter] no rate
// limit applies; without [WithRevocations] no revocation check runs.
func NewGate(cfg cardauth.GateConfig, v Validator, opts ...Option) *Gate {
	g := &Gate{
		routes:    NewRouteTable(cfg),
		validator: v,
		loginPath: cfg.LoginPath,
		homePath:  cfg.HomePath,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	if g.logger == nil {
		g.logger = zap.NewNop()
	}
	if g.now == nil {
		g.now = time.Now
	}
	if g.downstream == nil {
		g.downstream = http.DefaultClient
	}
	if g.loginPath == "" {
		g.loginPath = "/login"
	}
	if g.homePath == "" {
		g.homePath = "/"
	}
	return g
}

// FromEngine builds a gate sharing the engine's revocation store, limiter,
// metrics and auditor. Tokens are verified locally when the engine holds a
// signing key, and through the backend otherwise.
func FromEngine(e *cardauth.Engine, opts ...Option) *Gate {
	var v Validator = e.Backend()
	if m := e.Tokens(); m != nil {
		v = JWTValidator(m)
	}
	base := []Option{
		WithRevocations(e.Revocations()),
		WithLimiter(e.Limiter()),
		WithLogger(e.Logger().Named("gate")),
		WithMetrics(e.Metrics()),
		WithAuditor(e.Auditor()),
	}
	return NewGate(e.Config().Gate, v, append(base, opts...)...)
}

// Routes returns the gate's route table.
func (g *Gate) Routes() *RouteTable { return g.routes }

// Evaluate runs the gate pipeline for r: classify the route, resolve the
// credential, enforce the class, then rate limit authenticated callers.
func (g *Gate) Evaluate(r *http.Request) Decision {
	start := g.now()
	defer func() { g.metrics.Observe(cardauth.MetricGateLatency, g.now().Sub(start)) }()

	path := r.URL.Path
	d := Decision{
		Class: g.routes.Classify(path),
		API:   g.routes.IsAPI(path),
	}
	if d.Class == ClassPublic {
		g.metrics.Inc(cardauth.MetricGateAllowed)
		return d
	}

	if token, ok := g.credential(r); ok {
		if p, ok := g.resolve(r.Context(), token, path); ok {
			d.Principal = p
			d.Token = token
		}
	}

	switch {
	case d.Class == ClassProtected && !d.Authenticated():
		if d.API {
			d.Outcome = OutcomeUnauthorized
		} else {
			d.Outcome = OutcomeRedirect
			d.Location = g.loginPath + "?next=" + url.QueryEscape(r.URL.RequestURI())
		}
		g.deny(r, d)
		return d
	case d.Class == ClassGuestOnly && d.Authenticated():
		if d.API {
			d.Outcome = OutcomeForbidden
		} else {
			d.Outcome = OutcomeRedirect
			d.Location = g.homePath
		}
		g.deny(r, d)
		return d
	}

	if d.Authenticated() && g.limiter != nil {
		pol := rate.PolicyFor(path, r.Method)
		rd := g.limiter.Allow(rate.Key(d.Principal.ID, path, r.Method), pol.Limit, pol.Window)
		d.RateLimit = &RateLimit{
			Limit:      rd.Limit,
			Remaining:  rd.Remaining,
			Reset:      rd.ResetAt,
			RetryAfter: rd.RetryAfter,
		}
		if !rd.Allowed {
			d.Outcome = OutcomeRateLimited
			g.deny(r, d)
			return d
		}
	}

	g.metrics.Inc(cardauth.MetricGateAllowed)
	return d
}

// resolve validates token and checks it against the revocation store. A revoked
// token resolves exactly like a missing one. A failing revocation check lets the
// request through: access tokens are short-lived and the check runs on every
// request.
func (g *Gate) resolve(ctx context.Context, token, route string) (cardauth.Principal, bool) {
	p, err := g.validator.Validate(ctx, token)
	if err != nil || p.ID == "" {
		g.logger.Debug("credential rejected", zap.String("route", route), zap.Error(err))
		return cardauth.Principal{}, false
	}
	if g.revocations == nil {
		return p, true
	}

	revoked, err := g.revocations.IsRevoked(ctx, revocation.HashToken(token))
	switch {
	case err != nil:
		g.metrics.Inc(cardauth.MetricRevocationCheckError)
		g.logger.Warn("revocation check failed, allowing request",
			zap.String("route", route),
			zap.String("user_id", p.ID),
			zap.Error(err),
		)
	case revoked:
		g.metrics.Inc(cardauth.MetricGateRevokedPresented)
		g.auditor.Emit(ctx, cardauth.AuditEvent{
			Timestamp: g.now(),
			EventType: audit.EventRevokedPresent,
			UserID:    p.ID,
			Route:     route,
		})
		return cardauth.Principal{}, false
	}
	return p, true
}

func (g *Gate) credential(r *http.Request) (string, bool) {
	if token, ok := bearerToken(r.Header.Get("Authorization")); ok {
		return token, true
	}
	if g.cookie == "" {
		return "", false
	}
	c, err := r.Cookie(g.cookie)
	if err != nil || c.Value == "" {
		return "", false
	}
	return c.Value, true
}

func (g *Gate) deny(r *http.Request, d Decision) {
	switch d.Outcome {
	case OutcomeUnauthorized:
		g.metrics.Inc(cardauth.MetricGateUnauthorized)
	case OutcomeForbidden:
		g.metrics.Inc(cardauth.MetricGateForbidden)
	case OutcomeRateLimited:
		g.metrics.Inc(cardauth.MetricGateRateLimited)
	case OutcomeRedirect:
		if d.Class == ClassProtected {
			g.metrics.Inc(cardauth.MetricGateUnauthorized)
		} else {
			g.metrics.Inc(cardauth.MetricGateForbidden)
		}
	}
	g.auditor.Emit(r.Context(), cardauth.AuditEvent{
		Timestamp: g.now(),
		EventType: audit.EventGateDenied,
		UserID:    d.Principal.ID,
		Route:     r.URL.Path,
		Metadata: map[string]string{
			"outcome": d.Outcome.String(),
			"class":   d.Class.String(),
			"method":  r.Method,
		},
	})
}

// Attach returns ctx carrying the principal, the raw credential, the caller's
// address and a [Downstream] client that forwards the credential.
func (g *Gate) Attach(ctx context.Context, r *http.Request, d Decision) context.Context {
	ctx = cardauth.WithClientIP(ctx, remoteIP(r))
	if d.Authenticated() {
		ctx = cardauth.WithPrincipal(ctx, d.Principal)
		ctx = cardauth.WithBearer(ctx, d.Token)
	}
	return withDownstream(ctx, newDownstream(g.downstream, d.Token))
}

// Handler wraps next with the gate.
func (g *Gate) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d := g.Evaluate(r)
		if d.Outcome != OutcomeAllow {
			g.Write(w, r, d)
			return
		}
		writeRateHeaders(w.Header(), d)
		next.ServeHTTP(w, r.WithContext(g.Attach(r.Context(), r, d)))
	})
}

// Write renders a rejected decision. A request whose credential was revoked
// gets exactly the response a request without a credential gets.
func (g *Gate) Write(w http.ResponseWriter, r *http.Request, d Decision) {
	switch d.Outcome {
	case OutcomeUnauthorized:
		writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
	case OutcomeRedirect:
		w.Header().Set("Cache-Control", "no-store")
		http.Redirect(w, r, d.Location, http.StatusSeeOther)
	case OutcomeForbidden:
		writeError(w, http.StatusForbidden, "forbidden", "already signed in")
	case OutcomeRateLimited:
		writeRateHeaders(w.Header(), d)
		writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
	}
}

func bearerToken(value string) (string, bool) {
	scheme, token, ok := strings.Cut(value, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", false
	}
	return token, true
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
