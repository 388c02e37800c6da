package middleware

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrEthical07/cardauth"
	"github.com/MrEthical07/cardauth/internal/rate"
	"github.com/MrEthical07/cardauth/revocation"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var gateNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

const validToken = "tok-ada"

type gateFixture struct {
	gate        *Gate
	metrics     *cardauth.Metrics
	revocations *revocation.Memory
	validations atomic.Int32
}

type failingChecker struct{}

func (failingChecker) IsRevoked(context.Context, string) (bool, error) {
	return false, revocation.ErrUnavailable
}

func newGateFixture(t *testing.T, opts ...Option) *gateFixture {
	t.Helper()
	f := &gateFixture{
		metrics:     cardauth.NewMetrics(cardauth.MetricsConfig{Enabled: true}),
		revocations: revocation.NewMemory(),
	}
	v := ValidatorFunc(func(_ context.Context, token string) (cardauth.Principal, error) {
		f.validations.Add(1)
		if token != validToken {
			return cardauth.Principal{}, errors.New("bad token")
		}
		return cardauth.Principal{ID: "user-1", Email: "ada@example.com"}, nil
	})
	clock := func() time.Time { return gateNow }
	base := []Option{
		WithRevocations(f.revocations),
		WithLimiter(rate.New().WithClock(clock)),
		WithLogger(zaptest.NewLogger(t)),
		WithMetrics(f.metrics),
		WithClock(clock),
	}
	f.gate = NewGate(cardauth.DefaultConfig().Gate, v, append(base, opts...)...)
	return f
}

func (f *gateFixture) serve(method, target, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	f.gate.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, _ := cardauth.PrincipalFromContext(r.Context())
		_, _ = io.WriteString(w, "ok:"+p.ID)
	})).ServeHTTP(rr, req)
	return rr
}

func TestRouteTableClassify(t *testing.T) {
	routes := NewRouteTable(cardauth.DefaultConfig().Gate)
	cases := []struct {
		path string
		want RouteClass
		api  bool
	}{
		{"/", ClassPublic, false},
		{"/healthz", ClassPublic, false},
		{"/auth/v1/token", ClassPublic, false},
		{"/login", ClassGuestOnly, false},
		{"/reset-password", ClassGuestOnly, false},
		{"/api", ClassProtected, false},
		{"/api/decks", ClassProtected, true},
		{"/flashcards", ClassProtected, false},
		{"/flashcards/42", ClassProtected, false},
		{"/flashcardsx", ClassDefault, false},
		{"/about", ClassDefault, false},
	}
	for _, tc := range cases {
		t.Run(tc.path, func(t *testing.T) {
			assert.Equal(t, tc.want, routes.Classify(tc.path))
			assert.Equal(t, tc.api, routes.IsAPI(tc.path))
		})
	}
}

func TestGateProtectedAPIWithoutCredential(t *testing.T) {
	f := newGateFixture(t)

	rr := f.serve(http.MethodGet, "/api/decks", "")

	require.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "application/json; charset=utf-8", rr.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"error":{"code":"unauthorized","message":"authentication required"}}`, rr.Body.String())
	assert.Empty(t, rr.Header().Get("X-RateLimit-Limit"))
	assert.EqualValues(t, 1, f.metrics.Value(cardauth.MetricGateUnauthorized))
}

func TestGateRevokedCredentialLooksMissing(t *testing.T) {
	f := newGateFixture(t)
	rec := revocation.NewRecord(validToken, "jti-1", "compromised", time.Now(), time.Hour)
	require.NoError(t, f.revocations.Revoke(context.Background(), rec))

	for _, target := range []string{"/api/decks", "/flashcards"} {
		missing := f.serve(http.MethodGet, target, "")
		revoked := f.serve(http.MethodGet, target, validToken)

		assert.Equal(t, missing.Code, revoked.Code, target)
		assert.Equal(t, missing.Header(), revoked.Header(), target)
		assert.Equal(t, missing.Body.Bytes(), revoked.Body.Bytes(), target)
	}
	assert.EqualValues(t, 2, f.metrics.Value(cardauth.MetricGateRevokedPresented))
}

func TestGateProtectedPageRedirectsToLogin(t *testing.T) {
	f := newGateFixture(t)

	rr := f.serve(http.MethodGet, "/flashcards?deck=7", "")

	require.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, "/login?next=%2Fflashcards%3Fdeck%3D7", rr.Header().Get("Location"))
}

func TestGateGuestOnlyRejectsSignedInCaller(t *testing.T) {
	f := newGateFixture(t)

	rr := f.serve(http.MethodGet, "/login", validToken)
	require.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, "/", rr.Header().Get("Location"))

	rr = f.serve(http.MethodGet, "/login", "")
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestGateGuestOnlyAPIIsForbidden(t *testing.T) {
	cfg := cardauth.DefaultConfig().Gate
	cfg.GuestPaths = []string{"/api/signup"}
	cfg.Protected = []string{"/api/decks"}
	g := NewGate(cfg, ValidatorFunc(func(context.Context, string) (cardauth.Principal, error) {
		return cardauth.Principal{ID: "user-1"}, nil
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/signup", nil)
	req.Header.Set("Authorization", "Bearer anything")
	d := g.Evaluate(req)

	assert.Equal(t, OutcomeForbidden, d.Outcome)
	rr := httptest.NewRecorder()
	g.Write(rr, req, d)
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestGateRateLimitsAuthenticatedCaller(t *testing.T) {
	f := newGateFixture(t)
	policy := rate.PolicyFor("/api/generations", http.MethodPost)

	for i := 0; i < policy.Limit; i++ {
		rr := f.serve(http.MethodPost, "/api/generations", validToken)
		require.Equal(t, http.StatusOK, rr.Code, "request %d", i)
		assert.Equal(t, strconv.Itoa(policy.Limit-i-1), rr.Header().Get("X-RateLimit-Remaining"))
	}

	rr := f.serve(http.MethodPost, "/api/generations", validToken)
	require.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, strconv.Itoa(policy.Limit), rr.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", rr.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, strconv.FormatInt(gateNow.Add(policy.Window).Unix(), 10), rr.Header().Get("X-RateLimit-Reset"))
	assert.Equal(t, "60", rr.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"error":{"code":"rate_limited","message":"too many requests"}}`, rr.Body.String())
	assert.EqualValues(t, 1, f.metrics.Value(cardauth.MetricGateRateLimited))

	// Reads on the same route have their own window.
	rr = f.serve(http.MethodGet, "/api/decks", validToken)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestGateRateLimitSharedAcrossResourceIDs(t *testing.T) {
	f := newGateFixture(t)
	policy := rate.PolicyFor("/api/flashcards/1", http.MethodDelete)

	for i := 1; i <= policy.Limit; i++ {
		rr := f.serve(http.MethodDelete, "/api/flashcards/"+strconv.Itoa(i), validToken)
		require.Equal(t, http.StatusOK, rr.Code, "request %d", i)
	}

	rr := f.serve(http.MethodDelete, "/api/flashcards/999", validToken)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
}

func TestGateRevocationCheckFailureAllowsRequest(t *testing.T) {
	f := newGateFixture(t, WithRevocations(failingChecker{}))

	rr := f.serve(http.MethodGet, "/api/decks", validToken)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok:user-1", rr.Body.String())
	assert.EqualValues(t, 1, f.metrics.Value(cardauth.MetricRevocationCheckError))
}

func TestGateDefaultRouteCredentialOptional(t *testing.T) {
	f := newGateFixture(t)

	rr := f.serve(http.MethodGet, "/about", "")
	assert.Equal(t, "ok:", rr.Body.String())

	rr = f.serve(http.MethodGet, "/about", "garbage")
	assert.Equal(t, "ok:", rr.Body.String())

	rr = f.serve(http.MethodGet, "/about", validToken)
	assert.Equal(t, "ok:user-1", rr.Body.String())
}

func TestGatePublicRouteSkipsValidation(t *testing.T) {
	f := newGateFixture(t)

	rr := f.serve(http.MethodGet, "/healthz", validToken)

	assert.Equal(t, "ok:", rr.Body.String())
	assert.EqualValues(t, 0, f.validations.Load())
}

func TestGateCredentialCookie(t *testing.T) {
	f := newGateFixture(t, WithCredentialCookie("cb-access"))

	req := httptest.NewRequest(http.MethodGet, "/flashcards", nil)
	req.AddCookie(&http.Cookie{Name: "cb-access", Value: validToken})

	d := f.gate.Evaluate(req)
	assert.Equal(t, OutcomeAllow, d.Outcome)
	assert.Equal(t, "user-1", d.Principal.ID)
}

func TestGateAuditsDenials(t *testing.T) {
	sink := cardauth.NewChannelSink(8)
	auditor := cardauth.NewAuditor(cardauth.AuditConfig{Enabled: true, BufferSize: 8}, sink)
	f := newGateFixture(t, WithAuditor(auditor))

	f.serve(http.MethodGet, "/api/decks", "")
	auditor.Close()

	select {
	case ev := <-sink.Events():
		assert.Equal(t, "gate_denied", ev.EventType)
		assert.Equal(t, "/api/decks", ev.Route)
		assert.Equal(t, "unauthorized", ev.Metadata["outcome"])
	default:
		t.Fatal("expected a gate_denied event")
	}
}

func TestDownstreamForwardsCredential(t *testing.T) {
	var got atomic.Value
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.Store(r.Header.Get("Authorization"))
	}))
	defer upstream.Close()

	f := newGateFixture(t, WithDownstreamClient(upstream.Client()))
	req := httptest.NewRequest(http.MethodGet, "/api/decks", nil)
	req.Header.Set("Authorization", "Bearer "+validToken)
	rr := httptest.NewRecorder()

	f.gate.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ds, ok := DownstreamFromContext(r.Context())
		require.True(t, ok)
		resp, err := ds.Get(r.Context(), upstream.URL)
		require.NoError(t, err)
		_ = resp.Body.Close()
		assert.Equal(t, validToken, cardauth.BearerFromContext(r.Context()))
	})).ServeHTTP(rr, req)

	assert.Equal(t, "Bearer "+validToken, got.Load())

	ds, ok := DownstreamFromContext(context.Background())
	assert.False(t, ok)
	assert.False(t, ds.Authenticated())
}

func TestGinHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	f := newGateFixture(t)

	router := gin.New()
	router.Use(GinHandler(f.gate))
	router.GET("/api/me", func(c *gin.Context) {
		p, ok := GinPrincipal(c)
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.String(http.StatusOK, p.Email)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set("Authorization", "Bearer "+validToken)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ada@example.com", rr.Body.String())
	assert.Equal(t, "99", rr.Header().Get("X-RateLimit-Remaining"))
}

func TestBearerToken(t *testing.T) {
	cases := map[string]string{
		"Bearer abc":   "abc",
		"bearer abc":   "abc",
		"Bearer  abc ": "abc",
		"Basic abc":    "",
		"Bearer ":      "",
		"":             "",
	}
	for in, want := range cases {
		got, ok := bearerToken(in)
		assert.Equal(t, want != "", ok, in)
		assert.Equal(t, want, got, in)
	}
}
