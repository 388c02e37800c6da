package issuer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/MrEthical07/cardauth/session"
)

const maxErrorBody = 64 << 10

// HTTPClient is a [Backend] speaking the JSON binding served by [Handler].
type HTTPClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
	logger  *zap.Logger
}

// Option configures an [HTTPClient].
type Option func(*HTTPClient)

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(c *http.Client) Option {
	return func(h *HTTPClient) {
		if c != nil {
			h.http = c
		}
	}
}

// WithAPIKey sends key in the apikey header of every call.
func WithAPIKey(key string) Option {
	return func(h *HTTPClient) { h.apiKey = key }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(h *HTTPClient) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// NewHTTPClient returns a client rooted at baseURL.
func NewHTTPClient(baseURL string, opts ...Option) *HTTPClient {
	h := &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *HTTPClient) Login(ctx context.Context, creds Credentials) (session.Bundle, error) {
	var out tokenBody
	q := url.Values{"grant_type": {grantPassword}}
	if err := h.call(ctx, http.MethodPost, PathToken+"?"+q.Encode(), "", creds, &out); err != nil {
		return session.Bundle{}, err
	}
	return out.bundle(), nil
}

func (h *HTTPClient) Register(ctx context.Context, creds Credentials) (RegisterResult, error) {
	var out signupBody
	if err := h.call(ctx, http.MethodPost, PathSignup, "", creds, &out); err != nil {
		return RegisterResult{}, err
	}
	res := RegisterResult{Principal: session.Principal{ID: out.User.ID, Email: out.User.Email}}
	if out.Session != nil {
		b := out.Session.bundle()
		res.Bundle = &b
	}
	return res, nil
}

func (h *HTTPClient) Refresh(ctx context.Context, refreshToken string) (session.Bundle, error) {
	var out tokenBody
	q := url.Values{"grant_type": {grantRefresh}}
	if err := h.call(ctx, http.MethodPost, PathToken+"?"+q.Encode(), "", refreshRequest{RefreshToken: refreshToken}, &out); err != nil {
		return session.Bundle{}, err
	}
	return out.bundle(), nil
}

func (h *HTTPClient) Revoke(ctx context.Context, accessToken, reason string) error {
	return h.call(ctx, http.MethodPost, PathRevoke, accessToken, revokeRequest{Reason: reason}, nil)
}

func (h *HTTPClient) Validate(ctx context.Context, accessToken string) (session.Principal, error) {
	var out userBody
	if err := h.call(ctx, http.MethodGet, PathUser, accessToken, nil, &out); err != nil {
		return session.Principal{}, err
	}
	return session.Principal{ID: out.ID, Email: out.Email}, nil
}

func (h *HTTPClient) SignOut(ctx context.Context, accessToken string) error {
	return h.call(ctx, http.MethodPost, PathLogout, accessToken, nil, nil)
}

func (h *HTTPClient) ForgotPassword(ctx context.Context, email string) error {
	return h.call(ctx, http.MethodPost, PathRecover, "", recoverRequest{Email: email}, nil)
}

func (h *HTTPClient) ResetPassword(ctx context.Context, token, newPassword string) error {
	return h.call(ctx, http.MethodPost, PathReset, "", resetRequest{Token: token, Password: newPassword}, nil)
}

func (h *HTTPClient) call(ctx context.Context, method, path, bearer string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", path, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, h.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	if h.apiKey != "" {
		req.Header.Set("apikey", h.apiKey)
	}

	resp, err := h.http.Do(req)
	if err != nil {
		h.logger.Debug("issuer: transport failure", zap.String("path", path), zap.Error(err))
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	e := &Error{}
	if err := json.Unmarshal(data, e); err != nil || e.Message == "" {
		e.Message = strings.TrimSpace(string(data))
		if e.Message == "" {
			e.Message = http.StatusText(resp.StatusCode)
		}
	}
	e.Status = resp.StatusCode
	return e
}

var _ Backend = (*HTTPClient)(nil)
