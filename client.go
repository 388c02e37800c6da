package cardauth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/MrEthical07/cardauth/broadcast"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const refreshFlightKey = "refresh"

// Client sends HTTP requests with the session's bearer credential.
//
// Concurrent callers share one refresh. A request rejected with 401 waits for that
// refresh and is then replayed once with the new credential; requests rejected
// while the refresh is in flight are replayed in the order they were rejected.
// When the credential cannot be renewed every waiting request fails with
// [ErrAuthExpired].
type Client struct {
	session *SessionController
	tokens  *TokenStore
	cfg     ClientConfig
	opts    options

	flight singleflight.Group
	queue  authQueue

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewClient starts a client bound to session. Background renewal and the
// broadcast listener run until Close.
func NewClient(session *SessionController, cfg ClientConfig, opts ...Option) *Client {
	if cfg.RenewInterval <= 0 {
		cfg.RenewInterval = time.Minute
	}
	c := &Client{
		session: session,
		tokens:  session.Tokens(),
		cfg:     cfg,
		opts:    applyOptions(opts),
		done:    make(chan struct{}),
	}
	session.useRefresher(c.refresh)

	if broadcast.Available(c.opts.channel) {
		c.wg.Add(1)
		go c.listen()
	} else {
		c.opts.channel = nil
		c.opts.logger.Info("no broadcast channel, session changes stay in this tab")
	}
	c.wg.Add(1)
	go c.renewLoop()
	return c
}

// Session returns the controller the client authorizes for.
func (c *Client) Session() *SessionController {
	return c.session
}

// Do sends req with the current credential.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if c.closed() {
		return nil, ErrClosed
	}
	req, err := rewindable(req)
	if err != nil {
		return nil, err
	}

	token, err := c.credential(req.Context())
	if err != nil {
		return nil, err
	}
	resp, err := c.send(req, token)
	if err != nil {
		return nil, classify(c.opts.locale, err)
	}
	if resp.StatusCode != http.StatusUnauthorized || token == "" {
		return resp, nil
	}
	drain(resp)
	return c.recoverUnauthorized(req, token)
}

// Get is a convenience wrapper around Do.
func (c *Client) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return c.Do(req)
}

// PostJSON sends body encoded as JSON.
func (c *Client) PostJSON(ctx context.Context, url string, body any) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.Do(req)
}

// credential returns the token to send. Requests made without a stored bundle
// go out anonymously. A token inside the refresh buffer is renewed first.
func (c *Client) credential(ctx context.Context) (string, error) {
	b, ok, err := c.tokens.Bundle(ctx)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", nil
	}
	if !c.tokens.dueForRefresh(b) {
		return b.AccessToken, nil
	}
	nb, err := c.refresh(ctx)
	if err != nil {
		c.opts.metrics.Inc(MetricAuthExpired)
		return "", authExpired(err)
	}
	return nb.AccessToken, nil
}

// refresh runs at most one TokenStore.Refresh at a time. Late callers share the
// result of the refresh already in flight.
func (c *Client) refresh(ctx context.Context) (Bundle, error) {
	v, err, shared := c.flight.Do(refreshFlightKey, func() (any, error) {
		detached := context.WithoutCancel(ctx)
		b, err := c.tokens.Refresh(detached)
		c.session.Resync(detached)
		if err != nil {
			return Bundle{}, err
		}
		c.publish(detached, broadcast.TypeTokenRefreshed)
		return b, nil
	})
	if shared {
		c.opts.logger.Debug("joined in-flight refresh")
	}
	b, _ := v.(Bundle)
	return b, err
}

// send issues req with token, retrying transport failures of idempotent methods.
func (c *Client) send(req *http.Request, token string) (*http.Response, error) {
	attempts := 1
	if idempotent(req.Method) {
		attempts += c.cfg.TransientRetries
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			if err := c.opts.sleep(req.Context(), c.cfg.TransientBackoff*time.Duration(i)); err != nil {
				return nil, err
			}
		}
		out, err := prepare(req, token)
		if err != nil {
			return nil, err
		}
		resp, err := c.opts.httpClient.Do(out)
		if err == nil {
			return resp, nil
		}
		if req.Context().Err() != nil {
			return nil, err
		}
		lastErr = err
		c.opts.logger.Debug("request failed",
			zap.String("method", req.Method),
			zap.String("url", req.URL.Redacted()),
			zap.Int("attempt", i+1),
			zap.Error(err),
		)
	}
	return nil, lastErr
}

// Logout ends the session and tells sibling tabs to do the same.
func (c *Client) Logout(ctx context.Context) LogoutOutcome {
	out := c.session.Logout(ctx)
	c.publish(ctx, broadcast.TypeLogout)
	return out
}

// ForceLogout is Logout with a revocation reason.
func (c *Client) ForceLogout(ctx context.Context, reason string) LogoutOutcome {
	out := c.session.ForceLogout(ctx, reason)
	c.publish(ctx, broadcast.TypeLogout)
	return out
}

func (c *Client) publish(ctx context.Context, t broadcast.MessageType) {
	if c.opts.channel == nil {
		return
	}
	if err := c.opts.channel.Publish(ctx, broadcast.Message{Type: t}); err != nil {
		c.opts.logger.Warn("broadcast publish failed", zap.String("type", string(t)), zap.Error(err))
		return
	}
	c.opts.metrics.Inc(MetricBroadcastSent)
}

// Close stops background work and detaches from the broadcast channel.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		if c.opts.channel != nil {
			err = c.opts.channel.Close()
		}
		c.wg.Wait()
		c.tokens.Wait()
	})
	return err
}

func (c *Client) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func idempotent(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodPut, http.MethodDelete, "":
		return true
	default:
		return false
	}
}

// rewindable returns a copy of req whose body can be sent more than once.
func rewindable(req *http.Request) (*http.Request, error) {
	out := req.Clone(req.Context())
	if req.Body == nil || req.Body == http.NoBody || req.GetBody != nil {
		return out, nil
	}
	data, err := io.ReadAll(req.Body)
	_ = req.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("buffer request body: %w", err)
	}
	out.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}
	out.Body, _ = out.GetBody()
	out.ContentLength = int64(len(data))
	return out, nil
}

func prepare(req *http.Request, token string) (*http.Request, error) {
	out := req.Clone(req.Context())
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		out.Body = body
	}
	if token != "" {
		out.Header.Set("Authorization", "Bearer "+token)
	}
	return out, nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}
