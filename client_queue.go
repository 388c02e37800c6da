package cardauth

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"go.uber.org/zap"
)

type result struct {
	resp *http.Response
	err  error
}

// pending is a request parked until the in-flight refresh settles.
type pending struct {
	req  *http.Request
	done chan result
}

func (p *pending) wait() (*http.Response, error) {
	r := <-p.done
	return r.resp, r.err
}

// authQueue serializes recovery from auth failures. While refreshing is set, every
// request that hits a 401 is appended to waiting. The request that set it is the
// leader and sits at the head of the queue.
type authQueue struct {
	mu         sync.Mutex
	refreshing bool
	waiting    []*pending
}

func authExpired(cause error) error {
	if cause == nil {
		return ErrAuthExpired
	}
	return fmt.Errorf("%w: %v", ErrAuthExpired, cause)
}

// recoverUnauthorized handles a 401 for req, which was sent with stale.
func (c *Client) recoverUnauthorized(req *http.Request, stale string) (*http.Response, error) {
	p := &pending{req: req, done: make(chan result, 1)}

	c.queue.mu.Lock()
	if c.queue.refreshing {
		c.queue.waiting = append(c.queue.waiting, p)
		c.queue.mu.Unlock()
		c.opts.metrics.Inc(MetricRequestQueued)
		return p.wait()
	}
	// A refresh that finished after req was sent already replaced the token.
	if cur, ok := c.storedToken(req.Context()); ok && cur != stale {
		c.queue.mu.Unlock()
		return c.retryOnce(req, cur)
	}
	c.queue.refreshing = true
	c.queue.waiting = append(c.queue.waiting, p)
	c.queue.mu.Unlock()

	b, err := c.refresh(req.Context())

	c.queue.mu.Lock()
	batch := c.queue.waiting
	c.queue.waiting = nil
	c.queue.refreshing = false
	c.queue.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.settle(batch, b.AccessToken, err)
	}()
	return p.wait()
}

// settle replays batch one request at a time in arrival order, or fails every
// request when the refresh failed.
func (c *Client) settle(batch []*pending, token string, refreshErr error) {
	if refreshErr != nil {
		c.opts.logger.Info("refresh failed, failing queued requests",
			zap.Int("queued", len(batch)),
			zap.Error(refreshErr),
		)
	}
	for _, p := range batch {
		if refreshErr != nil {
			c.opts.metrics.Inc(MetricAuthExpired)
			p.done <- result{err: authExpired(refreshErr)}
			continue
		}
		if err := p.req.Context().Err(); err != nil {
			p.done <- result{err: err}
			continue
		}
		c.opts.metrics.Inc(MetricRequestReplayed)
		resp, err := c.retryOnce(p.req, token)
		p.done <- result{resp: resp, err: err}
	}
}

// retryOnce is the single auth retry a request gets. A second 401 ends it.
func (c *Client) retryOnce(req *http.Request, token string) (*http.Response, error) {
	resp, err := c.send(req, token)
	if err != nil {
		return nil, classify(c.opts.locale, err)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		drain(resp)
		c.opts.metrics.Inc(MetricAuthExpired)
		return nil, ErrAuthExpired
	}
	return resp, nil
}

func (c *Client) storedToken(ctx context.Context) (string, bool) {
	b, ok, err := c.tokens.Bundle(ctx)
	if err != nil || !ok {
		return "", false
	}
	return b.AccessToken, true
}
