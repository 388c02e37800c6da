package cardauth

import (
	"context"
	"time"

	"github.com/MrEthical07/cardauth/broadcast"
	"go.uber.org/zap"
)

func (c *Client) renewLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.RenewInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if _, err := c.renewIfDue(context.Background()); err != nil {
				c.opts.logger.Info("proactive renewal failed", zap.Error(err))
			}
		}
	}
}

// renewIfDue refreshes an authenticated session whose credential has entered the
// refresh buffer. It reports whether a refresh ran.
func (c *Client) renewIfDue(ctx context.Context) (bool, error) {
	if !c.session.State().Authenticated() {
		return false, nil
	}
	b, ok, err := c.tokens.Bundle(ctx)
	if err != nil || !ok {
		return false, err
	}
	if !c.tokens.dueForRefresh(b) {
		return false, nil
	}
	c.opts.metrics.Inc(MetricProactiveRenewal)
	_, err = c.refresh(ctx)
	return true, err
}

func (c *Client) listen() {
	defer c.wg.Done()

	msgs := c.opts.channel.Messages()
	for {
		select {
		case <-c.done:
			return
		case m, ok := <-msgs:
			if !ok {
				return
			}
			c.handleBroadcast(context.Background(), m)
		}
	}
}

// handleBroadcast applies a change announced by another tab. Messages are hints:
// both branches re-read storage instead of trusting the payload.
func (c *Client) handleBroadcast(ctx context.Context, m broadcast.Message) {
	c.opts.metrics.Inc(MetricBroadcastReceived)
	switch m.Type {
	case broadcast.TypeLogout:
		if err := c.session.ApplyRemoteLogout(ctx); err != nil {
			c.opts.logger.Warn("apply remote logout", zap.Error(err))
		}
	case broadcast.TypeTokenRefreshed:
		c.session.Resync(ctx)
	default:
		c.opts.logger.Debug("ignoring broadcast", zap.String("type", string(m.Type)))
	}
}
