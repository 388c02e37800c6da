package cardauth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MrEthical07/cardauth/issuer"
	"github.com/MrEthical07/cardauth/session"
	"go.uber.org/zap"
)

// TokenStore owns the persisted credential bundle. It reads, writes and refreshes
// the bundle but does not de-duplicate concurrent refreshes; [Client] does that.
type TokenStore struct {
	storage session.Storage
	backend issuer.Backend
	cfg     SessionConfig
	opts    options

	wg sync.WaitGroup
}

// NewTokenStore returns a store over storage that refreshes through backend.
func NewTokenStore(storage session.Storage, backend issuer.Backend, cfg SessionConfig, opts ...Option) *TokenStore {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = defaultCallTimeout
	}
	return &TokenStore{
		storage: storage,
		backend: backend,
		cfg:     cfg,
		opts:    applyOptions(opts),
	}
}

// Bundle returns the stored bundle as is, without refreshing.
func (s *TokenStore) Bundle(ctx context.Context) (Bundle, bool, error) {
	return s.storage.Load(ctx)
}

// Credential returns a usable access token. A token inside the refresh buffer is
// refreshed first. ok is false when nothing is stored or the refresh failed.
func (s *TokenStore) Credential(ctx context.Context) (string, bool) {
	b, ok, err := s.storage.Load(ctx)
	if err != nil || !ok {
		return "", false
	}
	if !s.dueForRefresh(b) {
		return b.AccessToken, true
	}
	nb, err := s.Refresh(ctx)
	if err != nil {
		return "", false
	}
	return nb.AccessToken, true
}

func (s *TokenStore) dueForRefresh(b Bundle) bool {
	return b.ExpiresWithin(s.opts.now(), s.cfg.RefreshBuffer)
}

// Persist replaces the stored bundle in one write.
func (s *TokenStore) Persist(ctx context.Context, b Bundle) error {
	if !b.Complete() {
		return ErrIncompleteBundle
	}
	return s.storage.Save(ctx, b)
}

// Clear removes the stored bundle and signs the previous access token out in the
// background. Clearing an empty store is a no-op.
func (s *TokenStore) Clear(ctx context.Context) error {
	prev, ok, _ := s.storage.Load(ctx)
	if err := s.storage.Delete(ctx); err != nil {
		return err
	}
	if ok && prev.AccessToken != "" {
		s.signOut(ctx, prev.AccessToken)
	}
	return nil
}

// clearLocal removes the bundle without contacting the backend. Used when another
// tab already ended the session.
func (s *TokenStore) clearLocal(ctx context.Context) error {
	return s.storage.Delete(ctx)
}

func (s *TokenStore) signOut(ctx context.Context, accessToken string) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.CallTimeout)
		defer cancel()
		if err := s.backend.SignOut(callCtx, accessToken); err != nil {
			s.opts.logger.Warn("sign out failed", zap.Error(err))
		}
	}()
}

// Refresh exchanges the stored refresh token for a new bundle and persists it.
//
// Transient failures are retried once per RefreshBackoff entry. An explicit
// rejection of the refresh token clears the store and is not retried.
func (s *TokenStore) Refresh(ctx context.Context) (Bundle, error) {
	cur, ok, err := s.storage.Load(ctx)
	if err != nil {
		return Bundle{}, err
	}
	if !ok {
		return Bundle{}, ErrNoCredential
	}

	start := s.opts.now()
	defer func() {
		s.opts.metrics.Observe(MetricRefreshLatency, s.opts.now().Sub(start))
	}()

	var lastErr error
	for attempt := 0; attempt <= len(s.cfg.RefreshBackoff); attempt++ {
		if attempt > 0 {
			s.opts.metrics.Inc(MetricRefreshRetry)
			wait := s.cfg.RefreshBackoff[attempt-1]
			s.opts.logger.Debug("retrying refresh",
				zap.Int("attempt", attempt+1),
				zap.Duration("backoff", wait),
				zap.Error(lastErr),
			)
			if err := s.opts.sleep(ctx, wait); err != nil {
				s.opts.metrics.Inc(MetricRefreshFailure)
				return Bundle{}, classify(s.opts.locale, err)
			}
		}

		next, err := s.refreshOnce(ctx, cur.RefreshToken)
		if err == nil {
			if next.Principal.IsZero() {
				next.Principal = cur.Principal
			}
			if err := s.Persist(ctx, next); err != nil {
				s.opts.metrics.Inc(MetricRefreshFailure)
				return Bundle{}, fmt.Errorf("persist refreshed bundle: %w", err)
			}
			s.opts.metrics.Inc(MetricRefreshSuccess)
			return next, nil
		}

		if issuer.IsInvalidRefreshToken(err) {
			s.opts.metrics.Inc(MetricRefreshRejected)
			if cerr := s.clearLocal(ctx); cerr != nil {
				s.opts.logger.Warn("clear after rejected refresh failed", zap.Error(cerr))
			}
			detail := err.Error()
			if be, ok := issuer.AsError(err); ok {
				detail = be.Message
			}
			return Bundle{}, newError(s.opts.locale, KindInvalidToken, detail, err)
		}
		if ctx.Err() != nil || !issuer.IsTransient(err) {
			s.opts.metrics.Inc(MetricRefreshFailure)
			return Bundle{}, classify(s.opts.locale, err)
		}
		lastErr = err
	}

	s.opts.metrics.Inc(MetricRefreshFailure)
	return Bundle{}, classify(s.opts.locale, lastErr)
}

func (s *TokenStore) refreshOnce(ctx context.Context, refreshToken string) (Bundle, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	defer cancel()
	b, err := s.backend.Refresh(callCtx, refreshToken)
	if err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return Bundle{}, fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
	}
	return b, err
}

// Wait blocks until background sign-outs have finished.
func (s *TokenStore) Wait() {
	s.wg.Wait()
}

const defaultCallTimeout = 10 * time.Second
