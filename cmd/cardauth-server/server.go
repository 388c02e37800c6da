package main

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/MrEthical07/cardauth"
	"github.com/MrEthical07/cardauth/broadcast"
	"github.com/MrEthical07/cardauth/internal/envconfig"
	"github.com/MrEthical07/cardauth/internal/logging"
	"github.com/MrEthical07/cardauth/issuer"
	promexport "github.com/MrEthical07/cardauth/metrics/export/prometheus"
	"github.com/MrEthical07/cardauth/middleware"
	"github.com/MrEthical07/cardauth/revocation"
	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type server struct {
	settings *envconfig.Settings
	logger   *zap.Logger
	engine   *cardauth.Engine
	http     *http.Server
	closers  []func()
}

func newServer(ctx context.Context, s *envconfig.Settings, logger *zap.Logger) (*server, error) {
	srv := &server{settings: s, logger: logger}

	cfg := s.Auth
	if len(cfg.JWT.PrivateKey) == 0 && cfg.JWT.SigningMethod == "hs256" {
		key := make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generate signing key: %w", err)
		}
		cfg.JWT.PrivateKey = key
		logger.Warn("no JWT signing key configured, using an ephemeral key")
	}

	b := cardauth.New().
		WithConfig(cfg).
		WithLogger(logger.Named("cardauth")).
		WithAuditSink(cardauth.NewZapSink(logger)).
		WithResetSink(func(_ context.Context, email, token string) {
			logger.Info("password reset requested",
				zap.String("email", logging.MaskEmail(email)),
				zap.String("token", logging.MaskToken(token)),
			)
		})

	if s.NeedsRedis() {
		rdb, err := srv.openRedis()
		if err != nil {
			srv.Close()
			return nil, err
		}
		b.WithRedis(rdb)
	}
	if cfg.Revocation.Backend == "postgres" {
		pool, err := srv.openPostgres(ctx)
		if err != nil {
			srv.Close()
			return nil, err
		}
		b.WithPostgres(pool)
	}

	engine, err := b.Build()
	if err != nil {
		srv.Close()
		return nil, fmt.Errorf("build engine: %w", err)
	}
	srv.engine = engine
	srv.closers = append(srv.closers, engine.Close)

	srv.http = &http.Server{
		Addr:              s.App.Addr,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return srv, nil
}

func (s *server) openRedis() (redis.UniversalClient, error) {
	addr := s.settings.Redis.Addr
	if addr == "" {
		if !s.settings.Redis.Embedded {
			return nil, errors.New("redis.addr is required")
		}
		mr, err := miniredis.Run()
		if err != nil {
			return nil, fmt.Errorf("start embedded redis: %w", err)
		}
		s.closers = append(s.closers, mr.Close)
		addr = mr.Addr()
		s.logger.Info("using embedded redis", zap.String("addr", addr))
	}
	rdb := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{addr},
		Password: s.settings.Redis.Password,
		DB:       s.settings.Redis.DB,
	})
	s.closers = append(s.closers, func() { _ = rdb.Close() })
	return rdb, nil
}

func (s *server) openPostgres(ctx context.Context) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, s.settings.Postgres.DSN)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s.closers = append(s.closers, pool.Close)
	if s.settings.Postgres.Migrate {
		if _, err := pool.Exec(ctx, revocation.Schema); err != nil {
			return nil, fmt.Errorf("migrate revocation table: %w", err)
		}
	}
	return pool, nil
}

func (s *server) routes() http.Handler {
	gate := middleware.FromEngine(s.engine)

	app := mux.NewRouter()
	issuer.NewHandler(s.engine.Backend(), s.logger.Named("issuer")).Register(app)
	app.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)
	app.HandleFunc("/api/me", s.me).Methods(http.MethodGet)
	app.HandleFunc("/api/profile", s.profile).Methods(http.MethodGet)
	app.HandleFunc("/api/generations", s.generate).Methods(http.MethodPost)

	root := mux.NewRouter()
	root.Handle("/ws/broadcast", broadcast.NewRelay(s.logger.Named("relay")))
	root.Handle("/metrics", promexport.NewCollector(s.engine).Handler()).Methods(http.MethodGet)
	root.PathPrefix("/").Handler(gate.Handler(app))
	return root
}

func (s *server) me(w http.ResponseWriter, r *http.Request) {
	p, ok := cardauth.PrincipalFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// profile fetches the caller's user record from the issuer binding with the
// caller's own credential.
func (s *server) profile(w http.ResponseWriter, r *http.Request) {
	ds, _ := middleware.DownstreamFromContext(r.Context())
	resp, err := ds.Get(r.Context(), s.settings.App.PublicURL+issuer.PathUser)
	if err != nil {
		s.logger.Warn("profile lookup failed", zap.Error(err))
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "upstream unavailable"})
		return
	}
	defer resp.Body.Close()

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
}

func (s *server) generate(w http.ResponseWriter, r *http.Request) {
	p, _ := cardauth.PrincipalFromContext(r.Context())
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued", "user_id": p.ID})
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *server) Run(ctx context.Context) error {
	go s.engine.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", zap.String("addr", s.http.Addr))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.settings.App.ShutdownTimeout)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	s.logger.Info("stopped")
	return nil
}

// Close releases engine and storage resources in reverse order of acquisition.
func (s *server) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
