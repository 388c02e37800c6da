// Command cardauth-loadtest drives many concurrent requests through authorized
// clients while access tokens are revoked underneath them, and reports whether
// each tab refreshed at most once per revocation.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/cardauth"
	"github.com/MrEthical07/cardauth/internal/logging"
	"github.com/MrEthical07/cardauth/middleware"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	loadEmail    = "load@example.com"
	loadPassword = "correct-horse-battery"
)

type tab struct {
	client  *cardauth.Client
	metrics *cardauth.Metrics
}

func main() {
	var (
		tabs        = flag.Int("tabs", 4, "number of independent sessions")
		concurrency = flag.Int("concurrency", 64, "concurrent workers per tab")
		ops         = flag.Int("ops", 20000, "requests per tab")
		revocations = flag.Int("revocations", 20, "access token revocations per tab during the run")
		redisAddr   = flag.String("redis-addr", "", "redis address for the revocation store; if empty, REDIS_ADDR env or miniredis is used")
		verbose     = flag.Bool("v", false, "log engine activity")
	)
	flag.Parse()

	if *tabs <= 0 || *concurrency <= 0 || *ops <= 0 || *revocations < 0 {
		fmt.Fprintln(os.Stderr, "tabs, concurrency and ops must be > 0, revocations >= 0")
		os.Exit(2)
	}

	logger := zap.NewNop()
	if *verbose {
		l, err := logging.New("development")
		if err != nil {
			fmt.Fprintf(os.Stderr, "logger: %v\n", err)
			os.Exit(1)
		}
		logger = l
	}

	client, cleanup, err := openRedis(*redisAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	cfg := cardauth.DefaultConfig()
	cfg.JWT.PrivateKey = []byte("loadtest-signing-key-0123456789ab")
	cfg.Revocation.Backend = "redis"
	cfg.Broadcast.Backend = "none"
	cfg.Password.Memory = 8192
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1

	engine, err := cardauth.New().WithConfig(cfg).WithRedis(client).WithLogger(logger).Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "build engine: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	api := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	// Unlimited rate so the run measures refresh coordination only.
	gate := middleware.NewGate(cfg.Gate, middleware.JWTValidator(engine.Tokens()),
		middleware.WithRevocations(engine.Revocations()),
		middleware.WithLogger(logger),
	)
	srv := httptest.NewServer(gate.Handler(api))
	defer srv.Close()

	ctx := context.Background()
	creds := cardauth.Credentials{Email: loadEmail, Password: loadPassword}
	if _, err := engine.Backend().Register(ctx, creds); err != nil {
		fmt.Fprintf(os.Stderr, "register: %v\n", err)
		os.Exit(1)
	}

	all := make([]*tab, *tabs)
	for i := range all {
		m := cardauth.NewMetrics(cardauth.MetricsConfig{Enabled: true})
		c, err := engine.OpenSession(ctx, cardauth.WithMetrics(m))
		if err != nil {
			fmt.Fprintf(os.Stderr, "open session: %v\n", err)
			os.Exit(1)
		}
		defer c.Close()
		if _, err := c.Session().Login(ctx, creds); err != nil {
			fmt.Fprintf(os.Stderr, "login: %v\n", err)
			os.Exit(1)
		}
		all[i] = &tab{client: c, metrics: m}
	}
	fmt.Printf("running %d tabs x %d workers, %d requests and %d revocations per tab\n", *tabs, *concurrency, *ops, *revocations)

	var wg sync.WaitGroup
	results := make([]phaseStats, len(all))
	revoked := make([]int, len(all))
	for i, t := range all {
		wg.Add(1)
		go func(i int, t *tab) {
			defer wg.Done()
			stop := make(chan struct{})
			done := make(chan int)
			go func() { done <- revokeLoop(ctx, engine, t, *revocations, stop) }()
			results[i] = runPhase(ctx, t.client, srv.URL+"/api/work", *ops, *concurrency)
			close(stop)
			revoked[i] = <-done
		}(i, t)
	}
	wg.Wait()

	fmt.Println("---- results ----")
	ok := true
	for i, t := range all {
		refreshes := t.metrics.Value(cardauth.MetricRefreshSuccess) + t.metrics.Value(cardauth.MetricRefreshFailure)
		printStats(fmt.Sprintf("tab %d", i), results[i])
		fmt.Printf("  revoked=%d refreshes=%d queued=%d replayed=%d expired=%d\n",
			revoked[i],
			refreshes,
			t.metrics.Value(cardauth.MetricRequestQueued),
			t.metrics.Value(cardauth.MetricRequestReplayed),
			t.metrics.Value(cardauth.MetricAuthExpired),
		)
		if refreshes > uint64(revoked[i]) {
			ok = false
		}
	}
	if !ok {
		fmt.Println("at-most-one refresh per revocation: VIOLATED")
		os.Exit(1)
	}
	fmt.Println("at-most-one refresh per revocation: ok")
}

func openRedis(addr string) (redis.UniversalClient, func(), error) {
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to start miniredis: %w", err)
		}
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
		fmt.Printf("using miniredis at %s\n", mr.Addr())
		return client, func() {
			_ = client.Close()
			mr.Close()
		}, nil
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
	fmt.Printf("using redis at %s\n", addr)
	return client, func() { _ = client.Close() }, nil
}

// revokeLoop revokes the tab's current access token up to n times, waiting for
// the tab to pick up a new token between revocations.
func revokeLoop(ctx context.Context, engine *cardauth.Engine, t *tab, n int, stop <-chan struct{}) int {
	last := ""
	done := 0
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for done < n {
		select {
		case <-stop:
			return done
		case <-ticker.C:
		}
		b, ok, err := t.client.Session().Tokens().Bundle(ctx)
		if err != nil || !ok || b.AccessToken == last {
			continue
		}
		if err := engine.Backend().Revoke(ctx, b.AccessToken, "loadtest"); err != nil {
			continue
		}
		last = b.AccessToken
		done++
	}
	return done
}

func runPhase(ctx context.Context, c *cardauth.Client, url string, ops, concurrency int) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				t0 := time.Now()
				resp, err := c.Get(ctx, url)
				d := time.Since(t0)
				if err == nil {
					resp.Body.Close()
					if resp.StatusCode != http.StatusNoContent {
						err = fmt.Errorf("status %d", resp.StatusCode)
					}
				}
				if err != nil && !errors.Is(err, cardauth.ErrAuthExpired) {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures)
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
