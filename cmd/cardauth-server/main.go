// Command cardauth-server runs the in-process issuer behind the request gate.
//
// It serves the JSON issuer binding under /auth/v1/, a cross-tab WebSocket relay
// at /ws/broadcast, Prometheus metrics at /metrics and a few gated demo routes
// under /api/. Configuration comes from an optional file and CARDAUTH_*
// environment variables. Without a Redis address an embedded miniredis is used.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/MrEthical07/cardauth/internal/envconfig"
	"github.com/MrEthical07/cardauth/internal/logging"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "path to a config file (yaml, json or toml)")
	flag.Parse()

	settings, err := envconfig.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := logging.New(settings.App.Env)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	srv, err := newServer(ctx, settings, logger)
	if err != nil {
		logger.Fatal("failed to init server", zap.Error(err))
	}
	defer srv.Close()

	if err := srv.Run(ctx); err != nil {
		logger.Error("server stopped", zap.Error(err))
		os.Exit(1)
	}
}
