// testserver starts a storefleet API server whose cluster commands are
// answered by an in-memory fake, for E2E testing without a cluster.
// Usage: go run ./cmd/testserver
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/seantiz/storefleet/internal/cli"
	"github.com/seantiz/storefleet/internal/config"
	"github.com/seantiz/storefleet/internal/invoker/invokertest"
)

func main() {
	cfg := config.Default()
	cfg.ListenAddr = ":8080"
	if v := os.Getenv("STOREFLEET_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	cfg.DB.DSN = ":memory:"
	cfg.WooCommerce.SettleDelay = 100 * time.Millisecond

	// WooCommerce stores always reach Ready; medusa stores fail their
	// rollout, so both terminal states are observable.
	fake := invokertest.New().
		Respond("--porcelain", "42\n").
		Fail("rollout status deployment/medusa", "deployment \"medusa\" exceeded its progress deadline")
	fake.Delay = 50 * time.Millisecond

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := config.NewLogger(os.Stdout, slog.LevelInfo, config.LogFormatJSON)
	logger.Info("testserver: starting", "addr", cfg.ListenAddr)
	if err := cli.Serve(ctx, &cfg, fake, logger); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
