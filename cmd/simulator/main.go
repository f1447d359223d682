// Crypto exchange simulator — a venue that speaks a real exchange's wire
// protocol (REST + WebSocket) while injecting controlled network pathologies
// so trading systems can be exercised against realistic failure modes.
//
// Architecture:
//
//	main.go                 — entry point: loads config, wires subsystems, waits for SIGINT/SIGTERM
//	engine/                 — price-time-priority matching, order books, session accounts
//	failures/               — the injection pipeline: drop, delay, latency, duplicate,
//	                          reorder, corrupt, throttle, REST rate limiting, silent connections
//	marketdata/             — GBM price model, sequenced tick publisher, rolling history
//	session/                — live WebSocket session registry and outbound queues
//	server/                 — REST surface, /ws hub, inbound message router, admin stats
//
// The simulator never tries to be fast; it tries to be adversarial. Sequence
// IDs are clean at the source so that everything the failure chain does to
// the stream afterwards is detectable by a well-built client.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/wmartingleason/crypto-exchange-simulator/internal/config"
	"github.com/wmartingleason/crypto-exchange-simulator/internal/engine"
	"github.com/wmartingleason/crypto-exchange-simulator/internal/failures"
	"github.com/wmartingleason/crypto-exchange-simulator/internal/marketdata"
	"github.com/wmartingleason/crypto-exchange-simulator/internal/server"
)

func main() {
	cfgPath := "config.json"
	if p := os.Getenv("SIM_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eng := engine.New(cfg.Exchange, logger)
	history := marketdata.NewHistory(cfg.Exchange.HistorySize)
	model := marketdata.NewModel(
		cfg.Exchange.PricingModel,
		cfg.Exchange.TickInterval.Seconds(),
		cfg.Exchange.PricePrecision,
		cfg.Failures.Seed,
	)
	pipeline := failures.NewPipeline(cfg.Failures)

	srv := server.New(*cfg, eng, history, pipeline, logger)
	publisher := marketdata.NewPublisher(cfg.Exchange, model, history, eng, srv, logger)
	srv.SetPublisher(publisher)

	publisher.Start(ctx)

	go func() {
		if err := srv.Start(ctx); err != nil {
			logger.Error("server failed", "error", err)
			cancel()
		}
	}()

	logger.Info("exchange simulator started",
		"addr", cfg.Server.Addr(),
		"symbols", cfg.Exchange.Symbols,
		"tick_interval", cfg.Exchange.TickInterval,
		"failures_enabled", cfg.Failures.Enabled,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
	}

	if err := srv.Stop(); err != nil {
		logger.Error("failed to stop server", "error", err)
	}
	publisher.Stop()
	cancel()

	logger.Info("shutdown complete")
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
