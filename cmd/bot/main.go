// NBA paper-trading bot — simulated trading on binary NBA contracts using
// live exchange prices, live box scores and sportsbook odds.
//
// Architecture:
//
//	main.go                — entry point: config, logging, signal handling
//	engine/engine.go       — orchestrator: wires discovery → aggregation → strategy → execution
//	aggregator/            — per-game state: orderbooks, box scores, consensus odds
//	strategy/              — pluggable signal generators (sharp line, momentum, EV, ...)
//	execution/             — simulated fills, positions, P&L, settlement
//	risk/manager.go        — pre-trade gate: contract, loss and exposure limits
//	market/scanner.go      — discovers NBA game events listed on the exchange
//	exchange/              — REST + websocket client with RSA-PSS request signing
//	sports/client.go       — box scores and sportsbook odds provider client
//	api/                   — HTTP control surface and websocket event stream
//	store/store.go         — SQLite persistence for games, orders and positions
//
// No real orders are ever placed: fills are simulated against the observed
// order book at the moment a signal fires.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/johnkush50/kalshi-NBA/internal/config"
	"github.com/johnkush50/kalshi-NBA/internal/engine"
)

func main() {
	cfgPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	// A local .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", *cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)

	rt, err := engine.New(cfg, logger)
	if err != nil {
		logger.Error("failed to build engine", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("nba paper trader starting",
		"environment", cfg.Environment,
		"config", *cfgPath,
	)

	runErr := rt.Run(ctx)
	if closeErr := rt.Close(); closeErr != nil {
		logger.Error("shutdown cleanup failed", "error", closeErr)
	}
	if runErr != nil {
		logger.Error("engine exited with error", "error", runErr)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Level)}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
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
