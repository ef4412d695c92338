// Spot Trader — an automated spot-market trading bot for Binance that buys
// oversold dips (RSI below threshold plus a dual-SMA uptrend filter) and
// manages every position with fixed take-profit, stop-loss, and an optional
// armed trailing stop.
//
// Architecture:
//
//	main.go               — entry point: loads config, wires everything, waits for SIGINT/SIGTERM
//	engine/engine.go      — orchestrator: scan loop, entry/exit decisions, event fan-out
//	strategy/entry.go     — entry signal: RSI under threshold, short SMA above long SMA, most liquid wins
//	risk/exits.go         — exit levels: take-profit, stop-loss, armed trailing stop
//	market/scanner.go     — ranks USDT pairs by traded volume, attaches indicator values
//	indicators/           — RSI and SMA over kline close series
//	exchange/client.go    — Binance gateway: tickers, klines, balances, market orders, key checks
//	exchange/ratelimit.go — token buckets for the venue's request-weight limits
//	store/store.go        — SQLite persistence for settings, open positions, and the trade ledger
//	api/                  — dashboard transport: WebSocket events out, commands in
//
// The bot never trades on its own right after boot: it initializes into
// STOPPED and waits for a START_BOT command from the dashboard. A failed
// initialization (missing or over-privileged API keys, unreachable venue)
// leaves it in ERROR with the dashboard still up, so the operator can see
// what went wrong.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"spot-trader/internal/api"
	"spot-trader/internal/config"
	"spot-trader/internal/engine"
	"spot-trader/internal/exchange"
	"spot-trader/internal/market"
	"spot-trader/internal/store"
)

func main() {
	// A .env file is optional; the environment always wins.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
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

	red := cfg.Redacted()
	logger.Info("configuration loaded",
		"exchange", red.Exchange,
		"sandbox", red.IsSandbox,
		"port", red.Port,
		"api_key", red.APIKey,
	)
	if !cfg.HasCredentials() {
		logger.Warn("no api credentials found in environment, trading will be disabled")
	}

	st, err := store.Open(cfg.DataDir, logger)
	if err != nil {
		logger.Error("failed to open store", "error", err, "data_dir", cfg.DataDir)
		os.Exit(1)
	}

	client := exchange.NewClient(cfg, logger)
	scanner := market.NewScanner(client, logger)
	eng := engine.New(cfg, client, scanner, st, logger)

	// Initialization failures are not fatal to the process: the engine sits
	// in ERROR and the dashboard reports it.
	if err := eng.Initialize(context.Background()); err != nil {
		logger.Error("engine initialization failed", "error", err)
	}

	srv := api.NewServer(cfg, eng, logger)
	go func() {
		if err := srv.Start(); err != nil {
			logger.Error("dashboard server failed", "error", err)
		}
	}()
	logger.Info("spot trader ready",
		"dashboard", fmt.Sprintf("http://localhost:%d", cfg.Port),
		"status", string(eng.Status()),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	eng.Stop(false)
	if err := srv.Stop(); err != nil {
		logger.Error("failed to stop dashboard", "error", err)
	}
	if err := st.Close(); err != nil {
		logger.Error("failed to close store", "error", err)
	}
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
