package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ibrahimatine/fadjma-sub003/internal/config"
	"github.com/ibrahimatine/fadjma-sub003/internal/ledger"
	"github.com/ibrahimatine/fadjma-sub003/internal/logging"
	"github.com/ibrahimatine/fadjma-sub003/internal/metrics"
	"github.com/ibrahimatine/fadjma-sub003/internal/service"
	"github.com/ibrahimatine/fadjma-sub003/internal/storage/postgres"
)

func main() {
	configPath := flag.String("config", "configs/anchor.yaml", "path to anchor service config")
	interval := flag.Duration("interval", 0, "run continuously with this interval between sweeps (one-shot when zero)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	logger := logging.NewJSONLogger()
	metrics.Init(cfg.Logging.Service)

	store, err := postgres.Open(context.Background(), cfg.Storage.PostgresDSN, cfg.Storage.MaxConns, cfg.Storage.MinConns)
	if err != nil {
		logger.Error("failed to open store", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer store.Close()

	client := ledger.NewClient(ledger.ClientConfig{
		SubmitURL:   cfg.Ledger.SubmitURL,
		TopicID:     cfg.Ledger.TopicID,
		Network:     cfg.Ledger.Network,
		OperatorID:  cfg.Ledger.OperatorID,
		OperatorKey: cfg.Ledger.OperatorKey,
		Timeout:     time.Duration(cfg.Ledger.TimeoutSeconds) * time.Second,
	}, logger)
	limiter := ledger.NewRateLimiter(cfg.RateLimit.TransactionsPerSecond, cfg.RateLimit.MaxBatchSize)
	mirror := ledger.NewMirrorClient(cfg.Ledger.MirrorURL, cfg.Ledger.Network, time.Duration(cfg.Ledger.TimeoutSeconds)*time.Second)
	verifier := service.NewVerifier(service.VerifierConfig{
		ExplorerBase: cfg.Ledger.ExplorerURL,
		CurrencyRate: cfg.Ledger.CurrencyRate,
	}, store, mirror, logger)

	anchor, err := service.New(service.Params{
		Store:       store,
		Client:      client,
		Limiter:     limiter,
		Logger:      logger,
		MaxAttempts: cfg.Anchor.MaxAttempts,
	})
	if err != nil {
		logger.Error("failed to build anchor service", slog.String("error", err.Error()))
		os.Exit(1)
	}
	reconciler := service.NewReconciler(service.ReconcilerConfig{
		BatchLimit: cfg.Reconcile.BatchLimit,
		ItemDelay:  time.Duration(cfg.Reconcile.ItemDelayMS) * time.Millisecond,
	}, store, anchor, verifier, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("shutdown signal received", slog.String("signal", sig.String()))
		cancel()
	}()

	for {
		summary, err := reconciler.Run(ctx)
		if err != nil {
			logger.Error("reconciliation sweep failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
		raw, _ := json.Marshal(summary)
		fmt.Println(string(raw))
		if *interval <= 0 || summary.Aborted {
			break
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(*interval):
		}
	}
}
