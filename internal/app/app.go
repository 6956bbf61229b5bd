package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ibrahimatine/fadjma-sub003/internal/api"
	"github.com/ibrahimatine/fadjma-sub003/internal/config"
	"github.com/ibrahimatine/fadjma-sub003/internal/ledger"
	"github.com/ibrahimatine/fadjma-sub003/internal/logging"
	"github.com/ibrahimatine/fadjma-sub003/internal/metrics"
	"github.com/ibrahimatine/fadjma-sub003/internal/schedule"
	"github.com/ibrahimatine/fadjma-sub003/internal/service"
	"github.com/ibrahimatine/fadjma-sub003/internal/storage"
	"github.com/ibrahimatine/fadjma-sub003/internal/storage/postgres"
)

type Application struct {
	Server    *http.Server
	Store     storage.Store
	Batcher   *service.Batcher
	Scheduler *schedule.Scheduler
	Reminders *schedule.TTLStore
}

func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Application, error) {
	metrics.Init(cfg.Logging.Service)

	store, err := postgres.Open(ctx, cfg.Storage.PostgresDSN, cfg.Storage.MaxConns, cfg.Storage.MinConns)
	if err != nil {
		return nil, fmt.Errorf("open postgres store: %w", err)
	}

	client := ledger.NewClient(ledger.ClientConfig{
		SubmitURL:   cfg.Ledger.SubmitURL,
		TopicID:     cfg.Ledger.TopicID,
		Network:     cfg.Ledger.Network,
		OperatorID:  cfg.Ledger.OperatorID,
		OperatorKey: cfg.Ledger.OperatorKey,
		Timeout:     time.Duration(cfg.Ledger.TimeoutSeconds) * time.Second,
	}, logger)
	mirror := ledger.NewMirrorClient(cfg.Ledger.MirrorURL, cfg.Ledger.Network, time.Duration(cfg.Ledger.TimeoutSeconds)*time.Second)
	limiter := ledger.NewRateLimiter(cfg.RateLimit.TransactionsPerSecond, cfg.RateLimit.MaxBatchSize)

	verifier := service.NewVerifier(service.VerifierConfig{
		ExplorerBase: cfg.Ledger.ExplorerURL,
		CurrencyRate: cfg.Ledger.CurrencyRate,
	}, store, mirror, logger)

	scheduler := schedule.NewScheduler(logger)
	reminders := schedule.NewTTLStore(cfg.Verify.MaxReminders, time.Duration(cfg.Verify.ReminderTTLSeconds)*time.Second)

	batcher := service.NewBatcher(service.BatcherConfig{
		MaxItems:     cfg.Batch.MaxItems,
		Window:       time.Duration(cfg.Batch.WindowSeconds) * time.Second,
		Compress:     cfg.Batch.Compress,
		CompressOver: cfg.Batch.CompressOverBytes,
	}, store, client, limiter, logger)

	anchor, err := service.New(service.Params{
		Store:       store,
		Client:      client,
		Limiter:     limiter,
		Batcher:     batcher,
		Verifier:    verifier,
		Scheduler:   scheduler,
		Reminders:   reminders,
		Logger:      logger,
		MaxAttempts: cfg.Anchor.MaxAttempts,
		VerifyAfter: time.Duration(cfg.Verify.DelaySeconds) * time.Second,
	})
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("build anchor service: %w", err)
	}
	batcher.SetSubmitCallback(func(transactionID string) {
		anchor.ScheduleVerification(transactionID)
	})

	reconciler := service.NewReconciler(service.ReconcilerConfig{
		BatchLimit: cfg.Reconcile.BatchLimit,
		ItemDelay:  time.Duration(cfg.Reconcile.ItemDelayMS) * time.Millisecond,
	}, store, anchor, verifier, logger)

	handler := api.NewHandler(anchor, verifier, reconciler, api.HealthInfo{
		Service: cfg.Logging.Service,
		Version: cfg.Logging.Version,
		Network: cfg.Ledger.Network,
		TopicID: cfg.Ledger.TopicID,
	}, logger)
	router := handler.Router()
	if *cfg.Security.EnableBearerAuth {
		router = api.BearerAuthMiddleware(cfg.Security.BearerToken)(router)
	}
	env := logging.Environment{
		Service: cfg.Logging.Service,
		Version: cfg.Logging.Version,
		Commit:  cfg.Logging.Commit,
		Network: cfg.Ledger.Network,
		TopicID: cfg.Ledger.TopicID,
	}
	root := logging.Middleware(logger, env)(router)

	server := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           root,
		ReadTimeout:       time.Duration(cfg.Server.ReadTimeoutSeconds) * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      time.Duration(cfg.Server.WriteTimeoutSeconds) * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	return &Application{
		Server:    server,
		Store:     store,
		Batcher:   batcher,
		Scheduler: scheduler,
		Reminders: reminders,
	}, nil
}

func (a *Application) Shutdown(ctx context.Context) error {
	defer a.Store.Close()
	a.Scheduler.Stop()
	a.Reminders.Close()
	return a.Server.Shutdown(ctx)
}
