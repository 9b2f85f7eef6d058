package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/meridian-retail/meridian-credit/internal/app"
	"github.com/meridian-retail/meridian-credit/internal/billing"
	"github.com/meridian-retail/meridian-credit/internal/collections"
	"github.com/meridian-retail/meridian-credit/internal/observability"
	"github.com/meridian-retail/meridian-credit/internal/payments"
	"github.com/meridian-retail/meridian-credit/internal/platform/cache"
	"github.com/meridian-retail/meridian-credit/internal/platform/db"
	"github.com/meridian-retail/meridian-credit/internal/risk"
	"github.com/meridian-retail/meridian-credit/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, cache invalidation disabled", slog.Any("error", err))
	}
	defer func() {
		if redisClient != nil {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}
	}()

	invalidator := cache.NewInvalidator(redisClient, logger)
	metrics := observability.NewMetrics()
	scorer := risk.NewScorer(logger)

	billingRepo := billing.NewRepository(pool)
	billingService := billing.NewService(billingRepo, invalidator, logger)
	billingHandler := billing.NewHandler(logger, billingService)

	paymentsRepo := payments.NewRepository(pool, scorer)
	paymentsService := payments.NewService(paymentsRepo, invalidator, logger)
	paymentsHandler := payments.NewHandler(logger, paymentsService)

	collectionsRepo := collections.NewRepository(pool, scorer)
	sweeper := collections.NewSweeper(collectionsRepo, invalidator, logger)
	escalationService := collections.NewService(collectionsRepo, invalidator, logger)
	collectionsHandler := collections.NewHandler(logger, escalationService, sweeper)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		BillingHandler:     billingHandler,
		PaymentsHandler:    paymentsHandler,
		CollectionsHandler: collectionsHandler,
		JobHandler:         jobHandler,
		Metrics:            metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
