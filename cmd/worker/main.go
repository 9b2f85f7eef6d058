package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/meridian-retail/meridian-credit/internal/app"
	"github.com/meridian-retail/meridian-credit/internal/collections"
	jobmetrics "github.com/meridian-retail/meridian-credit/internal/jobs"
	"github.com/meridian-retail/meridian-credit/internal/platform/cache"
	"github.com/meridian-retail/meridian-credit/internal/platform/db"
	"github.com/meridian-retail/meridian-credit/internal/risk"
	"github.com/meridian-retail/meridian-credit/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
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
	scorer := risk.NewScorer(logger)

	collectionsRepo := collections.NewRepository(pool, scorer)
	sweeper := collections.NewSweeper(collectionsRepo, invalidator, logger)
	escalationService := collections.NewService(collectionsRepo, invalidator, logger)
	sweepJob := jobs.NewOverdueSweepJob(sweeper, escalationService, logger, jobmetrics.NewMetrics(nil))

	cron := []jobs.CronRegistration{
		{Spec: cfg.SweepCron, Task: jobs.NewOverdueSweepTask(), Options: []asynq.Option{asynq.MaxRetry(3)}},
	}
	if cfg.EscalateAfterDays > 0 {
		escalateTask, err := jobs.NewBulkEscalateTask(jobs.BulkEscalatePayload{DaysThreshold: cfg.EscalateAfterDays})
		if err != nil {
			logger.Error("build escalate task", slog.Any("error", err))
			os.Exit(1)
		}
		cron = append(cron, jobs.CronRegistration{
			Spec: "30 0 * * *", Task: escalateTask, Options: []asynq.Option{asynq.MaxRetry(3)},
		})
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskOverdueSweep, Handler: sweepJob.HandleOverdueSweep},
			{Type: jobs.TaskBulkEscalate, Handler: sweepJob.HandleBulkEscalate},
		},
		Cron: cron,
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
