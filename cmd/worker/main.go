package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/sherpa-saas/sherpa/internal/app"
	"github.com/sherpa-saas/sherpa/internal/authz"
	jobmetrics "github.com/sherpa-saas/sherpa/internal/jobs"
	"github.com/sherpa-saas/sherpa/internal/observability"
	"github.com/sherpa-saas/sherpa/internal/platform/cache"
	"github.com/sherpa-saas/sherpa/internal/platform/db"
	"github.com/sherpa-saas/sherpa/internal/shared"
	"github.com/sherpa-saas/sherpa/jobs"
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

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	// Worker tidak bisa berjalan tanpa Redis; antrean tugas hidup di sana.
	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	auditLogger := shared.NewAuditLogger(pool)
	authzRepo := authz.NewRepository(pool, auditLogger)
	authzCache := authz.NewRedisCache(redisClient, cfg.AuthzCacheTTL)
	sweeper := authz.NewSweeper(authzRepo, authzCache, logger, metrics)
	sweepJob := jobs.NewExpireSweepJob(sweeper, logger, jobmetrics.NewMetrics(metrics.Registerer()))

	sweepTask, err := jobs.NewExpireSweepTask(jobs.ExpireSweepPayload{})
	if err != nil {
		logger.Error("build sweep task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskAuthzExpireSweep, Handler: sweepJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.SweepCronSpec, Task: sweepTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
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
