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
	"github.com/redis/go-redis/v9"

	"github.com/sherpa-saas/sherpa/internal/app"
	"github.com/sherpa-saas/sherpa/internal/audit"
	audithttp "github.com/sherpa-saas/sherpa/internal/audit/http"
	"github.com/sherpa-saas/sherpa/internal/auth"
	"github.com/sherpa-saas/sherpa/internal/authz"
	"github.com/sherpa-saas/sherpa/internal/observability"
	"github.com/sherpa-saas/sherpa/internal/platform/db"
	"github.com/sherpa-saas/sherpa/internal/shared"
	"github.com/sherpa-saas/sherpa/jobs"
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

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	// Redis yang mati tidak boleh menghentikan server; cache izin
	// jatuh kembali ke komputasi ulang.
	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()

	auditLogger := shared.NewAuditLogger(dbpool)
	authzRepo := authz.NewRepository(dbpool, auditLogger)
	authzCache := authz.NewRedisCache(redisClient, cfg.AuthzCacheTTL)
	authzService := authz.NewService(authzRepo, authzRepo, authzRepo, authzCache, authz.ServiceConfig{
		Logger:  logger,
		Metrics: metrics,
	})
	guard := authz.Middleware{Service: authzService, Logger: logger}
	authzHandler := authz.NewHandler(logger, authzService, guard)

	authService := auth.NewService(auth.NewRepository(dbpool))
	authenticator := auth.NewMiddleware(logger, authService)

	auditService := audit.NewService(audit.NewSQLRepository(dbpool))
	auditHandler := audithttp.NewHandler(logger, auditService, audit.CSVExporter{})

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:        logger,
		Config:        cfg,
		Authenticator: authenticator.Handler,
		AuthzHandler:  authzHandler,
		AuthzGuard:    guard,
		AuditHandler:  auditHandler,
		JobHandler:    jobHandler,
		Metrics:       metrics,
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
