package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/meridian-freight/meridian-finance/internal/app"
	"github.com/meridian-freight/meridian-finance/internal/ledger"
	"github.com/meridian-freight/meridian-finance/internal/platform/cache"
	"github.com/meridian-freight/meridian-finance/internal/platform/db"
	"github.com/meridian-freight/meridian-finance/internal/reporting"
	"github.com/meridian-freight/meridian-finance/jobs"
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

	reportingCache := reporting.NewCache(redisClient, cfg.CacheTTL)

	ledgerRepo := ledger.NewRepository(pool)
	invoiceService := ledger.NewInvoiceService(ledgerRepo, logger, reportingCache)

	reportingRepo := reporting.NewPgRepository(pool, logger)
	reportingService := reporting.NewService(reportingRepo, reportingCache)

	overdueJob := jobs.NewOverdueScanJob(invoiceService, logger)
	warmupJob := jobs.NewDashboardWarmupJob(reportingService, logger)

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskOverdueScan, Handler: overdueJob.Handle},
			{Type: jobs.TaskDashboardWarmup, Handler: warmupJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.OverdueScanSchedule, Task: jobs.NewOverdueScanTask(), Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: cfg.WarmupSchedule, Task: jobs.NewDashboardWarmupTask(), Options: []asynq.Option{asynq.MaxRetry(1)}},
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
