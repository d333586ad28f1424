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

	"github.com/meridian-freight/meridian-finance/internal/app"
	"github.com/meridian-freight/meridian-finance/internal/ledger"
	"github.com/meridian-freight/meridian-finance/internal/observability"
	"github.com/meridian-freight/meridian-finance/internal/platform/cache"
	"github.com/meridian-freight/meridian-finance/internal/platform/db"
	"github.com/meridian-freight/meridian-finance/internal/reporting"
	"github.com/meridian-freight/meridian-finance/jobs"
)

// meteredInvalidator counts reporting cache bumps as they happen.
type meteredInvalidator struct {
	cache   *reporting.Cache
	metrics *observability.Metrics
}

func (m *meteredInvalidator) Bump(ctx context.Context) error {
	m.metrics.ObserveCacheBump()
	return m.cache.Bump(ctx)
}

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

	reportingCache := reporting.NewCache(redisClient, cfg.CacheTTL)
	if err := reportingCache.ListenForInvalidation(ctx, ""); err != nil {
		logger.Warn("cache invalidation listener", slog.Any("error", err))
	}

	invalidator := &meteredInvalidator{cache: reportingCache, metrics: metrics}

	ledgerRepo := ledger.NewRepository(dbpool)
	invoiceService := ledger.NewInvoiceService(ledgerRepo, logger, invalidator)
	costService := ledger.NewCostService(ledgerRepo, logger, invalidator)
	ledgerHandler := ledger.NewHandler(logger, invoiceService, costService, metrics)

	reportingRepo := reporting.NewPgRepository(dbpool, logger)
	reportingService := reporting.NewService(reportingRepo, reportingCache)
	reportingHandler := reporting.NewHandler(logger, reportingService)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		LedgerHandler:    ledgerHandler,
		ReportingHandler: reportingHandler,
		JobHandler:       jobHandler,
		Metrics:          metrics,
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
		logger.Error("server shutdown", slog.Any("error", err))
	}
}
