package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/pricebook/internal/app"
	jobmetrics "github.com/odyssey-erp/pricebook/internal/jobs"
	"github.com/odyssey-erp/pricebook/internal/observability"
	"github.com/odyssey-erp/pricebook/internal/platform/db"
	"github.com/odyssey-erp/pricebook/internal/pricelist"
	"github.com/odyssey-erp/pricebook/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	trigger := flag.Bool("trigger-integrity", false, "enqueue one integrity scan and exit")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)
	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}

	if *trigger {
		client, err := jobs.NewClient(redisOpts)
		if err != nil {
			logger.Error("init job client", slog.Any("error", err))
			os.Exit(1)
		}
		defer client.Close()
		info, err := client.EnqueueIntegrityScan(ctx, jobs.IntegrityScanPayload{})
		if err != nil {
			logger.Error("enqueue integrity scan", slog.Any("error", err))
			os.Exit(1)
		}
		logger.Info("integrity scan enqueued", slog.String("task_id", info.ID))
		return
	}

	if cfg.StoreDriver != app.DriverPostgres {
		logger.Error("worker requires the postgres store driver", slog.String("store", cfg.StoreDriver))
		os.Exit(1)
	}

	pool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{MaxConns: cfg.PGMaxConns, MaxConnLifetime: cfg.PGMaxConnLifetime})
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	metrics := observability.NewMetrics()
	if cfg.WorkerMetricsAddr != "" {
		metricsServer := observability.NewServer(cfg.WorkerMetricsAddr, metrics)
		go func() {
			logger.Info("worker metrics listening", slog.String("addr", cfg.WorkerMetricsAddr))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("worker metrics server", slog.Any("error", err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				logger.Warn("worker metrics shutdown", slog.Any("error", err))
			}
		}()
	}

	store := pricelist.NewPostgresStore(pool)
	integrityJob := jobs.NewIntegrityScanJob(store, logger, jobmetrics.NewMetrics(metrics.Registerer()))

	integrityTask, err := jobs.NewIntegrityScanTask(jobs.IntegrityScanPayload{})
	if err != nil {
		logger.Error("build integrity task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: redisOpts,
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskPriceListIntegrity, Handler: integrityJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.IntegrityCron, Task: integrityTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
