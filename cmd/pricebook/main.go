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

	"github.com/odyssey-erp/pricebook/internal/app"
	"github.com/odyssey-erp/pricebook/internal/directory"
	"github.com/odyssey-erp/pricebook/internal/observability"
	"github.com/odyssey-erp/pricebook/internal/platform/cache"
	"github.com/odyssey-erp/pricebook/internal/platform/db"
	"github.com/odyssey-erp/pricebook/internal/pricelist"
	"github.com/odyssey-erp/pricebook/internal/shared"
	"github.com/odyssey-erp/pricebook/jobs"
)

type redisPinger struct {
	client *redis.Client
}

func (p redisPinger) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
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
	metrics := observability.NewMetrics()
	checks := map[string]app.Pinger{}

	var (
		store pricelist.Store
		audit pricelist.AuditRecorder
		names pricelist.Directory
	)

	switch cfg.StoreDriver {
	case app.DriverMemory:
		logger.Warn("using in-memory price list store, data is lost on exit")
		store = pricelist.NewMemoryStore()
		names = directory.NewStatic()
	default:
		dbpool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{MaxConns: cfg.PGMaxConns, MaxConnLifetime: cfg.PGMaxConnLifetime})
		if err != nil {
			logger.Error("connect postgres", slog.Any("error", err))
			os.Exit(1)
		}
		defer dbpool.Close()
		if err := pricelist.EnsureSchema(ctx, dbpool); err != nil {
			logger.Error("ensure schema", slog.Any("error", err))
			os.Exit(1)
		}
		checks["postgres"] = dbpool
		store = pricelist.NewPostgresStore(dbpool)
		audit = shared.NewAuditLogger(dbpool)

		var dirCache *directory.Cache
		redisClient, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		if err != nil {
			logger.Warn("redis unavailable, directory cache disabled", slog.Any("error", err))
		} else {
			defer func() {
				if err := redisClient.Close(); err != nil {
					logger.Warn("redis close", slog.Any("error", err))
				}
			}()
			checks["redis"] = redisPinger{client: redisClient}
			dirCache = directory.NewCache(redisClient, cfg.DirectoryCacheTTL)
			if err := dirCache.ListenForChanges(ctx, cfg.DirectoryChannel, logger); err != nil {
				logger.Warn("directory change feed unavailable", slog.Any("error", err))
			}
		}
		names = directory.NewRegistry(directory.NewPostgresSource(dbpool), dirCache, logger)
	}

	service := pricelist.NewService(store, audit, logger, pricelist.ServiceConfig{OpenRetries: cfg.OpenRetries})
	resolver := pricelist.NewResolver(store, metrics)
	matrix := pricelist.NewMatrixBuilder(store, resolver, names, metrics, logger, pricelist.MatrixConfig{
		Concurrency: cfg.MatrixConcurrency,
		Collation:   cfg.Collation(),
	})
	priceListHandler := pricelist.NewHandler(logger, service, resolver, matrix, names)

	var jobHandler *jobs.Handler
	if cfg.StoreDriver == app.DriverPostgres {
		inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		defer func() {
			if err := inspector.Close(); err != nil {
				logger.Warn("inspector close", slog.Any("error", err))
			}
		}()
		jobHandler = jobs.NewHandler(inspector, logger)
	}

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		PriceListHandler: priceListHandler,
		JobHandler:       jobHandler,
		Metrics:          metrics,
		Checks:           checks,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("store", cfg.StoreDriver))
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
