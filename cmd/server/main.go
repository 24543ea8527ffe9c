package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sifan077/PoolURL/config"
	"github.com/sifan077/PoolURL/internal/app/cache"
	apprepository "github.com/sifan077/PoolURL/internal/app/repository"
	appserver "github.com/sifan077/PoolURL/internal/app/server"
	"github.com/sifan077/PoolURL/internal/app/service"
	"github.com/sifan077/PoolURL/internal/app/token"
	"github.com/sifan077/PoolURL/internal/http/middleware"
	"github.com/sifan077/PoolURL/internal/infra/logger"
	infraNATS "github.com/sifan077/PoolURL/internal/infra/nats"
	infraPostgres "github.com/sifan077/PoolURL/internal/infra/postgres"
	infraPrometheus "github.com/sifan077/PoolURL/internal/infra/prometheus"
	infraRedis "github.com/sifan077/PoolURL/internal/infra/redis"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := logger.MustInit(logger.Config{
		Development: os.Getenv("APP_ENV") != "production",
		Level:       os.Getenv("LOG_LEVEL"),
	})
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load config", zap.Error(err))
	}
	log = logger.MustInit(logger.FromConfig(cfg))

	log.Info("Configuration loaded successfully",
		zap.String("postgres_host", cfg.Postgres.Host),
		zap.Int("postgres_port", cfg.Postgres.Port),
		zap.String("postgres_db", cfg.Postgres.Database),
		zap.String("redis_host", cfg.Redis.Host),
		zap.Int("redis_port", cfg.Redis.Port),
		zap.Int("token_length", cfg.Shortener.TokenLength),
		zap.Int("reserved_pool_target", cfg.Shortener.ReservedPoolTarget),
		zap.Bool("use_cache", cfg.Shortener.UseCache),
		zap.String("cache_backend", cfg.Cache.Backend),
		zap.Bool("async_usage_logging", cfg.Shortener.AsyncUsageLogging),
	)

	gormDB, err := infraPostgres.NewGorm(cfg.Postgres)
	if err != nil {
		log.Fatal("Failed to open GORM connection", zap.Error(err))
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		log.Fatal("Failed to access underlying SQL DB", zap.Error(err))
	}
	defer sqlDB.Close()

	if err := infraPostgres.Migrate(ctx, gormDB); err != nil {
		log.Fatal("Failed to run database migrations", zap.Error(err))
	}

	pool, err := infraPostgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		log.Fatal("Failed to connect to Postgres", zap.Error(err))
	}
	defer pool.Close()
	log.Info("Connected to Postgres successfully")

	redisClient, err := infraRedis.NewClient(ctx, cfg.Redis)
	if err != nil {
		log.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()
	log.Info("Connected to Redis successfully")

	var js nats.JetStreamContext
	if cfg.Shortener.AsyncUsageLogging {
		natsConn, jsCtx, err := infraNATS.Connect(cfg.NATS, log.Named("nats"))
		if err != nil {
			log.Warn("NATS unavailable, usage events will be recorded inline", zap.Error(err))
		} else {
			defer natsConn.Drain()
			js = jsCtx
			log.Info("Connected to NATS successfully")
		}
	}

	var redirects cache.RedirectCache
	if cfg.Shortener.UseCache {
		switch cfg.Cache.Backend {
		case config.CacheBackendLocal:
			local, err := cache.NewLocalCache(cache.LocalConfig{
				MaxCostMB:   cfg.Cache.LocalMaxCostMB,
				NumCounters: cfg.Cache.LocalCounters,
			})
			if err != nil {
				log.Fatal("Failed to build local cache", zap.Error(err))
			}
			defer local.Close()
			redirects = local
		default:
			redirects = cache.NewRedisCache(redisClient, cfg.Cache.KeyPrefix)
		}
	}

	if cfg.IsProduction() {
		promServer := infraPrometheus.NewServer(cfg.Prometheus)
		go func() {
			log.Info("Starting Prometheus metrics server",
				zap.Int("port", cfg.Prometheus.Port))
			if err := promServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("Prometheus metrics server stopped unexpectedly", zap.Error(err))
			}
		}()
		defer func() {
			if err := promServer.Close(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Warn("Failed to close Prometheus server", zap.Error(err))
			}
		}()
	} else {
		log.Info("Skipping Prometheus metrics server in development mode")
	}

	invalidator := service.NewCacheInvalidator(redirects, log.Named("cache"))
	bindingRepo := apprepository.NewBindingRepository(gormDB, invalidator)
	usageRepo := apprepository.NewUsageEventRepository(gormDB)
	gen := token.NewRandomGenerator(cfg.Shortener.TokenLength)

	tokenPool := service.NewTokenPool(bindingRepo, gen, cfg.Shortener, log.Named("pool"))
	bindings := service.NewBindingService(bindingRepo, tokenPool, gen, cfg.Shortener, log.Named("bindings"))
	resolver := service.NewResolver(bindingRepo, redirects, cfg.Shortener, log.Named("resolver"))
	usage := service.NewUsageRecorder(usageRepo, js, cfg.Shortener.AsyncUsageLogging, log.Named("usage"))

	if js != nil {
		consumer := service.NewUsageConsumer(js, usageRepo, cfg.Shortener.UsageDedupeCapacity, log.Named("usage-consumer"))
		if err := consumer.Start(ctx); err != nil {
			log.Fatal("Failed to start usage consumer", zap.Error(err))
		}
		log.Info("Usage consumer started")
	}

	if cfg.Shortener.ReplenishInterval > 0 {
		replenisher := service.NewPoolReplenisher(log.Named("replenisher"), tokenPool, cfg.Shortener.ReservedPoolTarget, cfg.Shortener.ReplenishInterval)
		replenisher.Start()
		defer replenisher.Stop()
		log.Info("Pool replenisher started", zap.Duration("interval", cfg.Shortener.ReplenishInterval))
	}

	rateLimit := middleware.DefaultRateLimitConfig()
	server := appserver.New(appserver.Dependencies{
		Logger:    log,
		Postgres:  pool,
		Redis:     redisClient,
		Bindings:  bindings,
		Pool:      tokenPool,
		Resolver:  resolver,
		Usage:     usage,
		Shortener: cfg.Shortener,
		RateLimit: &rateLimit,
	})

	errCh := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening", zap.String("addr", cfg.Server.Addr))
		errCh <- server.Listen(cfg.Server.Addr)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			log.Error("Fiber server exited", zap.Error(err))
		}
	case <-ctx.Done():
		log.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Warn("Failed to shut down HTTP server", zap.Error(err))
		}
	}
}
