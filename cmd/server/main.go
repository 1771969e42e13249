package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/als-ai/gateway/internal/auth"
	"github.com/als-ai/gateway/internal/backend"
	"github.com/als-ai/gateway/internal/cache"
	"github.com/als-ai/gateway/internal/config"
	"github.com/als-ai/gateway/internal/logger"
	"github.com/als-ai/gateway/internal/maintenance"
	"github.com/als-ai/gateway/internal/pipeline"
	"github.com/als-ai/gateway/internal/pricing"
	"github.com/als-ai/gateway/internal/providers"
	"github.com/als-ai/gateway/internal/ratelimit"
	"github.com/als-ai/gateway/internal/registry"
	"github.com/als-ai/gateway/internal/router"
	"github.com/als-ai/gateway/internal/secrets"
	"github.com/als-ai/gateway/internal/telemetry"
)

const localCacheSize = 10000

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.Initialize(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := cfg.Validate(); err != nil {
		log.Fatal("Invalid configuration", zap.Error(err))
	}

	redisClient := newRedisClient(cfg, log)

	local, err := cache.NewLocal(localCacheSize, cfg.Auth.CacheTTL)
	if err != nil {
		log.Fatal("Failed to build local cache", zap.Error(err))
	}
	tiered := cache.NewTiered(redisClient, local, log, cfg.Auth.CacheTTL)

	backendClient := backend.NewClient(cfg.Backend, log)
	authService := auth.NewService(tiered, backendClient, log)

	reg := registry.New()
	calculator := pricing.NewCalculator(reg)
	driver := providers.NewDriver(log, cfg.Server.RequestTimeout)
	limiter := ratelimit.NewLimiter(redisClient, log, ratelimit.NewMetrics(prometheus.DefaultRegisterer))
	if cfg.Limits.Algorithm == "counter" {
		limiter.UseCounterAlgorithm()
	}
	recorder := telemetry.NewRecorder(backendClient, log)

	var box *secrets.Box
	if cfg.Auth.EncryptionKey != "" {
		box, err = secrets.NewBox(cfg.Auth.EncryptionKey)
		if err != nil {
			log.Fatal("Failed to initialize secrets box", zap.Error(err))
		}
	} else {
		log.Warn("No encryption key configured, tenant vendor keys are disabled")
	}

	pipe := pipeline.New(pipeline.Options{
		Config:     cfg,
		Auth:       authService,
		Limiter:    limiter,
		Registry:   reg,
		Calculator: calculator,
		Driver:     driver,
		Backend:    backendClient,
		Box:        box,
		Redis:      redisClient,
		Recorder:   recorder,
		Logger:     log,
	})

	handler := router.New(router.Options{
		Config:   cfg,
		Pipeline: pipe,
		Registry: reg,
		Driver:   driver,
		Limiter:  limiter,
		Redis:    redisClient,
		Logger:   log,
		Version:  version,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var metricsSrv *http.Server
	if cfg.Server.MetricsPort > 0 && cfg.Server.MetricsPort != cfg.Server.Port {
		metricsSrv = &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.Server.MetricsPort),
			Handler: promhttp.Handler(),
		}
		go func() {
			log.Info("Metrics listening", zap.Int("port", cfg.Server.MetricsPort))
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("Metrics server failed", zap.Error(err))
			}
		}()
	}

	janitor := maintenance.NewJanitor(local, authService, backendClient, log)
	go janitor.Run(ctx)

	go func() {
		log.Info("Gateway listening",
			zap.Int("port", cfg.Server.Port),
			zap.String("environment", cfg.Environment))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdown)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Graceful shutdown failed", zap.Error(err))
	}
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	if redisClient != nil {
		_ = redisClient.Close()
	}
	log.Info("Shutdown complete")
}

// newRedisClient builds the distributed tier client. The gateway starts even
// when the tier is unreachable; the limiter and cache degrade to local mode.
func newRedisClient(cfg *config.Config, log *zap.Logger) *redis.Client {
	if cfg.Redis.URL == "" {
		log.Warn("No Redis URL configured, running in local-only mode")
		return nil
	}

	opts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		// Plain host:port form.
		opts = &redis.Options{Addr: cfg.Redis.URL}
	}
	if cfg.Redis.Token != "" {
		opts.Password = cfg.Redis.Token
	}
	if cfg.Redis.DB != 0 {
		opts.DB = cfg.Redis.DB
	}
	if cfg.Redis.PoolSize > 0 {
		opts.PoolSize = cfg.Redis.PoolSize
	}

	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Warn("Redis unreachable at startup, continuing with local fallback", zap.Error(err))
	}
	return client
}
