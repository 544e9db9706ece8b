package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/nulzo/chat-gateway/internal/analytics"
	"github.com/nulzo/chat-gateway/internal/config"
	"github.com/nulzo/chat-gateway/internal/gateway"
	"github.com/nulzo/chat-gateway/internal/platform/logger"
	"github.com/nulzo/chat-gateway/internal/platform/otel"
	"github.com/nulzo/chat-gateway/internal/platform/version"
	"github.com/nulzo/chat-gateway/internal/pool"
	"github.com/nulzo/chat-gateway/internal/server"
	"github.com/nulzo/chat-gateway/internal/store"
	"github.com/nulzo/chat-gateway/internal/store/cache"
	"github.com/nulzo/chat-gateway/internal/store/sqlite"

	// supplier adapters register themselves with llm
	_ "github.com/nulzo/chat-gateway/internal/llm/anthropic"
	_ "github.com/nulzo/chat-gateway/internal/llm/openai"
	_ "github.com/nulzo/chat-gateway/internal/llm/stability"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	logCfg := logger.DefaultConfig()
	logCfg.Level = cfg.Log.Level
	logCfg.Format = cfg.Log.Format
	logger.Initialize(logCfg)
	defer logger.Sync()

	log := logger.Get()
	log.Info("Starting chat gateway", zap.String("version", version.Version), zap.String("env", cfg.Server.Env))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := otel.InitTracer(otel.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		Pretty:      !cfg.IsProduction(),
	}, log, os.Stdout)
	if err != nil {
		log.Fatal("Failed to initialize tracing", zap.Error(err))
	}
	defer func() {
		_ = shutdownTracer(context.Background())
	}()

	repo, err := sqlite.NewSQLiteStorage(cfg.Database.Path)
	if err != nil {
		log.Fatal("Failed to open database", zap.Error(err))
	}
	defer func() {
		_ = repo.Close()
	}()

	if _, err := gateway.SeedTokens(ctx, repo, cfg.Tokens, log); err != nil {
		log.Fatal("Failed to seed bootstrap tokens", zap.Error(err))
	}

	modelCache := newCache(ctx, cfg, log)

	pools, err := gateway.NewPools(gateway.MustRouteTable(gateway.DefaultRoutes),
		pool.WithSource(store.ActiveTokens{Repo: repo}),
		pool.WithCache(modelCache, cfg.Cache.ModelsTTL),
		pool.WithLogger(log.Named("pool")),
	)
	if err != nil {
		log.Fatal("Failed to build client pools", zap.Error(err))
	}

	agent, err := gateway.New(pools,
		gateway.WithLogger(log.Named("gateway")),
		gateway.WithBreaker(gateway.BreakerConfig{
			MaxRequests:         cfg.Breaker.MaxRequests,
			Interval:            cfg.Breaker.Interval,
			Timeout:             cfg.Breaker.Timeout,
			ConsecutiveFailures: cfg.Breaker.ConsecutiveFailures,
		}),
	)
	if err != nil {
		log.Fatal("Failed to build gateway", zap.Error(err))
	}
	agent.Start(ctx)

	ingestor := analytics.NewIngestor(log.Named("analytics"), repo)
	ingestor.Start(context.Background())
	defer ingestor.Stop()

	if cfg.Update.Enabled {
		go checkForUpdates(ctx, cfg.Update.Repo, log)
	}

	srv := server.New(cfg, log, server.Deps{
		Agent:     agent,
		Repo:      repo,
		Ingestor:  ingestor,
		Analytics: analytics.NewService(repo),
	})
	if err := srv.Run(ctx); err != nil {
		log.Error("Server stopped with error", zap.Error(err))
	}
}

// newCache prefers redis when configured and falls back to process memory when it is unreachable.
func newCache(ctx context.Context, cfg *config.Config, log *zap.Logger) cache.CacheService {
	if !cfg.Redis.Enabled {
		return cache.NewMemoryCache()
	}

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	rc, err := cache.NewRedisCache(pingCtx, cache.RedisConfig{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		log.Warn("Redis unavailable, using in-memory model cache", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		return cache.NewMemoryCache()
	}
	log.Info("Using redis model cache", zap.String("addr", cfg.Redis.Addr))
	return rc
}

func checkForUpdates(ctx context.Context, repo string, log *zap.Logger) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	latest, outdated, err := version.Checker{Repo: repo}.Latest(ctx, version.Version)
	if err != nil {
		log.Debug("Update check failed", zap.Error(err))
		return
	}
	if outdated {
		log.Warn("A newer release is available", zap.String("current", version.Version), zap.String("latest", latest))
	}
}
