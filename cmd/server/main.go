package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/arashbot/gateway/internal/bot"
	"github.com/arashbot/gateway/internal/command"
	"github.com/arashbot/gateway/internal/models"
	"github.com/arashbot/gateway/internal/processor"
	"github.com/arashbot/gateway/internal/quota"
	"github.com/arashbot/gateway/internal/ratelimit"
	"github.com/arashbot/gateway/internal/session"
	"github.com/arashbot/gateway/internal/storage"
	"github.com/arashbot/gateway/internal/tenant"
	"github.com/arashbot/gateway/internal/upstream"
	"github.com/arashbot/gateway/pkg/config"
	"go.uber.org/zap"
)

func tierDefaults(tc config.TierConfig, tier models.AccessTier) tenant.Config {
	return tenant.Config{
		Tier:             tier,
		Model:            tc.DefaultModel,
		AvailableModels:  tenant.SplitCSV(tc.Models),
		RateLimit:        tc.RateLimit,
		MaxHistory:       tc.MaxHistory,
		Commands:         tenant.SplitCSV(tc.Commands),
		AllowModelSwitch: tc.AllowModelSwitch,
		RequiresAuth:     tier == models.TierPrivate,
	}
}

func main() {
	// Initialize logger
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	// Load configuration
	cfg, err := config.LoadConfig("config.yaml")
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err), zap.String("path", "config.yaml"))
	}

	// Initialize storage
	var store storage.Storage
	if cfg.Database.UseInMemory {
		logger.Info("Using in-memory storage")
		store = storage.NewMemoryStorage()
	} else {
		logger.Info("Using PostgreSQL storage")
		dbConfig := storage.DatabaseConfig{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			DBName:   cfg.Database.DBName,
			SSLMode:  cfg.Database.SSLMode,
		}
		store, err = storage.NewPostgresStorage(dbConfig, logger)
		if err != nil {
			logger.Fatal("Failed to initialize storage", zap.Error(err))
		}
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Tenant resolution on top of tier defaults
	defaults := tenant.Defaults{
		Public:  tierDefaults(cfg.Tiers.Public, models.TierPublic),
		Private: tierDefaults(cfg.Tiers.Private, models.TierPrivate),
	}
	resolver := tenant.NewResolver(store, defaults,
		time.Duration(cfg.Session.TenantCacheSeconds)*time.Second, logger)

	// Session registry with idle sweeping
	registry := session.NewRegistry(store, resolver,
		time.Duration(cfg.Session.TimeoutMinutes)*time.Minute, logger)
	sweepInterval := time.Duration(cfg.Session.SweepIntervalSeconds) * time.Second
	go registry.Run(ctx, sweepInterval)

	// Rate limiting, shared via redis when configured
	var limiter ratelimit.Limiter
	if cfg.Redis.Addr != "" {
		logger.Info("Using redis rate limiter", zap.String("addr", cfg.Redis.Addr))
		redisLimiter, err := ratelimit.NewRedisLimiter(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
		if err != nil {
			logger.Fatal("Failed to connect to redis", zap.Error(err))
		}
		defer redisLimiter.Close()
		limiter = redisLimiter
	} else {
		slidingLimiter := ratelimit.NewSlidingWindowLimiter(logger)
		go slidingLimiter.Run(ctx, sweepInterval)
		limiter = slidingLimiter
	}

	tracker := quota.NewTracker(store, logger)

	// Upstream AI client
	var client upstream.Client
	switch cfg.Upstream.Provider {
	case "openai":
		client = upstream.NewOpenAIClient(upstream.OpenAIConfig{
			APIKey:      cfg.Upstream.APIKey,
			BaseURL:     cfg.Upstream.BaseURL,
			MaxTokens:   cfg.Upstream.MaxTokens,
			Temperature: cfg.Upstream.Temperature,
		}, logger)
	case "gateway":
		client = upstream.NewGatewayClient(upstream.GatewayConfig{
			BaseURL:        cfg.Upstream.BaseURL,
			ConnectTimeout: time.Duration(cfg.Upstream.ConnectTimeoutSeconds) * time.Second,
			RequestTimeout: time.Duration(cfg.Upstream.RequestTimeoutSeconds) * time.Second,
		}, logger)
	default:
		logger.Fatal("Unknown upstream provider", zap.String("provider", cfg.Upstream.Provider))
	}

	commands := command.NewInterpreter(store, logger)

	proc := processor.New(registry, limiter, tracker, client, commands, store, logger)

	if !cfg.Telegram.Enabled {
		logger.Info("Telegram channel disabled, idling until shutdown")
		<-ctx.Done()
		return
	}

	b, err := bot.New(cfg.Telegram.Token, proc, logger)
	if err != nil {
		logger.Fatal("Failed to create bot", zap.Error(err))
	}

	if err := b.Start(ctx); err != nil && ctx.Err() == nil {
		logger.Fatal("Bot error", zap.Error(err))
	}
	logger.Info("Shutting down")
}
