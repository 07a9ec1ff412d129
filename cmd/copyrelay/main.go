// Package main is the entry point for the content reliability service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"copyrelay/config"
	"copyrelay/internal/breaker"
	"copyrelay/internal/cache"
	"copyrelay/internal/core"
	"copyrelay/internal/health"
	"copyrelay/internal/httpclient"
	"copyrelay/internal/kvstore"
	"copyrelay/internal/llm"
	"copyrelay/internal/logging"
	"copyrelay/internal/metrics"
	"copyrelay/internal/platforms"
	"copyrelay/internal/ratelimit"
	"copyrelay/internal/server"
	"copyrelay/internal/usage"
	"copyrelay/internal/webhook"
)

var version = "dev"

func main() {
	versionFlag := flag.Bool("version", false, "Print version information")
	flag.Parse()

	if *versionFlag {
		fmt.Println("copyrelay " + version)
		os.Exit(0)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load config:", err)
		os.Exit(1)
	}

	logLevel := cfg.Logging.Level
	if cfg.Debug {
		logLevel = "debug"
	}
	logging.Setup(logging.Config{
		Level:  logLevel,
		Pretty: !cfg.Logging.JSONLogs && !cfg.Production(),
	})
	slog.Info("starting copyrelay", "version", version, "environment", cfg.Environment)

	if cfg.Auth.APIKey == "" || cfg.Auth.APIKey == "change-me-to-secure-key" {
		slog.Warn("API_KEY is unset or left at its default; set a strong key before exposing this service")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Key-value store: redis in production, in-memory when no URL is set.
	var store kvstore.Store
	if cfg.Redis.URL != "" {
		redisStore, err := kvstore.NewRedisStore(kvstore.RedisConfig{URL: cfg.Redis.URL})
		if err != nil {
			slog.Error("redis connection failed", "error", err)
			os.Exit(1)
		}
		store = redisStore
		slog.Info("connected to redis")
	} else {
		store = kvstore.NewMemoryStore()
		slog.Warn("REDIS_URL not set, using in-memory store; state will not survive restarts")
	}
	defer store.Close()

	var dbPool *pgxpool.Pool
	if cfg.Database.URL != "" {
		dbPool, err = pgxpool.New(ctx, cfg.Database.URL)
		if err != nil {
			slog.Error("database pool creation failed", "error", err)
			os.Exit(1)
		}
		defer dbPool.Close()
		slog.Info("database pool created")
	}

	cacheLayer := cache.New(store)
	if !cfg.Content.CachingEnabled {
		cacheLayer = cache.New(nil)
		slog.Info("content caching disabled")
	}
	contentCache := cache.NewContentCache(cacheLayer)

	pricing := usage.DefaultPricing()
	if cfg.Content.PricingFile != "" {
		pricing, err = usage.LoadPricing(cfg.Content.PricingFile)
		if err != nil {
			slog.Error("pricing table load failed", "path", cfg.Content.PricingFile, "error", err)
			os.Exit(1)
		}
	}

	limits := usage.DefaultLimits()
	limits.DailyRequests = cfg.Usage.DailyRequestLimit
	limits.DailyTokens = cfg.Usage.DailyTokenLimit
	limits.DailyCostUSD = cfg.Usage.DailyCostLimit

	var usageStore kvstore.Store = store
	if !cfg.Usage.Enabled {
		usageStore = nil
	}
	tracker := usage.NewTracker(usageStore, limits, pricing)

	breakers := breaker.NewRegistry(breaker.DefaultFailureThreshold, breaker.DefaultRecoveryTimeout)

	dispatcher := webhook.NewDispatcher(webhook.DispatcherConfig{
		Secret:        cfg.Webhook.Secret,
		MaxAttempts:   cfg.Webhook.RetryAttempts,
		DeliveryRate:  5,
		DeliveryBurst: 10,
		Client:        httpclient.NewWebhook(cfg.Webhook.Timeout),
	})
	receiver := webhook.NewReceiver(webhook.ReceiverConfig{
		Secret:           cfg.Webhook.Secret,
		VerifySignatures: cfg.Production(),
	})
	webhook.RegisterDefaults(receiver, contentCache)

	generator := llm.New(llm.Config{
		APIKey: cfg.OpenAI.APIKey,
		Model:  cfg.OpenAI.Model,
		Client: httpclient.NewModelProvider(),
	})
	if !generator.Available() {
		slog.Warn("OPENAI_API_KEY not set, content generation unavailable")
	}

	platformClient := httpclient.NewPlatform()
	publishers := map[string]core.Publisher{
		"meta": platforms.NewMeta(platforms.MetaConfig{
			AccessToken: cfg.Platforms.MetaAccessToken,
			Client:      platformClient,
		}),
		"linkedin": platforms.NewLinkedIn(platforms.LinkedInConfig{
			AccessToken: cfg.Platforms.LinkedInAccessToken,
			Client:      platformClient,
		}),
	}

	aggregator := health.NewAggregator(health.AggregatorConfig{},
		health.StoreCheck{Store: store, Cache: cacheLayer},
		health.DatabaseCheck{Pool: dbPool},
		health.GeneratorCheck{Generator: generator},
		health.WebhookQueueCheck{Dispatcher: dispatcher},
		health.BreakerCheck{Registry: breakers},
	)

	meter := metrics.New(nil)
	cacheLayer.SetRecorder(meter)

	if cfg.Webhook.Enabled {
		go dispatcher.RunRetryLoop(ctx, 10*time.Second)
	}
	go publishGauges(ctx, meter, dispatcher, breakers)
	go refreshHealth(ctx, aggregator)

	handler := server.NewHandler(server.HandlerConfig{
		Generator:          generator,
		Publishers:         publishers,
		Cache:              cacheLayer,
		ContentCache:       contentCache,
		Limiter:            ratelimit.New(store),
		RatePerMin:         cfg.RateLimit.PerMinute,
		Tracker:            tracker,
		Breakers:           breakers,
		Dispatcher:         dispatcher,
		Receiver:           receiver,
		Health:             aggregator,
		Metrics:            meter,
		DefaultModel:       cfg.OpenAI.Model,
		MaxPromptLen:       cfg.Content.MaxContentLength,
		CacheTTL:           cfg.Content.CacheTTL,
		DefaultMaxTokens:   cfg.OpenAI.MaxTokens,
		DefaultTemperature: cfg.OpenAI.Temperature,
	})

	srv := server.New(handler, server.Config{
		APIKey:       cfg.Auth.APIKey,
		APIKeyHeader: cfg.Auth.APIKeyHeader,
	})

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit

		slog.Info("shutting down")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	addr := ":" + cfg.Server.Port
	slog.Info("listening", "address", addr)

	if err := srv.Start(addr); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			slog.Info("server stopped gracefully")
		} else {
			slog.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}
}

// publishGauges refreshes queue-depth and breaker-state gauges on a fixed
// cadence until ctx is cancelled.
func publishGauges(ctx context.Context, m *metrics.Metrics, d *webhook.Dispatcher, reg *breaker.Registry) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			stats := d.Stats()
			m.SetWebhookQueueDepth(stats.PendingCount, stats.DeadCount)
			m.SetBreakerStates(reg.Snapshots())
		case <-ctx.Done():
			return
		}
	}
}

// refreshHealth re-runs the probes on the cache interval so /health serves a
// warm report instead of probing on the request path.
func refreshHealth(ctx context.Context, agg *health.Aggregator) {
	ticker := time.NewTicker(health.DefaultCacheTTL)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			agg.Report(ctx)
		case <-ctx.Done():
			return
		}
	}
}
