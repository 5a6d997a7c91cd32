package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"market-signal-bot/config"
	"market-signal-bot/internal/ai/llm"
	"market-signal-bot/internal/api"
	"market-signal-bot/internal/assets"
	"market-signal-bot/internal/audit"
	"market-signal-bot/internal/automation"
	"market-signal-bot/internal/cache"
	"market-signal-bot/internal/confidence"
	"market-signal-bot/internal/database"
	"market-signal-bot/internal/events"
	"market-signal-bot/internal/logging"
	"market-signal-bot/internal/marketdata"
	"market-signal-bot/internal/ratelimit"
	"market-signal-bot/internal/risk"
	"market-signal-bot/internal/vault"
)

// store is what the repository and its in-memory fallback both provide
type store interface {
	automation.Store
	risk.AlertStore
	HealthCheck(ctx context.Context) error
}

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize structured logging
	logger := logging.New(&logging.Config{
		Level:       cfg.LoggingConfig.Level,
		Output:      cfg.LoggingConfig.Output,
		JSONFormat:  cfg.LoggingConfig.JSONFormat,
		IncludeFile: cfg.LoggingConfig.IncludeFile,
		Component:   "main",
	})
	logging.SetDefault(logger)
	logger.Info("Structured logging initialized")

	ctx := context.Background()
	health := make(map[string]api.HealthCheck)

	// Provider and LLM keys, Vault first
	vaultClient, err := vault.NewClient(cfg.VaultConfig)
	if err != nil {
		logger.Fatal("Failed to initialize Vault client", "error", err)
	}
	if vaultClient.IsEnabled() {
		health["vault"] = vaultClient.Health
	}
	prov := cfg.ProvidersConfig
	alphaKey := vaultClient.ResolveKey(ctx, "alphavantage", prov.AlphaVantage.APIKey)
	geckoKey := vaultClient.ResolveKey(ctx, "coingecko", prov.CoinGecko.APIKey)
	polygonKey := vaultClient.ResolveKey(ctx, "polygon", prov.Polygon.APIKey)
	llmKey := vaultClient.ResolveKey(ctx, cfg.AIConfig.LLMProvider, cfg.AIConfig.ActiveLLMKey())

	// Persistence, in memory when PostgreSQL is unreachable
	var repo store
	db, err := database.NewDB(ctx, cfg.DatabaseConfig)
	if err != nil {
		logger.Warn("PostgreSQL unavailable, using in-memory store", "error", err)
		repo = database.NewMemoryRepository()
	} else {
		defer db.Close()
		if err := db.RunMigrations(ctx); err != nil {
			logger.Fatal("Failed to run migrations", "error", err)
		}
		repo = database.NewRepository(db)
	}
	health["database"] = repo.HealthCheck

	// Event bus, audit counters and the Redis audit stream
	eventBus := events.NewEventBus()
	collector := audit.NewCollector()
	collector.Attach(eventBus)
	reporter := audit.NewReporter(eventBus)

	var auditStream api.AuditStream
	if cfg.RedisConfig.Enabled {
		streamSink, err := audit.NewStreamSink(cfg.RedisConfig)
		if err != nil {
			logger.Warn("Audit stream disabled", "error", err)
		} else {
			streamSink.Attach(eventBus)
			defer streamSink.Close()
			health["redis"] = func(context.Context) error {
				if !streamSink.IsHealthy() {
					return errors.New("audit stream degraded")
				}
				return nil
			}
			auditStream = streamSink
		}
	}

	// Market data: cache, per-source limits and the source chain
	ttlCache := cache.NewStore(cache.TTLsFromConfig(cfg.CacheConfig), cache.WithObserver(reporter))
	limiter := ratelimit.NewRateLimiter(cfg.RateLimitConfig)
	limits := map[string]int{
		"alphavantage": prov.AlphaVantage.MaxPerMinute,
		"coingecko":    prov.CoinGecko.MaxPerMinute,
		"polygon":      prov.Polygon.MaxPerMinute,
		"scrape":       prov.Scrape.MaxPerMinute,
	}

	chain := marketdata.NewChain(limiter, limits, reporter)
	if prov.AlphaVantage.Enabled {
		chain.Register(marketdata.NewAlphaVantage(alphaKey, prov.AlphaVantage.BaseURL, prov.HTTPTimeout))
	}
	if prov.CoinGecko.Enabled {
		chain.Register(marketdata.NewCoinGecko(geckoKey, prov.CoinGecko.BaseURL, prov.HTTPTimeout))
	}
	if polygonKey != "" {
		chain.Register(marketdata.NewPolygon(polygonKey, prov.HTTPTimeout))
	}
	if prov.Scrape.Enabled {
		chain.Register(marketdata.NewScraper(prov.Scrape.BaseURL, prov.HTTPTimeout))
	}
	chain.Register(marketdata.NewStaticTable(time.Now))

	assetService := assets.NewService(chain, ttlCache, cfg.DebounceConfig.SearchDelay, reporter)

	// Generative analysis, rules only without a key
	var analyst automation.Analyzer
	if cfg.AIConfig.Enabled && llmKey != "" {
		analyst = llm.NewAnalyst(llm.NewClient(llm.ClientConfigFromAI(cfg.AIConfig, llmKey)), 10)
		logger.Info("Generative analysis enabled", "provider", cfg.AIConfig.LLMProvider)
	} else {
		logger.Info("Generative analysis disabled, using rule-based analysis")
	}

	automationService := automation.NewService(automation.Deps{
		Market:   assetService,
		Store:    repo,
		Analyst:  analyst,
		Scorer:   confidence.NewScorer(),
		Risk:     risk.NewManager(repo, eventBus),
		Cache:    ttlCache,
		Bus:      eventBus,
		Defaults: cfg.AutomationConfig,
	})

	server := api.NewServer(cfg.ServerConfig, api.Deps{
		Assets:     assetService,
		Automation: automationService,
		Bus:        eventBus,
		Collector:  collector,
		Cache:      ttlCache,
		Limiter:    limiter,
		Stream:     auditStream,
		Health:     health,
	})

	go func() {
		if err := server.Start(); err != nil {
			logger.Fatal("HTTP server failed", "error", err)
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.ServerConfig.ShutdownTimeout)*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error shutting down web server", "error", err)
	}
	eventBus.Wait()

	logger.Info("Shutdown complete")
}
