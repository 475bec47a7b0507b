package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/mlguard/backend/internal/aggregate"
	"github.com/mlguard/backend/internal/alerts"
	"github.com/mlguard/backend/internal/api/handlers"
	"github.com/mlguard/backend/internal/cache/redis"
	"github.com/mlguard/backend/internal/costs"
	"github.com/mlguard/backend/internal/drift"
	appmetrics "github.com/mlguard/backend/internal/metrics"
	"github.com/mlguard/backend/internal/middleware/auth"
	"github.com/mlguard/backend/internal/middleware/ratelimit"
	"github.com/mlguard/backend/internal/middleware/security"
	"github.com/mlguard/backend/internal/middleware/validation"
	"github.com/mlguard/backend/internal/notify"
	"github.com/mlguard/backend/internal/storage/sqlite"
	"github.com/mlguard/backend/internal/worker"
	"github.com/mlguard/backend/pkg/config"
	appLogger "github.com/mlguard/backend/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting ML Guard API Server")

	store, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer store.Close()

	err = store.InitSchema()
	if err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	var cache *redis.Client
	if cfg.Redis.Enabled {
		cache, err = redis.NewClient(
			cfg.Redis.Host,
			cfg.Redis.Port,
			cfg.Redis.Password,
			cfg.Redis.DB,
			time.Duration(cfg.Redis.TTLSec)*time.Second,
		)
		if err != nil {
			appLogger.Warn("Redis unavailable, caching disabled", zap.Error(err))
			cache = nil
		} else {
			defer cache.Close()
		}
	}

	var puller *costs.Puller
	if cfg.Costs.Enabled {
		provider, err := costs.NewCostExplorerProvider(context.Background(), cfg.Costs.Region, cfg.Costs.Metric)
		if err != nil {
			appLogger.Warn("Cost provider unavailable, cost pulling disabled", zap.Error(err))
		} else {
			puller = costs.NewPuller(provider, store,
				time.Duration(cfg.Costs.TimeoutSec)*time.Second, cfg.Costs.MaxRetries)
		}
	}

	var slackNotifier *notify.SlackNotifier
	var notifier alerts.Notifier
	if cfg.Slack.Enabled && cfg.Slack.WebhookURL != "" {
		slackNotifier = notify.NewSlackNotifier(cfg.Slack.WebhookURL)
		notifier = slackNotifier
	}

	hub := alerts.NewHub()
	aggregator := aggregate.NewAggregator(store)
	driftEngine := drift.NewEngine(store, drift.Config{
		Bins:       cfg.Drift.Bins,
		MinSamples: cfg.Drift.MinSamples,
	})
	alerter := alerts.NewEvaluator(store, hub, notifier)
	thresholds := alerts.Thresholds{
		Drift:          cfg.Alerts.DriftThreshold,
		LatencyP95MS:   cfg.Alerts.LatencyP95MS,
		CostSpikeRatio: cfg.Alerts.CostSpikeRatio,
	}
	pipeline := worker.NewPipeline(store, aggregator, driftEngine, alerter, puller, thresholds)

	appmetrics.Init()

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(security.HeadersMiddleware())
	app.Use(validation.Middleware(validation.Config{}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-API-Key",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}))

	limiter := ratelimit.New(ratelimit.Config{
		MaxRequestsPerMinute: cfg.Server.RateLimit,
		Logger:               appLogger.Log,
	})
	app.Use(limiter.Middleware())

	eventsHandler := handlers.NewEventsHandler(store)
	metricsHandler := handlers.NewMetricsHandler(pipeline, store, cache)
	driftHandler := handlers.NewDriftHandler(pipeline, driftEngine, store, cache, thresholds)
	alertsHandler := handlers.NewAlertsHandler(store, hub, slackNotifier)
	costsHandler := handlers.NewCostsHandler(pipeline, store, alerter, thresholds, puller != nil)
	discoverHandler := handlers.NewDiscoverHandler(store)
	healthHandler := handlers.NewHealthHandler(store)

	app.Get("/metrics", appmetrics.MetricsHandler())

	api := app.Group("/api/v1")
	api.Get("/health", healthHandler.Health)

	protected := api.Group("", auth.APIKey(cfg.Auth))

	protected.Post("/events", eventsHandler.IngestEvents)

	protected.Post("/metrics/compute", metricsHandler.ComputeDaily)
	protected.Get("/metrics/daily", metricsHandler.GetDaily)

	protected.Post("/drift/compute_all", driftHandler.ComputeAll)
	protected.Post("/drift/compute", driftHandler.Compute)
	protected.Get("/drift/daily", driftHandler.GetDaily)

	protected.Post("/drift/baseline/capture", driftHandler.CaptureBaseline)
	protected.Get("/baselines", driftHandler.ListBaselines)

	protected.Get("/alerts", alertsHandler.List)
	protected.Post("/alerts/slack/test", alertsHandler.SlackTest)
	protected.Get("/alerts/stream", alertsHandler.StreamUpgrade, alertsHandler.Stream())

	protected.Post("/costs/pull", costsHandler.Pull)
	protected.Post("/costs/check_spike", costsHandler.CheckSpike)
	protected.Get("/costs/daily", costsHandler.GetDaily)

	protected.Get("/discover/models", discoverHandler.Models)
	protected.Get("/discover/days", discoverHandler.Days)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	app.Shutdown()
	appLogger.Info("Server stopped")
}
