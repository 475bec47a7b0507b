package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/mlguard/backend/internal/aggregate"
	"github.com/mlguard/backend/internal/alerts"
	"github.com/mlguard/backend/internal/costs"
	"github.com/mlguard/backend/internal/drift"
	appmetrics "github.com/mlguard/backend/internal/metrics"
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

	appLogger.Info("Starting ML Guard Worker")

	store, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer store.Close()

	err = store.InitSchema()
	if err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
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

	var notifier alerts.Notifier
	if cfg.Slack.Enabled && cfg.Slack.WebhookURL != "" {
		notifier = notify.NewSlackNotifier(cfg.Slack.WebhookURL)
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

	w := worker.NewWorker(pipeline, store, worker.RealClock(), worker.Config{
		Interval:     time.Duration(cfg.Worker.IntervalSec) * time.Second,
		DayOffset:    cfg.Worker.DayOffset,
		TZ:           cfg.Worker.TZ,
		Overwrite:    cfg.Worker.Overwrite,
		CycleTimeout: time.Duration(cfg.Worker.CycleTimeoutSec) * time.Second,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		appLogger.Info("Worker shutting down gracefully...")
		cancel()
	}()

	w.Run(ctx)
	appLogger.Info("Worker stopped")
}
