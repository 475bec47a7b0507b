package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	EventsIngested = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mlguard_events_ingested_total",
			Help: "Total inference events ingested",
		},
	)

	PipelineStageTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mlguard_pipeline_stage_total",
			Help: "Pipeline stage outcomes",
		},
		[]string{"stage", "status"},
	)

	DriftScore = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mlguard_drift_score",
			Help:    "Computed drift scores (PSI scale)",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"kind"},
	)

	AlertsCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mlguard_alerts_created_total",
			Help: "Total alerts created after dedupe",
		},
	)

	BaselinesCaptured = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mlguard_baselines_captured_total",
			Help: "Total baselines captured",
		},
	)

	CostPulls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mlguard_cost_pulls_total",
			Help: "Cost provider pull attempts",
		},
		[]string{"status"},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mlguard_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mlguard_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)
)

func Init() {
	prometheus.MustRegister(EventsIngested)
	prometheus.MustRegister(PipelineStageTotal)
	prometheus.MustRegister(DriftScore)
	prometheus.MustRegister(AlertsCreated)
	prometheus.MustRegister(BaselinesCaptured)
	prometheus.MustRegister(CostPulls)
	prometheus.MustRegister(CacheHits)
	prometheus.MustRegister(CacheMisses)
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
