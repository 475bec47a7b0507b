package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlguard/backend/internal/aggregate"
	"github.com/mlguard/backend/internal/alerts"
	"github.com/mlguard/backend/internal/costs"
	"github.com/mlguard/backend/internal/daybucket"
	"github.com/mlguard/backend/internal/drift"
	"github.com/mlguard/backend/internal/storage/models"
	"github.com/mlguard/backend/internal/storage/sqlite"
)

var testKey = models.ModelKey{ProjectID: "proj", ModelID: "fraud-v2", Endpoint: "predict"}

type fakeClock struct {
	now time.Time
}

func (c fakeClock) Now() time.Time { return c.now }

func newTestStore(t *testing.T) *sqlite.Client {
	t.Helper()

	store, err := sqlite.NewClient(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.InitSchema())
	return store
}

func newTestPipeline(store *sqlite.Client, provider costs.Provider, th alerts.Thresholds) *Pipeline {
	var puller CostPuller
	if provider != nil {
		puller = costs.NewPuller(provider, store, time.Second, 0)
	}
	engine := drift.NewEngine(store, drift.Config{Bins: 10, MinSamples: 10})
	alerter := alerts.NewEvaluator(store, nil, nil)
	return NewPipeline(store, aggregate.NewAggregator(store), engine, alerter, puller, th)
}

func seedDay(t *testing.T, store *sqlite.Client, start time.Time, n int, age func(i int) float64) {
	t.Helper()

	events := make([]models.Event, 0, n)
	for i := 0; i < n; i++ {
		latency := int64(20 + i%10)
		events = append(events, models.Event{
			ID:        uuid.New().String(),
			ProjectID: testKey.ProjectID,
			ModelID:   testKey.ModelID,
			Endpoint:  testKey.Endpoint,
			Timestamp: start.Add(time.Duration(i) * time.Second),
			LatencyMS: &latency,
			Features:  map[string]models.FeatureValue{"age": models.Numeric(age(i))},
		})
	}
	require.NoError(t, store.InsertEvents(context.Background(), events))
}

func TestRunOnceComputesPreviousDay(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// Baseline week in early June, drifted traffic on the 15th.
	baselineStart := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	seedDay(t, store, baselineStart, 100, func(i int) float64 { return float64(20 + i%40) })

	engine := drift.NewEngine(store, drift.Config{Bins: 10, MinSamples: 10})
	_, err := engine.CaptureBaseline(ctx, testKey, "age", baselineStart, baselineStart.AddDate(0, 0, 7), false)
	require.NoError(t, err)

	dayStart := time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC)
	seedDay(t, store, dayStart, 100, func(i int) float64 { return float64(200 + i%10) })

	pipeline := newTestPipeline(store, nil, alerts.Thresholds{Drift: 0.25})
	w := NewWorker(pipeline, store, fakeClock{now: time.Date(2024, 6, 16, 3, 0, 0, 0, time.UTC)}, Config{
		DayOffset: 1,
		TZ:        "UTC",
	})

	w.RunOnce(ctx)

	metric, err := store.GetDailyMetric(ctx, testKey, "2024-06-15")
	require.NoError(t, err)
	require.NotNil(t, metric)
	assert.Equal(t, 100, metric.NEvents)

	results, err := store.GetDriftResults(ctx, testKey, "2024-06-15")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, models.DriftOK, results[0].Status)
	require.NotNil(t, results[0].Score)
	assert.Greater(t, *results[0].Score, 0.25)

	created, err := store.ListAlerts(ctx, sqlite.AlertFilter{ProjectID: testKey.ProjectID})
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, models.AlertDrift, created[0].Kind)
}

func TestRunOnceSkipsDriftWithoutBaselines(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	dayStart := time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC)
	seedDay(t, store, dayStart, 20, func(i int) float64 { return float64(30 + i) })

	pipeline := newTestPipeline(store, nil, alerts.Thresholds{Drift: 0.25})
	w := NewWorker(pipeline, store, fakeClock{now: time.Date(2024, 6, 16, 3, 0, 0, 0, time.UTC)}, Config{
		DayOffset: 1,
		TZ:        "UTC",
	})

	w.RunOnce(ctx)

	metric, err := store.GetDailyMetric(ctx, testKey, "2024-06-15")
	require.NoError(t, err)
	require.NotNil(t, metric)

	results, err := store.GetDriftResults(ctx, testKey, "2024-06-15")
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestRunOnceCostFailureLeavesPipelineResults(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	dayStart := time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC)
	seedDay(t, store, dayStart, 20, func(i int) float64 { return float64(30 + i) })

	provider := &costs.StubProvider{Err: errors.New("credentials missing")}
	pipeline := newTestPipeline(store, provider, alerts.Thresholds{})
	w := NewWorker(pipeline, store, fakeClock{now: time.Date(2024, 6, 16, 3, 0, 0, 0, time.UTC)}, Config{
		DayOffset: 1,
		TZ:        "UTC",
	})

	w.RunOnce(ctx)

	// Metrics committed despite the provider outage.
	metric, err := store.GetDailyMetric(ctx, testKey, "2024-06-15")
	require.NoError(t, err)
	require.NotNil(t, metric)
	assert.Equal(t, 20, metric.NEvents)

	rows, err := store.ListDailyCosts(ctx, testKey.ProjectID, "2024-06-15")
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestRunOnceStoresCosts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	dayStart := time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC)
	seedDay(t, store, dayStart, 20, func(i int) float64 { return float64(30 + i) })

	provider := &costs.StubProvider{Rows: []costs.ServiceCost{
		{Service: "AmazonSageMaker", Amount: 30, Unit: "USD"},
		{Service: "AmazonS3", Amount: 10, Unit: "USD"},
	}}
	pipeline := newTestPipeline(store, provider, alerts.Thresholds{})
	w := NewWorker(pipeline, store, fakeClock{now: time.Date(2024, 6, 16, 3, 0, 0, 0, time.UTC)}, Config{
		DayOffset: 1,
		TZ:        "UTC",
		Overwrite: true,
	})

	w.RunOnce(ctx)

	total, err := store.TotalCost(ctx, testKey.ProjectID, "2024-06-15")
	require.NoError(t, err)
	require.NotNil(t, total)
	assert.InDelta(t, 40.0, *total, 1e-9)
}

func TestRunOnceNoEvents(t *testing.T) {
	store := newTestStore(t)

	pipeline := newTestPipeline(store, nil, alerts.Thresholds{})
	w := NewWorker(pipeline, store, fakeClock{now: time.Date(2024, 6, 16, 3, 0, 0, 0, time.UTC)}, Config{
		DayOffset: 1,
		TZ:        "UTC",
	})

	// Must be a quiet no-op.
	w.RunOnce(context.Background())
}

func TestPullCostsNilPuller(t *testing.T) {
	store := newTestStore(t)
	pipeline := newTestPipeline(store, nil, alerts.Thresholds{})

	result, err := pipeline.PullCosts(context.Background(), "proj", "2024-06-15", false)
	assert.NoError(t, err)
	assert.Nil(t, result)
}

func TestComputeMetricsConcurrentSameBucket(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	dayStart := time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC)
	seedDay(t, store, dayStart, 50, func(i int) float64 { return float64(30 + i) })

	pipeline := newTestPipeline(store, nil, alerts.Thresholds{})
	bucket, err := daybucket.Bucket(testKey, "2024-06-15", "UTC")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := pipeline.ComputeMetrics(ctx, bucket)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	metric, err := store.GetDailyMetric(ctx, testKey, "2024-06-15")
	require.NoError(t, err)
	require.NotNil(t, metric)
	assert.Equal(t, 50, metric.NEvents)
}

// drainAfterDrift cancels the cycle context once drift evaluation returns, so
// the alert stage sees an expired deadline.
type drainAfterDrift struct {
	engine *drift.Engine
	cancel context.CancelFunc
}

func (d drainAfterDrift) EvaluateAll(ctx context.Context, bucket daybucket.DayBucket) (map[string]*models.DriftResult, error) {
	results, err := d.engine.EvaluateAll(ctx, bucket)
	d.cancel()
	return results, err
}

// trackingStore counts baseline prechecks so a test can prove the drift stage
// was never reached.
type trackingStore struct {
	*sqlite.Client
	baselineChecks int
}

func (s *trackingStore) HasBaselines(ctx context.Context, key models.ModelKey) (bool, error) {
	s.baselineChecks++
	return s.Client.HasBaselines(ctx, key)
}

func TestRunKeyExpiredCycleKeepsCommittedStages(t *testing.T) {
	store := newTestStore(t)
	background := context.Background()

	baselineStart := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	seedDay(t, store, baselineStart, 100, func(i int) float64 { return float64(20 + i%40) })

	engine := drift.NewEngine(store, drift.Config{Bins: 10, MinSamples: 10})
	_, err := engine.CaptureBaseline(background, testKey, "age", baselineStart, baselineStart.AddDate(0, 0, 7), false)
	require.NoError(t, err)

	dayStart := time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC)
	seedDay(t, store, dayStart, 100, func(i int) float64 { return float64(200 + i%10) })

	ctx, cancel := context.WithCancel(background)
	defer cancel()
	alerter := alerts.NewEvaluator(store, nil, nil)
	pipeline := NewPipeline(store, aggregate.NewAggregator(store), drainAfterDrift{engine: engine, cancel: cancel}, alerter, nil, alerts.Thresholds{Drift: 0.25})

	bucket, err := daybucket.Bucket(testKey, "2024-06-15", "UTC")
	require.NoError(t, err)
	pipeline.RunKey(ctx, bucket)

	// Stages that finished before the deadline stay committed.
	metric, err := store.GetDailyMetric(background, testKey, "2024-06-15")
	require.NoError(t, err)
	require.NotNil(t, metric)
	assert.Equal(t, 100, metric.NEvents)

	results, err := store.GetDriftResults(background, testKey, "2024-06-15")
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.NotNil(t, results[0].Score)
	assert.Greater(t, *results[0].Score, 0.25)

	// The alert stage was abandoned.
	alertRows, err := store.ListAlerts(background, sqlite.AlertFilter{Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, alertRows)
}

func TestRunKeyCanceledCycleAbandonsRemainingStages(t *testing.T) {
	store := newTestStore(t)
	background := context.Background()

	dayStart := time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC)
	seedDay(t, store, dayStart, 50, func(i int) float64 { return float64(30 + i) })

	tracked := &trackingStore{Client: store}
	engine := drift.NewEngine(store, drift.Config{Bins: 10, MinSamples: 10})
	alerter := alerts.NewEvaluator(store, nil, nil)
	pipeline := NewPipeline(tracked, aggregate.NewAggregator(store), engine, alerter, nil, alerts.Thresholds{Drift: 0.25})

	bucket, err := daybucket.Bucket(testKey, "2024-06-15", "UTC")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(background)
	cancel()
	pipeline.RunKey(ctx, bucket)

	assert.Zero(t, tracked.baselineChecks)
	results, err := store.GetDriftResults(background, testKey, "2024-06-15")
	require.NoError(t, err)
	assert.Empty(t, results)
}
