package aggregate

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlguard/backend/internal/daybucket"
	"github.com/mlguard/backend/internal/storage/models"
	"github.com/mlguard/backend/internal/storage/sqlite"
)

var testKey = models.ModelKey{ProjectID: "proj", ModelID: "fraud-v2", Endpoint: "predict"}

func newTestStore(t *testing.T) *sqlite.Client {
	t.Helper()

	client, err := sqlite.NewClient(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	require.NoError(t, client.InitSchema())
	return client
}

func testBucket(t *testing.T, day string) daybucket.DayBucket {
	t.Helper()
	bucket, err := daybucket.Bucket(testKey, day, "UTC")
	require.NoError(t, err)
	return bucket
}

func seedEvent(ts time.Time, latency int64, pred int64, proba float64, features map[string]models.FeatureValue) models.Event {
	return models.Event{
		ID:        uuid.New().String(),
		ProjectID: testKey.ProjectID,
		ModelID:   testKey.ModelID,
		Endpoint:  testKey.Endpoint,
		Timestamp: ts,
		LatencyMS: &latency,
		YPred:     &pred,
		YProba:    &proba,
		Features:  features,
	}
}

func TestComputeEmptyBucket(t *testing.T) {
	store := newTestStore(t)
	agg := NewAggregator(store)

	metric, err := agg.Compute(context.Background(), testBucket(t, "2024-06-15"))
	require.NoError(t, err)

	assert.Equal(t, 0, metric.NEvents)
	assert.Nil(t, metric.LatencyP50MS)
	assert.Nil(t, metric.YPredRate)
	assert.Empty(t, metric.FeatureStats)

	// The empty row still gets materialized.
	stored, err := store.GetDailyMetric(context.Background(), testKey, "2024-06-15")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, 0, stored.NEvents)
}

func TestComputeStats(t *testing.T) {
	store := newTestStore(t)
	agg := NewAggregator(store)
	ctx := context.Background()

	base := time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC)
	var events []models.Event
	latencies := []int64{10, 20, 30, 40, 50}
	for i, l := range latencies {
		pred := int64(0)
		if i < 2 {
			pred = 1
		}
		events = append(events, seedEvent(base.Add(time.Duration(i)*time.Minute), l, pred, 0.5, map[string]models.FeatureValue{
			"age":     models.Numeric(float64(30 + i)),
			"country": models.Categorical([]string{"CA", "CA", "US", "US", "UK"}[i]),
		}))
	}
	require.NoError(t, store.InsertEvents(ctx, events))

	metric, err := agg.Compute(ctx, testBucket(t, "2024-06-15"))
	require.NoError(t, err)

	assert.Equal(t, 5, metric.NEvents)
	require.NotNil(t, metric.LatencyP50MS)
	assert.InDelta(t, 30, *metric.LatencyP50MS, 1e-9)
	require.NotNil(t, metric.LatencyP95MS)
	assert.InDelta(t, 48, *metric.LatencyP95MS, 1e-9)
	require.NotNil(t, metric.YPredRate)
	assert.InDelta(t, 0.4, *metric.YPredRate, 1e-9)
	require.NotNil(t, metric.YProbaMean)
	assert.InDelta(t, 0.5, *metric.YProbaMean, 1e-9)

	age := metric.FeatureStats["age"]
	assert.Equal(t, models.KindNumeric, age.Kind)
	assert.InDelta(t, 32, age.Mean, 1e-9)
	assert.InDelta(t, 1.4142135, age.Std, 1e-6)
	assert.Equal(t, 5, age.N)

	country := metric.FeatureStats["country"]
	assert.Equal(t, models.KindCategorical, country.Kind)
	assert.InDelta(t, 0.4, country.Frequencies["CA"], 1e-9)
	assert.InDelta(t, 0.4, country.Frequencies["US"], 1e-9)
	assert.InDelta(t, 0.2, country.Frequencies["UK"], 1e-9)
	assert.Equal(t, 5, country.N)
}

func TestComputeIgnoresOutOfBucketEvents(t *testing.T) {
	store := newTestStore(t)
	agg := NewAggregator(store)
	ctx := context.Background()

	inside := seedEvent(time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC), 10, 1, 0.9,
		map[string]models.FeatureValue{"age": models.Numeric(30)})
	before := seedEvent(time.Date(2024, 6, 14, 23, 59, 59, 0, time.UTC), 999, 1, 0.9,
		map[string]models.FeatureValue{"age": models.Numeric(99)})
	after := seedEvent(time.Date(2024, 6, 16, 0, 0, 0, 0, time.UTC), 999, 1, 0.9,
		map[string]models.FeatureValue{"age": models.Numeric(99)})
	require.NoError(t, store.InsertEvents(ctx, []models.Event{inside, before, after}))

	metric, err := agg.Compute(ctx, testBucket(t, "2024-06-15"))
	require.NoError(t, err)

	assert.Equal(t, 1, metric.NEvents)
	assert.InDelta(t, 30, metric.FeatureStats["age"].Mean, 1e-9)
}

func TestComputeTypeMismatch(t *testing.T) {
	store := newTestStore(t)
	agg := NewAggregator(store)
	ctx := context.Background()

	base := time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC)
	events := []models.Event{
		seedEvent(base, 10, 1, 0.9, map[string]models.FeatureValue{"age": models.Numeric(30)}),
		seedEvent(base.Add(time.Minute), 10, 1, 0.9, map[string]models.FeatureValue{"age": models.Categorical("thirty")}),
		seedEvent(base.Add(2*time.Minute), 10, 1, 0.9, map[string]models.FeatureValue{"age": models.Numeric(40)}),
	}
	require.NoError(t, store.InsertEvents(ctx, events))

	metric, err := agg.Compute(ctx, testBucket(t, "2024-06-15"))
	require.NoError(t, err)

	// First observed value fixes the kind, the stray string is excluded.
	age := metric.FeatureStats["age"]
	assert.Equal(t, models.KindNumeric, age.Kind)
	assert.Equal(t, 2, age.N)
	assert.InDelta(t, 35, age.Mean, 1e-9)
	assert.Equal(t, 1, metric.TypeMismatches["age"])
}

func TestComputeIdempotent(t *testing.T) {
	store := newTestStore(t)
	agg := NewAggregator(store)
	ctx := context.Background()

	event := seedEvent(time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC), 25, 1, 0.8,
		map[string]models.FeatureValue{"age": models.Numeric(30)})
	require.NoError(t, store.InsertEvents(ctx, []models.Event{event}))

	bucket := testBucket(t, "2024-06-15")
	first, err := agg.Compute(ctx, bucket)
	require.NoError(t, err)
	second, err := agg.Compute(ctx, bucket)
	require.NoError(t, err)

	assert.Equal(t, first.NEvents, second.NEvents)
	assert.Equal(t, *first.LatencyP50MS, *second.LatencyP50MS)

	stored, err := store.GetDailyMetric(ctx, testKey, "2024-06-15")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, 1, stored.NEvents)
}

func TestPercentile(t *testing.T) {
	assert.Nil(t, percentile(nil, 50))

	single := percentile([]float64{42}, 95)
	require.NotNil(t, single)
	assert.Equal(t, 42.0, *single)

	vals := []float64{10, 20, 30, 40}
	p50 := percentile(vals, 50)
	require.NotNil(t, p50)
	assert.InDelta(t, 25, *p50, 1e-9)

	p100 := percentile(vals, 100)
	require.NotNil(t, p100)
	assert.Equal(t, 40.0, *p100)

	// Order of input must not matter.
	shuffled := percentile([]float64{40, 10, 30, 20}, 50)
	require.NotNil(t, shuffled)
	assert.Equal(t, *p50, *shuffled)
}

func TestMeanStd(t *testing.T) {
	m, std := meanStd([]float64{5, 5, 5})
	assert.Equal(t, 5.0, m)
	assert.Equal(t, 0.0, std)

	m, std = meanStd([]float64{2, 4, 4, 4, 5, 5, 7, 9})
	assert.InDelta(t, 5, m, 1e-9)
	assert.InDelta(t, 2, std, 1e-9)
}
