package drift

import (
	"context"
	"math/rand"
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

func newTestEngine(t *testing.T) (*Engine, *sqlite.Client) {
	t.Helper()

	store, err := sqlite.NewClient(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.InitSchema())

	return NewEngine(store, Config{Bins: 10, MinSamples: 10}), store
}

func seedEvents(t *testing.T, store *sqlite.Client, start time.Time, n int, gen func(i int) map[string]models.FeatureValue) {
	t.Helper()

	events := make([]models.Event, 0, n)
	for i := 0; i < n; i++ {
		events = append(events, models.Event{
			ID:        uuid.New().String(),
			ProjectID: testKey.ProjectID,
			ModelID:   testKey.ModelID,
			Endpoint:  testKey.Endpoint,
			Timestamp: start.Add(time.Duration(i) * time.Second),
			Features:  gen(i),
		})
	}
	require.NoError(t, store.InsertEvents(context.Background(), events))
}

func TestMakeBins(t *testing.T) {
	edges := makeBins([]float64{0, 2, 4, 6, 8, 10}, 5)
	require.Len(t, edges, 6)
	assert.Equal(t, 0.0, edges[0])
	assert.Equal(t, 10.0, edges[5])
	assert.InDelta(t, 2.0, edges[1], 1e-9)

	// A constant sample still yields a usable range.
	degenerate := makeBins([]float64{7, 7, 7}, 4)
	require.Len(t, degenerate, 5)
	assert.Equal(t, 6.5, degenerate[0])
	assert.Equal(t, 7.5, degenerate[4])
}

func TestHistProbs(t *testing.T) {
	edges := []float64{0, 1, 2, 3}

	probs := histProbs([]float64{0.5, 1.5, 1.5, 2.5}, edges)
	assert.InDelta(t, 0.25, probs[0], 1e-9)
	assert.InDelta(t, 0.5, probs[1], 1e-9)
	assert.InDelta(t, 0.25, probs[2], 1e-9)

	// Out-of-range values clamp into the edge bins; the max edge lands in
	// the last bin.
	clamped := histProbs([]float64{-5, 3, 10}, edges)
	assert.InDelta(t, 1.0/3, clamped[0], 1e-9)
	assert.InDelta(t, 2.0/3, clamped[2], 1e-9)
}

func TestPSISelfIsZero(t *testing.T) {
	probs := []float64{0.2, 0.3, 0.5}
	assert.InDelta(t, 0, psi(probs, probs), 1e-12)
}

func TestPSIShiftPositive(t *testing.T) {
	expected := []float64{0.5, 0.5, 0}
	actual := []float64{0, 0.5, 0.5}
	assert.Greater(t, psi(expected, actual), 0.25)
}

func TestCategoricalDivergence(t *testing.T) {
	base := map[string]float64{"CA": 0.5, "US": 0.5}
	assert.InDelta(t, 0, categoricalDivergence(base, map[string]float64{"CA": 0.5, "US": 0.5}), 1e-12)

	// A new category absent from the baseline contributes through the
	// epsilon floor.
	shifted := categoricalDivergence(base, map[string]float64{"CA": 0.1, "US": 0.1, "BR": 0.8})
	assert.Greater(t, shifted, 0.25)
}

func TestClassifySeverity(t *testing.T) {
	assert.Equal(t, SeverityOK, ClassifySeverity(0))
	assert.Equal(t, SeverityOK, ClassifySeverity(0.0999))
	assert.Equal(t, SeverityWarn, ClassifySeverity(0.10))
	assert.Equal(t, SeverityWarn, ClassifySeverity(0.2499))
	assert.Equal(t, SeverityAlert, ClassifySeverity(0.25))
	assert.Equal(t, SeverityAlert, ClassifySeverity(3.5))
}

func TestCaptureBaselineWindowErrors(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	from := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 7)

	_, err := engine.CaptureBaseline(ctx, testKey, "age", to, from, false)
	assert.ErrorIs(t, err, ErrInvalidWindow)

	_, err = engine.CaptureBaseline(ctx, testKey, "age", from, to, false)
	assert.ErrorIs(t, err, ErrEmptyWindow)
}

func TestCaptureBaselineExistsAndOverwrite(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()

	from := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 7)
	seedEvents(t, store, from, 50, func(i int) map[string]models.FeatureValue {
		return map[string]models.FeatureValue{"age": models.Numeric(float64(20 + i%40))}
	})

	first, err := engine.CaptureBaseline(ctx, testKey, "age", from, to, false)
	require.NoError(t, err)
	assert.Equal(t, models.KindNumeric, first.FeatureType)
	assert.Equal(t, 50, first.NBaseline)
	assert.Len(t, first.BinEdges, 11)
	assert.Len(t, first.Probs, 10)

	_, err = engine.CaptureBaseline(ctx, testKey, "age", from, to, false)
	assert.ErrorIs(t, err, ErrBaselineExists)

	// Overwrite replaces atomically.
	replaced, err := engine.CaptureBaseline(ctx, testKey, "age", from, to.AddDate(0, 0, 1), true)
	require.NoError(t, err)
	assert.Equal(t, to.AddDate(0, 0, 1), replaced.CapturedTo)

	stored, err := store.GetBaseline(ctx, testKey, "age")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, to.AddDate(0, 0, 1).UnixMilli(), stored.CapturedTo.UnixMilli())
}

func TestCaptureBaselineCategorical(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()

	from := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	countries := []string{"CA", "CA", "US", "UK"}
	seedEvents(t, store, from, 40, func(i int) map[string]models.FeatureValue {
		return map[string]models.FeatureValue{"country": models.Categorical(countries[i%4])}
	})

	baseline, err := engine.CaptureBaseline(ctx, testKey, "country", from, from.AddDate(0, 0, 7), false)
	require.NoError(t, err)

	assert.Equal(t, models.KindCategorical, baseline.FeatureType)
	assert.InDelta(t, 0.5, baseline.Frequencies["CA"], 1e-9)
	assert.InDelta(t, 0.25, baseline.Frequencies["US"], 1e-9)
	assert.InDelta(t, 0.25, baseline.Frequencies["UK"], 1e-9)
}

func TestEvaluateMissingBaseline(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()

	bucket, err := daybucket.Bucket(testKey, "2024-06-15", "UTC")
	require.NoError(t, err)

	seedEvents(t, store, bucket.StartUTC, 20, func(i int) map[string]models.FeatureValue {
		return map[string]models.FeatureValue{"age": models.Numeric(float64(30 + i))}
	})

	result, err := engine.Evaluate(ctx, bucket, "age")
	require.NoError(t, err)

	assert.Equal(t, models.DriftMissingBaseline, result.Status)
	assert.Nil(t, result.Score)

	// The status row is persisted like any other result.
	stored, err := store.GetDriftResults(ctx, testKey, "2024-06-15")
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, models.DriftMissingBaseline, stored[0].Status)
}

func TestEvaluateInsufficientData(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()

	from := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	seedEvents(t, store, from, 50, func(i int) map[string]models.FeatureValue {
		return map[string]models.FeatureValue{"age": models.Numeric(float64(20 + i%40))}
	})
	_, err := engine.CaptureBaseline(ctx, testKey, "age", from, from.AddDate(0, 0, 7), false)
	require.NoError(t, err)

	bucket, err := daybucket.Bucket(testKey, "2024-06-15", "UTC")
	require.NoError(t, err)
	seedEvents(t, store, bucket.StartUTC, 5, func(i int) map[string]models.FeatureValue {
		return map[string]models.FeatureValue{"age": models.Numeric(float64(30 + i))}
	})

	result, err := engine.Evaluate(ctx, bucket, "age")
	require.NoError(t, err)

	assert.Equal(t, models.DriftInsufficientData, result.Status)
	assert.Nil(t, result.Score)
	assert.Equal(t, 5, result.N)
}

func TestEvaluateStableDistribution(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(7))

	from := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	seedEvents(t, store, from, 500, func(i int) map[string]models.FeatureValue {
		return map[string]models.FeatureValue{"age": models.Numeric(18 + rng.Float64()*52)}
	})
	_, err := engine.CaptureBaseline(ctx, testKey, "age", from, from.AddDate(0, 0, 7), false)
	require.NoError(t, err)

	bucket, err := daybucket.Bucket(testKey, "2024-06-15", "UTC")
	require.NoError(t, err)
	seedEvents(t, store, bucket.StartUTC, 500, func(i int) map[string]models.FeatureValue {
		return map[string]models.FeatureValue{"age": models.Numeric(18 + rng.Float64()*52)}
	})

	result, err := engine.Evaluate(ctx, bucket, "age")
	require.NoError(t, err)

	assert.Equal(t, models.DriftOK, result.Status)
	require.NotNil(t, result.Score)
	assert.Less(t, *result.Score, 0.10)
	assert.Equal(t, SeverityOK, result.Severity)
}

func TestEvaluateDriftedDistribution(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(7))

	from := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	seedEvents(t, store, from, 500, func(i int) map[string]models.FeatureValue {
		return map[string]models.FeatureValue{"age": models.Numeric(18 + rng.Float64()*52)}
	})
	_, err := engine.CaptureBaseline(ctx, testKey, "age", from, from.AddDate(0, 0, 7), false)
	require.NoError(t, err)

	// The whole day's sample sits above the baseline range.
	bucket, err := daybucket.Bucket(testKey, "2024-06-15", "UTC")
	require.NoError(t, err)
	seedEvents(t, store, bucket.StartUTC, 500, func(i int) map[string]models.FeatureValue {
		return map[string]models.FeatureValue{"age": models.Numeric(90 + rng.Float64()*10)}
	})

	result, err := engine.Evaluate(ctx, bucket, "age")
	require.NoError(t, err)

	assert.Equal(t, models.DriftOK, result.Status)
	require.NotNil(t, result.Score)
	assert.Greater(t, *result.Score, 0.25)
	assert.Equal(t, SeverityAlert, result.Severity)
}

func TestEvaluateCategoricalDrift(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()

	from := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	baseCountries := []string{"CA", "CA", "US", "UK"}
	seedEvents(t, store, from, 200, func(i int) map[string]models.FeatureValue {
		return map[string]models.FeatureValue{"country": models.Categorical(baseCountries[i%4])}
	})
	_, err := engine.CaptureBaseline(ctx, testKey, "country", from, from.AddDate(0, 0, 7), false)
	require.NoError(t, err)

	bucket, err := daybucket.Bucket(testKey, "2024-06-15", "UTC")
	require.NoError(t, err)
	seedEvents(t, store, bucket.StartUTC, 200, func(i int) map[string]models.FeatureValue {
		return map[string]models.FeatureValue{"country": models.Categorical("BR")}
	})

	result, err := engine.Evaluate(ctx, bucket, "country")
	require.NoError(t, err)

	assert.Equal(t, models.DriftOK, result.Status)
	require.NotNil(t, result.Score)
	assert.Greater(t, *result.Score, 0.25)
	assert.Equal(t, models.KindCategorical, result.Kind)
}

func TestEvaluateAll(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()

	from := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	seedEvents(t, store, from, 100, func(i int) map[string]models.FeatureValue {
		return map[string]models.FeatureValue{"age": models.Numeric(float64(20 + i%40))}
	})
	_, err := engine.CaptureBaseline(ctx, testKey, "age", from, from.AddDate(0, 0, 7), false)
	require.NoError(t, err)

	// The day carries one baselined feature and one novel feature.
	bucket, err := daybucket.Bucket(testKey, "2024-06-15", "UTC")
	require.NoError(t, err)
	seedEvents(t, store, bucket.StartUTC, 50, func(i int) map[string]models.FeatureValue {
		return map[string]models.FeatureValue{
			"age":        models.Numeric(float64(20 + i%40)),
			"session_os": models.Categorical("ios"),
		}
	})

	results, err := engine.EvaluateAll(ctx, bucket)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, models.DriftOK, results["age"].Status)
	assert.Equal(t, models.DriftMissingBaseline, results["session_os"].Status)

	stored, err := store.GetDriftResults(ctx, testKey, "2024-06-15")
	require.NoError(t, err)
	assert.Len(t, stored, 2)
}

func TestEvaluateAllBaselinedFeatureAbsentFromDay(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()

	from := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	seedEvents(t, store, from, 100, func(i int) map[string]models.FeatureValue {
		return map[string]models.FeatureValue{"age": models.Numeric(float64(20 + i%40))}
	})
	_, err := engine.CaptureBaseline(ctx, testKey, "age", from, from.AddDate(0, 0, 7), false)
	require.NoError(t, err)

	bucket, err := daybucket.Bucket(testKey, "2024-06-15", "UTC")
	require.NoError(t, err)

	results, err := engine.EvaluateAll(ctx, bucket)
	require.NoError(t, err)
	require.Contains(t, results, "age")

	// Baselined but unobserved: reported as undersampled, not dropped.
	assert.Equal(t, models.DriftInsufficientData, results["age"].Status)
	assert.Equal(t, 0, results["age"].N)
}
