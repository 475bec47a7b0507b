package costs

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	appmetrics "github.com/mlguard/backend/internal/metrics"
	"github.com/mlguard/backend/internal/storage/models"
	"github.com/mlguard/backend/pkg/circuitbreaker"
	"github.com/mlguard/backend/pkg/logger"
	"github.com/mlguard/backend/pkg/retry"
)

type Store interface {
	ReplaceDailyCosts(ctx context.Context, projectID, day string, rows []models.DailyCost, overwrite bool) (int, error)
	TotalCost(ctx context.Context, projectID, day string) (*float64, error)
	TrailingAverageTotalCost(ctx context.Context, projectID, day string, lookbackDays int) (*float64, error)
}

type PullResult struct {
	ProjectID string  `json:"project_id"`
	Day       string  `json:"day"`
	Rows      int     `json:"rows"`
	Total     float64 `json:"total"`
	Unit      string  `json:"unit"`
}

// Puller fetches provider costs with a bounded timeout, a fixed retry budget,
// and a circuit breaker. It never shares locks with the metrics/drift path.
type Puller struct {
	provider   Provider
	store      Store
	breaker    *circuitbreaker.CircuitBreaker
	timeout    time.Duration
	maxRetries int
}

func NewPuller(provider Provider, store Store, timeout time.Duration, maxRetries int) *Puller {
	return &Puller{
		provider: provider,
		store:    store,
		breaker: circuitbreaker.NewCircuitBreaker("cost-provider", circuitbreaker.Config{
			FailureThreshold: 3,
			SuccessThreshold: 1,
			Timeout:          5 * time.Minute,
			Logger:           logger.Log,
		}),
		timeout:    timeout,
		maxRetries: maxRetries,
	}
}

// PullAndStore fetches the day's costs and replaces the stored rows. A TOTAL
// row summing the per-service rows is appended for spike checks.
func (p *Puller) PullAndStore(ctx context.Context, projectID, day string, overwrite bool) (*PullResult, error) {
	d, err := time.Parse("2006-01-02", day)
	if err != nil {
		return nil, fmt.Errorf("failed to parse day: %w", err)
	}

	var rows []ServiceCost
	err = p.breaker.Execute(ctx, func() error {
		return retry.Do(ctx, retry.Config{MaxAttempts: p.maxRetries + 1, Logger: logger.Log}, func() error {
			pullCtx, cancel := context.WithTimeout(ctx, p.timeout)
			defer cancel()

			var pullErr error
			rows, pullErr = p.provider.DailyCosts(pullCtx, d)
			return pullErr
		})
	})
	if err != nil {
		appmetrics.CostPulls.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	appmetrics.CostPulls.WithLabelValues("ok").Inc()

	unit := "USD"
	total := 0.0
	stored := make([]models.DailyCost, 0, len(rows)+1)
	for _, r := range rows {
		if r.Service == "TOTAL" {
			continue
		}
		total += r.Amount
		unit = r.Unit
		stored = append(stored, models.DailyCost{
			ProjectID: projectID,
			Day:       day,
			Service:   r.Service,
			Amount:    r.Amount,
			Unit:      r.Unit,
		})
	}
	stored = append(stored, models.DailyCost{
		ProjectID: projectID,
		Day:       day,
		Service:   "TOTAL",
		Amount:    total,
		Unit:      unit,
	})

	inserted, err := p.store.ReplaceDailyCosts(ctx, projectID, day, stored, overwrite)
	if err != nil {
		return nil, fmt.Errorf("failed to store costs: %w", err)
	}

	logger.Info("Daily costs stored",
		zap.String("project_id", projectID),
		zap.String("day", day),
		zap.Int("rows", inserted),
		zap.Float64("total", total),
	)

	return &PullResult{
		ProjectID: projectID,
		Day:       day,
		Rows:      inserted,
		Total:     total,
		Unit:      unit,
	}, nil
}
