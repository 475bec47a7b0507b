// Package costs pulls best-effort daily cost attribution from a provider.
package costs

import (
	"context"
	"errors"
	"time"
)

// ErrUpstreamUnavailable marks provider failures (missing credentials,
// network trouble). Orchestration treats it as a warning, never as fatal.
var ErrUpstreamUnavailable = errors.New("cost provider unavailable")

// ServiceCost is one provider line item for a single day.
type ServiceCost struct {
	Service string
	Amount  float64
	Unit    string
}

// Provider is the capability interface for a cost backend. A stub
// implementation satisfies tests without live credentials.
type Provider interface {
	DailyCosts(ctx context.Context, day time.Time) ([]ServiceCost, error)
}

// StubProvider returns fixed rows, or an error to simulate an outage.
type StubProvider struct {
	Rows []ServiceCost
	Err  error
}

func (s *StubProvider) DailyCosts(ctx context.Context, day time.Time) ([]ServiceCost, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	return s.Rows, nil
}
