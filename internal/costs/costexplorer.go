package costs

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/costexplorer"
	"github.com/aws/aws-sdk-go-v2/service/costexplorer/types"
	"go.uber.org/zap"

	"github.com/mlguard/backend/pkg/logger"
)

// CostExplorerProvider pulls daily spend from AWS Cost Explorer, grouped by
// service. Cost Explorer is a global service homed in us-east-1 and treats
// TimePeriod as Start inclusive / End exclusive.
type CostExplorerProvider struct {
	client *costexplorer.Client
	metric string
}

func NewCostExplorerProvider(ctx context.Context, region, metric string) (*CostExplorerProvider, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	logger.Info("Cost Explorer client initialized", zap.String("region", region), zap.String("metric", metric))

	return &CostExplorerProvider{
		client: costexplorer.NewFromConfig(cfg),
		metric: metric,
	}, nil
}

func (p *CostExplorerProvider) DailyCosts(ctx context.Context, day time.Time) ([]ServiceCost, error) {
	start := day.Format("2006-01-02")
	end := day.AddDate(0, 0, 1).Format("2006-01-02")

	out, err := p.client.GetCostAndUsage(ctx, &costexplorer.GetCostAndUsageInput{
		TimePeriod: &types.DateInterval{
			Start: aws.String(start),
			End:   aws.String(end),
		},
		Granularity: types.GranularityDaily,
		Metrics:     []string{p.metric},
		GroupBy: []types.GroupDefinition{
			{Type: types.GroupDefinitionTypeDimension, Key: aws.String("SERVICE")},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}

	var rows []ServiceCost
	for _, result := range out.ResultsByTime {
		if len(result.Groups) == 0 {
			amount, unit := parseMetric(result.Total[p.metric])
			rows = append(rows, ServiceCost{Service: "TOTAL", Amount: amount, Unit: unit})
			continue
		}
		for _, group := range result.Groups {
			service := "UNKNOWN"
			if len(group.Keys) > 0 {
				service = group.Keys[0]
			}
			amount, unit := parseMetric(group.Metrics[p.metric])
			rows = append(rows, ServiceCost{Service: service, Amount: amount, Unit: unit})
		}
	}

	return rows, nil
}

func parseMetric(m types.MetricValue) (float64, string) {
	unit := "USD"
	if m.Unit != nil {
		unit = *m.Unit
	}
	if m.Amount == nil {
		return 0, unit
	}
	amount, err := strconv.ParseFloat(*m.Amount, 64)
	if err != nil {
		return 0, unit
	}
	return amount, unit
}
