package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mlguard/backend/internal/storage/models"
)

// ReplaceDailyCosts stores cost rows for (project, day). With overwrite the
// previous rows for the day are removed in the same transaction.
func (c *Client) ReplaceDailyCosts(ctx context.Context, projectID, day string, rows []models.DailyCost, overwrite bool) (int, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if overwrite {
		_, err = tx.ExecContext(ctx, `
			DELETE FROM daily_costs WHERE project_id = ? AND day = ?
		`, projectID, day)
		if err != nil {
			return 0, fmt.Errorf("failed to delete old costs: %w", err)
		}
	}

	now := time.Now().UTC().UnixMilli()
	inserted := 0
	for _, r := range rows {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO daily_costs (project_id, day, service, amount, unit, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(project_id, day, service) DO UPDATE SET
				amount = excluded.amount,
				unit = excluded.unit,
				created_at = excluded.created_at
		`, projectID, day, r.Service, r.Amount, r.Unit, now)
		if err != nil {
			return 0, fmt.Errorf("failed to insert cost row: %w", err)
		}
		inserted++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit costs: %w", err)
	}

	return inserted, nil
}

func (c *Client) ListDailyCosts(ctx context.Context, projectID, day string) ([]models.DailyCost, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT project_id, day, service, amount, unit, created_at
		FROM daily_costs
		WHERE project_id = ? AND day = ?
		ORDER BY service ASC
	`, projectID, day)
	if err != nil {
		return nil, fmt.Errorf("failed to query costs: %w", err)
	}
	defer rows.Close()

	var costs []models.DailyCost
	for rows.Next() {
		var r models.DailyCost
		var createdAt int64
		err := rows.Scan(&r.ProjectID, &r.Day, &r.Service, &r.Amount, &r.Unit, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan cost row: %w", err)
		}
		r.CreatedAt = time.UnixMilli(createdAt).UTC()
		costs = append(costs, r)
	}

	return costs, rows.Err()
}

// TotalCost returns the TOTAL row amount for the day, or nil if not stored.
func (c *Client) TotalCost(ctx context.Context, projectID, day string) (*float64, error) {
	var amount float64
	err := c.db.QueryRowContext(ctx, `
		SELECT amount FROM daily_costs
		WHERE project_id = ? AND day = ? AND service = 'TOTAL'
	`, projectID, day).Scan(&amount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get total cost: %w", err)
	}
	return &amount, nil
}

// TrailingAverageTotalCost averages TOTAL rows over [day-lookback, day).
func (c *Client) TrailingAverageTotalCost(ctx context.Context, projectID, day string, lookbackDays int) (*float64, error) {
	end, err := time.Parse("2006-01-02", day)
	if err != nil {
		return nil, fmt.Errorf("failed to parse day: %w", err)
	}
	start := end.AddDate(0, 0, -lookbackDays)

	var avg sql.NullFloat64
	err = c.db.QueryRowContext(ctx, `
		SELECT AVG(amount) FROM daily_costs
		WHERE project_id = ? AND service = 'TOTAL' AND day >= ? AND day < ?
	`, projectID, start.Format("2006-01-02"), day).Scan(&avg)
	if err != nil {
		return nil, fmt.Errorf("failed to average costs: %w", err)
	}
	if !avg.Valid {
		return nil, nil
	}
	return &avg.Float64, nil
}
