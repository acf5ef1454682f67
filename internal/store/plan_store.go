package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/PortNumber53/saas-starter/internal/models"
)

const planColumns = `id, name, description, stripe_price_id, interval, interval_count,
       trial_period_days, amount, currency, features, is_active, created_at, updated_at`

// ListActivePlans returns the plans offered for checkout, cheapest first.
func (s *Store) ListActivePlans(ctx context.Context) ([]models.Plan, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT `+planColumns+`
FROM subscription_plans
WHERE is_active
ORDER BY amount ASC, name ASC
`)
	if err != nil {
		return nil, fmt.Errorf("store: list plans: %w", err)
	}
	defer rows.Close()

	plans := make([]models.Plan, 0)
	for rows.Next() {
		plan, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan plan: %w", err)
		}
		plans = append(plans, *plan)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate plans: %w", err)
	}
	return plans, nil
}

// GetPlan loads a plan by its local id.
func (s *Store) GetPlan(ctx context.Context, id string) (*models.Plan, error) {
	plan, err := scanPlan(s.db.QueryRowContext(ctx, `
SELECT `+planColumns+`
FROM subscription_plans
WHERE id = $1
`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get plan: %w", err)
	}
	return plan, nil
}

// GetPlanIDByStripePriceID resolves a Stripe price to the local plan id.
func (s *Store) GetPlanIDByStripePriceID(ctx context.Context, priceID string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM subscription_plans WHERE stripe_price_id = $1`, priceID,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("store: lookup plan by price: %w", err)
	}
	return id, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPlan(row rowScanner) (*models.Plan, error) {
	var (
		plan        models.Plan
		description sql.NullString
		trialDays   sql.NullInt64
		features    pq.StringArray
	)
	if err := row.Scan(
		&plan.ID,
		&plan.Name,
		&description,
		&plan.StripePriceID,
		&plan.Interval,
		&plan.IntervalCount,
		&trialDays,
		&plan.Amount,
		&plan.Currency,
		&features,
		&plan.IsActive,
		&plan.CreatedAt,
		&plan.UpdatedAt,
	); err != nil {
		return nil, err
	}
	plan.Description = nullStringPtr(description)
	if trialDays.Valid {
		days := int(trialDays.Int64)
		plan.TrialPeriodDays = &days
	}
	plan.Features = []string(features)
	if plan.Features == nil {
		plan.Features = []string{}
	}
	return &plan, nil
}
