package models

import "time"

// Plan is a locally configured subscription plan mapped to a Stripe price.
type Plan struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Description     *string   `json:"description,omitempty"`
	StripePriceID   string    `json:"stripe_price_id"`
	Interval        string    `json:"interval"`
	IntervalCount   int       `json:"interval_count"`
	TrialPeriodDays *int      `json:"trial_period_days,omitempty"`
	Amount          int64     `json:"amount"`
	Currency        string    `json:"currency"`
	Features        []string  `json:"features"`
	IsActive        bool      `json:"is_active"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}
