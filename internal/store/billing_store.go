package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/PortNumber53/saas-starter/internal/models"
)

// UpsertWebhookEvent records a Stripe event in the audit log keyed by event id.
// Redeliveries overwrite the stored type and payload.
func (s *Store) UpsertWebhookEvent(ctx context.Context, eventID, eventType string, payload []byte) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO stripe_webhook_events (event_id, event_type, event_data, received_at, updated_at)
VALUES ($1, $2, $3, NOW(), NOW())
ON CONFLICT (event_id) DO UPDATE SET
  event_type = EXCLUDED.event_type,
  event_data = EXCLUDED.event_data,
  updated_at = NOW()
`, eventID, eventType, string(payload))
	if err != nil {
		return fmt.Errorf("store: upsert webhook event: %w", err)
	}
	return nil
}

// GetWebhookEvent loads a logged event by id.
func (s *Store) GetWebhookEvent(ctx context.Context, eventID string) (*models.WebhookEvent, error) {
	var (
		event models.WebhookEvent
		data  []byte
	)
	err := s.db.QueryRowContext(ctx, `
SELECT event_id, event_type, event_data, received_at, updated_at
FROM stripe_webhook_events
WHERE event_id = $1
`, eventID).Scan(&event.EventID, &event.EventType, &data, &event.ReceivedAt, &event.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get webhook event: %w", err)
	}
	event.EventData = data
	return &event, nil
}

// UpsertSubscription inserts or updates a subscription keyed by its Stripe id.
// The update only applies when the incoming LastEventAt is not older than the
// stored one; applied is false when the write was skipped as stale. A nil
// UserID keeps the stored owner.
func (s *Store) UpsertSubscription(ctx context.Context, sub *models.Subscription) (bool, error) {
	id := sub.ID
	if id == "" {
		id = uuid.NewString()
	}

	err := s.db.QueryRowContext(ctx, `
INSERT INTO subscriptions (
  id, user_id, plan_id, stripe_subscription_id, stripe_customer_id, status,
  current_period_start, current_period_end, cancel_at_period_end, canceled_at,
  trial_start, trial_end, last_event_at, created_at, updated_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW(), NOW())
ON CONFLICT (stripe_subscription_id) DO UPDATE SET
  user_id = COALESCE(EXCLUDED.user_id, subscriptions.user_id),
  plan_id = EXCLUDED.plan_id,
  stripe_customer_id = COALESCE(EXCLUDED.stripe_customer_id, subscriptions.stripe_customer_id),
  status = EXCLUDED.status,
  current_period_start = EXCLUDED.current_period_start,
  current_period_end = EXCLUDED.current_period_end,
  cancel_at_period_end = EXCLUDED.cancel_at_period_end,
  canceled_at = EXCLUDED.canceled_at,
  trial_start = EXCLUDED.trial_start,
  trial_end = EXCLUDED.trial_end,
  last_event_at = EXCLUDED.last_event_at,
  updated_at = NOW()
WHERE subscriptions.last_event_at <= EXCLUDED.last_event_at
RETURNING id
`,
		id,
		nullString(sub.UserID),
		nullString(sub.PlanID),
		sub.StripeSubscriptionID,
		nullString(sub.StripeCustomerID),
		sub.Status,
		nullTime(sub.CurrentPeriodStart),
		nullTime(sub.CurrentPeriodEnd),
		sub.CancelAtPeriodEnd,
		nullTime(sub.CanceledAt),
		nullTime(sub.TrialStart),
		nullTime(sub.TrialEnd),
		sub.LastEventAt,
	).Scan(&sub.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: upsert subscription: %w", err)
	}
	return true, nil
}

// GetSubscriptionIDByStripeID resolves the local subscription row id.
func (s *Store) GetSubscriptionIDByStripeID(ctx context.Context, stripeSubscriptionID string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM subscriptions WHERE stripe_subscription_id = $1`, stripeSubscriptionID,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("store: lookup subscription: %w", err)
	}
	return id, nil
}

// GetLatestSubscription returns the most recently updated subscription of a user.
func (s *Store) GetLatestSubscription(ctx context.Context, userID string) (*models.Subscription, error) {
	var (
		sub                                models.Subscription
		uid, planID, customerID            sql.NullString
		periodStart, periodEnd, canceledAt sql.NullTime
		trialStart, trialEnd               sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
SELECT id, user_id, plan_id, stripe_subscription_id, stripe_customer_id, status,
       current_period_start, current_period_end, cancel_at_period_end, canceled_at,
       trial_start, trial_end, last_event_at, created_at, updated_at
FROM subscriptions
WHERE user_id = $1
ORDER BY updated_at DESC
LIMIT 1
`, userID).Scan(
		&sub.ID, &uid, &planID, &sub.StripeSubscriptionID, &customerID, &sub.Status,
		&periodStart, &periodEnd, &sub.CancelAtPeriodEnd, &canceledAt,
		&trialStart, &trialEnd, &sub.LastEventAt, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get latest subscription: %w", err)
	}
	sub.UserID = nullStringPtr(uid)
	sub.PlanID = nullStringPtr(planID)
	sub.StripeCustomerID = nullStringPtr(customerID)
	sub.CurrentPeriodStart = nullTimePtr(periodStart)
	sub.CurrentPeriodEnd = nullTimePtr(periodEnd)
	sub.CanceledAt = nullTimePtr(canceledAt)
	sub.TrialStart = nullTimePtr(trialStart)
	sub.TrialEnd = nullTimePtr(trialEnd)
	return &sub, nil
}

// UpsertInvoice inserts or updates an invoice keyed by its Stripe id, with the
// same staleness rule as UpsertSubscription.
func (s *Store) UpsertInvoice(ctx context.Context, inv *models.Invoice) (bool, error) {
	id := inv.ID
	if id == "" {
		id = uuid.NewString()
	}

	err := s.db.QueryRowContext(ctx, `
INSERT INTO invoices (
  id, user_id, subscription_id, stripe_invoice_id, amount_due, amount_paid,
  amount_remaining, currency, status, pdf_url, hosted_invoice_url, paid_at,
  last_event_at, created_at, updated_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW(), NOW())
ON CONFLICT (stripe_invoice_id) DO UPDATE SET
  user_id = EXCLUDED.user_id,
  subscription_id = EXCLUDED.subscription_id,
  amount_due = EXCLUDED.amount_due,
  amount_paid = EXCLUDED.amount_paid,
  amount_remaining = EXCLUDED.amount_remaining,
  currency = EXCLUDED.currency,
  status = EXCLUDED.status,
  pdf_url = EXCLUDED.pdf_url,
  hosted_invoice_url = EXCLUDED.hosted_invoice_url,
  paid_at = EXCLUDED.paid_at,
  last_event_at = EXCLUDED.last_event_at,
  updated_at = NOW()
WHERE invoices.last_event_at <= EXCLUDED.last_event_at
RETURNING id
`,
		id,
		inv.UserID,
		nullString(inv.SubscriptionID),
		inv.StripeInvoiceID,
		inv.AmountDue,
		inv.AmountPaid,
		inv.AmountRemaining,
		inv.Currency,
		nullString(inv.Status),
		nullString(inv.PDFURL),
		nullString(inv.HostedInvoiceURL),
		nullTime(inv.PaidAt),
		inv.LastEventAt,
	).Scan(&inv.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: upsert invoice: %w", err)
	}
	return true, nil
}

// UpsertInvoiceItem inserts or updates an invoice line keyed by
// (invoice_id, description).
func (s *Store) UpsertInvoiceItem(ctx context.Context, item *models.InvoiceItem) error {
	id := item.ID
	if id == "" {
		id = uuid.NewString()
	}

	err := s.db.QueryRowContext(ctx, `
INSERT INTO invoice_items (
  id, invoice_id, stripe_line_item_id, description, quantity, unit_amount,
  currency, period_start, period_end, proration, created_at, updated_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW(), NOW())
ON CONFLICT (invoice_id, description) DO UPDATE SET
  stripe_line_item_id = EXCLUDED.stripe_line_item_id,
  quantity = EXCLUDED.quantity,
  unit_amount = EXCLUDED.unit_amount,
  currency = EXCLUDED.currency,
  period_start = EXCLUDED.period_start,
  period_end = EXCLUDED.period_end,
  proration = EXCLUDED.proration,
  updated_at = NOW()
RETURNING id
`,
		id,
		item.InvoiceID,
		nullString(item.StripeLineItemID),
		item.Description,
		item.Quantity,
		item.UnitAmount,
		item.Currency,
		nullTime(item.PeriodStart),
		nullTime(item.PeriodEnd),
		item.Proration,
	).Scan(&item.ID)
	if err != nil {
		return fmt.Errorf("store: upsert invoice item: %w", err)
	}
	return nil
}

// ListInvoices returns the user's invoices, newest first.
func (s *Store) ListInvoices(ctx context.Context, userID string, limit int) ([]models.Invoice, error) {
	if limit <= 0 || limit > defaultPageSize {
		limit = defaultPageSize
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT id, user_id, subscription_id, stripe_invoice_id, amount_due, amount_paid,
       amount_remaining, currency, status, pdf_url, hosted_invoice_url, paid_at,
       last_event_at, created_at, updated_at
FROM invoices
WHERE user_id = $1
ORDER BY created_at DESC
LIMIT $2
`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list invoices: %w", err)
	}
	defer rows.Close()

	invoices := make([]models.Invoice, 0)
	for rows.Next() {
		var (
			inv                              models.Invoice
			subID, status, pdfURL, hostedURL sql.NullString
			paidAt                           sql.NullTime
		)
		if err := rows.Scan(
			&inv.ID, &inv.UserID, &subID, &inv.StripeInvoiceID, &inv.AmountDue, &inv.AmountPaid,
			&inv.AmountRemaining, &inv.Currency, &status, &pdfURL, &hostedURL, &paidAt,
			&inv.LastEventAt, &inv.CreatedAt, &inv.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("store: scan invoice: %w", err)
		}
		inv.SubscriptionID = nullStringPtr(subID)
		inv.Status = nullStringPtr(status)
		inv.PDFURL = nullStringPtr(pdfURL)
		inv.HostedInvoiceURL = nullStringPtr(hostedURL)
		inv.PaidAt = nullTimePtr(paidAt)
		invoices = append(invoices, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate invoices: %w", err)
	}
	return invoices, nil
}
