package models

import (
	"encoding/json"
	"time"
)

// Subscription mirrors a Stripe subscription. Rows are keyed by StripeSubscriptionID.
type Subscription struct {
	ID                   string     `json:"id"`
	UserID               *string    `json:"user_id,omitempty"`
	PlanID               *string    `json:"plan_id"`
	StripeSubscriptionID string     `json:"stripe_subscription_id"`
	StripeCustomerID     *string    `json:"stripe_customer_id,omitempty"`
	Status               string     `json:"status"`
	CurrentPeriodStart   *time.Time `json:"current_period_start,omitempty"`
	CurrentPeriodEnd     *time.Time `json:"current_period_end,omitempty"`
	CancelAtPeriodEnd    bool       `json:"cancel_at_period_end"`
	CanceledAt           *time.Time `json:"canceled_at,omitempty"`
	TrialStart           *time.Time `json:"trial_start,omitempty"`
	TrialEnd             *time.Time `json:"trial_end,omitempty"`
	LastEventAt          time.Time  `json:"last_event_at"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// Invoice mirrors a Stripe invoice. Rows are keyed by StripeInvoiceID.
type Invoice struct {
	ID               string     `json:"id"`
	UserID           string     `json:"user_id"`
	SubscriptionID   *string    `json:"subscription_id,omitempty"`
	StripeInvoiceID  string     `json:"stripe_invoice_id"`
	AmountDue        int64      `json:"amount_due"`
	AmountPaid       int64      `json:"amount_paid"`
	AmountRemaining  int64      `json:"amount_remaining"`
	Currency         string     `json:"currency"`
	Status           *string    `json:"status,omitempty"`
	PDFURL           *string    `json:"pdf_url,omitempty"`
	HostedInvoiceURL *string    `json:"hosted_invoice_url,omitempty"`
	PaidAt           *time.Time `json:"paid_at,omitempty"`
	LastEventAt      time.Time  `json:"last_event_at"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// InvoiceItem is one invoice line. Rows are keyed by (InvoiceID, Description)
// where InvoiceID is the Stripe invoice id.
type InvoiceItem struct {
	ID               string     `json:"id"`
	InvoiceID        string     `json:"invoice_id"`
	StripeLineItemID *string    `json:"stripe_line_item_id,omitempty"`
	Description      string     `json:"description"`
	Quantity         int64      `json:"quantity"`
	UnitAmount       int64      `json:"unit_amount"`
	Currency         string     `json:"currency"`
	PeriodStart      *time.Time `json:"period_start,omitempty"`
	PeriodEnd        *time.Time `json:"period_end,omitempty"`
	Proration        bool       `json:"proration"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// WebhookEvent is the audit log entry for a received Stripe event.
type WebhookEvent struct {
	EventID    string          `json:"event_id"`
	EventType  string          `json:"event_type"`
	EventData  json.RawMessage `json:"event_data"`
	ReceivedAt time.Time       `json:"received_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}
