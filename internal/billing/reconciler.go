package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/PortNumber53/saas-starter/internal/models"
	"github.com/PortNumber53/saas-starter/internal/store"
)

// Metadata keys written on checkout sessions and subscriptions by the
// checkout endpoint.
const (
	MetadataUserID = "supabase_user_id"
	MetadataPlanID = "plan_id"
)

// Store is the persistence surface used by the webhook flow. Lookups return
// store.ErrNotFound when nothing matches. Upserts report applied=false when
// the stored row is newer than the incoming event.
type Store interface {
	UpsertWebhookEvent(ctx context.Context, eventID, eventType string, payload []byte) error
	GetWebhookEvent(ctx context.Context, eventID string) (*models.WebhookEvent, error)
	GetPlanIDByStripePriceID(ctx context.Context, priceID string) (string, error)
	GetUserIDByStripeCustomerID(ctx context.Context, customerID string) (string, error)
	GetSubscriptionIDByStripeID(ctx context.Context, stripeSubscriptionID string) (string, error)
	UpsertSubscription(ctx context.Context, sub *models.Subscription) (bool, error)
	UpsertInvoice(ctx context.Context, inv *models.Invoice) (bool, error)
	UpsertInvoiceItem(ctx context.Context, item *models.InvoiceItem) error
}

// SubscriptionFetcher retrieves the full subscription object from Stripe.
type SubscriptionFetcher interface {
	RetrieveSubscription(ctx context.Context, id string) (*SubscriptionPayload, error)
}

// Reconciler maps Stripe objects onto local rows.
type Reconciler struct {
	store   Store
	fetcher SubscriptionFetcher
	logger  *zap.Logger
}

// NewReconciler wires a Reconciler.
func NewReconciler(s Store, fetcher SubscriptionFetcher, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{store: s, fetcher: fetcher, logger: logger}
}

// CheckoutCompleted retrieves the subscription created by a checkout session
// and upserts it, owned by the user recorded in the session metadata.
func (r *Reconciler) CheckoutCompleted(ctx context.Context, ev Event) error {
	var session CheckoutSessionPayload
	if err := json.Unmarshal(ev.Object, &session); err != nil {
		return fmt.Errorf("%w: checkout session: %v", ErrMalformedPayload, err)
	}

	log := r.eventLogger(ev).With(zap.String("checkout_session_id", session.ID))
	if session.Subscription == "" {
		log.Info("checkout session has no subscription; nothing to reconcile", zap.String("mode", session.Mode))
		return nil
	}
	if r.fetcher == nil {
		return &UpstreamError{Op: "retrieve subscription", Err: errors.New("stripe client not configured")}
	}

	sub, err := r.fetcher.RetrieveSubscription(ctx, string(session.Subscription))
	if err != nil {
		log.Error("failed to retrieve subscription", zap.String("stripe_subscription_id", string(session.Subscription)), zap.Error(err))
		return &UpstreamError{Op: "retrieve subscription", Err: err}
	}

	userID := session.Metadata[MetadataUserID]
	if userID == "" {
		userID = session.Metadata["user_id"]
	}
	if userID == "" {
		userID = session.ClientReferenceID
	}
	return r.upsertSubscription(ctx, ev, sub, userID)
}

// SubscriptionChanged upserts the subscription carried by a
// customer.subscription.* event.
func (r *Reconciler) SubscriptionChanged(ctx context.Context, ev Event) error {
	var sub SubscriptionPayload
	if err := json.Unmarshal(ev.Object, &sub); err != nil {
		return fmt.Errorf("%w: subscription: %v", ErrMalformedPayload, err)
	}
	return r.upsertSubscription(ctx, ev, &sub, "")
}

func (r *Reconciler) upsertSubscription(ctx context.Context, ev Event, sub *SubscriptionPayload, userID string) error {
	if sub.ID == "" {
		return fmt.Errorf("%w: subscription without id", ErrMalformedPayload)
	}
	log := r.eventLogger(ev).With(
		zap.String("stripe_subscription_id", sub.ID),
		zap.String("stripe_customer_id", string(sub.Customer)),
	)

	var planID *string
	priceID := sub.PriceID()
	if priceID != "" {
		id, err := r.store.GetPlanIDByStripePriceID(ctx, priceID)
		switch {
		case err == nil:
			planID = &id
		case errors.Is(err, store.ErrNotFound):
			log.Info("no local plan for price; storing subscription without plan", zap.String("price_id", priceID))
		default:
			return &PersistenceError{Op: "lookup plan", Err: err}
		}
	} else {
		log.Info("subscription has no priced item; storing without plan")
	}

	if userID == "" {
		userID = sub.Metadata[MetadataUserID]
	}
	if userID == "" && sub.Customer != "" {
		id, err := r.store.GetUserIDByStripeCustomerID(ctx, string(sub.Customer))
		switch {
		case err == nil:
			userID = id
		case errors.Is(err, store.ErrNotFound):
		default:
			return &PersistenceError{Op: "lookup user", Err: err}
		}
	}

	start, end := sub.Period()
	row := &models.Subscription{
		UserID:               stringPtr(userID),
		PlanID:               planID,
		StripeSubscriptionID: sub.ID,
		StripeCustomerID:     stringPtr(string(sub.Customer)),
		Status:               sub.Status,
		CurrentPeriodStart:   unixTime(start),
		CurrentPeriodEnd:     unixTime(end),
		CancelAtPeriodEnd:    sub.CancelAtPeriodEnd,
		CanceledAt:           unixTime(sub.CanceledAt),
		TrialStart:           unixTime(sub.TrialStart),
		TrialEnd:             unixTime(sub.TrialEnd),
		LastEventAt:          ev.Created,
	}

	applied, err := r.store.UpsertSubscription(ctx, row)
	if err != nil {
		log.Error("failed to upsert subscription", zap.Error(err))
		return &PersistenceError{Op: "upsert subscription", Err: err}
	}
	if !applied {
		log.Info("skipped subscription update older than stored state", zap.Time("event_created", ev.Created))
		return nil
	}
	log.Info("subscription reconciled", zap.String("status", sub.Status))
	return nil
}

// InvoiceChanged upserts an invoice and, for invoice.created, its lines. The
// owning user must already exist.
func (r *Reconciler) InvoiceChanged(ctx context.Context, ev Event) error {
	var inv InvoicePayload
	if err := json.Unmarshal(ev.Object, &inv); err != nil {
		return fmt.Errorf("%w: invoice: %v", ErrMalformedPayload, err)
	}
	if inv.ID == "" {
		return fmt.Errorf("%w: invoice without id", ErrMalformedPayload)
	}

	log := r.eventLogger(ev).With(
		zap.String("stripe_invoice_id", inv.ID),
		zap.String("stripe_customer_id", string(inv.Customer)),
	)

	if inv.Customer == "" {
		log.Warn("invoice has no customer")
		return fmt.Errorf("%w: invoice %s has no customer", ErrMalformedPayload, inv.ID)
	}
	userID, err := r.store.GetUserIDByStripeCustomerID(ctx, string(inv.Customer))
	if errors.Is(err, store.ErrNotFound) {
		log.Warn("no local user for stripe customer")
		return fmt.Errorf("%w: stripe customer %s", ErrUserNotFound, inv.Customer)
	}
	if err != nil {
		return &PersistenceError{Op: "lookup user", Err: err}
	}

	var subscriptionID *string
	if stripeSubID := inv.SubscriptionID(); stripeSubID != "" {
		id, err := r.store.GetSubscriptionIDByStripeID(ctx, stripeSubID)
		switch {
		case err == nil:
			subscriptionID = &id
		case errors.Is(err, store.ErrNotFound):
			log.Info("invoice subscription not stored yet; linking later", zap.String("stripe_subscription_id", stripeSubID))
		default:
			return &PersistenceError{Op: "lookup subscription", Err: err}
		}
	}

	row := &models.Invoice{
		UserID:           userID,
		SubscriptionID:   subscriptionID,
		StripeInvoiceID:  inv.ID,
		AmountDue:        inv.AmountDue,
		AmountPaid:       inv.AmountPaid,
		AmountRemaining:  inv.AmountRemaining,
		Currency:         inv.Currency,
		Status:           inv.Status,
		PDFURL:           inv.InvoicePDF,
		HostedInvoiceURL: inv.HostedInvoiceURL,
		PaidAt:           unixTime(inv.StatusTransitions.PaidAt),
		LastEventAt:      ev.Created,
	}
	applied, err := r.store.UpsertInvoice(ctx, row)
	if err != nil {
		log.Error("failed to upsert invoice", zap.Error(err))
		return &PersistenceError{Op: "upsert invoice", Err: err}
	}
	if !applied {
		log.Info("skipped invoice update older than stored state", zap.Time("event_created", ev.Created))
	}

	if ev.Type != EventInvoiceCreated {
		return nil
	}

	// Lines are written even when the invoice row was newer: only
	// invoice.created carries them, so a late one is still their sole source.

	for _, line := range inv.Lines.Data {
		item := &models.InvoiceItem{
			InvoiceID:        inv.ID,
			StripeLineItemID: stringPtr(line.ID),
			Quantity:         1,
			UnitAmount:       line.Amount,
			Currency:         line.Currency,
			PeriodStart:      unixTime(line.Period.Start),
			PeriodEnd:        unixTime(line.Period.End),
			Proration:        line.IsProration(),
		}
		if line.Description != nil {
			item.Description = *line.Description
		}
		if line.Quantity != nil {
			item.Quantity = *line.Quantity
		}
		if item.Currency == "" {
			item.Currency = inv.Currency
		}
		if err := r.store.UpsertInvoiceItem(ctx, item); err != nil {
			log.Error("failed to upsert invoice item", zap.String("line_item_id", line.ID), zap.Error(err))
			return &PersistenceError{Op: "upsert invoice item", Err: err}
		}
	}
	log.Info("invoice reconciled", zap.Int("line_items", len(inv.Lines.Data)))
	return nil
}

func (r *Reconciler) eventLogger(ev Event) *zap.Logger {
	return r.logger.With(zap.String("event_id", ev.ID), zap.String("event_type", ev.Type))
}
