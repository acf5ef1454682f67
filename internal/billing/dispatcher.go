package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/PortNumber53/saas-starter/internal/models"
	"github.com/PortNumber53/saas-starter/internal/store"
)

// Event types handled by the dispatcher.
const (
	EventCheckoutSessionCompleted = "checkout.session.completed"

	EventSubscriptionCreated = "customer.subscription.created"
	EventSubscriptionUpdated = "customer.subscription.updated"
	EventSubscriptionDeleted = "customer.subscription.deleted"
	EventSubscriptionResumed = "customer.subscription.resumed"
	EventSubscriptionPaused  = "customer.subscription.paused"

	EventInvoiceCreated             = "invoice.created"
	EventInvoicePaid                = "invoice.paid"
	EventInvoicePaymentFailed       = "invoice.payment_failed"
	EventInvoiceFinalized           = "invoice.finalized"
	EventInvoiceMarkedUncollectible = "invoice.marked_uncollectible"
	EventInvoiceVoided              = "invoice.voided"
	EventInvoiceUpdated             = "invoice.updated"
)

type branch int

const (
	branchUnhandled branch = iota
	branchCheckout
	branchSubscription
	branchInvoice
)

func route(eventType string) branch {
	switch eventType {
	case EventCheckoutSessionCompleted:
		return branchCheckout
	case EventSubscriptionCreated,
		EventSubscriptionUpdated,
		EventSubscriptionDeleted,
		EventSubscriptionResumed,
		EventSubscriptionPaused:
		return branchSubscription
	case EventInvoiceCreated,
		EventInvoicePaid,
		EventInvoicePaymentFailed,
		EventInvoiceFinalized,
		EventInvoiceMarkedUncollectible,
		EventInvoiceVoided,
		EventInvoiceUpdated:
		return branchInvoice
	default:
		return branchUnhandled
	}
}

// Handled reports whether events of this type change local state.
func Handled(eventType string) bool {
	return route(eventType) != branchUnhandled
}

// Requeuer schedules a logged event for later reprocessing.
type Requeuer interface {
	RequeueEvent(ctx context.Context, eventID, reason string) error
}

// Dispatcher records each verified event and routes it to the reconciler.
// It holds no per-event state.
type Dispatcher struct {
	store      Store
	reconciler *Reconciler
	requeuer   Requeuer
	logger     *zap.Logger
}

// NewDispatcher wires a Dispatcher. requeuer may be nil, in which case
// user-not-found events are only reported.
func NewDispatcher(s Store, reconciler *Reconciler, requeuer Requeuer, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{store: s, reconciler: reconciler, requeuer: requeuer, logger: logger}
}

// Ingest logs ev by id and reconciles it. Redeliveries are reconciled again;
// the keyed upserts make that idempotent. When the invoice owner is unknown the
// event is queued for reprocessing and ErrUserNotFound is still returned.
func (d *Dispatcher) Ingest(ctx context.Context, ev Event) error {
	log := d.logger.With(zap.String("event_id", ev.ID), zap.String("event_type", ev.Type))

	if err := d.store.UpsertWebhookEvent(ctx, ev.ID, ev.Type, ev.Payload); err != nil {
		log.Error("failed to record webhook event", zap.Error(err))
		return &PersistenceError{Op: "record event", Err: err}
	}

	err := d.dispatch(ctx, ev)
	if errors.Is(err, ErrUserNotFound) && d.requeuer != nil {
		if qerr := d.requeuer.RequeueEvent(ctx, ev.ID, err.Error()); qerr != nil {
			log.Error("failed to queue event for reprocessing", zap.Error(qerr))
		} else {
			log.Info("queued event for reprocessing")
		}
	}
	return err
}

// Reprocess re-runs reconciliation for an event already in the log. It never
// requeues; the caller owns retries.
func (d *Dispatcher) Reprocess(ctx context.Context, eventID string) error {
	logged, err := d.store.GetWebhookEvent(ctx, eventID)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("billing: event %s not in log: %w", eventID, err)
	}
	if err != nil {
		return &PersistenceError{Op: "load event", Err: err}
	}

	ev, err := ParseEvent(logged.EventData)
	if err != nil {
		return err
	}
	d.logger.Info("reprocessing webhook event", zap.String("event_id", ev.ID), zap.String("event_type", ev.Type))
	return d.dispatch(ctx, ev)
}

// HandleReprocessJob runs a webhook_reprocess job. Failures another attempt
// cannot fix are marked permanent so the worker does not retry them.
func (d *Dispatcher) HandleReprocessJob(ctx context.Context, job *models.Job) error {
	eventID := job.Payload.String("event_id")
	if eventID == "" {
		return backoff.Permanent(fmt.Errorf("billing: job %d has no event_id", job.ID))
	}
	err := d.Reprocess(ctx, eventID)
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, ErrMalformedPayload) {
		return backoff.Permanent(err)
	}
	return err
}

func (d *Dispatcher) dispatch(ctx context.Context, ev Event) error {
	switch route(ev.Type) {
	case branchCheckout:
		return d.reconciler.CheckoutCompleted(ctx, ev)
	case branchSubscription:
		return d.reconciler.SubscriptionChanged(ctx, ev)
	case branchInvoice:
		return d.reconciler.InvoiceChanged(ctx, ev)
	default:
		d.logger.Info("unhandled event type", zap.String("event_id", ev.ID), zap.String("event_type", ev.Type))
		return nil
	}
}
