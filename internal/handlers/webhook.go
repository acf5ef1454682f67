package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/PortNumber53/saas-starter/internal/billing"
)

const maxWebhookBodyBytes = 65536

// EventVerifier authenticates a raw webhook delivery.
type EventVerifier interface {
	Verify(body []byte, sigHeader string) (billing.Event, error)
}

// EventIngester records and reconciles a verified event.
type EventIngester interface {
	Ingest(ctx context.Context, ev billing.Event) error
}

// StripeWebhook verifies, records and reconciles Stripe deliveries. The
// status code tells Stripe whether to redeliver.
func StripeWebhook(verifier EventVerifier, ingester EventIngester, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes))
		if err != nil {
			logger.Warn("webhook: read body", zap.Error(err))
			writeError(w, http.StatusBadRequest, "unable to read request body")
			return
		}

		ev, err := verifier.Verify(body, r.Header.Get("Stripe-Signature"))
		if err != nil {
			logger.Warn("webhook: rejected delivery", zap.Error(err))
			writeError(w, webhookStatus(err), webhookMessage(err))
			return
		}

		log := logger.With(zap.String("event_id", ev.ID), zap.String("event_type", ev.Type))
		if err := ingester.Ingest(r.Context(), ev); err != nil {
			status := webhookStatus(err)
			if status >= http.StatusInternalServerError {
				log.Error("webhook: processing failed", zap.Error(err))
			} else {
				log.Warn("webhook: processing rejected", zap.Error(err))
			}
			writeError(w, status, webhookMessage(err))
			return
		}

		writeJSON(w, http.StatusOK, map[string]bool{"received": true})
	}
}

func webhookStatus(err error) int {
	switch {
	case errors.Is(err, billing.ErrSignatureInvalid), errors.Is(err, billing.ErrMalformedPayload):
		return http.StatusBadRequest
	case errors.Is(err, billing.ErrUserNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func webhookMessage(err error) string {
	switch {
	case errors.Is(err, billing.ErrSignatureInvalid):
		return "Webhook signature verification failed"
	case errors.Is(err, billing.ErrMalformedPayload):
		return "Malformed event payload"
	case errors.Is(err, billing.ErrUserNotFound):
		return "User not found"
	default:
		return "Webhook handler failed"
	}
}
