package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/PortNumber53/saas-starter/internal/models"
	"github.com/PortNumber53/saas-starter/internal/store"
	"github.com/PortNumber53/saas-starter/internal/stripe"
)

const defaultInvoicePageSize = 100

// BillingStore is the persistence behind plans, checkout and billing reads.
type BillingStore interface {
	ListActivePlans(ctx context.Context) ([]models.Plan, error)
	GetPlan(ctx context.Context, id string) (*models.Plan, error)
	EnsureUser(ctx context.Context, id string, email *string) (*models.User, error)
	SetStripeCustomerID(ctx context.Context, userID, customerID string) error
	GetLatestSubscription(ctx context.Context, userID string) (*models.Subscription, error)
	ListInvoices(ctx context.Context, userID string, limit int) ([]models.Invoice, error)
}

// CheckoutProvider creates Stripe customers and checkout sessions.
type CheckoutProvider interface {
	CreateCustomer(ctx context.Context, email, userID string) (string, error)
	CreateCheckoutSession(ctx context.Context, req stripe.CheckoutRequest) (string, error)
}

// BillingHandler holds dependencies for plan, checkout and billing handlers
type BillingHandler struct {
	Store    BillingStore
	Checkout CheckoutProvider
	SiteURL  string
	Logger   *zap.Logger
}

// NewBillingHandler creates a BillingHandler. siteURL has no trailing slash.
func NewBillingHandler(s BillingStore, checkout CheckoutProvider, siteURL string, logger *zap.Logger) *BillingHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BillingHandler{Store: s, Checkout: checkout, SiteURL: siteURL, Logger: logger}
}

// RegisterPublicRoutes mounts routes that need no session.
func (h *BillingHandler) RegisterPublicRoutes(router chi.Router) {
	router.Get("/api/plans", h.ListPlans())
}

// RegisterRoutes mounts the session-protected billing routes.
func (h *BillingHandler) RegisterRoutes(router chi.Router) {
	router.Post("/api/create-checkout-session", h.CreateCheckoutSession())
	router.Get("/api/billing/subscription", h.CurrentSubscription())
	router.Get("/api/billing/invoices", h.ListInvoices())
}

// ListPlans returns the active plans ordered by price.
func (h *BillingHandler) ListPlans() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		plans, err := h.Store.ListActivePlans(r.Context())
		if err != nil {
			h.Logger.Error("list plans", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to list plans")
			return
		}
		if plans == nil {
			plans = []models.Plan{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"plans": plans})
	}
}

type checkoutRequest struct {
	PlanID string `json:"planId" validate:"required"`
}

// CreateCheckoutSession starts a subscription checkout for the caller,
// creating their Stripe customer on first use.
func (h *BillingHandler) CreateCheckoutSession() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, ok := sessionUser(w, r)
		if !ok {
			return
		}
		var req checkoutRequest
		if err := decodeAndValidate(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		ctx := r.Context()
		log := h.Logger.With(zap.String("user_id", u.ID), zap.String("plan_id", req.PlanID))

		plan, err := h.Store.GetPlan(ctx, req.PlanID)
		if errors.Is(err, store.ErrNotFound) || (err == nil && !plan.IsActive) {
			writeError(w, http.StatusNotFound, "Plan not found")
			return
		}
		if err != nil {
			log.Error("checkout: load plan", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "Failed to create checkout session")
			return
		}
		if plan.StripePriceID == "" || plan.Currency == "" {
			writeError(w, http.StatusBadRequest, "Plan is not configured for billing")
			return
		}

		user, err := h.Store.EnsureUser(ctx, u.ID, emailPtr(u.Email))
		if err != nil {
			log.Error("checkout: ensure user", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "Failed to load user")
			return
		}

		var customerID string
		if user.StripeCustomerID != nil {
			customerID = *user.StripeCustomerID
		}
		if customerID == "" {
			var email string
			if user.Email != nil {
				email = *user.Email
			}
			customerID, err = h.Checkout.CreateCustomer(ctx, email, u.ID)
			if err != nil {
				log.Error("checkout: create customer", zap.Error(err))
				writeError(w, http.StatusInternalServerError, "Failed to create checkout session")
				return
			}
			if err := h.Store.SetStripeCustomerID(ctx, u.ID, customerID); err != nil {
				log.Error("checkout: save customer id", zap.String("stripe_customer_id", customerID), zap.Error(err))
				writeError(w, http.StatusInternalServerError, "Failed to create checkout session")
				return
			}
		}

		url, err := h.Checkout.CreateCheckoutSession(ctx, stripe.CheckoutRequest{
			CustomerID: customerID,
			PriceID:    plan.StripePriceID,
			UserID:     u.ID,
			PlanID:     plan.ID,
			SuccessURL: h.SiteURL + "/dashboard?session_id={CHECKOUT_SESSION_ID}",
			CancelURL:  h.SiteURL + "/subscription",
			TrialDays:  plan.TrialPeriodDays,
		})
		if err != nil {
			log.Error("checkout: create session", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "Failed to create checkout session")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"url": url})
	}
}

// CurrentSubscription returns the caller's most recent subscription or null.
func (h *BillingHandler) CurrentSubscription() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, ok := sessionUser(w, r)
		if !ok {
			return
		}
		sub, err := h.Store.GetLatestSubscription(r.Context(), u.ID)
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusOK, map[string]any{"subscription": nil})
			return
		}
		if err != nil {
			h.Logger.Error("get subscription", zap.String("user_id", u.ID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to load subscription")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"subscription": sub})
	}
}

func (h *BillingHandler) ListInvoices() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, ok := sessionUser(w, r)
		if !ok {
			return
		}
		invoices, err := h.Store.ListInvoices(r.Context(), u.ID, defaultInvoicePageSize)
		if err != nil {
			h.Logger.Error("list invoices", zap.String("user_id", u.ID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to load invoices")
			return
		}
		if invoices == nil {
			invoices = []models.Invoice{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"invoices": invoices})
	}
}
