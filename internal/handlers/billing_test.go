package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PortNumber53/saas-starter/internal/models"
)

const testSiteURL = "https://app.example.com"

func proPlan() *models.Plan {
	trial := 14
	return &models.Plan{
		ID:              "plan_pro",
		Name:            "Pro",
		StripePriceID:   "price_pro",
		Amount:          1500,
		Currency:        "usd",
		TrialPeriodDays: &trial,
		IsActive:        true,
	}
}

func TestListPlans(t *testing.T) {
	s := newFakeBillingStore()
	s.plans["plan_pro"] = proPlan()
	h := NewBillingHandler(s, &fakeCheckout{}, testSiteURL, nil)

	rr := serve(t, h.RegisterPublicRoutes, "", http.MethodGet, "/api/plans", "")

	require.Equal(t, http.StatusOK, rr.Code)
	var resp struct {
		Plans []models.Plan `json:"plans"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Len(t, resp.Plans, 1)
	assert.Equal(t, "price_pro", resp.Plans[0].StripePriceID)
}

func TestCreateCheckoutSessionCreatesCustomerOnce(t *testing.T) {
	s := newFakeBillingStore()
	s.plans["plan_pro"] = proPlan()
	checkout := &fakeCheckout{}
	h := NewBillingHandler(s, checkout, testSiteURL, nil)

	rr := serve(t, h.RegisterRoutes, "user-1", http.MethodPost, "/api/create-checkout-session", `{"planId":"plan_pro"}`)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"url":"https://checkout.stripe.com/c/pay/cs_test_1"}`, rr.Body.String())
	assert.Equal(t, 1, checkout.customers)
	assert.Equal(t, "cus_new", s.savedCustID["user-1"])

	req := checkout.request
	require.NotNil(t, req)
	assert.Equal(t, "cus_new", req.CustomerID)
	assert.Equal(t, "price_pro", req.PriceID)
	assert.Equal(t, "user-1", req.UserID)
	assert.Equal(t, "plan_pro", req.PlanID)
	assert.Equal(t, "https://app.example.com/dashboard?session_id={CHECKOUT_SESSION_ID}", req.SuccessURL)
	assert.Equal(t, "https://app.example.com/subscription", req.CancelURL)
	require.NotNil(t, req.TrialDays)
	assert.Equal(t, 14, *req.TrialDays)

	rr = serve(t, h.RegisterRoutes, "user-1", http.MethodPost, "/api/create-checkout-session", `{"planId":"plan_pro"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 1, checkout.customers)
}

func TestCreateCheckoutSessionErrors(t *testing.T) {
	s := newFakeBillingStore()
	inactive := proPlan()
	inactive.ID = "plan_old"
	inactive.IsActive = false
	s.plans["plan_old"] = inactive
	unpriced := proPlan()
	unpriced.ID = "plan_free"
	unpriced.StripePriceID = ""
	s.plans["plan_free"] = unpriced
	h := NewBillingHandler(s, &fakeCheckout{}, testSiteURL, nil)

	cases := []struct {
		name   string
		user   string
		body   string
		status int
	}{
		{"no session", "", `{"planId":"plan_pro"}`, http.StatusUnauthorized},
		{"missing plan id", "user-1", `{}`, http.StatusBadRequest},
		{"unknown plan", "user-1", `{"planId":"plan_nope"}`, http.StatusNotFound},
		{"inactive plan", "user-1", `{"planId":"plan_old"}`, http.StatusNotFound},
		{"plan without price", "user-1", `{"planId":"plan_free"}`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := serve(t, h.RegisterRoutes, tc.user, http.MethodPost, "/api/create-checkout-session", tc.body)
			assert.Equal(t, tc.status, rr.Code)
		})
	}
}

func TestCreateCheckoutSessionStripeFailure(t *testing.T) {
	s := newFakeBillingStore()
	s.plans["plan_pro"] = proPlan()
	h := NewBillingHandler(s, &fakeCheckout{err: errors.New("card_declined")}, testSiteURL, nil)

	rr := serve(t, h.RegisterRoutes, "user-1", http.MethodPost, "/api/create-checkout-session", `{"planId":"plan_pro"}`)

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Empty(t, s.savedCustID)
}

func TestCurrentSubscription(t *testing.T) {
	s := newFakeBillingStore()
	h := NewBillingHandler(s, &fakeCheckout{}, testSiteURL, nil)

	rr := serve(t, h.RegisterRoutes, "user-1", http.MethodGet, "/api/billing/subscription", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"subscription":null}`, rr.Body.String())

	s.subscription = &models.Subscription{ID: "sub-row", StripeSubscriptionID: "sub_123", Status: "active"}
	rr = serve(t, h.RegisterRoutes, "user-1", http.MethodGet, "/api/billing/subscription", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"stripe_subscription_id":"sub_123"`)
}

func TestListInvoicesEmpty(t *testing.T) {
	h := NewBillingHandler(newFakeBillingStore(), &fakeCheckout{}, testSiteURL, nil)

	rr := serve(t, h.RegisterRoutes, "user-1", http.MethodGet, "/api/billing/invoices", "")

	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"invoices":[]}`, rr.Body.String())
}
