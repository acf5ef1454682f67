// Package stripe wraps the Stripe SDK calls the service makes outside of
// webhook verification.
package stripe

import (
	"context"
	"errors"
	"fmt"

	stripego "github.com/stripe/stripe-go/v82"
	"go.uber.org/zap"

	"github.com/PortNumber53/saas-starter/internal/billing"
)

// Client is a thin wrapper over the Stripe v1 API client.
type Client struct {
	api    *stripego.Client
	logger *zap.Logger
}

// NewClient creates a Client authenticated with secretKey.
func NewClient(secretKey string, logger *zap.Logger) (*Client, error) {
	if secretKey == "" {
		return nil, errors.New("stripe: secret key is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{api: stripego.NewClient(secretKey, nil), logger: logger}, nil
}

// RetrieveSubscription fetches a subscription and maps it for reconciliation.
func (c *Client) RetrieveSubscription(ctx context.Context, id string) (*billing.SubscriptionPayload, error) {
	sub, err := c.api.V1Subscriptions.Retrieve(ctx, id, &stripego.SubscriptionRetrieveParams{})
	if err != nil {
		return nil, fmt.Errorf("stripe: retrieve subscription %s: %w", id, err)
	}
	return subscriptionPayload(sub), nil
}

// CreateCustomer creates a customer tagged with the local user id.
func (c *Client) CreateCustomer(ctx context.Context, email, userID string) (string, error) {
	params := &stripego.CustomerCreateParams{
		Metadata: map[string]string{billing.MetadataUserID: userID},
	}
	if email != "" {
		params.Email = stripego.String(email)
	}
	customer, err := c.api.V1Customers.Create(ctx, params)
	if err != nil {
		return "", fmt.Errorf("stripe: create customer: %w", err)
	}
	c.logger.Info("created stripe customer", zap.String("stripe_customer_id", customer.ID), zap.String("user_id", userID))
	return customer.ID, nil
}

// CheckoutRequest describes a subscription checkout.
type CheckoutRequest struct {
	CustomerID string
	PriceID    string
	UserID     string
	PlanID     string
	SuccessURL string
	CancelURL  string
	TrialDays  *int
}

// CreateCheckoutSession starts a subscription-mode checkout and returns the
// hosted session URL.
func (c *Client) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (string, error) {
	session, err := c.api.V1CheckoutSessions.Create(ctx, checkoutParams(req))
	if err != nil {
		return "", fmt.Errorf("stripe: create checkout session: %w", err)
	}
	c.logger.Info("created checkout session",
		zap.String("checkout_session_id", session.ID),
		zap.String("user_id", req.UserID),
		zap.String("plan_id", req.PlanID),
	)
	return session.URL, nil
}

func checkoutParams(req CheckoutRequest) *stripego.CheckoutSessionCreateParams {
	metadata := map[string]string{
		billing.MetadataUserID: req.UserID,
		billing.MetadataPlanID: req.PlanID,
	}
	params := &stripego.CheckoutSessionCreateParams{
		Customer: stripego.String(req.CustomerID),
		Mode:     stripego.String(string(stripego.CheckoutSessionModeSubscription)),
		LineItems: []*stripego.CheckoutSessionCreateLineItemParams{
			{
				Price:    stripego.String(req.PriceID),
				Quantity: stripego.Int64(1),
			},
		},
		SuccessURL:        stripego.String(req.SuccessURL),
		CancelURL:         stripego.String(req.CancelURL),
		ClientReferenceID: stripego.String(req.UserID),
		Metadata:          metadata,
		SubscriptionData: &stripego.CheckoutSessionCreateSubscriptionDataParams{
			Metadata: metadata,
		},
	}
	if req.TrialDays != nil && *req.TrialDays > 0 {
		params.SubscriptionData.TrialPeriodDays = stripego.Int64(int64(*req.TrialDays))
	}
	return params
}

func subscriptionPayload(sub *stripego.Subscription) *billing.SubscriptionPayload {
	out := &billing.SubscriptionPayload{
		ID:                sub.ID,
		Status:            string(sub.Status),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		CanceledAt:        sub.CanceledAt,
		TrialStart:        sub.TrialStart,
		TrialEnd:          sub.TrialEnd,
		Metadata:          sub.Metadata,
	}
	if sub.Customer != nil {
		out.Customer = billing.ExpandableID(sub.Customer.ID)
	}
	if sub.Items != nil {
		for _, item := range sub.Items.Data {
			if item == nil {
				continue
			}
			mapped := billing.SubscriptionItemPayload{
				ID:                 item.ID,
				CurrentPeriodStart: item.CurrentPeriodStart,
				CurrentPeriodEnd:   item.CurrentPeriodEnd,
			}
			if item.Price != nil {
				mapped.Price.ID = item.Price.ID
			}
			out.Items.Data = append(out.Items.Data, mapped)
		}
	}
	return out
}
