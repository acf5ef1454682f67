package billing

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/PortNumber53/saas-starter/internal/models"
	"github.com/PortNumber53/saas-starter/internal/store"
)

// signPayload builds a Stripe-Signature header value for payload.
func signPayload(payload []byte, secret string, ts time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", ts.Unix())
	mac.Write(payload)
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func eventBody(t *testing.T, id, eventType string, created int64, object any) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"id":          id,
		"object":      "event",
		"type":        eventType,
		"created":     created,
		"api_version": "2025-03-31.basil",
		"data":        map[string]any{"object": object},
	})
	require.NoError(t, err)
	return body
}

func newEvent(t *testing.T, id, eventType string, created int64, object any) Event {
	t.Helper()
	ev, err := ParseEvent(eventBody(t, id, eventType, created, object))
	require.NoError(t, err)
	return ev
}

func subscriptionObject(id, customer, priceID, status string) map[string]any {
	return map[string]any{
		"id":                   id,
		"object":               "subscription",
		"customer":             customer,
		"status":               status,
		"cancel_at_period_end": false,
		"items": map[string]any{
			"data": []any{
				map[string]any{
					"id":                   "si_1",
					"price":                map[string]any{"id": priceID},
					"current_period_start": 1700000000,
					"current_period_end":   1702592000,
				},
			},
		},
	}
}

func invoiceObject(id, customer, subscription string, lines ...map[string]any) map[string]any {
	data := make([]any, 0, len(lines))
	for _, l := range lines {
		data = append(data, l)
	}
	return map[string]any{
		"id":                 id,
		"object":             "invoice",
		"customer":           customer,
		"subscription":       subscription,
		"amount_due":         3000,
		"amount_paid":        0,
		"amount_remaining":   3000,
		"currency":           "usd",
		"status":             "open",
		"invoice_pdf":        "https://pay.stripe.com/invoice/pdf",
		"hosted_invoice_url": "https://invoice.stripe.com/i/1",
		"lines":              map[string]any{"data": data},
	}
}

func lineObject(id, description string, amount int64) map[string]any {
	return map[string]any{
		"id":          id,
		"description": description,
		"quantity":    1,
		"amount":      amount,
		"currency":    "usd",
		"period":      map[string]any{"start": 1700000000, "end": 1702592000},
		"proration":   false,
	}
}

type fakeStore struct {
	mu sync.Mutex

	events   map[string]models.WebhookEvent
	plans    map[string]string
	users    map[string]string
	subs     map[string]*models.Subscription
	invoices map[string]*models.Invoice
	items    map[string]*models.InvoiceItem

	entityWrites int
	failRecord   error
	failInvoice  error
	nextID       int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		events:   map[string]models.WebhookEvent{},
		plans:    map[string]string{},
		users:    map[string]string{},
		subs:     map[string]*models.Subscription{},
		invoices: map[string]*models.Invoice{},
		items:    map[string]*models.InvoiceItem{},
	}
}

func (f *fakeStore) id(prefix string) string {
	f.nextID++
	return fmt.Sprintf("%s-%d", prefix, f.nextID)
}

func (f *fakeStore) UpsertWebhookEvent(_ context.Context, eventID, eventType string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failRecord != nil {
		return f.failRecord
	}
	existing, ok := f.events[eventID]
	if !ok {
		existing.ReceivedAt = time.Now()
	}
	existing.EventID = eventID
	existing.EventType = eventType
	existing.EventData = append([]byte(nil), payload...)
	existing.UpdatedAt = time.Now()
	f.events[eventID] = existing
	return nil
}

func (f *fakeStore) GetWebhookEvent(_ context.Context, eventID string) (*models.WebhookEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ev, ok := f.events[eventID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &ev, nil
}

func (f *fakeStore) GetPlanIDByStripePriceID(_ context.Context, priceID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id, ok := f.plans[priceID]; ok {
		return id, nil
	}
	return "", store.ErrNotFound
}

func (f *fakeStore) GetUserIDByStripeCustomerID(_ context.Context, customerID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id, ok := f.users[customerID]; ok {
		return id, nil
	}
	return "", store.ErrNotFound
}

func (f *fakeStore) GetSubscriptionIDByStripeID(_ context.Context, stripeSubscriptionID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if sub, ok := f.subs[stripeSubscriptionID]; ok {
		return sub.ID, nil
	}
	return "", store.ErrNotFound
}

func (f *fakeStore) UpsertSubscription(_ context.Context, sub *models.Subscription) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	existing, ok := f.subs[sub.StripeSubscriptionID]
	if ok && existing.LastEventAt.After(sub.LastEventAt) {
		return false, nil
	}
	row := *sub
	if ok {
		row.ID = existing.ID
		if row.UserID == nil {
			row.UserID = existing.UserID
		}
	} else {
		row.ID = f.id("sub")
	}
	f.subs[sub.StripeSubscriptionID] = &row
	sub.ID = row.ID
	f.entityWrites++
	return true, nil
}

func (f *fakeStore) UpsertInvoice(_ context.Context, inv *models.Invoice) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failInvoice != nil {
		return false, f.failInvoice
	}
	existing, ok := f.invoices[inv.StripeInvoiceID]
	if ok && existing.LastEventAt.After(inv.LastEventAt) {
		return false, nil
	}
	row := *inv
	if ok {
		row.ID = existing.ID
	} else {
		row.ID = f.id("inv")
	}
	f.invoices[inv.StripeInvoiceID] = &row
	inv.ID = row.ID
	f.entityWrites++
	return true, nil
}

func (f *fakeStore) UpsertInvoiceItem(_ context.Context, item *models.InvoiceItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := item.InvoiceID + "|" + item.Description
	row := *item
	if existing, ok := f.items[key]; ok {
		row.ID = existing.ID
	} else {
		row.ID = f.id("item")
	}
	f.items[key] = &row
	item.ID = row.ID
	f.entityWrites++
	return nil
}

type fakeFetcher struct {
	subs  map[string]*SubscriptionPayload
	err   error
	calls int
}

func (f *fakeFetcher) RetrieveSubscription(_ context.Context, id string) (*SubscriptionPayload, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	sub, ok := f.subs[id]
	if !ok {
		return nil, fmt.Errorf("no such subscription: %s", id)
	}
	return sub, nil
}

type fakeRequeuer struct {
	eventIDs []string
	err      error
}

func (f *fakeRequeuer) RequeueEvent(_ context.Context, eventID, _ string) error {
	f.eventIDs = append(f.eventIDs, eventID)
	return f.err
}
