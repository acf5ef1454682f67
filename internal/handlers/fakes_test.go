package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/PortNumber53/saas-starter/internal/middleware"
	"github.com/PortNumber53/saas-starter/internal/models"
	"github.com/PortNumber53/saas-starter/internal/store"
	"github.com/PortNumber53/saas-starter/internal/stripe"
)

type fakeAccountStore struct {
	users         map[string]*models.User
	profile       *models.UserProfile
	profileUpdate *models.ProfileUpdate
	settings      *models.UserSettings
	notifEmail    *bool
	notifPrefs    *models.NotificationPreferences
	privacy       *models.PrivacyPreferences
	notifications []models.Notification
	created       []*models.Notification
	readCalls     map[string]bool
	feedback      []*models.Feedback
	err           error
}

func newFakeAccountStore() *fakeAccountStore {
	return &fakeAccountStore{users: map[string]*models.User{}, readCalls: map[string]bool{}}
}

func (f *fakeAccountStore) EnsureUser(_ context.Context, id string, email *string) (*models.User, error) {
	if f.err != nil {
		return nil, f.err
	}
	u, ok := f.users[id]
	if !ok {
		u = &models.User{ID: id}
		f.users[id] = u
	}
	if email != nil {
		u.Email = email
	}
	return u, nil
}

func (f *fakeAccountStore) GetOrCreateProfile(_ context.Context, userID string) (*models.UserProfile, error) {
	if f.profile == nil {
		f.profile = &models.UserProfile{ID: userID}
	}
	return f.profile, nil
}

func (f *fakeAccountStore) UpsertProfile(_ context.Context, userID string, update models.ProfileUpdate) (*models.UserProfile, error) {
	f.profileUpdate = &update
	return &models.UserProfile{ID: userID, FullName: update.FullName, Website: update.Website}, nil
}

func (f *fakeAccountStore) GetUserSettings(_ context.Context, _ string) (*models.UserSettings, error) {
	if f.settings == nil {
		return nil, store.ErrNotFound
	}
	return f.settings, nil
}

func (f *fakeAccountStore) UpsertNotificationSettings(_ context.Context, _ string, email bool, prefs models.NotificationPreferences) error {
	f.notifEmail = &email
	f.notifPrefs = &prefs
	return nil
}

func (f *fakeAccountStore) UpsertPrivacySettings(_ context.Context, _ string, prefs models.PrivacyPreferences) error {
	f.privacy = &prefs
	return nil
}

func (f *fakeAccountStore) ListNotifications(_ context.Context, _ string, _ int) ([]models.Notification, error) {
	return f.notifications, f.err
}

func (f *fakeAccountStore) CreateNotification(_ context.Context, n *models.Notification) error {
	n.ID = "n-1"
	if n.Type == "" {
		n.Type = models.NotificationInfo
	}
	f.created = append(f.created, n)
	return nil
}

func (f *fakeAccountStore) SetNotificationRead(_ context.Context, userID, id string, read bool) error {
	if id != "n-1" {
		return store.ErrNotFound
	}
	f.readCalls[userID+"/"+id] = read
	return nil
}

func (f *fakeAccountStore) CreateFeedback(_ context.Context, fb *models.Feedback) error {
	f.feedback = append(f.feedback, fb)
	return nil
}

type fakeBillingStore struct {
	plans        map[string]*models.Plan
	users        map[string]*models.User
	savedCustID  map[string]string
	subscription *models.Subscription
	invoices     []models.Invoice
}

func newFakeBillingStore() *fakeBillingStore {
	return &fakeBillingStore{
		plans:       map[string]*models.Plan{},
		users:       map[string]*models.User{},
		savedCustID: map[string]string{},
	}
}

func (f *fakeBillingStore) ListActivePlans(context.Context) ([]models.Plan, error) {
	var out []models.Plan
	for _, p := range f.plans {
		if p.IsActive {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (f *fakeBillingStore) GetPlan(_ context.Context, id string) (*models.Plan, error) {
	p, ok := f.plans[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return p, nil
}

func (f *fakeBillingStore) EnsureUser(_ context.Context, id string, email *string) (*models.User, error) {
	u, ok := f.users[id]
	if !ok {
		u = &models.User{ID: id, Email: email}
		f.users[id] = u
	}
	return u, nil
}

func (f *fakeBillingStore) SetStripeCustomerID(_ context.Context, userID, customerID string) error {
	f.savedCustID[userID] = customerID
	f.users[userID].StripeCustomerID = &customerID
	return nil
}

func (f *fakeBillingStore) GetLatestSubscription(context.Context, string) (*models.Subscription, error) {
	if f.subscription == nil {
		return nil, store.ErrNotFound
	}
	return f.subscription, nil
}

func (f *fakeBillingStore) ListInvoices(context.Context, string, int) ([]models.Invoice, error) {
	return f.invoices, nil
}

type fakeCheckout struct {
	customers int
	request   *stripe.CheckoutRequest
	err       error
}

func (f *fakeCheckout) CreateCustomer(context.Context, string, string) (string, error) {
	f.customers++
	return "cus_new", f.err
}

func (f *fakeCheckout) CreateCheckoutSession(_ context.Context, req stripe.CheckoutRequest) (string, error) {
	f.request = &req
	return "https://checkout.stripe.com/c/pay/cs_test_1", f.err
}

// serve routes req through a chi router that carries the session user.
func serve(t *testing.T, register func(chi.Router), userID, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if userID != "" {
				req = req.WithContext(middleware.WithUser(req.Context(), middleware.User{ID: userID, Email: userID + "@example.com"}))
			}
			next.ServeHTTP(w, req)
		})
	})
	register(r)

	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}
