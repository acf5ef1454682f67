package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/PortNumber53/saas-starter/internal/models"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})
	return &Store{db: db}, mock
}

func TestNewStoreValidation(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Fatal("expected error when db is nil")
	}
	if _, err := NewJobStore(nil); err == nil {
		t.Fatal("expected error when db is nil")
	}
}

func TestUpsertWebhookEvent(t *testing.T) {
	s, mock := newMockStore(t)

	payload := []byte(`{"id":"evt_1","type":"invoice.paid"}`)
	mock.ExpectExec(`INSERT INTO stripe_webhook_events .* ON CONFLICT \(event_id\) DO UPDATE`).
		WithArgs("evt_1", "invoice.paid", string(payload)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.UpsertWebhookEvent(context.Background(), "evt_1", "invoice.paid", payload); err != nil {
		t.Fatalf("UpsertWebhookEvent returned error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUpsertWebhookEventError(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`INSERT INTO stripe_webhook_events`).WillReturnError(errors.New("boom"))

	if err := s.UpsertWebhookEvent(context.Background(), "evt_1", "invoice.paid", []byte(`{}`)); err == nil {
		t.Fatal("expected error when insert fails")
	}
}

func TestGetWebhookEventNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT event_id, event_type, event_data`).
		WithArgs("evt_missing").
		WillReturnError(sql.ErrNoRows)

	if _, err := s.GetWebhookEvent(context.Background(), "evt_missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpsertSubscriptionApplied(t *testing.T) {
	s, mock := newMockStore(t)

	plan := "plan_9"
	sub := &models.Subscription{
		PlanID:               &plan,
		StripeSubscriptionID: "sub_123",
		Status:               "active",
		LastEventAt:          time.Unix(1700000000, 0),
	}

	mock.ExpectQuery(`INSERT INTO subscriptions .* ON CONFLICT \(stripe_subscription_id\) DO UPDATE .* WHERE subscriptions.last_event_at <= EXCLUDED.last_event_at`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("row-1"))

	applied, err := s.UpsertSubscription(context.Background(), sub)
	if err != nil {
		t.Fatalf("UpsertSubscription returned error: %v", err)
	}
	if !applied {
		t.Fatal("expected upsert to apply")
	}
	if sub.ID != "row-1" {
		t.Fatalf("expected id row-1, got %q", sub.ID)
	}
}

func TestUpsertSubscriptionStale(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`INSERT INTO subscriptions`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	applied, err := s.UpsertSubscription(context.Background(), &models.Subscription{
		StripeSubscriptionID: "sub_123",
		Status:               "active",
		LastEventAt:          time.Unix(1, 0),
	})
	if err != nil {
		t.Fatalf("UpsertSubscription returned error: %v", err)
	}
	if applied {
		t.Fatal("expected stale upsert to be skipped")
	}
}

func TestUpsertInvoiceError(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`INSERT INTO invoices`).WillReturnError(errors.New("boom"))

	if _, err := s.UpsertInvoice(context.Background(), &models.Invoice{UserID: "u1", StripeInvoiceID: "in_1"}); err == nil {
		t.Fatal("expected error when insert fails")
	}
}

func TestUpsertInvoiceItemUsesDescriptionKey(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`INSERT INTO invoice_items .* ON CONFLICT \(invoice_id, description\) DO UPDATE`).
		WithArgs(sqlmock.AnyArg(), "in_1", sqlmock.AnyArg(), "Pro plan", int64(1), int64(1500), "usd",
			sqlmock.AnyArg(), sqlmock.AnyArg(), false).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("item-1"))

	item := &models.InvoiceItem{InvoiceID: "in_1", Description: "Pro plan", Quantity: 1, UnitAmount: 1500, Currency: "usd"}
	if err := s.UpsertInvoiceItem(context.Background(), item); err != nil {
		t.Fatalf("UpsertInvoiceItem returned error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGetPlanIDByStripePriceID(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT id FROM subscription_plans WHERE stripe_price_id = \$1`).
		WithArgs("price_abc").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("plan_9"))
	mock.ExpectQuery(`SELECT id FROM subscription_plans WHERE stripe_price_id = \$1`).
		WithArgs("price_missing").
		WillReturnError(sql.ErrNoRows)

	id, err := s.GetPlanIDByStripePriceID(context.Background(), "price_abc")
	if err != nil || id != "plan_9" {
		t.Fatalf("expected plan_9, got %q (err %v)", id, err)
	}
	if _, err := s.GetPlanIDByStripePriceID(context.Background(), "price_missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetUserIDByStripeCustomerIDQueryError(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT id FROM users WHERE stripe_customer_id`).WillReturnError(errors.New("boom"))

	_, err := s.GetUserIDByStripeCustomerID(context.Background(), "cus_1")
	if err == nil || errors.Is(err, ErrNotFound) {
		t.Fatalf("expected wrapped query error, got %v", err)
	}
}

func TestListActivePlans(t *testing.T) {
	s, mock := newMockStore(t)

	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"id", "name", "description", "stripe_price_id", "interval", "interval_count",
		"trial_period_days", "amount", "currency", "features", "is_active", "created_at", "updated_at",
	}).AddRow("plan_9", "Pro", nil, "price_abc", "month", 1, 14, 1500, "usd", "{seats,support}", true, now, now)

	mock.ExpectQuery(`FROM subscription_plans\s+WHERE is_active`).WillReturnRows(rows)

	plans, err := s.ListActivePlans(context.Background())
	if err != nil {
		t.Fatalf("ListActivePlans returned error: %v", err)
	}
	if len(plans) != 1 {
		t.Fatalf("expected 1 plan, got %d", len(plans))
	}
	if len(plans[0].Features) != 2 || plans[0].Features[1] != "support" {
		t.Fatalf("unexpected features: %v", plans[0].Features)
	}
	if plans[0].TrialPeriodDays == nil || *plans[0].TrialPeriodDays != 14 {
		t.Fatalf("unexpected trial days: %v", plans[0].TrialPeriodDays)
	}
}

func TestSetNotificationReadNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE notifications SET is_read`).
		WithArgs("n1", "u1", true).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := s.SetNotificationRead(context.Background(), "u1", "n1", true); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetUserSettingsScansPreferences(t *testing.T) {
	s, mock := newMockStore(t)

	rows := sqlmock.NewRows([]string{"user_id", "email_notifications", "notification_preferences", "privacy_preferences", "updated_at"}).
		AddRow("u1", false,
			[]byte(`{"push":true,"sms":false,"in_app":true,"frequency":"weekly"}`),
			[]byte(`{"profile_visibility":"friends","activity_tracking":false,"data_sharing":true}`),
			time.Now())
	mock.ExpectQuery(`FROM user_settings`).WithArgs("u1").WillReturnRows(rows)

	settings, err := s.GetUserSettings(context.Background(), "u1")
	if err != nil {
		t.Fatalf("GetUserSettings returned error: %v", err)
	}
	if !settings.NotificationPreferences.Push || settings.NotificationPreferences.Frequency != "weekly" {
		t.Fatalf("unexpected notification preferences: %+v", settings.NotificationPreferences)
	}
	if settings.PrivacyPreferences.ProfileVisibility != "friends" || !settings.PrivacyPreferences.DataSharing {
		t.Fatalf("unexpected privacy preferences: %+v", settings.PrivacyPreferences)
	}
}
