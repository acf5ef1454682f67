package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/PortNumber53/saas-starter/internal/models"
)

const defaultPageSize = 100

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("store: not found")

// Store provides database-backed accessors for application data.
type Store struct {
	db *sql.DB
}

// New creates a Store using the provided sql.DB connection.
func New(db *sql.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("db cannot be nil")
	}
	return &Store{db: db}, nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// EnsureUser inserts the user row for an authenticated identity if it is
// missing and refreshes the email when one is supplied.
func (s *Store) EnsureUser(ctx context.Context, id string, email *string) (*models.User, error) {
	const query = `
INSERT INTO users (id, email, created_at, updated_at)
VALUES ($1, $2, NOW(), NOW())
ON CONFLICT (id) DO UPDATE SET
  email = COALESCE(EXCLUDED.email, users.email),
  updated_at = CASE WHEN EXCLUDED.email IS DISTINCT FROM users.email AND EXCLUDED.email IS NOT NULL
                    THEN NOW() ELSE users.updated_at END
RETURNING id, email, stripe_customer_id, created_at, updated_at
`
	var (
		user       models.User
		emailCol   sql.NullString
		customerID sql.NullString
	)
	if err := s.db.QueryRowContext(ctx, query, id, nullString(email)).Scan(
		&user.ID, &emailCol, &customerID, &user.CreatedAt, &user.UpdatedAt,
	); err != nil {
		return nil, fmt.Errorf("store: ensure user: %w", err)
	}
	user.Email = nullStringPtr(emailCol)
	user.StripeCustomerID = nullStringPtr(customerID)
	return &user, nil
}

// SetStripeCustomerID records the Stripe customer created for a user.
func (s *Store) SetStripeCustomerID(ctx context.Context, userID, customerID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET stripe_customer_id = $2, updated_at = NOW() WHERE id = $1`,
		userID, customerID,
	)
	if err != nil {
		return fmt.Errorf("store: set stripe customer id: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetUserIDByStripeCustomerID resolves the local user that owns a Stripe customer.
func (s *Store) GetUserIDByStripeCustomerID(ctx context.Context, customerID string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM users WHERE stripe_customer_id = $1`, customerID,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("store: lookup user by stripe customer: %w", err)
	}
	return id, nil
}

func nullStringPtr(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	v := value.String
	return &v
}

func nullString(value *string) sql.NullString {
	if value == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *value, Valid: true}
}

func nullTimePtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	v := value.Time
	return &v
}

func nullTime(value *time.Time) sql.NullTime {
	if value == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *value, Valid: true}
}
