package billing

import "errors"

var (
	// ErrSignatureInvalid covers every verification failure: missing secret,
	// missing or malformed header, digest mismatch, and stale timestamps.
	ErrSignatureInvalid = errors.New("billing: invalid webhook signature")

	// ErrUserNotFound is returned when an invoice references a Stripe customer
	// that has no local user.
	ErrUserNotFound = errors.New("billing: user not found")

	// ErrMalformedPayload is returned when a verified event cannot be decoded.
	ErrMalformedPayload = errors.New("billing: malformed event payload")
)

// PersistenceError wraps a failed database read or write.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return "billing: " + e.Op + ": " + e.Err.Error()
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// UpstreamError wraps a failed call to the Stripe API.
type UpstreamError struct {
	Op  string
	Err error
}

func (e *UpstreamError) Error() string {
	return "billing: stripe " + e.Op + ": " + e.Err.Error()
}

func (e *UpstreamError) Unwrap() error { return e.Err }
