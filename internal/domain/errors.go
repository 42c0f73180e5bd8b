package domain

import "errors"

// Sentinel errors for domain-level error handling.
// The handler layer maps these to HTTP status codes.
var (
	ErrInvalidArgument     = errors.New("invalid_argument")
	ErrInsufficientBalance = errors.New("insufficient_balance")
	ErrInsufficientTotal   = errors.New("insufficient_total")
	ErrInvalidState        = errors.New("invalid_state")
	ErrOrderNotFound       = errors.New("order_not_found")
	ErrForbidden           = errors.New("forbidden")
	ErrAssetNotFound       = errors.New("asset_not_found")
	ErrAccountExists       = errors.New("account_already_exists")
	ErrWebhookNotFound     = errors.New("webhook_not_found")

	// ErrLockTimeout is the only retryable error: a ledger or order lock
	// could not be acquired before the transaction deadline.
	ErrLockTimeout = errors.New("lock_timeout")
)

// ValidationError represents a request validation failure.
// It matches ErrInvalidArgument under errors.Is.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Unwrap lets callers test validation failures with errors.Is(err, ErrInvalidArgument).
func (e *ValidationError) Unwrap() error {
	return ErrInvalidArgument
}

// Retryable reports whether err is a transient store failure the caller may retry.
func Retryable(err error) bool {
	return errors.Is(err, ErrLockTimeout)
}
