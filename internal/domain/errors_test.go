package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestValidationError_Error(t *testing.T) {
	err := &ValidationError{Message: "size must be greater than 0"}
	if err.Error() != "size must be greater than 0" {
		t.Errorf("Error() = %q, want %q", err.Error(), "size must be greater than 0")
	}
}

func TestValidationError_IsInvalidArgument(t *testing.T) {
	var err error = &ValidationError{Message: "bad"}
	if !errors.Is(err, ErrInvalidArgument) {
		t.Error("ValidationError should match ErrInvalidArgument")
	}

	wrapped := fmt.Errorf("create order: %w", err)
	var ve *ValidationError
	if !errors.As(wrapped, &ve) {
		t.Fatal("errors.As should find ValidationError through wrapping")
	}
	if ve.Message != "bad" {
		t.Errorf("Message = %q, want %q", ve.Message, "bad")
	}
}

func TestRetryable(t *testing.T) {
	if !Retryable(fmt.Errorf("lock asset c1/TRY: %w", ErrLockTimeout)) {
		t.Error("wrapped ErrLockTimeout should be retryable")
	}
	for _, err := range []error{ErrInsufficientBalance, ErrInvalidState, ErrOrderNotFound, nil} {
		if Retryable(err) {
			t.Errorf("Retryable(%v) = true, want false", err)
		}
	}
}

func TestSentinelErrors_AreDistinct(t *testing.T) {
	errs := []error{
		ErrInvalidArgument,
		ErrInsufficientBalance,
		ErrInsufficientTotal,
		ErrInvalidState,
		ErrOrderNotFound,
		ErrForbidden,
		ErrAssetNotFound,
		ErrAccountExists,
		ErrWebhookNotFound,
		ErrLockTimeout,
	}
	for i := 0; i < len(errs); i++ {
		for j := i + 1; j < len(errs); j++ {
			if errors.Is(errs[i], errs[j]) {
				t.Errorf("sentinel errors %d and %d should be distinct", i, j)
			}
		}
	}
}
