package payment

import (
	"fmt"

	"github.com/go-faster/errors"
)

var (
	// ErrProviderNotConfigured is returned when the selected provider has no
	// registered adapter or lacks credentials.
	ErrProviderNotConfigured = errors.New("payment provider not configured")
	// ErrCaptureUnsupported is returned when capture is requested from a
	// provider whose flow has no capture step.
	ErrCaptureUnsupported = errors.New("provider does not support capture")
	// ErrDetailsUnsupported is returned when the provider cannot read back
	// transactions.
	ErrDetailsUnsupported = errors.New("provider does not support transaction details")
	// ErrAlreadyCaptured is returned by Capturer when the provider reports
	// the transaction was captured before.
	ErrAlreadyCaptured = errors.New("transaction already captured")
	// ErrNotCompleted is returned when a capture did not reach the completed
	// state.
	ErrNotCompleted = errors.New("payment not completed")
)

// ProviderError is a failed provider call. Summary is safe to show to the
// buyer; raw provider bodies never leave the adapter.
type ProviderError struct {
	Provider Provider
	// Status is the provider HTTP status, zero for transport failures.
	Status  int
	Summary string
	Err     error
}

func (e *ProviderError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("%s: %s", e.Provider, e.Summary)
	}
	return fmt.Sprintf("%s: %s (status %d)", e.Provider, e.Summary, e.Status)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}
