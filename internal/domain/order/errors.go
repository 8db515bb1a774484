package order

import (
	"fmt"
	"strings"

	"github.com/go-faster/errors"
)

// ErrNotFound is returned when the backend has no matching order.
var ErrNotFound = errors.New("order not found")

// ValidationError is a 4xx rejection by the backend. Messages are the
// backend's own validation messages and are safe to show to the buyer.
type ValidationError struct {
	Messages []string
}

func (e *ValidationError) Error() string {
	if len(e.Messages) == 0 {
		return "order rejected by backend"
	}
	return "order rejected by backend: " + strings.Join(e.Messages, "; ")
}

// BackendError is a transport failure or 5xx answer from the backend.
type BackendError struct {
	Op     string
	Status int
	Err    error
}

func (e *BackendError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("order backend %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("order backend %s: status %d", e.Op, e.Status)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// UpdateOutcome records a best-effort write. Err is nil on success.
type UpdateOutcome struct {
	Step    string
	OrderID string
	Err     error
}

// OK reports whether the write succeeded.
func (o UpdateOutcome) OK() bool {
	return o.Err == nil
}
