package checkout

import (
	"fmt"

	"github.com/go-faster/errors"

	"github.com/xenking/oneway-checkout/internal/domain/order"
)

// ErrTransactionMismatch is returned when a captured transaction was not
// created for the order named in the request.
var ErrTransactionMismatch = errors.New("transaction does not belong to order")

// Kind classifies checkout failures by who can fix them.
type Kind int

const (
	// KindBadRequest is a caller error the client can correct.
	KindBadRequest Kind = iota + 1
	// KindUnavailable is a transient failure of the catalog or a backend.
	KindUnavailable
	// KindProvider is a failure of the payment provider.
	KindProvider
	// KindNotFound is a missing order or transaction.
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindBadRequest:
		return "bad_request"
	case KindUnavailable:
		return "unavailable"
	case KindProvider:
		return "provider_error"
	case KindNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// Error is a failed checkout operation. Message and Details are safe to show
// to the client.
type Error struct {
	Kind    Kind
	State   State
	Message string
	Details []string
	// Compensation is the corrective write attempted after the order was
	// created, nil when none was needed.
	Compensation *order.UpdateOutcome
	Err          error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("checkout %s: %s: %v", e.State, e.Message, e.Err)
	}
	return fmt.Sprintf("checkout %s: %s", e.State, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func fail(kind Kind, state State, err error, msg string, details ...string) *Error {
	return &Error{Kind: kind, State: state, Message: msg, Details: details, Err: err}
}
