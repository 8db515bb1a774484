// Package order describes order records owned by the external order
// management backend and the client used to reach them.
package order

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the payment status of an order record.
type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusInProcess Status = "in_process"
	StatusRejected  Status = "rejected"
	StatusCancelled Status = "cancelled"
	StatusRefunded  Status = "refunded"
)

// Final reports whether no further payment transition is expected.
func (s Status) Final() bool {
	switch s {
	case StatusApproved, StatusRejected, StatusCancelled, StatusRefunded:
		return true
	default:
		return false
	}
}

// Buyer is the untrusted contact data forwarded to the backend.
type Buyer struct {
	Name  string `validate:"required"`
	Email string `validate:"required"`
	Phone string `validate:"required"`
}

// NewOrder is the payload of a pending order. ProductKey, Size and Price
// summarize the first charged line; Price is the charged total.
type NewOrder struct {
	Buyer             Buyer
	ProductKey        string
	Size              string
	Price             decimal.Decimal
	Method            string
	Status            Status
	ExternalReference string
	Notes             string
}

// LineItem is one cart line attached to an order.
type LineItem struct {
	OrderID    string
	ProductKey string
	Size       string
	Quantity   int
	UnitPrice  decimal.Decimal
}

// StatusUpdate patches status and provider metadata. Empty fields are not
// sent.
type StatusUpdate struct {
	Status          Status
	PaymentID       string
	PreferenceID    string
	MerchantOrderID string
	Notes           string
}

// Record is an order as read back from the backend.
type Record struct {
	ID                string
	ExternalReference string
	Status            Status
	PaymentID         string
	PreferenceID      string
	Method            string
	ProductKey        string
	Size              string
	Price             decimal.Decimal
	Buyer             Buyer
	CreatedAt         time.Time
}

// Client is the order backend API.
type Client interface {
	// Create creates a pending order and returns its id.
	Create(ctx context.Context, o NewOrder) (string, error)
	AddLineItem(ctx context.Context, item LineItem) error
	UpdateStatus(ctx context.Context, orderID string, u StatusUpdate) error
	Get(ctx context.Context, orderID string) (*Record, error)
	FindByExternalReference(ctx context.Context, ref string) (*Record, error)
}
