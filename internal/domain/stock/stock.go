// Package stock validates and decrements inventory held by the order
// backend for specific product-size identifiers.
package stock

import (
	"context"
	"fmt"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// Item requests Quantity units of the inventory unit StockID.
type Item struct {
	StockID  string
	Quantity int
}

// ItemResult is the backend's answer for one inventory unit.
type ItemResult struct {
	StockID   string
	Requested int
	Available int
	CanBuy    bool
	Error     string
}

// Sufficient reports whether the available quantity covers the request.
func (r ItemResult) Sufficient() bool {
	return r.Available >= r.Requested
}

// Validation is the outcome of a batch stock check.
type Validation struct {
	CanProceed bool
	Items      []ItemResult
	Errors     []string
	// Unavailable is set when the backend could not be reached. CanProceed
	// is always false in that case.
	Unavailable bool
}

// Insufficient returns the results whose available quantity is below the
// requested one.
func (v *Validation) Insufficient() []ItemResult {
	var out []ItemResult
	for _, r := range v.Items {
		if !r.Sufficient() {
			out = append(out, r)
		}
	}
	return out
}

// Processed is one decremented inventory unit.
type Processed struct {
	StockID   string
	Quantity  int
	Remaining int
}

// Decrement is the outcome of an irreversible batch decrement. The backend
// applies the batch atomically, so Success false means nothing was
// decremented.
type Decrement struct {
	Success     bool
	Processed   []Processed
	Errors      []string
	Unavailable bool
	// Skipped is set when no item carried a stock id and the backend was
	// not called.
	Skipped bool
}

// Backend is the stock API of the order backend.
type Backend interface {
	ValidateStock(ctx context.Context, items []Item) (*Validation, error)
	DecrementStock(ctx context.Context, items []Item, orderID string) (*Decrement, error)
}

// Validator checks and decrements stock through a Backend. It fails closed:
// an unreachable backend never lets a checkout proceed.
type Validator struct {
	backend Backend
}

// NewValidator creates a Validator.
func NewValidator(backend Backend) *Validator {
	return &Validator{backend: backend}
}

// ValidateBatch checks all items in one backend call. Items sharing a
// StockID are merged so the backend sees the total requested quantity.
//
// The checkout may proceed if and only if every requested unit has at least
// the requested quantity available.
func (v *Validator) ValidateBatch(ctx context.Context, items []Item) *Validation {
	merged := Merge(items)
	if len(merged) == 0 {
		return &Validation{CanProceed: true}
	}

	res, err := v.backend.ValidateStock(ctx, merged)
	if err != nil {
		zctx.From(ctx).Warn("Stock validation failed", zap.Error(err), zap.Int("items", len(merged)))
		return &Validation{
			Unavailable: true,
			Errors:      []string{"stock service unavailable, try again later"},
		}
	}

	byID := make(map[string]ItemResult, len(res.Items))
	for _, r := range res.Items {
		byID[r.StockID] = r
	}

	out := &Validation{CanProceed: true, Errors: res.Errors}
	for _, it := range merged {
		r, ok := byID[it.StockID]
		if !ok {
			// Unknown units are reported in Errors by the backend.
			r = ItemResult{StockID: it.StockID, Requested: it.Quantity}
			if len(res.Errors) == 0 {
				out.Errors = append(out.Errors, fmt.Sprintf("stock unit %s not found", it.StockID))
			}
		}
		if r.Requested == 0 {
			r.Requested = it.Quantity
		}
		if !r.Sufficient() {
			out.CanProceed = false
			if r.Error == "" {
				r.Error = fmt.Sprintf("insufficient stock: available %d, requested %d", r.Available, r.Requested)
			}
		}
		out.Items = append(out.Items, r)
	}
	return out
}

// DecrementBatch irreversibly removes items from stock for orderID. It must
// be called at most once per order.
func (v *Validator) DecrementBatch(ctx context.Context, items []Item, orderID string) *Decrement {
	merged := Merge(items)
	if len(merged) == 0 {
		zctx.From(ctx).Info("Stock decrement skipped, no item carries a stock id",
			zap.String("order_id", orderID),
			zap.Int("items", len(items)),
		)
		return &Decrement{Success: true, Skipped: true}
	}

	res, err := v.backend.DecrementStock(ctx, merged, orderID)
	if err != nil {
		zctx.From(ctx).Warn("Stock decrement failed",
			zap.Error(err),
			zap.String("order_id", orderID),
		)
		return &Decrement{
			Unavailable: true,
			Errors:      []string{"stock service unavailable, try again later"},
		}
	}
	if !res.Success && len(res.Errors) == 0 {
		res.Errors = []string{"stock decrement rejected"}
	}
	return res
}

// Merge drops items without a StockID and sums quantities per StockID,
// keeping first-seen order.
func Merge(items []Item) []Item {
	idx := make(map[string]int, len(items))
	var out []Item
	for _, it := range items {
		if it.StockID == "" || it.Quantity <= 0 {
			continue
		}
		if i, ok := idx[it.StockID]; ok {
			out[i].Quantity += it.Quantity
			continue
		}
		idx[it.StockID] = len(out)
		out = append(out, it)
	}
	return out
}
