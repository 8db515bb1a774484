// Package pricing re-prices carts against the catalog and flags client
// prices that diverge from it.
package pricing

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/oneway-checkout/internal/domain/catalog"
	"github.com/xenking/oneway-checkout/internal/domain/payment"
)

// Policy decides what happens when a client price diverges.
type Policy string

const (
	// PolicyLog records the divergence and charges the catalog price.
	PolicyLog Policy = "log"
	// PolicyReject records the divergence and rejects the cart.
	PolicyReject Policy = "reject"
)

// ParsePolicy returns the policy named s, defaulting to PolicyLog.
func ParsePolicy(s string) Policy {
	if Policy(s) == PolicyReject {
		return PolicyReject
	}
	return PolicyLog
}

// Item is an untrusted cart line.
type Item struct {
	ProductRef string `validate:"required"`
	Size       string `validate:"required"`
	Quantity   int    `validate:"gt=0"`
	// ClientPrice is the unit price the client claims. Invalid when absent.
	ClientPrice decimal.NullDecimal
	StockID     string
}

// Requester identifies who submitted the cart, for fraud monitoring.
type Requester struct {
	IP        string
	UserAgent string
}

// Request is the input of PriceCart.
type Request struct {
	Items     []Item
	Method    payment.Method
	Requester Requester
	// Strict forces PolicyReject regardless of the configured policy.
	Strict bool
}

// Line is a validated, server-priced cart line.
type Line struct {
	Product  catalog.Product
	Size     string
	Quantity int
	StockID  string
	// UnitPrice is the catalog price.
	UnitPrice decimal.Decimal
	// ChargedUnitPrice is UnitPrice after the method discount.
	ChargedUnitPrice decimal.Decimal
}

// Subtotal returns the undiscounted line amount.
func (l Line) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// ChargedSubtotal returns the discounted line amount.
func (l Line) ChargedSubtotal() decimal.Decimal {
	return l.ChargedUnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Quote is the server-side price of a cart.
type Quote struct {
	Lines []Line
	// Total is the sum of catalog prices times quantities.
	Total decimal.Decimal
	// DiscountedTotal is the amount to charge for the chosen method.
	DiscountedTotal decimal.Decimal
	Divergences     []Divergence
}

// Discount returns Total minus DiscountedTotal.
func (q *Quote) Discount() decimal.Decimal {
	return q.Total.Sub(q.DiscountedTotal)
}

// CatalogGetter returns the current catalog.
type CatalogGetter interface {
	Get(ctx context.Context) (*catalog.Catalog, error)
}

// Config configures a Pricer.
type Config struct {
	Policy Policy
	// InstantTransferDiscount is the percentage taken off instant-transfer
	// payments. Defaults to 5.
	InstantTransferDiscount decimal.Decimal
	// Epsilon is the tolerated client price difference. Defaults to 0.01.
	Epsilon decimal.Decimal
}

// Pricer computes authoritative cart prices.
type Pricer struct {
	catalog  CatalogGetter
	fraud    FraudRecorder
	policy   Policy
	discount decimal.Decimal
	epsilon  decimal.Decimal
	now      func() time.Time
}

// NewPricer creates a Pricer. A nil recorder discards divergences.
func NewPricer(c CatalogGetter, fraud FraudRecorder, cfg Config) *Pricer {
	if fraud == nil {
		fraud = NopRecorder{}
	}
	if cfg.Policy == "" {
		cfg.Policy = PolicyLog
	}
	if cfg.InstantTransferDiscount.IsZero() {
		cfg.InstantTransferDiscount = decimal.NewFromInt(5)
	}
	if cfg.Epsilon.IsZero() {
		cfg.Epsilon = decimal.RequireFromString("0.01")
	}
	return &Pricer{
		catalog:  c,
		fraud:    fraud,
		policy:   cfg.Policy,
		discount: cfg.InstantTransferDiscount,
		epsilon:  cfg.Epsilon,
		now:      time.Now,
	}
}

// PriceCart resolves every item against the catalog and prices the cart with
// catalog prices only. Divergent client prices are recorded once per line
// before the policy is applied.
func (p *Pricer) PriceCart(ctx context.Context, req Request) (*Quote, error) {
	if len(req.Items) == 0 {
		return nil, ErrEmptyCart
	}

	cat, err := p.catalog.Get(ctx)
	if err != nil {
		return nil, err
	}

	multiplier := decimal.NewFromInt(1)
	if req.Method.InstantTransfer() {
		multiplier = decimal.NewFromInt(100).Sub(p.discount).Div(decimal.NewFromInt(100))
	}

	q := &Quote{}
	for i, it := range req.Items {
		if it.Quantity <= 0 {
			return nil, &InvalidQuantityError{ProductRef: it.ProductRef}
		}
		prod, err := cat.Lookup(it.ProductRef)
		if err != nil {
			return nil, errors.Wrapf(err, "item %d", i)
		}
		if it.StockID == "" {
			if size, ok := prod.Size(it.Size); !ok || !size.Available {
				return nil, &SizeUnavailableError{ProductID: prod.ID, Title: prod.Title, Size: it.Size}
			}
		}

		if it.ClientPrice.Valid && it.ClientPrice.Decimal.Sub(prod.Price).Abs().GreaterThan(p.epsilon) {
			d := Divergence{
				ProductID:    prod.ID,
				ProductKey:   prod.Key,
				Title:        prod.Title,
				Size:         it.Size,
				CatalogPrice: prod.Price,
				ClientPrice:  it.ClientPrice.Decimal,
				ClientIP:     req.Requester.IP,
				UserAgent:    req.Requester.UserAgent,
				At:           p.now(),
			}
			p.fraud.RecordDivergence(ctx, d)
			q.Divergences = append(q.Divergences, d)
		}

		// The discount is rounded per unit so every line the provider shows
		// carries a cent-exact unit price. The charged total is the sum of
		// those lines and may differ by a cent from Total*multiplier.
		line := Line{
			Product:          prod,
			Size:             it.Size,
			Quantity:         it.Quantity,
			StockID:          it.StockID,
			UnitPrice:        prod.Price,
			ChargedUnitPrice: prod.Price.Mul(multiplier).Round(2),
		}
		q.Lines = append(q.Lines, line)
		q.Total = q.Total.Add(line.Subtotal())
		q.DiscountedTotal = q.DiscountedTotal.Add(line.ChargedSubtotal())
	}

	if len(q.Divergences) > 0 && (req.Strict || p.policy == PolicyReject) {
		return nil, &DivergenceError{Divergences: q.Divergences}
	}
	return q, nil
}

// ErrEmptyCart is returned for carts without items.
var ErrEmptyCart = errors.New("cart has no items")

// InvalidQuantityError indicates a line item has a non-positive quantity.
type InvalidQuantityError struct {
	ProductRef string
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity must be greater than 0 for product %s", e.ProductRef)
}

// SizeUnavailableError indicates the catalog does not offer the size.
type SizeUnavailableError struct {
	ProductID string
	Title     string
	Size      string
}

func (e *SizeUnavailableError) Error() string {
	return fmt.Sprintf("size %s of %s is unavailable", e.Size, e.Title)
}

// DivergenceError rejects a cart whose client prices diverge.
type DivergenceError struct {
	Divergences []Divergence
}

func (e *DivergenceError) Error() string {
	return fmt.Sprintf("price changed for %d item(s), refresh and try again", len(e.Divergences))
}
