// Package payment defines payment methods, providers and the contract every
// provider adapter implements.
package payment

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/oneway-checkout/internal/domain/order"
)

// Method is the payment method chosen by the buyer.
type Method string

const (
	MethodPix      Method = "pix"
	Method2x       Method = "2x"
	Method4x       Method = "4x"
	MethodCard     Method = "card"
	MethodPayPal   Method = "paypal"
	MethodInPerson Method = "presencial"
)

// Family groups methods that are routed to the same provider setting.
type Family string

const (
	FamilyCard     Family = "card"
	FamilyPix      Family = "pix"
	FamilyWallet   Family = "wallet"
	FamilyInPerson Family = "in_person"
)

var methods = map[Method]Family{
	MethodPix:      FamilyPix,
	Method2x:       FamilyCard,
	Method4x:       FamilyCard,
	MethodCard:     FamilyCard,
	MethodPayPal:   FamilyWallet,
	MethodInPerson: FamilyInPerson,
}

// ErrUnknownMethod is returned by ParseMethod for unsupported methods.
var ErrUnknownMethod = errors.New("unknown payment method")

// ParseMethod normalizes s into a known Method.
func ParseMethod(s string) (Method, error) {
	m := Method(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := methods[m]; !ok {
		return "", errors.Wrapf(ErrUnknownMethod, "%q", s)
	}
	return m, nil
}

// Family returns the routing family of m.
func (m Method) Family() Family {
	return methods[m]
}

// InstantTransfer reports whether m settles by instant bank transfer and is
// therefore eligible for the instant-transfer discount.
func (m Method) InstantTransfer() bool {
	return m == MethodPix
}

// Installments returns the maximum installment count allowed for m and the
// installment count preselected for the buyer.
func (m Method) Installments() (limit, preselected int) {
	switch m {
	case MethodPix:
		return 1, 1
	case Method2x:
		return 2, 2
	default:
		return 4, 1
	}
}

// Provider identifies a payment provider.
type Provider string

const (
	// ProviderStripe is the card processor (hosted checkout sessions).
	ProviderStripe Provider = "stripe"
	// ProviderMercadoPago is the regional wallet handling PIX and cards.
	ProviderMercadoPago Provider = "mercadopago"
	// ProviderPayPal is the international wallet.
	ProviderPayPal Provider = "paypal"
)

// Providers is the allow-list of known providers.
var Providers = []Provider{ProviderStripe, ProviderMercadoPago, ProviderPayPal}

// ParseProvider matches s case-insensitively against the allow-list.
func ParseProvider(s string) (Provider, bool) {
	p := Provider(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Providers {
		if p == known {
			return p, true
		}
	}
	return "", false
}

// Line is one charged line of an Intent. UnitPrice is server-side and already
// discounted for the chosen method.
type Line struct {
	ProductID  string
	ProductKey string
	Title      string
	Image      string
	Size       string
	Quantity   int
	ListPrice  decimal.Decimal
	UnitPrice  decimal.Decimal
}

// Subtotal returns UnitPrice times Quantity.
func (l Line) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Intent is the normalized, server-trusted description of what is about to be
// charged.
type Intent struct {
	OrderID           string
	ExternalReference string
	Method            Method
	Provider          Provider
	Buyer             order.Buyer
	Lines             []Line
	// Total is the undiscounted sum of catalog prices.
	Total decimal.Decimal
	// Amount is the charged sum after the method discount.
	Amount   decimal.Decimal
	Currency string
}

// Transaction is a provider-side payable transaction.
type Transaction struct {
	Provider    Provider
	ID          string
	RedirectURL string
	Status      string
}

// CaptureStatusCompleted is the only capture status that counts as paid.
const CaptureStatusCompleted = "COMPLETED"

// Capture is the outcome of capturing a buyer-approved transaction.
type Capture struct {
	Provider      Provider
	TransactionID string
	PaymentID     string
	Status        string
	// ExternalReference is the reference the transaction was created with,
	// as echoed back by the provider. Empty when the provider omits it.
	ExternalReference string
}

// Completed reports whether the provider confirmed that funds were captured.
func (c *Capture) Completed() bool {
	return c != nil && c.Status == CaptureStatusCompleted
}

// Details describes a provider transaction for display and reconciliation.
type Details struct {
	Provider          Provider
	TransactionID     string
	Status            string
	StatusDetail      string
	ExternalReference string
	PaymentID         string
	PreferenceID      string
	Amount            decimal.NullDecimal
	Currency          string
	PayerEmail        string
	Metadata          map[string]string
}

// DetailsQuery carries optional lookup hints.
type DetailsQuery struct {
	PreferenceID string
}

// Adapter creates payable transactions on one provider.
type Adapter interface {
	Provider() Provider
	CreateTransaction(ctx context.Context, intent Intent) (*Transaction, error)
}

// Capturer is implemented by adapters whose flow needs an explicit capture
// after the buyer approves on the provider's site.
type Capturer interface {
	CaptureTransaction(ctx context.Context, transactionID string) (*Capture, error)
}

// DetailsFetcher is implemented by adapters that can read back a transaction.
type DetailsFetcher interface {
	TransactionDetails(ctx context.Context, transactionID string, q DetailsQuery) (*Details, error)
}
