// Package mercadopago is the regional wallet adapter. It creates checkout
// preferences for PIX and card installments and reads payments back for
// reconciliation.
package mercadopago

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/oneway-checkout/internal/domain/payment"
	"github.com/xenking/oneway-checkout/internal/provider"
	"github.com/xenking/oneway-checkout/pkg/jsonx"
)

// DefaultBaseURL is the Mercado Pago API endpoint.
const DefaultBaseURL = "https://api.mercadopago.com"

// expirationLayout is the timestamp format preferences accept.
const expirationLayout = "2006-01-02T15:04:05.000-07:00"

var (
	_ payment.Adapter        = (*Adapter)(nil)
	_ payment.DetailsFetcher = (*Adapter)(nil)
)

// Config configures the adapter.
type Config struct {
	AccessToken string
	BaseURL     string
	SuccessURL  string
	FailureURL  string
	// PendingURL defaults to SuccessURL.
	PendingURL      string
	NotificationURL string
	// ImageBaseURL prefixes relative product image paths.
	ImageBaseURL        string
	StatementDescriptor string
	CategoryID          string
	// Expiration is how long a preference stays payable. Defaults to 24 hours.
	Expiration time.Duration
	// MaxInstallments caps installments for card methods. Defaults to 4.
	MaxInstallments int
	Timeout         time.Duration
	Transport       http.RoundTripper
}

// Adapter implements payment.Adapter over checkout preferences.
type Adapter struct {
	client *provider.Client
	token  string
	cfg    Config
	now    func() time.Time
}

// New creates an Adapter.
func New(cfg Config) (*Adapter, error) {
	if cfg.AccessToken == "" {
		return nil, errors.Wrap(payment.ErrProviderNotConfigured, "mercadopago access token")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.PendingURL == "" {
		cfg.PendingURL = cfg.SuccessURL
	}
	if cfg.Expiration <= 0 {
		cfg.Expiration = 24 * time.Hour
	}
	if cfg.MaxInstallments <= 0 {
		cfg.MaxInstallments = 4
	}
	if cfg.CategoryID == "" {
		cfg.CategoryID = "fashion"
	}
	return &Adapter{
		client: provider.NewClient(payment.ProviderMercadoPago, provider.Config{
			BaseURL:   cfg.BaseURL,
			Timeout:   cfg.Timeout,
			Transport: cfg.Transport,
		}),
		token: cfg.AccessToken,
		cfg:   cfg,
		now:   time.Now,
	}, nil
}

// Sandbox reports whether the adapter uses test credentials.
func (a *Adapter) Sandbox() bool {
	return strings.HasPrefix(a.token, "TEST-")
}

// Provider implements payment.Adapter.
func (a *Adapter) Provider() payment.Provider {
	return payment.ProviderMercadoPago
}

func (a *Adapter) header() http.Header {
	h := make(http.Header)
	h.Set("Authorization", "Bearer "+a.token)
	return h
}

// CreateTransaction implements payment.Adapter. The transaction id is the
// preference id.
func (a *Adapter) CreateTransaction(ctx context.Context, in payment.Intent) (*payment.Transaction, error) {
	h := a.header()
	h.Set("X-Idempotency-Key", in.ExternalReference)

	resp, err := a.client.Do(ctx, provider.Request{
		Method: http.MethodPost,
		Path:   "/checkout/preferences",
		Header: h,
		Body:   a.encodePreference(in),
	})
	if err != nil {
		return nil, err
	}
	if !resp.OK(http.StatusCreated, http.StatusOK) {
		return nil, a.client.Fail(resp.Status, "payment preference rejected", apiError(resp.Body))
	}

	p, err := decodePreference(resp.Body)
	if err != nil {
		return nil, a.client.Fail(resp.Status, "unreadable payment preference", err)
	}
	redirect := p.InitPoint
	if redirect == "" || a.Sandbox() && p.SandboxInitPoint != "" {
		redirect = p.SandboxInitPoint
	}
	if p.ID == "" || redirect == "" {
		return nil, a.client.Fail(resp.Status, "payment preference has no checkout url", nil)
	}
	return &payment.Transaction{
		Provider:    payment.ProviderMercadoPago,
		ID:          p.ID,
		RedirectURL: redirect,
	}, nil
}

// excludedTypes returns the payment types a preference must not offer for m.
// Tickets are never offered.
func excludedTypes(m payment.Method) []string {
	out := []string{"ticket"}
	switch {
	case m.InstantTransfer():
		out = append(out, "credit_card", "debit_card")
	case m.Family() == payment.FamilyCard:
		out = append(out, "bank_transfer")
	}
	return out
}

func (a *Adapter) installments(m payment.Method) (limit, preselected int) {
	limit, preselected = m.Installments()
	if limit > a.cfg.MaxInstallments {
		limit = a.cfg.MaxInstallments
	}
	if preselected > limit {
		preselected = limit
	}
	return limit, preselected
}

func (a *Adapter) imageURL(image string) string {
	if image == "" || strings.HasPrefix(image, "http://") || strings.HasPrefix(image, "https://") || a.cfg.ImageBaseURL == "" {
		return image
	}
	return strings.TrimSuffix(a.cfg.ImageBaseURL, "/") + "/" + strings.TrimPrefix(strings.TrimPrefix(image, "."), "/")
}

func (a *Adapter) encodePreference(in payment.Intent) []byte {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("items", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, l := range in.Lines {
					e.Obj(func(e *jx.Encoder) {
						e.Field("id", func(e *jx.Encoder) { e.Str(l.ProductKey) })
						e.Field("title", func(e *jx.Encoder) { e.Str(fmt.Sprintf("%s - Tamanho %s", l.Title, l.Size)) })
						if img := a.imageURL(l.Image); img != "" {
							e.Field("picture_url", func(e *jx.Encoder) { e.Str(img) })
						}
						e.Field("category_id", func(e *jx.Encoder) { e.Str(a.cfg.CategoryID) })
						e.Field("quantity", func(e *jx.Encoder) { e.Int(l.Quantity) })
						e.Field("currency_id", func(e *jx.Encoder) { e.Str(in.Currency) })
						e.Field("unit_price", func(e *jx.Encoder) { jsonx.Number(e, l.UnitPrice.Round(2)) })
					})
				}
			})
		})
		e.Field("payer", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				e.Field("name", func(e *jx.Encoder) { e.Str(in.Buyer.Name) })
				e.Field("email", func(e *jx.Encoder) { e.Str(in.Buyer.Email) })
				e.Field("phone", func(e *jx.Encoder) {
					e.Obj(func(e *jx.Encoder) {
						e.Field("number", func(e *jx.Encoder) { e.Str(in.Buyer.Phone) })
					})
				})
			})
		})
		e.Field("payment_methods", func(e *jx.Encoder) {
			limit, preselected := a.installments(in.Method)
			e.Obj(func(e *jx.Encoder) {
				e.Field("excluded_payment_methods", func(e *jx.Encoder) { e.ArrEmpty() })
				e.Field("excluded_payment_types", func(e *jx.Encoder) {
					e.Arr(func(e *jx.Encoder) {
						for _, t := range excludedTypes(in.Method) {
							e.Obj(func(e *jx.Encoder) {
								e.Field("id", func(e *jx.Encoder) { e.Str(t) })
							})
						}
					})
				})
				e.Field("installments", func(e *jx.Encoder) { e.Int(limit) })
				e.Field("default_installments", func(e *jx.Encoder) { e.Int(preselected) })
			})
		})
		if a.cfg.SuccessURL != "" {
			e.Field("back_urls", func(e *jx.Encoder) {
				e.Obj(func(e *jx.Encoder) {
					e.Field("success", func(e *jx.Encoder) {
						e.Str(provider.AppendQuery(a.cfg.SuccessURL, "external_reference", in.ExternalReference))
					})
					e.Field("failure", func(e *jx.Encoder) { e.Str(a.cfg.FailureURL) })
					e.Field("pending", func(e *jx.Encoder) {
						e.Str(provider.AppendQuery(a.cfg.PendingURL, "external_reference", in.ExternalReference))
					})
				})
			})
			e.Field("auto_return", func(e *jx.Encoder) { e.Str("approved") })
		}
		if a.cfg.NotificationURL != "" {
			e.Field("notification_url", func(e *jx.Encoder) { e.Str(a.cfg.NotificationURL) })
		}
		e.Field("external_reference", func(e *jx.Encoder) { e.Str(in.ExternalReference) })
		e.Field("metadata", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				e.Field("buyer_name", func(e *jx.Encoder) { e.Str(in.Buyer.Name) })
				e.Field("buyer_email", func(e *jx.Encoder) { e.Str(in.Buyer.Email) })
				e.Field("buyer_phone", func(e *jx.Encoder) { e.Str(in.Buyer.Phone) })
				e.Field("payment_method", func(e *jx.Encoder) { e.Str(string(in.Method)) })
				e.Field("order_id", func(e *jx.Encoder) { e.Str(in.OrderID) })
				e.Field("external_reference", func(e *jx.Encoder) { e.Str(in.ExternalReference) })
				e.Field("original_amount", func(e *jx.Encoder) { e.Str(in.Total.StringFixed(2)) })
				e.Field("amount", func(e *jx.Encoder) { e.Str(in.Amount.StringFixed(2)) })
			})
		})
		if a.cfg.StatementDescriptor != "" {
			e.Field("statement_descriptor", func(e *jx.Encoder) { e.Str(a.cfg.StatementDescriptor) })
		}
		now := a.now()
		e.Field("expires", func(e *jx.Encoder) { e.Bool(true) })
		e.Field("expiration_date_from", func(e *jx.Encoder) { e.Str(now.Format(expirationLayout)) })
		e.Field("expiration_date_to", func(e *jx.Encoder) { e.Str(now.Add(a.cfg.Expiration).Format(expirationLayout)) })
	})
	return e.Bytes()
}

// apiError extracts the message of a Mercado Pago error body.
func apiError(body []byte) error {
	var msg string
	_ = jx.DecodeBytes(body).Obj(func(d *jx.Decoder, key string) error {
		if key != "message" {
			return d.Skip()
		}
		var err error
		msg, err = jsonx.Text(d)
		return err
	})
	if msg == "" {
		return nil
	}
	return errors.New(msg)
}
