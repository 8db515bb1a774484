// Package paypal is the international wallet adapter: orders with a single
// aggregated amount, captured once the buyer approves.
package paypal

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/oneway-checkout/internal/domain/payment"
	"github.com/xenking/oneway-checkout/internal/provider"
	"github.com/xenking/oneway-checkout/pkg/jsonx"
)

// Environments and their API endpoints.
const (
	EnvSandbox = "sandbox"
	EnvLive    = "live"

	SandboxBaseURL = "https://api-m.sandbox.paypal.com"
	LiveBaseURL    = "https://api-m.paypal.com"
)

// issueAlreadyCaptured is the error issue PayPal reports for a second capture.
const issueAlreadyCaptured = "ORDER_ALREADY_CAPTURED"

var (
	_ payment.Adapter        = (*Adapter)(nil)
	_ payment.Capturer       = (*Adapter)(nil)
	_ payment.DetailsFetcher = (*Adapter)(nil)
)

// Config configures the adapter.
type Config struct {
	ClientID     string
	ClientSecret string
	// Environment selects the API endpoint unless BaseURL is set.
	Environment string
	BaseURL     string
	// ReturnBaseURL is the storefront origin hosting the return pages.
	ReturnBaseURL string
	BrandName     string
	Locale        string
	Timeout       time.Duration
	Transport     http.RoundTripper
}

// Adapter implements payment.Adapter, payment.Capturer and
// payment.DetailsFetcher over the Orders v2 API.
type Adapter struct {
	client *provider.Client
	cfg    Config
}

// New creates an Adapter.
func New(cfg Config) (*Adapter, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, errors.Wrap(payment.ErrProviderNotConfigured, "paypal client credentials")
	}
	if cfg.BaseURL == "" {
		switch cfg.Environment {
		case EnvSandbox:
			cfg.BaseURL = SandboxBaseURL
		case EnvLive, "":
			cfg.BaseURL = LiveBaseURL
		default:
			return nil, errors.Errorf("unknown paypal environment %q", cfg.Environment)
		}
	}
	if cfg.Locale == "" {
		cfg.Locale = "pt-BR"
	}
	return &Adapter{
		client: provider.NewClient(payment.ProviderPayPal, provider.Config{
			BaseURL:   cfg.BaseURL,
			Timeout:   cfg.Timeout,
			Transport: cfg.Transport,
		}),
		cfg: cfg,
	}, nil
}

// Provider implements payment.Adapter.
func (a *Adapter) Provider() payment.Provider {
	return payment.ProviderPayPal
}

// token exchanges the client credentials for a bearer token. Tokens are not
// cached; every operation fetches a fresh one.
func (a *Adapter) token(ctx context.Context) (string, error) {
	h := make(http.Header)
	h.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(a.cfg.ClientID+":"+a.cfg.ClientSecret)))
	h.Set("Accept-Language", "en_US")

	resp, err := a.client.Do(ctx, provider.Request{
		Method:      http.MethodPost,
		Path:        "/v1/oauth2/token",
		Header:      h,
		Body:        []byte("grant_type=client_credentials"),
		ContentType: "application/x-www-form-urlencoded",
	})
	if err != nil {
		return "", err
	}
	if !resp.OK(http.StatusOK) {
		return "", a.client.Fail(resp.Status, "authentication failed", apiError(resp.Body))
	}

	var token string
	err = jx.DecodeBytes(resp.Body).Obj(func(d *jx.Decoder, key string) error {
		if key != "access_token" {
			return d.Skip()
		}
		var err error
		token, err = jsonx.Text(d)
		return err
	})
	if err != nil || token == "" {
		return "", a.client.Fail(resp.Status, "authentication failed", err)
	}
	return token, nil
}

func (a *Adapter) call(ctx context.Context, method, path string, body []byte, requestID string) (*provider.Response, error) {
	token, err := a.token(ctx)
	if err != nil {
		return nil, err
	}
	h := make(http.Header)
	h.Set("Authorization", "Bearer "+token)
	h.Set("Prefer", "return=representation")
	if requestID != "" {
		h.Set("PayPal-Request-Id", requestID)
	}
	return a.client.Do(ctx, provider.Request{Method: method, Path: path, Header: h, Body: body})
}

func (a *Adapter) returnURL(page string, kv ...string) string {
	base := strings.TrimSuffix(a.cfg.ReturnBaseURL, "/")
	if base == "" {
		return ""
	}
	return provider.AppendQuery(base+page, kv...)
}

func description(lines []payment.Line) string {
	parts := make([]string, 0, len(lines))
	for _, l := range lines {
		s := fmt.Sprintf("%s - Tamanho %s", l.Title, l.Size)
		if l.Quantity > 1 {
			s = fmt.Sprintf("%s x%d", s, l.Quantity)
		}
		parts = append(parts, s)
	}
	s := strings.Join(parts, "; ")
	// PayPal limits descriptions to 127 characters.
	if r := []rune(s); len(r) > 127 {
		s = string(r[:127])
	}
	return s
}

func (a *Adapter) encodeOrder(in payment.Intent) []byte {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("intent", func(e *jx.Encoder) { e.Str("CAPTURE") })
		e.Field("purchase_units", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				e.Obj(func(e *jx.Encoder) {
					e.Field("reference_id", func(e *jx.Encoder) { e.Str(in.ExternalReference) })
					e.Field("custom_id", func(e *jx.Encoder) { e.Str(in.ExternalReference) })
					e.Field("description", func(e *jx.Encoder) { e.Str(description(in.Lines)) })
					e.Field("amount", func(e *jx.Encoder) {
						e.Obj(func(e *jx.Encoder) {
							e.Field("currency_code", func(e *jx.Encoder) { e.Str(in.Currency) })
							e.Field("value", func(e *jx.Encoder) { e.Str(in.Amount.StringFixed(2)) })
						})
					})
				})
			})
		})
		e.Field("application_context", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				if a.cfg.BrandName != "" {
					e.Field("brand_name", func(e *jx.Encoder) { e.Str(a.cfg.BrandName) })
				}
				e.Field("locale", func(e *jx.Encoder) { e.Str(a.cfg.Locale) })
				e.Field("landing_page", func(e *jx.Encoder) { e.Str("GUEST_CHECKOUT") })
				e.Field("shipping_preference", func(e *jx.Encoder) { e.Str("NO_SHIPPING") })
				e.Field("user_action", func(e *jx.Encoder) { e.Str("PAY_NOW") })
				if u := a.returnURL("/paypal-success", "external_reference", in.ExternalReference, "pedido_id", in.OrderID); u != "" {
					e.Field("return_url", func(e *jx.Encoder) { e.Str(u) })
				}
				if u := a.returnURL("/paypal-cancel"); u != "" {
					e.Field("cancel_url", func(e *jx.Encoder) { e.Str(u) })
				}
			})
		})
	})
	return e.Bytes()
}

// CreateTransaction implements payment.Adapter. The transaction id is the
// PayPal order id.
func (a *Adapter) CreateTransaction(ctx context.Context, in payment.Intent) (*payment.Transaction, error) {
	resp, err := a.call(ctx, http.MethodPost, "/v2/checkout/orders", a.encodeOrder(in), in.ExternalReference)
	if err != nil {
		return nil, err
	}
	if !resp.OK(http.StatusCreated, http.StatusOK) {
		return nil, a.client.Fail(resp.Status, "order rejected", apiError(resp.Body))
	}

	o, err := decodeOrder(resp.Body)
	if err != nil {
		return nil, a.client.Fail(resp.Status, "unreadable order", err)
	}
	if o.ID == "" || o.ApproveURL == "" {
		return nil, a.client.Fail(resp.Status, "order has no approval link", nil)
	}
	return &payment.Transaction{
		Provider:    payment.ProviderPayPal,
		ID:          o.ID,
		RedirectURL: o.ApproveURL,
		Status:      o.Status,
	}, nil
}

// CaptureTransaction implements payment.Capturer. A capture that does not
// reach COMPLETED is returned as is; the caller decides.
func (a *Adapter) CaptureTransaction(ctx context.Context, orderID string) (*payment.Capture, error) {
	resp, err := a.call(ctx, http.MethodPost, "/v2/checkout/orders/"+url.PathEscape(orderID)+"/capture", []byte("{}"), "")
	if err != nil {
		return nil, err
	}
	if !resp.OK(http.StatusCreated, http.StatusOK) {
		if issueOf(resp.Body) == issueAlreadyCaptured {
			return nil, a.client.Fail(resp.Status, "order already captured", payment.ErrAlreadyCaptured)
		}
		return nil, a.client.Fail(resp.Status, "capture failed", apiError(resp.Body))
	}

	o, err := decodeOrder(resp.Body)
	if err != nil {
		return nil, a.client.Fail(resp.Status, "unreadable capture", err)
	}
	c := &payment.Capture{
		Provider:          payment.ProviderPayPal,
		TransactionID:     o.ID,
		PaymentID:         o.CaptureID,
		Status:            o.Status,
		ExternalReference: o.CustomID,
	}
	if c.TransactionID == "" {
		c.TransactionID = orderID
	}
	if c.PaymentID == "" {
		c.PaymentID = c.TransactionID
	}
	return c, nil
}

// TransactionDetails implements payment.DetailsFetcher for an order id.
func (a *Adapter) TransactionDetails(ctx context.Context, orderID string, _ payment.DetailsQuery) (*payment.Details, error) {
	resp, err := a.call(ctx, http.MethodGet, "/v2/checkout/orders/"+url.PathEscape(orderID), nil, "")
	if err != nil {
		return nil, err
	}
	if !resp.OK(http.StatusOK) {
		return nil, a.client.Fail(resp.Status, "order lookup failed", apiError(resp.Body))
	}

	o, err := decodeOrder(resp.Body)
	if err != nil {
		return nil, a.client.Fail(resp.Status, "unreadable order", err)
	}
	d := &payment.Details{
		Provider:          payment.ProviderPayPal,
		TransactionID:     o.ID,
		Status:            o.Status,
		StatusDetail:      o.CaptureStatus,
		ExternalReference: o.CustomID,
		PaymentID:         o.CaptureID,
		Amount:            o.Amount,
		Currency:          o.Currency,
		PayerEmail:        o.PayerEmail,
	}
	if o.CustomID != "" {
		d.Metadata = map[string]string{"custom_id": o.CustomID}
	}
	return d, nil
}
