// Package stripe is the card processor adapter. It creates hosted checkout
// sessions at full catalog price.
package stripe

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/oneway-checkout/internal/domain/payment"
	"github.com/xenking/oneway-checkout/internal/provider"
	"github.com/xenking/oneway-checkout/pkg/jsonx"
)

// DefaultBaseURL is the Stripe API endpoint.
const DefaultBaseURL = "https://api.stripe.com"

var (
	_ payment.Adapter        = (*Adapter)(nil)
	_ payment.DetailsFetcher = (*Adapter)(nil)
)

// Config configures the adapter.
type Config struct {
	SecretKey  string
	BaseURL    string
	SuccessURL string
	CancelURL  string
	Timeout    time.Duration
	Transport  http.RoundTripper
}

// Adapter implements payment.Adapter over Checkout Sessions.
type Adapter struct {
	client     *provider.Client
	secretKey  string
	successURL string
	cancelURL  string
}

// New creates an Adapter.
func New(cfg Config) (*Adapter, error) {
	if cfg.SecretKey == "" {
		return nil, errors.Wrap(payment.ErrProviderNotConfigured, "stripe secret key")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	return &Adapter{
		client: provider.NewClient(payment.ProviderStripe, provider.Config{
			BaseURL:   cfg.BaseURL,
			Timeout:   cfg.Timeout,
			Transport: cfg.Transport,
		}),
		secretKey:  cfg.SecretKey,
		successURL: cfg.SuccessURL,
		cancelURL:  cfg.CancelURL,
	}, nil
}

// Provider implements payment.Adapter.
func (a *Adapter) Provider() payment.Provider {
	return payment.ProviderStripe
}

func (a *Adapter) header() http.Header {
	h := make(http.Header)
	h.Set("Authorization", "Bearer "+a.secretKey)
	return h
}

// cents converts an amount to the smallest currency unit.
func cents(v decimal.Decimal) string {
	return strconv.FormatInt(v.Shift(2).Round(0).IntPart(), 10)
}

func sessionForm(in payment.Intent, successURL, cancelURL string) url.Values {
	f := url.Values{}
	f.Set("mode", "payment")
	f.Set("payment_method_types[0]", "card")
	f.Set("success_url", provider.AppendQuery(successURL, "external_reference", in.ExternalReference))
	f.Set("cancel_url", cancelURL)
	f.Set("client_reference_id", in.ExternalReference)
	if in.Buyer.Email != "" {
		f.Set("customer_email", in.Buyer.Email)
	}
	f.Set("metadata[external_reference]", in.ExternalReference)
	f.Set("metadata[order_id]", in.OrderID)
	f.Set("metadata[payment_method]", string(in.Method))

	currency := strings.ToLower(in.Currency)
	for i, l := range in.Lines {
		p := fmt.Sprintf("line_items[%d]", i)
		f.Set(p+"[quantity]", strconv.Itoa(l.Quantity))
		f.Set(p+"[price_data][currency]", currency)
		f.Set(p+"[price_data][unit_amount]", cents(l.ListPrice))
		f.Set(p+"[price_data][product_data][name]", fmt.Sprintf("%s - %s", l.Title, l.Size))
		f.Set(p+"[price_data][product_data][metadata][product_key]", l.ProductKey)
		f.Set(p+"[price_data][product_data][metadata][size]", l.Size)
	}
	return f
}

// CreateTransaction implements payment.Adapter.
func (a *Adapter) CreateTransaction(ctx context.Context, in payment.Intent) (*payment.Transaction, error) {
	h := a.header()
	h.Set("Idempotency-Key", in.ExternalReference)

	resp, err := a.client.Do(ctx, provider.Request{
		Method:      http.MethodPost,
		Path:        "/v1/checkout/sessions",
		Header:      h,
		Body:        []byte(sessionForm(in, a.successURL, a.cancelURL).Encode()),
		ContentType: "application/x-www-form-urlencoded",
	})
	if err != nil {
		return nil, err
	}
	if !resp.OK(http.StatusOK) {
		return nil, a.client.Fail(resp.Status, "checkout session rejected", apiError(resp.Body))
	}

	s, err := decodeSession(resp.Body)
	if err != nil {
		return nil, a.client.Fail(resp.Status, "unreadable checkout session", err)
	}
	if s.ID == "" || s.URL == "" {
		return nil, a.client.Fail(resp.Status, "checkout session has no url", nil)
	}
	return &payment.Transaction{
		Provider:    payment.ProviderStripe,
		ID:          s.ID,
		RedirectURL: s.URL,
		Status:      s.Status,
	}, nil
}

// TransactionDetails implements payment.DetailsFetcher for a checkout
// session id.
func (a *Adapter) TransactionDetails(ctx context.Context, id string, _ payment.DetailsQuery) (*payment.Details, error) {
	resp, err := a.client.Do(ctx, provider.Request{
		Method: http.MethodGet,
		Path:   "/v1/checkout/sessions/" + url.PathEscape(id),
		Header: a.header(),
	})
	if err != nil {
		return nil, err
	}
	if !resp.OK(http.StatusOK) {
		return nil, a.client.Fail(resp.Status, "checkout session lookup failed", apiError(resp.Body))
	}

	s, err := decodeSession(resp.Body)
	if err != nil {
		return nil, a.client.Fail(resp.Status, "unreadable checkout session", err)
	}
	d := &payment.Details{
		Provider:          payment.ProviderStripe,
		TransactionID:     s.ID,
		Status:            s.PaymentStatus,
		StatusDetail:      s.Status,
		ExternalReference: s.ClientReferenceID,
		PaymentID:         s.PaymentIntent,
		Currency:          strings.ToUpper(s.Currency),
		PayerEmail:        s.Email,
		Metadata:          s.Metadata,
	}
	if s.AmountTotal.Valid {
		d.Amount = decimal.NewNullDecimal(s.AmountTotal.Decimal.Shift(-2))
	}
	return d, nil
}

type session struct {
	ID                string
	URL               string
	Status            string
	PaymentStatus     string
	PaymentIntent     string
	ClientReferenceID string
	Currency          string
	Email             string
	AmountTotal       decimal.NullDecimal
	Metadata          map[string]string
}

func decodeSession(body []byte) (*session, error) {
	var s session
	err := jx.DecodeBytes(body).Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			s.ID, err = jsonx.Text(d)
		case "url":
			s.URL, err = jsonx.Text(d)
		case "status":
			s.Status, err = jsonx.Text(d)
		case "payment_status":
			s.PaymentStatus, err = jsonx.Text(d)
		case "payment_intent":
			s.PaymentIntent, err = jsonx.Text(d)
		case "client_reference_id":
			s.ClientReferenceID, err = jsonx.Text(d)
		case "currency":
			s.Currency, err = jsonx.Text(d)
		case "customer_email":
			var email string
			email, err = jsonx.Text(d)
			if s.Email == "" {
				s.Email = email
			}
		case "customer_details":
			err = jsonx.Object(d, func(d *jx.Decoder, key string) error {
				if key != "email" {
					return d.Skip()
				}
				email, err := jsonx.Text(d)
				if email != "" {
					s.Email = email
				}
				return err
			})
		case "amount_total":
			s.AmountTotal, err = jsonx.Decimal(d)
		case "metadata":
			s.Metadata, err = jsonx.Metadata(d)
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode session")
	}
	return &s, nil
}

// apiError extracts error.message from a Stripe error body.
func apiError(body []byte) error {
	var msg string
	_ = jx.DecodeBytes(body).Obj(func(d *jx.Decoder, key string) error {
		if key != "error" {
			return d.Skip()
		}
		return jsonx.Object(d, func(d *jx.Decoder, key string) error {
			if key != "message" {
				return d.Skip()
			}
			var err error
			msg, err = jsonx.Text(d)
			return err
		})
	})
	if msg == "" {
		return nil
	}
	return errors.New(msg)
}
