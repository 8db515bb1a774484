package mercadopago

import (
	"context"
	"net/http"
	"net/url"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/oneway-checkout/internal/domain/payment"
	"github.com/xenking/oneway-checkout/internal/provider"
	"github.com/xenking/oneway-checkout/pkg/jsonx"
)

// Preference is a created checkout preference.
type Preference struct {
	ID                string
	ExternalReference string
	InitPoint         string
	SandboxInitPoint  string
	Metadata          map[string]string
}

// Preference reads a previously created preference.
func (a *Adapter) Preference(ctx context.Context, id string) (*Preference, error) {
	resp, err := a.client.Do(ctx, provider.Request{
		Method: http.MethodGet,
		Path:   "/checkout/preferences/" + url.PathEscape(id),
		Header: a.header(),
	})
	if err != nil {
		return nil, err
	}
	if !resp.OK(http.StatusOK) {
		return nil, a.client.Fail(resp.Status, "payment preference lookup failed", apiError(resp.Body))
	}
	p, err := decodePreference(resp.Body)
	if err != nil {
		return nil, a.client.Fail(resp.Status, "unreadable payment preference", err)
	}
	return p, nil
}

// TransactionDetails implements payment.DetailsFetcher for a payment id.
// Metadata comes from the preference named by q, else by the payment, and
// falls back to the payment's own metadata.
func (a *Adapter) TransactionDetails(ctx context.Context, paymentID string, q payment.DetailsQuery) (*payment.Details, error) {
	resp, err := a.client.Do(ctx, provider.Request{
		Method: http.MethodGet,
		Path:   "/v1/payments/" + url.PathEscape(paymentID),
		Header: a.header(),
	})
	if err != nil {
		return nil, err
	}
	if !resp.OK(http.StatusOK) {
		return nil, a.client.Fail(resp.Status, "payment lookup failed", apiError(resp.Body))
	}
	p, err := decodePayment(resp.Body)
	if err != nil {
		return nil, a.client.Fail(resp.Status, "unreadable payment", err)
	}

	d := &payment.Details{
		Provider:          payment.ProviderMercadoPago,
		TransactionID:     paymentID,
		Status:            p.Status,
		StatusDetail:      p.StatusDetail,
		ExternalReference: p.ExternalReference,
		PaymentID:         p.ID,
		PreferenceID:      q.PreferenceID,
		Amount:            p.Amount,
		Currency:          p.Currency,
		PayerEmail:        p.PayerEmail,
		Metadata:          p.Metadata,
	}
	if d.PreferenceID == "" {
		d.PreferenceID = p.PreferenceID
	}
	if d.PreferenceID == "" {
		return d, nil
	}

	pref, err := a.Preference(ctx, d.PreferenceID)
	if err != nil {
		zctx.From(ctx).Warn("Preference lookup failed, using payment metadata",
			zap.String("preference_id", d.PreferenceID),
			zap.String("payment_id", paymentID),
			zap.Error(err),
		)
		return d, nil
	}
	if len(pref.Metadata) > 0 {
		d.Metadata = pref.Metadata
	}
	if d.ExternalReference == "" {
		d.ExternalReference = pref.ExternalReference
	}
	return d, nil
}

func decodePreference(body []byte) (*Preference, error) {
	var p Preference
	err := jx.DecodeBytes(body).Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			p.ID, err = jsonx.Text(d)
		case "external_reference":
			p.ExternalReference, err = jsonx.Text(d)
		case "init_point":
			p.InitPoint, err = jsonx.Text(d)
		case "sandbox_init_point":
			p.SandboxInitPoint, err = jsonx.Text(d)
		case "metadata":
			p.Metadata, err = jsonx.Metadata(d)
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode preference")
	}
	return &p, nil
}

type paymentBody struct {
	ID                string
	Status            string
	StatusDetail      string
	ExternalReference string
	PreferenceID      string
	Currency          string
	PayerEmail        string
	Amount            decimal.NullDecimal
	Metadata          map[string]string
}

func decodePayment(body []byte) (*paymentBody, error) {
	var p paymentBody
	err := jx.DecodeBytes(body).Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			p.ID, err = jsonx.Text(d)
		case "status":
			p.Status, err = jsonx.Text(d)
		case "status_detail":
			p.StatusDetail, err = jsonx.Text(d)
		case "external_reference":
			p.ExternalReference, err = jsonx.Text(d)
		case "currency_id":
			p.Currency, err = jsonx.Text(d)
		case "transaction_amount":
			p.Amount, err = jsonx.Decimal(d)
		case "metadata":
			p.Metadata, err = jsonx.Metadata(d)
		case "payer":
			err = jsonx.Object(d, func(d *jx.Decoder, key string) error {
				if key != "email" {
					return d.Skip()
				}
				var err error
				p.PayerEmail, err = jsonx.Text(d)
				return err
			})
		case "preference_id":
			p.PreferenceID, err = jsonx.Text(d)
		case "additional_info":
			err = jsonx.Object(d, func(d *jx.Decoder, key string) error {
				if key != "preference_id" || p.PreferenceID != "" {
					return d.Skip()
				}
				var err error
				p.PreferenceID, err = jsonx.Text(d)
				return err
			})
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode payment")
	}
	return &p, nil
}
