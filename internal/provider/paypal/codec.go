package paypal

import (
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/oneway-checkout/pkg/jsonx"
)

type orderBody struct {
	ID            string
	Status        string
	ApproveURL    string
	CustomID      string
	CaptureID     string
	CaptureStatus string
	Currency      string
	PayerEmail    string
	Amount        decimal.NullDecimal
}

// decodeOrder reads an order or capture representation. Only the first
// purchase unit and its first capture are considered.
func decodeOrder(body []byte) (*orderBody, error) {
	var o orderBody
	err := jx.DecodeBytes(body).Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			o.ID, err = jsonx.Text(d)
		case "status":
			o.Status, err = jsonx.Text(d)
		case "links":
			err = decodeLinks(d, &o)
		case "payer":
			err = jsonx.Object(d, func(d *jx.Decoder, key string) error {
				if key != "email_address" {
					return d.Skip()
				}
				var err error
				o.PayerEmail, err = jsonx.Text(d)
				return err
			})
		case "purchase_units":
			err = jsonx.First(d, func(d *jx.Decoder) error {
				return decodePurchaseUnit(d, &o)
			})
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode order")
	}
	return &o, nil
}

func decodeLinks(d *jx.Decoder, o *orderBody) error {
	if d.Next() != jx.Array {
		return d.Skip()
	}
	return d.Arr(func(d *jx.Decoder) error {
		var rel, href string
		err := jsonx.Object(d, func(d *jx.Decoder, key string) error {
			var err error
			switch key {
			case "rel":
				rel, err = jsonx.Text(d)
			case "href":
				href, err = jsonx.Text(d)
			default:
				err = d.Skip()
			}
			return err
		})
		if rel == "approve" || rel == "payer-action" && o.ApproveURL == "" {
			o.ApproveURL = href
		}
		return err
	})
}

func decodePurchaseUnit(d *jx.Decoder, o *orderBody) error {
	return jsonx.Object(d, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "custom_id":
			o.CustomID, err = jsonx.Text(d)
		case "amount":
			err = decodeAmount(d, o)
		case "payments":
			err = jsonx.Object(d, func(d *jx.Decoder, key string) error {
				if key != "captures" {
					return d.Skip()
				}
				return jsonx.First(d, func(d *jx.Decoder) error {
					return decodeCapture(d, o)
				})
			})
		default:
			err = d.Skip()
		}
		return err
	})
}

func decodeAmount(d *jx.Decoder, o *orderBody) error {
	return jsonx.Object(d, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "currency_code":
			var c string
			c, err = jsonx.Text(d)
			if o.Currency == "" {
				o.Currency = c
			}
		case "value":
			var v decimal.NullDecimal
			v, err = jsonx.Decimal(d)
			if !o.Amount.Valid {
				o.Amount = v
			}
		default:
			err = d.Skip()
		}
		return err
	})
}

func decodeCapture(d *jx.Decoder, o *orderBody) error {
	return jsonx.Object(d, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			o.CaptureID, err = jsonx.Text(d)
		case "status":
			o.CaptureStatus, err = jsonx.Text(d)
		case "custom_id":
			var c string
			c, err = jsonx.Text(d)
			if o.CustomID == "" {
				o.CustomID = c
			}
		case "amount":
			err = decodeAmount(d, o)
		default:
			err = d.Skip()
		}
		return err
	})
}

// issueOf returns details[0].issue of an error body.
func issueOf(body []byte) string {
	var issue string
	_ = jx.DecodeBytes(body).Obj(func(d *jx.Decoder, key string) error {
		if key != "details" {
			return d.Skip()
		}
		return jsonx.First(d, func(d *jx.Decoder) error {
			return jsonx.Object(d, func(d *jx.Decoder, key string) error {
				if key != "issue" {
					return d.Skip()
				}
				var err error
				issue, err = jsonx.Text(d)
				return err
			})
		})
	})
	return issue
}

// apiError builds an error from the name and message of an error body.
func apiError(body []byte) error {
	var name, msg string
	_ = jx.DecodeBytes(body).Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "name", "error":
			name, err = jsonx.Text(d)
		case "message", "error_description":
			msg, err = jsonx.Text(d)
		default:
			err = d.Skip()
		}
		return err
	})
	switch {
	case name == "" && msg == "":
		return nil
	case issueOf(body) != "":
		return errors.Errorf("%s: %s (%s)", name, msg, issueOf(body))
	default:
		return errors.Errorf("%s: %s", name, msg)
	}
}
