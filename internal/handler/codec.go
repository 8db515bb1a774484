package handler

import (
	"maps"
	"slices"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/oneway-checkout/internal/domain/checkout"
	"github.com/xenking/oneway-checkout/internal/domain/order"
	"github.com/xenking/oneway-checkout/internal/domain/payment"
	"github.com/xenking/oneway-checkout/internal/domain/pricing"
	"github.com/xenking/oneway-checkout/pkg/jsonx"
)

// decodeCheckout reads
//
//	{"buyer": {"name", "email", "phone"}, "paymentMethod": "pix",
//	 "items": [{"productId", "size", "quantity", "price", "stockId"}]}
//
// The storefront's flat fields (nome, email, telefone) fill missing buyer
// data. For the single-item endpoint the item may be given at top level,
// with quantity defaulting to 1.
func decodeCheckout(d *jx.Decoder, single bool) (checkout.Request, error) {
	var (
		req    checkout.Request
		flat   order.Buyer
		item   pricing.Item
		inline bool
	)
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "buyer":
			err = jsonx.Object(d, func(d *jx.Decoder, key string) error {
				return decodeBuyerField(d, key, &req.Buyer)
			})
		case "nome", "name", "email", "telefone", "phone":
			err = decodeBuyerField(d, key, &flat)
		case "paymentMethod", "payment_method":
			req.Method, err = jsonx.Text(d)
		case "items":
			if d.Next() != jx.Array {
				return errors.New("items must be an array")
			}
			err = d.Arr(func(d *jx.Decoder) error {
				var it pricing.Item
				if err := jsonx.Object(d, func(d *jx.Decoder, key string) error {
					_, err := decodeItemField(d, key, &it)
					return err
				}); err != nil {
					return err
				}
				req.Items = append(req.Items, it)
				return nil
			})
		default:
			var known bool
			if known, err = decodeItemField(d, key, &item); known {
				inline = true
			}
		}
		return errors.Wrap(err, key)
	})
	if err != nil {
		return req, err
	}

	req.Buyer = mergeBuyer(req.Buyer, flat)
	req.Single = single
	if single && inline && len(req.Items) == 0 {
		if item.Quantity == 0 {
			item.Quantity = 1
		}
		req.Items = []pricing.Item{item}
	}
	return req, nil
}

func decodeBuyerField(d *jx.Decoder, key string, b *order.Buyer) error {
	var err error
	switch key {
	case "name", "nome":
		b.Name, err = jsonx.Text(d)
	case "email":
		b.Email, err = jsonx.Text(d)
	case "phone", "telefone":
		b.Phone, err = jsonx.Text(d)
	default:
		err = d.Skip()
	}
	return err
}

func mergeBuyer(b, flat order.Buyer) order.Buyer {
	if b.Name == "" {
		b.Name = flat.Name
	}
	if b.Email == "" {
		b.Email = flat.Email
	}
	if b.Phone == "" {
		b.Phone = flat.Phone
	}
	return b
}

// decodeItemField decodes key into it and reports whether key is an item
// field. Unknown fields are skipped.
func decodeItemField(d *jx.Decoder, key string, it *pricing.Item) (bool, error) {
	var err error
	switch key {
	case "productId", "productKey", "product_id":
		it.ProductRef, err = jsonx.Text(d)
	case "size", "tamanho":
		it.Size, err = jsonx.Text(d)
	case "quantity", "quantidade":
		it.Quantity, err = jsonx.Int(d)
	case "price", "preco":
		it.ClientPrice, err = jsonx.Decimal(d)
	case "stockId", "stock_id", "product_size_id":
		it.StockID, err = jsonx.Text(d)
	default:
		return false, d.Skip()
	}
	return true, err
}

// decodeCapture reads {"providerOrderId", "externalReference", "orderId"}.
// orderID, external_reference and pedido_id are the storefront's names for
// the same fields.
func decodeCapture(d *jx.Decoder) (checkout.CaptureRequest, error) {
	var req checkout.CaptureRequest
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "providerOrderId", "transactionId", "orderID":
			req.TransactionID, err = jsonx.Text(d)
		case "externalReference", "external_reference":
			req.ExternalReference, err = jsonx.Text(d)
		case "orderId", "pedido_id":
			req.OrderID, err = jsonx.Text(d)
		default:
			err = d.Skip()
		}
		return errors.Wrap(err, key)
	})
	return req, err
}

func field(e *jx.Encoder, name, v string) {
	e.Field(name, func(e *jx.Encoder) { e.Str(v) })
}

func optField(e *jx.Encoder, name, v string) {
	if v != "" {
		field(e, name, v)
	}
}

func money(e *jx.Encoder, name string, v decimal.Decimal) {
	e.Field(name, func(e *jx.Encoder) { e.Num(jx.Num(v.StringFixed(2))) })
}

func encodeCheckoutResult(e *jx.Encoder, r *checkout.Result) {
	e.Obj(func(e *jx.Encoder) {
		field(e, "orderId", r.OrderID)
		field(e, "externalReference", r.ExternalReference)
		field(e, "paymentMethod", string(r.Method))
		optField(e, "provider", string(r.Provider))
		optField(e, "paymentUrl", r.RedirectURL)
		optField(e, "redirectUrl", r.RedirectURL)
		optField(e, "providerTransactionId", r.TransactionID)
		field(e, "status", string(r.Status))
		money(e, "total", r.Total)
		money(e, "amount", r.Amount)
	})
}

func encodeCaptureResult(e *jx.Encoder, r *checkout.CaptureResult) {
	e.Obj(func(e *jx.Encoder) {
		field(e, "provider", string(r.Provider))
		field(e, "status", r.Status)
		field(e, "providerOrderId", r.TransactionID)
		optField(e, "paymentId", r.PaymentID)
		optField(e, "orderId", r.OrderID)
		e.Field("replayed", func(e *jx.Encoder) { e.Bool(r.Replayed) })
	})
}

func encodeDetails(e *jx.Encoder, d *payment.Details) {
	e.Obj(func(e *jx.Encoder) {
		field(e, "provider", string(d.Provider))
		field(e, "transactionId", d.TransactionID)
		field(e, "status", d.Status)
		optField(e, "statusDetail", d.StatusDetail)
		optField(e, "externalReference", d.ExternalReference)
		optField(e, "paymentId", d.PaymentID)
		optField(e, "preferenceId", d.PreferenceID)
		if d.Amount.Valid {
			money(e, "amount", d.Amount.Decimal)
		}
		optField(e, "currency", d.Currency)
		optField(e, "payerEmail", d.PayerEmail)
		if len(d.Metadata) > 0 {
			e.Field("metadata", func(e *jx.Encoder) {
				e.Obj(func(e *jx.Encoder) {
					for _, k := range slices.Sorted(maps.Keys(d.Metadata)) {
						field(e, k, d.Metadata[k])
					}
				})
			})
		}
	})
}

func encodeRecord(e *jx.Encoder, r *order.Record) {
	e.Obj(func(e *jx.Encoder) {
		field(e, "id", r.ID)
		field(e, "externalReference", r.ExternalReference)
		field(e, "status", string(r.Status))
		optField(e, "paymentId", r.PaymentID)
		optField(e, "preferenceId", r.PreferenceID)
		optField(e, "paymentMethod", r.Method)
		optField(e, "productKey", r.ProductKey)
		optField(e, "size", r.Size)
		money(e, "price", r.Price)
		e.Field("buyer", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				field(e, "name", r.Buyer.Name)
				field(e, "email", r.Buyer.Email)
				field(e, "phone", r.Buyer.Phone)
			})
		})
		if !r.CreatedAt.IsZero() {
			field(e, "createdAt", r.CreatedAt.UTC().Format(time.RFC3339))
		}
	})
}

func encodeProviderStatus(e *jx.Encoder, st checkout.ProviderStatus, cfg Config, now time.Time) {
	configured := make(map[payment.Provider]bool, len(st.Configured))
	for _, p := range st.Configured {
		configured[p] = true
	}
	e.Obj(func(e *jx.Encoder) {
		e.Field("config", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				field(e, "card", string(st.Selection.Card))
				field(e, "pix", string(st.Selection.Pix))
			})
		})
		e.Field("status", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				for _, p := range payment.Providers {
					e.Field(string(p)+"_configured", func(e *jx.Encoder) { e.Bool(configured[p]) })
				}
				e.Field("backend_configured", func(e *jx.Encoder) { e.Bool(cfg.BackendConfigured) })
			})
		})
		field(e, "timestamp", now.UTC().Format(time.RFC3339))
		optField(e, "version", cfg.Version)
	})
}
