package backend

import (
	"context"
	"net/http"
	"net/url"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/oneway-checkout/internal/domain/order"
	"github.com/xenking/oneway-checkout/pkg/jsonx"
)

// methodCode maps checkout methods to backend payment method choices.
func methodCode(m string) string {
	if m == "card" {
		return "credit_card"
	}
	return m
}

// Create implements order.Client.
func (c *Client) Create(ctx context.Context, o order.NewOrder) (string, error) {
	const op = "create order"

	var e jx.Encoder
	e.ObjStart()
	writeStr(&e, "nome", o.Buyer.Name)
	writeStr(&e, "email", o.Buyer.Email)
	writeStr(&e, "telefone", o.Buyer.Phone)
	writeStr(&e, "produto", o.ProductKey)
	writeStr(&e, "tamanho", o.Size)
	writeStr(&e, "preco", o.Price.StringFixed(2))
	writeStr(&e, "forma_pagamento", methodCode(o.Method))
	writeStr(&e, "status_pagamento", string(o.Status))
	writeStr(&e, "external_reference", o.ExternalReference)
	writeOptStr(&e, "observacoes", o.Notes)
	e.ObjEnd()

	resp, err := c.do(ctx, op, http.MethodPost, "/pedidos/", e.Bytes())
	if err != nil {
		return "", err
	}
	if resp.status != http.StatusCreated && resp.status != http.StatusOK {
		return "", statusError(op, resp)
	}

	rec, err := decodeRecord(resp.body)
	if err != nil {
		return "", &order.BackendError{Op: op, Status: resp.status, Err: err}
	}
	if rec.ID == "" {
		return "", &order.BackendError{Op: op, Status: resp.status, Err: errors.New("response has no order id")}
	}
	return rec.ID, nil
}

// AddLineItem implements order.Client.
func (c *Client) AddLineItem(ctx context.Context, item order.LineItem) error {
	const op = "add line item"

	var e jx.Encoder
	e.ObjStart()
	writeID(&e, "pedido", item.OrderID)
	writeStr(&e, "produto", item.ProductKey)
	writeStr(&e, "tamanho", item.Size)
	e.FieldStart("quantidade")
	e.Int(item.Quantity)
	writeStr(&e, "preco_unitario", item.UnitPrice.StringFixed(2))
	e.ObjEnd()

	resp, err := c.do(ctx, op, http.MethodPost, "/itens-pedido/", e.Bytes())
	if err != nil {
		return err
	}
	if resp.status != http.StatusCreated && resp.status != http.StatusOK {
		return statusError(op, resp)
	}
	return nil
}

// UpdateStatus implements order.Client.
func (c *Client) UpdateStatus(ctx context.Context, orderID string, u order.StatusUpdate) error {
	const op = "update order status"

	var e jx.Encoder
	e.ObjStart()
	writeOptStr(&e, "status_pagamento", string(u.Status))
	writeOptStr(&e, "payment_id", u.PaymentID)
	writeOptStr(&e, "preference_id", u.PreferenceID)
	writeOptStr(&e, "merchant_order_id", u.MerchantOrderID)
	writeOptStr(&e, "observacoes", u.Notes)
	e.ObjEnd()

	resp, err := c.do(ctx, op, http.MethodPost, "/pedidos/"+url.PathEscape(orderID)+"/atualizar_status/", e.Bytes())
	if err != nil {
		return err
	}
	if resp.status != http.StatusOK {
		return statusError(op, resp)
	}
	return nil
}

// Get implements order.Client.
func (c *Client) Get(ctx context.Context, orderID string) (*order.Record, error) {
	return c.getRecord(ctx, "get order", "/pedidos/"+url.PathEscape(orderID)+"/")
}

// FindByExternalReference implements order.Client.
func (c *Client) FindByExternalReference(ctx context.Context, ref string) (*order.Record, error) {
	return c.getRecord(ctx, "find order", "/pedidos/referencia/"+url.PathEscape(ref)+"/")
}

func (c *Client) getRecord(ctx context.Context, op, path string) (*order.Record, error) {
	resp, err := c.do(ctx, op, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	if resp.status != http.StatusOK {
		return nil, statusError(op, resp)
	}
	rec, err := decodeRecord(resp.body)
	if err != nil {
		return nil, &order.BackendError{Op: op, Status: resp.status, Err: err}
	}
	return rec, nil
}

func decodeRecord(body []byte) (*order.Record, error) {
	var rec order.Record
	err := jx.DecodeBytes(body).Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			rec.ID, err = jsonx.Text(d)
		case "external_reference":
			rec.ExternalReference, err = jsonx.Text(d)
		case "status_pagamento":
			var s string
			s, err = jsonx.Text(d)
			rec.Status = order.Status(s)
		case "payment_id":
			rec.PaymentID, err = jsonx.Text(d)
		case "preference_id":
			rec.PreferenceID, err = jsonx.Text(d)
		case "forma_pagamento":
			rec.Method, err = jsonx.Text(d)
		case "produto":
			rec.ProductKey, err = jsonx.Text(d)
		case "tamanho":
			rec.Size, err = jsonx.Text(d)
		case "preco":
			rec.Price, err = decodeDecimal(d)
		case "data_pedido":
			rec.CreatedAt, err = decodeTime(d)
		case "comprador":
			err = decodeBuyer(d, &rec.Buyer)
		default:
			err = d.Skip()
		}
		if err != nil {
			return errors.Wrap(err, key)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode order")
	}
	return &rec, nil
}

func decodeBuyer(d *jx.Decoder, b *order.Buyer) error {
	if d.Next() != jx.Object {
		return d.Skip()
	}
	return d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "nome":
			b.Name, err = jsonx.Text(d)
		case "email":
			b.Email, err = jsonx.Text(d)
		case "telefone":
			b.Phone, err = jsonx.Text(d)
		default:
			err = d.Skip()
		}
		return err
	})
}
