package backend

import (
	"context"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/oneway-checkout/internal/domain/order"
	"github.com/xenking/oneway-checkout/internal/domain/stock"
	"github.com/xenking/oneway-checkout/pkg/jsonx"
)

func encodeStockItems(e *jx.Encoder, items []stock.Item) {
	e.FieldStart("items")
	e.ArrStart()
	for _, it := range items {
		e.ObjStart()
		writeID(e, "product_size_id", it.StockID)
		e.FieldStart("quantidade")
		e.Int(it.Quantity)
		e.ObjEnd()
	}
	e.ArrEnd()
}

// ValidateStock implements stock.Backend.
func (c *Client) ValidateStock(ctx context.Context, items []stock.Item) (*stock.Validation, error) {
	const op = "validate stock"

	var e jx.Encoder
	e.ObjStart()
	encodeStockItems(&e, items)
	e.ObjEnd()

	resp, err := c.do(ctx, op, http.MethodPost, "/estoque-multiplo/", e.Bytes())
	if err != nil {
		return nil, err
	}
	if resp.status != http.StatusOK {
		return nil, &order.BackendError{Op: op, Status: resp.status}
	}

	var v stock.Validation
	err = jx.DecodeBytes(resp.body).Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "pode_processar":
			ok, err := jsonx.Bool(d)
			v.CanProceed = ok
			return err
		case "erros":
			msgs, err := decodeStrings(d)
			v.Errors = msgs
			return err
		case "items":
			return d.Arr(func(d *jx.Decoder) error {
				r, err := decodeItemResult(d)
				v.Items = append(v.Items, r)
				return err
			})
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return nil, &order.BackendError{Op: op, Status: resp.status, Err: errors.Wrap(err, "decode")}
	}
	return &v, nil
}

func decodeItemResult(d *jx.Decoder) (stock.ItemResult, error) {
	var r stock.ItemResult
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "product_size_id":
			r.StockID, err = jsonx.Text(d)
		case "quantidade_solicitada":
			r.Requested, err = jsonx.Int(d)
		case "estoque_disponivel":
			r.Available, err = jsonx.Int(d)
		case "pode_comprar":
			r.CanBuy, err = jsonx.Bool(d)
		case "erro":
			r.Error, err = jsonx.Text(d)
		default:
			err = d.Skip()
		}
		return err
	})
	return r, err
}

// DecrementStock implements stock.Backend. The backend rolls the whole
// batch back on any failure and answers 500 with success false; that answer
// is a rejected decrement, not a transport failure.
func (c *Client) DecrementStock(ctx context.Context, items []stock.Item, orderID string) (*stock.Decrement, error) {
	const op = "decrement stock"

	var e jx.Encoder
	e.ObjStart()
	encodeStockItems(&e, items)
	if orderID != "" {
		writeID(&e, "pedido_id", orderID)
	}
	e.ObjEnd()

	resp, err := c.do(ctx, op, http.MethodPost, "/decrementar-estoque/", e.Bytes())
	if err != nil {
		return nil, err
	}

	res, decodeErr := decodeDecrement(resp.body)
	switch {
	case resp.status == http.StatusOK && decodeErr == nil:
		return &res.Decrement, nil
	case decodeErr == nil && res.explicit && !res.Success:
		// Rolled back by the backend.
		return &res.Decrement, nil
	default:
		return nil, &order.BackendError{Op: op, Status: resp.status, Err: decodeErr}
	}
}

type decrementBody struct {
	stock.Decrement
	// explicit is set when the body carried a success flag.
	explicit bool
}

func decodeDecrement(body []byte) (*decrementBody, error) {
	var res decrementBody
	err := jx.DecodeBytes(body).Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "success":
			res.explicit = true
			res.Success, err = jsonx.Bool(d)
		case "erros":
			var msgs []string
			msgs, err = decodeStrings(d)
			res.Errors = append(res.Errors, msgs...)
		case "error":
			var msg string
			msg, err = jsonx.Text(d)
			if msg != "" {
				res.Errors = append(res.Errors, msg)
			}
		case "items_processados":
			err = d.Arr(func(d *jx.Decoder) error {
				p, err := decodeProcessed(d)
				res.Processed = append(res.Processed, p)
				return err
			})
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode")
	}
	return &res, nil
}

func decodeProcessed(d *jx.Decoder) (stock.Processed, error) {
	var p stock.Processed
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "product_size_id":
			p.StockID, err = jsonx.Text(d)
		case "quantidade_decrementada":
			p.Quantity, err = jsonx.Int(d)
		case "estoque_restante":
			p.Remaining, err = jsonx.Int(d)
		default:
			err = d.Skip()
		}
		return err
	})
	return p, err
}
