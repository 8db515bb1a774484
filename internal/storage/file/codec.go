package file

import (
	"io"
	"sort"
	"strconv"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/oneway-checkout/internal/domain/catalog"
)

// Decode reads a products document:
//
//	{"products": {"camiseta-marrom": {"id": "1", "title": "...", "price": 120.0,
//	  "image": "./img/...", "sizes": {"P": {"product_size_id": 11,
//	  "available": true, "qtda_estoque": 3}}}}}
//
// Products are returned ordered by key.
func Decode(r io.Reader) ([]catalog.Product, error) {
	var products []catalog.Product
	d := jx.Decode(r, 32*1024)
	err := d.Obj(func(d *jx.Decoder, key string) error {
		if key != "products" {
			return d.Skip()
		}
		return d.Obj(func(d *jx.Decoder, key string) error {
			p, err := decodeProduct(d)
			if err != nil {
				return errors.Wrapf(err, "product %q", key)
			}
			p.Key = key
			products = append(products, p)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(products, func(i, j int) bool { return products[i].Key < products[j].Key })
	return products, nil
}

func decodeProduct(d *jx.Decoder) (catalog.Product, error) {
	p := catalog.Product{Sizes: map[string]catalog.Size{}}
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			p.ID, err = text(d)
		case "title":
			p.Title, err = text(d)
		case "image":
			p.Image, err = text(d)
		case "price":
			var s string
			if s, err = text(d); err == nil {
				p.Price, err = decimal.NewFromString(s)
			}
		case "sizes":
			err = d.Obj(func(d *jx.Decoder, name string) error {
				s, err := decodeSize(d)
				if err != nil {
					return errors.Wrapf(err, "size %q", name)
				}
				s.Name = name
				p.Sizes[name] = s
				return nil
			})
		default:
			err = d.Skip()
		}
		return err
	})
	return p, err
}

func decodeSize(d *jx.Decoder) (catalog.Size, error) {
	var s catalog.Size
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "product_size_id":
			s.StockID, err = text(d)
		case "available":
			if d.Next() != jx.Bool {
				return d.Skip()
			}
			s.Available, err = d.Bool()
		case "qtda_estoque":
			var v string
			if v, err = text(d); err == nil && v != "" {
				s.Stock, err = strconv.Atoi(v)
			}
		default:
			err = d.Skip()
		}
		return err
	})
	return s, err
}

func text(d *jx.Decoder) (string, error) {
	switch d.Next() {
	case jx.String:
		return d.Str()
	case jx.Number:
		n, err := d.Num()
		return n.String(), err
	case jx.Null:
		return "", d.Null()
	default:
		return "", errors.Errorf("unexpected %s", d.Next())
	}
}

// Encode writes products in the format Decode reads.
func Encode(w io.Writer, products []catalog.Product) error {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("products", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				for _, p := range products {
					e.Field(p.Key, func(e *jx.Encoder) { encodeProduct(e, p) })
				}
			})
		})
	})
	_, err := w.Write(e.Bytes())
	return err
}

func encodeProduct(e *jx.Encoder, p catalog.Product) {
	names := make([]string, 0, len(p.Sizes))
	for name := range p.Sizes {
		names = append(names, name)
	}
	sort.Strings(names)

	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(p.ID) })
		e.Field("title", func(e *jx.Encoder) { e.Str(p.Title) })
		e.Field("price", func(e *jx.Encoder) { e.Num(jx.Num(p.Price.StringFixed(2))) })
		e.Field("image", func(e *jx.Encoder) { e.Str(p.Image) })
		e.Field("sizes", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				for _, name := range names {
					s := p.Sizes[name]
					e.Field(name, func(e *jx.Encoder) {
						e.Obj(func(e *jx.Encoder) {
							if n, err := strconv.ParseInt(s.StockID, 10, 64); err == nil {
								e.Field("product_size_id", func(e *jx.Encoder) { e.Int64(n) })
							} else if s.StockID != "" {
								e.Field("product_size_id", func(e *jx.Encoder) { e.Str(s.StockID) })
							}
							e.Field("available", func(e *jx.Encoder) { e.Bool(s.Available) })
							e.Field("qtda_estoque", func(e *jx.Encoder) { e.Int(s.Stock) })
						})
					})
				}
			})
		})
	})
}
