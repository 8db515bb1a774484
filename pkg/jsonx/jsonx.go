// Package jsonx holds lenient go-faster/jx helpers for third-party payloads
// that mix strings, numbers and nulls for the same field.
package jsonx

import (
	"strconv"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
)

// Text reads a string, number, bool or null as text. Other values are
// skipped.
func Text(d *jx.Decoder) (string, error) {
	switch d.Next() {
	case jx.String:
		return d.Str()
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return "", err
		}
		return n.String(), nil
	case jx.Bool:
		v, err := d.Bool()
		return strconv.FormatBool(v), err
	case jx.Null:
		return "", d.Null()
	default:
		return "", d.Skip()
	}
}

// Decimal reads a number or numeric string.
func Decimal(d *jx.Decoder) (decimal.NullDecimal, error) {
	s, err := Text(d)
	if err != nil || s == "" {
		return decimal.NullDecimal{}, err
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(v), nil
}

// Int reads an integer given as a number or numeric string. Fractions are
// truncated.
func Int(d *jx.Decoder) (int, error) {
	s, err := Text(d)
	if err != nil || s == "" {
		return 0, err
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "parse %q", s)
	}
	return int(n), nil
}

// Bool reads a boolean. Other values are skipped and read as false.
func Bool(d *jx.Decoder) (bool, error) {
	if d.Next() != jx.Bool {
		return false, d.Skip()
	}
	return d.Bool()
}

// Metadata reads a flat object into a string map. Nested values and empty
// strings are dropped.
func Metadata(d *jx.Decoder) (map[string]string, error) {
	if d.Next() != jx.Object {
		return nil, d.Skip()
	}
	out := make(map[string]string)
	err := d.Obj(func(d *jx.Decoder, key string) error {
		v, err := Text(d)
		if v != "" {
			out[key] = v
		}
		return err
	})
	return out, err
}

// Object decodes an object, or skips any other value.
func Object(d *jx.Decoder, f func(d *jx.Decoder, key string) error) error {
	if d.Next() != jx.Object {
		return d.Skip()
	}
	return d.Obj(f)
}

// First decodes the first element of an array with f and skips the rest.
func First(d *jx.Decoder, f func(d *jx.Decoder) error) error {
	if d.Next() != jx.Array {
		return d.Skip()
	}
	first := true
	return d.Arr(func(d *jx.Decoder) error {
		if !first {
			return d.Skip()
		}
		first = false
		return f(d)
	})
}

// Number writes a decimal as a JSON number.
func Number(e *jx.Encoder, v decimal.Decimal) {
	e.Num(jx.Num(v.String()))
}
