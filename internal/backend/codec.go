package backend

import (
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/oneway-checkout/pkg/jsonx"
)

func writeStr(e *jx.Encoder, field, v string) {
	e.FieldStart(field)
	e.Str(v)
}

func writeOptStr(e *jx.Encoder, field, v string) {
	if v != "" {
		writeStr(e, field, v)
	}
}

// writeID writes numeric ids as numbers, which the backend expects for
// primary keys, and anything else as a string.
func writeID(e *jx.Encoder, field, id string) {
	e.FieldStart(field)
	if n, err := strconv.ParseInt(id, 10, 64); err == nil {
		e.Int64(n)
		return
	}
	e.Str(id)
}

func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	s, err := jsonx.Text(d)
	if err != nil || s == "" {
		return decimal.Zero, err
	}
	return decimal.NewFromString(s)
}

func decodeTime(d *jx.Decoder) (time.Time, error) {
	s, err := jsonx.Text(d)
	if err != nil || s == "" {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		// Unknown layouts are not fatal for display fields.
		return time.Time{}, nil
	}
	return t, nil
}

func decodeStrings(d *jx.Decoder) ([]string, error) {
	var out []string
	if d.Next() != jx.Array {
		s, err := jsonx.Text(d)
		if s != "" {
			out = append(out, s)
		}
		return out, err
	}
	err := d.Arr(func(d *jx.Decoder) error {
		s, err := jsonx.Text(d)
		if s != "" {
			out = append(out, s)
		}
		return err
	})
	return out, err
}

// generalKeys hold messages that are not bound to one field.
var generalKeys = map[string]bool{
	"detail":           true,
	"error":            true,
	"erro":             true,
	"non_field_errors": true,
}

// decodeMessages flattens a validation error body such as
// {"email": ["Enter a valid email address."]} into "email: Enter a valid
// email address.".
func decodeMessages(body []byte) ([]string, error) {
	var out []string
	if err := collectMessages(jx.DecodeBytes(body), "", &out); err != nil {
		return nil, errors.Wrap(err, "decode messages")
	}
	return out, nil
}

func collectMessages(d *jx.Decoder, prefix string, out *[]string) error {
	switch d.Next() {
	case jx.Object:
		return d.Obj(func(d *jx.Decoder, key string) error {
			p := key
			switch {
			case generalKeys[key]:
				p = prefix
			case prefix != "":
				p = prefix + "." + key
			}
			return collectMessages(d, p, out)
		})
	case jx.Array:
		return d.Arr(func(d *jx.Decoder) error {
			return collectMessages(d, prefix, out)
		})
	default:
		s, err := jsonx.Text(d)
		if err != nil || s == "" {
			return err
		}
		if prefix != "" {
			s = prefix + ": " + s
		}
		*out = append(*out, s)
		return nil
	}
}
