// Package file loads the product catalog from a products.json document,
// optionally gzip-compressed.
package file

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"

	"github.com/xenking/oneway-checkout/internal/domain/catalog"
)

var _ catalog.Source = (*Source)(nil)

// Source implements catalog.Source over a file. The file is re-read on every
// Load; caching is left to catalog.Cache.
type Source struct {
	path string
}

// NewSource returns a Source reading path. Paths ending in .gz are
// decompressed.
func NewSource(path string) *Source {
	return &Source{path: path}
}

// Load implements catalog.Source.
func (s *Source) Load(ctx context.Context) (*catalog.Catalog, error) {
	products, err := ReadFile(ctx, s.path)
	if err != nil {
		return nil, err
	}
	return catalog.New(products), nil
}

// ReadFile reads and decodes the products document at path.
func ReadFile(ctx context.Context, path string) ([]catalog.Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := pgzip.NewReader(f)
		if err != nil {
			return nil, errors.Wrapf(err, "create gzip reader for %s", path)
		}
		defer func() { _ = gz.Close() }()
		r = gz
	}

	products, err := Decode(r)
	if err != nil {
		return nil, errors.Wrapf(err, "decode %s", path)
	}
	return products, nil
}

// WriteFile encodes products to path, gzip-compressed when path ends in .gz.
// The document is written to a temporary file in the same directory and
// renamed over path, so readers never see a partial catalog.
func WriteFile(ctx context.Context, path string, products []catalog.Product) (rerr error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return errors.Wrap(err, "create temp file")
	}
	defer func() {
		if rerr != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if strings.HasSuffix(path, ".gz") {
		gz := pgzip.NewWriter(tmp)
		if err := Encode(gz, products); err != nil {
			return errors.Wrapf(err, "encode %s", path)
		}
		if err := gz.Close(); err != nil {
			return errors.Wrap(err, "close gzip writer")
		}
	} else if err := Encode(tmp, products); err != nil {
		return errors.Wrapf(err, "encode %s", path)
	}

	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "close temp file")
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return errors.Wrapf(err, "rename to %s", path)
	}
	return nil
}
