// Command catalog-sync copies the product catalog between products.json
// files (plain or .gz) and PostgreSQL.
//
//	catalog-sync -file products.json -file extra.json.gz   # import
//	catalog-sync -export products.json.gz                  # export
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"sort"

	"github.com/go-faster/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/oneway-checkout/internal/domain/catalog"
	"github.com/xenking/oneway-checkout/internal/storage/file"
	"github.com/xenking/oneway-checkout/internal/storage/postgres"
)

type fileList []string

func (f *fileList) String() string { return "" }

func (f *fileList) Set(v string) error {
	*f = append(*f, v)
	return nil
}

func main() {
	var (
		databaseURL string
		files       fileList
		export      string
		dryRun      bool
	)
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.Var(&files, "file", "catalog file to import, repeatable; later files override earlier keys")
	flag.StringVar(&export, "export", "", "write the active database catalog to this file instead of importing")
	flag.BoolVar(&dryRun, "dry-run", false, "read and validate files without writing to the database")
	flag.Parse()

	lg, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" && !dryRun {
		lg.Fatal("database URL is required: set --database-url or DATABASE_URL")
	}
	if export == "" && len(files) == 0 {
		files = fileList{"products.json"}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if export != "" {
		err = runExport(ctx, lg, databaseURL, export)
	} else {
		err = runImport(ctx, lg, databaseURL, files, dryRun)
	}
	if err != nil {
		lg.Fatal("Catalog sync failed", zap.Error(err))
	}
	lg.Info("Catalog sync completed")
}

func runImport(ctx context.Context, lg *zap.Logger, databaseURL string, files []string, dryRun bool) error {
	sets := make([][]catalog.Product, len(files))
	g, gctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			products, err := file.ReadFile(gctx, path)
			if err != nil {
				return err
			}
			lg.Info("Catalog file read", zap.String("path", path), zap.Int("products", len(products)))
			sets[i] = products
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return errors.Wrap(err, "read files")
	}

	products, err := merge(sets)
	if err != nil {
		return err
	}
	if dryRun {
		lg.Info("Dry run, database not touched", zap.Int("products", len(products)))
		return nil
	}

	src, closeFn, err := open(ctx, databaseURL)
	if err != nil {
		return err
	}
	defer closeFn()

	if err := src.UpsertCatalog(ctx, products); err != nil {
		return errors.Wrap(err, "upsert catalog")
	}
	lg.Info("Catalog imported", zap.Int("products", len(products)))
	return nil
}

func runExport(ctx context.Context, lg *zap.Logger, databaseURL, path string) error {
	src, closeFn, err := open(ctx, databaseURL)
	if err != nil {
		return err
	}
	defer closeFn()

	cat, err := src.Load(ctx)
	if err != nil {
		return errors.Wrap(err, "load catalog")
	}
	if err := file.WriteFile(ctx, path, cat.Products()); err != nil {
		return errors.Wrap(err, "write file")
	}
	lg.Info("Catalog exported", zap.String("path", path), zap.Int("products", cat.Len()))
	return nil
}

func open(ctx context.Context, databaseURL string) (*postgres.CatalogSource, func(), error) {
	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return nil, nil, errors.Wrap(err, "connect to database")
	}
	if err := postgres.RunMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, errors.Wrap(err, "run migrations")
	}
	return postgres.NewCatalogSource(pool), pool.Close, nil
}

// merge combines product sets by key, later sets winning, and rejects
// products without an id or price.
func merge(sets [][]catalog.Product) ([]catalog.Product, error) {
	byKey := make(map[string]catalog.Product)
	for _, set := range sets {
		for _, p := range set {
			byKey[p.Key] = p
		}
	}
	out := make([]catalog.Product, 0, len(byKey))
	for _, p := range byKey {
		if p.ID == "" {
			return nil, errors.Errorf("product %q has no id", p.Key)
		}
		if !p.Price.IsPositive() {
			return nil, errors.Errorf("product %q has non-positive price %s", p.Key, p.Price)
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}
