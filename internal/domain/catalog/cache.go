package catalog

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// CacheConfig controls catalog refresh.
type CacheConfig struct {
	// TTL is the maximum age of a cached catalog. Defaults to 5 minutes.
	TTL time.Duration
	// LoadTimeout bounds a single reload. Defaults to 10 seconds.
	LoadTimeout time.Duration
}

type snapshot struct {
	catalog  *Catalog
	loadedAt time.Time
}

// Cache serves a catalog snapshot and reloads it from Source once it is older
// than TTL.
//
// Concurrent callers that observe an expired snapshot may each reload; the
// last successful load wins.
type Cache struct {
	src         Source
	ttl         time.Duration
	loadTimeout time.Duration
	now         func() time.Time

	current atomic.Pointer[snapshot]
}

// NewCache creates a Cache over src.
func NewCache(src Source, cfg CacheConfig) *Cache {
	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Minute
	}
	if cfg.LoadTimeout <= 0 {
		cfg.LoadTimeout = 10 * time.Second
	}
	return &Cache{
		src:         src,
		ttl:         cfg.TTL,
		loadTimeout: cfg.LoadTimeout,
		now:         time.Now,
	}
}

// Get returns the cached catalog, reloading it when expired. A failed reload
// returns an error wrapping ErrUnavailable; an expired snapshot is never
// served in its place.
func (c *Cache) Get(ctx context.Context) (*Catalog, error) {
	now := c.now()
	if s := c.current.Load(); s != nil && now.Sub(s.loadedAt) < c.ttl {
		return s.catalog, nil
	}

	loadCtx, cancel := context.WithTimeout(ctx, c.loadTimeout)
	defer cancel()

	cat, err := c.src.Load(loadCtx)
	if err != nil {
		zctx.From(ctx).Error("Catalog load failed", zap.Error(err))
		return nil, errors.Wrapf(ErrUnavailable, "load: %v", err)
	}
	if cat == nil || cat.Len() == 0 {
		zctx.From(ctx).Error("Catalog load returned no products")
		return nil, errors.Wrap(ErrUnavailable, "empty catalog")
	}

	c.current.Store(&snapshot{catalog: cat, loadedAt: now})
	zctx.From(ctx).Debug("Catalog reloaded", zap.Int("products", cat.Len()))
	return cat, nil
}

// Invalidate drops the cached snapshot so the next Get reloads.
func (c *Cache) Invalidate() {
	c.current.Store(nil)
}
