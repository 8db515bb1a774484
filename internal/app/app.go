package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/oneway-checkout/internal/backend"
	"github.com/xenking/oneway-checkout/internal/domain/catalog"
	"github.com/xenking/oneway-checkout/internal/domain/checkout"
	"github.com/xenking/oneway-checkout/internal/domain/payment"
	"github.com/xenking/oneway-checkout/internal/domain/pricing"
	"github.com/xenking/oneway-checkout/internal/domain/stock"
	"github.com/xenking/oneway-checkout/internal/handler"
	"github.com/xenking/oneway-checkout/pkg/health"
	"github.com/xenking/oneway-checkout/pkg/httpmiddleware"
)

// Version is reported by the provider introspection endpoint. It is set at
// build time with -ldflags "-X".
var Version = "dev"

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing",
		zap.String("addr", cfg.Addr),
		zap.String("catalog_source", cfg.Catalog.Source),
	)

	// Catalog.
	src, pool, err := catalogSource(ctx, cfg.Catalog)
	if err != nil {
		return errors.Wrap(err, "catalog source")
	}
	if pool != nil {
		defer pool.Close()
	}
	cache := catalog.NewCache(src, catalog.CacheConfig{
		TTL:         cfg.Catalog.TTL,
		LoadTimeout: cfg.Catalog.LoadTimeout,
	})
	if c, err := cache.Get(ctx); err != nil {
		lg.Warn("Initial catalog load failed", zap.Error(err))
	} else {
		lg.Info("Catalog loaded", zap.Int("products", c.Len()))
	}

	// Order backend.
	orders, err := backend.New(backend.Config{
		BaseURL: cfg.Backend.URL,
		Token:   cfg.Backend.Token,
		Timeout: cfg.Backend.Timeout,
	})
	if err != nil {
		return errors.Wrap(err, "backend client")
	}
	if !orders.Configured() {
		lg.Warn("Order backend token is not set, calls are unauthenticated")
	}

	// Payment providers.
	adapters, err := paymentAdapters(cfg)
	if err != nil {
		return errors.Wrap(err, "payment adapters")
	}
	registry := payment.NewRegistry(adapters...)
	selection := providerSelection(lg, cfg.Payments, registry)
	lg.Info("Payment providers",
		zap.String("configured", providerNames(registry.Names())),
		zap.String("card", string(selection.Card)),
		zap.String("pix", string(selection.Pix)),
	)

	// Domain services.
	fraud, closeFraud := fraudRecorders(lg, cfg.Kafka)
	defer func() {
		if err := closeFraud(); err != nil {
			lg.Warn("Close fraud recorder", zap.Error(err))
		}
	}()
	pricer := pricing.NewPricer(cache, fraud, pricingConfig(cfg.Payments))
	orchestrator, err := checkout.New(pricer, stock.NewValidator(orders), orders, registry,
		checkout.Config{
			Selection:          selection,
			ReferenceNamespace: cfg.Payments.ReferenceNamespace,
			Currency:           cfg.Payments.Currency,
		},
		checkout.WithTracerProvider(m.TracerProvider()),
		checkout.WithMeterProvider(m.MeterProvider()),
	)
	if err != nil {
		return errors.Wrap(err, "create orchestrator")
	}

	// Health check service.
	healthSvc := health.New()
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.AddReadinessCheck("catalog", cfg.Catalog.LoadTimeout, health.NonEmptyCheck("catalog",
		func(ctx context.Context) (int, error) {
			c, err := cache.Get(ctx)
			if err != nil {
				return 0, err
			}
			return c.Len(), nil
		},
	))
	if pool != nil {
		healthSvc.AddReadinessCheck("postgres", 5*time.Second, func(ctx context.Context) error {
			return pool.Ping(ctx)
		})
	}
	healthSvc.AddInfo("version", func() string { return Version })
	healthSvc.AddInfo("catalog_source", func() string { return cfg.Catalog.Source })
	healthSvc.AddInfo("payment_providers", func() string { return providerNames(registry.Names()) })
	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// HTTP handlers.
	h := handler.New(orchestrator, handler.Config{
		Version:           Version,
		BackendConfigured: orders.Configured(),
	})
	mux := http.NewServeMux()
	mux.HandleFunc("GET /livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("GET /readyz", healthSvc.ReadyEndpoint)
	mux.HandleFunc("GET /health", healthSvc.SummaryEndpoint)
	h.Register(mux)

	probes := []string{"/livez", "/readyz", "/health"}
	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		// Provider calls may take up to their own timeout before the
		// compensating write.
		WriteTimeout:   60 * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20,
		Addr:           cfg.Addr,
		Handler: httpmiddleware.Wrap(mux,
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowHeaders:     []string{"Content-Type", "X-Request-ID"},
				ExposeHeaders:    []string{"X-Request-ID"},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
				Max:       cfg.RateLimit.Max,
				Window:    cfg.RateLimit.Window,
				SkipPaths: probes,
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.ClientInfo(),
			httpmiddleware.Instrument("checkout", httpmiddleware.MuxRoutes(mux), m.TracerProvider(), m.MeterProvider()),
			httpmiddleware.LogRequests(probes...),
		),
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}
