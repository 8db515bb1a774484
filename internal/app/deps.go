package app

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/oneway-checkout/internal/domain/catalog"
	"github.com/xenking/oneway-checkout/internal/domain/payment"
	"github.com/xenking/oneway-checkout/internal/domain/pricing"
	eventkafka "github.com/xenking/oneway-checkout/internal/events/kafka"
	"github.com/xenking/oneway-checkout/internal/provider/mercadopago"
	"github.com/xenking/oneway-checkout/internal/provider/paypal"
	"github.com/xenking/oneway-checkout/internal/provider/stripe"
	"github.com/xenking/oneway-checkout/internal/storage/file"
	"github.com/xenking/oneway-checkout/internal/storage/postgres"
)

// catalogSource opens the configured catalog source. The returned pool is
// nil for the file source.
func catalogSource(ctx context.Context, cfg CatalogConfig) (catalog.Source, *pgxpool.Pool, error) {
	if cfg.Source != "postgres" {
		return file.NewSource(cfg.Path), nil, nil
	}
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, errors.Wrap(err, "create db pool")
	}
	if err := postgres.RunMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, errors.Wrap(err, "run migrations")
	}
	return postgres.NewCatalogSource(pool), pool, nil
}

// paymentAdapters creates an adapter for every provider with credentials.
func paymentAdapters(cfg *Config) ([]payment.Adapter, error) {
	var adapters []payment.Adapter
	if cfg.Stripe.SecretKey != "" {
		a, err := stripe.New(stripe.Config{
			SecretKey:  cfg.Stripe.SecretKey,
			BaseURL:    cfg.Stripe.BaseURL,
			SuccessURL: cfg.Stripe.SuccessURL,
			CancelURL:  cfg.Stripe.CancelURL,
			Timeout:    cfg.Stripe.Timeout,
		})
		if err != nil {
			return nil, errors.Wrap(err, "stripe")
		}
		adapters = append(adapters, a)
	}
	if mp := cfg.MercadoPago; mp.AccessToken != "" {
		a, err := mercadopago.New(mercadopago.Config{
			AccessToken:         mp.AccessToken,
			BaseURL:             mp.BaseURL,
			SuccessURL:          mp.SuccessURL,
			FailureURL:          mp.FailureURL,
			PendingURL:          mp.PendingURL,
			NotificationURL:     mp.NotificationURL,
			ImageBaseURL:        mp.ImageBaseURL,
			StatementDescriptor: mp.StatementDescriptor,
			Expiration:          mp.Expiration,
			MaxInstallments:     mp.MaxInstallments,
			Timeout:             mp.Timeout,
		})
		if err != nil {
			return nil, errors.Wrap(err, "mercadopago")
		}
		adapters = append(adapters, a)
	}
	if pp := cfg.PayPal; pp.ClientID != "" && pp.ClientSecret != "" {
		a, err := paypal.New(paypal.Config{
			ClientID:      pp.ClientID,
			ClientSecret:  pp.ClientSecret,
			Environment:   pp.Environment,
			BaseURL:       pp.BaseURL,
			ReturnBaseURL: pp.ReturnBaseURL,
			BrandName:     pp.BrandName,
			Locale:        pp.Locale,
			Timeout:       pp.Timeout,
		})
		if err != nil {
			return nil, errors.Wrap(err, "paypal")
		}
		adapters = append(adapters, a)
	}
	return adapters, nil
}

// providerSelection resolves the configured routing, logging every
// correction and every routed provider that has no credentials.
func providerSelection(lg *zap.Logger, cfg PaymentsConfig, registry *payment.Registry) payment.Selection {
	sel, corrections := payment.ResolveSelection(cfg.CardProvider, cfg.PixProvider)
	for _, c := range corrections {
		lg.Warn("Payment provider setting corrected",
			zap.String("family", string(c.Family)),
			zap.String("configured", c.Configured),
			zap.String("applied", string(c.Applied)),
			zap.String("reason", c.Reason),
		)
	}
	routes := []struct {
		family   payment.Family
		provider payment.Provider
	}{
		{payment.FamilyCard, sel.Card},
		{payment.FamilyPix, sel.Pix},
		{payment.FamilyWallet, payment.ProviderPayPal},
	}
	for _, r := range routes {
		if !registry.Configured(r.provider) {
			lg.Warn("Routed payment provider is not configured",
				zap.String("family", string(r.family)),
				zap.String("provider", string(r.provider)),
			)
		}
	}
	return sel
}

// fraudRecorders always logs divergences and also publishes them when Kafka
// brokers are configured. The close func releases the Kafka writer.
func fraudRecorders(lg *zap.Logger, cfg KafkaConfig) (pricing.FraudRecorder, func() error) {
	brokers := eventkafka.ParseBrokers(cfg.Brokers)
	if len(brokers) == 0 {
		return pricing.LogRecorder{}, func() error { return nil }
	}
	rec := eventkafka.NewFraudRecorder(eventkafka.NewWriter(lg, brokers, cfg.FraudTopic))
	return pricing.Recorders{pricing.LogRecorder{}, rec}, rec.Close
}

func pricingConfig(cfg PaymentsConfig) pricing.Config {
	return pricing.Config{
		Policy:                  pricing.ParsePolicy(cfg.DivergencePolicy),
		InstantTransferDiscount: decimal.NewFromFloat(cfg.PixDiscountPercent),
	}
}

func providerNames(ps []payment.Provider) string {
	names := make([]string, len(ps))
	for i, p := range ps {
		names[i] = string(p)
	}
	return strings.Join(names, ",")
}
