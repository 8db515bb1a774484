package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

const defaultAddr = "0.0.0.0:8080"

// Config holds the complete application configuration, loadable from
// environment variables (CHECKOUT_ prefix), flags, or YAML config files.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"HTTP listen address"`
	Catalog     CatalogConfig
	Backend     BackendConfig
	Payments    PaymentsConfig
	Stripe      StripeConfig
	MercadoPago MercadoPagoConfig `env:"MERCADOPAGO" flag:"mercadopago"`
	PayPal      PayPalConfig      `env:"PAYPAL" flag:"paypal"`
	Kafka       KafkaConfig
	RateLimit   RateLimitConfig
	CORS        CORSConfig
	Graceful    GracefulConfig
}

// CatalogConfig selects where products are read from.
type CatalogConfig struct {
	Source      string        `default:"file" usage:"Catalog source: file or postgres"`
	Path        string        `default:"products.json" usage:"Catalog file, .gz files are decompressed"`
	DatabaseURL string        `usage:"PostgreSQL URL for the postgres source (or DATABASE_URL)" flag:"catalog-database-url"`
	TTL         time.Duration `default:"5m" usage:"Maximum age of the cached catalog"`
	LoadTimeout time.Duration `default:"10s" usage:"Timeout of one catalog load"`
}

// BackendConfig points at the order-management backend.
type BackendConfig struct {
	URL     string        `usage:"Order backend base URL, e.g. https://admin.example.com/api"`
	Token   string        `usage:"Order backend API token"`
	Timeout time.Duration `default:"15s" usage:"Order backend call timeout"`
}

// PaymentsConfig controls provider routing and pricing.
type PaymentsConfig struct {
	CardProvider       string  `default:"paypal" usage:"Provider for card methods: stripe, mercadopago or paypal"`
	PixProvider        string  `default:"mercadopago" usage:"Provider for PIX, only mercadopago is supported"`
	DivergencePolicy   string  `default:"log" usage:"Client price divergence policy: log or reject"`
	PixDiscountPercent float64 `default:"5" usage:"Discount for PIX payments, in percent"`
	ReferenceNamespace string  `default:"ONEWAY" usage:"Prefix of generated external references"`
	Currency           string  `default:"BRL" usage:"Currency of every charge"`
}

// StripeConfig configures the card processor.
type StripeConfig struct {
	SecretKey  string        `usage:"Stripe secret key"`
	BaseURL    string        `usage:"Override of the Stripe API URL"`
	SuccessURL string        `usage:"Checkout success URL"`
	CancelURL  string        `usage:"Checkout cancel URL"`
	Timeout    time.Duration `default:"20s" usage:"Stripe call timeout"`
}

// MercadoPagoConfig configures the regional wallet.
type MercadoPagoConfig struct {
	AccessToken         string        `usage:"Mercado Pago access token, TEST- tokens use the sandbox"`
	BaseURL             string        `usage:"Override of the Mercado Pago API URL"`
	SuccessURL          string        `usage:"Back URL after an approved payment"`
	FailureURL          string        `usage:"Back URL after a failed payment"`
	PendingURL          string        `usage:"Back URL for pending payments, defaults to the success URL"`
	NotificationURL     string        `usage:"Webhook URL for payment notifications"`
	ImageBaseURL        string        `usage:"Base URL of product images"`
	StatementDescriptor string        `default:"ONEWAY" usage:"Card statement descriptor"`
	Expiration          time.Duration `default:"24h" usage:"Preference lifetime"`
	MaxInstallments     int           `default:"4" usage:"Installment cap for card payments"`
	Timeout             time.Duration `default:"20s" usage:"Mercado Pago call timeout"`
}

// PayPalConfig configures the international wallet.
type PayPalConfig struct {
	ClientID      string        `usage:"PayPal client id"`
	ClientSecret  string        `usage:"PayPal client secret"`
	Environment   string        `default:"sandbox" usage:"PayPal environment: sandbox or live"`
	BaseURL       string        `usage:"Override of the PayPal API URL"`
	ReturnBaseURL string        `usage:"Storefront URL receiving /paypal-success and /paypal-cancel"`
	BrandName     string        `default:"OneWay" usage:"Brand shown on the PayPal page"`
	Locale        string        `default:"pt-BR" usage:"Locale of the PayPal page"`
	Timeout       time.Duration `default:"20s" usage:"PayPal call timeout"`
}

// KafkaConfig enables fraud event publishing when Brokers is set.
type KafkaConfig struct {
	Brokers    string `usage:"Comma-separated Kafka brokers"`
	FraudTopic string `default:"checkout.fraud" usage:"Topic of price divergence events"`
}

// RateLimitConfig controls the per-client sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"60" usage:"Max requests per window"`
	Window time.Duration `default:"1m" usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	return loadConfig(aconfig.Config{
		EnvPrefix: "CHECKOUT",
		Files:     []string{"config.yaml", "/etc/checkout/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
}

func loadConfig(ac aconfig.Config) (*Config, error) {
	var cfg Config
	if err := aconfig.LoaderFor(&cfg, ac).Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Catalog.Source {
	case "file":
		if c.Catalog.Path == "" {
			return errors.New("catalog path is required for the file source")
		}
	case "postgres":
		if c.Catalog.DatabaseURL == "" {
			return errors.New("database URL is required for the postgres catalog: set CHECKOUT_CATALOG_DATABASE_URL or DATABASE_URL")
		}
	default:
		return errors.Errorf("unknown catalog source %q", c.Catalog.Source)
	}
	if c.Backend.URL == "" {
		return errors.New("order backend URL is required: set CHECKOUT_BACKEND_URL")
	}
	if c.Payments.PixDiscountPercent < 0 || c.Payments.PixDiscountPercent >= 100 {
		return errors.Errorf("pix discount %v%% out of range", c.Payments.PixDiscountPercent)
	}
	return nil
}

// applyPlatformDefaults maps platform-provided environment variables
// (DATABASE_URL, PORT) onto the configuration.
func (c *Config) applyPlatformDefaults() {
	if c.Catalog.DatabaseURL == "" {
		c.Catalog.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
}
