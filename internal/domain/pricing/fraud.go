package pricing

import (
	"context"
	"time"

	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Divergence is a client price that differs from the catalog price.
type Divergence struct {
	ProductID    string
	ProductKey   string
	Title        string
	Size         string
	CatalogPrice decimal.Decimal
	ClientPrice  decimal.Decimal
	ClientIP     string
	UserAgent    string
	At           time.Time
}

// FraudRecorder records price divergences for fraud monitoring. Recording is
// best-effort and never fails the checkout.
type FraudRecorder interface {
	RecordDivergence(ctx context.Context, d Divergence)
}

// NopRecorder discards divergences.
type NopRecorder struct{}

func (NopRecorder) RecordDivergence(context.Context, Divergence) {}

// LogRecorder writes divergences as security warnings to the context logger.
type LogRecorder struct{}

func (LogRecorder) RecordDivergence(ctx context.Context, d Divergence) {
	zctx.From(ctx).Warn("Price tampering attempt",
		zap.String("product_id", d.ProductID),
		zap.String("product_key", d.ProductKey),
		zap.String("size", d.Size),
		zap.String("catalog_price", d.CatalogPrice.StringFixed(2)),
		zap.String("client_price", d.ClientPrice.StringFixed(2)),
		zap.String("client_ip", d.ClientIP),
		zap.String("user_agent", d.UserAgent),
	)
}

// Recorders fans a divergence out to every recorder.
type Recorders []FraudRecorder

func (rs Recorders) RecordDivergence(ctx context.Context, d Divergence) {
	for _, r := range rs {
		r.RecordDivergence(ctx, d)
	}
}
