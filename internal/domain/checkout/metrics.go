package checkout

import (
	"context"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type metrics struct {
	requests      metric.Int64Counter
	divergences   metric.Int64Counter
	compensations metric.Int64Counter
	captures      metric.Int64Counter
}

func newMetrics(meter metric.Meter) (*metrics, error) {
	var (
		m   metrics
		err error
	)
	if m.requests, err = meter.Int64Counter("checkout.requests",
		metric.WithDescription("Checkout attempts by outcome"),
	); err != nil {
		return nil, errors.Wrap(err, "requests counter")
	}
	if m.divergences, err = meter.Int64Counter("checkout.price_divergence",
		metric.WithDescription("Cart lines whose client price diverged from the catalog"),
	); err != nil {
		return nil, errors.Wrap(err, "divergence counter")
	}
	if m.compensations, err = meter.Int64Counter("checkout.compensations",
		metric.WithDescription("Compensating order updates by result"),
	); err != nil {
		return nil, errors.Wrap(err, "compensations counter")
	}
	if m.captures, err = meter.Int64Counter("checkout.captures",
		metric.WithDescription("Provider captures by outcome"),
	); err != nil {
		return nil, errors.Wrap(err, "captures counter")
	}
	return &m, nil
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	var cErr *Error
	if errors.As(err, &cErr) {
		return cErr.Kind.String()
	}
	return "unknown"
}

func (m *metrics) request(ctx context.Context, method string, err error) {
	m.requests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome(err)),
		attribute.String("method", method),
	))
}

func (m *metrics) capture(ctx context.Context, provider string, err error) {
	m.captures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome(err)),
		attribute.String("provider", provider),
	))
}

func (m *metrics) compensation(ctx context.Context, ok bool) {
	m.compensations.Add(ctx, 1, metric.WithAttributes(attribute.Bool("ok", ok)))
}
