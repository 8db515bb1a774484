// Package checkout coordinates pricing, stock, order records and payment
// providers for one checkout attempt.
package checkout

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/oneway-checkout/internal/domain/catalog"
	"github.com/xenking/oneway-checkout/internal/domain/order"
	"github.com/xenking/oneway-checkout/internal/domain/payment"
	"github.com/xenking/oneway-checkout/internal/domain/pricing"
	"github.com/xenking/oneway-checkout/internal/domain/stock"
)

// Pricer prices carts against the catalog.
type Pricer interface {
	PriceCart(ctx context.Context, req pricing.Request) (*pricing.Quote, error)
}

// StockValidator checks and decrements stock.
type StockValidator interface {
	ValidateBatch(ctx context.Context, items []stock.Item) *stock.Validation
	DecrementBatch(ctx context.Context, items []stock.Item, orderID string) *stock.Decrement
}

// Request is a checkout attempt as received from the storefront.
type Request struct {
	Buyer     order.Buyer
	Items     []pricing.Item `validate:"required,min=1,dive"`
	Method    string         `validate:"required"`
	Requester pricing.Requester
	// Single marks the single-item endpoint: exactly one item and any price
	// divergence rejects the cart.
	Single bool
}

// Result is a successful checkout.
type Result struct {
	OrderID           string
	ExternalReference string
	Method            payment.Method
	// Provider is empty for in-person payments.
	Provider      payment.Provider
	RedirectURL   string
	TransactionID string
	Status        order.Status
	Total         decimal.Decimal
	Amount        decimal.Decimal
	Divergences   int
	// BestEffort lists every non-critical write and its outcome.
	BestEffort []order.UpdateOutcome
}

// Config configures an Orchestrator.
type Config struct {
	Selection          payment.Selection
	ReferenceNamespace string
	// Currency of all amounts. Defaults to BRL.
	Currency string
	// UpdateTimeout bounds best-effort and compensating writes, which may
	// outlive the inbound request. Defaults to 10 seconds.
	UpdateTimeout time.Duration
}

type options struct {
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
	now            func() time.Time
}

// Option configures optional Orchestrator dependencies.
type Option func(*options)

// WithTracerProvider sets the tracer provider. Defaults to the global one.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) { o.tracerProvider = tp }
}

// WithMeterProvider sets the meter provider. Defaults to the global one.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) { o.meterProvider = mp }
}

// WithClock sets the clock used for external references.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// Orchestrator runs the checkout state machine:
//
//	Validating -> Pricing -> StockChecking -> OrderCreating ->
//	ProviderInvoking -> Reconciling -> Done
//
// Failures after the order was created pass through Compensating, which
// makes a single attempt to mark the order cancelled or rejected.
type Orchestrator struct {
	pricer    Pricer
	stock     StockValidator
	orders    order.Client
	providers *payment.Registry
	selection payment.Selection
	refs      *References

	currency      string
	updateTimeout time.Duration

	validate *validator.Validate
	tracer   trace.Tracer
	metrics  *metrics
}

// New creates an Orchestrator.
func New(
	pricer Pricer,
	stockValidator StockValidator,
	orders order.Client,
	providers *payment.Registry,
	cfg Config,
	opts ...Option,
) (*Orchestrator, error) {
	o := options{
		tracerProvider: otel.GetTracerProvider(),
		meterProvider:  otel.GetMeterProvider(),
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if cfg.Currency == "" {
		cfg.Currency = "BRL"
	}
	if cfg.UpdateTimeout <= 0 {
		cfg.UpdateTimeout = 10 * time.Second
	}

	const scope = "github.com/xenking/oneway-checkout/internal/domain/checkout"
	m, err := newMetrics(o.meterProvider.Meter(scope))
	if err != nil {
		return nil, errors.Wrap(err, "metrics")
	}

	refs := NewReferences(cfg.ReferenceNamespace)
	refs.now = o.now

	return &Orchestrator{
		pricer:        pricer,
		stock:         stockValidator,
		orders:        orders,
		providers:     providers,
		selection:     cfg.Selection,
		refs:          refs,
		currency:      cfg.Currency,
		updateTimeout: cfg.UpdateTimeout,
		validate:      validator.New(validator.WithRequiredStructEnabled()),
		tracer:        o.tracerProvider.Tracer(scope),
		metrics:       m,
	}, nil
}

// attempt carries the state of one checkout.
type attempt struct {
	o       *Orchestrator
	req     Request
	method  payment.Method
	adapter payment.Adapter
	quote   *pricing.Quote
	ref     string
	orderID string
	res     *Result
}

// Checkout runs one checkout attempt. Every error is a *Error.
func (o *Orchestrator) Checkout(ctx context.Context, req Request) (_ *Result, rerr error) {
	ctx, span := o.tracer.Start(ctx, "checkout", trace.WithAttributes(
		attribute.String("checkout.method", req.Method),
		attribute.Int("checkout.items", len(req.Items)),
	))
	defer func() {
		o.metrics.request(ctx, req.Method, rerr)
		if rerr != nil {
			span.RecordError(rerr)
			span.SetStatus(codes.Error, outcome(rerr))
		}
		span.End()
	}()

	a := &attempt{o: o, req: req, res: &Result{}}
	steps := []func(context.Context) error{
		a.validateRequest,
		a.priceAndCheckStock,
		a.createOrder,
		a.invokeProvider,
	}
	for _, step := range steps {
		if err := step(ctx); err != nil {
			var cErr *Error
			if errors.As(err, &cErr) {
				a.logFailure(ctx, cErr)
			}
			return nil, err
		}
	}
	a.enter(ctx, StateDone)
	return a.res, nil
}

func (a *attempt) enter(ctx context.Context, s State) {
	trace.SpanFromContext(ctx).AddEvent("checkout." + string(s))
	zctx.From(ctx).Debug("Checkout state",
		zap.String("state", string(s)),
		zap.String("external_reference", a.ref),
		zap.String("order_id", a.orderID),
	)
}

func (a *attempt) logFailure(ctx context.Context, e *Error) {
	lg := zctx.From(ctx)
	fields := []zap.Field{
		zap.String("state", string(e.State)),
		zap.String("kind", e.Kind.String()),
		zap.String("external_reference", a.ref),
		zap.String("order_id", a.orderID),
		zap.Strings("details", e.Details),
	}
	if e.Err != nil {
		fields = append(fields, zap.Error(e.Err))
	}
	if e.Kind == KindBadRequest {
		lg.Info("Checkout rejected", fields...)
		return
	}
	lg.Error("Checkout failed", fields...)
}

func (a *attempt) validateRequest(ctx context.Context) error {
	a.enter(ctx, StateValidating)

	if err := a.o.validate.Struct(a.req); err != nil {
		return fail(KindBadRequest, StateValidating, err, "invalid request", validationMessages(err)...)
	}
	if a.req.Single && len(a.req.Items) != 1 {
		return fail(KindBadRequest, StateValidating, nil, "exactly one item is required")
	}

	method, err := payment.ParseMethod(a.req.Method)
	if err != nil {
		return fail(KindBadRequest, StateValidating, err, "unsupported payment method", a.req.Method)
	}
	a.method = method
	a.res.Method = method

	provider, ok := a.o.selection.For(method)
	if !ok {
		return nil
	}
	adapter, err := a.o.providers.Adapter(provider)
	if err != nil {
		return fail(KindUnavailable, StateValidating, err, "payment method temporarily unavailable")
	}
	a.adapter = adapter
	a.res.Provider = provider
	return nil
}

// priceAndCheckStock prices the cart and validates stock concurrently. Both
// are read-only; the pricing outcome is checked first.
func (a *attempt) priceAndCheckStock(ctx context.Context) error {
	var (
		quote    *pricing.Quote
		priceErr error
		checked  *stock.Validation
	)

	items := make([]stock.Item, 0, len(a.req.Items))
	for _, it := range a.req.Items {
		if it.StockID != "" {
			items = append(items, stock.Item{StockID: it.StockID, Quantity: it.Quantity})
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.enter(gctx, StatePricing)
		quote, priceErr = a.o.pricer.PriceCart(gctx, pricing.Request{
			Items:     a.req.Items,
			Method:    a.method,
			Requester: a.req.Requester,
			Strict:    a.req.Single,
		})
		return priceErr
	})
	if len(items) > 0 {
		g.Go(func() error {
			a.enter(gctx, StateStockChecking)
			checked = a.o.stock.ValidateBatch(gctx, items)
			return nil
		})
	}
	_ = g.Wait()

	if priceErr != nil {
		return pricingFailure(priceErr)
	}
	a.quote = quote
	a.res.Total = quote.Total
	a.res.Amount = quote.DiscountedTotal
	a.res.Divergences = len(quote.Divergences)
	if n := len(quote.Divergences); n > 0 {
		a.o.metrics.divergences.Add(ctx, int64(n))
	}

	if checked == nil {
		return nil
	}
	switch {
	case checked.Unavailable:
		return fail(KindUnavailable, StateStockChecking, nil, "stock service unavailable, try again", checked.Errors...)
	case !checked.CanProceed:
		details := append([]string{}, checked.Errors...)
		for _, r := range checked.Insufficient() {
			details = append(details, fmt.Sprintf("%s: %s", a.describeStock(r.StockID), r.Error))
		}
		return fail(KindBadRequest, StateStockChecking, nil, "insufficient stock", details...)
	}
	return nil
}

func (a *attempt) describeStock(stockID string) string {
	for _, l := range a.quote.Lines {
		if l.StockID == stockID {
			return fmt.Sprintf("%s (%s)", l.Product.Title, l.Size)
		}
	}
	return stockID
}

func pricingFailure(err error) *Error {
	var (
		divErr  *pricing.DivergenceError
		sizeErr *pricing.SizeUnavailableError
		qtyErr  *pricing.InvalidQuantityError
	)
	switch {
	case errors.Is(err, catalog.ErrUnavailable):
		return fail(KindUnavailable, StatePricing, err, "service temporarily unavailable, try again")
	case errors.Is(err, catalog.ErrProductNotFound):
		return fail(KindBadRequest, StatePricing, err, "product not found, refresh the page and try again")
	case errors.As(err, &divErr):
		details := make([]string, 0, len(divErr.Divergences))
		for _, d := range divErr.Divergences {
			details = append(details, fmt.Sprintf("%s: current price %s", d.Title, d.CatalogPrice.StringFixed(2)))
		}
		return fail(KindBadRequest, StatePricing, err, "price changed, refresh the page and try again", details...)
	case errors.As(err, &sizeErr):
		return fail(KindBadRequest, StatePricing, err, "size unavailable", sizeErr.Error())
	case errors.As(err, &qtyErr), errors.Is(err, pricing.ErrEmptyCart):
		return fail(KindBadRequest, StatePricing, err, err.Error())
	default:
		return fail(KindUnavailable, StatePricing, err, "service temporarily unavailable, try again")
	}
}

func (a *attempt) createOrder(ctx context.Context) error {
	first := a.quote.Lines[0]
	a.ref = a.o.refs.Next(ProductToken(first.Product.Key), first.Size)
	a.res.ExternalReference = a.ref
	a.enter(ctx, StateOrderCreating)

	id, err := a.o.orders.Create(ctx, order.NewOrder{
		Buyer:             a.req.Buyer,
		ProductKey:        first.Product.Key,
		Size:              first.Size,
		Price:             a.quote.DiscountedTotal,
		Method:            string(a.method),
		Status:            order.StatusPending,
		ExternalReference: a.ref,
		Notes:             cartSummary(a.quote),
	})
	if err != nil {
		var vErr *order.ValidationError
		if errors.As(err, &vErr) {
			return fail(KindBadRequest, StateOrderCreating, err, "order rejected", vErr.Messages...)
		}
		return fail(KindUnavailable, StateOrderCreating, err, "could not create order, try again")
	}
	a.orderID = id
	a.res.OrderID = id
	a.res.Status = order.StatusPending
	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("checkout.order_id", id),
		attribute.String("checkout.external_reference", a.ref),
	)

	for i, l := range a.quote.Lines {
		a.res.BestEffort = append(a.res.BestEffort, a.o.addLineItem(ctx, i, order.LineItem{
			OrderID:    id,
			ProductKey: l.Product.Key,
			Size:       l.Size,
			Quantity:   l.Quantity,
			UnitPrice:  l.ChargedUnitPrice,
		}))
	}
	return nil
}

func cartSummary(q *pricing.Quote) string {
	parts := make([]string, 0, len(q.Lines))
	for _, l := range q.Lines {
		parts = append(parts, fmt.Sprintf("%s %s x%d @ %s", l.Product.Key, l.Size, l.Quantity, l.ChargedUnitPrice.StringFixed(2)))
	}
	return strings.Join(parts, "; ")
}

func (a *attempt) invokeProvider(ctx context.Context) error {
	a.enter(ctx, StateProviderInvoking)
	if a.adapter == nil {
		return a.settleInPerson(ctx)
	}

	tx, err := a.adapter.CreateTransaction(ctx, a.intent())
	if err != nil {
		comp := a.compensate(ctx, order.StatusRejected, "payment provider error: "+providerSummary(err))
		e := fail(KindProvider, StateProviderInvoking, err, "payment provider error, try again", providerSummary(err))
		e.Compensation = comp
		return e
	}

	a.enter(ctx, StateReconciling)
	a.res.TransactionID = tx.ID
	a.res.RedirectURL = tx.RedirectURL
	a.res.BestEffort = append(a.res.BestEffort, a.o.bestEffort(ctx, "attach_transaction", a.orderID, order.StatusUpdate{
		PreferenceID: tx.ID,
		Notes:        fmt.Sprintf("%s transaction %s created", a.adapter.Provider(), tx.ID),
	}))
	return nil
}

func (a *attempt) intent() payment.Intent {
	lines := make([]payment.Line, 0, len(a.quote.Lines))
	for _, l := range a.quote.Lines {
		lines = append(lines, payment.Line{
			ProductID:  l.Product.ID,
			ProductKey: l.Product.Key,
			Title:      l.Product.Title,
			Image:      l.Product.Image,
			Size:       l.Size,
			Quantity:   l.Quantity,
			ListPrice:  l.UnitPrice,
			UnitPrice:  l.ChargedUnitPrice,
		})
	}
	return payment.Intent{
		OrderID:           a.orderID,
		ExternalReference: a.ref,
		Method:            a.method,
		Provider:          a.adapter.Provider(),
		Buyer:             a.req.Buyer,
		Lines:             lines,
		Total:             a.quote.Total,
		Amount:            a.quote.DiscountedTotal,
		Currency:          a.o.currency,
	}
}

// settleInPerson decrements stock once; a failed decrement cancels the order.
func (a *attempt) settleInPerson(ctx context.Context) error {
	items := make([]stock.Item, 0, len(a.quote.Lines))
	for _, l := range a.quote.Lines {
		items = append(items, stock.Item{StockID: l.StockID, Quantity: l.Quantity})
	}

	d := a.o.stock.DecrementBatch(ctx, items, a.orderID)
	if !d.Success {
		comp := a.compensate(ctx, order.StatusCancelled, "stock decrement failed: "+strings.Join(d.Errors, "; "))
		e := fail(KindBadRequest, StateProviderInvoking, nil, "insufficient stock", d.Errors...)
		if d.Unavailable {
			e.Kind = KindUnavailable
			e.Message = "stock service unavailable, try again"
		}
		e.Compensation = comp
		return e
	}
	a.enter(ctx, StateReconciling)
	return nil
}

func (a *attempt) compensate(ctx context.Context, status order.Status, notes string) *order.UpdateOutcome {
	a.enter(ctx, StateCompensating)
	out := a.o.bestEffort(ctx, "compensate", a.orderID, order.StatusUpdate{Status: status, Notes: notes})
	a.o.metrics.compensation(ctx, out.OK())
	if !out.OK() {
		zctx.From(ctx).Error("Compensation failed, order left pending",
			zap.String("order_id", a.orderID),
			zap.String("external_reference", a.ref),
			zap.Error(out.Err),
		)
	}
	return &out
}

// bestEffort patches an order detached from the request context so a client
// disconnect does not abort it. The result is reported, never returned as an
// error.
func (o *Orchestrator) bestEffort(ctx context.Context, step, orderID string, u order.StatusUpdate) order.UpdateOutcome {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.updateTimeout)
	defer cancel()

	err := o.orders.UpdateStatus(ctx, orderID, u)
	if err != nil {
		zctx.From(ctx).Warn("Order update failed",
			zap.String("step", step),
			zap.String("order_id", orderID),
			zap.Error(err),
		)
	}
	return order.UpdateOutcome{Step: step, OrderID: orderID, Err: err}
}

func (o *Orchestrator) addLineItem(ctx context.Context, i int, item order.LineItem) order.UpdateOutcome {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.updateTimeout)
	defer cancel()

	step := fmt.Sprintf("line_item_%d", i)
	err := o.orders.AddLineItem(ctx, item)
	if err != nil {
		zctx.From(ctx).Warn("Order line item failed",
			zap.String("step", step),
			zap.String("order_id", item.OrderID),
			zap.Error(err),
		)
	}
	return order.UpdateOutcome{Step: step, OrderID: item.OrderID, Err: err}
}

func providerSummary(err error) string {
	var pErr *payment.ProviderError
	if errors.As(err, &pErr) {
		return pErr.Error()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "provider timed out"
	}
	return "provider request failed"
}

func validationMessages(err error) []string {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return []string{err.Error()}
	}
	out := make([]string, 0, len(ve))
	for _, fe := range ve {
		field := strings.TrimPrefix(fe.Namespace(), "Request.")
		switch fe.Tag() {
		case "required":
			out = append(out, field+" is required")
		case "min":
			out = append(out, fmt.Sprintf("%s must have at least %s entries", field, fe.Param()))
		case "gt":
			out = append(out, fmt.Sprintf("%s must be greater than %s", field, fe.Param()))
		default:
			out = append(out, fmt.Sprintf("%s failed %s", field, fe.Tag()))
		}
	}
	return out
}
