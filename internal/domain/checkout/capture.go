package checkout

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/oneway-checkout/internal/domain/order"
	"github.com/xenking/oneway-checkout/internal/domain/payment"
)

// CaptureRequest completes a buyer-approved provider transaction. OrderID or
// ExternalReference locate the order record; both are optional.
type CaptureRequest struct {
	Provider          string
	TransactionID     string
	ExternalReference string
	OrderID           string
}

// CaptureResult is the final state of a captured transaction.
type CaptureResult struct {
	Provider      payment.Provider
	Status        string
	TransactionID string
	PaymentID     string
	OrderID       string
	// Replayed is set when the order was already approved and the provider
	// was not called again.
	Replayed   bool
	BestEffort []order.UpdateOutcome
}

// Capture captures a transaction and marks its order approved. Only a
// provider-confirmed completed capture is reported as paid, and only the
// order the transaction was created for is updated. Repeating a capture for
// an approved order returns the stored result.
func (o *Orchestrator) Capture(ctx context.Context, req CaptureRequest) (_ *CaptureResult, rerr error) {
	ctx, span := o.tracer.Start(ctx, "checkout.capture", trace.WithAttributes(
		attribute.String("checkout.provider", req.Provider),
	))
	defer func() {
		o.metrics.capture(ctx, req.Provider, rerr)
		if rerr != nil {
			span.RecordError(rerr)
			span.SetStatus(codes.Error, outcome(rerr))
		}
		span.End()
	}()

	if req.TransactionID == "" {
		return nil, fail(KindBadRequest, StateValidating, nil, "transaction id is required")
	}
	provider, ok := payment.ParseProvider(req.Provider)
	if !ok {
		return nil, fail(KindNotFound, StateValidating, nil, "unknown payment provider", req.Provider)
	}
	capturer, err := o.providers.Capturer(provider)
	switch {
	case errors.Is(err, payment.ErrCaptureUnsupported):
		return nil, fail(KindBadRequest, StateValidating, err, "provider does not support capture")
	case err != nil:
		return nil, fail(KindUnavailable, StateValidating, err, "payment provider not configured")
	}

	lg := zctx.From(ctx).With(
		zap.String("provider", string(provider)),
		zap.String("transaction_id", req.TransactionID),
	)

	rec := o.locateOrder(ctx, req.OrderID, req.ExternalReference)
	res := &CaptureResult{Provider: provider, TransactionID: req.TransactionID}
	if rec != nil {
		if rec.PreferenceID != "" && rec.PreferenceID != req.TransactionID {
			lg.Warn("Capture rejected, transaction belongs to another order",
				zap.String("order_id", rec.ID),
				zap.String("order_transaction_id", rec.PreferenceID),
			)
			return nil, fail(KindBadRequest, StateValidating, ErrTransactionMismatch, "transaction does not belong to order")
		}
		if rec.PreferenceID != "" && rec.Status == order.StatusApproved && rec.PaymentID != "" {
			lg.Info("Capture replayed from order record", zap.String("order_id", rec.ID))
			res.OrderID = rec.ID
			res.Status = payment.CaptureStatusCompleted
			res.PaymentID = rec.PaymentID
			res.Replayed = true
			return res, nil
		}
	}

	captured, err := capturer.CaptureTransaction(ctx, req.TransactionID)
	if errors.Is(err, payment.ErrAlreadyCaptured) {
		lg.Info("Transaction already captured, reading details")
		captured, err = o.capturedFromDetails(ctx, provider, req.TransactionID)
	}
	if err != nil {
		return nil, fail(KindProvider, StateProviderInvoking, err, "payment capture failed, try again", providerSummary(err))
	}
	res.Status = captured.Status
	res.PaymentID = captured.PaymentID
	if !captured.Completed() {
		return nil, fail(KindBadRequest, StateReconciling, payment.ErrNotCompleted, "payment not completed", captured.Status)
	}

	if rec == nil {
		lg.Warn("Captured transaction has no order record to reconcile",
			zap.String("order_id", req.OrderID),
			zap.String("external_reference", req.ExternalReference),
		)
		return res, nil
	}
	// A record without a stored transaction is bound through the reference
	// the provider echoes back.
	if rec.PreferenceID == "" && (captured.ExternalReference == "" || captured.ExternalReference != rec.ExternalReference) {
		lg.Error("Captured transaction does not match order, order left unchanged",
			zap.String("order_id", rec.ID),
			zap.String("external_reference", rec.ExternalReference),
			zap.String("captured_reference", captured.ExternalReference),
			zap.String("payment_id", captured.PaymentID),
		)
		return nil, fail(KindBadRequest, StateReconciling, ErrTransactionMismatch, "transaction does not belong to order")
	}

	res.OrderID = rec.ID
	res.BestEffort = append(res.BestEffort, o.bestEffort(ctx, "approve", rec.ID, order.StatusUpdate{
		Status:    order.StatusApproved,
		PaymentID: captured.PaymentID,
		Notes:     fmt.Sprintf("%s capture %s completed", provider, captured.PaymentID),
	}))
	return res, nil
}

func (o *Orchestrator) capturedFromDetails(ctx context.Context, provider payment.Provider, id string) (*payment.Capture, error) {
	fetcher, err := o.providers.DetailsFetcher(provider)
	if err != nil {
		return nil, err
	}
	d, err := fetcher.TransactionDetails(ctx, id, payment.DetailsQuery{})
	if err != nil {
		return nil, err
	}
	return &payment.Capture{
		Provider:          provider,
		TransactionID:     id,
		PaymentID:         d.PaymentID,
		Status:            d.Status,
		ExternalReference: d.ExternalReference,
	}, nil
}

// locateOrder finds the order record by id, then by external reference.
// Lookup failures are logged and yield nil: capture proceeds, but no order
// is updated.
func (o *Orchestrator) locateOrder(ctx context.Context, orderID, ref string) *order.Record {
	var (
		rec *order.Record
		err error
	)
	switch {
	case orderID != "":
		rec, err = o.orders.Get(ctx, orderID)
	case ref != "":
		rec, err = o.orders.FindByExternalReference(ctx, ref)
	default:
		return nil
	}
	if err != nil {
		zctx.From(ctx).Warn("Order lookup failed",
			zap.String("order_id", orderID),
			zap.String("external_reference", ref),
			zap.Error(err),
		)
		return nil
	}
	return rec
}

// Details reads a provider transaction for display and reconciliation.
func (o *Orchestrator) Details(ctx context.Context, providerName, transactionID string, q payment.DetailsQuery) (*payment.Details, error) {
	provider, ok := payment.ParseProvider(providerName)
	if !ok {
		return nil, fail(KindNotFound, StateValidating, nil, "unknown payment provider", providerName)
	}
	if transactionID == "" {
		return nil, fail(KindBadRequest, StateValidating, nil, "transaction id is required")
	}
	fetcher, err := o.providers.DetailsFetcher(provider)
	switch {
	case errors.Is(err, payment.ErrDetailsUnsupported):
		return nil, fail(KindBadRequest, StateValidating, err, "provider does not expose transaction details")
	case err != nil:
		return nil, fail(KindUnavailable, StateValidating, err, "payment provider not configured")
	}

	d, err := fetcher.TransactionDetails(ctx, transactionID, q)
	if err != nil {
		var pErr *payment.ProviderError
		if errors.As(err, &pErr) && pErr.Status == http.StatusNotFound {
			return nil, fail(KindNotFound, StateReconciling, err, "transaction not found")
		}
		return nil, fail(KindProvider, StateReconciling, err, "could not read transaction, try again", providerSummary(err))
	}
	return d, nil
}

// FindOrder returns the order record for an external reference.
func (o *Orchestrator) FindOrder(ctx context.Context, ref string) (*order.Record, error) {
	if ref == "" {
		return nil, fail(KindBadRequest, StateValidating, nil, "external reference is required")
	}
	rec, err := o.orders.FindByExternalReference(ctx, ref)
	switch {
	case errors.Is(err, order.ErrNotFound):
		return nil, fail(KindNotFound, StateReconciling, err, "order not found")
	case err != nil:
		return nil, fail(KindUnavailable, StateReconciling, err, "order service unavailable, try again")
	}
	return rec, nil
}

// ProviderStatus describes provider routing for introspection.
type ProviderStatus struct {
	Selection  payment.Selection
	Configured []payment.Provider
}

// Providers returns the active provider routing.
func (o *Orchestrator) Providers() ProviderStatus {
	return ProviderStatus{Selection: o.selection, Configured: o.providers.Names()}
}
