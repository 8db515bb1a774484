// Package handler is the HTTP boundary of the checkout service.
package handler

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/oneway-checkout/internal/domain/checkout"
	"github.com/xenking/oneway-checkout/internal/domain/order"
	"github.com/xenking/oneway-checkout/internal/domain/payment"
	"github.com/xenking/oneway-checkout/internal/domain/pricing"
	"github.com/xenking/oneway-checkout/pkg/httpmiddleware"
)

// Service is the checkout orchestrator as seen by the handlers.
type Service interface {
	Checkout(ctx context.Context, req checkout.Request) (*checkout.Result, error)
	Capture(ctx context.Context, req checkout.CaptureRequest) (*checkout.CaptureResult, error)
	Details(ctx context.Context, provider, transactionID string, q payment.DetailsQuery) (*payment.Details, error)
	FindOrder(ctx context.Context, ref string) (*order.Record, error)
	Providers() checkout.ProviderStatus
}

// Config holds non-dependency settings of the Handler.
type Config struct {
	// Version is reported by the provider introspection endpoint.
	Version           string
	BackendConfigured bool
	// MaxBodyBytes caps request bodies. Defaults to 64KiB.
	MaxBodyBytes int64
}

// Handler serves the checkout API.
type Handler struct {
	svc Service
	cfg Config
	now func() time.Time
}

// New creates a Handler.
func New(svc Service, cfg Config) *Handler {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 64 << 10
	}
	return &Handler{svc: svc, cfg: cfg, now: time.Now}
}

// Register adds the API routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /checkout/cart", h.CheckoutCart)
	mux.HandleFunc("POST /checkout/single", h.CheckoutSingle)
	mux.HandleFunc("POST /payments/{provider}/capture", h.Capture)
	mux.HandleFunc("GET /payments/{provider}/details/{id}", h.Details)
	mux.HandleFunc("GET /orders/reference/{ref}", h.OrderByReference)
	mux.HandleFunc("GET /config/payment-providers", h.PaymentProviders)
}

// CheckoutCart runs a multi-item checkout.
func (h *Handler) CheckoutCart(w http.ResponseWriter, r *http.Request) {
	h.checkout(w, r, false)
}

// CheckoutSingle runs a single-item checkout where any price divergence
// rejects the request.
func (h *Handler) CheckoutSingle(w http.ResponseWriter, r *http.Request) {
	h.checkout(w, r, true)
}

func (h *Handler) checkout(w http.ResponseWriter, r *http.Request, single bool) {
	var req checkout.Request
	if !h.decode(w, r, func(d *jx.Decoder) (err error) {
		req, err = decodeCheckout(d, single)
		return err
	}) {
		return
	}
	req.Requester = requester(r)

	res, err := h.svc.Checkout(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeCheckoutResult(e, res) })
}

// Capture completes a buyer-approved provider transaction.
func (h *Handler) Capture(w http.ResponseWriter, r *http.Request) {
	var req checkout.CaptureRequest
	if !h.decode(w, r, func(d *jx.Decoder) (err error) {
		req, err = decodeCapture(d)
		return err
	}) {
		return
	}
	req.Provider = r.PathValue("provider")

	res, err := h.svc.Capture(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeCaptureResult(e, res) })
}

// Details returns a provider transaction with its reconciliation metadata.
func (h *Handler) Details(w http.ResponseWriter, r *http.Request) {
	q := payment.DetailsQuery{PreferenceID: r.URL.Query().Get("preference_id")}
	d, err := h.svc.Details(r.Context(), r.PathValue("provider"), r.PathValue("id"), q)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeDetails(e, d) })
}

// OrderByReference returns the order record of an external reference.
func (h *Handler) OrderByReference(w http.ResponseWriter, r *http.Request) {
	rec, err := h.svc.FindOrder(r.Context(), r.PathValue("ref"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeRecord(e, rec) })
}

// PaymentProviders reports provider routing and which integrations are
// configured. Credentials are never included.
func (h *Handler) PaymentProviders(w http.ResponseWriter, _ *http.Request) {
	st := h.svc.Providers()
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		encodeProviderStatus(e, st, h.cfg, h.now())
	})
}

// decode parses the request body with fn, answering 400 or 413 on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, fn func(d *jx.Decoder) error) bool {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.cfg.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httpmiddleware.WriteError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		httpmiddleware.WriteError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return false
	}
	if err := fn(jx.DecodeBytes(body)); err != nil {
		zctx.From(r.Context()).Debug("Invalid request body", zap.Error(err))
		httpmiddleware.WriteError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return false
	}
	return true
}

// fail maps err to a response. Only *checkout.Error carries client-safe
// messages; anything else is an internal error.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	var cErr *checkout.Error
	if !errors.As(err, &cErr) {
		zctx.From(r.Context()).Error("Unexpected handler error", zap.Error(err))
		httpmiddleware.WriteError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	httpmiddleware.WriteError(w, statusOf(cErr.Kind), cErr.Message, cErr.Details...)
}

func statusOf(k checkout.Kind) int {
	switch k {
	case checkout.KindBadRequest:
		return http.StatusBadRequest
	case checkout.KindUnavailable:
		return http.StatusServiceUnavailable
	case checkout.KindProvider:
		return http.StatusBadGateway
	case checkout.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// requester identifies the caller for fraud logging.
func requester(r *http.Request) pricing.Requester {
	c := httpmiddleware.ClientFromContext(r.Context())
	if c.IP == "" {
		c = httpmiddleware.Client{IP: httpmiddleware.ClientIP(r), UserAgent: r.UserAgent()}
	}
	return pricing.Requester{IP: c.IP, UserAgent: c.UserAgent}
}

func writeJSON(w http.ResponseWriter, status int, fn func(e *jx.Encoder)) {
	var e jx.Encoder
	fn(&e)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}
