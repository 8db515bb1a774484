package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/oneway-checkout/internal/domain/checkout"
	"github.com/xenking/oneway-checkout/internal/domain/order"
	"github.com/xenking/oneway-checkout/internal/domain/payment"
	"github.com/xenking/oneway-checkout/pkg/httpmiddleware"
)

type fakeService struct {
	checkoutReq checkout.Request
	captureReq  checkout.CaptureRequest
	detailsArgs []string
	detailsQ    payment.DetailsQuery
	ref         string

	result   *checkout.Result
	captured *checkout.CaptureResult
	details  *payment.Details
	record   *order.Record
	err      error
}

func (f *fakeService) Checkout(_ context.Context, req checkout.Request) (*checkout.Result, error) {
	f.checkoutReq = req
	return f.result, f.err
}

func (f *fakeService) Capture(_ context.Context, req checkout.CaptureRequest) (*checkout.CaptureResult, error) {
	f.captureReq = req
	return f.captured, f.err
}

func (f *fakeService) Details(_ context.Context, provider, id string, q payment.DetailsQuery) (*payment.Details, error) {
	f.detailsArgs = []string{provider, id}
	f.detailsQ = q
	return f.details, f.err
}

func (f *fakeService) FindOrder(_ context.Context, ref string) (*order.Record, error) {
	f.ref = ref
	return f.record, f.err
}

func (f *fakeService) Providers() checkout.ProviderStatus {
	return checkout.ProviderStatus{
		Selection:  payment.Selection{Card: payment.ProviderPayPal, Pix: payment.ProviderMercadoPago},
		Configured: []payment.Provider{payment.ProviderMercadoPago},
	}
}

func newTestServer(t *testing.T, svc Service, cfg Config) http.Handler {
	t.Helper()
	h := New(svc, cfg)
	h.now = func() time.Time { return time.Date(2024, 5, 10, 15, 4, 5, 0, time.UTC) }
	mux := http.NewServeMux()
	h.Register(mux)
	return httpmiddleware.Wrap(mux, httpmiddleware.ClientInfo())
}

func do(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.RemoteAddr = "198.51.100.9:4000"
	req.Header.Set("User-Agent", "storefront-test")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestCheckoutCart(t *testing.T) {
	svc := &fakeService{result: &checkout.Result{
		OrderID:           "42",
		ExternalReference: "ONEWAY-MARROM-M-1715353445000",
		Method:            payment.MethodPix,
		Provider:          payment.ProviderMercadoPago,
		RedirectURL:       "https://mp.example/init",
		TransactionID:     "pref-1",
		Status:            order.StatusPending,
		Total:             decimal.RequireFromString("120"),
		Amount:            decimal.RequireFromString("114"),
	}}
	h := newTestServer(t, svc, Config{})

	w := do(h, http.MethodPost, "/checkout/cart", `{
		"buyer": {"name": "Ana", "email": "ana@example.com", "phone": "11999990000"},
		"items": [
			{"productId": "camiseta-marrom", "size": "M", "quantity": 1, "price": 120, "stockId": 12},
			{"productId": 2, "size": "G", "quantity": "2", "price": "59.90", "extra": {"x": 1}}
		],
		"paymentMethod": "pix"
	}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	req := svc.checkoutReq
	assert.False(t, req.Single)
	assert.Equal(t, order.Buyer{Name: "Ana", Email: "ana@example.com", Phone: "11999990000"}, req.Buyer)
	assert.Equal(t, "pix", req.Method)
	require.Len(t, req.Items, 2)
	assert.Equal(t, "camiseta-marrom", req.Items[0].ProductRef)
	assert.Equal(t, "12", req.Items[0].StockID)
	assert.Equal(t, "2", req.Items[1].ProductRef)
	assert.Equal(t, 2, req.Items[1].Quantity)
	require.True(t, req.Items[1].ClientPrice.Valid)
	assert.Equal(t, "59.9", req.Items[1].ClientPrice.Decimal.String())
	assert.Equal(t, "198.51.100.9", req.Requester.IP)
	assert.Equal(t, "storefront-test", req.Requester.UserAgent)

	assert.JSONEq(t, `{
		"orderId": "42",
		"externalReference": "ONEWAY-MARROM-M-1715353445000",
		"paymentMethod": "pix",
		"provider": "mercadopago",
		"paymentUrl": "https://mp.example/init",
		"redirectUrl": "https://mp.example/init",
		"providerTransactionId": "pref-1",
		"status": "pending",
		"total": 120.00,
		"amount": 114.00
	}`, w.Body.String())
}

func TestCheckoutSingle_FlatFields(t *testing.T) {
	svc := &fakeService{result: &checkout.Result{OrderID: "7", Method: payment.MethodInPerson, Status: order.StatusPending}}
	h := newTestServer(t, svc, Config{})

	w := do(h, http.MethodPost, "/checkout/single", `{
		"productId": "camiseta-preta", "size": "P", "price": 89.9,
		"nome": "Bia", "email": "bia@example.com", "telefone": "21988887777",
		"paymentMethod": "presencial"
	}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	req := svc.checkoutReq
	assert.True(t, req.Single)
	assert.Equal(t, order.Buyer{Name: "Bia", Email: "bia@example.com", Phone: "21988887777"}, req.Buyer)
	require.Len(t, req.Items, 1)
	assert.Equal(t, "camiseta-preta", req.Items[0].ProductRef)
	assert.Equal(t, 1, req.Items[0].Quantity)

	body := decodeBody(t, w)
	assert.NotContains(t, body, "provider")
	assert.NotContains(t, body, "paymentUrl")
}

func TestCheckout_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		body   string
	}{
		{
			name:   "BadRequest",
			err:    &checkout.Error{Kind: checkout.KindBadRequest, Message: "insufficient stock", Details: []string{"Camiseta M: 1 available"}},
			status: http.StatusBadRequest,
			body:   `{"error":"insufficient stock","details":["Camiseta M: 1 available"]}`,
		},
		{
			name:   "Unavailable",
			err:    &checkout.Error{Kind: checkout.KindUnavailable, Message: "catalog unavailable, try again"},
			status: http.StatusServiceUnavailable,
			body:   `{"error":"catalog unavailable, try again","details":[]}`,
		},
		{
			name:   "Provider",
			err:    &checkout.Error{Kind: checkout.KindProvider, Message: "payment provider failed", Details: []string{"provider timed out"}},
			status: http.StatusBadGateway,
			body:   `{"error":"payment provider failed","details":["provider timed out"]}`,
		},
		{
			name:   "NotFound",
			err:    &checkout.Error{Kind: checkout.KindNotFound, Message: "order not found"},
			status: http.StatusNotFound,
			body:   `{"error":"order not found","details":[]}`,
		},
		{
			name:   "Unexpected",
			err:    errors.New("database password leaked in message"),
			status: http.StatusInternalServerError,
			body:   `{"error":"internal server error","details":[]}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestServer(t, &fakeService{err: tt.err}, Config{})
			w := do(h, http.MethodPost, "/checkout/cart", `{"items":[],"paymentMethod":"pix"}`)
			assert.Equal(t, tt.status, w.Code)
			assert.JSONEq(t, tt.body, w.Body.String())
		})
	}
}

func TestCheckout_InvalidBody(t *testing.T) {
	for name, body := range map[string]string{
		"Empty":        ``,
		"NotJSON":      `buy everything`,
		"ItemsObject":  `{"items": {"productId": "1"}}`,
		"BrokenNumber": `{"items": [{"quantity": "two"}]}`,
	} {
		t.Run(name, func(t *testing.T) {
			svc := &fakeService{}
			h := newTestServer(t, svc, Config{})
			w := do(h, http.MethodPost, "/checkout/cart", body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, "invalid request body", decodeBody(t, w)["error"])
			assert.Empty(t, svc.checkoutReq.Method)
		})
	}
}

func TestCheckout_BodyTooLarge(t *testing.T) {
	h := newTestServer(t, &fakeService{}, Config{MaxBodyBytes: 32})
	w := do(h, http.MethodPost, "/checkout/cart", `{"paymentMethod": "`+strings.Repeat("x", 64)+`"}`)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestCheckout_MethodNotAllowed(t *testing.T) {
	h := newTestServer(t, &fakeService{}, Config{})
	w := do(h, http.MethodGet, "/checkout/cart", "")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestCapture(t *testing.T) {
	svc := &fakeService{captured: &checkout.CaptureResult{
		Provider:      payment.ProviderPayPal,
		Status:        payment.CaptureStatusCompleted,
		TransactionID: "5O190127TN364715T",
		PaymentID:     "3C679366HH908993F",
		OrderID:       "42",
	}}
	h := newTestServer(t, svc, Config{})

	w := do(h, http.MethodPost, "/payments/paypal/capture",
		`{"orderID": "5O190127TN364715T", "external_reference": "ONEWAY-1", "pedido_id": 42}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	assert.Equal(t, checkout.CaptureRequest{
		Provider:          "paypal",
		TransactionID:     "5O190127TN364715T",
		ExternalReference: "ONEWAY-1",
		OrderID:           "42",
	}, svc.captureReq)
	assert.JSONEq(t, `{
		"provider": "paypal",
		"status": "COMPLETED",
		"providerOrderId": "5O190127TN364715T",
		"paymentId": "3C679366HH908993F",
		"orderId": "42",
		"replayed": false
	}`, w.Body.String())
}

func TestDetails(t *testing.T) {
	svc := &fakeService{details: &payment.Details{
		Provider:          payment.ProviderMercadoPago,
		TransactionID:     "123",
		Status:            "approved",
		StatusDetail:      "accredited",
		ExternalReference: "ONEWAY-1",
		PreferenceID:      "pref-9",
		Amount:            decimal.NewNullDecimal(decimal.RequireFromString("114")),
		Currency:          "BRL",
		Metadata:          map[string]string{"order_id": "42", "buyer_name": "Ana"},
	}}
	h := newTestServer(t, svc, Config{})

	w := do(h, http.MethodGet, "/payments/mercadopago/details/123?preference_id=pref-9", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, []string{"mercadopago", "123"}, svc.detailsArgs)
	assert.Equal(t, "pref-9", svc.detailsQ.PreferenceID)
	assert.JSONEq(t, `{
		"provider": "mercadopago",
		"transactionId": "123",
		"status": "approved",
		"statusDetail": "accredited",
		"externalReference": "ONEWAY-1",
		"preferenceId": "pref-9",
		"amount": 114.00,
		"currency": "BRL",
		"metadata": {"buyer_name": "Ana", "order_id": "42"}
	}`, w.Body.String())
}

func TestOrderByReference(t *testing.T) {
	svc := &fakeService{record: &order.Record{
		ID:                "42",
		ExternalReference: "ONEWAY-MARROM-M-1",
		Status:            order.StatusApproved,
		PaymentID:         "pay-1",
		Method:            "pix",
		ProductKey:        "camiseta-marrom",
		Size:              "M",
		Price:             decimal.RequireFromString("114"),
		Buyer:             order.Buyer{Name: "Ana", Email: "ana@example.com", Phone: "1199"},
		CreatedAt:         time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC),
	}}
	h := newTestServer(t, svc, Config{})

	w := do(h, http.MethodGet, "/orders/reference/ONEWAY-MARROM-M-1", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "ONEWAY-MARROM-M-1", svc.ref)

	body := decodeBody(t, w)
	assert.Equal(t, "approved", body["status"])
	assert.Equal(t, 114.0, body["price"])
	assert.Equal(t, "2024-05-10T12:00:00Z", body["createdAt"])
	assert.Equal(t, map[string]any{"name": "Ana", "email": "ana@example.com", "phone": "1199"}, body["buyer"])
}

func TestPaymentProviders(t *testing.T) {
	h := newTestServer(t, &fakeService{}, Config{Version: "1.2.0", BackendConfigured: true})

	w := do(h, http.MethodGet, "/config/payment-providers", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{
		"config": {"card": "paypal", "pix": "mercadopago"},
		"status": {
			"stripe_configured": false,
			"mercadopago_configured": true,
			"paypal_configured": false,
			"backend_configured": true
		},
		"timestamp": "2024-05-10T15:04:05Z",
		"version": "1.2.0"
	}`, w.Body.String())
}

func TestStatusOf(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, statusOf(checkout.Kind(99)))
}
