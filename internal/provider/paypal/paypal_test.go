package paypal

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/oneway-checkout/internal/domain/order"
	"github.com/xenking/oneway-checkout/internal/domain/payment"
)

func testIntent() payment.Intent {
	return payment.Intent{
		OrderID:           "42",
		ExternalReference: "ONEWAY-JESUS-G-1718000000000",
		Method:            payment.MethodPayPal,
		Provider:          payment.ProviderPayPal,
		Buyer:             order.Buyer{Name: "Maria", Email: "maria@example.com", Phone: "16999990000"},
		Lines: []payment.Line{
			{ProductKey: "camiseta-jesus", Title: "Camiseta Jesus", Size: "G", Quantity: 2, ListPrice: decimal.RequireFromString("100"), UnitPrice: decimal.RequireFromString("100")},
			{ProductKey: "camiseta-marrom", Title: "Camiseta One Way Marrom", Size: "P", Quantity: 1, ListPrice: decimal.RequireFromString("80"), UnitPrice: decimal.RequireFromString("80")},
		},
		Total:    decimal.RequireFromString("280"),
		Amount:   decimal.RequireFromString("280"),
		Currency: "BRL",
	}
}

// fakePayPal serves the token endpoint and delegates everything else.
type fakePayPal struct {
	tokens atomic.Int32
	next   http.HandlerFunc
}

func (f *fakePayPal) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/v1/oauth2/token" {
		f.tokens.Add(1)
		user, pass, ok := r.BasicAuth()
		body, _ := io.ReadAll(r.Body)
		if !ok || user != "client" || pass != "secret" || string(body) != "grant_type=client_credentials" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = io.WriteString(w, `{"error": "invalid_client", "error_description": "Client Authentication failed"}`)
			return
		}
		_, _ = io.WriteString(w, `{"access_token": "A21AA", "token_type": "Bearer", "expires_in": 32400}`)
		return
	}
	if r.Header.Get("Authorization") != "Bearer A21AA" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	f.next(w, r)
}

func newTestAdapter(t *testing.T, secret string, next http.HandlerFunc) (*Adapter, *fakePayPal) {
	t.Helper()
	fake := &fakePayPal{next: next}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	a, err := New(Config{
		ClientID:      "client",
		ClientSecret:  secret,
		BaseURL:       srv.URL,
		ReturnBaseURL: "https://shop.example.com/",
		BrandName:     "ONE WAY 2025",
		Transport:     http.DefaultTransport,
	})
	require.NoError(t, err)
	return a, fake
}

func TestAdapter_CreateTransaction(t *testing.T) {
	var got map[string]any
	a, fake := newTestAdapter(t, "secret", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/checkout/orders", r.URL.Path)
		assert.Equal(t, "ONEWAY-JESUS-G-1718000000000", r.Header.Get("PayPal-Request-Id"))
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{
			"id": "5O190127TN364715T",
			"status": "CREATED",
			"links": [
				{"href": "https://api-m.paypal.com/v2/checkout/orders/5O190127TN364715T", "rel": "self", "method": "GET"},
				{"href": "https://www.paypal.com/checkoutnow?token=5O190127TN364715T", "rel": "approve", "method": "GET"}
			]
		}`)
	})

	tx, err := a.CreateTransaction(context.Background(), testIntent())
	require.NoError(t, err)
	assert.Equal(t, &payment.Transaction{
		Provider:    payment.ProviderPayPal,
		ID:          "5O190127TN364715T",
		RedirectURL: "https://www.paypal.com/checkoutnow?token=5O190127TN364715T",
		Status:      "CREATED",
	}, tx)
	assert.Equal(t, int32(1), fake.tokens.Load())

	assert.Equal(t, "CAPTURE", got["intent"])
	unit := got["purchase_units"].([]any)[0].(map[string]any)
	assert.Equal(t, map[string]any{"currency_code": "BRL", "value": "280.00"}, unit["amount"])
	assert.Equal(t, "ONEWAY-JESUS-G-1718000000000", unit["custom_id"])
	assert.Equal(t, "Camiseta Jesus - Tamanho G x2; Camiseta One Way Marrom - Tamanho P", unit["description"])
	appCtx := got["application_context"].(map[string]any)
	assert.Equal(t, "GUEST_CHECKOUT", appCtx["landing_page"])
	assert.Equal(t, "NO_SHIPPING", appCtx["shipping_preference"])
	assert.Equal(t, "ONE WAY 2025", appCtx["brand_name"])
	assert.Equal(t, "https://shop.example.com/paypal-success?external_reference=ONEWAY-JESUS-G-1718000000000&pedido_id=42", appCtx["return_url"])
	assert.Equal(t, "https://shop.example.com/paypal-cancel", appCtx["cancel_url"])
}

func TestAdapter_TokenPerCall(t *testing.T) {
	a, fake := newTestAdapter(t, "secret", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"id": "1", "status": "CREATED", "links": [{"rel": "approve", "href": "https://paypal.example/1"}]}`)
	})

	for i := 0; i < 3; i++ {
		_, err := a.CreateTransaction(context.Background(), testIntent())
		require.NoError(t, err)
	}
	assert.Equal(t, int32(3), fake.tokens.Load())
}

func TestAdapter_AuthenticationFailure(t *testing.T) {
	a, _ := newTestAdapter(t, "wrong", func(w http.ResponseWriter, _ *http.Request) {
		t.Error("order endpoint must not be called without a token")
	})

	_, err := a.CreateTransaction(context.Background(), testIntent())
	var pErr *payment.ProviderError
	require.ErrorAs(t, err, &pErr)
	assert.Equal(t, "authentication failed", pErr.Summary)
	assert.Equal(t, http.StatusUnauthorized, pErr.Status)
}

func TestAdapter_CreateTransactionWithoutApproveLink(t *testing.T) {
	a, _ := newTestAdapter(t, "secret", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"id": "1", "status": "CREATED", "links": []}`)
	})

	_, err := a.CreateTransaction(context.Background(), testIntent())
	var pErr *payment.ProviderError
	require.ErrorAs(t, err, &pErr)
	assert.Equal(t, "order has no approval link", pErr.Summary)
}

func TestAdapter_CaptureTransaction(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		want      *payment.Capture
		wantErr   error
		completed bool
	}{
		{
			name:   "completed",
			status: http.StatusCreated,
			body: `{
				"id": "5O190127TN364715T",
				"status": "COMPLETED",
				"purchase_units": [{"reference_id": "default", "payments": {"captures": [{"id": "3C679366HH908993F", "status": "COMPLETED", "custom_id": "ONEWAY-MARROM-P-1"}]}}]
			}`,
			want: &payment.Capture{
				Provider: payment.ProviderPayPal, TransactionID: "5O190127TN364715T", PaymentID: "3C679366HH908993F", Status: "COMPLETED",
				ExternalReference: "ONEWAY-MARROM-P-1",
			},
			completed: true,
		},
		{
			name:   "pending review",
			status: http.StatusCreated,
			body:   `{"id": "5O190127TN364715T", "status": "PAYER_ACTION_REQUIRED"}`,
			want: &payment.Capture{
				Provider: payment.ProviderPayPal, TransactionID: "5O190127TN364715T", PaymentID: "5O190127TN364715T", Status: "PAYER_ACTION_REQUIRED",
			},
		},
		{
			name:    "already captured",
			status:  http.StatusUnprocessableEntity,
			body:    `{"name": "UNPROCESSABLE_ENTITY", "details": [{"issue": "ORDER_ALREADY_CAPTURED", "description": "Order already captured."}]}`,
			wantErr: payment.ErrAlreadyCaptured,
		},
		{
			name:   "not approved",
			status: http.StatusUnprocessableEntity,
			body:   `{"name": "UNPROCESSABLE_ENTITY", "message": "The requested action could not be performed", "details": [{"issue": "ORDER_NOT_APPROVED"}]}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, _ := newTestAdapter(t, "secret", func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/v2/checkout/orders/5O190127TN364715T/capture", r.URL.Path)
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			})

			got, err := a.CaptureTransaction(context.Background(), "5O190127TN364715T")
			if tt.want == nil {
				var pErr *payment.ProviderError
				require.ErrorAs(t, err, &pErr)
				assert.Equal(t, tt.status, pErr.Status)
				if tt.wantErr != nil {
					require.ErrorIs(t, err, tt.wantErr)
				} else {
					assert.NotErrorIs(t, err, payment.ErrAlreadyCaptured)
				}
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.completed, got.Completed())
		})
	}
}

func TestAdapter_TransactionDetails(t *testing.T) {
	a, _ := newTestAdapter(t, "secret", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/checkout/orders/5O190127TN364715T" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"name": "RESOURCE_NOT_FOUND", "message": "The specified resource does not exist."}`)
			return
		}
		_, _ = io.WriteString(w, `{
			"id": "5O190127TN364715T",
			"status": "COMPLETED",
			"payer": {"email_address": "maria@example.com"},
			"purchase_units": [{
				"custom_id": "ONEWAY-JESUS-G-1718000000000",
				"amount": {"currency_code": "BRL", "value": "280.00"},
				"payments": {"captures": [{"id": "3C679366HH908993F", "status": "COMPLETED"}]}
			}]
		}`)
	})

	d, err := a.TransactionDetails(context.Background(), "5O190127TN364715T", payment.DetailsQuery{})
	require.NoError(t, err)
	assert.Equal(t, "COMPLETED", d.Status)
	assert.Equal(t, "3C679366HH908993F", d.PaymentID)
	assert.Equal(t, "ONEWAY-JESUS-G-1718000000000", d.ExternalReference)
	assert.Equal(t, "BRL", d.Currency)
	assert.Equal(t, "maria@example.com", d.PayerEmail)
	require.True(t, d.Amount.Valid)
	assert.True(t, decimal.RequireFromString("280").Equal(d.Amount.Decimal))

	_, err = a.TransactionDetails(context.Background(), "missing", payment.DetailsQuery{})
	var pErr *payment.ProviderError
	require.ErrorAs(t, err, &pErr)
	assert.Equal(t, http.StatusNotFound, pErr.Status)
}

func TestNew(t *testing.T) {
	_, err := New(Config{})
	require.ErrorIs(t, err, payment.ErrProviderNotConfigured)

	_, err = New(Config{ClientID: "a", ClientSecret: "b", Environment: "staging"})
	require.Error(t, err)

	a, err := New(Config{ClientID: "a", ClientSecret: "b", Environment: EnvSandbox})
	require.NoError(t, err)
	assert.Equal(t, SandboxBaseURL, a.cfg.BaseURL)
}
