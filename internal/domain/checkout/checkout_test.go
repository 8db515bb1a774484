package checkout

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/oneway-checkout/internal/domain/catalog"
	"github.com/xenking/oneway-checkout/internal/domain/order"
	"github.com/xenking/oneway-checkout/internal/domain/payment"
	"github.com/xenking/oneway-checkout/internal/domain/pricing"
	"github.com/xenking/oneway-checkout/internal/domain/stock"
)

// --- Mock implementations ---

type staticCatalog struct {
	catalog *catalog.Catalog
	err     error
}

func (s staticCatalog) Get(context.Context) (*catalog.Catalog, error) {
	return s.catalog, s.err
}

// journal records the order of external calls across mocks.
type journal struct {
	mu     sync.Mutex
	events []string
}

func (j *journal) add(e string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events = append(j.events, e)
}

type mockOrders struct {
	j *journal

	createErr error
	lineErr   error
	updateErr error
	findErr   error

	created []order.NewOrder
	lines   []order.LineItem
	updates []order.StatusUpdate
	records map[string]*order.Record
}

func (m *mockOrders) Create(_ context.Context, o order.NewOrder) (string, error) {
	m.j.add("order.create")
	if m.createErr != nil {
		return "", m.createErr
	}
	m.created = append(m.created, o)
	return "101", nil
}

func (m *mockOrders) AddLineItem(_ context.Context, item order.LineItem) error {
	m.j.add("order.line_item")
	m.lines = append(m.lines, item)
	return m.lineErr
}

func (m *mockOrders) UpdateStatus(_ context.Context, _ string, u order.StatusUpdate) error {
	m.j.add("order.update")
	m.updates = append(m.updates, u)
	return m.updateErr
}

func (m *mockOrders) Get(_ context.Context, id string) (*order.Record, error) {
	if m.findErr != nil {
		return nil, m.findErr
	}
	if rec, ok := m.records[id]; ok {
		return rec, nil
	}
	return nil, order.ErrNotFound
}

func (m *mockOrders) FindByExternalReference(_ context.Context, ref string) (*order.Record, error) {
	if m.findErr != nil {
		return nil, m.findErr
	}
	for _, rec := range m.records {
		if rec.ExternalReference == ref {
			return rec, nil
		}
	}
	return nil, order.ErrNotFound
}

type mockAdapter struct {
	j        *journal
	provider payment.Provider
	err      error
	intents  []payment.Intent
}

func (m *mockAdapter) Provider() payment.Provider { return m.provider }

func (m *mockAdapter) CreateTransaction(_ context.Context, intent payment.Intent) (*payment.Transaction, error) {
	m.j.add("provider.create")
	m.intents = append(m.intents, intent)
	if m.err != nil {
		return nil, m.err
	}
	return &payment.Transaction{
		Provider:    m.provider,
		ID:          "TX-" + intent.ExternalReference,
		RedirectURL: "https://pay.example.com/" + intent.ExternalReference,
	}, nil
}

type mockCapturer struct {
	mockAdapter
	capture    *payment.Capture
	captureErr error
	details    *payment.Details
	detailsErr error
	captured   []string
}

func (m *mockCapturer) CaptureTransaction(_ context.Context, id string) (*payment.Capture, error) {
	m.j.add("provider.capture")
	m.captured = append(m.captured, id)
	return m.capture, m.captureErr
}

func (m *mockCapturer) TransactionDetails(_ context.Context, _ string, _ payment.DetailsQuery) (*payment.Details, error) {
	return m.details, m.detailsErr
}

type mockStockBackend struct {
	j         *journal
	available map[string]int
	err       error
	decrement *stock.Decrement
	decrCalls int
}

func (m *mockStockBackend) ValidateStock(_ context.Context, items []stock.Item) (*stock.Validation, error) {
	m.j.add("stock.validate")
	if m.err != nil {
		return nil, m.err
	}
	res := &stock.Validation{CanProceed: true}
	for _, it := range items {
		avail := m.available[it.StockID]
		res.Items = append(res.Items, stock.ItemResult{
			StockID: it.StockID, Requested: it.Quantity, Available: avail, CanBuy: avail >= it.Quantity,
		})
	}
	return res, nil
}

func (m *mockStockBackend) DecrementStock(_ context.Context, _ []stock.Item, _ string) (*stock.Decrement, error) {
	m.j.add("stock.decrement")
	m.decrCalls++
	if m.err != nil {
		return nil, m.err
	}
	return m.decrement, nil
}

type collectRecorder struct {
	got []pricing.Divergence
}

func (c *collectRecorder) RecordDivergence(_ context.Context, d pricing.Divergence) {
	c.got = append(c.got, d)
}

// --- Helpers ---

type fixture struct {
	j      *journal
	orders *mockOrders
	stock  *mockStockBackend
	mp     *mockAdapter
	paypal *mockCapturer
	fraud  *collectRecorder
	cat    staticCatalog
	policy pricing.Policy
}

func newFixture() *fixture {
	j := &journal{}
	return &fixture{
		j:      j,
		orders: &mockOrders{j: j, records: map[string]*order.Record{}},
		stock:  &mockStockBackend{j: j, available: map[string]int{}},
		mp:     &mockAdapter{j: j, provider: payment.ProviderMercadoPago},
		paypal: &mockCapturer{mockAdapter: mockAdapter{j: j, provider: payment.ProviderPayPal}},
		fraud:  &collectRecorder{},
		cat:    staticCatalog{catalog: testCatalog()},
		policy: pricing.PolicyLog,
	}
}

func (f *fixture) orchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	pricer := pricing.NewPricer(f.cat, f.fraud, pricing.Config{Policy: f.policy})
	o, err := New(
		pricer,
		stock.NewValidator(f.stock),
		f.orders,
		payment.NewRegistry(f.mp, f.paypal),
		Config{
			Selection:          payment.Selection{Card: payment.ProviderPayPal, Pix: payment.ProviderMercadoPago},
			ReferenceNamespace: "ONEWAY",
		},
		WithClock(func() time.Time { return time.UnixMilli(1718000000000) }),
	)
	require.NoError(t, err)
	return o
}

func testCatalog() *catalog.Catalog {
	return catalog.New([]catalog.Product{
		{
			ID:    "1",
			Key:   "camiseta-marrom",
			Title: "Camiseta One Way Marrom",
			Price: decimal.RequireFromString("80.00"),
			Image: "/img/camisetas/camiseta_marrom.jpeg",
			Sizes: map[string]catalog.Size{
				"P": {Name: "P", StockID: "11", Available: true, Stock: 3},
				"M": {Name: "M", StockID: "12", Available: true, Stock: 1},
			},
		},
		{
			ID:    "2",
			Key:   "camiseta-jesus",
			Title: "Camiseta Jesus",
			Price: decimal.RequireFromString("100.00"),
			Sizes: map[string]catalog.Size{
				"G": {Name: "G", StockID: "21", Available: true, Stock: 2},
			},
		},
	})
}

func buyer() order.Buyer {
	return order.Buyer{Name: "Maria Silva", Email: "maria@example.com", Phone: "16999990000"}
}

func price(s string) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.RequireFromString(s))
}

func requireKind(t *testing.T, err error, kind Kind) *Error {
	t.Helper()
	var cErr *Error
	require.ErrorAs(t, err, &cErr)
	require.Equal(t, kind, cErr.Kind, "error: %v", err)
	return cErr
}

// --- Tests ---

func TestCheckout_PixDiscountRoutesToRegionalWallet(t *testing.T) {
	f := newFixture()
	o := f.orchestrator(t)

	res, err := o.Checkout(context.Background(), Request{
		Buyer:  buyer(),
		Items:  []pricing.Item{{ProductRef: "camiseta-marrom", Size: "P", Quantity: 1, ClientPrice: price("80.00")}},
		Method: "pix",
	})
	require.NoError(t, err)

	assert.Equal(t, payment.ProviderMercadoPago, res.Provider)
	assert.Equal(t, "101", res.OrderID)
	assert.Equal(t, "ONEWAY-MARROM-P-1718000000000", res.ExternalReference)
	assert.NotEmpty(t, res.RedirectURL)
	assert.Equal(t, order.StatusPending, res.Status)
	assert.True(t, decimal.RequireFromString("76").Equal(res.Amount), res.Amount.String())

	require.Len(t, f.mp.intents, 1)
	intent := f.mp.intents[0]
	assert.True(t, decimal.RequireFromString("76").Equal(intent.Amount))
	assert.Equal(t, "101", intent.OrderID)
	assert.Equal(t, res.ExternalReference, intent.ExternalReference)

	require.Len(t, f.orders.created, 1)
	assert.Equal(t, order.StatusPending, f.orders.created[0].Status)
	assert.Equal(t, "camiseta-marrom", f.orders.created[0].ProductKey)
	assert.True(t, decimal.RequireFromString("76").Equal(f.orders.created[0].Price))

	assert.Equal(t, []string{"order.create", "order.line_item", "provider.create", "order.update"}, f.j.events)
	require.Len(t, f.orders.updates, 1)
	assert.Equal(t, res.TransactionID, f.orders.updates[0].PreferenceID)
	assert.Empty(t, f.orders.updates[0].Status, "reconciliation must not mark the order paid")
	assert.Empty(t, f.paypal.intents)
}

func TestCheckout_DivergentPriceChargesCatalogPrice(t *testing.T) {
	f := newFixture()
	o := f.orchestrator(t)

	res, err := o.Checkout(context.Background(), Request{
		Buyer:     buyer(),
		Items:     []pricing.Item{{ProductRef: "camiseta-marrom", Size: "P", Quantity: 1, ClientPrice: price("130.00")}},
		Method:    "2x",
		Requester: pricing.Requester{IP: "203.0.113.9", UserAgent: "curl/8.4"},
	})
	require.NoError(t, err)

	require.Len(t, f.fraud.got, 1)
	assert.Equal(t, "203.0.113.9", f.fraud.got[0].ClientIP)
	assert.Equal(t, 1, res.Divergences)

	assert.Equal(t, payment.ProviderPayPal, res.Provider)
	require.Len(t, f.paypal.intents, 1)
	assert.True(t, decimal.RequireFromString("80").Equal(f.paypal.intents[0].Amount))
	assert.True(t, decimal.RequireFromString("80").Equal(f.paypal.intents[0].Lines[0].UnitPrice))
}

func TestCheckout_ChargedAmountIgnoresClientPrices(t *testing.T) {
	tests := []struct {
		name   string
		method string
		want   string
	}{
		{name: "card", method: "4x", want: "260"},
		{name: "pix", method: "pix", want: "247"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			o := f.orchestrator(t)

			res, err := o.Checkout(context.Background(), Request{
				Buyer: buyer(),
				Items: []pricing.Item{
					{ProductRef: "1", Size: "P", Quantity: 2, ClientPrice: price("0.01")},
					{ProductRef: "camiseta-jesus", Size: "G", Quantity: 1, ClientPrice: price("1.00")},
				},
				Method: tt.method,
			})
			require.NoError(t, err)
			assert.True(t, decimal.RequireFromString(tt.want).Equal(res.Amount), res.Amount.String())
			assert.Len(t, f.fraud.got, 2)
			assert.Len(t, f.orders.lines, 2)
		})
	}
}

func TestCheckout_InsufficientStockCreatesNoOrder(t *testing.T) {
	f := newFixture()
	f.stock.available["11"] = 0
	o := f.orchestrator(t)

	_, err := o.Checkout(context.Background(), Request{
		Buyer:  buyer(),
		Items:  []pricing.Item{{ProductRef: "camiseta-marrom", Size: "P", Quantity: 1, StockID: "11"}},
		Method: "pix",
	})
	cErr := requireKind(t, err, KindBadRequest)
	assert.Equal(t, StateStockChecking, cErr.State)
	require.NotEmpty(t, cErr.Details)
	assert.Contains(t, cErr.Details[0], "Camiseta One Way Marrom (P)")
	assert.Empty(t, f.orders.created)
	assert.Nil(t, cErr.Compensation)
}

func TestCheckout_StockBackendUnreachable(t *testing.T) {
	f := newFixture()
	f.stock.err = errors.New("connection refused")
	o := f.orchestrator(t)

	_, err := o.Checkout(context.Background(), Request{
		Buyer:  buyer(),
		Items:  []pricing.Item{{ProductRef: "camiseta-marrom", Size: "P", Quantity: 1, StockID: "11"}},
		Method: "pix",
	})
	requireKind(t, err, KindUnavailable)
	assert.Empty(t, f.orders.created)
}

func TestCheckout_InPersonDecrementFailureCancelsOrder(t *testing.T) {
	f := newFixture()
	f.stock.available = map[string]int{"11": 3, "21": 2}
	f.stock.decrement = &stock.Decrement{
		Errors: []string{"Camiseta Jesus - G: Estoque insuficiente (disponível: 0, solicitado: 1)"},
	}
	o := f.orchestrator(t)

	_, err := o.Checkout(context.Background(), Request{
		Buyer: buyer(),
		Items: []pricing.Item{
			{ProductRef: "camiseta-marrom", Size: "P", Quantity: 1, StockID: "11"},
			{ProductRef: "camiseta-jesus", Size: "G", Quantity: 1, StockID: "21"},
		},
		Method: "presencial",
	})
	cErr := requireKind(t, err, KindBadRequest)
	assert.Equal(t, StateProviderInvoking, cErr.State)
	assert.Equal(t, []string{"Camiseta Jesus - G: Estoque insuficiente (disponível: 0, solicitado: 1)"}, cErr.Details)

	require.NotNil(t, cErr.Compensation)
	assert.True(t, cErr.Compensation.OK())
	require.Len(t, f.orders.updates, 1)
	assert.Equal(t, order.StatusCancelled, f.orders.updates[0].Status)

	assert.Equal(t, 1, f.stock.decrCalls)
	assert.Empty(t, f.mp.intents)
	assert.Empty(t, f.paypal.intents)
}

func TestCheckout_InPersonSuccess(t *testing.T) {
	f := newFixture()
	f.stock.available = map[string]int{"11": 3}
	f.stock.decrement = &stock.Decrement{Success: true}
	o := f.orchestrator(t)

	res, err := o.Checkout(context.Background(), Request{
		Buyer:  buyer(),
		Items:  []pricing.Item{{ProductRef: "camiseta-marrom", Size: "P", Quantity: 2, StockID: "11"}},
		Method: "presencial",
	})
	require.NoError(t, err)
	assert.Empty(t, res.Provider)
	assert.Empty(t, res.RedirectURL)
	assert.Equal(t, "101", res.OrderID)
	assert.Equal(t, 1, f.stock.decrCalls)
	assert.Equal(t, []string{"stock.validate", "order.create", "order.line_item", "stock.decrement"}, f.j.events)
}

func TestCheckout_ProviderTimeoutMarksOrderRejected(t *testing.T) {
	f := newFixture()
	f.mp.err = &payment.ProviderError{
		Provider: payment.ProviderMercadoPago,
		Summary:  "request failed",
		Err:      context.DeadlineExceeded,
	}
	o := f.orchestrator(t)

	res, err := o.Checkout(context.Background(), Request{
		Buyer:  buyer(),
		Items:  []pricing.Item{{ProductRef: "camiseta-marrom", Size: "P", Quantity: 1}},
		Method: "pix",
	})
	assert.Nil(t, res)
	cErr := requireKind(t, err, KindProvider)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StateProviderInvoking, cErr.State)

	require.NotNil(t, cErr.Compensation)
	assert.Equal(t, "compensate", cErr.Compensation.Step)
	require.Len(t, f.orders.updates, 1)
	assert.Equal(t, order.StatusRejected, f.orders.updates[0].Status)
}

func TestCheckout_CompensationFailureIsReported(t *testing.T) {
	f := newFixture()
	f.mp.err = &payment.ProviderError{Provider: payment.ProviderMercadoPago, Status: 500, Summary: "preference rejected"}
	f.orders.updateErr = errors.New("backend down")
	o := f.orchestrator(t)

	_, err := o.Checkout(context.Background(), Request{
		Buyer:  buyer(),
		Items:  []pricing.Item{{ProductRef: "camiseta-marrom", Size: "P", Quantity: 1}},
		Method: "pix",
	})
	cErr := requireKind(t, err, KindProvider)
	require.NotNil(t, cErr.Compensation)
	assert.False(t, cErr.Compensation.OK())
	assert.Len(t, f.orders.updates, 1, "compensation is attempted once")
}

func TestCheckout_BestEffortFailuresDoNotFailCheckout(t *testing.T) {
	f := newFixture()
	f.orders.lineErr = errors.New("line item rejected")
	f.orders.updateErr = errors.New("timeout")
	o := f.orchestrator(t)

	res, err := o.Checkout(context.Background(), Request{
		Buyer:  buyer(),
		Items:  []pricing.Item{{ProductRef: "camiseta-marrom", Size: "P", Quantity: 1}},
		Method: "pix",
	})
	require.NoError(t, err)
	require.Len(t, res.BestEffort, 2)
	assert.Equal(t, "line_item_0", res.BestEffort[0].Step)
	assert.False(t, res.BestEffort[0].OK())
	assert.Equal(t, "attach_transaction", res.BestEffort[1].Step)
	assert.False(t, res.BestEffort[1].OK())
	assert.NotEmpty(t, res.RedirectURL)
}

func TestCheckout_Rejections(t *testing.T) {
	valid := []pricing.Item{{ProductRef: "camiseta-marrom", Size: "P", Quantity: 1}}

	tests := []struct {
		name    string
		setup   func(f *fixture)
		req     Request
		kind    Kind
		state   State
		details []string
	}{
		{
			name:    "missing buyer email",
			req:     Request{Buyer: order.Buyer{Name: "Maria", Phone: "1"}, Items: valid, Method: "pix"},
			kind:    KindBadRequest,
			state:   StateValidating,
			details: []string{"Buyer.Email is required"},
		},
		{
			name:  "no items",
			req:   Request{Buyer: buyer(), Method: "pix"},
			kind:  KindBadRequest,
			state: StateValidating,
		},
		{
			name:  "missing method",
			req:   Request{Buyer: buyer(), Items: valid},
			kind:  KindBadRequest,
			state: StateValidating,
		},
		{
			name:  "unknown method",
			req:   Request{Buyer: buyer(), Items: valid, Method: "boleto"},
			kind:  KindBadRequest,
			state: StateValidating,
		},
		{
			name:    "zero quantity",
			req:     Request{Buyer: buyer(), Items: []pricing.Item{{ProductRef: "1", Size: "P"}}, Method: "pix"},
			kind:    KindBadRequest,
			state:   StateValidating,
			details: []string{"Items[0].Quantity must be greater than 0"},
		},
		{
			name:  "unknown product",
			req:   Request{Buyer: buyer(), Items: []pricing.Item{{ProductRef: "boné", Size: "P", Quantity: 1}}, Method: "pix"},
			kind:  KindBadRequest,
			state: StatePricing,
		},
		{
			name: "catalog unavailable",
			setup: func(f *fixture) {
				f.cat = staticCatalog{err: errors.Wrap(catalog.ErrUnavailable, "read products.json")}
			},
			req:   Request{Buyer: buyer(), Items: valid, Method: "pix"},
			kind:  KindUnavailable,
			state: StatePricing,
		},
		{
			name: "provider not configured",
			setup: func(f *fixture) {
				f.mp.provider = payment.ProviderStripe
			},
			req:   Request{Buyer: buyer(), Items: valid, Method: "pix"},
			kind:  KindUnavailable,
			state: StateValidating,
		},
		{
			name: "reject policy",
			setup: func(f *fixture) {
				f.policy = pricing.PolicyReject
			},
			req: Request{
				Buyer:  buyer(),
				Items:  []pricing.Item{{ProductRef: "1", Size: "P", Quantity: 1, ClientPrice: price("10.00")}},
				Method: "4x",
			},
			kind:    KindBadRequest,
			state:   StatePricing,
			details: []string{"Camiseta One Way Marrom: current price 80.00"},
		},
		{
			name: "single endpoint rejects divergence",
			req: Request{
				Buyer:  buyer(),
				Items:  []pricing.Item{{ProductRef: "1", Size: "P", Quantity: 1, ClientPrice: price("10.00")}},
				Method: "4x",
				Single: true,
			},
			kind:  KindBadRequest,
			state: StatePricing,
		},
		{
			name: "single endpoint requires one item",
			req: Request{
				Buyer: buyer(),
				Items: []pricing.Item{
					{ProductRef: "1", Size: "P", Quantity: 1},
					{ProductRef: "2", Size: "G", Quantity: 1},
				},
				Method: "4x",
				Single: true,
			},
			kind:  KindBadRequest,
			state: StateValidating,
		},
		{
			name: "backend validation error",
			setup: func(f *fixture) {
				f.orders.createErr = &order.ValidationError{Messages: []string{"email: Informe um endereço de email válido."}}
			},
			req:     Request{Buyer: buyer(), Items: valid, Method: "pix"},
			kind:    KindBadRequest,
			state:   StateOrderCreating,
			details: []string{"email: Informe um endereço de email válido."},
		},
		{
			name: "backend unreachable",
			setup: func(f *fixture) {
				f.orders.createErr = &order.BackendError{Op: "create order", Err: context.DeadlineExceeded}
			},
			req:   Request{Buyer: buyer(), Items: valid, Method: "pix"},
			kind:  KindUnavailable,
			state: StateOrderCreating,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			if tt.setup != nil {
				tt.setup(f)
			}
			o := f.orchestrator(t)

			_, err := o.Checkout(context.Background(), tt.req)
			cErr := requireKind(t, err, tt.kind)
			assert.Equal(t, tt.state, cErr.State)
			if tt.details != nil {
				assert.Equal(t, tt.details, cErr.Details)
			}
			assert.Nil(t, cErr.Compensation)
			assert.Empty(t, f.mp.intents)
			assert.Empty(t, f.paypal.intents)
		})
	}
}
