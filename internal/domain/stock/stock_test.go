package stock

import (
	"context"
	"testing"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type mockBackend struct {
	available map[string]int
	err       error
	decrement *Decrement

	validated   [][]Item
	decremented [][]Item
}

func (m *mockBackend) ValidateStock(_ context.Context, items []Item) (*Validation, error) {
	m.validated = append(m.validated, items)
	if m.err != nil {
		return nil, m.err
	}
	res := &Validation{CanProceed: true}
	for _, it := range items {
		avail, ok := m.available[it.StockID]
		if !ok {
			res.CanProceed = false
			res.Errors = append(res.Errors, "product "+it.StockID+" not found")
			continue
		}
		r := ItemResult{StockID: it.StockID, Requested: it.Quantity, Available: avail, CanBuy: avail >= it.Quantity}
		if !r.CanBuy {
			res.CanProceed = false
		}
		res.Items = append(res.Items, r)
	}
	return res, nil
}

func (m *mockBackend) DecrementStock(_ context.Context, items []Item, _ string) (*Decrement, error) {
	m.decremented = append(m.decremented, items)
	if m.err != nil {
		return nil, m.err
	}
	return m.decrement, nil
}

func TestValidator_ValidateBatch(t *testing.T) {
	tests := []struct {
		name      string
		available map[string]int
		items     []Item
		proceed   bool
		short     []string
	}{
		{
			name:      "enough stock",
			available: map[string]int{"11": 3, "12": 1},
			items:     []Item{{StockID: "11", Quantity: 2}, {StockID: "12", Quantity: 1}},
			proceed:   true,
		},
		{
			name:      "zero stock",
			available: map[string]int{"11": 0},
			items:     []Item{{StockID: "11", Quantity: 1}},
			short:     []string{"11"},
		},
		{
			name:      "exact stock",
			available: map[string]int{"11": 2},
			items:     []Item{{StockID: "11", Quantity: 2}},
			proceed:   true,
		},
		{
			name:      "duplicate lines are merged",
			available: map[string]int{"11": 2},
			items:     []Item{{StockID: "11", Quantity: 1}, {StockID: "11", Quantity: 2}},
			short:     []string{"11"},
		},
		{
			name:      "unknown unit",
			available: map[string]int{},
			items:     []Item{{StockID: "99", Quantity: 1}},
			short:     []string{"99"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewValidator(&mockBackend{available: tt.available})

			res := v.ValidateBatch(context.Background(), tt.items)
			assert.Equal(t, tt.proceed, res.CanProceed)
			assert.False(t, res.Unavailable)

			var short []string
			for _, r := range res.Insufficient() {
				short = append(short, r.StockID)
				assert.NotEmpty(t, r.Error)
			}
			assert.Equal(t, tt.short, short)
		})
	}
}

func TestValidator_ValidateBatch_SkipsItemsWithoutStockID(t *testing.T) {
	backend := &mockBackend{}
	v := NewValidator(backend)

	res := v.ValidateBatch(context.Background(), []Item{{Quantity: 1}})
	assert.True(t, res.CanProceed)
	assert.Empty(t, backend.validated)
}

func TestValidator_ValidateBatch_FailsClosed(t *testing.T) {
	v := NewValidator(&mockBackend{err: errors.New("dial tcp: connection refused")})

	res := v.ValidateBatch(context.Background(), []Item{{StockID: "11", Quantity: 1}})
	assert.False(t, res.CanProceed)
	assert.True(t, res.Unavailable)
	assert.NotEmpty(t, res.Errors)
}

func TestValidator_DecrementBatch(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		backend := &mockBackend{decrement: &Decrement{
			Success:   true,
			Processed: []Processed{{StockID: "11", Quantity: 2, Remaining: 1}},
		}}
		v := NewValidator(backend)

		res := v.DecrementBatch(context.Background(), []Item{{StockID: "11", Quantity: 1}, {StockID: "11", Quantity: 1}}, "42")
		require.True(t, res.Success)
		require.Len(t, backend.decremented, 1)
		assert.Equal(t, []Item{{StockID: "11", Quantity: 2}}, backend.decremented[0])
	})

	t.Run("rejected without detail", func(t *testing.T) {
		v := NewValidator(&mockBackend{decrement: &Decrement{}})

		res := v.DecrementBatch(context.Background(), []Item{{StockID: "11", Quantity: 1}}, "42")
		assert.False(t, res.Success)
		assert.False(t, res.Unavailable)
		assert.Equal(t, []string{"stock decrement rejected"}, res.Errors)
	})

	t.Run("backend unreachable", func(t *testing.T) {
		v := NewValidator(&mockBackend{err: context.DeadlineExceeded})

		res := v.DecrementBatch(context.Background(), []Item{{StockID: "11", Quantity: 1}}, "42")
		assert.False(t, res.Success)
		assert.True(t, res.Unavailable)
	})

	t.Run("nothing to decrement", func(t *testing.T) {
		backend := &mockBackend{}
		core, logs := observer.New(zapcore.InfoLevel)
		ctx := zctx.Base(context.Background(), zap.New(core))

		res := NewValidator(backend).DecrementBatch(ctx, []Item{{Quantity: 1}, {Quantity: 2}}, "42")
		assert.True(t, res.Success)
		assert.True(t, res.Skipped)
		assert.Empty(t, backend.decremented)

		entries := logs.FilterMessage("Stock decrement skipped, no item carries a stock id").All()
		require.Len(t, entries, 1)
		assert.Equal(t, "42", entries[0].ContextMap()["order_id"])
		assert.Equal(t, int64(2), entries[0].ContextMap()["items"])
	})
}

func TestMerge(t *testing.T) {
	got := Merge([]Item{
		{StockID: "2", Quantity: 1},
		{StockID: "", Quantity: 5},
		{StockID: "1", Quantity: 1},
		{StockID: "2", Quantity: 3},
		{StockID: "3", Quantity: 0},
	})
	assert.Equal(t, []Item{{StockID: "2", Quantity: 4}, {StockID: "1", Quantity: 1}}, got)
}
