// Package kafka publishes checkout events to Kafka.
package kafka

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/xenking/oneway-checkout/internal/domain/pricing"
)

// EventPriceDivergence is the type header of divergence events.
const EventPriceDivergence = "checkout.price_divergence"

var _ pricing.FraudRecorder = (*FraudRecorder)(nil)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// ParseBrokers splits a comma-separated broker list.
func ParseBrokers(csv string) []string {
	var out []string
	for _, b := range strings.Split(csv, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// NewWriter returns an asynchronous writer for topic. Messages are keyed by
// product key; delivery failures are reported to lg.
func NewWriter(lg *zap.Logger, brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
		Async:        true,
		Completion: func(msgs []kafka.Message, err error) {
			if err != nil {
				lg.Warn("Deliver price divergence failed", zap.Int("messages", len(msgs)), zap.Error(err))
			}
		},
	}
}

const defaultQueueSize = 256

type event struct {
	msg kafka.Message
	lg  *zap.Logger
}

// FraudRecorder publishes price divergences from a background goroutine.
// RecordDivergence never blocks: when the queue is full the event is dropped
// and logged. Publishing failures never reach the checkout.
type FraudRecorder struct {
	w       messageWriter
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	queue  chan event
	done   chan struct{}
}

// NewFraudRecorder creates a FraudRecorder over w and starts its publisher.
func NewFraudRecorder(w *kafka.Writer) *FraudRecorder {
	return newFraudRecorder(w, defaultQueueSize)
}

func newFraudRecorder(w messageWriter, queueSize int) *FraudRecorder {
	r := &FraudRecorder{
		w:       w,
		timeout: 5 * time.Second,
		queue:   make(chan event, queueSize),
		done:    make(chan struct{}),
	}
	go r.run()
	return r
}

func (r *FraudRecorder) run() {
	defer close(r.done)
	for ev := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		if err := r.w.WriteMessages(ctx, ev.msg); err != nil {
			ev.lg.Warn("Publish price divergence failed",
				zap.String("product_key", string(ev.msg.Key)),
				zap.Error(err),
			)
		}
		cancel()
	}
}

// RecordDivergence implements pricing.FraudRecorder.
func (r *FraudRecorder) RecordDivergence(ctx context.Context, d pricing.Divergence) {
	lg := zctx.From(ctx)
	ev := event{
		msg: kafka.Message{
			Key:   []byte(d.ProductKey),
			Value: encodeDivergence(d),
			Time:  d.At.UTC(),
			Headers: []kafka.Header{
				{Key: "type", Value: []byte(EventPriceDivergence)},
			},
		},
		lg: lg,
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		lg.Warn("Price divergence event dropped, recorder closed", zap.String("product_key", d.ProductKey))
		return
	}
	select {
	case r.queue <- ev:
	default:
		lg.Warn("Price divergence event dropped, queue full", zap.String("product_key", d.ProductKey))
	}
}

// Close publishes queued events and closes the writer.
func (r *FraudRecorder) Close() error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()
	<-r.done
	return r.w.Close()
}

func encodeDivergence(d pricing.Divergence) []byte {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("product_id", func(e *jx.Encoder) { e.Str(d.ProductID) })
		e.Field("product_key", func(e *jx.Encoder) { e.Str(d.ProductKey) })
		e.Field("title", func(e *jx.Encoder) { e.Str(d.Title) })
		e.Field("size", func(e *jx.Encoder) { e.Str(d.Size) })
		e.Field("catalog_price", func(e *jx.Encoder) { e.Str(d.CatalogPrice.StringFixed(2)) })
		e.Field("client_price", func(e *jx.Encoder) { e.Str(d.ClientPrice.StringFixed(2)) })
		e.Field("client_ip", func(e *jx.Encoder) { e.Str(d.ClientIP) })
		e.Field("user_agent", func(e *jx.Encoder) { e.Str(d.UserAgent) })
		e.Field("at", func(e *jx.Encoder) { e.Str(d.At.UTC().Format(time.RFC3339Nano)) })
	})
	return e.Bytes()
}
