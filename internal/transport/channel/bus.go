package channel

import (
	"context"
	"errors"
	"time"

	"github.com/rcisneros138/shopify-lifetime-value-discounts/internal/domain"
)

// DefaultEmitTimeout bounds how long Emit waits on a saturated buffer
// before giving up. Observers drop the trigger on timeout and rely on the
// next mutation to catch up.
const DefaultEmitTimeout = 2 * time.Second

var ErrBufferFull = errors.New("cart event buffer full")

// MetricsSink receives buffer health updates from the bus.
type MetricsSink interface {
	BufferSizeUpdate(size int)
	BufferCapacitySet(capacity int)
	BufferSaturationUpdate(saturation float64)
	EmitError()
}

// EventBus carries cart mutation triggers from observers to the monitor
// loop. Multiple observers emit; the monitor is the single consumer.
type EventBus struct {
	ch          chan domain.CartEvent
	emitTimeout time.Duration
	metrics     MetricsSink
}

type Option func(*EventBus)

func WithEmitTimeout(d time.Duration) Option {
	return func(b *EventBus) {
		b.emitTimeout = d
	}
}

func WithMetrics(sink MetricsSink) Option {
	return func(b *EventBus) {
		b.metrics = sink
	}
}

func NewEventBus(buffer int, opts ...Option) *EventBus {
	b := &EventBus{
		ch:          make(chan domain.CartEvent, buffer),
		emitTimeout: DefaultEmitTimeout,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.metrics != nil {
		b.metrics.BufferCapacitySet(buffer)
	}
	return b
}

// Emit enqueues an event, waiting up to the emit timeout when the buffer is
// full. Returns ErrBufferFull on timeout and ctx.Err() on cancellation.
func (b *EventBus) Emit(ctx context.Context, event domain.CartEvent) error {
	timer := time.NewTimer(b.emitTimeout)
	defer timer.Stop()

	select {
	case b.ch <- event:
		b.updateBufferMetrics()
		return nil
	case <-timer.C:
		if b.metrics != nil {
			b.metrics.EmitError()
		}
		return ErrBufferFull
	case <-ctx.Done():
		if b.metrics != nil {
			b.metrics.EmitError()
		}
		return ctx.Err()
	}
}

func (b *EventBus) Channel() <-chan domain.CartEvent {
	return b.ch
}

func (b *EventBus) updateBufferMetrics() {
	if b.metrics == nil {
		return
	}
	size := len(b.ch)
	capacity := cap(b.ch)
	b.metrics.BufferSizeUpdate(size)
	if capacity > 0 {
		b.metrics.BufferSaturationUpdate(float64(size) / float64(capacity))
	}
}
