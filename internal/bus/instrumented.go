package bus

import (
	"context"
	"time"
)

// MetricsRecorder is an interface for recording bus metrics.
// This avoids import cycles with the telemetry package.
type MetricsRecorder interface {
	RecordBusPublish(topic string, latencyMs int64, err error)
}

// InstrumentedBus wraps a Bus implementation with metrics instrumentation.
type InstrumentedBus struct {
	inner   Bus
	metrics MetricsRecorder
}

// NewInstrumentedBus creates a new instrumented bus that records metrics.
func NewInstrumentedBus(inner Bus, metrics MetricsRecorder) *InstrumentedBus {
	return &InstrumentedBus{
		inner:   inner,
		metrics: metrics,
	}
}

// Publish publishes an event to a topic and records metrics.
func (b *InstrumentedBus) Publish(ctx context.Context, topic string, event Event) error {
	start := time.Now()
	err := b.inner.Publish(ctx, topic, event)
	latencyMs := time.Since(start).Milliseconds()

	if b.metrics != nil {
		b.metrics.RecordBusPublish(topic, latencyMs, err)
	}

	return err
}

// Close closes the underlying bus.
func (b *InstrumentedBus) Close() error {
	return b.inner.Close()
}
