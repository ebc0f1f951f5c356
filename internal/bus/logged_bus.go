package bus

import (
	"context"

	"github.com/hybridretrieval/retrieval-core/internal/pkg/logger"
)

// LoggedBus wraps another Bus implementation and journals every published
// event to disk. This is useful for debugging and for replaying a day's
// query traces through an offline evaluation harness.
type LoggedBus struct {
	inner       Bus
	eventLogger *EventLogger
	log         *logger.Logger
}

// NewLoggedBus creates a new logged bus that wraps an inner bus.
// Events are journaled before being published to the inner bus.
func NewLoggedBus(inner Bus, eventLogger *EventLogger, log *logger.Logger) *LoggedBus {
	if log == nil {
		log = logger.Default()
	}
	return &LoggedBus{
		inner:       inner,
		eventLogger: eventLogger,
		log:         log,
	}
}

// Publish journals the event and then delegates to the inner bus. A
// journaling failure is logged and dropped; it never fails the publish.
func (b *LoggedBus) Publish(ctx context.Context, topic string, event Event) error {
	if err := b.eventLogger.Log(topic, event); err != nil {
		b.log.Warn("failed to journal event to disk",
			"topic", topic,
			"error", err.Error(),
		)
	}

	return b.inner.Publish(ctx, topic, event)
}

// Close closes both the event logger and the inner bus.
func (b *LoggedBus) Close() error {
	if err := b.eventLogger.Close(); err != nil {
		b.log.Warn("failed to close event logger",
			"error", err.Error(),
		)
	}

	return b.inner.Close()
}
