package bus

import (
	"context"
	"sync"

	"github.com/hybridretrieval/retrieval-core/internal/pkg/errors"
)

// defaultRetained bounds how many published events MemoryBus keeps per
// topic for inspection.
const defaultRetained = 1000

// MemoryBus is an in-process Bus that retains recently published events in
// a bounded per-topic buffer. It is the default bus for local development
// and tests: nothing downstream consumes the events, but Events lets an
// operator (or a test) inspect what the core published.
type MemoryBus struct {
	mu       sync.RWMutex
	events   map[string][]Event
	retained int
	closed   bool
}

// NewMemoryBus creates a new in-memory event bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		events:   make(map[string][]Event),
		retained: defaultRetained,
	}
}

// Publish records an event under its topic, dropping the oldest retained
// event once the per-topic buffer is full.
func (b *MemoryBus) Publish(ctx context.Context, topic string, event Event) error {
	if err := ctx.Err(); err != nil {
		return errors.Wrap(errors.CodeTimeout, "publish canceled", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return errors.New(errors.CodeUnavailable, "bus is closed")
	}

	buf := append(b.events[topic], event)
	if len(buf) > b.retained {
		buf = buf[len(buf)-b.retained:]
	}
	b.events[topic] = buf
	return nil
}

// Events returns a copy of the retained events for a topic, oldest first.
func (b *MemoryBus) Events(topic string) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]Event(nil), b.events[topic]...)
}

// Close closes the bus. Further publishes fail; retained events are
// released.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.events = nil
	return nil
}
