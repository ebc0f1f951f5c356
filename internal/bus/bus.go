// Package bus provides event bus implementations for the events the
// retrieval core publishes downstream: completed query traces and
// namespace-cache invalidations. The core has no consumer surface of its
// own, so Bus is a publish-only contract.
package bus

import "context"

// Bus defines the interface every event bus implementation satisfies.
type Bus interface {
	// Publish publishes an event to a topic.
	Publish(ctx context.Context, topic string, event Event) error

	// Close closes the bus and releases resources.
	Close() error
}

// Event represents a bus event.
type Event struct {
	// ID is the unique event identifier.
	ID string `json:"id"`

	// Type is the event type (e.g., "retrieval.query.trace").
	Type string `json:"type"`

	// Source is the component that generated the event.
	Source string `json:"source"`

	// Timestamp is when the event was created.
	Timestamp int64 `json:"timestamp"`

	// CorrelationID links an event back to the request that produced it.
	CorrelationID string `json:"correlation_id,omitempty"`

	// Payload contains the event data.
	Payload any `json:"payload"`
}

// Topics published by the retrieval core.
const (
	// TopicQueryTrace carries a completed request's structured trace
	// (internal/telemetry.QueryTrace) for downstream evaluation/monitoring
	// consumers. The core never subscribes to it; it only publishes.
	TopicQueryTrace = "retrieval.query.trace"

	// TopicNamespaceInvalidated is published whenever a namespace's cache
	// entries are invalidated, so other processes sharing a remote cache
	// tier can react.
	TopicNamespaceInvalidated = "retrieval.namespace.invalidated"
)
