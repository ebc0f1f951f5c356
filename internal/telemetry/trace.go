package telemetry

import (
	"sync"
	"time"

	"github.com/hybridretrieval/retrieval-core/internal/types"
)

// ChannelTrace records one channel's outcome within a request.
type ChannelTrace struct {
	Channel     types.Channel
	Requested   bool
	Succeeded   bool
	ResultCount int
	LatencyMs   int64
}

// QueryTrace is the structured per-request record spec.md §4.5's
// Observability requirement calls for: intent, weights, per-channel
// outcomes, fusion duration, cache hit/miss, and final result count.
type QueryTrace struct {
	Timestamp    time.Time
	Namespace    string
	Query        string
	Intent       types.Intent
	Confidence   float64
	Weights      types.WeightProfile
	Channels     []ChannelTrace
	CacheHit     bool
	FusionMs     int64
	ResultCount  int
	TotalLatency int64
	Degraded     bool
	NoSignal     bool
	ErrorCode    string
}

// Store is a bounded, in-memory ring of recent QueryTrace records, queryable
// by namespace and time range. Modeled on the teacher's observability
// Service: append-only with FIFO trim once the log grows past capacity.
type Store struct {
	mu       sync.RWMutex
	traces   []QueryTrace
	capacity int
}

// DefaultCapacity bounds the trace log when Config leaves it unset.
const DefaultCapacity = 10000

// NewStore creates a Store. A non-positive capacity falls back to
// DefaultCapacity.
func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{traces: make([]QueryTrace, 0, capacity), capacity: capacity}
}

// Record appends a trace, trimming the oldest 10% once over capacity to
// amortize the resize cost rather than trimming one at a time.
func (s *Store) Record(trace QueryTrace) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.traces = append(s.traces, trace)
	if len(s.traces) > s.capacity {
		drop := s.capacity / 10
		if drop < 1 {
			drop = 1
		}
		s.traces = s.traces[drop:]
	}
}

// Query returns traces within [from, to], optionally filtered to one
// namespace (empty namespace means all namespaces).
func (s *Store) Query(namespace string, from, to time.Time) []QueryTrace {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []QueryTrace
	for _, t := range s.traces {
		if namespace != "" && t.Namespace != namespace {
			continue
		}
		if t.Timestamp.Before(from) || t.Timestamp.After(to) {
			continue
		}
		out = append(out, t)
	}
	return out
}

// Len returns the number of traces currently retained.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.traces)
}
