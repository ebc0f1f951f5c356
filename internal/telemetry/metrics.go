package telemetry

import "strings"

// latencyBuckets matches the teacher's millisecond histogram buckets for
// request-scale latencies.
var latencyBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000}

// Metrics holds every counter, gauge, and histogram the retrieval core
// exposes. Construct one per process with NewMetrics; all methods are
// concurrency-safe.
type Metrics struct {
	RequestsTotal    *Counter
	RequestErrors    *CounterVec // labels: code
	RequestLatency   *Histogram
	RequestsInFlight *Gauge

	ChannelRequests *CounterVec   // labels: channel
	ChannelErrors   *CounterVec   // labels: channel
	ChannelLatency  *HistogramVec // labels: channel

	CacheHits   *Counter
	CacheMisses *Counter

	ClassifierFallbacks *Counter
	NoSignalTotal       *Counter
	DegradedTotal       *Counter

	BusPublishes      *CounterVec   // labels: topic
	BusPublishErrors  *CounterVec   // labels: topic
	BusPublishLatency *HistogramVec // labels: topic
}

// NewMetrics constructs a Metrics with every metric initialized.
// PrometheusFormat always emits the unlabeled counters, gauge and histogram;
// a labeled family appears only once at least one label set has been used.
func NewMetrics() *Metrics {
	return &Metrics{
		RequestsTotal:    NewCounter("retrieval_requests_total", "Total number of retrieve() calls"),
		RequestErrors:    NewCounterVec("retrieval_request_errors_total", "Total retrieve() calls that returned an error, by code", []string{"code"}),
		RequestLatency:   NewHistogram("retrieval_request_latency_ms", "End-to-end retrieve() latency in milliseconds", latencyBuckets),
		RequestsInFlight: NewGauge("retrieval_requests_in_flight", "Number of retrieve() calls currently executing"),

		ChannelRequests: NewCounterVec("retrieval_channel_requests_total", "Total channel queries dispatched, by channel", []string{"channel"}),
		ChannelErrors:   NewCounterVec("retrieval_channel_errors_total", "Total channel queries that failed, by channel", []string{"channel"}),
		ChannelLatency:  NewHistogramVec("retrieval_channel_latency_ms", "Per-channel query latency in milliseconds", []string{"channel"}, latencyBuckets),

		CacheHits:   NewCounter("retrieval_cache_hits_total", "Total relevance cache hits"),
		CacheMisses: NewCounter("retrieval_cache_misses_total", "Total relevance cache misses"),

		ClassifierFallbacks: NewCounter("retrieval_classifier_fallbacks_total", "Total intent classifications that used the rule-based fallback"),
		NoSignalTotal:       NewCounter("retrieval_no_signal_total", "Total requests that returned NO_SIGNAL"),
		DegradedTotal:       NewCounter("retrieval_degraded_total", "Total requests that completed with one or two failed channels"),

		BusPublishes:      NewCounterVec("retrieval_bus_publishes_total", "Total events published to the bus, by topic", []string{"topic"}),
		BusPublishErrors:  NewCounterVec("retrieval_bus_publish_errors_total", "Total bus publishes that failed, by topic", []string{"topic"}),
		BusPublishLatency: NewHistogramVec("retrieval_bus_publish_latency_ms", "Bus publish latency in milliseconds, by topic", []string{"topic"}, latencyBuckets),
	}
}

// RecordBusPublish satisfies the bus package's MetricsRecorder so a
// metrics-instrumented bus can report here without an import cycle.
func (m *Metrics) RecordBusPublish(topic string, latencyMs int64, err error) {
	m.BusPublishes.WithLabelValues(topic).Inc()
	m.BusPublishLatency.WithLabelValues(topic).Observe(float64(latencyMs))
	if err != nil {
		m.BusPublishErrors.WithLabelValues(topic).Inc()
	}
}

// PrometheusFormat renders every metric in Prometheus text exposition
// format (https://prometheus.io/docs/instrumenting/exposition_formats/).
func (m *Metrics) PrometheusFormat() string {
	var sb strings.Builder

	writeCounter(&sb, m.RequestsTotal)
	writeCounterVec(&sb, m.RequestErrors)
	writeHistogram(&sb, m.RequestLatency)
	writeGauge(&sb, m.RequestsInFlight)

	writeCounterVec(&sb, m.ChannelRequests)
	writeCounterVec(&sb, m.ChannelErrors)
	writeHistogramVec(&sb, m.ChannelLatency)

	writeCounter(&sb, m.CacheHits)
	writeCounter(&sb, m.CacheMisses)

	writeCounter(&sb, m.ClassifierFallbacks)
	writeCounter(&sb, m.NoSignalTotal)
	writeCounter(&sb, m.DegradedTotal)

	writeCounterVec(&sb, m.BusPublishes)
	writeCounterVec(&sb, m.BusPublishErrors)
	writeHistogramVec(&sb, m.BusPublishLatency)

	return sb.String()
}
