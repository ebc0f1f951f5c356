// Package telemetry provides the retrieval core's own observability surface:
// a bounded query-trace log and a Prometheus-style metrics exposition, in
// place of a client_golang dependency the example pack never reaches for.
package telemetry

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

// Counter is a monotonically increasing count.
type Counter struct {
	name  string
	help  string
	value int64
}

// NewCounter creates a named counter.
func NewCounter(name, help string) *Counter {
	return &Counter{name: name, help: help}
}

// Inc increments the counter by 1.
func (c *Counter) Inc() { atomic.AddInt64(&c.value, 1) }

// Add adds a non-negative delta to the counter.
func (c *Counter) Add(delta int64) {
	if delta < 0 {
		return
	}
	atomic.AddInt64(&c.value, delta)
}

// Value returns the current count.
func (c *Counter) Value() int64 { return atomic.LoadInt64(&c.value) }

// Gauge is a metric that can move up or down.
type Gauge struct {
	name  string
	help  string
	value int64
}

// NewGauge creates a named gauge.
func NewGauge(name, help string) *Gauge {
	return &Gauge{name: name, help: help}
}

// Set sets the gauge's current value.
func (g *Gauge) Set(v float64) { atomic.StoreInt64(&g.value, int64(v)) }

// Inc increments the gauge by 1.
func (g *Gauge) Inc() { atomic.AddInt64(&g.value, 1) }

// Dec decrements the gauge by 1.
func (g *Gauge) Dec() { atomic.AddInt64(&g.value, -1) }

// Value returns the gauge's current value.
func (g *Gauge) Value() float64 { return float64(atomic.LoadInt64(&g.value)) }

// Histogram tracks a distribution of observations against fixed buckets, in
// addition to a running sum and count for computing an average.
type Histogram struct {
	name    string
	help    string
	buckets []float64

	mu     sync.Mutex
	counts []int64
	sum    float64
	count  int64
}

// NewHistogram creates a histogram with the given bucket upper bounds
// (sorted ascending; an implicit +Inf bucket is appended).
func NewHistogram(name, help string, buckets []float64) *Histogram {
	b := make([]float64, len(buckets))
	copy(b, buckets)
	sort.Float64s(b)
	return &Histogram{name: name, help: help, buckets: b, counts: make([]int64, len(b)+1)}
}

// Observe records a single value.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.sum += v
	h.count++

	idx := len(h.buckets)
	for i, bound := range h.buckets {
		if v <= bound {
			idx = i
			break
		}
	}
	for i := idx; i < len(h.counts); i++ {
		h.counts[i]++
	}
}

func (h *Histogram) snapshot() (buckets []float64, counts []int64, sum float64, count int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	counts = make([]int64, len(h.counts))
	copy(counts, h.counts)
	return h.buckets, counts, h.sum, h.count
}

// labelKey renders a sorted label set into a stable map key, so vectors
// don't depend on caller-supplied label order.
func labelKey(labels map[string]string) string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sb strings.Builder
	for _, k := range keys {
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(labels[k])
		sb.WriteByte(';')
	}
	return sb.String()
}

// CounterVec is a family of counters distinguished by label values.
type CounterVec struct {
	name       string
	help       string
	labelNames []string

	mu       sync.RWMutex
	counters map[string]*Counter
	labelsOf map[string]map[string]string
}

// NewCounterVec creates a counter vector over the given label names.
func NewCounterVec(name, help string, labelNames []string) *CounterVec {
	return &CounterVec{
		name: name, help: help, labelNames: labelNames,
		counters: make(map[string]*Counter),
		labelsOf: make(map[string]map[string]string),
	}
}

// WithLabelValues returns the counter for the given label values, creating
// it on first use.
func (cv *CounterVec) WithLabelValues(values ...string) *Counter {
	if len(values) != len(cv.labelNames) {
		panic(fmt.Sprintf("telemetry: %s expects %d label values, got %d", cv.name, len(cv.labelNames), len(values)))
	}
	labels := make(map[string]string, len(values))
	for i, name := range cv.labelNames {
		labels[name] = values[i]
	}
	key := labelKey(labels)

	cv.mu.RLock()
	c, ok := cv.counters[key]
	cv.mu.RUnlock()
	if ok {
		return c
	}

	cv.mu.Lock()
	defer cv.mu.Unlock()
	if c, ok := cv.counters[key]; ok {
		return c
	}
	c = NewCounter(cv.name, cv.help)
	cv.counters[key] = c
	cv.labelsOf[key] = labels
	return c
}

func (cv *CounterVec) snapshot() []labeledCounter {
	cv.mu.RLock()
	defer cv.mu.RUnlock()
	out := make([]labeledCounter, 0, len(cv.counters))
	for key, c := range cv.counters {
		out = append(out, labeledCounter{labels: cv.labelsOf[key], value: c.Value()})
	}
	return out
}

type labeledCounter struct {
	labels map[string]string
	value  int64
}

// HistogramVec is a family of histograms distinguished by label values.
type HistogramVec struct {
	name       string
	help       string
	labelNames []string
	buckets    []float64

	mu         sync.RWMutex
	histograms map[string]*Histogram
	labelsOf   map[string]map[string]string
}

// NewHistogramVec creates a histogram vector over the given label names.
func NewHistogramVec(name, help string, labelNames []string, buckets []float64) *HistogramVec {
	return &HistogramVec{
		name: name, help: help, labelNames: labelNames, buckets: buckets,
		histograms: make(map[string]*Histogram),
		labelsOf:   make(map[string]map[string]string),
	}
}

// WithLabelValues returns the histogram for the given label values, creating
// it on first use.
func (hv *HistogramVec) WithLabelValues(values ...string) *Histogram {
	if len(values) != len(hv.labelNames) {
		panic(fmt.Sprintf("telemetry: %s expects %d label values, got %d", hv.name, len(hv.labelNames), len(values)))
	}
	labels := make(map[string]string, len(values))
	for i, name := range hv.labelNames {
		labels[name] = values[i]
	}
	key := labelKey(labels)

	hv.mu.RLock()
	h, ok := hv.histograms[key]
	hv.mu.RUnlock()
	if ok {
		return h
	}

	hv.mu.Lock()
	defer hv.mu.Unlock()
	if h, ok := hv.histograms[key]; ok {
		return h
	}
	h = NewHistogram(hv.name, hv.help, hv.buckets)
	hv.histograms[key] = h
	hv.labelsOf[key] = labels
	return h
}

func (hv *HistogramVec) snapshot() []labeledHistogram {
	hv.mu.RLock()
	defer hv.mu.RUnlock()
	out := make([]labeledHistogram, 0, len(hv.histograms))
	for key, h := range hv.histograms {
		buckets, counts, sum, count := h.snapshot()
		out = append(out, labeledHistogram{labels: hv.labelsOf[key], buckets: buckets, counts: counts, sum: sum, count: count})
	}
	return out
}

type labeledHistogram struct {
	labels  map[string]string
	buckets []float64
	counts  []int64
	sum     float64
	count   int64
}
