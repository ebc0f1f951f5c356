package api

import (
	"net/http"

	"github.com/hybridretrieval/retrieval-core/internal/telemetry"
)

// MetricsHandler serves Prometheus text-format metrics at GET /metrics.
type MetricsHandler struct {
	metrics *telemetry.Metrics
}

// NewMetricsHandler creates a MetricsHandler.
func NewMetricsHandler(metrics *telemetry.Metrics) *MetricsHandler {
	return &MetricsHandler{metrics: metrics}
}

func (h *MetricsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	_, _ = w.Write([]byte(h.metrics.PrometheusFormat()))
}

// RegisterRoutes registers the metrics route with mux.
func (h *MetricsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("GET /metrics", h)
}
