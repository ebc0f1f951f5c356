package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// Pinger is implemented by anything the readiness check needs to probe
// (Qdrant, the graph store, etc).
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthStatus is the JSON body returned by /readyz.
type HealthStatus struct {
	Status     string               `json:"status"` // healthy, unhealthy
	Version    string               `json:"version,omitempty"`
	Uptime     string               `json:"uptime,omitempty"`
	Components map[string]Component `json:"components"`
}

// Component reports one dependency's health.
type Component struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Latency int64  `json:"latency_ms,omitempty"`
}

// HealthHandler serves liveness and readiness endpoints.
type HealthHandler struct {
	deps      map[string]Pinger
	startTime time.Time
	version   string
}

// NewHealthHandler creates a HealthHandler. deps names each dependency the
// readiness check pings (e.g. "qdrant", "graph_store").
func NewHealthHandler(deps map[string]Pinger, version string) *HealthHandler {
	return &HealthHandler{deps: deps, startTime: time.Now(), version: version}
}

// HandleHealth handles GET /healthz: a bare liveness check that never
// touches a dependency.
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleReady handles GET /readyz: pings every registered dependency and
// reports healthy, or unhealthy with a 503 if any dependency fails its ping.
func (h *HealthHandler) HandleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := HealthStatus{Status: "healthy", Version: h.version, Components: make(map[string]Component)}
	status.Uptime = time.Since(h.startTime).Round(time.Second).String()

	for name, dep := range h.deps {
		start := time.Now()
		err := dep.Ping(ctx)
		latency := time.Since(start).Milliseconds()
		if err != nil {
			status.Components[name] = Component{Status: "unhealthy", Message: err.Error(), Latency: latency}
			status.Status = "unhealthy"
			continue
		}
		status.Components[name] = Component{Status: "healthy", Latency: latency}
	}

	code := http.StatusOK
	if status.Status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(status)
}

// RegisterRoutes registers the health routes with mux.
func (h *HealthHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.HandleHealth)
	mux.HandleFunc("GET /readyz", h.HandleReady)
}
