// Package api exposes the retrieval core over HTTP: the retrieve endpoint,
// namespace cache invalidation, health/readiness checks, and Prometheus
// metrics exposition.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/hybridretrieval/retrieval-core/internal/bus"
	"github.com/hybridretrieval/retrieval-core/internal/orchestrator"
	"github.com/hybridretrieval/retrieval-core/internal/pkg/errors"
	"github.com/hybridretrieval/retrieval-core/internal/pkg/logger"
	"github.com/hybridretrieval/retrieval-core/internal/pkg/reqctx"
	"github.com/hybridretrieval/retrieval-core/internal/telemetry"
	"github.com/hybridretrieval/retrieval-core/internal/types"
)

// NamespaceInvalidator is the subset of the relevance cache the invalidate
// endpoint needs.
type NamespaceInvalidator interface {
	InvalidateNamespace(namespace string) int
}

// Handler wires the orchestrator and its supporting services into a set of
// HTTP handlers.
type Handler struct {
	orchestrator *orchestrator.Orchestrator
	cache        NamespaceInvalidator
	bus          bus.Bus
	metrics      *telemetry.Metrics
	log          *logger.Logger
}

// NewHandler creates a Handler. bus may be nil to disable invalidation
// events.
func NewHandler(o *orchestrator.Orchestrator, cache NamespaceInvalidator, eventBus bus.Bus, metrics *telemetry.Metrics, log *logger.Logger) *Handler {
	return &Handler{orchestrator: o, cache: cache, bus: eventBus, metrics: metrics, log: log}
}

// RetrieveRequest is the JSON request body for POST /v1/retrieve.
type RetrieveRequest struct {
	Query           string         `json:"query"`
	Namespace       string         `json:"namespace"`
	TopK            int            `json:"top_k,omitempty"`
	ExplicitIntent  string         `json:"intent,omitempty"`
	ExplicitWeights *WeightsDTO    `json:"weights,omitempty"`
	ChannelTopK     map[string]int `json:"channel_top_k,omitempty"`
	DisableChannels []string       `json:"disable_channels,omitempty"`
	BypassCache     bool           `json:"bypass_cache,omitempty"`
}

// WeightsDTO mirrors types.WeightProfile for wire transport.
type WeightsDTO struct {
	Vector      float64 `json:"vector"`
	Sparse      float64 `json:"sparse"`
	GraphLocal  float64 `json:"graph_local"`
	GraphGlobal float64 `json:"graph_global"`
}

// FusedEntryDTO is one ranked result in a RetrieveResponse.
type FusedEntryDTO struct {
	ChunkID      string         `json:"chunk_id"`
	Namespace    string         `json:"namespace"`
	Score        float64        `json:"score"`
	Provenance   []types.Channel `json:"provenance"`
	ChannelRanks map[string]int `json:"channel_ranks,omitempty"`
}

// RetrieveResponse is the JSON response body for POST /v1/retrieve.
type RetrieveResponse struct {
	Results []FusedEntryDTO `json:"results"`
	Count   int             `json:"count"`
}

// HandleRetrieve handles POST /v1/retrieve.
func (h *Handler) HandleRetrieve(w http.ResponseWriter, r *http.Request) {
	var req RetrieveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.WriteError(w, errors.InvalidRequestError("invalid request body: "+err.Error()))
		return
	}
	if req.Query == "" {
		errors.WriteError(w, errors.ValidationError("query is required"))
		return
	}

	query := types.Query{
		Text:        req.Query,
		Namespace:   req.Namespace,
		TopK:        req.TopK,
		BypassCache: req.BypassCache,
	}
	if req.ExplicitIntent != "" {
		query.ExplicitIntent = types.Intent(req.ExplicitIntent)
	}
	if req.ExplicitWeights != nil {
		query.ExplicitProfile = &types.WeightProfile{
			Vector:      req.ExplicitWeights.Vector,
			Sparse:      req.ExplicitWeights.Sparse,
			GraphLocal:  req.ExplicitWeights.GraphLocal,
			GraphGlobal: req.ExplicitWeights.GraphGlobal,
		}
	}
	if len(req.ChannelTopK) > 0 {
		query.ChannelTopK = make(map[types.Channel]int, len(req.ChannelTopK))
		for k, v := range req.ChannelTopK {
			query.ChannelTopK[types.Channel(k)] = v
		}
	}
	query.ChannelMask = types.AllChannelsEnabled
	for _, c := range req.DisableChannels {
		query.ChannelMask = query.ChannelMask.Without(types.Channel(c))
	}

	result, err := h.orchestrator.Retrieve(r.Context(), query)
	if err != nil {
		errors.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toRetrieveResponse(result))
}

func toRetrieveResponse(result types.FusedResult) RetrieveResponse {
	entries := make([]FusedEntryDTO, len(result.Entries))
	for i, e := range result.Entries {
		ranks := make(map[string]int, len(e.ChannelRanks))
		for c, rank := range e.ChannelRanks {
			ranks[string(c)] = rank
		}
		entries[i] = FusedEntryDTO{
			ChunkID:      e.ChunkRef.ChunkID,
			Namespace:    e.ChunkRef.Namespace,
			Score:        e.FusedScore,
			Provenance:   e.ChunkRef.Provenance,
			ChannelRanks: ranks,
		}
	}
	return RetrieveResponse{Results: entries, Count: len(entries)}
}

// InvalidateResponse is the JSON response body for the namespace
// invalidation endpoint.
type InvalidateResponse struct {
	Namespace      string `json:"namespace"`
	EntriesEvicted int    `json:"entries_evicted"`
}

// HandleInvalidateNamespace handles POST /v1/namespaces/{namespace}/invalidate.
func (h *Handler) HandleInvalidateNamespace(w http.ResponseWriter, r *http.Request) {
	namespace := r.PathValue("namespace")
	if namespace == "" {
		errors.WriteError(w, errors.ValidationError("namespace path parameter is required"))
		return
	}

	evicted := h.cache.InvalidateNamespace(namespace)

	if h.bus != nil {
		event := bus.Event{
			Type:          bus.TopicNamespaceInvalidated,
			Source:        "api",
			Timestamp:     time.Now().Unix(),
			CorrelationID: reqctx.RequestID(r.Context()),
			Payload:       map[string]any{"namespace": namespace, "entries_evicted": evicted},
		}
		if err := h.bus.Publish(r.Context(), bus.TopicNamespaceInvalidated, event); err != nil {
			h.log.WithContext(r.Context()).Warn("failed to publish namespace invalidation", "namespace", namespace, "error", err)
		}
	}

	writeJSON(w, http.StatusOK, InvalidateResponse{Namespace: namespace, EntriesEvicted: evicted})
}

// RegisterRoutes registers the retrieval core's routes with mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/retrieve", h.HandleRetrieve)
	mux.HandleFunc("POST /v1/namespaces/{namespace}/invalidate", h.HandleInvalidateNamespace)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
