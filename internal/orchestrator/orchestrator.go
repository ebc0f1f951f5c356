// Package orchestrator implements the end-to-end retrieval request
// pipeline: validate, classify intent, select weights, consult cache,
// embed, dispatch the four channels concurrently, fuse, and cache the
// result. It is the one place that knows about every other package.
package orchestrator

import (
	"context"
	stderrors "errors"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/text/unicode/norm"

	"github.com/hybridretrieval/retrieval-core/internal/bus"
	"github.com/hybridretrieval/retrieval-core/internal/channel"
	"github.com/hybridretrieval/retrieval-core/internal/embedding"
	"github.com/hybridretrieval/retrieval-core/internal/fusion"
	"github.com/hybridretrieval/retrieval-core/internal/pkg/errors"
	"github.com/hybridretrieval/retrieval-core/internal/pkg/hash"
	"github.com/hybridretrieval/retrieval-core/internal/pkg/logger"
	"github.com/hybridretrieval/retrieval-core/internal/pkg/security"
	"github.com/hybridretrieval/retrieval-core/internal/telemetry"
	"github.com/hybridretrieval/retrieval-core/internal/types"
)

// Embedder is the subset of the embedding client the orchestrator needs:
// dense vectors for the vector channel, sparse vectors for the sparse
// channel.
type Embedder interface {
	Dense(ctx context.Context, text string) ([]float32, error)
	Sparse(ctx context.Context, text string) (embedding.SparseVector, error)
}

// IntentClassifier assigns an intent and confidence to query text.
type IntentClassifier interface {
	Classify(ctx context.Context, query string) (types.Classification, error)
}

// Cache is the relevance-cache surface the orchestrator consults and
// populates. GetOrCompute must suppress concurrent-miss stampedes: among
// callers racing on the same key, exactly one compute runs and every
// caller observes its result.
type Cache interface {
	GetOrCompute(ctx context.Context, namespace, key string, compute func(ctx context.Context) (types.FusedResult, error)) (types.FusedResult, error)
	Put(namespace, key string, value types.FusedResult)
}

// Config configures an Orchestrator. Fields mirror spec.md §6's
// configuration surface.
type Config struct {
	RRFK                int
	ChannelTimeout      time.Duration
	RequestDeadline     time.Duration
	MaxInFlightRequests int
	NamespaceDefault    string
	WeightProfiles      map[types.Intent]types.WeightProfile
}

// DefaultConfig returns the configuration surface's documented defaults.
func DefaultConfig() Config {
	return Config{
		RRFK:                fusion.DefaultK,
		ChannelTimeout:      2000 * time.Millisecond,
		RequestDeadline:     5000 * time.Millisecond,
		MaxInFlightRequests: 256,
		NamespaceDefault:    "default",
		WeightProfiles:      types.DefaultWeightProfiles,
	}
}

// Orchestrator implements spec.md §4.5's Retrieve contract.
type Orchestrator struct {
	channels map[types.Channel]channel.Client
	embedder Embedder
	intent   IntentClassifier
	cache    Cache
	log      *logger.Logger
	metrics  *telemetry.Metrics
	traces   *telemetry.Store
	bus      bus.Bus
	cfg      Config

	sem chan struct{}
}

// New constructs an Orchestrator. channels must contain at most one client
// per types.Channel; metrics, traces, and eventBus may be nil to disable
// the corresponding observability surface.
func New(channels []channel.Client, embedder Embedder, intentClassifier IntentClassifier, cache Cache, log *logger.Logger, metrics *telemetry.Metrics, traces *telemetry.Store, eventBus bus.Bus, cfg Config) *Orchestrator {
	if cfg.RRFK <= 0 {
		cfg.RRFK = fusion.DefaultK
	}
	if cfg.ChannelTimeout <= 0 {
		cfg.ChannelTimeout = 2000 * time.Millisecond
	}
	if cfg.RequestDeadline <= 0 {
		cfg.RequestDeadline = 5000 * time.Millisecond
	}
	if cfg.MaxInFlightRequests <= 0 {
		cfg.MaxInFlightRequests = 256
	}
	if cfg.NamespaceDefault == "" {
		cfg.NamespaceDefault = "default"
	}
	if cfg.WeightProfiles == nil {
		cfg.WeightProfiles = types.DefaultWeightProfiles
	}

	byChannel := make(map[types.Channel]channel.Client, len(channels))
	for _, c := range channels {
		byChannel[c.Channel()] = c
	}

	return &Orchestrator{
		channels: byChannel,
		embedder: embedder,
		intent:   intentClassifier,
		cache:    cache,
		log:      log,
		metrics:  metrics,
		traces:   traces,
		bus:      eventBus,
		cfg:      cfg,
		sem:      make(chan struct{}, cfg.MaxInFlightRequests),
	}
}

// retryBackoff is the fixed delay between a transient channel failure and
// its single retry (spec.md §7).
const retryBackoff = 50 * time.Millisecond

// Retrieve runs the full retrieval pipeline for one query.
func (o *Orchestrator) Retrieve(ctx context.Context, q types.Query) (types.FusedResult, error) {
	select {
	case o.sem <- struct{}{}:
		defer func() { <-o.sem }()
	default:
		if o.metrics != nil {
			o.metrics.RequestErrors.WithLabelValues(errors.CodeResourceExhausted).Inc()
		}
		return types.FusedResult{}, errors.ResourceExhaustedError(o.cfg.MaxInFlightRequests)
	}

	if o.metrics != nil {
		o.metrics.RequestsTotal.Inc()
		o.metrics.RequestsInFlight.Inc()
		defer o.metrics.RequestsInFlight.Dec()
	}

	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, o.cfg.RequestDeadline)
	defer cancel()

	result, trace, err := o.retrieve(ctx, q)

	trace.TotalLatency = time.Since(start).Milliseconds()
	if err != nil {
		if appErr, ok := err.(*errors.AppError); ok {
			trace.ErrorCode = appErr.Code
			if o.metrics != nil {
				o.metrics.RequestErrors.WithLabelValues(appErr.Code).Inc()
			}
		}
	}
	if o.metrics != nil {
		o.metrics.RequestLatency.Observe(float64(trace.TotalLatency))
	}
	o.recordTrace(ctx, trace)

	return result, err
}

func (o *Orchestrator) retrieve(ctx context.Context, q types.Query) (types.FusedResult, telemetry.QueryTrace, error) {
	trace := telemetry.QueryTrace{Timestamp: time.Now(), Query: q.Text}

	// 1. Validate and apply defaults.
	namespace := q.Namespace
	if namespace == "" {
		namespace = o.cfg.NamespaceDefault
	}
	topK := q.TopK
	if topK == 0 {
		topK = security.DefaultTopK
	}
	trace.Namespace = namespace

	if err := security.ValidateQuery(q.Text); err != nil {
		return types.FusedResult{}, trace, errors.Wrap(errors.CodeValidation, err.Error(), err)
	}
	if err := security.ValidateNamespace(namespace); err != nil {
		return types.FusedResult{}, trace, errors.Wrap(errors.CodeValidation, err.Error(), err)
	}
	if err := security.ValidateTopK(topK); err != nil {
		return types.FusedResult{}, trace, errors.Wrap(errors.CodeValidation, err.Error(), err)
	}

	// 2. Intent.
	classification := types.Classification{Intent: q.ExplicitIntent, Confidence: 1.0}
	if q.ExplicitIntent == "" {
		c, err := o.intent.Classify(ctx, q.Text)
		if err != nil {
			// spec.md §7: classifier failure degrades silently, never surfaces.
			c = types.Classification{Intent: types.IntentUnknown, Confidence: 0}
		}
		classification = c
	}
	trace.Intent = classification.Intent
	trace.Confidence = classification.Confidence

	// 3. Weight profile.
	profile := o.cfg.WeightProfiles[classification.Intent]
	if q.ExplicitProfile != nil {
		profile = *q.ExplicitProfile
	}

	// 4. Channel mask: caller-forbidden channels, then zero-weight channels.
	mask := q.ChannelMask
	if mask == 0 {
		mask = types.AllChannelsEnabled
	}
	enabled := make(map[types.Channel]bool, len(types.AllChannels))
	for _, c := range types.AllChannels {
		enabled[c] = mask.Enabled(c) && profile.Get(c) > 0 && o.channels[c] != nil
	}
	trace.Weights = profile

	// 5. Cache lookup. The miss path runs under the cache's single-flight
	// guard so a burst of identical queries dispatches the channels once.
	weightHash := hash.SHA256String(weightProfileKey(profile))
	cacheKey := hash.CacheKey(namespace, string(classification.Intent), normalizeQuery(q.Text), topK, uint8(mask), weightHash)

	if q.BypassCache {
		fused, err := o.execute(ctx, &trace, q, namespace, topK, profile, enabled)
		if err != nil {
			return types.FusedResult{}, trace, err
		}
		o.cache.Put(namespace, cacheKey, fused)
		return fused, trace, nil
	}

	computed := false
	fused, err := o.cache.GetOrCompute(ctx, namespace, cacheKey, func(ctx context.Context) (types.FusedResult, error) {
		computed = true
		if o.metrics != nil {
			o.metrics.CacheMisses.Inc()
		}
		return o.execute(ctx, &trace, q, namespace, topK, profile, enabled)
	})
	if err != nil {
		return types.FusedResult{}, trace, err
	}
	if !computed {
		// Served from cache, or coalesced onto another caller's in-flight
		// computation: either way no channel was dispatched for this request.
		trace.CacheHit = true
		trace.ResultCount = len(fused.Entries)
		if o.metrics != nil {
			o.metrics.CacheHits.Inc()
		}
	}
	return fused, trace, nil
}

// execute runs the uncached pipeline tail: embed, dispatch, collect,
// renormalize, fuse (spec.md §4.5 steps 6-12). It never writes the cache;
// the caller decides whether the result is cacheable.
func (o *Orchestrator) execute(ctx context.Context, trace *telemetry.QueryTrace, q types.Query, namespace string, topK int, profile types.WeightProfile, enabled map[types.Channel]bool) (types.FusedResult, error) {
	// 6. Compute embeddings only for enabled channels that need them.
	var denseVec []float32
	var sparseVec embedding.SparseVector
	var denseErr, sparseErr error
	var embedFailed []types.Channel
	needsDense := enabled[types.ChannelVector]
	needsSparse := enabled[types.ChannelSparse]
	if needsDense || needsSparse {
		var wg sync.WaitGroup
		if needsDense {
			wg.Add(1)
			go func() {
				defer wg.Done()
				denseVec, denseErr = o.embedder.Dense(ctx, q.Text)
			}()
		}
		if needsSparse {
			wg.Add(1)
			go func() {
				defer wg.Done()
				sparseVec, sparseErr = o.embedder.Sparse(ctx, q.Text)
			}()
		}
		wg.Wait()
		// An embedding failure disables just the channels that depend on
		// it; they surface below as ordinary channel failures.
		if denseErr != nil {
			enabled[types.ChannelVector] = false
			embedFailed = append(embedFailed, types.ChannelVector)
		}
		if sparseErr != nil {
			enabled[types.ChannelSparse] = false
			embedFailed = append(embedFailed, types.ChannelSparse)
		}
	}

	// 7-9. Dispatch enabled channels concurrently, retry transient
	// failures once, collect outcomes.
	results, failed, channelTraces := o.dispatchChannels(ctx, namespace, q.Text, denseVec, sparseVec, q.ChannelTopK, topK, enabled)
	failed = append(failed, embedFailed...)
	trace.Channels = channelTraces

	// A request whose deadline fired (or whose caller went away) reports
	// that, not a channel-level diagnosis, and must not populate the cache.
	if ctxErr := ctx.Err(); ctxErr != nil {
		if stderrors.Is(ctxErr, context.DeadlineExceeded) {
			return types.FusedResult{}, errors.DeadlineExceededError(int(o.cfg.RequestDeadline / time.Millisecond))
		}
		return types.FusedResult{}, errors.Wrap(errors.CodeDeadlineExceeded, "request canceled", ctxErr)
	}

	if len(failed) >= 3 {
		trace.NoSignal = true
		if o.metrics != nil {
			o.metrics.NoSignalTotal.Inc()
		}
		return types.FusedResult{}, errors.NoSignalError(len(failed))
	}
	if len(failed) > 0 {
		trace.Degraded = true
		if o.metrics != nil {
			o.metrics.DegradedTotal.Inc()
		}
		o.log.WithContext(ctx).Warn("retrieval degraded: channel failures",
			"namespace", namespace, "failed_channels", len(failed))
	}

	// 10. Renormalize weights over channels that actually succeeded.
	succeeded := make(map[types.Channel]bool, len(results))
	for c := range results {
		succeeded[c] = true
	}
	renormalized := fusion.RenormalizeWeights(profile, succeeded)
	trace.Weights = renormalized

	// 11-12. Fuse and attach namespace to each entry.
	fuseStart := time.Now()
	fused := fusion.Fuse(results, fusion.Config{K: o.cfg.RRFK, Weights: renormalized, TopK: topK})
	trace.FusionMs = time.Since(fuseStart).Milliseconds()
	for i := range fused.Entries {
		fused.Entries[i].ChunkRef.Namespace = namespace
	}
	trace.ResultCount = len(fused.Entries)

	return fused, nil
}

// dispatchChannels runs every enabled channel concurrently with its own
// per-channel timeout, retrying once on a transient failure after a fixed
// backoff. It mirrors the errgroup pattern where each goroutine captures
// its own outcome into a result slot and never fails the group, so one
// channel's error cannot cancel the others' in-flight queries.
func (o *Orchestrator) dispatchChannels(ctx context.Context, namespace, queryText string, dense []float32, sparse embedding.SparseVector, channelTopK map[types.Channel]int, defaultTopK int, enabled map[types.Channel]bool) (map[types.Channel]types.ChannelResult, []types.Channel, []telemetry.ChannelTrace) {
	results := make(map[types.Channel]types.ChannelResult)
	var failed []types.Channel
	traces := make([]telemetry.ChannelTrace, 0, len(types.AllChannels))

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)

	for _, c := range types.AllChannels {
		c := c
		if !enabled[c] {
			continue
		}
		client := o.channels[c]

		g.Go(func() error {
			topK := defaultTopK
			if v, ok := channelTopK[c]; ok && v > 0 {
				topK = v
			}
			input := channel.Input{
				Namespace:    namespace,
				QueryText:    queryText,
				DenseVector:  dense,
				SparseVector: sparse,
				TopK:         topK,
			}

			start := time.Now()
			result, err := o.queryWithRetry(gctx, client, input)
			latency := time.Since(start).Milliseconds()

			mu.Lock()
			defer mu.Unlock()
			ct := telemetry.ChannelTrace{Channel: c, Requested: true, LatencyMs: latency}
			if o.metrics != nil {
				o.metrics.ChannelRequests.WithLabelValues(string(c)).Inc()
				o.metrics.ChannelLatency.WithLabelValues(string(c)).Observe(float64(latency))
			}
			if err != nil {
				failed = append(failed, c)
				if o.metrics != nil {
					o.metrics.ChannelErrors.WithLabelValues(string(c)).Inc()
				}
				o.log.WithContext(ctx).Warn("channel query failed", "channel", c, "error", err)
			} else {
				ct.Succeeded = true
				ct.ResultCount = len(result.Items)
				results[c] = result
			}
			traces = append(traces, ct)
			return nil // never fail the group: other channels must keep running
		})
	}

	_ = g.Wait()

	sort.Slice(traces, func(i, j int) bool { return traces[i].Channel < traces[j].Channel })
	return results, failed, traces
}

// queryWithRetry issues one channel query, retrying exactly once after a
// fixed backoff if the failure is marked transient (spec.md §7).
func (o *Orchestrator) queryWithRetry(ctx context.Context, client channel.Client, input channel.Input) (types.ChannelResult, error) {
	result, err := o.channelQuery(ctx, client, input)
	if err == nil {
		return result, nil
	}
	if !channel.IsTransient(err) {
		return types.ChannelResult{}, err
	}

	select {
	case <-ctx.Done():
		return types.ChannelResult{}, err
	case <-time.After(retryBackoff):
	}

	return o.channelQuery(ctx, client, input)
}

func (o *Orchestrator) channelQuery(ctx context.Context, client channel.Client, input channel.Input) (types.ChannelResult, error) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.ChannelTimeout)
	defer cancel()
	return client.Query(ctx, input)
}

func (o *Orchestrator) recordTrace(ctx context.Context, trace telemetry.QueryTrace) {
	if o.traces != nil {
		o.traces.Record(trace)
	}
	if o.bus == nil {
		return
	}
	event := bus.Event{
		Type:          bus.TopicQueryTrace,
		Source:        "orchestrator",
		Timestamp:     trace.Timestamp.Unix(),
		CorrelationID: trace.Namespace + ":" + trace.Query,
		Payload:       trace,
	}
	if err := o.bus.Publish(ctx, bus.TopicQueryTrace, event); err != nil {
		o.log.WithContext(ctx).Warn("failed to publish query trace", "error", err)
	}
}

// normalizeQuery matches the cache key normalization spec.md §4.4 requires:
// lowercase, Unicode NFKC, collapse internal whitespace, trim.
func normalizeQuery(q string) string {
	q = norm.NFKC.String(q)
	return strings.ToLower(strings.TrimSpace(strings.Join(strings.Fields(q), " ")))
}

func weightProfileKey(p types.WeightProfile) string {
	return strconv.FormatFloat(p.Vector, 'f', -1, 64) + "," +
		strconv.FormatFloat(p.Sparse, 'f', -1, 64) + "," +
		strconv.FormatFloat(p.GraphLocal, 'f', -1, 64) + "," +
		strconv.FormatFloat(p.GraphGlobal, 'f', -1, 64)
}
