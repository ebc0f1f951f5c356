package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hybridretrieval/retrieval-core/internal/cache"
	"github.com/hybridretrieval/retrieval-core/internal/channel"
	"github.com/hybridretrieval/retrieval-core/internal/embedding"
	"github.com/hybridretrieval/retrieval-core/internal/pkg/errors"
	"github.com/hybridretrieval/retrieval-core/internal/pkg/logger"
	"github.com/hybridretrieval/retrieval-core/internal/telemetry"
	"github.com/hybridretrieval/retrieval-core/internal/types"
)

// fakeChannel is a scriptable channel.Client for orchestrator tests.
type fakeChannel struct {
	channel types.Channel
	result  types.ChannelResult
	err     error
	delay   time.Duration
	calls   int32
}

func (f *fakeChannel) Channel() types.Channel { return f.channel }

func (f *fakeChannel) Query(ctx context.Context, input channel.Input) (types.ChannelResult, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return types.ChannelResult{}, channel.WithTransient(errors.ChannelFailedError(string(f.channel), ctx.Err()), false)
		}
	}
	if f.err != nil {
		return types.ChannelResult{}, f.err
	}
	return f.result, nil
}

func chunks(channel types.Channel, ids ...string) types.ChannelResult {
	items := make([]types.ScoredChunk, len(ids))
	for i, id := range ids {
		items[i] = types.ScoredChunk{ChunkID: id, Score: float64(len(ids) - i)}
	}
	return types.ChannelResult{Channel: channel, Items: items}
}

type fakeEmbedder struct{}

func (fakeEmbedder) Dense(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0, 0, 0}, nil
}

func (fakeEmbedder) Sparse(ctx context.Context, text string) (embedding.SparseVector, error) {
	return embedding.SparseVector{Indices: []uint32{1}, Values: []float32{1}}, nil
}

type fixedClassifier struct {
	result types.Classification
	calls  int32
}

func (c *fixedClassifier) Classify(ctx context.Context, query string) (types.Classification, error) {
	atomic.AddInt32(&c.calls, 1)
	return c.result, nil
}

// memCache is a minimal in-test double for the Cache interface. It is not
// safe for concurrent miss coalescing; tests that need that use the real
// cache package.
type memCache struct {
	entries map[string]types.FusedResult
}

func newMemCache() *memCache { return &memCache{entries: make(map[string]types.FusedResult)} }

func (c *memCache) GetOrCompute(ctx context.Context, namespace, key string, compute func(ctx context.Context) (types.FusedResult, error)) (types.FusedResult, error) {
	if v, ok := c.entries[key]; ok {
		return v, nil
	}
	v, err := compute(ctx)
	if err != nil {
		return types.FusedResult{}, err
	}
	c.entries[key] = v
	return v, nil
}

func (c *memCache) Put(namespace, key string, value types.FusedResult) {
	c.entries[key] = value
}

func testLogger() *logger.Logger { return logger.New("error", "text") }

func buildOrchestrator(t *testing.T, channels []channel.Client, classifier IntentClassifier, cache Cache) *Orchestrator {
	t.Helper()
	if cache == nil {
		cache = newMemCache()
	}
	return New(channels, fakeEmbedder{}, classifier, cache, testLogger(), telemetry.NewMetrics(), telemetry.NewStore(100), nil, DefaultConfig())
}

func chunkIDs(r types.FusedResult) []string {
	ids := make([]string, len(r.Entries))
	for i, e := range r.Entries {
		ids[i] = e.ChunkRef.ChunkID
	}
	return ids
}

// TestRetrieve_ScenarioA mirrors the factual-intent, all-channels-succeed
// scenario: c1 should dominate the fused order.
func TestRetrieve_ScenarioA_AllChannelsSucceed(t *testing.T) {
	channels := []channel.Client{
		&fakeChannel{channel: types.ChannelVector, result: chunks(types.ChannelVector, "c1", "c2", "c3")},
		&fakeChannel{channel: types.ChannelSparse, result: chunks(types.ChannelSparse, "c2", "c1", "c4")},
		&fakeChannel{channel: types.ChannelGraphLocal, result: chunks(types.ChannelGraphLocal, "c1", "c5", "c2")},
		&fakeChannel{channel: types.ChannelGraphGlobal, result: types.ChannelResult{Channel: types.ChannelGraphGlobal}},
	}
	classifier := &fixedClassifier{result: types.Classification{Intent: types.IntentFactual, Confidence: 0.93}}
	o := buildOrchestrator(t, channels, classifier, nil)

	result, err := o.Retrieve(context.Background(), types.Query{Text: "Who founded Tesla?", Namespace: "auto", TopK: 3})
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if len(result.Entries) != 3 {
		t.Fatalf("len(Entries) = %d, want 3", len(result.Entries))
	}
	if result.Entries[0].ChunkRef.ChunkID != "c1" {
		t.Errorf("top entry = %s, want c1", result.Entries[0].ChunkRef.ChunkID)
	}
	for _, e := range result.Entries {
		if e.ChunkRef.Namespace != "auto" {
			t.Errorf("entry %s has namespace %s, want auto", e.ChunkRef.ChunkID, e.ChunkRef.Namespace)
		}
	}
}

// TestRetrieve_ScenarioB mirrors the summary-intent scenario where
// graph-global is the sole non-zero-weight channel and its order is
// preserved exactly.
func TestRetrieve_ScenarioB_GraphGlobalSoleContributor(t *testing.T) {
	channels := []channel.Client{
		&fakeChannel{channel: types.ChannelVector, result: types.ChannelResult{Channel: types.ChannelVector}},
		&fakeChannel{channel: types.ChannelGraphLocal, result: types.ChannelResult{Channel: types.ChannelGraphLocal}},
		&fakeChannel{channel: types.ChannelGraphGlobal, result: chunks(types.ChannelGraphGlobal, "c10", "c11", "c12")},
	}
	classifier := &fixedClassifier{result: types.Classification{Intent: types.IntentSummary, Confidence: 0.88}}
	o := buildOrchestrator(t, channels, classifier, nil)

	result, err := o.Retrieve(context.Background(), types.Query{
		Text: "Give me an overview of the electric-vehicle industry.", Namespace: "auto", TopK: 3,
	})
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if got := chunkIDs(result); got[0] != "c10" || got[1] != "c11" || got[2] != "c12" {
		t.Errorf("fused order = %v, want [c10 c11 c12]", got)
	}
}

// TestRetrieve_ScenarioC mirrors graceful degradation: the sparse channel
// fails twice (no retry left) but the result is still non-empty and
// provenance omits sparse.
func TestRetrieve_ScenarioC_GracefulDegradation(t *testing.T) {
	transientErr := channel.WithTransient(errors.ChannelFailedError("sparse", errors.New(errors.CodeTimeout, "timeout")), true)
	channels := []channel.Client{
		&fakeChannel{channel: types.ChannelVector, result: chunks(types.ChannelVector, "c1", "c2")},
		&fakeChannel{channel: types.ChannelSparse, err: transientErr},
		&fakeChannel{channel: types.ChannelGraphLocal, result: chunks(types.ChannelGraphLocal, "c1", "c3")},
		&fakeChannel{channel: types.ChannelGraphGlobal, result: types.ChannelResult{Channel: types.ChannelGraphGlobal}},
	}
	classifier := &fixedClassifier{result: types.Classification{Intent: types.IntentKeyword, Confidence: 0.9}}
	o := buildOrchestrator(t, channels, classifier, nil)

	result, err := o.Retrieve(context.Background(), types.Query{Text: "battery chemistry", Namespace: "auto", TopK: 5})
	if err != nil {
		t.Fatalf("Retrieve() error = %v, want nil (graceful degradation)", err)
	}
	if len(result.Entries) == 0 {
		t.Fatal("expected non-empty result despite one channel failure")
	}
	for _, e := range result.Entries {
		for _, p := range e.ChunkRef.Provenance {
			if p == types.ChannelSparse {
				t.Errorf("entry %s provenance should not include sparse", e.ChunkRef.ChunkID)
			}
		}
	}
}

// TestRetrieve_ScenarioD mirrors catastrophic failure: three of four
// channels fail, so the caller gets NO_SIGNAL and nothing is cached.
func TestRetrieve_ScenarioD_CatastrophicFailure(t *testing.T) {
	permanentErr := channel.WithTransient(errors.ChannelFailedError("x", errors.New(errors.CodeInternal, "boom")), false)
	channels := []channel.Client{
		&fakeChannel{channel: types.ChannelVector, err: permanentErr},
		&fakeChannel{channel: types.ChannelSparse, err: permanentErr},
		&fakeChannel{channel: types.ChannelGraphLocal, err: permanentErr},
		&fakeChannel{channel: types.ChannelGraphGlobal, result: chunks(types.ChannelGraphGlobal, "c1")},
	}
	classifier := &fixedClassifier{result: types.Classification{Intent: types.IntentUnknown, Confidence: 0}}
	cache := newMemCache()
	o := buildOrchestrator(t, channels, classifier, cache)

	_, err := o.Retrieve(context.Background(), types.Query{Text: "anything", Namespace: "auto", TopK: 5})
	if err == nil {
		t.Fatal("expected NO_SIGNAL error")
	}
	appErr, ok := err.(*errors.AppError)
	if !ok || appErr.Code != errors.CodeNoSignal {
		t.Fatalf("error = %v, want NO_SIGNAL", err)
	}
	if len(cache.entries) != 0 {
		t.Error("cache must not be populated on NO_SIGNAL")
	}
}

// TestRetrieve_ScenarioE mirrors a cache hit: the second identical call
// must not invoke any channel client.
func TestRetrieve_ScenarioE_CacheHit(t *testing.T) {
	vec := &fakeChannel{channel: types.ChannelVector, result: chunks(types.ChannelVector, "c1", "c2", "c3")}
	sparse := &fakeChannel{channel: types.ChannelSparse, result: chunks(types.ChannelSparse, "c2", "c1", "c4")}
	local := &fakeChannel{channel: types.ChannelGraphLocal, result: chunks(types.ChannelGraphLocal, "c1", "c5", "c2")}
	global := &fakeChannel{channel: types.ChannelGraphGlobal, result: types.ChannelResult{Channel: types.ChannelGraphGlobal}}
	channels := []channel.Client{vec, sparse, local, global}
	classifier := &fixedClassifier{result: types.Classification{Intent: types.IntentFactual, Confidence: 0.93}}
	o := buildOrchestrator(t, channels, classifier, nil)

	q := types.Query{Text: "Who founded Tesla?", Namespace: "auto", TopK: 3}
	first, err := o.Retrieve(context.Background(), q)
	if err != nil {
		t.Fatalf("first Retrieve() error = %v", err)
	}

	callsBefore := atomic.LoadInt32(&vec.calls)
	second, err := o.Retrieve(context.Background(), q)
	if err != nil {
		t.Fatalf("second Retrieve() error = %v", err)
	}
	if atomic.LoadInt32(&vec.calls) != callsBefore {
		t.Error("cache hit should not re-invoke channel clients")
	}
	if len(first.Entries) != len(second.Entries) {
		t.Fatalf("cached result length differs: %d vs %d", len(first.Entries), len(second.Entries))
	}
	for i := range first.Entries {
		if first.Entries[i].ChunkRef.ChunkID != second.Entries[i].ChunkRef.ChunkID {
			t.Errorf("entry %d differs between miss and hit: %s vs %s", i, first.Entries[i].ChunkRef.ChunkID, second.Entries[i].ChunkRef.ChunkID)
		}
	}
}

// TestRetrieve_ScenarioF mirrors cross-namespace isolation: the same query
// text under a different namespace must not return the first namespace's
// cached response.
func TestRetrieve_ScenarioF_CrossNamespaceIsolation(t *testing.T) {
	autoResult := chunks(types.ChannelVector, "c1", "c2")
	financeResult := chunks(types.ChannelVector, "f1", "f2")

	vec := &namespaceAwareChannel{
		channel:     types.ChannelVector,
		byNamespace: map[string]types.ChannelResult{"auto": autoResult, "finance": financeResult},
	}
	channels := []channel.Client{vec}
	classifier := &fixedClassifier{result: types.Classification{Intent: types.IntentKeyword, Confidence: 0.9}}
	o := buildOrchestrator(t, channels, classifier, nil)

	q := types.Query{Text: "battery chemistry", TopK: 5}
	q.Namespace = "auto"
	first, err := o.Retrieve(context.Background(), q)
	if err != nil {
		t.Fatalf("Retrieve(auto) error = %v", err)
	}

	q.Namespace = "finance"
	second, err := o.Retrieve(context.Background(), q)
	if err != nil {
		t.Fatalf("Retrieve(finance) error = %v", err)
	}

	if chunkIDs(first)[0] == chunkIDs(second)[0] {
		t.Fatal("expected different results across namespaces")
	}
	for _, e := range second.Entries {
		if e.ChunkRef.Namespace != "finance" {
			t.Errorf("entry %s tagged with namespace %s, want finance", e.ChunkRef.ChunkID, e.ChunkRef.Namespace)
		}
	}
}

type namespaceAwareChannel struct {
	channel     types.Channel
	byNamespace map[string]types.ChannelResult
}

func (c *namespaceAwareChannel) Channel() types.Channel { return c.channel }

func (c *namespaceAwareChannel) Query(ctx context.Context, input channel.Input) (types.ChannelResult, error) {
	return c.byNamespace[input.Namespace], nil
}

// TestRetrieve_Backpressure verifies requests beyond max in-flight are
// rejected with RESOURCE_EXHAUSTED rather than queued.
func TestRetrieve_Backpressure_ResourceExhausted(t *testing.T) {
	blocking := &fakeChannel{channel: types.ChannelVector, result: chunks(types.ChannelVector, "c1"), delay: 100 * time.Millisecond}
	channels := []channel.Client{blocking}
	classifier := &fixedClassifier{result: types.Classification{Intent: types.IntentUnknown, Confidence: 0}}

	cfg := DefaultConfig()
	cfg.MaxInFlightRequests = 1
	o := New(channels, fakeEmbedder{}, classifier, newMemCache(), testLogger(), telemetry.NewMetrics(), telemetry.NewStore(10), nil, cfg)

	done := make(chan struct{})
	go func() {
		_, _ = o.Retrieve(context.Background(), types.Query{Text: "first query", Namespace: "auto", TopK: 1})
		close(done)
	}()
	time.Sleep(10 * time.Millisecond) // let the first request acquire the semaphore

	_, err := o.Retrieve(context.Background(), types.Query{Text: "second query", Namespace: "auto", TopK: 1})
	if err == nil {
		t.Fatal("expected RESOURCE_EXHAUSTED while first request is in flight")
	}
	appErr, ok := err.(*errors.AppError)
	if !ok || appErr.Code != errors.CodeResourceExhausted {
		t.Fatalf("error = %v, want RESOURCE_EXHAUSTED", err)
	}
	<-done
}

// TestRetrieve_CancellationDiscardsResult verifies caller cancellation
// propagates and the cache is not populated with a partial result.
func TestRetrieve_CancellationDiscardsResult(t *testing.T) {
	slow := &fakeChannel{channel: types.ChannelVector, result: chunks(types.ChannelVector, "c1"), delay: 200 * time.Millisecond}
	channels := []channel.Client{slow}
	classifier := &fixedClassifier{result: types.Classification{Intent: types.IntentUnknown, Confidence: 0}}
	cache := newMemCache()
	cfg := DefaultConfig()
	cfg.RequestDeadline = 2 * time.Second
	o := New(channels, fakeEmbedder{}, classifier, cache, testLogger(), telemetry.NewMetrics(), telemetry.NewStore(10), nil, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := o.Retrieve(ctx, types.Query{Text: "slow query", Namespace: "auto", TopK: 1})
	if err == nil {
		t.Fatal("expected an error from a cancelled request")
	}
	if len(cache.entries) != 0 {
		t.Error("cache must not be populated for a cancelled request")
	}
}

// TestRetrieve_ExplicitIntentAndProfileOverride verifies explicit
// overrides bypass the classifier and weight-profile lookup.
func TestRetrieve_ExplicitIntentAndProfileOverride(t *testing.T) {
	channels := []channel.Client{
		&fakeChannel{channel: types.ChannelVector, result: chunks(types.ChannelVector, "c1")},
	}
	classifier := &fixedClassifier{result: types.Classification{Intent: types.IntentSummary, Confidence: 0.5}}
	o := buildOrchestrator(t, channels, classifier, nil)

	profile := types.WeightProfile{Vector: 1.0}
	_, err := o.Retrieve(context.Background(), types.Query{
		Text: "explicit intent query", Namespace: "auto", TopK: 1,
		ExplicitIntent: types.IntentFactual, ExplicitProfile: &profile,
	})
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if classifier.calls != 0 {
		t.Error("explicit intent override should skip the classifier")
	}
}

// TestRetrieve_SingleFlight verifies a concurrent burst of identical
// queries against the real cache computes the channel fan-out once.
func TestRetrieve_SingleFlight_ConcurrentIdenticalQueries(t *testing.T) {
	vec := &fakeChannel{channel: types.ChannelVector, result: chunks(types.ChannelVector, "c1", "c2"), delay: 20 * time.Millisecond}
	channels := []channel.Client{vec}
	classifier := &fixedClassifier{result: types.Classification{Intent: types.IntentKeyword, Confidence: 0.9}}

	relevanceCache := cache.New(cache.Config{Capacity: 100, TTL: time.Minute})
	o := New(channels, fakeEmbedder{}, classifier, relevanceCache, testLogger(), telemetry.NewMetrics(), telemetry.NewStore(100), nil, DefaultConfig())

	q := types.Query{Text: "battery chemistry", Namespace: "auto", TopK: 5}
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := o.Retrieve(context.Background(), q); err != nil {
				t.Errorf("Retrieve() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt32(&vec.calls); got != 1 {
		t.Errorf("channel invoked %d times for 8 identical concurrent queries, want 1", got)
	}
}
