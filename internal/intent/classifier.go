// Package intent classifies a query into one of five closed intents
// (factual, keyword, exploratory, summary, unknown), each carrying a
// confidence score. Classification prefers embedding similarity against a
// set of canonical example queries per intent, falling back to a
// rule-based classifier when the embedding service is unavailable or
// similarity never clears the confidence threshold.
package intent

import (
	"context"
	"math"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/hybridretrieval/retrieval-core/internal/pkg/errors"
	"github.com/hybridretrieval/retrieval-core/internal/pkg/logger"
	"github.com/hybridretrieval/retrieval-core/internal/types"
)

// ConfidenceThreshold is the minimum cosine similarity to a canonical
// query required to trust the embedding-based classification.
const ConfidenceThreshold = 0.80

// FallbackConfidence is the fixed confidence reported for a rule-based
// match (never the embedding path, so it never collides with a real
// similarity score).
const FallbackConfidence = 0.60

// Embedder is the subset of the embedding client the classifier needs.
// Defined here so tests can substitute a fake without importing the HTTP
// client.
type Embedder interface {
	Dense(ctx context.Context, text string) ([]float32, error)
}

type canonicalEmbedding struct {
	intent    types.Intent
	embedding []float32
}

// Classifier assigns an intent and confidence to a query. The zero value
// is not usable; construct with New.
type Classifier struct {
	embedder Embedder
	log      *logger.Logger

	mu         sync.RWMutex
	canonicals []canonicalEmbedding
	initErr    error
	initDone   bool
	initOnce   sync.Once

	cache *lru.Cache[string, types.Classification]

	confidenceThreshold float64
	fallbackConfidence  float64
}

// Config configures a Classifier.
type Config struct {
	// CacheSize bounds the LRU of normalized-query -> Classification.
	CacheSize int

	// ConfidenceThreshold overrides ConfidenceThreshold when positive,
	// wiring spec.md §6's configurable intent_confidence_threshold.
	ConfidenceThreshold float64

	// FallbackConfidence overrides FallbackConfidence when positive.
	FallbackConfidence float64
}

// DefaultCacheSize is used when Config.CacheSize is zero or negative.
const DefaultCacheSize = 10000

// New creates a Classifier. The embedder is used lazily: canonical
// embeddings are computed on first Classify call (or via WarmUp), not at
// construction, so a slow or unavailable embedding service never blocks
// startup.
func New(embedder Embedder, log *logger.Logger, cfg Config) *Classifier {
	size := cfg.CacheSize
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, _ := lru.New[string, types.Classification](size)

	threshold := cfg.ConfidenceThreshold
	if threshold <= 0 {
		threshold = ConfidenceThreshold
	}
	fallback := cfg.FallbackConfidence
	if fallback <= 0 {
		fallback = FallbackConfidence
	}

	return &Classifier{
		embedder:            embedder,
		log:                 log,
		cache:               cache,
		confidenceThreshold: threshold,
		fallbackConfidence:  fallback,
	}
}

// WarmUp forces canonical-embedding initialization ahead of the first
// request. Safe to call multiple times and concurrently; only the first
// caller does the work.
func (c *Classifier) WarmUp(ctx context.Context) error {
	c.ensureInitialized(ctx)
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.initErr
}

// ensureInitialized runs canonical-embedding precomputation exactly once,
// using double-checked locking so the common case (already initialized)
// never takes the write lock.
func (c *Classifier) ensureInitialized(ctx context.Context) {
	c.mu.RLock()
	done := c.initDone
	c.mu.RUnlock()
	if done {
		return
	}

	c.initOnce.Do(func() {
		c.mu.Lock()
		defer c.mu.Unlock()

		// Detach from the triggering request's cancellation: a caller
		// hanging up mid-warm-up must not push the classifier into
		// permanent fallback mode.
		ctx := context.WithoutCancel(ctx)

		var texts []string
		var labels []types.Intent
		for in, queries := range canonicalQueries {
			for _, q := range queries {
				texts = append(texts, q)
				labels = append(labels, in)
			}
		}

		embeddings := make([]canonicalEmbedding, 0, len(texts))
		for i, text := range texts {
			vec, err := c.embedder.Dense(ctx, text)
			if err != nil {
				c.log.Warn("failed to compute canonical intent embedding, embedding-based classification disabled", "error", err)
				c.initErr = err
				c.initDone = true
				return
			}
			embeddings = append(embeddings, canonicalEmbedding{intent: labels[i], embedding: vec})
		}

		c.canonicals = embeddings
		c.initDone = true
	})
}

// Classify returns the intent and confidence for a query. It never
// returns an error for a non-empty query: an embedding-service failure
// during warm-up degrades permanently to the rule-based fallback for the
// lifetime of this Classifier, rather than retried per call.
func (c *Classifier) Classify(ctx context.Context, query string) (types.Classification, error) {
	normalized := normalize(query)
	if normalized == "" {
		return types.Classification{Intent: types.IntentUnknown, Confidence: 0}, errors.New(errors.CodeValidation, "query must not be empty")
	}

	if cached, ok := c.cache.Get(normalized); ok {
		return cached, nil
	}

	c.ensureInitialized(ctx)

	c.mu.RLock()
	canonicals := c.canonicals
	initErr := c.initErr
	c.mu.RUnlock()

	var result types.Classification
	if initErr == nil && len(canonicals) > 0 {
		embedding, err := c.embedder.Dense(ctx, normalized)
		if err != nil {
			c.log.Warn("query embedding failed, falling back to rule-based intent classification", "error", err)
			result = classifyByRule(normalized, c.fallbackConfidence)
		} else {
			classified, ok := classifyByEmbedding(embedding, canonicals, c.confidenceThreshold)
			if ok {
				result = classified
			} else {
				result = classifyByRule(normalized, c.fallbackConfidence)
			}
		}
	} else {
		result = classifyByRule(normalized, c.fallbackConfidence)
	}

	c.cache.Add(normalized, result)
	return result, nil
}

// InvalidateCache drops every cached classification. Exposed for tests
// and for operators adjusting canonical queries at runtime.
func (c *Classifier) InvalidateCache() {
	c.cache.Purge()
}

func classifyByEmbedding(query []float32, canonicals []canonicalEmbedding, threshold float64) (types.Classification, bool) {
	best := types.IntentUnknown
	var bestScore float64

	for _, ce := range canonicals {
		score := cosineSimilarity(query, ce.embedding)
		if score > bestScore {
			bestScore = score
			best = ce.intent
		}
	}

	if bestScore < threshold {
		return types.Classification{}, false
	}

	return types.Classification{Intent: best, Confidence: bestScore}, true
}

// classifyByRule matches the query against keyword patterns per intent. A
// match is assigned fallbackConfidence. No match at all means neither
// classification path reached a decision, so it reports (unknown, 0.0)
// rather than a fabricated confidence (spec.md §4.1).
func classifyByRule(normalized string, fallbackConfidence float64) types.Classification {
	for _, in := range ruleOrder {
		for _, pattern := range rulePatterns[in] {
			if strings.Contains(normalized, pattern) {
				return types.Classification{Intent: in, Confidence: fallbackConfidence}
			}
		}
	}
	return types.Classification{Intent: types.IntentUnknown, Confidence: 0}
}

func normalize(query string) string {
	return strings.ToLower(strings.TrimSpace(strings.Join(strings.Fields(query), " ")))
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
