// Package graphstore implements the graph-local and graph-global
// retrieval channels against a Redis-backed entity/community index.
//
// Keys:
//
//	graph:{namespace}:entity_index            hash: normalized term -> entity_id[@confidence]
//	graph:{namespace}:entity:{id}:chunks      zset: chunk_id -> mention count for that entity
//	graph:{namespace}:entity:{id}:communities set:  community_id membership
//	graph:{namespace}:community:{id}:chunks   zset: chunk_id -> community-linked mention count
//
// An entity_index value may carry a mention confidence after "@" (synonym
// and fuzzy surface forms are written that way at index time); a bare
// entity_id means an exact surface form with confidence 1.0.
package graphstore

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hybridretrieval/retrieval-core/internal/pkg/errors"
	"github.com/hybridretrieval/retrieval-core/internal/types"
)

// DefaultConfidenceThreshold is the minimum mention confidence an entity
// resolution must carry to count as a match.
const DefaultConfidenceThreshold = 0.5

// Config configures a Store.
type Config struct {
	URL                 string
	Timeout             time.Duration
	ConfidenceThreshold float64
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:                 "redis://localhost:6379/0",
		Timeout:             2 * time.Second,
		ConfidenceThreshold: DefaultConfidenceThreshold,
	}
}

// Store wraps a Redis client with the entity/community index operations
// both graph channels need.
type Store struct {
	client              *redis.Client
	timeout             time.Duration
	confidenceThreshold float64
}

// New connects to Redis using cfg.URL.
func New(cfg Config) (*Store, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, errors.Wrap(errors.CodeInternal, "invalid graph store redis URL", err)
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultConfig().Timeout
	}
	threshold := cfg.ConfidenceThreshold
	if threshold <= 0 {
		threshold = DefaultConfidenceThreshold
	}
	return &Store{client: redis.NewClient(opts), timeout: timeout, confidenceThreshold: threshold}, nil
}

// NewWithClient wraps an already-constructed Redis client, for sharing a
// connection with another component or for tests against miniredis.
func NewWithClient(client *redis.Client, timeout time.Duration) *Store {
	if timeout == 0 {
		timeout = DefaultConfig().Timeout
	}
	return &Store{client: client, timeout: timeout, confidenceThreshold: DefaultConfidenceThreshold}
}

// Close releases the underlying Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// Ping checks connectivity to the underlying Redis instance for readiness
// probes.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.client.Ping(ctx).Err()
}

// ResolveEntities maps query text to the entity IDs it mentions by
// looking up each normalized token in the namespace's entity index. A
// query with no recognized entities returns an empty, non-error result:
// the caller renormalizes weights as if this channel returned nothing.
func (s *Store) ResolveEntities(ctx context.Context, namespace, queryText string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	tokens := tokenize(queryText)
	if len(tokens) == 0 {
		return nil, nil
	}

	key := entityIndexKey(namespace)
	pipe := s.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(tokens))
	for i, tok := range tokens {
		cmds[i] = pipe.HGet(ctx, key, tok)
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var entityIDs []string
	for _, cmd := range cmds {
		value, err := cmd.Result()
		if err != nil {
			continue // redis.Nil: token is not a known entity surface form
		}
		id, confidence := parseEntityValue(value)
		if confidence < s.confidenceThreshold {
			continue
		}
		if !seen[id] {
			seen[id] = true
			entityIDs = append(entityIDs, id)
		}
	}
	return entityIDs, nil
}

// parseEntityValue splits an entity_index value into (entity_id,
// confidence). A bare entity_id is an exact surface form, confidence 1.0.
func parseEntityValue(value string) (string, float64) {
	id, confStr, ok := strings.Cut(value, "@")
	if !ok {
		return value, 1.0
	}
	confidence, err := strconv.ParseFloat(confStr, 64)
	if err != nil {
		return id, 1.0
	}
	return id, confidence
}

// ExpandLocal returns the chunks directly mentioning the given entities
// for the graph-local channel. A chunk's score is its mention count summed
// across the distinct resolved entities: a chunk three entities mention
// outranks a chunk only one mentions, regardless of any single mention's
// strength.
func (s *Store) ExpandLocal(ctx context.Context, namespace string, entityIDs []string, topK int) (types.ChannelResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	scores := make(map[string]float64)
	for _, id := range entityIDs {
		members, err := s.client.ZRevRangeWithScores(ctx, entityChunksKey(namespace, id), 0, int64(topK)-1).Result()
		if err != nil {
			return types.ChannelResult{}, err
		}
		for _, m := range members {
			chunkID, ok := m.Member.(string)
			if !ok {
				continue
			}
			scores[chunkID] += m.Score
		}
	}

	return types.ChannelResult{Channel: types.ChannelGraphLocal, Items: rankedChunks(scores, topK)}, nil
}

// ExpandGlobal returns the chunks belonging to communities the given
// entities participate in, for the graph-global channel. A chunk's score
// is its community-linked mention count summed across the distinct
// communities reached.
func (s *Store) ExpandGlobal(ctx context.Context, namespace string, entityIDs []string, topK int) (types.ChannelResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	communityIDs := make(map[string]bool)
	for _, id := range entityIDs {
		ids, err := s.client.SMembers(ctx, entityCommunitiesKey(namespace, id)).Result()
		if err != nil {
			return types.ChannelResult{}, err
		}
		for _, cid := range ids {
			communityIDs[cid] = true
		}
	}

	scores := make(map[string]float64)
	for cid := range communityIDs {
		members, err := s.client.ZRevRangeWithScores(ctx, communityChunksKey(namespace, cid), 0, int64(topK)-1).Result()
		if err != nil {
			return types.ChannelResult{}, err
		}
		for _, m := range members {
			chunkID, ok := m.Member.(string)
			if !ok {
				continue
			}
			scores[chunkID] += m.Score
		}
	}

	return types.ChannelResult{Channel: types.ChannelGraphGlobal, Items: rankedChunks(scores, topK)}, nil
}

func rankedChunks(scores map[string]float64, topK int) []types.ScoredChunk {
	items := make([]types.ScoredChunk, 0, len(scores))
	for chunkID, score := range scores {
		items = append(items, types.ScoredChunk{ChunkID: chunkID, Score: score})
	}
	// Score descending, ties by chunk_id ascending: deterministic
	// regardless of Go's map iteration order.
	sort.Slice(items, func(i, j int) bool {
		if items[i].Score != items[j].Score {
			return items[i].Score > items[j].Score
		}
		return items[i].ChunkID < items[j].ChunkID
	})
	if topK > 0 && len(items) > topK {
		items = items[:topK]
	}
	return items
}

func tokenize(text string) []string {
	fields := strings.Fields(strings.ToLower(text))
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, ".,!?;:\"'()[]{}")
		if f != "" {
			tokens = append(tokens, f)
		}
	}
	return tokens
}

func entityIndexKey(namespace string) string {
	return "graph:" + namespace + ":entity_index"
}

func entityChunksKey(namespace, entityID string) string {
	return "graph:" + namespace + ":entity:" + entityID + ":chunks"
}

func entityCommunitiesKey(namespace, entityID string) string {
	return "graph:" + namespace + ":entity:" + entityID + ":communities"
}

func communityChunksKey(namespace, communityID string) string {
	return "graph:" + namespace + ":community:" + communityID + ":chunks"
}
