package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/hybridretrieval/retrieval-core/internal/types"
)

// Key layout:
//
//	relevance:entry:{key}   string: JSON-encoded FusedResult, TTL-bound
//	relevance:ns:{namespace} set:   keys belonging to the namespace
//
// The namespace set is what makes InvalidateNamespace possible without a
// keyspace scan; it carries a TTL slightly past the entry TTL so an idle
// namespace's index eventually disappears on its own.

// RedisTier is a Redis-backed RelevanceCache alternative for multi-process
// deployments: every replica sees the same cached responses and a namespace
// invalidation on one replica is visible to all of them.
type RedisTier struct {
	client  *redis.Client
	ttl     time.Duration
	timeout time.Duration

	group singleflight.Group
}

// RedisConfig configures a RedisTier.
type RedisConfig struct {
	URL     string
	TTL     time.Duration
	Timeout time.Duration
}

// NewRedisTier connects to Redis using cfg.URL.
func NewRedisTier(cfg RedisConfig) (*RedisTier, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, err
	}
	return NewRedisTierWithClient(redis.NewClient(opts), cfg), nil
}

// NewRedisTierWithClient wraps an already-constructed Redis client, for
// sharing a connection or for tests against miniredis.
func NewRedisTierWithClient(client *redis.Client, cfg RedisConfig) *RedisTier {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = time.Second
	}
	return &RedisTier{client: client, ttl: ttl, timeout: timeout}
}

// Close releases the underlying Redis connection.
func (c *RedisTier) Close() error {
	return c.client.Close()
}

// Ping checks connectivity for readiness probes.
func (c *RedisTier) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.client.Ping(ctx).Err()
}

// Get returns the cached result for key if present. Any Redis failure is
// a miss: the caller recomputes, it never sees a cache error.
func (c *RedisTier) Get(key string) (types.FusedResult, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	data, err := c.client.Get(ctx, entryKey(key)).Bytes()
	if err != nil {
		return types.FusedResult{}, false
	}
	var result types.FusedResult
	if err := json.Unmarshal(data, &result); err != nil {
		return types.FusedResult{}, false
	}
	return result, true
}

// Put writes a fused result under key, attributed to namespace. Failures
// are dropped: a write that doesn't land only costs a future recompute.
func (c *RedisTier) Put(namespace, key string, value types.FusedResult) {
	data, err := json.Marshal(value)
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	pipe := c.client.Pipeline()
	pipe.Set(ctx, entryKey(key), data, c.ttl)
	pipe.SAdd(ctx, namespaceKey(namespace), key)
	pipe.Expire(ctx, namespaceKey(namespace), c.ttl+time.Minute)
	_, _ = pipe.Exec(ctx)
}

// GetOrCompute returns the cached value for key, or invokes compute exactly
// once across concurrent callers in this process racing on the same key.
// Replicas do not coordinate flights with each other; cross-process
// duplicate computes are bounded by how fast the first Put lands.
func (c *RedisTier) GetOrCompute(ctx context.Context, namespace, key string, compute func(ctx context.Context) (types.FusedResult, error)) (types.FusedResult, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		if v, ok := c.Get(key); ok {
			return v, nil
		}
		result, err := compute(ctx)
		if err != nil {
			return types.FusedResult{}, err
		}
		c.Put(namespace, key, result)
		return result, nil
	})
	if err != nil {
		return types.FusedResult{}, err
	}
	return v.(types.FusedResult), nil
}

// InvalidateNamespace evicts every entry attributed to namespace and
// returns how many were removed.
func (c *RedisTier) InvalidateNamespace(namespace string) int {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	keys, err := c.client.SMembers(ctx, namespaceKey(namespace)).Result()
	if err != nil {
		return 0
	}

	pipe := c.client.Pipeline()
	dels := make([]*redis.IntCmd, 0, len(keys))
	for _, key := range keys {
		dels = append(dels, pipe.Del(ctx, entryKey(key)))
	}
	pipe.Del(ctx, namespaceKey(namespace))
	if _, err := pipe.Exec(ctx); err != nil {
		return 0
	}
	count := 0
	for _, cmd := range dels {
		count += int(cmd.Val())
	}
	return count
}

func entryKey(key string) string {
	return "relevance:entry:" + key
}

func namespaceKey(namespace string) string {
	return "relevance:ns:" + namespace
}
