// Package vector implements the dense-vector retrieval channel against a
// Qdrant collection.
package vector

import (
	"context"
	"strconv"
	"time"

	qdrant "github.com/qdrant/go-client/qdrant"

	"github.com/hybridretrieval/retrieval-core/internal/channel"
	"github.com/hybridretrieval/retrieval-core/internal/pkg/errors"
	"github.com/hybridretrieval/retrieval-core/internal/types"
)

// CollectionPrefix namespaces Qdrant collections the same way the rest of
// the stack namespaces everything else.
const CollectionPrefix = "retrieval_"

// Config configures a Client.
type Config struct {
	Host             string
	Port             int
	APIKey           string
	UseTLS           bool
	Timeout          time.Duration
	CollectionPrefix string
}

// DefaultConfig returns sensible defaults for local development.
func DefaultConfig() Config {
	return Config{
		Host:             "localhost",
		Port:             6334,
		Timeout:          2 * time.Second,
		CollectionPrefix: CollectionPrefix,
	}
}

// Client is the dense-vector channel.
type Client struct {
	raw              *qdrant.Client
	collectionPrefix string
	timeout          time.Duration
}

// New wraps an existing Qdrant client. The caller that created the client
// owns its connection lifecycle; this package only issues queries.
func New(raw *qdrant.Client, cfg Config) *Client {
	prefix := cfg.CollectionPrefix
	if prefix == "" {
		prefix = CollectionPrefix
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultConfig().Timeout
	}
	return &Client{raw: raw, collectionPrefix: prefix, timeout: timeout}
}

// Channel identifies this client to the orchestrator.
func (c *Client) Channel() types.Channel {
	return types.ChannelVector
}

// Ping checks connectivity to the underlying Qdrant cluster for readiness
// probes.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	_, err := c.raw.HealthCheck(ctx)
	return err
}

// Query performs a dense-vector nearest-neighbor search scoped to the
// caller's namespace: each namespace owns its own collection, so the
// query only ever touches that tenant's points.
func (c *Client) Query(ctx context.Context, input channel.Input) (types.ChannelResult, error) {
	if len(input.DenseVector) == 0 {
		return types.ChannelResult{}, channel.WithTransient(
			errors.ChannelFailedError("vector", errors.New(errors.CodeValidation, "dense vector is required")), false)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	limit := uint64(input.TopK)
	if limit == 0 {
		limit = 20
	}

	queryPoints := &qdrant.QueryPoints{
		CollectionName: c.collectionPrefix + input.Namespace,
		Query:          qdrant.NewQueryDense(input.DenseVector),
		Using:          qdrant.PtrOf("dense"),
		Limit:          qdrant.PtrOf(limit),
		WithPayload:    qdrant.NewWithPayload(false),
	}

	points, err := c.raw.Query(ctx, queryPoints)
	if err != nil {
		// A connection-level failure is worth one retry; the context's own
		// deadline firing is not, since a second attempt would start with
		// no time budget left.
		return types.ChannelResult{}, channel.WithTransient(
			errors.ChannelFailedError("vector", err), ctx.Err() == nil)
	}

	items := make([]types.ScoredChunk, 0, len(points))
	for _, p := range points {
		items = append(items, types.ScoredChunk{ChunkID: pointIDString(p), Score: float64(p.Score)})
	}

	return types.ChannelResult{Channel: types.ChannelVector, Items: items}, nil
}

func pointIDString(p *qdrant.ScoredPoint) string {
	if p.Id == nil {
		return ""
	}
	switch v := p.Id.PointIdOptions.(type) {
	case *qdrant.PointId_Uuid:
		return v.Uuid
	case *qdrant.PointId_Num:
		return strconv.FormatUint(v.Num, 10)
	default:
		return ""
	}
}
