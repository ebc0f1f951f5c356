// Package sparse implements the sparse-vector (lexical/SPLADE-style)
// retrieval channel against a Qdrant collection's sparse named vector.
package sparse

import (
	"context"
	"strconv"
	"time"

	qdrant "github.com/qdrant/go-client/qdrant"

	"github.com/hybridretrieval/retrieval-core/internal/channel"
	"github.com/hybridretrieval/retrieval-core/internal/pkg/errors"
	"github.com/hybridretrieval/retrieval-core/internal/types"
)

// CollectionPrefix matches the vector channel's so both read the same
// per-namespace collection, just a different named vector within it.
const CollectionPrefix = "retrieval_"

// Config configures a Client.
type Config struct {
	Timeout          time.Duration
	CollectionPrefix string
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{Timeout: 2 * time.Second, CollectionPrefix: CollectionPrefix}
}

// Client is the sparse channel.
type Client struct {
	raw              *qdrant.Client
	collectionPrefix string
	timeout          time.Duration
}

// New wraps an existing Qdrant client.
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
	return types.ChannelSparse
}

// Query performs a sparse-vector search scoped to the caller's namespace.
func (c *Client) Query(ctx context.Context, input channel.Input) (types.ChannelResult, error) {
	if len(input.SparseVector.Indices) == 0 {
		return types.ChannelResult{}, channel.WithTransient(
			errors.ChannelFailedError("sparse", errors.New(errors.CodeValidation, "sparse vector is required")), false)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	limit := uint64(input.TopK)
	if limit == 0 {
		limit = 20
	}

	queryPoints := &qdrant.QueryPoints{
		CollectionName: c.collectionPrefix + input.Namespace,
		Query:          qdrant.NewQuerySparse(input.SparseVector.Indices, input.SparseVector.Values),
		Using:          qdrant.PtrOf("sparse"),
		Limit:          qdrant.PtrOf(limit),
		WithPayload:    qdrant.NewWithPayload(false),
	}

	points, err := c.raw.Query(ctx, queryPoints)
	if err != nil {
		return types.ChannelResult{}, channel.WithTransient(
			errors.ChannelFailedError("sparse", err), ctx.Err() == nil)
	}

	items := make([]types.ScoredChunk, 0, len(points))
	for _, p := range points {
		items = append(items, types.ScoredChunk{ChunkID: pointIDString(p), Score: float64(p.Score)})
	}

	return types.ChannelResult{Channel: types.ChannelSparse, Items: items}, nil
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
