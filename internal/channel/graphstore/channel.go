package graphstore

import (
	"context"

	"github.com/hybridretrieval/retrieval-core/internal/channel"
	"github.com/hybridretrieval/retrieval-core/internal/pkg/errors"
	"github.com/hybridretrieval/retrieval-core/internal/types"
)

// LocalClient adapts Store.ExpandLocal to channel.Client for the
// graph-local channel.
type LocalClient struct {
	store *Store
}

// NewLocalClient wraps a Store as the graph-local channel.
func NewLocalClient(store *Store) *LocalClient {
	return &LocalClient{store: store}
}

// Channel identifies this client to the orchestrator.
func (c *LocalClient) Channel() types.Channel {
	return types.ChannelGraphLocal
}

// Query resolves query-text entities then expands to directly mentioning
// chunks. A query with no resolvable entities returns an empty result,
// not an error: the orchestrator renormalizes as if this channel opted
// out rather than failed.
func (c *LocalClient) Query(ctx context.Context, input channel.Input) (types.ChannelResult, error) {
	entityIDs := input.EntityIDs
	if len(entityIDs) == 0 {
		resolved, err := c.store.ResolveEntities(ctx, input.Namespace, input.QueryText)
		if err != nil {
			return types.ChannelResult{}, channel.WithTransient(errors.ChannelFailedError("graph_local", err), ctx.Err() == nil)
		}
		entityIDs = resolved
	}
	if len(entityIDs) == 0 {
		return types.ChannelResult{Channel: types.ChannelGraphLocal}, nil
	}

	result, err := c.store.ExpandLocal(ctx, input.Namespace, entityIDs, input.TopK)
	if err != nil {
		return types.ChannelResult{}, channel.WithTransient(errors.ChannelFailedError("graph_local", err), ctx.Err() == nil)
	}
	return result, nil
}

// GlobalClient adapts Store.ExpandGlobal to channel.Client for the
// graph-global channel.
type GlobalClient struct {
	store *Store
}

// NewGlobalClient wraps a Store as the graph-global channel.
func NewGlobalClient(store *Store) *GlobalClient {
	return &GlobalClient{store: store}
}

// Channel identifies this client to the orchestrator.
func (c *GlobalClient) Channel() types.Channel {
	return types.ChannelGraphGlobal
}

// Query resolves query-text entities then expands to the chunks of the
// communities those entities belong to.
func (c *GlobalClient) Query(ctx context.Context, input channel.Input) (types.ChannelResult, error) {
	entityIDs := input.EntityIDs
	if len(entityIDs) == 0 {
		resolved, err := c.store.ResolveEntities(ctx, input.Namespace, input.QueryText)
		if err != nil {
			return types.ChannelResult{}, channel.WithTransient(errors.ChannelFailedError("graph_global", err), ctx.Err() == nil)
		}
		entityIDs = resolved
	}
	if len(entityIDs) == 0 {
		return types.ChannelResult{Channel: types.ChannelGraphGlobal}, nil
	}

	result, err := c.store.ExpandGlobal(ctx, input.Namespace, entityIDs, input.TopK)
	if err != nil {
		return types.ChannelResult{}, channel.WithTransient(errors.ChannelFailedError("graph_global", err), ctx.Err() == nil)
	}
	return result, nil
}
