// Package channel defines the uniform contract every retrieval channel
// (vector, sparse, graph-local, graph-global) implements, so the
// orchestrator can dispatch to all four without knowing their backends.
package channel

import (
	"context"

	"github.com/hybridretrieval/retrieval-core/internal/embedding"
	"github.com/hybridretrieval/retrieval-core/internal/pkg/errors"
	"github.com/hybridretrieval/retrieval-core/internal/types"
)

// Input carries everything a channel might need to serve a query. Most
// channels use only a subset: the vector channel reads DenseVector, the
// sparse channel reads SparseVector, the graph channels read EntityIDs
// when set and otherwise resolve entities from QueryText themselves.
type Input struct {
	Namespace    string
	QueryText    string
	DenseVector  []float32
	SparseVector embedding.SparseVector
	EntityIDs    []string
	TopK         int
}

// Client is a single retrieval channel: given an Input, it returns a
// ranked list of chunks. Implementations must respect ctx cancellation
// and must tag every returned error as transient or permanent via
// errors.ChannelFailedError + WithTransient, so the orchestrator's retry
// policy can tell them apart.
type Client interface {
	Channel() types.Channel
	Query(ctx context.Context, input Input) (types.ChannelResult, error)
}

// WithTransient marks a channel failure as transient (worth one retry) or
// permanent (not worth retrying). Channels should call this when wrapping
// their underlying error with errors.ChannelFailedError.
func WithTransient(err *errors.AppError, transient bool) *errors.AppError {
	if transient {
		return err.WithDetail("transient", "true")
	}
	return err.WithDetail("transient", "false")
}

// IsTransient reports whether a channel failure is safe to retry. A
// failure with no transience detail (e.g. a plain Go error rather than an
// *errors.AppError) is treated as permanent: channels are expected to
// always tag their own failures, so an untagged error signals a bug
// rather than a flaky dependency.
func IsTransient(err error) bool {
	appErr, ok := err.(*errors.AppError)
	if !ok {
		return false
	}
	return appErr.Details["transient"] == "true"
}
