// Package fusion implements weighted reciprocal rank fusion over the four
// retrieval channels. It is a pure function package: no I/O, no mutation of
// its inputs, deterministic for a given input.
package fusion

import (
	"sort"

	"github.com/hybridretrieval/retrieval-core/internal/types"
)

// DefaultK is the standard RRF smoothing constant.
const DefaultK = 60

// Config configures a single fuse call.
type Config struct {
	// K is the RRF smoothing constant, k_rrf in the fusion formula. Must
	// be >= 1.
	K int

	// Weights assigns a non-negative weight to each channel. Channels
	// absent from Results, or present with weight 0, do not contribute.
	Weights types.WeightProfile

	// TopK bounds the length of the returned result. If TopK <= 0 or
	// exceeds the number of unique chunks, all unique chunks are returned.
	TopK int
}

type accumulator struct {
	chunkID      string
	score        float64
	minRank      int
	channelCount int
	channelRanks map[types.Channel]int
}

// Fuse computes weighted reciprocal rank fusion over up to four channel
// results and returns the top_k chunks by descending fused score.
//
// For each channel c with weight w_c > 0 and ranked list L_c (rank starting
// at 0), each (chunk_id, rank r) in L_c contributes
// score[chunk_id] += w_c * 1 / (k_rrf + r + 1).
//
// Ties are broken deterministically: lower minimum rank across contributing
// channels, then higher contributing-channel count, then lexicographic
// chunk_id. The result is independent of the order channels are supplied in.
func Fuse(results map[types.Channel]types.ChannelResult, cfg Config) types.FusedResult {
	k := cfg.K
	if k < 1 {
		k = DefaultK
	}

	acc := make(map[string]*accumulator)

	// Iterate channels in a fixed order so equal-weight ties with equal
	// scores still resolve the same way regardless of map iteration order
	// (map iteration in Go is randomized; AllChannels is not).
	for _, c := range types.AllChannels {
		w := cfg.Weights.Get(c)
		if w <= 0 {
			continue
		}
		cr, ok := results[c]
		if !ok {
			continue
		}

		for rank, item := range cr.Items {
			a, exists := acc[item.ChunkID]
			if !exists {
				a = &accumulator{
					chunkID:      item.ChunkID,
					minRank:      rank,
					channelRanks: make(map[types.Channel]int),
				}
				acc[item.ChunkID] = a
			}

			// A chunk repeated within one channel's list collapses to its
			// best (lowest) rank; later occurrences contribute nothing.
			if _, dup := a.channelRanks[c]; dup {
				continue
			}

			a.score += w * (1.0 / float64(k+rank+1))
			a.channelCount++
			a.channelRanks[c] = rank
			if rank < a.minRank {
				a.minRank = rank
			}
		}
	}

	entries := make([]*accumulator, 0, len(acc))
	for _, a := range acc {
		entries = append(entries, a)
	}

	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if a.minRank != b.minRank {
			return a.minRank < b.minRank
		}
		if a.channelCount != b.channelCount {
			return a.channelCount > b.channelCount
		}
		return a.chunkID < b.chunkID
	})

	topK := cfg.TopK
	if topK <= 0 || topK > len(entries) {
		topK = len(entries)
	}

	out := types.FusedResult{Entries: make([]types.FusedEntry, 0, topK)}
	for _, a := range entries[:topK] {
		provenance := make([]types.Channel, 0, len(a.channelRanks))
		for _, c := range types.AllChannels {
			if _, ok := a.channelRanks[c]; ok {
				provenance = append(provenance, c)
			}
		}
		out.Entries = append(out.Entries, types.FusedEntry{
			ChunkRef: types.ChunkRef{
				ChunkID:    a.chunkID,
				Score:      a.score,
				Provenance: provenance,
			},
			FusedScore:   a.score,
			ChannelRanks: a.channelRanks,
		})
	}

	return out
}

// RenormalizeWeights rescales the weights of the enabled channels so they
// sum to 1.0. If the enabled channels' weights sum to 0 in the source
// profile, every enabled channel is treated as equal-weighted.
func RenormalizeWeights(profile types.WeightProfile, enabled map[types.Channel]bool) types.WeightProfile {
	var sum float64
	count := 0
	for _, c := range types.AllChannels {
		if !enabled[c] {
			continue
		}
		sum += profile.Get(c)
		count++
	}

	out := types.WeightProfile{}
	if count == 0 {
		return out
	}

	if sum <= 0 {
		equal := 1.0 / float64(count)
		for _, c := range types.AllChannels {
			if enabled[c] {
				setWeight(&out, c, equal)
			}
		}
		return out
	}

	for _, c := range types.AllChannels {
		if enabled[c] {
			setWeight(&out, c, profile.Get(c)/sum)
		}
	}
	return out
}

func setWeight(p *types.WeightProfile, c types.Channel, w float64) {
	switch c {
	case types.ChannelVector:
		p.Vector = w
	case types.ChannelSparse:
		p.Sparse = w
	case types.ChannelGraphLocal:
		p.GraphLocal = w
	case types.ChannelGraphGlobal:
		p.GraphGlobal = w
	}
}
