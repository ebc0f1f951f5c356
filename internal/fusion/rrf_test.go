package fusion

import (
	"math"
	"testing"

	"github.com/hybridretrieval/retrieval-core/internal/types"
)

func chunkList(ids ...string) []types.ScoredChunk {
	out := make([]types.ScoredChunk, len(ids))
	for i, id := range ids {
		out[i] = types.ScoredChunk{ChunkID: id, Score: 1.0 / float64(i+1)}
	}
	return out
}

// TestFuse_ScenarioA mirrors spec.md's factual-intent scenario: all four
// channels enabled, vector/sparse/graph_local agree on c1.
func TestFuse_ScenarioA(t *testing.T) {
	results := map[types.Channel]types.ChannelResult{
		types.ChannelVector:     {Channel: types.ChannelVector, Items: chunkList("c1", "c2", "c3")},
		types.ChannelSparse:     {Channel: types.ChannelSparse, Items: chunkList("c2", "c1", "c4")},
		types.ChannelGraphLocal: {Channel: types.ChannelGraphLocal, Items: chunkList("c1", "c5", "c2")},
	}
	weights := types.WeightProfile{Vector: 0.3, Sparse: 0.3, GraphLocal: 0.4, GraphGlobal: 0.0}

	fused := Fuse(results, Config{K: 60, Weights: weights, TopK: 3})

	if len(fused.Entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(fused.Entries))
	}
	got := []string{fused.Entries[0].ChunkRef.ChunkID, fused.Entries[1].ChunkRef.ChunkID, fused.Entries[2].ChunkRef.ChunkID}
	want := []string{"c1", "c2", "c3"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("position %d: got %s, want %s (full order %v)", i, got[i], want[i], got)
		}
	}
}

// TestFuse_ScenarioB mirrors the summary-intent scenario: graph_global is
// the sole contributor and its input order must be preserved.
func TestFuse_ScenarioB(t *testing.T) {
	results := map[types.Channel]types.ChannelResult{
		types.ChannelGraphGlobal: {Channel: types.ChannelGraphGlobal, Items: chunkList("c10", "c11", "c12")},
	}
	weights := types.WeightProfile{Vector: 0.1, Sparse: 0.0, GraphLocal: 0.1, GraphGlobal: 0.8}

	fused := Fuse(results, Config{K: 60, Weights: weights, TopK: 10})

	want := []string{"c10", "c11", "c12"}
	if len(fused.Entries) != len(want) {
		t.Fatalf("expected %d entries, got %d", len(want), len(fused.Entries))
	}
	for i, w := range want {
		if fused.Entries[i].ChunkRef.ChunkID != w {
			t.Errorf("position %d: got %s, want %s", i, fused.Entries[i].ChunkRef.ChunkID, w)
		}
	}
}

func TestFuse_SingleChannelPreservesOrder(t *testing.T) {
	results := map[types.Channel]types.ChannelResult{
		types.ChannelVector: {Channel: types.ChannelVector, Items: chunkList("a", "b", "c", "d")},
	}
	fused := Fuse(results, Config{K: 60, Weights: types.WeightProfile{Vector: 1.0}, TopK: 10})

	want := []string{"a", "b", "c", "d"}
	for i, w := range want {
		if fused.Entries[i].ChunkRef.ChunkID != w {
			t.Errorf("position %d: got %s, want %s", i, fused.Entries[i].ChunkRef.ChunkID, w)
		}
	}
}

func TestFuse_EmptyChannels(t *testing.T) {
	fused := Fuse(map[types.Channel]types.ChannelResult{}, Config{K: 60, Weights: types.WeightProfile{Vector: 1.0}, TopK: 10})
	if len(fused.Entries) != 0 {
		t.Errorf("expected empty result, got %d entries", len(fused.Entries))
	}
}

func TestFuse_AllWeightsZero(t *testing.T) {
	results := map[types.Channel]types.ChannelResult{
		types.ChannelVector: {Channel: types.ChannelVector, Items: chunkList("a", "b")},
	}
	fused := Fuse(results, Config{K: 60, Weights: types.WeightProfile{}, TopK: 10})
	if len(fused.Entries) != 0 {
		t.Errorf("expected empty result when all weights are zero, got %d entries", len(fused.Entries))
	}
}

func TestFuse_ZeroWeightChannelIgnoredEvenIfSupplied(t *testing.T) {
	results := map[types.Channel]types.ChannelResult{
		types.ChannelVector: {Channel: types.ChannelVector, Items: chunkList("a", "b")},
		types.ChannelSparse: {Channel: types.ChannelSparse, Items: chunkList("z", "y")},
	}
	fused := Fuse(results, Config{K: 60, Weights: types.WeightProfile{Vector: 1.0, Sparse: 0.0}, TopK: 10})

	for _, e := range fused.Entries {
		if e.ChunkRef.ChunkID == "z" || e.ChunkRef.ChunkID == "y" {
			t.Errorf("zero-weight channel contributed chunk %s", e.ChunkRef.ChunkID)
		}
	}
}

func TestFuse_TopKExceedsUniqueChunks(t *testing.T) {
	results := map[types.Channel]types.ChannelResult{
		types.ChannelVector: {Channel: types.ChannelVector, Items: chunkList("a", "b")},
	}
	fused := Fuse(results, Config{K: 60, Weights: types.WeightProfile{Vector: 1.0}, TopK: 1000})
	if len(fused.Entries) != 2 {
		t.Errorf("expected all 2 unique chunks, got %d", len(fused.Entries))
	}
}

func TestFuse_RankMonotonicity(t *testing.T) {
	results := map[types.Channel]types.ChannelResult{
		types.ChannelVector: {Channel: types.ChannelVector, Items: chunkList("a", "b", "c", "d", "e")},
		types.ChannelSparse: {Channel: types.ChannelSparse, Items: chunkList("b", "a", "e", "c", "d")},
	}
	weights := types.WeightProfile{Vector: 0.5, Sparse: 0.5}
	fused := Fuse(results, Config{K: 60, Weights: weights, TopK: 10})

	for i := 1; i < len(fused.Entries); i++ {
		if fused.Entries[i].FusedScore > fused.Entries[i-1].FusedScore {
			t.Errorf("fused score increased at position %d: %f > %f", i, fused.Entries[i].FusedScore, fused.Entries[i-1].FusedScore)
		}
	}
}

func TestFuse_TieBreaking_Deterministic(t *testing.T) {
	// Two chunks with identical contributing ranks and channel counts must
	// be ordered lexicographically by chunk_id.
	results := map[types.Channel]types.ChannelResult{
		types.ChannelVector: {Channel: types.ChannelVector, Items: []types.ScoredChunk{
			{ChunkID: "zzz", Score: 1},
			{ChunkID: "aaa", Score: 1},
		}},
	}
	fused := Fuse(results, Config{K: 60, Weights: types.WeightProfile{Vector: 1.0}, TopK: 10})

	// "zzz" has rank 0 and "aaa" has rank 1, so rank ordering dominates here
	// — this test instead checks a genuine tie via two separate channels
	// giving each chunk the same rank.
	resultsB := map[types.Channel]types.ChannelResult{
		types.ChannelVector: {Channel: types.ChannelVector, Items: []types.ScoredChunk{{ChunkID: "zzz", Score: 1}}},
		types.ChannelSparse: {Channel: types.ChannelSparse, Items: []types.ScoredChunk{{ChunkID: "aaa", Score: 1}}},
	}
	fusedB := Fuse(resultsB, Config{K: 60, Weights: types.WeightProfile{Vector: 0.5, Sparse: 0.5}, TopK: 10})
	if fusedB.Entries[0].ChunkRef.ChunkID != "aaa" {
		t.Errorf("expected lexicographic tie-break to prefer aaa, got %s", fusedB.Entries[0].ChunkRef.ChunkID)
	}

	_ = fused // sanity: no panic on the rank-dominated case above
}

func TestFuse_ShuffledChannelInputOrderStable(t *testing.T) {
	a := map[types.Channel]types.ChannelResult{
		types.ChannelVector:     {Channel: types.ChannelVector, Items: chunkList("c1", "c2")},
		types.ChannelSparse:     {Channel: types.ChannelSparse, Items: chunkList("c2", "c1")},
		types.ChannelGraphLocal: {Channel: types.ChannelGraphLocal, Items: chunkList("c1", "c3")},
	}
	weights := types.WeightProfile{Vector: 0.3, Sparse: 0.3, GraphLocal: 0.4}

	fused1 := Fuse(a, Config{K: 60, Weights: weights, TopK: 10})

	// Build an equivalent map with the same contents (map construction
	// order in Go source is irrelevant to iteration order, but this guards
	// against any reliance on accidental ordering in future edits).
	b := map[types.Channel]types.ChannelResult{
		types.ChannelGraphLocal: a[types.ChannelGraphLocal],
		types.ChannelVector:     a[types.ChannelVector],
		types.ChannelSparse:     a[types.ChannelSparse],
	}
	fused2 := Fuse(b, Config{K: 60, Weights: weights, TopK: 10})

	if len(fused1.Entries) != len(fused2.Entries) {
		t.Fatalf("entry count mismatch: %d vs %d", len(fused1.Entries), len(fused2.Entries))
	}
	for i := range fused1.Entries {
		if fused1.Entries[i].ChunkRef.ChunkID != fused2.Entries[i].ChunkRef.ChunkID {
			t.Errorf("position %d differs: %s vs %s", i, fused1.Entries[i].ChunkRef.ChunkID, fused2.Entries[i].ChunkRef.ChunkID)
		}
	}
}

func TestFuse_DuplicateWithinChannelCollapsesToBestRank(t *testing.T) {
	results := map[types.Channel]types.ChannelResult{
		types.ChannelVector: {Channel: types.ChannelVector, Items: []types.ScoredChunk{
			{ChunkID: "a", Score: 3},
			{ChunkID: "b", Score: 2},
			{ChunkID: "a", Score: 1}, // duplicate: must not double-count
		}},
	}
	fused := Fuse(results, Config{K: 60, Weights: types.WeightProfile{Vector: 1.0}, TopK: 10})

	if len(fused.Entries) != 2 {
		t.Fatalf("expected 2 unique chunks, got %d", len(fused.Entries))
	}
	if fused.Entries[0].ChunkRef.ChunkID != "a" {
		t.Fatalf("expected a first, got %s", fused.Entries[0].ChunkRef.ChunkID)
	}
	wantScore := 1.0 / 61.0 // rank-0 contribution only
	if got := fused.Entries[0].FusedScore; got != wantScore {
		t.Errorf("duplicate chunk score = %v, want %v (single contribution)", got, wantScore)
	}
	if got := len(fused.Entries[0].ChunkRef.Provenance); got != 1 {
		t.Errorf("duplicate chunk provenance count = %d, want 1", got)
	}
}

func TestRenormalizeWeights(t *testing.T) {
	profile := types.WeightProfile{Vector: 0.1, Sparse: 0.6, GraphLocal: 0.3, GraphGlobal: 0.0}

	// sparse channel failed; vector + graph_local survive.
	enabled := map[types.Channel]bool{types.ChannelVector: true, types.ChannelGraphLocal: true}
	renorm := RenormalizeWeights(profile, enabled)

	if renorm.Sparse != 0 || renorm.GraphGlobal != 0 {
		t.Errorf("disabled channels should carry zero weight, got %+v", renorm)
	}
	sum := renorm.Vector + renorm.GraphLocal
	if sum < 0.999 || sum > 1.001 {
		t.Errorf("renormalized weights should sum to 1.0, got %f", sum)
	}
	if math.Abs(renorm.Vector-0.25) > 1e-9 || math.Abs(renorm.GraphLocal-0.75) > 1e-9 {
		t.Errorf("expected vector=0.25 graph_local=0.75, got vector=%f graph_local=%f", renorm.Vector, renorm.GraphLocal)
	}
}

func TestRenormalizeWeights_AllZeroBecomesEqual(t *testing.T) {
	profile := types.WeightProfile{Vector: 0.0, Sparse: 0.0}
	enabled := map[types.Channel]bool{types.ChannelVector: true, types.ChannelSparse: true}

	renorm := RenormalizeWeights(profile, enabled)
	if renorm.Vector != 0.5 || renorm.Sparse != 0.5 {
		t.Errorf("expected equal weighting 0.5/0.5, got vector=%f sparse=%f", renorm.Vector, renorm.Sparse)
	}
}

func TestRenormalizeWeights_NoneEnabled(t *testing.T) {
	renorm := RenormalizeWeights(types.WeightProfile{Vector: 1.0}, map[types.Channel]bool{})
	if renorm.Vector != 0 || renorm.Sparse != 0 || renorm.GraphLocal != 0 || renorm.GraphGlobal != 0 {
		t.Errorf("expected zero profile when no channels enabled, got %+v", renorm)
	}
}
