package types

import "testing"

func TestWeightProfile_Get(t *testing.T) {
	p := WeightProfile{Vector: 0.3, Sparse: 0.3, GraphLocal: 0.4, GraphGlobal: 0.0}

	tests := []struct {
		channel Channel
		want    float64
	}{
		{ChannelVector, 0.3},
		{ChannelSparse, 0.3},
		{ChannelGraphLocal, 0.4},
		{ChannelGraphGlobal, 0.0},
	}

	for _, tt := range tests {
		if got := p.Get(tt.channel); got != tt.want {
			t.Errorf("Get(%s) = %f, want %f", tt.channel, got, tt.want)
		}
	}
}

func TestDefaultWeightProfiles_SumToOne(t *testing.T) {
	for intent, p := range DefaultWeightProfiles {
		sum := p.Vector + p.Sparse + p.GraphLocal + p.GraphGlobal
		if sum < 0.999 || sum > 1.001 {
			t.Errorf("profile %s sums to %f, want 1.0", intent, sum)
		}
	}
}

func TestChannelMask_EnabledAndWithout(t *testing.T) {
	m := AllChannelsEnabled

	for _, c := range AllChannels {
		if !m.Enabled(c) {
			t.Errorf("expected %s enabled in full mask", c)
		}
	}

	m2 := m.Without(ChannelSparse)
	if m2.Enabled(ChannelSparse) {
		t.Error("expected sparse disabled after Without")
	}
	if !m2.Enabled(ChannelVector) {
		t.Error("expected vector still enabled after disabling sparse")
	}
}

func TestChunkRef_Equal(t *testing.T) {
	a := ChunkRef{ChunkID: "c1", Namespace: "auto"}
	b := ChunkRef{ChunkID: "c1", Namespace: "auto"}
	c := ChunkRef{ChunkID: "c1", Namespace: "finance"}

	if !a.Equal(b) {
		t.Error("expected equal chunk refs in same namespace")
	}
	if a.Equal(c) {
		t.Error("expected unequal chunk refs across namespaces")
	}
}
