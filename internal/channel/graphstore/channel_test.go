package graphstore

import (
	"context"
	"testing"

	"github.com/hybridretrieval/retrieval-core/internal/channel"
	"github.com/hybridretrieval/retrieval-core/internal/types"
)

func TestLocalClient_Query(t *testing.T) {
	store, mr := newTestStore(t)
	seedGraph(t, mr, "acme")

	c := NewLocalClient(store)
	if c.Channel() != types.ChannelGraphLocal {
		t.Fatalf("Channel() = %s, want graph_local", c.Channel())
	}

	result, err := c.Query(context.Background(), channel.Input{
		Namespace: "acme",
		QueryText: "kubernetes pods",
		TopK:      10,
	})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(result.Items) == 0 {
		t.Error("expected non-empty local expansion")
	}
}

func TestLocalClient_Query_NoEntities(t *testing.T) {
	store, mr := newTestStore(t)
	seedGraph(t, mr, "acme")

	c := NewLocalClient(store)
	result, err := c.Query(context.Background(), channel.Input{
		Namespace: "acme",
		QueryText: "completely unrelated text",
		TopK:      10,
	})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(result.Items) != 0 {
		t.Errorf("expected empty result for unresolvable entities, got %d items", len(result.Items))
	}
}

func TestGlobalClient_Query(t *testing.T) {
	store, mr := newTestStore(t)
	seedGraph(t, mr, "acme")

	c := NewGlobalClient(store)
	if c.Channel() != types.ChannelGraphGlobal {
		t.Fatalf("Channel() = %s, want graph_global", c.Channel())
	}

	result, err := c.Query(context.Background(), channel.Input{
		Namespace: "acme",
		QueryText: "kubernetes architecture overview",
		TopK:      10,
	})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(result.Items) == 0 {
		t.Error("expected non-empty global expansion")
	}
}

func TestGlobalClient_Query_UsesSuppliedEntityIDs(t *testing.T) {
	store, mr := newTestStore(t)
	seedGraph(t, mr, "acme")

	c := NewGlobalClient(store)
	result, err := c.Query(context.Background(), channel.Input{
		Namespace: "acme",
		EntityIDs: []string{"ent_k8s"},
		TopK:      10,
	})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(result.Items) != 2 {
		t.Errorf("expected 2 items from supplied entity IDs, got %d", len(result.Items))
	}
}
