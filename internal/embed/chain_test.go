package embed

import (
	"context"
	"fmt"
	"testing"
)

type fakeCache struct {
	entries map[string][]float32
	puts    int
}

func newFakeCache() *fakeCache { return &fakeCache{entries: map[string][]float32{}} }

func (f *fakeCache) GetCachedEmbedding(hash string) ([]float32, error) {
	return f.entries[hash], nil
}

func (f *fakeCache) PutCachedEmbedding(hash string, v []float32) error {
	f.puts++
	f.entries[hash] = v
	return nil
}

type fakeProvider struct {
	name    string
	vectors [][]float32
	err     error
	calls   int
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	copy(out, f.vectors)
	return out, nil
}

func TestChainCacheHitSkipsProviders(t *testing.T) {
	cache := newFakeCache()
	cache.entries[hashText("hello")] = []float32{1, 2, 3}
	local := &fakeProvider{name: "local"}
	chain := NewChain(cache, local, Null{})

	out, err := chain.Embed(context.Background(), []string{"hello"})
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if len(out) != 1 || len(out[0]) != 3 {
		t.Fatalf("out = %v, want cached vector", out)
	}
	if local.calls != 0 {
		t.Errorf("local.calls = %d, want 0 (cache hit should skip providers)", local.calls)
	}
}

func TestChainFallsThroughOnProviderFailure(t *testing.T) {
	cache := newFakeCache()
	failing := &fakeProvider{name: "local", err: fmt.Errorf("model not loaded")}
	hosted := &fakeProvider{name: "hosted", vectors: [][]float32{{4, 5, 6}}}
	chain := NewChain(cache, failing, hosted, Null{})

	out, err := chain.Embed(context.Background(), []string{"world"})
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if len(out) != 1 || out[0][0] != 4 {
		t.Fatalf("out = %v, want hosted's vector", out)
	}
	if failing.calls != 1 {
		t.Errorf("failing.calls = %d, want 1", failing.calls)
	}
	if cache.puts != 1 {
		t.Errorf("cache.puts = %d, want 1 (hosted results are written back)", cache.puts)
	}
}

func TestChainNullFallbackReturnsNilVector(t *testing.T) {
	cache := newFakeCache()
	failing := &fakeProvider{name: "hosted", err: fmt.Errorf("unreachable")}
	chain := NewChain(cache, failing, Null{})

	out, err := chain.Embed(context.Background(), []string{"anything"})
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if len(out) != 1 || out[0] != nil {
		t.Fatalf("out = %v, want [nil]", out)
	}
	if cache.puts != 0 {
		t.Errorf("cache.puts = %d, want 0 (Null results are never cached)", cache.puts)
	}
}

func TestChainPreservesPositionalOrderAcrossCacheHitsAndMisses(t *testing.T) {
	cache := newFakeCache()
	cache.entries[hashText("cached")] = []float32{9}
	hosted := &fakeProvider{name: "hosted", vectors: [][]float32{{7}}}
	chain := NewChain(cache, hosted, Null{})

	out, err := chain.Embed(context.Background(), []string{"cached", "miss"})
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if out[0][0] != 9 {
		t.Errorf("out[0] = %v, want cached vector [9]", out[0])
	}
	if out[1][0] != 7 {
		t.Errorf("out[1] = %v, want hosted vector [7]", out[1])
	}
}
