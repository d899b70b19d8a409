package embed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/engramd/engramd/internal/store"
)

// Cache is the subset of *store.Store the chain needs, kept narrow so
// tests can fake it.
type Cache interface {
	GetCachedEmbedding(hash string) ([]float32, error)
	PutCachedEmbedding(hash string, v []float32) error
}

var _ Cache = (*store.Store)(nil)

// Chain is the FallbackChain of spec.md §9: an ordered list of Providers,
// fronted by EmbeddingCache probes. Embed never returns an error for a
// miss — Null always succeeds — so callers only ever see an error from a
// cache I/O failure.
type Chain struct {
	providers []Provider
	cache     Cache
}

// NewChain builds a chain from Providers in fallback order (first match
// wins). The final element should normally be Null so Embed never fails
// outright.
func NewChain(cache Cache, providers ...Provider) *Chain {
	return &Chain{providers: providers, cache: cache}
}

// Embed implements spec.md §4.2's full contract: hash + cache-probe each
// text, then resolve misses through the provider chain, then write hosted
// results back to cache.
func (c *Chain) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	hashes := make([]string, len(texts))
	var missIdx []int

	for i, t := range texts {
		h := hashText(t)
		hashes[i] = h
		cached, err := c.cache.GetCachedEmbedding(h)
		if err != nil {
			return nil, fmt.Errorf("embed: probe cache: %w", err)
		}
		if cached != nil {
			out[i] = cached
			continue
		}
		missIdx = append(missIdx, i)
	}

	if len(missIdx) == 0 {
		return out, nil
	}

	missTexts := make([]string, len(missIdx))
	for j, i := range missIdx {
		missTexts[j] = texts[i]
	}

	vecs, provider, err := c.resolveMisses(ctx, missTexts)
	if err != nil {
		return nil, err
	}

	for j, i := range missIdx {
		out[i] = vecs[j]
		if provider == nil || vecs[j] == nil {
			continue
		}
		// Only the hosted provider's results are cached (spec.md §4.2
		// describes write-back under the Hosted bullet specifically); a
		// local provider's results are cheap to recompute and the null
		// provider has nothing to cache.
		if provider.Name() == "hosted" {
			if err := c.cache.PutCachedEmbedding(hashes[i], vecs[j]); err != nil {
				return nil, fmt.Errorf("embed: cache write-back: %w", err)
			}
		}
	}
	return out, nil
}

// resolveMisses tries providers in order; the first that embeds the whole
// miss batch without error wins, and no further provider is consulted
// (spec.md §4.2 step 2). Returns the winning provider so Embed knows
// whether to cache the result.
func (c *Chain) resolveMisses(ctx context.Context, texts []string) ([][]float32, Provider, error) {
	var lastErr error
	for _, p := range c.providers {
		vecs, err := p.Embed(ctx, texts)
		if err != nil {
			lastErr = err
			continue
		}
		return vecs, p, nil
	}
	if lastErr != nil {
		return nil, nil, fmt.Errorf("embed: all providers failed, last error: %w", lastErr)
	}
	return nil, nil, fmt.Errorf("embed: no providers configured")
}

func hashText(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
