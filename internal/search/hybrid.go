// Package search implements hybrid retrieval (C3): lexical candidate
// generation, vector re-rank, score fusion, and temporal decay over the
// chunk table.
package search

import (
	"fmt"
	"math"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"github.com/engramd/engramd/internal/store"
)

// Result is one ranked hit.
type Result struct {
	Chunk *store.Chunk
	Score float64
}

// FamilyFilter reports whether a chunk's project is in the caller's
// project family (spec.md §4.3: "drop any that fail the project-family
// filter"). A nil filter admits every chunk.
type FamilyFilter func(project *string) bool

// Options configures optional re-rank stages.
type Options struct {
	// Diversify enables an MMR-style post-fusion re-rank (SPEC_FULL.md
	// Decision: off by default — spec.md §9 calls it "not clearly
	// exercised by the core path").
	Diversify bool
	// Lambda trades relevance against novelty when Diversify is set.
	// 1.0 = pure relevance; lower values weigh novelty more. Any value
	// <= 0, including the zero value, is treated as 0.5.
	Lambda float64
}

const epsilon = 1e-9

var datePrefix = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}`)

// Hybrid runs the full algorithm of spec.md §4.3 over s's chunk table.
// queryEmbedding may be nil (vector score then contributes 0 for every
// candidate). now is injected so callers (and tests) control temporal
// decay deterministically.
func Hybrid(s *store.Store, query string, queryEmbedding []float32, limit int, filter FamilyFilter, now time.Time, opts Options) ([]Result, error) {
	if limit <= 0 {
		return nil, nil
	}

	matchQuery := buildMatchQuery(query)
	if matchQuery == "" {
		return nil, nil
	}

	hits, err := s.SearchChunksLexical(matchQuery, 3*limit)
	if err != nil {
		return nil, fmt.Errorf("search: lexical query: %w", err)
	}
	if len(hits) == 0 {
		return nil, nil
	}

	type candidate struct {
		chunk       *store.Chunk
		rawLexical  float64
		vectorScore float64
	}

	var candidates []candidate
	for _, h := range hits {
		if filter != nil && !filter(h.Chunk.Project) {
			continue
		}
		vec := 0.0
		if len(h.Chunk.Embedding) > 0 && len(queryEmbedding) > 0 {
			vec = store.CosineSimilarity(queryEmbedding, h.Chunk.Embedding)
		}
		candidates = append(candidates, candidate{chunk: h.Chunk, rawLexical: h.RawScore, vectorScore: vec})
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	minLex, maxLex := candidates[0].rawLexical, candidates[0].rawLexical
	for _, c := range candidates[1:] {
		if c.rawLexical < minLex {
			minLex = c.rawLexical
		}
		if c.rawLexical > maxLex {
			maxLex = c.rawLexical
		}
	}

	results := make([]Result, 0, len(candidates))
	for _, c := range candidates {
		// Raw bm25 scores are more-negative-is-better, so normalized
		// "best" (1.0) must map from the most negative raw score. A
		// sole or tied candidate has maxLex == minLex: it's the best
		// match by definition, so it normalizes to 1 rather than
		// falling through to the epsilon-only denominator (which
		// would collapse it to 0).
		var normalizedLexical float64
		if maxLex == minLex {
			normalizedLexical = 1.0
		} else {
			normalizedLexical = (maxLex - c.rawLexical) / (maxLex - minLex + epsilon)
		}
		fused := 0.7*c.vectorScore + 0.3*normalizedLexical
		multiplier := decayMultiplier(c.chunk.Path, c.chunk.UpdatedAt, now)
		results = append(results, Result{Chunk: c.chunk, Score: fused * multiplier})
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })

	if opts.Diversify {
		results = diversify(results, opts.Lambda, limit)
	}
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// decayMultiplier implements spec.md §4.3 step 7. A curated file is
// "evergreen" (exempt from decay) if its basename is MEMORY.md or does not
// start with a YYYY-MM-DD date prefix.
func decayMultiplier(path string, updatedAt, now time.Time) float64 {
	base := filepath.Base(path)
	if base == "MEMORY.md" || !datePrefix.MatchString(base) {
		return 1.0
	}
	ageDays := now.Sub(updatedAt).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	return math.Exp(-math.Ln2 * ageDays / 30)
}

// diversify re-ranks the already-fused, already-sorted results with a
// simple MMR pass: greedily pick the highest-scoring remaining result that
// is least textually redundant with what's already been picked, per
// SPEC_FULL.md's Decision that this stage is optional and off by default.
func diversify(ranked []Result, lambda float64, limit int) []Result {
	if lambda <= 0 {
		lambda = 0.5
	}
	if limit <= 0 || limit > len(ranked) {
		limit = len(ranked)
	}

	picked := make([]Result, 0, limit)
	remaining := append([]Result(nil), ranked...)

	for len(picked) < limit && len(remaining) > 0 {
		bestIdx := 0
		bestScore := math.Inf(-1)
		for i, r := range remaining {
			redundancy := 0.0
			for _, p := range picked {
				if p.Chunk.Embedding != nil && r.Chunk.Embedding != nil {
					sim := store.CosineSimilarity(p.Chunk.Embedding, r.Chunk.Embedding)
					if sim > redundancy {
						redundancy = sim
					}
				}
			}
			mmr := lambda*r.Score - (1-lambda)*redundancy
			if mmr > bestScore {
				bestScore = mmr
				bestIdx = i
			}
		}
		picked = append(picked, remaining[bestIdx])
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}
	return picked
}
