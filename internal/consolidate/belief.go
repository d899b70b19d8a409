package consolidate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/engramd/engramd/internal/atomicfile"
	"github.com/engramd/engramd/internal/store"
)

// beliefClusterThreshold is the cosine-similarity bar for grouping
// unconsolidated episodes into one candidate belief, and for sanity-
// checking a synthesized statement against its source cluster before
// persisting it.
const beliefClusterThreshold = 0.82

const (
	beliefPromotionThreshold = 0.75
	beliefMinEvidence        = 3
	beliefsBeginMarker       = "<!-- ENGRAM:BELIEFS:BEGIN -->"
	beliefsEndMarker         = "<!-- ENGRAM:BELIEFS:END -->"
)

const beliefSystemPrompt = `You synthesize a single general statement from a cluster of related memories. Respond with ONLY the statement itself, one or two sentences, no preamble, no quotation marks, no markdown.`

// synthesizeBeliefs clusters episodes created since the last checkpoint by
// cosine similarity, synthesizes a statement per cluster with at least two
// members, and upserts a belief for each (spec.md §4.7). The checkpoint
// advances to the max CreatedAt processed, whether or not a cluster
// produced a belief.
func (c *Consolidator) synthesizeBeliefs(ctx context.Context, now time.Time) (int, error) {
	episodes, err := c.store.ListEpisodes(store.EpisodeFilter{HasEmbedding: true})
	if err != nil {
		return 0, fmt.Errorf("consolidate: list episodes for belief synthesis: %w", err)
	}

	var unconsolidated []*store.Episode
	for _, e := range episodes {
		if e.CreatedAt.After(c.beliefCheckpoint) {
			unconsolidated = append(unconsolidated, e)
		}
	}
	if len(unconsolidated) == 0 {
		return 0, nil
	}
	sort.Slice(unconsolidated, func(i, j int) bool {
		return unconsolidated[i].CreatedAt.Before(unconsolidated[j].CreatedAt)
	})

	updated := 0
	checkpoint := c.beliefCheckpoint
	for _, cluster := range clusterEpisodes(unconsolidated, beliefClusterThreshold) {
		for _, e := range cluster {
			if e.CreatedAt.After(checkpoint) {
				checkpoint = e.CreatedAt
			}
		}
		if len(cluster) < 2 {
			continue
		}
		upserted, err := c.synthesizeOne(ctx, cluster)
		if err != nil {
			log.Printf("[CONSOLIDATE] belief cluster synthesis failed: %v", err)
			continue
		}
		if upserted {
			updated++
		}
	}
	c.beliefCheckpoint = checkpoint
	return updated, nil
}

// clusterEpisodes greedily assigns each episode to the first existing
// cluster whose seed embedding is within threshold, else starts a new
// cluster. Input is expected sorted oldest-first so the seed of each
// cluster is its earliest member.
func clusterEpisodes(episodes []*store.Episode, threshold float64) [][]*store.Episode {
	var clusters [][]*store.Episode
	var seeds [][]float32
	for _, e := range episodes {
		placed := false
		for i, seed := range seeds {
			if store.CosineSimilarity(e.Embedding, seed) >= threshold {
				clusters[i] = append(clusters[i], e)
				placed = true
				break
			}
		}
		if !placed {
			clusters = append(clusters, []*store.Episode{e})
			seeds = append(seeds, e.Embedding)
		}
	}
	return clusters
}

// synthesizeOne synthesizes a statement for one cluster, rejects it if its
// embedding has drifted from every member of the cluster it was drawn
// from, and upserts the resulting belief keyed by a deterministic id so
// repeated cycles over the same cluster update rather than duplicate it.
func (c *Consolidator) synthesizeOne(ctx context.Context, cluster []*store.Episode) (bool, error) {
	statement, err := c.synthesizeStatement(ctx, cluster)
	if err != nil {
		return false, err
	}
	if statement == "" {
		return false, nil
	}

	embeddings, err := c.embedder.Embed(ctx, []string{statement})
	if err != nil || len(embeddings) == 0 {
		return false, fmt.Errorf("consolidate: embed belief statement: %w", err)
	}
	if clusterCoherence(embeddings[0], cluster) < beliefClusterThreshold {
		return false, nil
	}

	ids := episodeIDs(cluster)
	belief := &store.Belief{
		ID:                 beliefID(ids),
		Statement:          statement,
		ConfidenceAlpha:    1 + float64(len(cluster)),
		ConfidenceBeta:     1,
		EvidenceCount:      len(cluster),
		SupportingEpisodes: ids,
		Scope:              cluster[0].Scope,
		Status:             store.BeliefActive,
	}
	if belief.Scope != store.ScopeGlobal {
		belief.Project = cluster[0].Project
		belief.ProjectPath = cluster[0].ProjectPath
	}
	if err := c.store.UpsertBelief(belief); err != nil {
		return false, err
	}
	return true, nil
}

func (c *Consolidator) synthesizeStatement(ctx context.Context, cluster []*store.Episode) (string, error) {
	var b strings.Builder
	b.WriteString("Related memories:\n")
	for _, e := range cluster {
		b.WriteString("- " + e.Summary + "\n")
	}
	raw, err := c.chat.Complete(ctx, beliefSystemPrompt, b.String())
	if err != nil {
		return "", fmt.Errorf("consolidate: synthesize belief statement: %w", err)
	}
	return strings.TrimSpace(raw), nil
}

func clusterCoherence(statementEmbedding []float32, cluster []*store.Episode) float64 {
	best := 0.0
	for _, e := range cluster {
		if sim := store.CosineSimilarity(statementEmbedding, e.Embedding); sim > best {
			best = sim
		}
	}
	return best
}

func episodeIDs(cluster []*store.Episode) []string {
	ids := make([]string, len(cluster))
	for i, e := range cluster {
		ids[i] = e.ID
	}
	return ids
}

// beliefID derives a stable id from a cluster's sorted episode ids, so the
// same evidence set upserts the same belief row across cycles instead of
// minting duplicates.
func beliefID(episodeIDs []string) string {
	sorted := append([]string(nil), episodeIDs...)
	sort.Strings(sorted)
	sum := sha256.Sum256([]byte(strings.Join(sorted, ",")))
	return hex.EncodeToString(sum[:])[:12]
}

// promoteBeliefs rewrites each scope's sentinel-delimited belief block with
// every belief currently above the confidence/evidence bar (spec.md §4.7).
// Rebuilding the block from scratch each cycle is what makes a belief that
// has since dropped below threshold disappear from the file on the next
// cycle, without tracking a separate demotion diff.
func (c *Consolidator) promoteBeliefs(now time.Time) error {
	if err := c.promoteScope(store.ScopeGlobal, "", c.cfg.GlobalMemoryPath(), c.globalLock, now); err != nil {
		return err
	}

	projects, err := c.activeProjectPaths()
	if err != nil {
		return fmt.Errorf("consolidate: list project paths for belief promotion: %w", err)
	}
	for _, projectPath := range projects {
		path := projectMemoryPath(projectPath)
		if err := c.promoteScope(store.ScopeProject, projectPath, path, c.lockFor(path), now); err != nil {
			log.Printf("[CONSOLIDATE] belief promotion for %s failed: %v", projectPath, err)
		}
	}
	return nil
}

func (c *Consolidator) promoteScope(scope store.Scope, projectPath, path string, lock *atomicfile.Lock, now time.Time) error {
	beliefs, err := c.store.ListActiveBeliefs(scope, projectPath)
	if err != nil {
		return fmt.Errorf("consolidate: list active beliefs: %w", err)
	}

	var promotable []*store.Belief
	for _, b := range beliefs {
		if b.Confidence() >= beliefPromotionThreshold && b.EvidenceCount >= beliefMinEvidence {
			promotable = append(promotable, b)
			if b.PromotedAt == nil {
				if err := c.store.SetBeliefStatus(b.ID, store.BeliefActive, now); err != nil {
					log.Printf("[CONSOLIDATE] mark belief promoted %s: %v", b.ID, err)
				}
			}
			continue
		}
		if b.PromotedAt != nil {
			if err := c.store.SetBeliefStatus(b.ID, store.BeliefDemoted, now); err != nil {
				log.Printf("[CONSOLIDATE] demote belief %s: %v", b.ID, err)
			}
		}
	}
	if len(promotable) == 0 && !fileHasBeliefBlock(path) {
		return nil
	}

	return lock.WithLock(func() error {
		content, err := readFileOrEmpty(path)
		if err != nil {
			return err
		}
		content = replaceBeliefBlock(content, renderBeliefBlock(promotable))
		return atomicfile.WriteFile(path, []byte(content), 0o644)
	})
}

// activeProjectPaths returns the distinct non-global project paths that
// currently have any episode, as candidates for per-project belief
// promotion.
func (c *Consolidator) activeProjectPaths() ([]string, error) {
	episodes, err := c.store.ListEpisodes(store.EpisodeFilter{Scope: store.ScopeProject})
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var out []string
	for _, e := range episodes {
		if e.ProjectPath == nil || *e.ProjectPath == "" || seen[*e.ProjectPath] {
			continue
		}
		seen[*e.ProjectPath] = true
		out = append(out, *e.ProjectPath)
	}
	return out, nil
}

func renderBeliefBlock(beliefs []*store.Belief) string {
	var b strings.Builder
	b.WriteString(beliefsBeginMarker + "\n")
	for _, belief := range beliefs {
		fmt.Fprintf(&b, "- %s _(confidence %.2f, %d supporting)_\n", belief.Statement, belief.Confidence(), belief.EvidenceCount)
	}
	b.WriteString(beliefsEndMarker)
	return b.String()
}

func fileHasBeliefBlock(path string) bool {
	content, err := readFileOrEmpty(path)
	if err != nil {
		return false
	}
	return strings.Contains(content, beliefsBeginMarker)
}

// replaceBeliefBlock substitutes the sentinel-delimited block with
// rendered, or appends rendered if no block exists yet.
func replaceBeliefBlock(content, rendered string) string {
	start := strings.Index(content, beliefsBeginMarker)
	end := strings.Index(content, beliefsEndMarker)
	if start == -1 || end == -1 || end < start {
		trimmed := strings.TrimRight(content, "\n")
		sep := ""
		if trimmed != "" {
			sep = "\n\n"
		}
		return trimmed + sep + rendered + "\n"
	}
	return content[:start] + rendered + content[end+len(beliefsEndMarker):]
}

func projectMemoryPath(projectFullPath string) string {
	return filepath.Join(projectFullPath, ".claude", "memory", "MEMORY.md")
}
