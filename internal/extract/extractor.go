package extract

import (
	"context"
	"log"

	"github.com/engramd/engramd/internal/store"
)

// Embedder is the subset of internal/embed's Provider chain the extractor
// needs: embed candidate summaries so they can be deduped against
// existing episodes.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Extractor turns a batch of new messages into stored episodes: one chat
// call to propose candidates, then a dedup-upsert pass per candidate
// (spec.md §4.5).
type Extractor struct {
	store    *store.Store
	embedder Embedder
	chat     *ChatClient
}

// New builds an Extractor. chat may be nil, in which case ExtractBatch
// behaves as if every call failed (extraction disabled but the daemon
// still runs — spec.md §7: "LLM failure: extractor returns empty").
func New(s *store.Store, embedder Embedder, chat *ChatClient) *Extractor {
	return &Extractor{store: s, embedder: embedder, chat: chat}
}

// ExtractBatch runs one extraction cycle: calls the chat model, parses its
// response, and dedup-upserts every candidate against the project's
// candidate-eligible episode snapshot. projectName is the human-readable
// project name (spec.md §3's `project` field, e.g. "A") used in the LLM
// prompt and stored on each new episode; projectPath is the absolute
// directory (spec.md §3's `project_path`, e.g. "/root/Projects/A") stored
// alongside it — the two are distinct fields and must not collapse into
// one. It never returns an error for an LLM or parse failure — those
// degrade to an empty result per spec.md §7, so the tailer can always
// advance its offset.
func (e *Extractor) ExtractBatch(ctx context.Context, previousSummary, projectName, projectPath string, messages []Message) (*Result, []UpsertOutcome) {
	if e.chat == nil {
		return &Result{UpdatedSummary: previousSummary}, nil
	}

	raw, err := e.chat.Complete(ctx, systemPrompt, ComposeUserContent(previousSummary, projectName, messages))
	if err != nil {
		log.Printf("[EXTRACT] chat completion failed, returning empty batch: %v", err)
		return &Result{UpdatedSummary: previousSummary}, nil
	}

	result, err := ParseResponse(raw, previousSummary)
	if err != nil {
		log.Printf("[EXTRACT] failed to parse LLM response, returning empty batch: %v", err)
		return &Result{UpdatedSummary: previousSummary}, nil
	}

	if notes, err := ScanBatchConsistency(result.Memories); err != nil {
		log.Printf("[EXTRACT] alias consistency scan failed: %v", err)
	} else {
		for _, n := range notes {
			log.Printf("[EXTRACT] candidate %d mentions entity %q without tagging it", n.CandidateIndex, n.Entity)
		}
	}

	if len(result.Memories) == 0 {
		return result, nil
	}

	outcomes := e.dedupUpsertBatch(ctx, projectName, projectPath, result.Memories)
	return result, outcomes
}

// dedupUpsertBatch runs the dedup-upsert algorithm per candidate
// (spec.md §4.5): the candidate-eligible episode snapshot is fetched once
// (filtered by project name, matching the `project` column) and reused
// across every candidate in the batch.
func (e *Extractor) dedupUpsertBatch(ctx context.Context, projectName, projectPath string, candidates []Candidate) []UpsertOutcome {
	snapshot, err := e.store.DedupCandidates(projectName)
	if err != nil {
		log.Printf("[EXTRACT] failed to fetch dedup snapshot, skipping batch: %v", err)
		outcomes := make([]UpsertOutcome, len(candidates))
		for i, c := range candidates {
			outcomes[i] = UpsertOutcome{Candidate: c, Skipped: true, SkipReason: "dedup snapshot unavailable"}
		}
		return outcomes
	}

	outcomes := make([]UpsertOutcome, 0, len(candidates))
	for _, c := range candidates {
		outcomes = append(outcomes, e.dedupUpsertOne(ctx, projectName, projectPath, c, snapshot))
	}
	return outcomes
}

func (e *Extractor) dedupUpsertOne(ctx context.Context, projectName, projectPath string, c Candidate, snapshot []*store.Episode) UpsertOutcome {
	embeddings, err := e.embedder.Embed(ctx, []string{c.Summary})
	if err != nil || len(embeddings) == 0 || embeddings[0] == nil {
		return UpsertOutcome{Candidate: c, Skipped: true, SkipReason: "embedding failed"}
	}
	embedding := embeddings[0]

	bestSim := 0.0
	var bestMatch *store.Episode
	for _, episode := range snapshot {
		sim := store.CosineSimilarity(embedding, episode.Embedding)
		if sim > bestSim {
			bestSim = sim
			bestMatch = episode
		}
	}

	if bestMatch != nil && bestSim > dedupThreshold {
		fullContent := c.FullContent
		if err := e.store.UpdateEpisodeInPlace(bestMatch.ID, c.Summary, &fullContent, c.Entities, store.Importance(c.Importance), embedding); err != nil {
			return UpsertOutcome{Candidate: c, Skipped: true, SkipReason: "update failed: " + err.Error(), BestSimilarity: bestSim}
		}
		return UpsertOutcome{Candidate: c, EpisodeID: bestMatch.ID, Matched: true, BestSimilarity: bestSim}
	}

	id, err := store.NewEpisodeID()
	if err != nil {
		return UpsertOutcome{Candidate: c, Skipped: true, SkipReason: "id generation failed"}
	}

	episode := &store.Episode{
		ID:          id,
		Scope:       store.Scope(c.Scope),
		Summary:     c.Summary,
		FullContent: &c.FullContent,
		Entities:    c.Entities,
		Importance:  store.Importance(c.Importance),
		SourceType:  store.SourceAuto,
		Embedding:   embedding,
	}
	if episode.Scope != store.ScopeGlobal {
		episode.Project = &projectName
		episode.ProjectPath = &projectPath
	}

	if err := e.store.InsertEpisode(episode); err != nil {
		return UpsertOutcome{Candidate: c, Skipped: true, SkipReason: "insert failed: " + err.Error()}
	}
	return UpsertOutcome{Candidate: c, EpisodeID: id, BestSimilarity: bestSim}
}
