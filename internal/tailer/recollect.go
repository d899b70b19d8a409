package tailer

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"regexp"
	"time"

	"github.com/engramd/engramd/internal/atomicfile"
	"github.com/engramd/engramd/internal/extract"
	"github.com/engramd/engramd/internal/search"
)

// sessionIDPattern is the validity check spec.md §6 requires before a
// recollections/<sessionId>.json path is trusted.
var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Bite is one ranked memory fragment offered to a consumer.
type Bite struct {
	ID   string `json:"id"`
	Bite string `json:"bite"`
}

// Snapshot is the on-disk shape of recollections/<sessionId>.json.
type Snapshot struct {
	Bites []Bite `json:"bites"`
}

// RecollectionsPath returns the snapshot path for a session, or an error
// if sessionID fails the validity pattern.
func RecollectionsPath(dir, sessionID string) (string, error) {
	if !sessionIDPattern.MatchString(sessionID) {
		return "", fmt.Errorf("tailer: invalid session id %q", sessionID)
	}
	return filepath.Join(dir, sessionID+".json"), nil
}

// RefreshRecollection runs hybrid search over an embedding of the last
// user prompt, scoped to the session's project family, and persists the
// top-K bites via atomic rename (spec.md §4.6 step 5).
func (t *Tailer) RefreshRecollection(ctx context.Context, state SessionState, now time.Time) error {
	if state.LastUserPrompt == "" {
		return nil
	}

	path, err := RecollectionsPath(t.cfg.RecollectionsDir(), state.SessionID)
	if err != nil {
		return err
	}

	var queryEmbedding []float32
	if embeddings, err := t.embedder.Embed(ctx, []string{state.LastUserPrompt}); err == nil && len(embeddings) == 1 {
		queryEmbedding = embeddings[0]
	}

	filter := t.familyFilter(state.ProjectPath)
	results, err := search.Hybrid(t.store, state.LastUserPrompt, queryEmbedding, t.cfg.Tailer.RecollectTopK, filter, now, search.Options{})
	if err != nil {
		return fmt.Errorf("tailer: hybrid search for recollection: %w", err)
	}

	snapshot := Snapshot{Bites: make([]Bite, 0, len(results))}
	for _, r := range results {
		snapshot.Bites = append(snapshot.Bites, Bite{ID: fmt.Sprintf("%d", r.Chunk.ID), Bite: r.Chunk.Text})
	}

	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("tailer: marshal recollection snapshot: %w", err)
	}
	return atomicfile.WriteFile(path, data, 0o644)
}

// familyFilter builds a search.FamilyFilter admitting global chunks plus
// chunks whose project is in projectPath's family. A nil/empty
// projectPath admits only global chunks.
func (t *Tailer) familyFilter(projectPath string) search.FamilyFilter {
	var family map[string]bool
	if projectPath != "" && t.families != nil {
		members := t.families.Family(projectPath)
		family = make(map[string]bool, len(members))
		for _, m := range members {
			family[m] = true
		}
	}
	return func(p *string) bool {
		if p == nil {
			return true
		}
		return family[*p]
	}
}

// toExtractMessages adapts the tailer's own Message type to
// extract.Message without the extract package needing to import tailer.
func toExtractMessages(msgs []Message) []extract.Message {
	out := make([]extract.Message, len(msgs))
	for i, m := range msgs {
		out[i] = extract.Message{Role: m.Role, Content: m.Content}
	}
	return out
}

