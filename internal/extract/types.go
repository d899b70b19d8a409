// Package extract implements the conversation-to-episode extractor (C5):
// a chat-completion call against a fixed system prompt, JSON-repair parsing
// of the response, and the dedup-upsert algorithm that turns candidates
// into stored episodes.
package extract

// Message is one conversation turn fed to the extractor. Content is
// truncated to 2000 chars per message by ComposeUserContent, via
// TruncateMessage (spec.md §4.5).
type Message struct {
	Role    string
	Content string
}

// Candidate is one memory the LLM proposes extracting from a batch.
type Candidate struct {
	Summary     string   `json:"summary"`
	FullContent string   `json:"full_content"`
	Entities    []string `json:"entities"`
	Importance  string   `json:"importance"`
	Scope       string   `json:"scope"`
}

// Result is the extractor's output for one batch: zero or more candidates
// plus the updated rolling summary to carry into the next batch.
type Result struct {
	Memories       []Candidate `json:"memories"`
	UpdatedSummary string      `json:"updatedSummary"`
}

// UpsertOutcome records what the dedup-upsert step did with one candidate,
// for logging and testing.
type UpsertOutcome struct {
	Candidate      Candidate
	EpisodeID      string
	Matched        bool
	BestSimilarity float64
	Skipped        bool
	SkipReason     string
}

// dedupThreshold is the cosine-similarity floor above which a candidate is
// merged into an existing episode instead of inserted fresh (spec.md §4.5).
const dedupThreshold = 0.85
