package nats

import "time"

// Subject patterns for the daemon's internal event bus (spec.md §2: C6/C7
// publish, nothing in this spec currently requires a subscriber inside the
// daemon itself, but the bus exists for the dashboard/inspection CLI named
// in spec.md §1 as an external collaborator).
const (
	// SubjectEpisodeUpserted fires whenever the extractor upserts or
	// dedup-merges an episode.
	SubjectEpisodeUpserted = "engram.episode.upserted"

	// SubjectSessionDiscovered fires when the tailer's discovery watcher
	// sees a transcript file it has not seen before.
	SubjectSessionDiscovered = "engram.session.discovered"

	// SubjectConsolidationCycle fires once per consolidator tick,
	// summarizing what each phase did.
	SubjectConsolidationCycle = "engram.consolidation.cycle"
)

// EpisodeUpsertedMessage announces a new or merged episode.
type EpisodeUpsertedMessage struct {
	EpisodeID string    `json:"episode_id"`
	SessionID string    `json:"session_id"`
	Project   string    `json:"project,omitempty"`
	Summary   string    `json:"summary"`
	Merged    bool      `json:"merged"`
	Timestamp time.Time `json:"timestamp"`
}

// SessionDiscoveredMessage announces a newly observed transcript file.
type SessionDiscoveredMessage struct {
	SessionID      string    `json:"session_id"`
	TranscriptPath string    `json:"transcript_path"`
	Timestamp      time.Time `json:"timestamp"`
}

// ConsolidationCycleMessage summarizes one consolidator cycle.
type ConsolidationCycleMessage struct {
	GraduatedCount  int       `json:"graduated_count"`
	CompressedCount int       `json:"compressed_count"`
	BeliefsUpdated  int       `json:"beliefs_updated"`
	Errors          []string  `json:"errors,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}
