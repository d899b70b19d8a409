// Package tailer implements the session tailer (C6): it discovers
// transcript files, batches new messages per session, drives the
// Extractor, and refreshes each session's recollection snapshot.
package tailer

import "time"

// SessionState is the per-session bookkeeping persisted atomically to
// engram-state.json across restarts (spec.md §4.6).
type SessionState struct {
	SessionID                    string    `json:"sessionId"`
	TranscriptPath               string    `json:"transcriptPath"`
	ByteOffset                   int64     `json:"byteOffset"`
	MessagesSinceExtraction      int       `json:"messagesSinceExtraction"`
	LastExtractedAt              time.Time `json:"lastExtractedAt"`
	LastAppendAt                 time.Time `json:"lastAppendAt"`
	RollingSummary               string    `json:"rollingSummary"`
	FilePathsSinceLastExtraction []string  `json:"filePathsSinceLastExtraction"`
	LastUserPrompt               string    `json:"lastUserPrompt"`

	ProjectName   string `json:"projectName"`
	ProjectPath   string `json:"projectPath"`
	ProjectIsRoot bool   `json:"projectIsRoot"`
}
