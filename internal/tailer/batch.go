package tailer

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/engramd/engramd/internal/extract"
	"github.com/engramd/engramd/internal/nats"
	"github.com/engramd/engramd/internal/project"
)

// projectInferThreshold is spec.md §4.4's majority-vote threshold, reused
// here for the session tailer's per-chunk project override (spec.md
// §4.6 step 2).
const projectInferThreshold = 0.6

// attributeProject resolves a session's project once (from the
// transcript's recorded cwd) and, for sessions whose cwd is itself a
// configured root, re-attributes per batch from the tool_use paths seen
// so far (spec.md §4.6 step 2).
func (t *Tailer) attributeProject(state *SessionState, paths []string) {
	if state.ProjectPath == "" {
		cwd, ok, err := project.ScanTranscriptCWD(state.TranscriptPath)
		if err != nil || !ok {
			return
		}
		if isConfiguredRoot(cwd, t.cfg.ProjectRoots) {
			state.ProjectPath = cwd
			state.ProjectIsRoot = true
			return
		}
		if dir, ok := project.FromWorkingDir(cwd); ok {
			state.ProjectName = filepath.Base(dir)
			state.ProjectPath = dir
			state.ProjectIsRoot = false
			return
		}
		state.ProjectName = filepath.Base(cwd)
		state.ProjectPath = cwd
		state.ProjectIsRoot = false
		return
	}

	if state.ProjectIsRoot && len(paths) >= 2 {
		if resolved := project.Infer(paths, t.cfg.ProjectRoots, projectInferThreshold); resolved != nil && !resolved.IsRoot {
			state.ProjectName = resolved.Name
			state.ProjectPath = resolved.FullPath
		}
	}
}

// publishUpserts announces every non-skipped outcome from a batch's
// dedup-upsert pass (spec.md §2's episode-upserted event).
func (t *Tailer) publishUpserts(state *SessionState, outcomes []extract.UpsertOutcome, now time.Time) {
	for _, o := range outcomes {
		if o.Skipped {
			continue
		}
		t.bus.PublishEpisodeUpserted(nats.EpisodeUpsertedMessage{
			EpisodeID: o.EpisodeID,
			SessionID: state.SessionID,
			Project:   state.ProjectName,
			Summary:   o.Candidate.Summary,
			Merged:    o.Matched,
			Timestamp: now,
		})
	}
}

func isConfiguredRoot(dir string, roots []string) bool {
	clean := filepath.Clean(dir)
	for _, r := range roots {
		if filepath.Clean(r) == clean {
			return true
		}
	}
	return false
}

// runBatch runs the per-batch algorithm of spec.md §4.6 steps 3-6: call
// the Extractor, dedup-upsert every candidate (done inside the Extractor),
// refresh the recollection snapshot, then commit the session's state.
func (t *Tailer) runBatch(ctx context.Context, state *SessionState, p *pending, now time.Time) error {
	result, outcomes := t.extractor.ExtractBatch(ctx, state.RollingSummary, state.ProjectName, state.ProjectPath, toExtractMessages(p.messages))
	t.publishUpserts(state, outcomes, now)

	state.RollingSummary = result.UpdatedSummary
	state.LastExtractedAt = now
	state.MessagesSinceExtraction = 0
	state.FilePathsSinceLastExtraction = nil
	if p.lastUserPrompt != "" {
		state.LastUserPrompt = p.lastUserPrompt
	}
	state.ByteOffset += p.bytesRead

	if t.settled(now) {
		if err := t.RefreshRecollection(ctx, *state, now); err != nil {
			return fmt.Errorf("tailer: refresh recollection: %w", err)
		}
	}

	if err := t.states.Put(*state); err != nil {
		return fmt.Errorf("tailer: persist session state: %w", err)
	}
	t.resetPending(state.SessionID)
	return nil
}
