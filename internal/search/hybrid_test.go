package search

import (
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/engramd/engramd/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestBuildMatchQueryDropsStopwordsAndPunctuation(t *testing.T) {
	got := buildMatchQuery("how do I configure the embedding provider?")
	want := "configure AND embedding AND provider"
	if got != want {
		t.Errorf("buildMatchQuery = %q, want %q", got, want)
	}
}

func TestHybridEmptyLexicalResultIsEmptyOutput(t *testing.T) {
	s := openTestStore(t)
	results, err := Hybrid(s, "nothing indexed yet", nil, 5, nil, time.Now(), Options{})
	if err != nil {
		t.Fatalf("Hybrid failed: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("len(results) = %d, want 0", len(results))
	}
}

func TestHybridSingleCandidateScoreIsWellDefined(t *testing.T) {
	s := openTestStore(t)
	path := "/home/user/.claude/memory/MEMORY.md"
	chunks := []*store.Chunk{
		{Path: path, Layer: store.LayerGlobal, StartLine: 1, EndLine: 5, Hash: "h1", Text: "atomic rename discipline", UpdatedAt: time.Now()},
	}
	if err := s.ReplaceChunksForPath(path, chunks); err != nil {
		t.Fatalf("ReplaceChunksForPath failed: %v", err)
	}

	results, err := Hybrid(s, "atomic rename", nil, 5, nil, time.Now(), Options{})
	if err != nil {
		t.Fatalf("Hybrid failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("len(results) = %d, want 1", len(results))
	}
	if math.IsNaN(results[0].Score) || math.IsInf(results[0].Score, 0) {
		t.Errorf("score = %v, want a finite number", results[0].Score)
	}
	// Sole candidate's lexical score must normalize to 1 (best, not worst):
	// with no query embedding the vector term is 0, so the fused score is
	// exactly the lexical weight (0.3) on this evergreen, undecayed chunk.
	if want := 0.3; math.Abs(results[0].Score-want) > 1e-9 {
		t.Errorf("score = %v, want %v (sole candidate should normalize lexical score to 1)", results[0].Score, want)
	}
}

func TestHybridFamilyFilterExcludesChunks(t *testing.T) {
	s := openTestStore(t)
	path := "/root/Projects/B/MEMORY.md"
	projB := "B"
	chunks := []*store.Chunk{
		{Path: path, Layer: store.LayerProject, Project: &projB, StartLine: 1, EndLine: 5, Hash: "h1", Text: "project specific knowledge base entry", UpdatedAt: time.Now()},
	}
	if err := s.ReplaceChunksForPath(path, chunks); err != nil {
		t.Fatalf("ReplaceChunksForPath failed: %v", err)
	}

	filter := func(project *string) bool { return project != nil && *project == "A" }
	results, err := Hybrid(s, "project specific knowledge", nil, 5, filter, time.Now(), Options{})
	if err != nil {
		t.Fatalf("Hybrid failed: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("len(results) = %d, want 0 (family filter should exclude project B)", len(results))
	}
}

func TestDecayMultiplierEvergreenVsDated(t *testing.T) {
	now := time.Now()
	old := now.Add(-60 * 24 * time.Hour)

	if m := decayMultiplier("/x/MEMORY.md", old, now); m != 1.0 {
		t.Errorf("MEMORY.md multiplier = %v, want 1.0 (evergreen)", m)
	}
	if m := decayMultiplier("/x/notes.md", old, now); m != 1.0 {
		t.Errorf("basename without date prefix multiplier = %v, want 1.0 (evergreen)", m)
	}

	dated := decayMultiplier("/x/2026-01-01.md", old, now)
	if dated <= 0 || dated >= 1.0 {
		t.Errorf("dated-60-day-old multiplier = %v, want in (0, 1)", dated)
	}

	fresh := decayMultiplier("/x/2026-07-29.md", now.Add(-1*time.Hour), now)
	if fresh <= dated {
		t.Errorf("fresh multiplier %v should exceed old multiplier %v", fresh, dated)
	}
}
