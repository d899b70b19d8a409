package store

import (
	"path/filepath"
	"testing"
	"time"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func projectEpisode(summary string) *Episode {
	project := "engramd"
	path := "/root/engramd"
	return &Episode{
		SessionID:   "sess-1",
		Project:     &project,
		ProjectPath: &path,
		Scope:       ScopeProject,
		Summary:     summary,
		Importance:  ImportanceNormal,
		SourceType:  SourceAuto,
	}
}

func TestInsertAndGetEpisode(t *testing.T) {
	s := setupTestStore(t)

	id, err := NewEpisodeID()
	if err != nil {
		t.Fatalf("NewEpisodeID failed: %v", err)
	}
	ep := projectEpisode("Use atomic rename for MEMORY.md writes")
	ep.ID = id

	if err := s.InsertEpisode(ep); err != nil {
		t.Fatalf("InsertEpisode failed: %v", err)
	}

	got, err := s.GetEpisode(id)
	if err != nil {
		t.Fatalf("GetEpisode failed: %v", err)
	}
	if got == nil {
		t.Fatal("GetEpisode returned nil")
	}
	if got.Summary != ep.Summary {
		t.Errorf("Summary = %q, want %q", got.Summary, ep.Summary)
	}
	if got.Scope != ScopeProject {
		t.Errorf("Scope = %q, want %q", got.Scope, ScopeProject)
	}
	if got.AccessCount != 0 {
		t.Errorf("AccessCount = %d, want 0", got.AccessCount)
	}
}

func TestUpdateEpisodeInPlaceIncrementsAccessCount(t *testing.T) {
	s := setupTestStore(t)

	id, _ := NewEpisodeID()
	ep := projectEpisode("old summary")
	ep.ID = id
	if err := s.InsertEpisode(ep); err != nil {
		t.Fatalf("InsertEpisode failed: %v", err)
	}

	vec := make([]float32, 768)
	vec[0] = 1.0
	if err := s.UpdateEpisodeInPlace(id, "new summary", nil, []string{"a", "b"}, ImportanceHigh, vec); err != nil {
		t.Fatalf("UpdateEpisodeInPlace failed: %v", err)
	}

	got, err := s.GetEpisode(id)
	if err != nil {
		t.Fatalf("GetEpisode failed: %v", err)
	}
	if got.Summary != "new summary" {
		t.Errorf("Summary = %q, want %q", got.Summary, "new summary")
	}
	if got.AccessCount != 1 {
		t.Errorf("AccessCount = %d, want 1", got.AccessCount)
	}
	if len(got.Embedding) != 768 {
		t.Errorf("len(Embedding) = %d, want 768", len(got.Embedding))
	}
}

func TestDedupCandidatesScoping(t *testing.T) {
	s := setupTestStore(t)
	vec := make([]float32, 4)

	globalEp := &Episode{Scope: ScopeGlobal, Summary: "global", Importance: ImportanceNormal, SourceType: SourceAuto, SessionID: "s"}
	id1, _ := NewEpisodeID()
	globalEp.ID = id1
	globalEp.Embedding = vec
	if err := s.InsertEpisode(globalEp); err != nil {
		t.Fatalf("insert global episode: %v", err)
	}

	otherProjectEp := projectEpisode("belongs to a different project")
	id2, _ := NewEpisodeID()
	otherProjectEp.ID = id2
	otherProject := "other"
	otherPath := "/root/other"
	otherProjectEp.Project = &otherProject
	otherProjectEp.ProjectPath = &otherPath
	otherProjectEp.Embedding = vec
	if err := s.InsertEpisode(otherProjectEp); err != nil {
		t.Fatalf("insert other-project episode: %v", err)
	}

	noEmbeddingEp := projectEpisode("has no embedding yet")
	id3, _ := NewEpisodeID()
	noEmbeddingEp.ID = id3
	if err := s.InsertEpisode(noEmbeddingEp); err != nil {
		t.Fatalf("insert no-embedding episode: %v", err)
	}

	candidates, err := s.DedupCandidates("engramd")
	if err != nil {
		t.Fatalf("DedupCandidates failed: %v", err)
	}
	if len(candidates) != 1 {
		t.Fatalf("len(candidates) = %d, want 1 (only the global episode)", len(candidates))
	}
	if candidates[0].ID != id1 {
		t.Errorf("candidate id = %s, want %s", candidates[0].ID, id1)
	}
}

func TestCompressStaleRespectsPredicate(t *testing.T) {
	s := setupTestStore(t)

	content := "full content that should be dropped"
	stale := projectEpisode("old, unaccessed, normal-importance episode")
	id, _ := NewEpisodeID()
	stale.ID = id
	stale.FullContent = &content
	stale.CreatedAt = time.Now().Add(-45 * 24 * time.Hour)
	if err := s.InsertEpisode(stale); err != nil {
		t.Fatalf("insert stale episode: %v", err)
	}

	fresh := projectEpisode("recent episode, must not be touched")
	id2, _ := NewEpisodeID()
	fresh.ID = id2
	fresh.FullContent = &content
	if err := s.InsertEpisode(fresh); err != nil {
		t.Fatalf("insert fresh episode: %v", err)
	}

	n, err := s.CompressStale(time.Now().Add(-30 * 24 * time.Hour))
	if err != nil {
		t.Fatalf("CompressStale failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("CompressStale affected %d rows, want 1", n)
	}

	got, _ := s.GetEpisode(id)
	if got.FullContent != nil {
		t.Error("stale episode's FullContent should be nil after compression")
	}
	got2, _ := s.GetEpisode(id2)
	if got2.FullContent == nil {
		t.Error("fresh episode's FullContent should survive compression")
	}
}

func TestReplaceChunksForPath(t *testing.T) {
	s := setupTestStore(t)

	path := "/home/user/.claude/memory/MEMORY.md"
	first := []*Chunk{
		{Path: path, Layer: LayerGlobal, StartLine: 1, EndLine: 10, Hash: "h1", Text: "first chunk", UpdatedAt: time.Now()},
		{Path: path, Layer: LayerGlobal, StartLine: 11, EndLine: 20, Hash: "h2", Text: "second chunk", UpdatedAt: time.Now()},
	}
	if err := s.ReplaceChunksForPath(path, first); err != nil {
		t.Fatalf("ReplaceChunksForPath failed: %v", err)
	}

	got, err := s.ListChunksByPath(path)
	if err != nil {
		t.Fatalf("ListChunksByPath failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len(chunks) = %d, want 2", len(got))
	}

	replacement := []*Chunk{
		{Path: path, Layer: LayerGlobal, StartLine: 1, EndLine: 30, Hash: "h3", Text: "merged chunk", UpdatedAt: time.Now()},
	}
	if err := s.ReplaceChunksForPath(path, replacement); err != nil {
		t.Fatalf("ReplaceChunksForPath (second) failed: %v", err)
	}

	got, err = s.ListChunksByPath(path)
	if err != nil {
		t.Fatalf("ListChunksByPath failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("len(chunks) after replace = %d, want 1", len(got))
	}
	if got[0].Hash != "h3" {
		t.Errorf("chunk hash = %q, want %q", got[0].Hash, "h3")
	}
}

func TestLexicalSearchFindsIndexedChunk(t *testing.T) {
	s := setupTestStore(t)

	path := "/home/user/.claude/memory/MEMORY.md"
	chunks := []*Chunk{
		{Path: path, Layer: LayerGlobal, StartLine: 1, EndLine: 10, Hash: "h1", Text: "atomic rename discipline for curated files", UpdatedAt: time.Now()},
		{Path: path, Layer: LayerGlobal, StartLine: 11, EndLine: 20, Hash: "h2", Text: "unrelated chunk about something else entirely", UpdatedAt: time.Now()},
	}
	if err := s.ReplaceChunksForPath(path, chunks); err != nil {
		t.Fatalf("ReplaceChunksForPath failed: %v", err)
	}

	hits, err := s.SearchChunksLexical("atomic AND rename", 10)
	if err != nil {
		t.Fatalf("SearchChunksLexical failed: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("len(hits) = %d, want 1", len(hits))
	}
	if hits[0].Chunk.Hash != "h1" {
		t.Errorf("hit hash = %q, want %q", hits[0].Chunk.Hash, "h1")
	}
}

func TestUpsertProjectAndList(t *testing.T) {
	s := setupTestStore(t)

	p := &Project{FullPath: "/root/Projects/A", Name: "A", Source: ProjectSourceAuto}
	if err := s.UpsertProject(p); err != nil {
		t.Fatalf("UpsertProject failed: %v", err)
	}

	parent := "/root/Projects/A"
	child := &Project{FullPath: "/root/Projects/A/sub", Name: "sub", Source: ProjectSourceAuto, ParentProject: &parent}
	if err := s.UpsertProject(child); err != nil {
		t.Fatalf("UpsertProject (child) failed: %v", err)
	}

	all, err := s.ListProjects()
	if err != nil {
		t.Fatalf("ListProjects failed: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("len(projects) = %d, want 2", len(all))
	}
}

func TestEmbeddingCacheRoundTrip(t *testing.T) {
	s := setupTestStore(t)

	hash := "deadbeef"
	miss, err := s.GetCachedEmbedding(hash)
	if err != nil {
		t.Fatalf("GetCachedEmbedding failed: %v", err)
	}
	if miss != nil {
		t.Fatal("expected cache miss on empty store")
	}

	vec := []float32{1, 2, 3}
	if err := s.PutCachedEmbedding(hash, vec); err != nil {
		t.Fatalf("PutCachedEmbedding failed: %v", err)
	}

	hit, err := s.GetCachedEmbedding(hash)
	if err != nil {
		t.Fatalf("GetCachedEmbedding (hit) failed: %v", err)
	}
	if len(hit) != 3 || hit[2] != 3 {
		t.Errorf("cached embedding = %v, want %v", hit, vec)
	}
}

func TestMetaRoundTrip(t *testing.T) {
	s := setupTestStore(t)

	version, ok, err := s.GetMeta("schema_version")
	if err != nil {
		t.Fatalf("GetMeta failed: %v", err)
	}
	if !ok {
		t.Fatal("expected schema_version to be seeded by schema.sql")
	}
	if version == "" {
		t.Error("schema_version should not be empty")
	}

	if err := s.SetMeta("consolidation_checkpoint", "2026-07-01T00:00:00Z"); err != nil {
		t.Fatalf("SetMeta failed: %v", err)
	}
	v, ok, err := s.GetMeta("consolidation_checkpoint")
	if err != nil {
		t.Fatalf("GetMeta failed: %v", err)
	}
	if !ok || v != "2026-07-01T00:00:00Z" {
		t.Errorf("GetMeta = (%q, %v), want checkpoint value", v, ok)
	}
}
