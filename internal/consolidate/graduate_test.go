package consolidate

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/engramd/engramd/internal/config"
	"github.com/engramd/engramd/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "memory.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestConsolidator(t *testing.T) (*Consolidator, *config.Config) {
	t.Helper()
	s := openTestStore(t)
	cfg := &config.Config{Home: t.TempDir()}
	cfg.Consolid = config.ConsolidConfig{Interval: time.Hour, MaxGraduatedPerCycle: 10, MaxMemoryLines: 200}
	return New(cfg, s, nil, nil), cfg
}

func insertEpisode(t *testing.T, s *store.Store, e *store.Episode) {
	t.Helper()
	if e.ID == "" {
		id, err := store.NewEpisodeID()
		if err != nil {
			t.Fatal(err)
		}
		e.ID = id
	}
	if err := s.InsertEpisode(e); err != nil {
		t.Fatalf("InsertEpisode: %v", err)
	}
}

func TestGraduateAppendsAccessBasedCandidate(t *testing.T) {
	c, cfg := newTestConsolidator(t)
	now := time.Now()

	insertEpisode(t, c.store, &store.Episode{
		Scope:       store.ScopeGlobal,
		Summary:     "the build uses bazel",
		Importance:  store.ImportanceHigh,
		SourceType:  store.SourceAuto,
		AccessCount: 3,
		CreatedAt:   now,
	})

	if _, err := c.graduate(now); err != nil {
		t.Fatalf("graduate: %v", err)
	}

	data, err := readFileOrEmpty(cfg.GlobalMemoryPath())
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(data, "the build uses bazel") {
		t.Fatalf("expected graduated entry in MEMORY.md, got:\n%s", data)
	}
	if !strings.Contains(data, "## "+now.Format("2006-01-02")) {
		t.Fatalf("expected today's section heading, got:\n%s", data)
	}
}

func TestGraduateSkipsAlreadyPresentMarkerButStillMarksGraduated(t *testing.T) {
	c, cfg := newTestConsolidator(t)
	now := time.Now()

	ep := &store.Episode{
		Scope:       store.ScopeGlobal,
		Summary:     "episode already in file",
		Importance:  store.ImportanceHigh,
		SourceType:  store.SourceAuto,
		AccessCount: 5,
		CreatedAt:   now,
	}
	insertEpisode(t, c.store, ep)

	preexisting := "## " + now.Format("2006-01-02") + "\n\n<!-- " + ep.ID + " -->\n- episode already in file\n\n"
	if err := os.MkdirAll(filepath.Dir(cfg.GlobalMemoryPath()), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(cfg.GlobalMemoryPath(), []byte(preexisting), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := c.graduate(now); err != nil {
		t.Fatalf("graduate: %v", err)
	}

	data, _ := readFileOrEmpty(cfg.GlobalMemoryPath())
	if strings.Count(data, ep.ID) != 1 {
		t.Fatalf("expected the marker to appear exactly once, got:\n%s", data)
	}

	got, err := c.store.GetEpisode(ep.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.GraduatedAt == nil {
		t.Fatal("expected graduated_at to be set even though the entry pre-existed")
	}
}

func TestAppendGraduationEntriesReusesTodaySection(t *testing.T) {
	now := time.Now()
	heading := "## " + now.Format("2006-01-02")
	content := heading + "\n\n<!-- aaa -->\n- first\n\n"

	candidates := []*store.Episode{{ID: "bbb", Summary: "second"}}
	updated, ids := appendGraduationEntries(content, candidates, now)

	if strings.Count(updated, heading) != 1 {
		t.Fatalf("expected exactly one heading for today, got:\n%s", updated)
	}
	if len(ids) != 1 || ids[0] != "bbb" {
		t.Fatalf("unexpected graduated ids: %v", ids)
	}
}

func TestCapMemoryFileArchivesOldestSection(t *testing.T) {
	old := "## 2026-01-01\n\n<!-- old -->\n- old entry\n\n"
	recent := "## 2026-07-30\n\n<!-- new -->\n- new entry\n\n"
	content := old + recent

	live, archived := capMemoryFile(content, 4)
	if strings.Contains(live, "old entry") {
		t.Fatalf("expected the oldest section to be archived out of the live file, got:\n%s", live)
	}
	if !strings.Contains(live, "new entry") {
		t.Fatalf("expected the newest section to remain live, got:\n%s", live)
	}
	section, ok := archived["2026-01"]
	if !ok || !strings.Contains(section, "old entry") {
		t.Fatalf("expected the archived section under 2026-01, got: %v", archived)
	}
}

func TestCapMemoryFileNoopWhenUnderLimit(t *testing.T) {
	content := "## 2026-07-30\n\n<!-- a -->\n- entry\n\n"
	live, archived := capMemoryFile(content, 200)
	if live != content || archived != nil {
		t.Fatal("expected no change when content is under the line cap")
	}
}
