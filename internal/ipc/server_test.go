package ipc

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/engramd/engramd/internal/project"
	"github.com/engramd/engramd/internal/store"
	"github.com/engramd/engramd/internal/tailer"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestStateStore(t *testing.T) *tailer.StateStore {
	t.Helper()
	ss, err := tailer.LoadStateStore(filepath.Join(t.TempDir(), "state.json"))
	if err != nil {
		t.Fatalf("LoadStateStore: %v", err)
	}
	return ss
}

func startTestServer(t *testing.T, srv *Server) (context.CancelFunc, func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	ready := make(chan error, 1)
	go func() {
		ready <- srv.Serve(ctx)
	}()
	// Give Serve a moment to bind before a test dials.
	time.Sleep(20 * time.Millisecond)
	return cancel, func() {
		cancel()
		<-ready
	}
}

func TestRecollectReturnsEmptyBitesWhenNothingIndexed(t *testing.T) {
	s := openTestStore(t)
	socket := filepath.Join(t.TempDir(), "engram.sock")
	srv := New(socket, s, nil, project.NewFamilyCache(), newTestStateStore(t), 5)

	_, stop := startTestServer(t, srv)
	defer stop()

	client := NewClient(socket)
	bites, err := client.Recollect(context.Background(), "anything", "sess1")
	if err != nil {
		t.Fatalf("Recollect: %v", err)
	}
	if len(bites) != 0 {
		t.Fatalf("expected no bites, got %v", bites)
	}
}

func TestRecollectFindsIndexedChunk(t *testing.T) {
	s := openTestStore(t)
	path := "/home/user/.claude/memory/MEMORY.md"
	if err := s.ReplaceChunksForPath(path, []*store.Chunk{
		{Path: path, Layer: store.LayerGlobal, StartLine: 1, EndLine: 3, Hash: "h1", Text: "the build uses bazel", UpdatedAt: time.Now()},
	}); err != nil {
		t.Fatalf("ReplaceChunksForPath: %v", err)
	}

	socket := filepath.Join(t.TempDir(), "engram.sock")
	srv := New(socket, s, nil, project.NewFamilyCache(), newTestStateStore(t), 5)
	_, stop := startTestServer(t, srv)
	defer stop()

	client := NewClient(socket)
	bites, err := client.Recollect(context.Background(), "the build uses", "sess1")
	if err != nil {
		t.Fatalf("Recollect: %v", err)
	}
	if len(bites) != 1 || bites[0].Bite != "the build uses bazel" {
		t.Fatalf("unexpected bites: %+v", bites)
	}
}

func TestSessionEndDeletesState(t *testing.T) {
	s := openTestStore(t)
	states := newTestStateStore(t)
	if err := states.Put(tailer.SessionState{SessionID: "sess1", TranscriptPath: "/tmp/sess1.jsonl"}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	socket := filepath.Join(t.TempDir(), "engram.sock")
	srv := New(socket, s, nil, project.NewFamilyCache(), states, 5)
	_, stop := startTestServer(t, srv)
	defer stop()

	client := NewClient(socket)
	if err := client.SessionEnd(context.Background(), "sess1"); err != nil {
		t.Fatalf("SessionEnd: %v", err)
	}

	got := states.Get("sess1")
	if got.TranscriptPath != "" {
		t.Fatalf("expected session state to be cleared, got %+v", got)
	}
}

func TestUnknownEventReturnsError(t *testing.T) {
	s := openTestStore(t)
	socket := filepath.Join(t.TempDir(), "engram.sock")
	srv := New(socket, s, nil, project.NewFamilyCache(), newTestStateStore(t), 5)
	_, stop := startTestServer(t, srv)
	defer stop()

	client := NewClient(socket)
	_, err := client.call(context.Background(), request{Event: "bogus"})
	if err == nil {
		t.Fatal("expected an error for an unknown event")
	}
}

func TestParseRequestRejectsMissingEvent(t *testing.T) {
	if _, err := parseRequest([]byte(`{"prompt":"x"}`)); err != errMissingEvent {
		t.Fatalf("expected errMissingEvent, got %v", err)
	}
}
