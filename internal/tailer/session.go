package tailer

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/engramd/engramd/internal/config"
	"github.com/engramd/engramd/internal/events"
	"github.com/engramd/engramd/internal/extract"
	"github.com/engramd/engramd/internal/nats"
	"github.com/engramd/engramd/internal/project"
	"github.com/engramd/engramd/internal/store"
)

// pending is the in-memory, not-yet-committed accumulation for a session
// between batch extractions: bytes read past the persisted ByteOffset,
// buffered messages, and newly observed tool_use paths. It is discarded
// (never partially persisted) so a crash mid-accumulation just re-reads
// the same un-advanced byte range on restart rather than losing data.
type pending struct {
	bytesRead      int64
	messages       []Message
	paths          []string
	lastAppendAt   time.Time
	lastUserPrompt string
}

// Tailer supervises every session's transcript: offsets, debounce state,
// extraction batches, and recollection snapshots (spec.md §4.6). Batches
// for different sessions may run concurrently; a session's own batches
// are strictly serialized via its entry in sessionLocks.
type Tailer struct {
	cfg       *config.Config
	store     *store.Store
	embedder  extract.Embedder
	extractor *extract.Extractor
	families  *project.FamilyCache
	startedAt time.Time
	bus       *events.Bus

	mu           sync.Mutex
	sessionLocks map[string]*sync.Mutex
	pendingState map[string]*pending
	states       *StateStore
}

// New builds a Tailer bound to a loaded StateStore. startedAt anchors the
// startup-settle window.
func New(cfg *config.Config, s *store.Store, embedder extract.Embedder, extractor *extract.Extractor, families *project.FamilyCache, states *StateStore, startedAt time.Time) *Tailer {
	return &Tailer{
		cfg:          cfg,
		store:        s,
		embedder:     embedder,
		extractor:    extractor,
		families:     families,
		states:       states,
		startedAt:    startedAt,
		sessionLocks: map[string]*sync.Mutex{},
		pendingState: map[string]*pending{},
	}
}

// SetBus attaches the daemon's event bus so batch and discovery events get
// announced. A nil bus (or never calling SetBus) leaves every publish a
// no-op — the tailer works standalone too.
func (t *Tailer) SetBus(bus *events.Bus) {
	t.bus = bus
}

func (t *Tailer) lockFor(sessionID string) *sync.Mutex {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.sessionLocks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		t.sessionLocks[sessionID] = l
	}
	return l
}

func (t *Tailer) pendingFor(sessionID string) *pending {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.pendingState[sessionID]
	if !ok {
		p = &pending{}
		t.pendingState[sessionID] = p
	}
	return p
}

func (t *Tailer) resetPending(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.pendingState, sessionID)
}

// shouldTriggerBatch implements spec.md §4.6's trigger: message count
// threshold OR idle debounce elapsed since the last append.
func shouldTriggerBatch(messagesSinceExtraction int, lastAppendAt time.Time, cfg config.TailerConfig, now time.Time) bool {
	if messagesSinceExtraction == 0 {
		return false
	}
	if messagesSinceExtraction >= cfg.BatchThreshold {
		return true
	}
	if lastAppendAt.IsZero() {
		return false
	}
	return now.Sub(lastAppendAt) >= cfg.IdleDebounce
}

// settled reports whether the startup-settle window has elapsed, per
// spec.md §4.6: "a restart does not spam stale snapshots."
func (t *Tailer) settled(now time.Time) bool {
	return now.Sub(t.startedAt) >= t.cfg.Tailer.StartupSettle
}

// HandleFileEvent is called once per discovered write to a transcript
// file. It reads new bytes into the session's pending accumulator and
// runs a batch if the trigger condition fires. sessionID is derived by
// the caller from the file's base name.
func (t *Tailer) HandleFileEvent(ctx context.Context, sessionID, transcriptPath string, now time.Time) error {
	lock := t.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	state := t.states.Get(sessionID)
	state.SessionID = sessionID
	state.TranscriptPath = transcriptPath
	p := t.pendingFor(sessionID)

	offset := state.ByteOffset + p.bytesRead
	isFirstLine := offset == 0

	f, err := os.Open(transcriptPath)
	if err != nil {
		return fmt.Errorf("tailer: open transcript: %w", err)
	}
	defer f.Close()

	if _, err := f.Seek(offset, os.SEEK_SET); err != nil {
		return fmt.Errorf("tailer: seek transcript: %w", err)
	}

	read := ScanNewRecords(f, isFirstLine)
	p.bytesRead += read.NewOffset
	p.messages = append(p.messages, read.Messages...)
	if read.NewOffset > 0 {
		p.lastAppendAt = now
	}
	if read.LastUserPrompt != "" {
		p.lastUserPrompt = read.LastUserPrompt
	}
	for _, path := range read.Paths {
		p.paths = appendUniquePath(p.paths, path)
	}

	t.attributeProject(&state, p.paths)

	state.MessagesSinceExtraction = len(p.messages)
	if !shouldTriggerBatch(state.MessagesSinceExtraction, p.lastAppendAt, t.cfg.Tailer, now) {
		return t.states.Put(state)
	}

	return t.runBatch(ctx, &state, p, now)
}

// PublishSessionDiscovered announces a transcript file seen for the first
// time (spec.md §2's session-discovered event). Called by the Watcher,
// not HandleFileEvent itself, so idle re-sweeps of already-known sessions
// don't re-announce them.
func (t *Tailer) PublishSessionDiscovered(sessionID, transcriptPath string, now time.Time) {
	t.bus.PublishSessionDiscovered(nats.SessionDiscoveredMessage{
		SessionID:      sessionID,
		TranscriptPath: transcriptPath,
		Timestamp:      now,
	})
}

func appendUniquePath(paths []string, p string) []string {
	for _, existing := range paths {
		if existing == p {
			return paths
		}
	}
	return append(paths, p)
}
