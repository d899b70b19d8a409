package tailer

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchDebounce coalesces bursts of writes to the same transcript file
// (an editor/CLI can emit several lines in a handful of milliseconds)
// before HandleFileEvent is called.
const watchDebounce = 300 * time.Millisecond

// idleSweepInterval re-checks every known session's idle debounce even
// when its transcript file stays quiet, since fsnotify never fires on
// its own for that case (spec.md §4.6: "idle debounce elapsed").
const idleSweepInterval = 5 * time.Second

var watchSkipDirs = map[string]bool{
	".git": true, "node_modules": true, ".cie": true,
}

// Watcher discovers transcript files under a directory tree and dispatches
// HandleFileEvent calls to a Tailer, both on fsnotify writes and on a
// periodic idle sweep.
type Watcher struct {
	tailer *Tailer
	root   string

	mu    sync.Mutex
	known map[string]string // transcript path -> sessionID
}

// NewWatcher builds a Watcher over root, rooted at the tailer's configured
// transcripts directory.
func NewWatcher(t *Tailer, root string) *Watcher {
	return &Watcher{tailer: t, root: root, known: map[string]string{}}
}

// Run watches root for new and modified *.jsonl transcript files until ctx
// is canceled, dispatching each to the Tailer. Sessions are discovered
// recursively since transcripts live under per-project subdirectories.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	w.addDirsRecursive(watcher, w.root)
	w.scanExisting()

	debounceTimers := map[string]*time.Timer{}
	fire := make(chan string, 64)

	sweep := time.NewTicker(idleSweepInterval)
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !strings.HasSuffix(event.Name, ".jsonl") {
				if event.Op&fsnotify.Create != 0 {
					if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
						w.addDirsRecursive(watcher, event.Name)
					}
				}
				continue
			}
			path := event.Name
			if t, ok := debounceTimers[path]; ok {
				t.Stop()
			}
			debounceTimers[path] = time.AfterFunc(watchDebounce, func() {
				select {
				case fire <- path:
				case <-ctx.Done():
				}
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Printf("[TAILER] watch error: %v", err)

		case path := <-fire:
			w.dispatch(ctx, path)

		case <-sweep.C:
			w.sweepIdle(ctx)
		}
	}
}

func (w *Watcher) addDirsRecursive(watcher *fsnotify.Watcher, root string) {
	_ = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsPermission(err) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		base := filepath.Base(path)
		if watchSkipDirs[base] || (strings.HasPrefix(base, ".") && base != filepath.Base(root)) {
			return filepath.SkipDir
		}
		if err := watcher.Add(path); err != nil && !os.IsPermission(err) {
			log.Printf("[TAILER] watch add %s: %v", path, err)
		}
		return nil
	})
}

func (w *Watcher) scanExisting() {
	_ = filepath.WalkDir(w.root, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if strings.HasSuffix(path, ".jsonl") {
			// Startup enumeration, not a live discovery: these sessions
			// already existed before the daemon started, so they aren't
			// announced.
			w.remember(path)
		}
		return nil
	})
}

func (w *Watcher) remember(path string) (sessionID string, isNew bool) {
	sessionID = strings.TrimSuffix(filepath.Base(path), ".jsonl")
	w.mu.Lock()
	_, known := w.known[path]
	w.known[path] = sessionID
	w.mu.Unlock()
	return sessionID, !known
}

func (w *Watcher) dispatch(ctx context.Context, path string) {
	sessionID, isNew := w.remember(path)
	if isNew {
		w.tailer.PublishSessionDiscovered(sessionID, path, time.Now())
	}
	if err := w.tailer.HandleFileEvent(ctx, sessionID, path, time.Now()); err != nil {
		log.Printf("[TAILER] handle %s: %v", path, err)
	}
}

// sweepIdle re-invokes HandleFileEvent for every known transcript so
// sessions that have gone quiet still cross the idle-debounce trigger;
// HandleFileEvent is a no-op past re-reading zero new bytes when nothing
// changed on disk.
func (w *Watcher) sweepIdle(ctx context.Context) {
	w.mu.Lock()
	paths := make(map[string]string, len(w.known))
	for p, id := range w.known {
		paths[p] = id
	}
	w.mu.Unlock()

	for path, sessionID := range paths {
		if err := w.tailer.HandleFileEvent(ctx, sessionID, path, time.Now()); err != nil {
			log.Printf("[TAILER] idle sweep %s: %v", path, err)
		}
	}
}
