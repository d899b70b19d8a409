// Package consolidate implements the consolidator (C7): a timer-driven
// cycle that graduates durable episodes into curated Markdown, compresses
// stale low-value episodes, and synthesizes/promotes beliefs.
package consolidate

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/engramd/engramd/internal/atomicfile"
	"github.com/engramd/engramd/internal/config"
	"github.com/engramd/engramd/internal/events"
	"github.com/engramd/engramd/internal/extract"
	"github.com/engramd/engramd/internal/nats"
	"github.com/engramd/engramd/internal/store"
)

// Embedder is the subset of embed.Provider the consolidator needs for
// belief-statement coherence checks.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Consolidator runs the periodic graduation/compression/belief cycle
// (spec.md §4.7) on a timer inside the daemon.
type Consolidator struct {
	cfg      *config.Config
	store    *store.Store
	embedder Embedder
	chat     *extract.ChatClient
	bus      *events.Bus

	globalLock *atomicfile.Lock

	mu           sync.Mutex
	projectLocks map[string]*atomicfile.Lock

	beliefCheckpoint time.Time

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New builds a Consolidator. embedder/chat may be nil: belief synthesis is
// skipped whenever either is absent (spec.md §4.7), but graduation and
// compression still run.
func New(cfg *config.Config, s *store.Store, embedder Embedder, chat *extract.ChatClient) *Consolidator {
	return &Consolidator{
		cfg:          cfg,
		store:        s,
		embedder:     embedder,
		chat:         chat,
		globalLock:   atomicfile.NewLock(cfg.GlobalMemoryPath()),
		projectLocks: map[string]*atomicfile.Lock{},
		stopCh:       make(chan struct{}),
	}
}

// SetBus attaches the daemon's event bus so each cycle's outcome gets
// announced. A nil bus (or never calling SetBus) leaves the publish a
// no-op.
func (c *Consolidator) SetBus(bus *events.Bus) {
	c.bus = bus
}

func (c *Consolidator) lockFor(path string) *atomicfile.Lock {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.projectLocks[path]
	if !ok {
		l = atomicfile.NewLock(path)
		c.projectLocks[path] = l
	}
	return l
}

// Start runs RunCycle on cfg.Consolid.Interval until Stop is called.
func (c *Consolidator) Start() {
	c.wg.Add(1)
	go c.loop()
}

func (c *Consolidator) loop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.Consolid.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.RunCycle(context.Background(), time.Now())
		}
	}
}

// Stop ends the timer loop. A cycle already in flight runs to completion.
func (c *Consolidator) Stop() {
	close(c.stopCh)
	c.wg.Wait()
}

// RunCycle runs every phase once. A phase's failure is logged and the next
// phase still runs (spec.md §4.7: "failures in any phase are logged and
// the next phase continues").
func (c *Consolidator) RunCycle(ctx context.Context, now time.Time) {
	var errs []string

	graduated, err := c.graduate(now)
	if err != nil {
		log.Printf("[CONSOLIDATE] graduation failed: %v", err)
		errs = append(errs, err.Error())
	}

	compressed, err := c.store.CompressStale(now.Add(-compressionAge))
	if err != nil {
		log.Printf("[CONSOLIDATE] compression failed: %v", err)
		errs = append(errs, err.Error())
	} else if compressed > 0 {
		log.Printf("[CONSOLIDATE] compressed %d stale episodes", compressed)
	}

	beliefsUpdated := 0
	if c.chat != nil && c.embedder != nil {
		beliefsUpdated, err = c.synthesizeBeliefs(ctx, now)
		if err != nil {
			log.Printf("[CONSOLIDATE] belief synthesis failed: %v", err)
			errs = append(errs, err.Error())
		}
	}

	if err := c.promoteBeliefs(now); err != nil {
		log.Printf("[CONSOLIDATE] belief promotion failed: %v", err)
		errs = append(errs, err.Error())
	}

	c.bus.PublishConsolidationCycle(nats.ConsolidationCycleMessage{
		GraduatedCount:  graduated,
		CompressedCount: compressed,
		BeliefsUpdated:  beliefsUpdated,
		Errors:          errs,
		Timestamp:       now,
	})
}
