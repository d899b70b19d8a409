// Package daemon is the process supervisor (C9): it constructs every
// other subsystem from a Config, drives spec.md §4.9's startup sequence,
// and owns the graceful-shutdown path on SIGINT/SIGTERM.
package daemon

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"

	"github.com/engramd/engramd/internal/config"
	"github.com/engramd/engramd/internal/consolidate"
	"github.com/engramd/engramd/internal/embed"
	"github.com/engramd/engramd/internal/events"
	"github.com/engramd/engramd/internal/extract"
	"github.com/engramd/engramd/internal/ipc"
	"github.com/engramd/engramd/internal/project"
	"github.com/engramd/engramd/internal/store"
	"github.com/engramd/engramd/internal/tailer"
)

// Daemon owns every subsystem's lifecycle from startup re-indexing
// through graceful shutdown.
type Daemon struct {
	cfg    *config.Config
	store  *store.Store
	health *Health

	embedChain   *embed.Chain
	families     *project.FamilyCache
	states       *tailer.StateStore
	tailer       *tailer.Tailer
	watcher      *tailer.Watcher
	consolidator *consolidate.Consolidator
	ipcServer    *ipc.Server
	bus          *events.Bus
	natsServer   *natsserver.Server
	metricsSrv   *http.Server

	startedAt time.Time
}

// New wires every subsystem from cfg but starts nothing yet; call Run to
// start and block until shutdown.
func New(cfg *config.Config) (*Daemon, error) {
	for _, dir := range []string{cfg.Home, cfg.ArchiveDir(), cfg.RecollectionsDir(), cfg.ModelsDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("daemon: create %s: %w", dir, err)
		}
	}

	s, err := store.Open(cfg.DBPath())
	if err != nil {
		return nil, fmt.Errorf("daemon: open store: %w", err)
	}

	var providers []embed.Provider
	if cfg.Embed.LocalModel != "" {
		providers = append(providers, embed.NewLocal(cfg.Embed.HostedURL, cfg.Embed.LocalModel, cfg.Embed.Dims))
	}
	if cfg.Embed.HostedURL != "" {
		providers = append(providers, embed.NewHosted(cfg.Embed.HostedURL, cfg.Embed.HostedModel, cfg.Embed.HostedKey, cfg.Embed.Dims))
	}
	providers = append(providers, embed.Null{})
	chain := embed.NewChain(s, providers...)

	chat := extract.NewChatClient(cfg.Extract.ChatURL, cfg.Extract.ChatModel, cfg.Extract.ChatKey)
	extractor := extract.New(s, chain, chat)

	families := project.NewFamilyCache()
	states, err := tailer.LoadStateStore(cfg.StateFile())
	if err != nil {
		return nil, fmt.Errorf("daemon: load state store: %w", err)
	}

	startedAt := time.Now()
	t := tailer.New(cfg, s, chain, extractor, families, states, startedAt)
	watcher := tailer.NewWatcher(t, cfg.Tailer.TranscriptsDir)

	consolidator := consolidate.New(cfg, s, chain, chat)

	ipcSrv := ipc.New(cfg.Server.SocketPath, s, chain, families, states, cfg.Tailer.RecollectTopK)

	return &Daemon{
		cfg:          cfg,
		store:        s,
		health:       NewHealth(startedAt),
		embedChain:   chain,
		families:     families,
		states:       states,
		tailer:       t,
		watcher:      watcher,
		consolidator: consolidator,
		ipcServer:    ipcSrv,
		startedAt:    startedAt,
	}, nil
}

// Run executes spec.md §4.9's startup sequence, blocks until ctx is
// canceled or a SIGINT/SIGTERM arrives, then shuts every subsystem down
// via shutdown.
func (d *Daemon) Run(ctx context.Context) error {
	if err := writePIDFile(d.cfg.PIDFile(), os.Getpid(), d.startedAt); err != nil {
		return err
	}
	defer removePIDFile(d.cfg.PIDFile())

	log.Printf("[DAEMON] starting, home=%s", d.cfg.Home)

	if err := reindexAll(ctx, d.store, d.cfg, d.embedChain); err != nil {
		log.Printf("[DAEMON] reindex: %v", err)
	}

	projects, err := d.store.ListProjects()
	if err != nil {
		return fmt.Errorf("daemon: list projects: %w", err)
	}
	d.families.Rebuild(projects)
	log.Printf("[DAEMON] family cache rebuilt for %d projects", len(projects))

	natsSrv, err := events.StartEmbeddedServer(d.cfg.Server.NATSPort)
	if err != nil {
		return fmt.Errorf("daemon: start event bus: %w", err)
	}
	d.natsServer = natsSrv

	bus, err := events.NewBus(natsSrv.ClientURL(), "daemon")
	if err != nil {
		log.Printf("[DAEMON] event bus connect: %v", err)
	}
	d.bus = bus
	d.tailer.SetBus(bus)
	d.consolidator.SetBus(bus)

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	go func() {
		if err := d.watcher.Run(runCtx); err != nil && runCtx.Err() == nil {
			log.Printf("[DAEMON] tailer watcher stopped: %v", err)
		}
	}()

	d.consolidator.Start()

	go func() {
		if err := d.ipcServer.Serve(runCtx); err != nil && runCtx.Err() == nil {
			log.Printf("[DAEMON] ipc server stopped: %v", err)
		}
	}()

	d.metricsSrv = &http.Server{Addr: d.cfg.Server.MetricsAddr, Handler: d.health.Handler()}
	go func() {
		log.Printf("[DAEMON] metrics listening on %s", d.cfg.Server.MetricsAddr)
		if err := d.metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[DAEMON] metrics server error: %v", err)
		}
	}()

	log.Println("[DAEMON] ready")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
		log.Println("[DAEMON] shutdown signal received")
	case <-runCtx.Done():
		log.Println("[DAEMON] context canceled")
	}

	cancelRun()
	return d.shutdown()
}

// shutdown tears every subsystem down with a 30s budget, in this order:
// consolidator, IPC server (which unlinks the socket), metrics HTTP
// server, event bus and embedded NATS server, and the DB last.
func (d *Daemon) shutdown() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	d.consolidator.Stop()

	if err := d.ipcServer.Close(); err != nil {
		log.Printf("[DAEMON] ipc close: %v", err)
	}

	if d.metricsSrv != nil {
		if err := d.metricsSrv.Shutdown(shutdownCtx); err != nil {
			log.Printf("[DAEMON] metrics shutdown: %v", err)
		}
	}

	d.bus.Close()
	if d.natsServer != nil {
		d.natsServer.Shutdown()
	}

	// StateStore persists on every Put/Delete already; nothing buffered
	// to flush here.
	if err := d.store.Close(); err != nil {
		log.Printf("[DAEMON] store close: %v", err)
	}

	log.Println("[DAEMON] shutdown complete")
	return nil
}
