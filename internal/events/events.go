// Package events is the daemon's internal event bus: an embedded NATS
// server plus a thin publish-only wrapper over internal/nats.Client,
// broadcasting episode-upserted, session-discovered, and
// consolidation-cycle notifications for the dashboard/inspection CLI
// (spec.md §1: an external collaborator this repo does not implement, but
// whose boundary this package defines).
package events

import (
	"fmt"
	"log"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"

	"github.com/engramd/engramd/internal/nats"
)

// StartEmbeddedServer starts an in-process NATS server on port (spec.md
// §4.9/§2: the daemon owns its own broker, no external NATS dependency).
// port -1 lets the OS pick an ephemeral port; the caller reads the actual
// port back via natsServer.Addr().
func StartEmbeddedServer(port int) (*natsserver.Server, error) {
	srv, err := natsserver.NewServer(&natsserver.Options{
		Port:     port,
		HTTPPort: -1,
		NoLog:    true,
		NoSigs:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("events: create embedded nats server: %w", err)
	}

	go srv.Start()
	if !srv.ReadyForConnections(5 * time.Second) {
		return nil, fmt.Errorf("events: embedded nats server did not become ready")
	}
	return srv, nil
}

// Bus publishes daemon lifecycle events. A nil *Bus is valid and every
// Publish* method becomes a no-op: nothing in this spec requires a
// subscriber to be present, so a bus that failed to connect must never
// block the tailer or consolidator it instruments.
type Bus struct {
	client *nats.Client
}

// NewBus connects to a NATS URL (typically the embedded server started by
// StartEmbeddedServer) as clientID.
func NewBus(url, clientID string) (*Bus, error) {
	client, err := nats.NewClient(url, clientID)
	if err != nil {
		return nil, fmt.Errorf("events: connect: %w", err)
	}
	return &Bus{client: client}, nil
}

// Close disconnects the bus. Safe to call on a nil *Bus.
func (b *Bus) Close() {
	if b == nil || b.client == nil {
		return
	}
	b.client.Close()
}

// PublishEpisodeUpserted announces a new or merged episode.
func (b *Bus) PublishEpisodeUpserted(msg nats.EpisodeUpsertedMessage) {
	b.publish(nats.SubjectEpisodeUpserted, msg)
}

// PublishSessionDiscovered announces a newly observed transcript file.
func (b *Bus) PublishSessionDiscovered(msg nats.SessionDiscoveredMessage) {
	b.publish(nats.SubjectSessionDiscovered, msg)
}

// PublishConsolidationCycle announces the outcome of one consolidator
// tick.
func (b *Bus) PublishConsolidationCycle(msg nats.ConsolidationCycleMessage) {
	b.publish(nats.SubjectConsolidationCycle, msg)
}

func (b *Bus) publish(subject string, msg interface{}) {
	if b == nil || b.client == nil {
		return
	}
	if err := b.client.PublishJSON(subject, msg); err != nil {
		log.Printf("[EVENTS] publish %s: %v", subject, err)
	}
}
