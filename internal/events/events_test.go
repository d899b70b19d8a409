package events

import (
	"encoding/json"
	"testing"
	"time"

	nc "github.com/nats-io/nats.go"

	"github.com/engramd/engramd/internal/nats"
)

func startTestBus(t *testing.T) (*Bus, string) {
	t.Helper()
	srv, err := StartEmbeddedServer(-1)
	if err != nil {
		t.Fatalf("StartEmbeddedServer: %v", err)
	}
	t.Cleanup(srv.Shutdown)

	bus, err := NewBus(srv.ClientURL(), "test")
	if err != nil {
		t.Fatalf("NewBus: %v", err)
	}
	t.Cleanup(bus.Close)
	return bus, srv.ClientURL()
}

func TestPublishEpisodeUpsertedDeliversToSubscriber(t *testing.T) {
	bus, url := startTestBus(t)

	sub, err := nc.Connect(url)
	if err != nil {
		t.Fatalf("connect subscriber: %v", err)
	}
	defer sub.Close()

	received := make(chan nats.EpisodeUpsertedMessage, 1)
	_, err = sub.Subscribe(nats.SubjectEpisodeUpserted, func(m *nc.Msg) {
		var msg nats.EpisodeUpsertedMessage
		if err := json.Unmarshal(m.Data, &msg); err == nil {
			received <- msg
		}
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	sub.Flush()

	bus.PublishEpisodeUpserted(nats.EpisodeUpsertedMessage{
		EpisodeID: "ep1",
		SessionID: "sess1",
		Summary:   "the build uses bazel",
		Timestamp: time.Now(),
	})

	select {
	case msg := <-received:
		if msg.EpisodeID != "ep1" {
			t.Fatalf("unexpected message: %+v", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for published message")
	}
}

func TestNilBusPublishIsANoop(t *testing.T) {
	var bus *Bus
	bus.PublishEpisodeUpserted(nats.EpisodeUpsertedMessage{EpisodeID: "ep1"})
	bus.PublishSessionDiscovered(nats.SessionDiscoveredMessage{SessionID: "sess1"})
	bus.PublishConsolidationCycle(nats.ConsolidationCycleMessage{})
	bus.Close()
}
