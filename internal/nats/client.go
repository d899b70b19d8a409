package nats

import (
	"encoding/json"
	"fmt"
	"time"

	nc "github.com/nats-io/nats.go"
)

// Client wraps a NATS connection for the daemon's publish-only event bus
// (internal/events.Bus). It only needs to publish, never subscribe: the
// daemon announces episode-upserted/session-discovered/consolidation-cycle
// events for an external collaborator, it never consumes them itself.
type Client struct {
	conn     *nc.Conn
	clientID string
}

// NewClient creates a new NATS client with reconnect handling. clientID
// identifies this connection in server logs and reconnect/disconnect
// messages (e.g. "tailer", "consolidator", "ipc").
func NewClient(url string, clientID string) (*Client, error) {
	opts := []nc.Option{
		nc.Name(clientID),
		nc.ReconnectWait(2 * time.Second),
		nc.MaxReconnects(-1),
		nc.DisconnectErrHandler(func(conn *nc.Conn, err error) {
			if err != nil {
				fmt.Printf("[NATS] %s disconnected: %v\n", clientID, err)
			}
		}),
		nc.ReconnectHandler(func(conn *nc.Conn) {
			fmt.Printf("[NATS] %s reconnected to %s\n", clientID, conn.ConnectedUrl())
		}),
		nc.ClosedHandler(func(conn *nc.Conn) {
			fmt.Printf("[NATS] %s connection closed\n", clientID)
		}),
	}

	conn, err := nc.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &Client{conn: conn, clientID: clientID}, nil
}

// Close closes the NATS connection
func (c *Client) Close() {
	if c.conn != nil {
		c.conn.Close()
	}
}

// Publish publishes data to a subject
func (c *Client) Publish(subject string, data []byte) error {
	if err := c.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	return nil
}

// PublishJSON publishes a JSON-encoded message to a subject
func (c *Client) PublishJSON(subject string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return c.Publish(subject, data)
}
