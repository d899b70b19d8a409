package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"
)

const connectTimeout = 2 * time.Second

// Client is a thin helper for hook-script-style consumers of the
// recollection endpoint (spec.md §4.8/§1: hook scripts are an external
// collaborator, but they all need this same connect-request-fallback
// shape, so it is exposed here rather than reimplemented per caller).
type Client struct {
	socketPath string
}

// NewClient wraps a socket path. It does not connect until Recollect is
// called.
func NewClient(socketPath string) *Client {
	return &Client{socketPath: socketPath}
}

// Recollect sends a recollect request and returns its bites. Callers
// needing the on-disk fallback (spec.md §4.8: "on ECONNREFUSED/ENOENT they
// fall back to the most recent on-disk recollection snapshot") should
// catch this error and read recollections/<sessionId>.json themselves via
// tailer.RecollectionsPath/Snapshot.
func (c *Client) Recollect(ctx context.Context, prompt, sessionID string) ([]Bite, error) {
	resp, err := c.call(ctx, request{Event: "recollect", Prompt: prompt, SessionID: sessionID})
	if err != nil {
		return nil, err
	}
	var out biteResponse
	if err := json.Unmarshal(resp, &out); err != nil {
		return nil, fmt.Errorf("ipc: decode recollect response: %w", err)
	}
	return out.Bites, nil
}

// SessionEnd notifies the daemon that a session has closed.
func (c *Client) SessionEnd(ctx context.Context, sessionID string) error {
	_, err := c.call(ctx, request{Event: "session_end", SessionID: sessionID})
	return err
}

func (c *Client) call(ctx context.Context, req request) ([]byte, error) {
	dialer := net.Dialer{Timeout: connectTimeout}
	conn, err := dialer.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return nil, fmt.Errorf("ipc: dial %s: %w", c.socketPath, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	} else {
		conn.SetDeadline(time.Now().Add(requestBudget))
	}

	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("ipc: marshal request: %w", err)
	}
	data = append(data, '\n')
	if _, err := conn.Write(data); err != nil {
		return nil, fmt.Errorf("ipc: write request: %w", err)
	}

	line, err := bufio.NewReaderSize(conn, maxRequestBytes).ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("ipc: read response: %w", err)
	}

	var errResp errResponse
	if json.Unmarshal(line, &errResp) == nil && errResp.Error != "" {
		return nil, fmt.Errorf("ipc: server error: %s", errResp.Error)
	}
	return line, nil
}
