// Package ipc implements the recollection endpoint (C8): a local Unix
// domain stream socket, one request per connection, that serves ranked
// memory bites to hook-script-style consumers and accepts session-lifecycle
// events (session_end) from those same socket clients.
package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/engramd/engramd/internal/project"
	"github.com/engramd/engramd/internal/search"
	"github.com/engramd/engramd/internal/store"
	"github.com/engramd/engramd/internal/tailer"
)

const (
	idleTimeout     = 10 * time.Second
	maxRequestBytes = 64 * 1024
	requestBudget   = 240 * time.Millisecond
)

var errMissingEvent = errors.New("ipc: request missing event field")

// Embedder is the subset of embed.Provider the recollect handler needs.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Server owns the daemon's Unix domain socket (spec.md §4.8: mode 0600,
// path under the memory home).
type Server struct {
	socketPath string
	store      *store.Store
	embedder   Embedder
	families   *project.FamilyCache
	states     *tailer.StateStore
	topK       int

	listener net.Listener
}

// New builds a Server. It does not bind the socket; call Serve for that.
func New(socketPath string, s *store.Store, embedder Embedder, families *project.FamilyCache, states *tailer.StateStore, topK int) *Server {
	return &Server{
		socketPath: socketPath,
		store:      s,
		embedder:   embedder,
		families:   families,
		states:     states,
		topK:       topK,
	}
}

// Serve binds the socket (mode 0600, removing a stale one first) and
// accepts connections until ctx is canceled, handling each on its own
// goroutine (spec.md §5: "the IPC server handles each connection as its
// own task").
func (s *Server) Serve(ctx context.Context) error {
	if err := removeStaleSocket(s.socketPath); err != nil {
		return err
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("ipc: listen on %s: %w", s.socketPath, err)
	}
	if err := os.Chmod(s.socketPath, 0o600); err != nil {
		listener.Close()
		return fmt.Errorf("ipc: chmod socket: %w", err)
	}
	s.listener = listener

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("ipc: accept: %w", err)
		}
		go s.handleConn(ctx, conn)
	}
}

// Close unlinks the socket (spec.md §4.9: "on shutdown ... unlink the
// socket").
func (s *Server) Close() error {
	if s.listener != nil {
		s.listener.Close()
	}
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ipc: remove socket: %w", err)
	}
	return nil
}

func removeStaleSocket(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ipc: remove stale socket: %w", err)
	}
	return nil
}

// handleConn reads exactly one newline-terminated JSON request, dispatches
// it, writes one JSON response, and closes the connection (spec.md §4.8:
// "one request per connection").
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	connID := uuid.NewString()
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(idleTimeout))

	reader := bufio.NewReaderSize(io.LimitReader(conn, maxRequestBytes), maxRequestBytes)
	line, err := reader.ReadBytes('\n')
	if err != nil && len(line) == 0 {
		if err != io.EOF {
			log.Printf("[IPC] %s: read: %v", connID, err)
		}
		return
	}

	req, err := parseRequest(line)
	if err != nil {
		writeResponse(conn, errResponse{Error: err.Error()})
		return
	}

	reqCtx, cancel := context.WithTimeout(ctx, requestBudget)
	defer cancel()
	start := time.Now()

	resp, err := s.dispatch(reqCtx, req)
	if err != nil {
		log.Printf("[IPC] %s: %s failed: %v", connID, req.Event, err)
		writeResponse(conn, errResponse{Error: err.Error()})
		return
	}
	if elapsed := time.Since(start); elapsed > requestBudget {
		log.Printf("[IPC] %s: %s exceeded its %s budget (%s)", connID, req.Event, requestBudget, elapsed)
	}
	writeResponse(conn, resp)
}

func (s *Server) dispatch(ctx context.Context, req request) (interface{}, error) {
	switch req.Event {
	case "recollect":
		return s.handleRecollect(ctx, req)
	case "session_end":
		return s.handleSessionEnd(req)
	default:
		return nil, fmt.Errorf("unknown event %q", req.Event)
	}
}

// handleRecollect embeds the prompt, runs hybrid search scoped to the
// session's project family, and returns the top-K bites (spec.md §4.8).
func (s *Server) handleRecollect(ctx context.Context, req request) (interface{}, error) {
	if req.Prompt == "" {
		return biteResponse{Bites: []Bite{}}, nil
	}

	var queryEmbedding []float32
	if s.embedder != nil {
		if embeddings, err := s.embedder.Embed(ctx, []string{req.Prompt}); err == nil && len(embeddings) == 1 {
			queryEmbedding = embeddings[0]
		}
	}

	filter := s.familyFilter(req.SessionID)
	results, err := search.Hybrid(s.store, req.Prompt, queryEmbedding, s.topK, filter, time.Now(), search.Options{})
	if err != nil {
		return nil, fmt.Errorf("hybrid search: %w", err)
	}

	bites := make([]Bite, 0, len(results))
	for _, r := range results {
		bites = append(bites, Bite{ID: fmt.Sprintf("%d", r.Chunk.ID), Bite: r.Chunk.Text})
	}
	return biteResponse{Bites: bites}, nil
}

// handleSessionEnd drops a session's persisted tailer state, the
// TAILING -> CLOSED transition of spec.md §4.9's state machine.
func (s *Server) handleSessionEnd(req request) (interface{}, error) {
	if req.SessionID == "" || s.states == nil {
		return okResponse{OK: true}, nil
	}
	if err := s.states.Delete(req.SessionID); err != nil {
		return nil, fmt.Errorf("close session: %w", err)
	}
	return okResponse{OK: true}, nil
}

// familyFilter admits global chunks plus chunks whose project is in the
// requesting session's project family. An unknown session or a server
// without a family cache admits only global chunks.
func (s *Server) familyFilter(sessionID string) search.FamilyFilter {
	var family map[string]bool
	if sessionID != "" && s.states != nil && s.families != nil {
		state := s.states.Get(sessionID)
		if state.ProjectPath != "" {
			members := s.families.Family(state.ProjectPath)
			family = make(map[string]bool, len(members))
			for _, m := range members {
				family[m] = true
			}
		}
	}
	return func(p *string) bool {
		if p == nil {
			return true
		}
		return family[*p]
	}
}

func writeResponse(conn net.Conn, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("[IPC] marshal response: %v", err)
		return
	}
	data = append(data, '\n')
	conn.SetWriteDeadline(time.Now().Add(idleTimeout))
	if _, err := conn.Write(data); err != nil {
		log.Printf("[IPC] write response: %v", err)
	}
}
