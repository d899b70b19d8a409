package tailer

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/engramd/engramd/internal/atomicfile"
)

// StateStore persists every session's SessionState into the single
// engram-state.json file (spec.md §6), guarded by an atomicfile.Lock so
// concurrent per-session goroutines never interleave writes.
type StateStore struct {
	path string
	lock *atomicfile.Lock

	mu       sync.Mutex
	sessions map[string]*SessionState
}

// LoadStateStore reads path if it exists, or starts empty.
func LoadStateStore(path string) (*StateStore, error) {
	s := &StateStore{path: path, lock: atomicfile.NewLock(path), sessions: map[string]*SessionState{}}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("tailer: read state file: %w", err)
	}
	if len(data) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(data, &s.sessions); err != nil {
		return nil, fmt.Errorf("tailer: parse state file: %w", err)
	}
	return s, nil
}

// Get returns a copy of a session's state, or a zero-value state with the
// given id if it isn't known yet.
func (s *StateStore) Get(sessionID string) SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.sessions[sessionID]; ok {
		return *st
	}
	return SessionState{SessionID: sessionID}
}

// Delete removes a session's state (TAILING -> CLOSED, spec.md §4.9: file
// removed or session_end event) and persists the remaining store.
func (s *StateStore) Delete(sessionID string) error {
	s.mu.Lock()
	delete(s.sessions, sessionID)
	snapshot := make(map[string]*SessionState, len(s.sessions))
	for k, v := range s.sessions {
		snapshot[k] = v
	}
	s.mu.Unlock()

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("tailer: marshal state: %w", err)
	}
	return s.lock.WithLock(func() error {
		return atomicfile.WriteFile(s.path, data, 0o644)
	})
}

// Put replaces a session's state and persists the whole store atomically.
func (s *StateStore) Put(state SessionState) error {
	s.mu.Lock()
	s.sessions[state.SessionID] = &state
	snapshot := make(map[string]*SessionState, len(s.sessions))
	for k, v := range s.sessions {
		snapshot[k] = v
	}
	s.mu.Unlock()

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("tailer: marshal state: %w", err)
	}
	return s.lock.WithLock(func() error {
		return atomicfile.WriteFile(s.path, data, 0o644)
	})
}
