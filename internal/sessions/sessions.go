// Package sessions provides in-memory session management for the
// conversational turn ledger tied to an AgentHandle.SessionID.
package sessions

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/agentoven/conductor/pkg/models"
)

// MemorySessionStore is a thread-safe in-memory implementation of the
// session ledger.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*models.Session // key: session ID
}

// NewMemorySessionStore creates a new in-memory session store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{
		sessions: make(map[string]*models.Session),
	}
}

// CreateSession stores a new session.
func (s *MemorySessionStore) CreateSession(_ context.Context, session *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[session.ID]; exists {
		return fmt.Errorf("session %s already exists", session.ID)
	}
	now := time.Now().UTC()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	session.UpdatedAt = now
	s.sessions[session.ID] = session
	return nil
}

// GetSession retrieves a session by ID.
func (s *MemorySessionStore) GetSession(_ context.Context, sessionID string) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("session %s not found", sessionID)
	}
	return session, nil
}

// UpdateSession replaces the session state.
func (s *MemorySessionStore) UpdateSession(_ context.Context, session *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[session.ID]; !exists {
		return fmt.Errorf("session %s not found", session.ID)
	}
	session.UpdatedAt = time.Now().UTC()
	s.sessions[session.ID] = session
	return nil
}

// AppendTurn appends a turn to agentID's most recently updated session,
// creating one if none exists. The gateway does not call it, so inbound
// events are not recorded as turns automatically.
func (s *MemorySessionStore) AppendTurn(_ context.Context, agentID, workstream string, turn models.SessionTurn) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var latest *models.Session
	for _, sess := range s.sessions {
		if sess.AgentID != agentID {
			continue
		}
		if latest == nil || sess.UpdatedAt.After(latest.UpdatedAt) {
			latest = sess
		}
	}
	now := time.Now().UTC()
	if latest == nil {
		latest = &models.Session{
			ID:         fmt.Sprintf("session-%s-%d", agentID, now.UnixNano()),
			AgentID:    agentID,
			Workstream: workstream,
			Status:     "active",
			CreatedAt:  now,
		}
		s.sessions[latest.ID] = latest
	}
	if turn.At.IsZero() {
		turn.At = now
	}
	latest.Turns = append(latest.Turns, turn)
	latest.UpdatedAt = now
	return latest, nil
}

// ListSessionsByAgent lists every session for an agent, most recently
// updated first.
func (s *MemorySessionStore) ListSessionsByAgent(_ context.Context, agentID string) ([]models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []models.Session
	for _, sess := range s.sessions {
		if sess.AgentID == agentID {
			result = append(result, *sess)
		}
	}
	for i := 1; i < len(result); i++ {
		for j := i; j > 0 && result[j].UpdatedAt.After(result[j-1].UpdatedAt); j-- {
			result[j], result[j-1] = result[j-1], result[j]
		}
	}
	return result, nil
}

// RecentTurns returns the last n turns of agentID's most recently
// updated session; turns of older sessions are not included.
func (s *MemorySessionStore) RecentTurns(ctx context.Context, agentID string, n int) ([]models.SessionTurn, error) {
	sessions, err := s.ListSessionsByAgent(ctx, agentID)
	if err != nil || len(sessions) == 0 {
		return nil, err
	}
	turns := sessions[0].Turns
	if len(turns) <= n {
		return turns, nil
	}
	return turns[len(turns)-n:], nil
}

// DeleteSession removes a session.
func (s *MemorySessionStore) DeleteSession(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[sessionID]; !exists {
		return fmt.Errorf("session %s not found", sessionID)
	}
	delete(s.sessions, sessionID)
	return nil
}
