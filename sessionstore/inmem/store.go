// Package inmem is a process-local session store.
package inmem

import (
	"context"
	"sync"

	"github.com/Gurpartap/promptgraph/agent"
	"github.com/Gurpartap/promptgraph/sessionstore"
)

// Store keeps sessions in memory. Concurrent saves to one id are last-writer-wins.
type Store struct {
	mu       sync.RWMutex
	sessions map[agent.SessionID]agent.Session
}

var _ agent.SessionStore = (*Store)(nil)

func New() *Store {
	return &Store{sessions: map[agent.SessionID]agent.Session{}}
}

func (s *Store) Save(_ context.Context, session agent.Session) error {
	if err := sessionstore.ValidateID(session.ID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[session.ID] = agent.CloneSession(session)
	return nil
}

func (s *Store) Load(_ context.Context, id agent.SessionID) (agent.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[id]
	if !ok {
		return agent.Session{}, agent.ErrSessionNotFound
	}
	return agent.CloneSession(session), nil
}

func (s *Store) List(_ context.Context) ([]agent.SessionInfo, error) {
	s.mu.RLock()
	infos := make([]agent.SessionInfo, 0, len(s.sessions))
	for _, session := range s.sessions {
		infos = append(infos, session.Info())
	}
	s.mu.RUnlock()

	sessionstore.SortInfos(infos)
	return infos, nil
}

func (s *Store) Delete(_ context.Context, id agent.SessionID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; !ok {
		return false, nil
	}
	delete(s.sessions, id)
	return true, nil
}
