package calllog

import (
	"context"
	"sync"

	"github.com/buildwithmomentum/ai-call-agent-sub000/internal/calls"
)

// InMemoryStore keeps finalized calls in process memory for local/dev use.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions []*calls.CallSession
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) Save(_ context.Context, session *calls.CallSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = append(s.sessions, session)
	return nil
}

// Recent returns up to limit most recently saved sessions, newest first.
func (s *InMemoryStore) Recent(limit int) []*calls.CallSession {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.sessions) {
		limit = len(s.sessions)
	}
	out := make([]*calls.CallSession, 0, limit)
	for i := len(s.sessions) - 1; i >= len(s.sessions)-limit; i-- {
		out = append(out, s.sessions[i])
	}
	return out
}

func (s *InMemoryStore) Close() error { return nil }
