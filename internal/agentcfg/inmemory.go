package agentcfg

import (
	"context"
	"strings"
	"sync"
)

// InMemoryStore serves agent configs from process memory. It backs local
// development and tests, and is the fallback when no database is configured.
type InMemoryStore struct {
	mu       sync.RWMutex
	byID     map[string]PerCallConfig
	byNumber map[string]string
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		byID:     make(map[string]PerCallConfig),
		byNumber: make(map[string]string),
	}
}

// Put registers a config and optionally binds it to a dialed number.
func (s *InMemoryStore) Put(cfg PerCallConfig, numbers ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[cfg.AgentID] = cfg
	for _, n := range numbers {
		n = strings.TrimSpace(n)
		if n != "" {
			s.byNumber[n] = cfg.AgentID
		}
	}
}

func (s *InMemoryStore) Resolve(_ context.Context, agentID, calleeNumber string) (PerCallConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if agentID == "" {
		bound, ok := s.byNumber[strings.TrimSpace(calleeNumber)]
		if !ok {
			return PerCallConfig{}, ErrNotFound
		}
		agentID = bound
	}
	cfg, ok := s.byID[agentID]
	if !ok {
		return PerCallConfig{}, ErrNotFound
	}
	return cfg, nil
}

func (s *InMemoryStore) Close() error { return nil }
