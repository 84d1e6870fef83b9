package agentcfg

import (
	"context"
	"errors"
	"testing"
)

func TestInMemoryResolveByID(t *testing.T) {
	s := NewInMemoryStore()
	s.Put(PerCallConfig{AgentID: "front-desk", Model: "gpt-4o-realtime-preview", Voice: "alloy", OutputMode: OutputNative})

	cfg, err := s.Resolve(context.Background(), "front-desk", "")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if cfg.Voice != "alloy" {
		t.Fatalf("Voice = %q, want alloy", cfg.Voice)
	}
}

func TestInMemoryResolveByNumber(t *testing.T) {
	s := NewInMemoryStore()
	s.Put(PerCallConfig{AgentID: "front-desk", Voice: "alloy"}, "+15550002222")

	cfg, err := s.Resolve(context.Background(), "", "+15550002222")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if cfg.AgentID != "front-desk" {
		t.Fatalf("AgentID = %q, want front-desk", cfg.AgentID)
	}
}

func TestInMemoryResolveMissing(t *testing.T) {
	s := NewInMemoryStore()
	if _, err := s.Resolve(context.Background(), "ghost", ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Resolve() error = %v, want ErrNotFound", err)
	}
	if _, err := s.Resolve(context.Background(), "", "+10000000000"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Resolve() by number error = %v, want ErrNotFound", err)
	}
}
