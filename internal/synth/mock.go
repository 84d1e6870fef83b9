package synth

import (
	"context"
	"encoding/base64"
	"sync"
)

// MockProvider echoes sent text back as base64 "audio". Used by tests and
// by local runs without a synthesis API key.
type MockProvider struct{}

func NewMockProvider() *MockProvider { return &MockProvider{} }

func (p *MockProvider) StartStream(_ context.Context, _ string, _ string, _ Settings) (Stream, error) {
	return &mockStream{events: make(chan Event, 128)}, nil
}

type mockStream struct {
	mu     sync.Mutex
	closed bool
	events chan Event

	Sent []string
}

func (s *mockStream) SendText(_ context.Context, text string, _ bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStreamClosed
	}
	s.Sent = append(s.Sent, text)
	encoded := base64.StdEncoding.EncodeToString([]byte(text))
	s.events <- Event{Type: EventAudio, AudioBase64: encoded}
	return nil
}

func (s *mockStream) Heartbeat(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStreamClosed
	}
	return nil
}

func (s *mockStream) CloseInput(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStreamClosed
	}
	s.events <- Event{Type: EventFinal}
	return nil
}

func (s *mockStream) Events() <-chan Event { return s.events }

func (s *mockStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
	return nil
}
