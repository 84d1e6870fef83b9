package synth

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"testing"
)

type flakyStream struct {
	failSends int
	events    chan Event
	mu        sync.Mutex
	sent      []string
	closed    bool
}

func (s *flakyStream) SendText(_ context.Context, text string, _ bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSends > 0 {
		s.failSends--
		return errors.New("socket reset")
	}
	s.sent = append(s.sent, text)
	return nil
}

func (s *flakyStream) Heartbeat(context.Context) error  { return nil }
func (s *flakyStream) CloseInput(context.Context) error { return nil }
func (s *flakyStream) Events() <-chan Event             { return s.events }

func (s *flakyStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
	return nil
}

type flakyProvider struct {
	mu      sync.Mutex
	streams []*flakyStream
	// failSends applies to the first stream only
	failSends int
}

func (p *flakyProvider) StartStream(context.Context, string, string, Settings) (Stream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fail := 0
	if len(p.streams) == 0 {
		fail = p.failSends
	}
	s := &flakyStream{failSends: fail, events: make(chan Event, 8)}
	p.streams = append(p.streams, s)
	return s, nil
}

func TestReconnectingStreamRedialsOnceOnSendFailure(t *testing.T) {
	p := &flakyProvider{failSends: 1}
	r, err := NewReconnectingStream(context.Background(), p, "v", "m", Settings{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer r.Close()

	if err := r.SendText(context.Background(), "hello,", true); err != nil {
		t.Fatalf("send should succeed after redial: %v", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.streams) != 2 {
		t.Fatalf("want 2 underlying streams, got %d", len(p.streams))
	}
	second := p.streams[1]
	second.mu.Lock()
	defer second.mu.Unlock()
	if len(second.sent) != 1 || second.sent[0] != "hello," {
		t.Fatalf("chunk not replayed on fresh stream: %v", second.sent)
	}
}

func TestReconnectingStreamClosedSendsFail(t *testing.T) {
	p := &flakyProvider{}
	r, err := NewReconnectingStream(context.Background(), p, "v", "m", Settings{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := r.SendText(context.Background(), "late", false); !errors.Is(err, ErrStreamClosed) {
		t.Fatalf("want ErrStreamClosed, got %v", err)
	}
}

func TestMockStreamEchoesTextAsAudio(t *testing.T) {
	stream, err := NewMockProvider().StartStream(context.Background(), "v", "m", Settings{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer stream.Close()

	if err := stream.SendText(context.Background(), "good morning,", true); err != nil {
		t.Fatalf("send: %v", err)
	}
	ev := <-stream.Events()
	if ev.Type != EventAudio {
		t.Fatalf("want audio event, got %s", ev.Type)
	}
	decoded, err := base64.StdEncoding.DecodeString(ev.AudioBase64)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(decoded) != "good morning," {
		t.Fatalf("got %q", decoded)
	}

	if err := stream.CloseInput(context.Background()); err != nil {
		t.Fatalf("close input: %v", err)
	}
	if ev := <-stream.Events(); ev.Type != EventFinal {
		t.Fatalf("want final event, got %s", ev.Type)
	}
}
