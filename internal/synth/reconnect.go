package synth

import (
	"context"
	"fmt"
	"log"
	"sync"
)

// ReconnectingStream wraps a provider stream and redials once when a send
// fails mid-call, so a dropped synthesis socket costs one chunk of latency
// instead of the whole call. Events from every underlying generation are
// funneled into a single channel.
type ReconnectingStream struct {
	provider Provider
	voiceID  string
	modelID  string
	settings Settings

	mu      sync.Mutex
	current Stream
	closed  bool

	events  chan Event
	quit    chan struct{}
	forward sync.WaitGroup
}

func NewReconnectingStream(ctx context.Context, provider Provider, voiceID, modelID string, settings Settings) (*ReconnectingStream, error) {
	r := &ReconnectingStream{
		provider: provider,
		voiceID:  voiceID,
		modelID:  modelID,
		settings: settings,
		events:   make(chan Event, 512),
		quit:     make(chan struct{}),
	}
	stream, err := provider.StartStream(ctx, voiceID, modelID, settings)
	if err != nil {
		return nil, err
	}
	r.adopt(stream)
	return r, nil
}

func (r *ReconnectingStream) adopt(s Stream) {
	r.current = s
	r.forward.Add(1)
	go func() {
		defer r.forward.Done()
		for ev := range s.Events() {
			select {
			case r.events <- ev:
			case <-r.quit:
				return
			}
		}
	}()
}

func (r *ReconnectingStream) SendText(ctx context.Context, text string, tryTrigger bool) error {
	return r.send(ctx, func(s Stream) error { return s.SendText(ctx, text, tryTrigger) })
}

func (r *ReconnectingStream) Heartbeat(ctx context.Context) error {
	return r.send(ctx, func(s Stream) error { return s.Heartbeat(ctx) })
}

func (r *ReconnectingStream) CloseInput(ctx context.Context) error {
	return r.send(ctx, func(s Stream) error { return s.CloseInput(ctx) })
}

// send tries once on the live stream and, on failure, redials a fresh one
// and retries a single time. A second failure surfaces to the caller.
func (r *ReconnectingStream) send(ctx context.Context, op func(Stream) error) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrStreamClosed
	}
	stream := r.current
	r.mu.Unlock()

	firstErr := op(stream)
	if firstErr == nil {
		return nil
	}

	log.Printf("synth: send failed, redialing: %v", firstErr)
	fresh, err := r.provider.StartStream(ctx, r.voiceID, r.modelID, r.settings)
	if err != nil {
		return fmt.Errorf("synth: redial after send failure: %v: %w", firstErr, err)
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		_ = fresh.Close()
		return ErrStreamClosed
	}
	old := r.current
	r.adopt(fresh)
	r.mu.Unlock()
	_ = old.Close()

	if err := op(fresh); err != nil {
		return fmt.Errorf("synth: send after redial: %w", err)
	}
	return nil
}

func (r *ReconnectingStream) Events() <-chan Event { return r.events }

func (r *ReconnectingStream) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	stream := r.current
	close(r.quit)
	r.mu.Unlock()

	err := stream.Close()
	r.forward.Wait()
	close(r.events)
	return err
}
