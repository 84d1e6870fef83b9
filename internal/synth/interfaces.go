package synth

import (
	"context"
	"errors"
)

// ErrStreamClosed is returned by send methods after Close.
var ErrStreamClosed = errors.New("synth: stream closed")

type EventType string

const (
	EventAudio EventType = "audio"
	EventFinal EventType = "final"
	EventError EventType = "error"
)

// Event is one frame from the synthesis socket. AudioBase64 is mulaw 8kHz,
// ready to forward to the telephony leg without transcoding.
type Event struct {
	Type        EventType
	AudioBase64 string
	Code        string
	Detail      string
	Retryable   bool
}

type Settings struct {
	Stability       float64
	SimilarityBoost float64
	Speed           float64
}

// Stream is a live text-in/audio-out synthesis connection for one call.
type Stream interface {
	// SendText pushes a prosody chunk. tryTrigger asks the backend to start
	// generating without waiting for more text.
	SendText(ctx context.Context, text string, tryTrigger bool) error
	// Heartbeat sends a no-op chunk to keep an idle socket open between turns.
	Heartbeat(ctx context.Context) error
	// CloseInput signals end of text for the current utterance.
	CloseInput(ctx context.Context) error
	Events() <-chan Event
	Close() error
}

type Provider interface {
	StartStream(ctx context.Context, voiceID, modelID string, settings Settings) (Stream, error)
}
